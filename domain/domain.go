package domain

import "errors"

const (
	TypeStreamer          = "streamer"
	TypeStreamerAck       = "streamer-ack"
	TypeViewer            = "viewer"
	TypeViewerAck         = "viewer-ack"
	TypeOffer             = "offer"
	TypeAnswer            = "answer"
	TypeCandidate         = "candidate"
	TypeBroadcasterClosed = "broadcaster-closed"
)

// Close codes sent to clients. 4000 is application-defined so a rejected
// second streamer can tell the rejection apart from a generic disconnect.
const (
	CloseStreamerTaken   = 4000
	CloseGoingAway       = 1001
	ClosePolicyViolation = 1008
	CloseTryAgainLater   = 1013
)

var (
	ErrStreamerTaken    = errors.New("streamer already connected")
	ErrRoleAssigned     = errors.New("role already assigned")
	ErrConnectionClosed = errors.New("connection closed")
)

// Message is the envelope the relay itself produces: acks, errors and the
// broadcaster-closed notification. Relayed messages are never re-encoded.
type Message struct {
	Type  string `json:"type,omitempty"`
	Error string `json:"error,omitempty"`
}

type Role int

const (
	RoleUnassigned Role = iota
	RoleStreamer
	RoleViewer
)

func (r Role) String() string {
	switch r {
	case RoleStreamer:
		return "streamer"
	case RoleViewer:
		return "viewer"
	default:
		return "unassigned"
	}
}

type State int32

const (
	StateOpen State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

type Stats struct {
	Connections int  `json:"connections"`
	Viewers     int  `json:"viewers"`
	Streamer    bool `json:"streamer"`
}

type Connection interface {
	ID() string
	State() State
	// Send queues data for delivery and never waits on the remote peer.
	Send(data []byte) error
	// Close queues a close frame behind any pending sends.
	Close(code int, reason string) error
}

type Registry interface {
	Register(conn Connection)
	Unregister(conn Connection)
	ClaimStreamer(conn Connection) error
	AddViewer(conn Connection) (added bool, err error)
	RoleOf(conn Connection) Role
	BroadcastToViewers(data []byte) int
	SendToStreamer(data []byte) bool
	CloseAll(code int, reason string) int
	Stats() Stats
}

type MessageHandler interface {
	Handle(conn Connection, data []byte)
	HandleError(conn Connection, err error)
}
