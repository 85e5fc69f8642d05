package protocol

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/thankyoucode/livekit-webstream/domain"
	"github.com/thankyoucode/livekit-webstream/metrics"
)

// Mode selects how messages other than role declarations are routed.
type Mode string

const (
	// ModeStrict routes offer, answer and candidate by type and answers any
	// other type with an error.
	ModeStrict Mode = "strict"
	// ModePermissive relays every non-role message by sender role: from the
	// streamer to all viewers, from anyone else to the streamer.
	ModePermissive Mode = "permissive"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeStrict, ModePermissive:
		return Mode(s), nil
	case "":
		return ModeStrict, nil
	default:
		return "", fmt.Errorf("unknown protocol mode %q", s)
	}
}

type Handler struct {
	registry domain.Registry
	mode     Mode
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

type Option func(*Handler)

func WithMode(mode Mode) Option {
	return func(h *Handler) { h.mode = mode }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

func NewHandler(r domain.Registry, opts ...Option) *Handler {
	h := &Handler{
		registry: r,
		mode:     ModeStrict,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("mod", "protocol")
	return h
}

func (h *Handler) Handle(conn domain.Connection, data []byte) {
	env, err := Decode(data)
	if err != nil {
		h.logger.Debug("invalid message", "clientId", conn.ID(), "error", err)
		if errors.Is(err, ErrInvalidJSON) {
			h.reject(conn, metrics.ReasonInvalidJSON, errTextInvalidJSON)
		} else {
			h.reject(conn, metrics.ReasonInvalidType, errTextInvalidType)
		}
		return
	}
	h.metrics.Message(env.Kind.String())

	switch env.Kind {
	case KindStreamer:
		h.handleStreamer(conn)
	case KindViewer:
		h.handleViewer(conn)
	default:
		if h.mode == ModePermissive {
			h.relayByRole(conn, env)
			return
		}
		h.route(conn, env)
	}
}

// HandleError only logs; the connection's close path deregisters it.
func (h *Handler) HandleError(conn domain.Connection, err error) {
	h.logger.Error("connection error", "clientId", conn.ID(), "error", err)
}

func (h *Handler) handleStreamer(conn domain.Connection) {
	err := h.registry.ClaimStreamer(conn)
	switch {
	case errors.Is(err, domain.ErrStreamerTaken):
		h.logger.Warn("streamer rejected", "clientId", conn.ID())
		h.reject(conn, metrics.ReasonStreamerTaken, errTextStreamerTaken)
		conn.Close(domain.CloseStreamerTaken, errTextStreamerTaken)
	case errors.Is(err, domain.ErrRoleAssigned):
		h.reject(conn, metrics.ReasonRoleAssigned, errTextRoleAssigned)
	case err != nil:
		h.logger.Error("claim streamer", "clientId", conn.ID(), "error", err)
	default:
		h.reply(conn, domain.Message{Type: domain.TypeStreamerAck})
	}
}

func (h *Handler) handleViewer(conn domain.Connection) {
	if _, err := h.registry.AddViewer(conn); err != nil {
		h.reject(conn, metrics.ReasonRoleAssigned, errTextRoleAssigned)
		return
	}
	h.reply(conn, domain.Message{Type: domain.TypeViewerAck})
}

func (h *Handler) route(conn domain.Connection, env Envelope) {
	switch env.Kind {
	case KindOffer:
		h.relayed(env, h.registry.BroadcastToViewers(env.Raw))
	case KindAnswer:
		h.relayed(env, h.toStreamer(env.Raw))
	case KindCandidate:
		h.relayByRole(conn, env)
	default:
		h.reject(conn, metrics.ReasonUnknownType, errTextUnknownType)
	}
}

func (h *Handler) relayByRole(conn domain.Connection, env Envelope) {
	if h.registry.RoleOf(conn) == domain.RoleStreamer {
		h.relayed(env, h.registry.BroadcastToViewers(env.Raw))
		return
	}
	h.relayed(env, h.toStreamer(env.Raw))
}

func (h *Handler) toStreamer(data []byte) int {
	if h.registry.SendToStreamer(data) {
		return 1
	}
	return 0
}

func (h *Handler) relayed(env Envelope, recipients int) {
	h.metrics.Relayed(env.Kind.String(), recipients)
	if recipients == 0 {
		h.logger.Debug("message dropped", "type", env.Type)
	}
}

func (h *Handler) reject(conn domain.Connection, reason, text string) {
	h.metrics.Rejected(reason)
	h.reply(conn, domain.Message{Error: text})
}

func (h *Handler) reply(conn domain.Connection, msg domain.Message) {
	if err := conn.Send(encode(msg)); err != nil {
		h.logger.Warn("reply failed", "clientId", conn.ID(), "error", err)
	}
}
