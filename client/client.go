// Package client is a Go client for the signaling relay.
//
// A Client joins as streamer or viewer and exchanges WebRTC session
// descriptions and ICE candidates through the relay. The relay forwards
// payloads verbatim, so both sides use the browser JSON shapes:
//
//	{"type":"offer","sdp":"..."}
//	{"type":"answer","sdp":"..."}
//	{"type":"candidate","candidate":{"candidate":"...","sdpMid":"0","sdpMLineIndex":0}}
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
)

const writeWait = 10 * time.Second

var (
	ErrRejected       = errors.New("relay rejected request")
	ErrUnexpectedType = errors.New("unexpected message type")
)

// CloseError reports a close frame received from the relay. Code 4000 means
// another streamer is already connected.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("relay closed connection: %d %s", e.Code, e.Reason)
}

// Event is one message received from the relay. Raw keeps the exact bytes.
type Event struct {
	Type  string `json:"type,omitempty"`
	Error string `json:"error,omitempty"`
	Raw   []byte `json:"-"`
}

func (e Event) SessionDescription() (webrtc.SessionDescription, error) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(e.Raw, &desc); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("decode session description: %w", err)
	}
	return desc, nil
}

func (e Event) Candidate() (webrtc.ICECandidateInit, error) {
	var msg candidateMessage
	if err := json.Unmarshal(e.Raw, &msg); err != nil {
		return webrtc.ICECandidateInit{}, fmt.Errorf("decode candidate: %w", err)
	}
	return msg.Candidate, nil
}

type candidateMessage struct {
	Type      string                  `json:"type"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

type Client struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &Client{ws: conn}, nil
}

func (c *Client) JoinAsStreamer(ctx context.Context) error {
	return c.join(ctx, "streamer", "streamer-ack")
}

func (c *Client) JoinAsViewer(ctx context.Context) error {
	return c.join(ctx, "viewer", "viewer-ack")
}

func (c *Client) join(ctx context.Context, role, ack string) error {
	if err := c.sendJSON(map[string]string{"type": role}); err != nil {
		return err
	}
	ev, err := c.Receive(ctx)
	if err != nil {
		return err
	}
	if ev.Error != "" {
		return fmt.Errorf("%w: %s", ErrRejected, ev.Error)
	}
	if ev.Type != ack {
		return fmt.Errorf("%w: %q while waiting for %q", ErrUnexpectedType, ev.Type, ack)
	}
	return nil
}

func (c *Client) SendOffer(desc webrtc.SessionDescription) error {
	if desc.Type != webrtc.SDPTypeOffer {
		return fmt.Errorf("%w: %s is not an offer", ErrUnexpectedType, desc.Type)
	}
	return c.sendJSON(desc)
}

func (c *Client) SendAnswer(desc webrtc.SessionDescription) error {
	if desc.Type != webrtc.SDPTypeAnswer {
		return fmt.Errorf("%w: %s is not an answer", ErrUnexpectedType, desc.Type)
	}
	return c.sendJSON(desc)
}

func (c *Client) SendCandidate(init webrtc.ICECandidateInit) error {
	return c.sendJSON(candidateMessage{Type: "candidate", Candidate: init})
}

// Send writes a raw text frame.
func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (c *Client) sendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	return c.Send(data)
}

// Receive blocks for the next message. Cancelling ctx aborts the read and
// leaves the client unusable.
func (c *Client) Receive(ctx context.Context) (Event, error) {
	if deadline, ok := ctx.Deadline(); ok {
		c.ws.SetReadDeadline(deadline)
	} else {
		c.ws.SetReadDeadline(time.Time{})
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			// Deadlines on the underlying net.Conn are safe to set while
			// ReadMessage is blocked.
			c.ws.NetConn().SetReadDeadline(time.Now())
		case <-done:
		}
	}()

	_, data, err := c.ws.ReadMessage()
	if err != nil {
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) {
			return Event{}, &CloseError{Code: closeErr.Code, Reason: closeErr.Text}
		}
		if ctx.Err() != nil {
			return Event{}, ctx.Err()
		}
		return Event{}, fmt.Errorf("read: %w", err)
	}

	ev := Event{Raw: data}
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("decode message: %w", err)
	}
	return ev, nil
}

// Close sends a normal close frame and drops the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.mu.Unlock()
	return c.ws.Close()
}
