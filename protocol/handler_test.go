package protocol

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thankyoucode/livekit-webstream/domain"
	"github.com/thankyoucode/livekit-webstream/hub"
	"github.com/thankyoucode/livekit-webstream/metrics"
)

type mockConn struct {
	id          string
	state       domain.State
	sent        [][]byte
	closeCode   int
	closeReason string
	mu          sync.Mutex
}

func newConn(id string) *mockConn {
	return &mockConn{id: id, state: domain.StateOpen}
}

func (m *mockConn) ID() string { return m.id }

func (m *mockConn) State() domain.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *mockConn) Send(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == domain.StateClosed {
		return domain.ErrConnectionClosed
	}
	m.sent = append(m.sent, data)
	return nil
}

func (m *mockConn) Close(code int, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = domain.StateClosing
	m.closeCode = code
	m.closeReason = reason
	return nil
}

func (m *mockConn) getSent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent
}

func (m *mockConn) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}

type relay struct {
	hub     *hub.Hub
	handler *Handler
}

func newRelay(opts ...Option) *relay {
	h := hub.New()
	return &relay{hub: h, handler: NewHandler(h, opts...)}
}

func (r *relay) connect(id string) *mockConn {
	c := newConn(id)
	r.hub.Register(c)
	return c
}

func (r *relay) send(c *mockConn, msg string) {
	r.handler.Handle(c, []byte(msg))
}

func (r *relay) close(c *mockConn) {
	c.mu.Lock()
	c.state = domain.StateClosed
	c.mu.Unlock()
	r.hub.Unregister(c)
}

func (r *relay) setup(t *testing.T, viewers ...string) (*mockConn, []*mockConn) {
	t.Helper()
	s := r.connect("streamer")
	r.send(s, `{"type":"streamer"}`)
	require.Len(t, s.getSent(), 1)
	s.reset()

	var vs []*mockConn
	for _, id := range viewers {
		v := r.connect(id)
		r.send(v, `{"type":"viewer"}`)
		require.Len(t, v.getSent(), 1)
		v.reset()
		vs = append(vs, v)
	}
	return s, vs
}

func decode(t *testing.T, data []byte) domain.Message {
	t.Helper()
	var msg domain.Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHandler_RoleAcks(t *testing.T) {
	r := newRelay()
	s := r.connect("c1")
	v := r.connect("c2")

	r.send(s, `{"type":"streamer"}`)
	r.send(v, `{"type":"viewer"}`)

	require.Len(t, s.getSent(), 1)
	assert.JSONEq(t, `{"type":"streamer-ack"}`, string(s.getSent()[0]))
	require.Len(t, v.getSent(), 1)
	assert.JSONEq(t, `{"type":"viewer-ack"}`, string(v.getSent()[0]))
}

func TestHandler_SecondStreamerRejected(t *testing.T) {
	r := newRelay()
	a := r.connect("a")
	b := r.connect("b")

	r.send(a, `{"type":"streamer"}`)
	r.send(b, `{"type":"streamer"}`)

	require.Len(t, b.getSent(), 1)
	assert.JSONEq(t, `{"error":"Streamer already connected"}`, string(b.getSent()[0]))
	assert.Equal(t, domain.CloseStreamerTaken, b.closeCode)
	assert.Equal(t, "Streamer already connected", b.closeReason)
	assert.Equal(t, domain.RoleStreamer, r.hub.RoleOf(a))
	assert.Equal(t, domain.StateOpen, a.State())

	r.close(b)
	assert.True(t, r.hub.Stats().Streamer)
}

func TestHandler_StreamerReclaimAcked(t *testing.T) {
	r := newRelay()
	s := r.connect("s")

	r.send(s, `{"type":"streamer"}`)
	r.send(s, `{"type":"streamer"}`)

	sent := s.getSent()
	require.Len(t, sent, 2)
	assert.Equal(t, domain.TypeStreamerAck, decode(t, sent[1]).Type)
	assert.Equal(t, domain.StateOpen, s.State())
}

func TestHandler_ViewerJoinIdempotent(t *testing.T) {
	r := newRelay()
	v := r.connect("v")

	r.send(v, `{"type":"viewer"}`)
	assert.Equal(t, 1, r.hub.Stats().Viewers)
	r.send(v, `{"type":"viewer"}`)
	assert.Equal(t, 1, r.hub.Stats().Viewers)

	for _, data := range v.getSent() {
		assert.Equal(t, domain.TypeViewerAck, decode(t, data).Type)
	}
}

func TestHandler_RoleIsFixed(t *testing.T) {
	r := newRelay()
	s, vs := r.setup(t, "v1")

	r.send(s, `{"type":"viewer"}`)
	r.send(vs[0], `{"type":"streamer"}`)

	assert.Equal(t, "Role already assigned", decode(t, s.getSent()[0]).Error)
	assert.Equal(t, "Role already assigned", decode(t, vs[0].getSent()[0]).Error)
	assert.Equal(t, domain.StateOpen, vs[0].State())
	assert.Equal(t, domain.Stats{Connections: 2, Viewers: 1, Streamer: true}, r.hub.Stats())
}

func TestHandler_MalformedInput(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{name: "not json", data: "hello", wantErr: "Invalid JSON"},
		{name: "missing type", data: `{"sdp":"v=0"}`, wantErr: "Missing or invalid message type"},
		{name: "non-string type", data: `{"type":42}`, wantErr: "Missing or invalid message type"},
		{name: "unknown type", data: `{"type":"chat"}`, wantErr: "Unknown message type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRelay()
			s, vs := r.setup(t, "v1", "v2")

			r.send(vs[0], tt.data)

			sent := vs[0].getSent()
			require.Len(t, sent, 1)
			assert.JSONEq(t, `{"error":"`+tt.wantErr+`"}`, string(sent[0]))
			assert.Empty(t, vs[1].getSent())
			assert.Empty(t, s.getSent())
			assert.Equal(t, domain.StateOpen, vs[0].State())
			assert.Equal(t, domain.Stats{Connections: 3, Viewers: 2, Streamer: true}, r.hub.Stats())
		})
	}
}

func TestHandler_OfferBroadcast(t *testing.T) {
	r := newRelay()
	s, vs := r.setup(t, "v1", "v2")
	offer := `{"type":"offer","sdp":"v=0\r\no=- 1 2 IN IP4 127.0.0.1"}`

	r.send(s, offer)

	for _, v := range vs {
		require.Len(t, v.getSent(), 1)
		assert.Equal(t, offer, string(v.getSent()[0]))
	}
	assert.Empty(t, s.getSent())
}

func TestHandler_OfferFromAnySender(t *testing.T) {
	r := newRelay()
	_, vs := r.setup(t, "v1")
	stranger := r.connect("stranger")

	r.send(stranger, `{"type":"offer","sdp":"x"}`)

	require.Len(t, vs[0].getSent(), 1)
	assert.Empty(t, stranger.getSent())
}

func TestHandler_AnswerToStreamer(t *testing.T) {
	r := newRelay()
	s, vs := r.setup(t, "v1", "v2")
	answer := `{"type":"answer","sdp":"v=0 answer","viewer":"v1"}`

	r.send(vs[0], answer)

	require.Len(t, s.getSent(), 1)
	assert.Equal(t, answer, string(s.getSent()[0]))
	assert.Empty(t, vs[0].getSent())
	assert.Empty(t, vs[1].getSent())
}

func TestHandler_AnswerWithoutStreamerDropped(t *testing.T) {
	m := metrics.New(nil)
	r := newRelay(WithMetrics(m))
	v := r.connect("v1")
	r.send(v, `{"type":"viewer"}`)
	v.reset()

	r.send(v, `{"type":"answer","sdp":"x"}`)

	assert.Empty(t, v.getSent())
	assert.Contains(t, prometheusGather(t, m), `webstream_dropped_total{type="answer"} 1`)
}

func TestHandler_CandidateRouting(t *testing.T) {
	r := newRelay()
	s, vs := r.setup(t, "v1", "v2")
	fromStreamer := `{"type":"candidate","candidate":{"candidate":"candidate:1 1 udp 1 10.0.0.1 5000 typ host"}}`
	fromViewer := `{"type":"candidate","candidate":{"candidate":"candidate:2 1 udp 1 10.0.0.2 5001 typ host"}}`

	r.send(s, fromStreamer)

	assert.Empty(t, s.getSent())
	for _, v := range vs {
		require.Len(t, v.getSent(), 1)
		assert.Equal(t, fromStreamer, string(v.getSent()[0]))
		v.reset()
	}

	r.send(vs[1], fromViewer)

	require.Len(t, s.getSent(), 1)
	assert.Equal(t, fromViewer, string(s.getSent()[0]))
	assert.Empty(t, vs[0].getSent())
	assert.Empty(t, vs[1].getSent())
}

func TestHandler_StreamerCloseNotifiesViewers(t *testing.T) {
	r := newRelay()
	s, vs := r.setup(t, "v1", "v2")

	r.close(s)
	r.close(s)

	for _, v := range vs {
		sent := v.getSent()
		require.Len(t, sent, 1)
		assert.JSONEq(t, `{"type":"broadcaster-closed"}`, string(sent[0]))
	}
	assert.False(t, r.hub.Stats().Streamer)

	r.send(vs[0], `{"type":"answer","sdp":"late"}`)
	assert.Empty(t, s.getSent())
}

func TestHandler_PermissiveMode(t *testing.T) {
	r := newRelay(WithMode(ModePermissive))
	s, vs := r.setup(t, "v1", "v2")

	r.send(s, `{"type":"chat","text":"hello"}`)
	for _, v := range vs {
		require.Len(t, v.getSent(), 1)
		assert.JSONEq(t, `{"type":"chat","text":"hello"}`, string(v.getSent()[0]))
	}

	r.send(vs[0], `{"type":"offer","sdp":"from viewer"}`)
	require.Len(t, s.getSent(), 1)
	assert.JSONEq(t, `{"type":"offer","sdp":"from viewer"}`, string(s.getSent()[0]))
	assert.Len(t, vs[1].getSent(), 1)

	r.send(vs[0], `nope`)
	assert.Equal(t, "Invalid JSON", decode(t, vs[0].getSent()[0]).Error)
}

func TestHandler_Scenario(t *testing.T) {
	r := newRelay()
	c1 := r.connect("c1")
	r.send(c1, `{"type":"streamer"}`)
	require.Len(t, c1.getSent(), 1)
	assert.JSONEq(t, `{"type":"streamer-ack"}`, string(c1.getSent()[0]))

	c2 := r.connect("c2")
	r.send(c2, `{"type":"viewer"}`)
	require.Len(t, c2.getSent(), 1)
	assert.JSONEq(t, `{"type":"viewer-ack"}`, string(c2.getSent()[0]))

	r.send(c1, `{"type":"offer","sdp":"v=0..."}`)
	require.Len(t, c2.getSent(), 2)
	assert.JSONEq(t, `{"type":"offer","sdp":"v=0..."}`, string(c2.getSent()[1]))

	r.close(c1)
	require.Len(t, c2.getSent(), 3)
	assert.JSONEq(t, `{"type":"broadcaster-closed"}`, string(c2.getSent()[2]))
}

func TestHandler_Metrics(t *testing.T) {
	m := metrics.New(nil)
	r := newRelay(WithMetrics(m))
	s, _ := r.setup(t, "v1")
	intruder := r.connect("intruder")

	r.send(s, `{"type":"offer","sdp":"x"}`)
	r.send(intruder, `{"type":"streamer"}`)
	r.send(intruder, `garbage`)

	reg := prometheusGather(t, m)
	assert.Contains(t, reg, `webstream_relayed_total{type="offer"} 1`)
	assert.Contains(t, reg, `webstream_rejected_total{reason="streamer_taken"} 1`)
	assert.Contains(t, reg, `webstream_rejected_total{reason="invalid_json"} 1`)
}

func TestHandler_HandleErrorKeepsRegistration(t *testing.T) {
	r := newRelay()
	_, vs := r.setup(t, "v1")

	r.handler.HandleError(vs[0], errors.New("read: connection reset by peer"))

	assert.Equal(t, domain.RoleViewer, r.hub.RoleOf(vs[0]))
	assert.Empty(t, vs[0].getSent())
}

func prometheusGather(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}
