package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"campus_call/native/internal/domain"

	"github.com/gorilla/websocket"
)

const (
	self  domain.ParticipantID = "school1_2024_alice"
	other domain.ParticipantID = "school1_2024_bob"
)

// recordingHandler records inbound traffic for verification.
type recordingHandler struct {
	signals chan domain.Message
	errs    chan error
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		signals: make(chan domain.Message, 16),
		errs:    make(chan error, 16),
	}
}

func (h *recordingHandler) OnSignal(msg domain.Message) { h.signals <- msg }
func (h *recordingHandler) OnChannelError(err error)     { h.errs <- err }

// testRelay is a minimal topic relay speaking the frame protocol.
type testRelay struct {
	srv    *httptest.Server
	frames chan frame
	conns  chan *websocket.Conn

	mu       sync.Mutex
	auth     []string
	rejected map[string]bool
}

func newTestRelay(t *testing.T) *testRelay {
	t.Helper()
	r := &testRelay{
		frames:   make(chan frame, 32),
		conns:    make(chan *websocket.Conn, 4),
		rejected: map[string]bool{},
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	r.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		auth := req.Header.Get("Authorization")
		r.mu.Lock()
		r.auth = append(r.auth, auth)
		deny := r.rejected[auth]
		r.mu.Unlock()
		if deny {
			http.Error(w, "token expired", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		r.conns <- conn
		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			r.frames <- f
		}
	}))
	t.Cleanup(r.srv.Close)
	return r
}

func (r *testRelay) url() string {
	return "ws" + strings.TrimPrefix(r.srv.URL, "http")
}

func (r *testRelay) nextFrame(t *testing.T) frame {
	t.Helper()
	select {
	case f := <-r.frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return frame{}
	}
}

func (r *testRelay) nextConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-r.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connection")
		return nil
	}
}

func connectClient(t *testing.T, r *testRelay, h domain.SignalHandler) *Client {
	t.Helper()
	c := NewClient(Options{
		URL:          r.url(),
		Token:        "relay-token",
		Self:         self,
		ReconnectMin: 10 * time.Millisecond,
		ReconnectMax: 50 * time.Millisecond,
	}, h)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func expectSubscriptions(t *testing.T, r *testRelay) {
	t.Helper()
	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		f := r.nextFrame(t)
		if f.Op != opSubscribe {
			t.Fatalf("expected subscribe frame, got %q", f.Op)
		}
		got[f.Topic] = true
	}
	if !got[PrivateTopic(self)] || !got[ErrorTopic] {
		t.Errorf("expected private and error subscriptions, got %v", got)
	}
}

func TestClient_SubscribesAndDeliversSignals(t *testing.T) {
	relay := newTestRelay(t)
	h := newRecordingHandler()
	c := connectClient(t, relay, h)
	conn := relay.nextConn(t)

	expectSubscriptions(t, relay)
	if !c.Connected() {
		t.Error("expected client to report connected")
	}
	relay.mu.Lock()
	if relay.auth[0] != "Bearer relay-token" {
		t.Errorf("expected bearer token, got %q", relay.auth[0])
	}
	relay.mu.Unlock()

	body, _ := json.Marshal(domain.Message{Type: domain.MsgCallRequest, Sender: other, Target: self, CallID: "c1"})
	if err := conn.WriteJSON(frame{Op: opMessage, Topic: PrivateTopic(self), Body: body}); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case msg := <-h.signals:
		if msg.Type != domain.MsgCallRequest || msg.Sender != other || msg.CallID != "c1" {
			t.Errorf("unexpected signal %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected signal to be delivered")
	}
}

func TestClient_DropsInvalidSignals(t *testing.T) {
	relay := newTestRelay(t)
	h := newRecordingHandler()
	connectClient(t, relay, h)
	conn := relay.nextConn(t)
	expectSubscriptions(t, relay)

	invalid, _ := json.Marshal(domain.Message{Type: domain.MsgOffer, Sender: other, Target: self})
	valid, _ := json.Marshal(domain.Message{Type: domain.MsgHangUp, Sender: other, Target: self})
	conn.WriteJSON(frame{Op: opMessage, Topic: PrivateTopic(self), Body: invalid})
	conn.WriteJSON(frame{Op: opMessage, Topic: PrivateTopic(self), Body: valid})

	select {
	case msg := <-h.signals:
		if msg.Type != domain.MsgHangUp {
			t.Errorf("expected invalid OFFER to be dropped, got %s", msg.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected valid signal to be delivered")
	}
}

func TestClient_SendPublishesToTargetTopic(t *testing.T) {
	relay := newTestRelay(t)
	c := connectClient(t, relay, newRecordingHandler())
	relay.nextConn(t)
	expectSubscriptions(t, relay)

	err := c.Send(domain.Message{
		Type:   domain.MsgOffer,
		Sender: self,
		Target: other,
		Offer:  &domain.SessionDescription{Type: "offer", SDP: "v=0"},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	f := relay.nextFrame(t)
	if f.Op != opPublish || f.Topic != PrivateTopic(other) {
		t.Fatalf("expected publish to %s, got %s %s", PrivateTopic(other), f.Op, f.Topic)
	}
	var msg domain.Message
	if err := json.Unmarshal(f.Body, &msg); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if msg.Offer == nil || msg.Offer.SDP != "v=0" {
		t.Errorf("unexpected published message %+v", msg)
	}
}

func TestClient_SendWhileDisconnected(t *testing.T) {
	c := NewClient(Options{URL: "ws://127.0.0.1:1/", Self: self}, newRecordingHandler())

	err := c.Send(domain.Message{Type: domain.MsgHangUp, Sender: self, Target: other})
	if !errors.Is(err, domain.ErrChannelUnavailable) {
		t.Fatalf("expected ErrChannelUnavailable, got %v", err)
	}
}

func TestClient_RelayErrorFrame(t *testing.T) {
	relay := newTestRelay(t)
	h := newRecordingHandler()
	connectClient(t, relay, h)
	conn := relay.nextConn(t)
	expectSubscriptions(t, relay)

	conn.WriteJSON(frame{Op: opError, Message: "target offline"})

	select {
	case err := <-h.errs:
		if !errors.Is(err, domain.ErrRelay) || !strings.Contains(err.Error(), "target offline") {
			t.Errorf("unexpected error %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected relay error")
	}
}

func TestClient_ReconnectResubscribes(t *testing.T) {
	relay := newTestRelay(t)
	h := newRecordingHandler()
	c := connectClient(t, relay, h)
	first := relay.nextConn(t)
	expectSubscriptions(t, relay)

	first.Close()

	select {
	case err := <-h.errs:
		if !errors.Is(err, domain.ErrChannelUnavailable) {
			t.Errorf("expected ErrChannelUnavailable, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected disconnect to be reported")
	}

	relay.nextConn(t)
	expectSubscriptions(t, relay)

	deadline := time.Now().Add(2 * time.Second)
	for !c.Connected() {
		if time.Now().After(deadline) {
			t.Fatal("expected client to reconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestClose_Idempotent(t *testing.T) {
	relay := newTestRelay(t)
	c := connectClient(t, relay, newRecordingHandler())
	relay.nextConn(t)

	c.Close()
	c.Close()
	if c.Connected() {
		t.Error("expected closed client to report disconnected")
	}
}

func TestClient_ConnectTwice(t *testing.T) {
	relay := newTestRelay(t)
	c := connectClient(t, relay, newRecordingHandler())
	relay.nextConn(t)
	expectSubscriptions(t, relay)

	err := c.Connect(context.Background())
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	select {
	case <-relay.conns:
		t.Error("expected no second relay connection")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClient_ConnectRetryAfterFailure(t *testing.T) {
	c := NewClient(Options{URL: "ws://127.0.0.1:1/", Self: self}, newRecordingHandler())
	defer c.Close()

	for i := 0; i < 2; i++ {
		err := c.Connect(context.Background())
		if !errors.Is(err, domain.ErrChannelUnavailable) {
			t.Fatalf("attempt %d: expected ErrChannelUnavailable, got %v", i, err)
		}
	}
}

func TestClient_ReconnectRefreshesToken(t *testing.T) {
	relay := newTestRelay(t)
	h := newRecordingHandler()

	var mu sync.Mutex
	calls := 0
	tokens := func(ctx context.Context) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		// the first reconnect still sees the expired token
		if calls <= 2 {
			return "old-token", nil
		}
		return "new-token", nil
	}

	c := NewClient(Options{
		URL:          relay.url(),
		TokenSource:  tokens,
		Self:         self,
		ReconnectMin: 10 * time.Millisecond,
		ReconnectMax: 50 * time.Millisecond,
	}, h)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(c.Close)

	first := relay.nextConn(t)
	expectSubscriptions(t, relay)

	relay.mu.Lock()
	relay.rejected["Bearer old-token"] = true
	relay.mu.Unlock()
	first.Close()

	relay.nextConn(t)
	expectSubscriptions(t, relay)

	relay.mu.Lock()
	auth := append([]string(nil), relay.auth...)
	relay.mu.Unlock()
	want := []string{"Bearer old-token", "Bearer old-token", "Bearer new-token"}
	if len(auth) != len(want) {
		t.Fatalf("expected dials %v, got %v", want, auth)
	}
	for i := range want {
		if auth[i] != want[i] {
			t.Errorf("dial %d: expected %q, got %q", i, want[i], auth[i])
		}
	}
}

func TestClient_TokenSourceError(t *testing.T) {
	relay := newTestRelay(t)
	c := NewClient(Options{
		URL:         relay.url(),
		TokenSource: func(context.Context) (string, error) { return "", errors.New("registration failed") },
		Self:        self,
	}, newRecordingHandler())
	defer c.Close()

	err := c.Connect(context.Background())
	if !errors.Is(err, domain.ErrChannelUnavailable) {
		t.Fatalf("expected ErrChannelUnavailable, got %v", err)
	}
	relay.mu.Lock()
	n := len(relay.auth)
	relay.mu.Unlock()
	if n != 0 {
		t.Errorf("expected no dial without a token, got %d", n)
	}
}
