package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"campus_call/native/internal/domain"
)

const (
	alice domain.ParticipantID = "school1_2024_alice"
	bob   domain.ParticipantID = "school1_2024_bob"
	carol domain.ParticipantID = "school1_2024_carol"
)

// mockSignaler records sent messages for verification.
type mockSignaler struct {
	mu      sync.Mutex
	sent    []domain.Message
	sendErr error
}

func (s *mockSignaler) Connect(context.Context) error { return nil }
func (s *mockSignaler) Connected() bool               { return true }
func (s *mockSignaler) Close()                        {}

func (s *mockSignaler) Send(msg domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *mockSignaler) setSendErr(err error) {
	s.mu.Lock()
	s.sendErr = err
	s.mu.Unlock()
}

// ofType returns the sent messages of type t in send order.
func (s *mockSignaler) ofType(t domain.MessageType) []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Message
	for _, m := range s.sent {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

// mockRegistrar returns a fixed registration or error.
type mockRegistrar struct {
	mu    sync.Mutex
	reg   *domain.Registration
	err   error
	calls int
}

func (r *mockRegistrar) Register(_ context.Context, id domain.ParticipantID) (*domain.Registration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	if r.reg != nil {
		return r.reg, nil
	}
	return &domain.Registration{ParticipantID: id}, nil
}

// mockTransport models the signaling state machine of a peer connection.
type mockTransport struct {
	mu         sync.Mutex
	hooks      domain.TransportHooks
	iceServers []domain.ICEServer
	sig        domain.SignalingState
	conn       domain.ConnectionState
	remoteSet  bool
	offers     int
	restarts   int
	applied    []domain.Candidate
	media      domain.LocalMedia
	keyframes  int
	closed     bool
}

func (t *mockTransport) CreateOffer(iceRestart bool) (domain.SessionDescription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sig != domain.SignalingStable {
		return domain.SessionDescription{}, fmt.Errorf("offer in %s", t.sig)
	}
	t.offers++
	if iceRestart {
		t.restarts++
	}
	t.sig = domain.SignalingHaveLocalOffer
	return domain.SessionDescription{Type: "offer", SDP: fmt.Sprintf("offer-%d", t.offers)}, nil
}

func (t *mockTransport) CreateAnswer() (domain.SessionDescription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sig != domain.SignalingHaveRemoteOffer {
		return domain.SessionDescription{}, fmt.Errorf("answer in %s", t.sig)
	}
	t.sig = domain.SignalingStable
	return domain.SessionDescription{Type: "answer", SDP: "answer"}, nil
}

func (t *mockTransport) SetRemoteDescription(sd domain.SessionDescription) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch sd.Type {
	case "offer":
		if t.sig != domain.SignalingStable {
			return fmt.Errorf("remote offer in %s", t.sig)
		}
		t.sig = domain.SignalingHaveRemoteOffer
	case "answer":
		if t.sig != domain.SignalingHaveLocalOffer {
			return fmt.Errorf("remote answer in %s", t.sig)
		}
		t.sig = domain.SignalingStable
	default:
		return fmt.Errorf("unknown sdp type %q", sd.Type)
	}
	t.remoteSet = true
	return nil
}

func (t *mockTransport) HasRemoteDescription() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remoteSet
}

func (t *mockTransport) AddICECandidate(c domain.Candidate) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.remoteSet {
		return errors.New("candidate before remote description")
	}
	t.applied = append(t.applied, c)
	return nil
}

func (t *mockTransport) SignalingState() domain.SignalingState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sig
}

func (t *mockTransport) ConnectionState() domain.ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn
}

func (t *mockTransport) ICEConnectionState() domain.ICEConnectionState { return "checking" }
func (t *mockTransport) GatheringState() domain.GatheringState         { return "complete" }

func (t *mockTransport) AttachMedia(m domain.LocalMedia) error {
	t.mu.Lock()
	t.media = m
	t.mu.Unlock()
	return nil
}

func (t *mockTransport) RequestKeyframe(domain.RemoteTrack) error {
	t.mu.Lock()
	t.keyframes++
	t.mu.Unlock()
	return nil
}

func (t *mockTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.sig = domain.SignalingClosed
	t.conn = domain.ConnectionClosed
	t.mu.Unlock()
	return nil
}

// setConnection changes the connection state and fires the hook.
func (t *mockTransport) setConnection(cs domain.ConnectionState) {
	t.mu.Lock()
	t.conn = cs
	hook := t.hooks.OnConnectionState
	t.mu.Unlock()
	hook(cs)
}

func (t *mockTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *mockTransport) counts() (offers, restarts, keyframes int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.offers, t.restarts, t.keyframes
}

func (t *mockTransport) appliedCandidates() []domain.Candidate {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]domain.Candidate(nil), t.applied...)
}

// mockFactory records every transport it creates.
type mockFactory struct {
	mu         sync.Mutex
	transports []*mockTransport
	err        error
}

func (f *mockFactory) NewTransport(servers []domain.ICEServer, hooks domain.TransportHooks) (domain.Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	t := &mockTransport{
		hooks:      hooks,
		iceServers: servers,
		sig:        domain.SignalingStable,
		conn:       domain.ConnectionNew,
	}
	f.transports = append(f.transports, t)
	return t, nil
}

func (f *mockFactory) all() []*mockTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*mockTransport(nil), f.transports...)
}

func (f *mockFactory) last(t *testing.T) *mockTransport {
	t.Helper()
	all := f.all()
	if len(all) == 0 {
		t.Fatal("expected a transport")
	}
	return all[len(all)-1]
}

// mockMedia tracks toggles and Stop.
type mockMedia struct {
	mu                   sync.Mutex
	audio, video, screen bool
	stopped              bool
}

func (m *mockMedia) SetAudioEnabled(on bool) error { m.mu.Lock(); m.audio = on; m.mu.Unlock(); return nil }
func (m *mockMedia) SetVideoEnabled(on bool) error { m.mu.Lock(); m.video = on; m.mu.Unlock(); return nil }
func (m *mockMedia) SetScreenShare(on bool) error  { m.mu.Lock(); m.screen = on; m.mu.Unlock(); return nil }
func (m *mockMedia) AudioEnabled() bool            { m.mu.Lock(); defer m.mu.Unlock(); return m.audio }
func (m *mockMedia) VideoEnabled() bool            { m.mu.Lock(); defer m.mu.Unlock(); return m.video }
func (m *mockMedia) ScreenSharing() bool           { m.mu.Lock(); defer m.mu.Unlock(); return m.screen }

func (m *mockMedia) Stop() error {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
	return nil
}

func (m *mockMedia) isStopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

// mockMediaSource hands out mockMedia or fails.
type mockMediaSource struct {
	mu       sync.Mutex
	err      error
	acquired []*mockMedia
}

func (s *mockMediaSource) Acquire(context.Context, domain.MediaConstraints) (domain.LocalMedia, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	m := &mockMedia{audio: true, video: true}
	s.acquired = append(s.acquired, m)
	return m, nil
}

func (s *mockMediaSource) all() []*mockMedia {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*mockMedia(nil), s.acquired...)
}

// mockRenderer records attach calls.
type mockRenderer struct {
	mu       sync.Mutex
	attaches int
	bound    bool
	last     time.Time
}

func (r *mockRenderer) Attach(domain.RemoteTrack) error {
	r.mu.Lock()
	r.attaches++
	r.bound = true
	r.last = time.Now()
	r.mu.Unlock()
	return nil
}

func (r *mockRenderer) Detach() {
	r.mu.Lock()
	r.bound = false
	r.mu.Unlock()
}

func (r *mockRenderer) Bound() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bound
}

func (r *mockRenderer) LastActivity() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func (r *mockRenderer) attachCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attaches
}

// mockRecorder collects call records.
type mockRecorder struct {
	mu      sync.Mutex
	records []domain.CallRecord
}

func (r *mockRecorder) Record(_ context.Context, rec domain.CallRecord) error {
	r.mu.Lock()
	r.records = append(r.records, rec)
	r.mu.Unlock()
	return nil
}

func (r *mockRecorder) all() []domain.CallRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.CallRecord(nil), r.records...)
}

type mockTrack struct {
	id   string
	kind domain.MediaKind
}

func (t mockTrack) ID() string             { return t.id }
func (t mockTrack) Kind() domain.MediaKind { return t.kind }

// harness wires a Manager to mocks.
type harness struct {
	m      *Manager
	sig    *mockSignaler
	reg    *mockRegistrar
	tf     *mockFactory
	media  *mockMediaSource
	rend   *mockRenderer
	rec    *mockRecorder
	mu     sync.Mutex
	events []domain.CallEvent
}

func newHarness(t *testing.T, tune func(*Config)) *harness {
	t.Helper()
	h := &harness{
		sig:   &mockSignaler{},
		reg:   &mockRegistrar{},
		tf:    &mockFactory{},
		media: &mockMediaSource{},
		rend:  &mockRenderer{},
		rec:   &mockRecorder{},
	}
	cfg := Config{
		Self:            alice,
		RestartTimeout:  time.Hour,
		DisconnectGrace: time.Hour,
		HealthInterval:  time.Hour,
	}
	if tune != nil {
		tune(&cfg)
	}
	h.m = New(cfg, Deps{
		Registrar:  h.reg,
		Transports: h.tf,
		Media:      h.media,
		Renderer:   h.rend,
		Recorder:   h.rec,
	})
	h.m.SetSignaler(h.sig)
	h.m.OnEvent(func(ev domain.CallEvent) {
		h.mu.Lock()
		h.events = append(h.events, ev)
		h.mu.Unlock()
	})
	t.Cleanup(h.m.Close)
	return h
}

// sync waits until everything posted so far has been handled.
func (h *harness) sync(t *testing.T) {
	t.Helper()
	if err := h.m.do(func() {}); err != nil {
		t.Fatalf("sync: %v", err)
	}
}

// deliver feeds an inbound message from peer to the manager.
func (h *harness) deliver(t *testing.T, from domain.ParticipantID, msg domain.Message) {
	t.Helper()
	msg.Sender = from
	msg.Target = h.m.cfg.Self
	h.m.OnSignal(msg)
	h.sync(t)
}

func (h *harness) eventsOf(kind domain.EventKind) []domain.CallEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []domain.CallEvent
	for _, ev := range h.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// timerCount returns the number of armed timers of the live session.
func (h *harness) timerCount(t *testing.T) int {
	t.Helper()
	n := 0
	if err := h.m.do(func() {
		if h.m.sess != nil {
			n = h.m.sess.timers.len()
		}
	}); err != nil {
		t.Fatalf("timer count: %v", err)
	}
	return n
}

func (h *harness) hasSession(t *testing.T) bool {
	t.Helper()
	var ok bool
	if err := h.m.do(func() { ok = h.m.sess != nil }); err != nil {
		t.Fatalf("session check: %v", err)
	}
	return ok
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func offer(sdp string) domain.Message {
	return domain.Message{Type: domain.MsgOffer, Offer: &domain.SessionDescription{Type: "offer", SDP: sdp}}
}

func answer() domain.Message {
	return domain.Message{Type: domain.MsgAnswer, Answer: &domain.SessionDescription{Type: "answer", SDP: "answer"}}
}

func candidate(s string) domain.Message {
	return domain.Message{Type: domain.MsgICECandidate, Candidate: &domain.Candidate{Candidate: s}}
}

// startOutgoing calls bob and has him accept.
func (h *harness) startOutgoing(t *testing.T) *mockTransport {
	t.Helper()
	if err := h.m.StartCall(context.Background(), bob); err != nil {
		t.Fatalf("start call: %v", err)
	}
	h.deliver(t, bob, domain.Message{Type: domain.MsgCallAccepted})
	return h.tf.last(t)
}

// connectOutgoing runs a full caller-side negotiation to Active.
func (h *harness) connectOutgoing(t *testing.T) *mockTransport {
	t.Helper()
	tr := h.startOutgoing(t)
	h.deliver(t, bob, answer())
	tr.setConnection(domain.ConnectionConnected)
	h.sync(t)
	if st := h.m.State(); st != domain.StateActive {
		t.Fatalf("expected active, got %s", st)
	}
	return tr
}
