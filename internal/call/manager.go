package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"campus_call/native/internal/domain"

	"github.com/pion/logging"
)

var errManagerClosed = fmt.Errorf("%w: call manager closed", domain.ErrInvalidState)

// Config tunes the coordinator. Zero durations and counts select defaults.
type Config struct {
	Self       domain.ParticipantID
	ICEServers []domain.ICEServer
	Media      domain.MediaConstraints

	// RecoveryWindow is the sliding window in which transport failures
	// are counted. Up to MaxICERestarts failures inside the window are
	// answered with an ICE restart; one more triggers a full reinit.
	RecoveryWindow  time.Duration
	MaxICERestarts  int
	MaxReinits      int
	DisconnectGrace time.Duration
	RestartTimeout  time.Duration
	HealthInterval  time.Duration
	StallThreshold  time.Duration

	LoggerFactory logging.LoggerFactory
}

func (c *Config) setDefaults() {
	if c.RecoveryWindow <= 0 {
		c.RecoveryWindow = 30 * time.Second
	}
	if c.MaxICERestarts <= 0 {
		c.MaxICERestarts = 1
	}
	if c.MaxReinits <= 0 {
		c.MaxReinits = 2
	}
	if c.DisconnectGrace <= 0 {
		c.DisconnectGrace = 5 * time.Second
	}
	if c.RestartTimeout <= 0 {
		c.RestartTimeout = 10 * time.Second
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = 5 * time.Second
	}
	if c.StallThreshold <= 0 {
		c.StallThreshold = 4 * time.Second
	}
	if c.LoggerFactory == nil {
		c.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
}

// Deps are the collaborators of the Manager. Renderer and Recorder are optional.
type Deps struct {
	Registrar  domain.Registrar
	Transports domain.TransportFactory
	Media      domain.MediaSource
	Renderer   domain.Renderer
	Recorder   domain.CallRecorder
}

// Manager coordinates one participant's calls: the call state machine,
// offer/answer negotiation and transport recovery. All state is owned by a
// single loop goroutine; UI calls, inbound signals, transport hooks and
// timers are posted to it as closures.
// It implements domain.SignalHandler.
type Manager struct {
	cfg  Config
	deps Deps
	log  logging.LeveledLogger
	now  func() time.Time

	ops       chan func()
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// owned by the loop
	state  domain.CallState
	sess   *session
	gen    uint64
	signal domain.Signaler

	regMu sync.Mutex
	reg   atomic.Pointer[domain.Registration]

	subMu   sync.Mutex
	subs    map[int]func(domain.CallEvent)
	nextSub int
}

// New creates a Manager and starts its loop. Call SetSignaler before use to
// complete the circular dependency (Manager needs Signaler, Signaler needs
// SignalHandler).
func New(cfg Config, deps Deps) *Manager {
	cfg.setDefaults()
	m := &Manager{
		cfg:   cfg,
		deps:  deps,
		log:   cfg.LoggerFactory.NewLogger("call"),
		now:   time.Now,
		ops:   make(chan func(), 128),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
		state: domain.StateIdle,
		subs:  map[int]func(domain.CallEvent){},
	}
	go m.run()
	return m
}

func (m *Manager) run() {
	defer close(m.done)
	for {
		select {
		case fn := <-m.ops:
			fn()
		case <-m.quit:
			if m.sess != nil {
				m.hangUp(m.sess, "shutdown")
			}
			return
		}
	}
}

// post queues fn on the loop. It reports false once the manager is closed.
func (m *Manager) post(fn func()) bool {
	select {
	case <-m.quit:
		return false
	default:
	}
	select {
	case m.ops <- fn:
		return true
	case <-m.quit:
		return false
	}
}

// do runs fn on the loop and waits for it to finish.
func (m *Manager) do(fn func()) error {
	finished := make(chan struct{})
	if !m.post(func() { fn(); close(finished) }) {
		return errManagerClosed
	}
	select {
	case <-finished:
		return nil
	case <-m.done:
		return errManagerClosed
	}
}

// SetSignaler injects the signaling channel.
func (m *Manager) SetSignaler(s domain.Signaler) {
	_ = m.do(func() { m.signal = s })
}

// OnEvent registers fn for call events and returns a function removing it.
// fn runs on the coordinator loop and must not block.
func (m *Manager) OnEvent(fn func(domain.CallEvent)) (cancel func()) {
	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.subMu.Unlock()

	return func() {
		m.subMu.Lock()
		delete(m.subs, id)
		m.subMu.Unlock()
	}
}

func (m *Manager) emit(ev domain.CallEvent) {
	ev.At = m.now()

	m.subMu.Lock()
	fns := make([]func(domain.CallEvent), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.subMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func (m *Manager) setState(st domain.CallState, s *session) {
	if m.state == st {
		return
	}
	m.log.Infof("state %s -> %s", m.state, st)
	m.state = st
	ev := domain.CallEvent{Kind: domain.EventState, State: st}
	if s != nil {
		ev.Peer, ev.CallID = s.target, s.id
	}
	m.emit(ev)
}

func (m *Manager) emitError(s *session, err error) {
	ev := domain.CallEvent{Kind: domain.EventError, State: m.state, Error: err.Error()}
	if s != nil {
		ev.Peer, ev.CallID = s.target, s.id
	}
	m.emit(ev)
}

// Register associates the local participant with the relay. A cached
// registration is reused until its relay token expires.
func (m *Manager) Register(ctx context.Context) (*domain.Registration, error) {
	m.regMu.Lock()
	defer m.regMu.Unlock()

	if reg := m.reg.Load(); reg != nil && (reg.ExpiresAt.IsZero() || m.now().Before(reg.ExpiresAt)) {
		return reg, nil
	}

	reg, err := m.deps.Registrar.Register(ctx, m.cfg.Self)
	if err != nil {
		if !errors.Is(err, domain.ErrRegistration) {
			err = fmt.Errorf("%w: %v", domain.ErrRegistration, err)
		}
		return nil, err
	}
	m.reg.Store(reg)
	return reg, nil
}

func (m *Manager) iceServers() []domain.ICEServer {
	if reg := m.reg.Load(); reg != nil && len(reg.ICEServers) > 0 {
		return reg.ICEServers
	}
	return m.cfg.ICEServers
}

// State returns the current call state.
func (m *Manager) State() domain.CallState {
	st := domain.StateEnded
	_ = m.do(func() { st = m.state })
	return st
}

// Snapshot returns the UI-visible view of the current call.
func (m *Manager) Snapshot() domain.CallSnapshot {
	snap := domain.CallSnapshot{State: domain.StateEnded, Self: m.cfg.Self}
	_ = m.do(func() {
		snap.State = m.state
		s := m.sess
		if s == nil {
			return
		}
		snap.CallID = s.id
		snap.Peer = s.target
		snap.Outgoing = s.outgoing
		snap.StartedAt = s.startedAt
		if s.media != nil {
			snap.Audio = s.media.AudioEnabled()
			snap.Video = s.media.VideoEnabled()
			snap.Screen = s.media.ScreenSharing()
		}
	})
	return snap
}

// Diagnostics returns the transport state of the current call.
func (m *Manager) Diagnostics() domain.Diagnostics {
	d := domain.Diagnostics{State: domain.StateEnded}
	_ = m.do(func() { d = m.diagnostics(m.sess) })
	return d
}

// Close hangs up any live call and stops the loop. It is idempotent.
func (m *Manager) Close() {
	m.closeOnce.Do(func() { close(m.quit) })
	<-m.done
}
