package call

import (
	"context"
	"fmt"
	"time"

	"campus_call/native/internal/domain"

	"github.com/google/uuid"
	"go.uber.org/multierr"
)

const recordTimeout = 2 * time.Second

// session is one call attempt. It exclusively owns its media, transport,
// pending candidates, timers and health task.
type session struct {
	gen      uint64
	id       string
	target   domain.ParticipantID
	outgoing bool

	media     domain.LocalMedia
	transport domain.Transport
	tseq      uint64
	pending   candidateQueue

	// remoteFingerprint identifies the remote transport the current
	// transport is paired with.
	remoteFingerprint string

	timers      timerSet
	failures    []time.Time
	iceRestarts int
	reinits     int

	remoteVideo  domain.RemoteTrack
	healthCancel context.CancelFunc
	healthDone   chan struct{}

	startedAt time.Time
}

// newSession makes s the current session. Any previous session must have
// been released.
func (m *Manager) newSession(target domain.ParticipantID, callID string, outgoing bool) *session {
	if callID == "" {
		callID = uuid.NewString()
	}
	m.gen++
	s := &session{
		gen:       m.gen,
		id:        callID,
		target:    target,
		outgoing:  outgoing,
		startedAt: m.now(),
	}
	m.sess = s
	return s
}

// current returns the live session if it still matches gen and transport seq.
func (m *Manager) current(gen, tseq uint64) *session {
	if s := m.sess; s != nil && s.gen == gen && s.tseq == tseq {
		return s
	}
	return nil
}

// send addresses msg to the session target.
func (m *Manager) send(s *session, msg domain.Message) error {
	msg.Sender = m.cfg.Self
	msg.Target = s.target
	msg.CallID = s.id
	return m.sendTo(msg)
}

func (m *Manager) sendTo(msg domain.Message) error {
	if m.signal == nil {
		return fmt.Errorf("%w: no signaler", domain.ErrChannelUnavailable)
	}
	return m.signal.Send(msg)
}

// hangUp tells the peer the call is over and releases the session.
func (m *Manager) hangUp(s *session, reason string) {
	if err := m.send(s, domain.Message{Type: domain.MsgHangUp}); err != nil {
		m.log.Warnf("hang up %s: %v", s.target, err)
	}
	m.release(s, reason)
}

// release tears s down and moves the call to Ended. No hook or timer of s
// has any effect afterwards.
func (m *Manager) release(s *session, reason string) {
	if s == nil || m.sess != s {
		return
	}
	m.log.Infof("releasing call %s with %s: %s", s.id, s.target, reason)

	s.timers.stopAll()
	m.stopHealth(s)

	var err error
	if s.media != nil {
		err = multierr.Append(err, s.media.Stop())
	}
	if s.transport != nil {
		err = multierr.Append(err, s.transport.Close())
		s.transport = nil
	}
	if err != nil {
		m.log.Warnf("release call %s: %v", s.id, err)
	}
	if m.deps.Renderer != nil {
		m.deps.Renderer.Detach()
	}
	s.remoteVideo = nil
	if n := len(s.pending.drain()); n > 0 {
		m.log.Debugf("discarded %d pending candidates", n)
	}

	m.sess = nil
	m.record(s, reason)
	m.setState(domain.StateEnded, s)
}

func (m *Manager) record(s *session, reason string) {
	if m.deps.Recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	rec := domain.CallRecord{
		CallID:      s.id,
		Local:       m.cfg.Self,
		Remote:      s.target,
		Outgoing:    s.outgoing,
		FinalState:  m.state,
		Reason:      reason,
		ICERestarts: s.iceRestarts,
		Reinits:     s.reinits,
		StartedAt:   s.startedAt,
		EndedAt:     m.now(),
	}
	if err := m.deps.Recorder.Record(ctx, rec); err != nil {
		m.log.Warnf("record call %s: %v", s.id, err)
	}
}
