package call

import (
	"fmt"

	"campus_call/native/internal/domain"
)

// openTransport creates a transport for s with its local media attached.
// Hooks are bound to the session generation and transport sequence so
// events from a replaced transport are ignored.
func (m *Manager) openTransport(s *session) error {
	s.tseq++
	gen, seq := s.gen, s.tseq

	hooks := domain.TransportHooks{
		OnCandidate: func(c domain.Candidate) {
			m.post(func() {
				if s := m.current(gen, seq); s != nil {
					m.onLocalCandidate(s, c)
				}
			})
		},
		OnConnectionState: func(cs domain.ConnectionState) {
			m.post(func() {
				if s := m.current(gen, seq); s != nil {
					m.onConnectionState(s, cs)
				}
			})
		},
		OnTrack: func(t domain.RemoteTrack) {
			m.post(func() {
				if s := m.current(gen, seq); s != nil {
					m.onTrack(s, t)
				}
			})
		},
	}

	t, err := m.deps.Transports.NewTransport(m.iceServers(), hooks)
	if err != nil {
		return fmt.Errorf("new transport: %w", err)
	}
	if err := t.AttachMedia(s.media); err != nil {
		_ = t.Close()
		return fmt.Errorf("attach media: %w", err)
	}
	s.transport = t
	s.remoteFingerprint = ""
	return nil
}

// replaceTransport closes the transport of s and opens a fresh one.
// Candidates queued for the old transport are discarded.
func (m *Manager) replaceTransport(s *session) error {
	if s.transport != nil {
		if err := s.transport.Close(); err != nil {
			m.log.Warnf("close transport: %v", err)
		}
		s.transport = nil
	}
	if n := len(s.pending.drain()); n > 0 {
		m.log.Debugf("discarded %d pending candidates", n)
	}
	if m.deps.Renderer != nil {
		m.deps.Renderer.Detach()
	}
	s.remoteVideo = nil
	return m.openTransport(s)
}

// createOffer sends a fresh offer to the session target. It only runs in
// the stable signaling state.
func (m *Manager) createOffer(s *session, iceRestart bool) {
	t := s.transport
	if t == nil {
		m.log.Warnf("create offer: no transport")
		return
	}
	if st := t.SignalingState(); st != domain.SignalingStable {
		m.log.Warnf("create offer: signaling state is %s, not stable", st)
		return
	}

	sd, err := t.CreateOffer(iceRestart)
	if err != nil {
		m.log.Errorf("create offer: %v", err)
		return
	}
	if err := m.send(s, domain.Message{Type: domain.MsgOffer, Offer: &sd}); err != nil {
		m.log.Errorf("send offer: %v", err)
		m.emitError(s, err)
		return
	}
	m.log.Infof("offer sent to %s (ice restart: %v)", s.target, iceRestart)
}

// handleOffer applies a remote offer and answers it. An offer from a new
// remote transport is answered on a new local one. The caller keeps its
// own outstanding offer when offers cross; the callee drops its transport
// and answers on a fresh one.
func (m *Manager) handleOffer(s *session, sd domain.SessionDescription) {
	if m.state != domain.StateNegotiating && m.state != domain.StateActive {
		m.log.Warnf("%v: OFFER in state %s", domain.ErrInvalidState, m.state)
		return
	}

	if s.transport == nil {
		if err := m.openTransport(s); err != nil {
			m.log.Errorf("open transport: %v", err)
			m.emitError(s, err)
			return
		}
	}

	if peerReplacedTransport(s, sd) {
		m.log.Infof("%s offered from a new transport, replacing ours", s.target)
		if err := m.replaceTransport(s); err != nil {
			m.log.Errorf("replace transport: %v", err)
			m.emitError(s, err)
			return
		}
	}

	if s.transport.SignalingState() == domain.SignalingHaveLocalOffer {
		if s.outgoing {
			m.log.Infof("offer collision, keeping local offer")
			return
		}
		m.log.Infof("offer collision, yielding to remote offer")
		if err := m.replaceTransport(s); err != nil {
			m.log.Errorf("replace transport: %v", err)
			m.emitError(s, err)
			return
		}
	}

	if err := s.transport.SetRemoteDescription(sd); err != nil {
		m.log.Warnf("set remote offer: %v; retrying on a fresh transport", err)
		if err := m.replaceTransport(s); err != nil {
			m.log.Errorf("replace transport: %v", err)
			m.emitError(s, err)
			return
		}
		if err := s.transport.SetRemoteDescription(sd); err != nil {
			m.log.Errorf("set remote offer: %v", err)
			m.emitError(s, err)
			return
		}
	}
	s.remoteFingerprint = transportFingerprint(sd.SDP)
	m.flushPending(s)

	answer, err := s.transport.CreateAnswer()
	if err != nil {
		m.log.Errorf("create answer: %v", err)
		return
	}
	if err := m.send(s, domain.Message{Type: domain.MsgAnswer, Answer: &answer}); err != nil {
		m.log.Errorf("send answer: %v", err)
		m.emitError(s, err)
		return
	}
	m.log.Infof("answer sent to %s", s.target)
}

// handleAnswer applies a remote answer to the outstanding local offer. An
// answer without one is reported and, when the transport is stable,
// answered with a fresh offer.
func (m *Manager) handleAnswer(s *session, sd domain.SessionDescription) {
	t := s.transport
	if t == nil {
		m.log.Warnf("%v: ANSWER without transport", domain.ErrInvalidState)
		return
	}
	if st := t.SignalingState(); st != domain.SignalingHaveLocalOffer {
		m.log.Warnf("%v: ANSWER in signaling state %s", domain.ErrInvalidState, st)
		if st == domain.SignalingStable {
			m.createOffer(s, false)
		}
		return
	}

	if peerReplacedTransport(s, sd) {
		m.log.Infof("%s answered from a new transport, renegotiating on a fresh one", s.target)
		if err := m.replaceTransport(s); err != nil {
			m.log.Errorf("replace transport: %v", err)
			m.emitError(s, err)
			return
		}
		m.createOffer(s, false)
		return
	}

	if err := t.SetRemoteDescription(sd); err != nil {
		m.log.Errorf("set remote answer: %v", err)
		return
	}
	s.remoteFingerprint = transportFingerprint(sd.SDP)
	m.flushPending(s)
}

// handleCandidate applies c, or queues it until the remote description is set.
func (m *Manager) handleCandidate(s *session, c domain.Candidate) {
	t := s.transport
	if t == nil || !t.HasRemoteDescription() {
		s.pending.push(c)
		m.log.Debugf("queued remote candidate (%d pending)", s.pending.len())
		return
	}
	if err := t.AddICECandidate(c); err != nil {
		m.log.Warnf("add remote candidate: %v", err)
	}
}

func (m *Manager) flushPending(s *session) {
	items := s.pending.drain()
	for _, c := range items {
		if err := s.transport.AddICECandidate(c); err != nil {
			m.log.Warnf("add queued candidate: %v", err)
		}
	}
	if len(items) > 0 {
		m.log.Debugf("applied %d queued candidates", len(items))
	}
}

// onLocalCandidate forwards a gathered candidate to the session target.
func (m *Manager) onLocalCandidate(s *session, c domain.Candidate) {
	if !s.target.Valid() {
		m.log.Warnf("dropping local candidate: no valid target")
		return
	}
	if err := m.send(s, domain.Message{Type: domain.MsgICECandidate, Candidate: &c}); err != nil {
		m.log.Warnf("send candidate: %v", err)
	}
}
