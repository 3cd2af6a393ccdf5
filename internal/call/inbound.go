package call

import (
	"errors"

	"campus_call/native/internal/domain"
)

// OnSignal queues an inbound signaling message. Messages are handled in
// delivery order.
func (m *Manager) OnSignal(msg domain.Message) {
	m.post(func() { m.handleSignal(msg) })
}

// OnChannelError surfaces a channel or relay error to the UI.
func (m *Manager) OnChannelError(err error) {
	m.post(func() {
		if errors.Is(err, domain.ErrChannelUnavailable) {
			m.log.Warnf("signaling channel: %v", err)
		} else {
			m.log.Errorf("signaling channel: %v", err)
		}
		m.emitError(m.sess, err)
	})
}

func (m *Manager) handleSignal(msg domain.Message) {
	if err := msg.Validate(); err != nil {
		m.log.Warnf("dropping signal: %v", err)
		return
	}
	if msg.Target != m.cfg.Self || msg.Sender == m.cfg.Self {
		m.log.Debugf("dropping %s addressed %s -> %s", msg.Type, msg.Sender, msg.Target)
		return
	}

	if msg.Type == domain.MsgCallRequest {
		m.handleCallRequest(msg)
		return
	}

	s := m.sess
	if s == nil || msg.Sender != s.target {
		m.log.Debugf("dropping %s from %s: not the current peer", msg.Type, msg.Sender)
		return
	}
	if msg.CallID != "" && msg.CallID != s.id {
		m.log.Debugf("dropping %s for call %s: current call is %s", msg.Type, msg.CallID, s.id)
		return
	}

	switch msg.Type {
	case domain.MsgCallAccepted:
		m.handleAccepted(s)
	case domain.MsgCallRejected:
		reason := "rejected by peer"
		if msg.ErrorMessage != "" {
			reason += ": " + msg.ErrorMessage
		}
		m.emitError(s, errors.New(reason))
		m.release(s, reason)
	case domain.MsgHangUp:
		m.release(s, "ended by peer")
	case domain.MsgOffer:
		m.handleOffer(s, *msg.Offer)
	case domain.MsgAnswer:
		m.handleAnswer(s, *msg.Answer)
	case domain.MsgICECandidate:
		m.handleCandidate(s, *msg.Candidate)
	}
}

// handleCallRequest offers an incoming call. An outgoing attempt to a
// different peer is withdrawn; crossed requests between the same pair are
// settled by participant ID, the greater one yielding as callee. Requests
// arriving during a committed call are rejected as busy.
func (m *Manager) handleCallRequest(msg domain.Message) {
	if s := m.sess; s != nil {
		switch {
		case m.state.InCall():
			if msg.Sender == s.target {
				m.log.Debugf("duplicate call request from %s", msg.Sender)
				return
			}
			m.log.Infof("busy, rejecting call from %s", msg.Sender)
			busy := domain.Message{
				Type:         domain.MsgCallRejected,
				Sender:       m.cfg.Self,
				Target:       msg.Sender,
				CallID:       msg.CallID,
				ErrorMessage: "busy",
			}
			if err := m.sendTo(busy); err != nil {
				m.log.Warnf("reject %s: %v", msg.Sender, err)
			}
			return

		case msg.Sender == s.target:
			if m.cfg.Self < msg.Sender {
				m.log.Infof("crossed call with %s, keeping outgoing call", msg.Sender)
				return
			}
			m.log.Infof("crossed call with %s, yielding", msg.Sender)
			m.release(s, "crossed call, yielded")

		default:
			m.hangUp(s, "superseded by incoming call")
		}
	}

	s := m.newSession(msg.Sender, msg.CallID, false)
	m.setState(domain.StateIncomingOffered, s)
	m.emit(domain.CallEvent{Kind: domain.EventIncoming, State: m.state, Peer: s.target, CallID: s.id})
}

func (m *Manager) handleAccepted(s *session) {
	if m.state != domain.StateOutgoing {
		m.log.Debugf("ignoring CALL_ACCEPTED in state %s", m.state)
		return
	}
	if err := m.openTransport(s); err != nil {
		m.log.Errorf("open transport: %v", err)
		m.emitError(s, err)
		m.hangUp(s, "transport unavailable")
		return
	}
	m.setState(domain.StateNegotiating, s)
	m.startHealth(s)
	m.createOffer(s, false)
}
