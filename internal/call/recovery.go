package call

import (
	"context"
	"time"

	"campus_call/native/internal/domain"
)

func (m *Manager) onConnectionState(s *session, cs domain.ConnectionState) {
	m.log.Infof("connection state: %s", cs)

	switch cs {
	case domain.ConnectionConnected:
		s.timers.stop(timerGrace, timerEscalate)
		if m.state == domain.StateNegotiating {
			m.setState(domain.StateActive, s)
		}

	case domain.ConnectionDisconnected:
		if s.timers.armed(timerGrace) {
			return
		}
		m.arm(s, timerGrace, m.cfg.DisconnectGrace, func() {
			if s.transport == nil || s.transport.ConnectionState() == domain.ConnectionConnected {
				return
			}
			m.recover(s, "still disconnected after grace period")
		})

	case domain.ConnectionFailed:
		s.timers.stop(timerGrace)
		m.recover(s, "connection failed")
	}
}

// recover escalates transport recovery: ICE restarts while the failures in
// the recovery window stay within MaxICERestarts, then a full reinit.
func (m *Manager) recover(s *session, reason string) {
	m.logDiagnostics(s, reason)

	now := m.now()
	cutoff := now.Add(-m.cfg.RecoveryWindow)
	kept := s.failures[:0]
	for _, at := range s.failures {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	s.failures = append(kept, now)

	if len(s.failures) <= m.cfg.MaxICERestarts {
		m.iceRestart(s)
		return
	}
	m.reinit(s)
}

func (m *Manager) iceRestart(s *session) {
	s.iceRestarts++
	m.log.Infof("ICE restart %d toward %s", s.iceRestarts, s.target)

	if s.transport != nil && s.transport.SignalingState() == domain.SignalingStable {
		m.createOffer(s, true)
	} else {
		m.log.Infof("ICE restart offer deferred: negotiation in progress")
	}

	m.arm(s, timerEscalate, m.cfg.RestartTimeout, func() {
		if s.transport != nil && s.transport.ConnectionState() == domain.ConnectionConnected {
			return
		}
		m.recover(s, "ICE restart did not recover")
	})
}

// reinit tears the transport down and negotiates a new one with the
// session target. Exceeding MaxReinits ends the call.
func (m *Manager) reinit(s *session) {
	s.reinits++
	if s.reinits > m.cfg.MaxReinits {
		m.log.Errorf("%v after %d reinits", domain.ErrRecoveryExhausted, m.cfg.MaxReinits)
		m.emitError(s, domain.ErrRecoveryExhausted)
		m.hangUp(s, domain.ErrRecoveryExhausted.Error())
		return
	}

	m.log.Warnf("reinitializing transport toward %s (%d/%d)", s.target, s.reinits, m.cfg.MaxReinits)
	s.failures = nil
	s.timers.stop(timerGrace, timerEscalate)

	if err := m.replaceTransport(s); err != nil {
		m.log.Errorf("reinit: %v", err)
		m.emitError(s, err)
		m.hangUp(s, "transport unavailable")
		return
	}
	m.createOffer(s, false)
}

func (m *Manager) onTrack(s *session, t domain.RemoteTrack) {
	m.log.Infof("remote %s track %s", t.Kind(), t.ID())
	if t.Kind() != domain.KindVideo {
		return
	}
	s.remoteVideo = t
	if m.deps.Renderer == nil {
		return
	}
	if err := m.deps.Renderer.Attach(t); err != nil {
		m.log.Warnf("attach renderer: %v", err)
	}
}

// startHealth runs the periodic playback check for s until release.
func (m *Manager) startHealth(s *session) {
	if s.healthCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.healthCancel, s.healthDone = cancel, done

	go func() {
		defer close(done)

		ticker := time.NewTicker(m.cfg.HealthInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			check := func() {
				if m.sess == s {
					m.checkHealth(s)
				}
			}
			select {
			case m.ops <- check:
			case <-ctx.Done():
				return
			case <-m.quit:
				return
			}
		}
	}()
}

func (m *Manager) stopHealth(s *session) {
	if s.healthCancel == nil {
		return
	}
	s.healthCancel()
	<-s.healthDone
	s.healthCancel = nil
}

// checkHealth logs diagnostics and re-binds stalled playback while the
// transport is connected. The transport is left alone.
func (m *Manager) checkHealth(s *session) {
	d := m.diagnostics(s)
	m.log.Debugf("health: %+v", d)

	t := s.transport
	if t == nil || t.ConnectionState() != domain.ConnectionConnected {
		return
	}
	r := m.deps.Renderer
	if r == nil || s.remoteVideo == nil {
		return
	}
	if r.Bound() && m.now().Sub(r.LastActivity()) <= m.cfg.StallThreshold {
		return
	}

	m.log.Warnf("playback stalled (bound: %v), re-binding remote video", r.Bound())
	if err := r.Attach(s.remoteVideo); err != nil {
		m.log.Warnf("re-bind renderer: %v", err)
		return
	}
	if err := t.RequestKeyframe(s.remoteVideo); err != nil {
		m.log.Debugf("request keyframe: %v", err)
	}
}

func (m *Manager) diagnostics(s *session) domain.Diagnostics {
	d := domain.Diagnostics{State: m.state}
	if s == nil {
		return d
	}
	d.CallID = s.id
	d.Target = s.target
	d.PendingRemote = s.pending.len()
	d.ICERestarts = s.iceRestarts
	d.Reinits = s.reinits
	if t := s.transport; t != nil {
		d.Signaling = t.SignalingState()
		d.Connection = t.ConnectionState()
		d.ICEConnection = t.ICEConnectionState()
		d.Gathering = t.GatheringState()
	}
	if r := m.deps.Renderer; r != nil {
		d.RendererBound = r.Bound()
		if last := r.LastActivity(); !last.IsZero() {
			d.RendererIdleFor = m.now().Sub(last)
		}
	}
	return d
}

func (m *Manager) logDiagnostics(s *session, reason string) {
	d := m.diagnostics(s)
	m.log.Warnf("%s: call=%s target=%s signaling=%s connection=%s ice=%s gathering=%s pending=%d restarts=%d reinits=%d",
		reason, d.CallID, d.Target, d.Signaling, d.Connection, d.ICEConnection, d.Gathering,
		d.PendingRemote, d.ICERestarts, d.Reinits)
}
