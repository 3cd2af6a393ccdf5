package call

import (
	"context"
	"errors"
	"fmt"

	"campus_call/native/internal/domain"
)

// StartCall calls target. Any existing session is torn down first. The
// participant is registered if needed; registration, media or channel
// failures abort the call and are returned.
func (m *Manager) StartCall(ctx context.Context, target domain.ParticipantID) error {
	if !target.Valid() || target == m.cfg.Self {
		return fmt.Errorf("%w: %q", domain.ErrNoTarget, target)
	}
	if _, err := m.Register(ctx); err != nil {
		m.log.Errorf("start call: %v", err)
		m.post(func() { m.emitError(nil, err) })
		return err
	}

	if err := m.do(func() {
		if m.sess != nil {
			m.hangUp(m.sess, "superseded by new call")
		}
	}); err != nil {
		return err
	}

	media, err := m.acquire(ctx)
	if err != nil {
		m.post(func() { m.emitError(nil, err) })
		return err
	}

	var callErr error
	if err := m.do(func() {
		if m.sess != nil {
			m.hangUp(m.sess, "superseded by new call")
		}
		s := m.newSession(target, "", true)
		s.media = media
		if callErr = m.send(s, domain.Message{Type: domain.MsgCallRequest}); callErr != nil {
			m.emitError(s, callErr)
			m.release(s, "call request not delivered")
			return
		}
		m.setState(domain.StateOutgoing, s)
	}); err != nil {
		_ = media.Stop()
		return err
	}
	return callErr
}

// Accept answers the offered incoming call.
func (m *Manager) Accept(ctx context.Context) error {
	var s *session
	if err := m.do(func() {
		if m.state == domain.StateIncomingOffered {
			s = m.sess
		}
	}); err != nil {
		return err
	}
	if s == nil {
		return fmt.Errorf("%w: no incoming call to accept", domain.ErrInvalidState)
	}

	media, acqErr := m.acquire(ctx)

	var callErr error
	if err := m.do(func() {
		if m.sess != s || m.state != domain.StateIncomingOffered {
			callErr = fmt.Errorf("%w: incoming call withdrawn", domain.ErrInvalidState)
			if media != nil {
				_ = media.Stop()
			}
			return
		}
		if acqErr != nil {
			callErr = acqErr
			m.emitError(s, acqErr)
			if err := m.send(s, domain.Message{Type: domain.MsgCallRejected, ErrorMessage: "media unavailable"}); err != nil {
				m.log.Warnf("reject %s: %v", s.target, err)
			}
			m.release(s, "media unavailable")
			return
		}

		s.media = media
		if callErr = m.send(s, domain.Message{Type: domain.MsgCallAccepted}); callErr != nil {
			m.emitError(s, callErr)
			m.release(s, "accept not delivered")
			return
		}
		if callErr = m.openTransport(s); callErr != nil {
			m.emitError(s, callErr)
			m.hangUp(s, "transport unavailable")
			return
		}
		m.setState(domain.StateNegotiating, s)
		m.startHealth(s)
	}); err != nil {
		if media != nil {
			_ = media.Stop()
		}
		return err
	}
	return callErr
}

// Reject declines the offered incoming call.
func (m *Manager) Reject(ctx context.Context) error {
	var callErr error
	if err := m.do(func() {
		s := m.sess
		if m.state != domain.StateIncomingOffered || s == nil {
			callErr = fmt.Errorf("%w: no incoming call to reject", domain.ErrInvalidState)
			return
		}
		callErr = m.send(s, domain.Message{Type: domain.MsgCallRejected, ErrorMessage: "declined"})
		m.release(s, "rejected locally")
	}); err != nil {
		return err
	}
	return callErr
}

// End hangs up the current call. Ending when no call exists is a no-op.
func (m *Manager) End(ctx context.Context) error {
	return m.do(func() {
		if m.sess != nil {
			m.hangUp(m.sess, "ended locally")
		}
	})
}

// ToggleAudio mutes or unmutes the microphone.
func (m *Manager) ToggleAudio(ctx context.Context) error {
	return m.toggle(func(media domain.LocalMedia) error {
		return media.SetAudioEnabled(!media.AudioEnabled())
	})
}

// ToggleVideo turns the camera on or off.
func (m *Manager) ToggleVideo(ctx context.Context) error {
	return m.toggle(func(media domain.LocalMedia) error {
		return media.SetVideoEnabled(!media.VideoEnabled())
	})
}

// ToggleScreenShare switches the video sender between camera and screen.
func (m *Manager) ToggleScreenShare(ctx context.Context) error {
	return m.toggle(func(media domain.LocalMedia) error {
		return media.SetScreenShare(!media.ScreenSharing())
	})
}

func (m *Manager) toggle(fn func(domain.LocalMedia) error) error {
	var callErr error
	if err := m.do(func() {
		s := m.sess
		if s == nil || s.media == nil {
			callErr = fmt.Errorf("%w: no local media", domain.ErrInvalidState)
			return
		}
		if callErr = fn(s.media); callErr != nil {
			return
		}
		m.emit(domain.CallEvent{Kind: domain.EventState, State: m.state, Peer: s.target, CallID: s.id})
	}); err != nil {
		return err
	}
	return callErr
}

func (m *Manager) acquire(ctx context.Context) (domain.LocalMedia, error) {
	media, err := m.deps.Media.Acquire(ctx, m.cfg.Media)
	if err != nil {
		if !errors.Is(err, domain.ErrMediaUnavailable) {
			err = fmt.Errorf("%w: %v", domain.ErrMediaUnavailable, err)
		}
		m.log.Errorf("acquire media: %v", err)
		return nil, err
	}
	return media, nil
}
