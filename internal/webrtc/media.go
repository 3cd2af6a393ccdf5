package webrtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"campus_call/native/internal/domain"

	"github.com/google/uuid"
	"github.com/pion/logging"
	pion "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

var errMediaStopped = errors.New("local media stopped")

// Source selects the local track a sample is written to.
type Source int

const (
	SourceMicrophone Source = iota
	SourceCamera
	SourceScreen
)

// Media holds the local tracks of one call session. Toggling swaps the
// track bound to the RTP sender and never renegotiates.
type Media struct {
	log logging.LeveledLogger

	mu          sync.Mutex
	audio       *pion.TrackLocalStaticSample
	camera      *pion.TrackLocalStaticSample
	screen      *pion.TrackLocalStaticSample
	audioSender *pion.RTPSender
	videoSender *pion.RTPSender
	audioOn     bool
	videoOn     bool
	screenOn    bool
	stopped     bool
}

func newMedia(streamID string, audio, video bool, log logging.LeveledLogger) (*Media, error) {
	m := &Media{log: log, audioOn: audio, videoOn: video}
	var err error
	if audio {
		m.audio, err = pion.NewTrackLocalStaticSample(pion.RTPCodecCapability{
			MimeType:  pion.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  2,
		}, "audio", streamID)
		if err != nil {
			return nil, fmt.Errorf("%w: microphone track: %v", domain.ErrMediaUnavailable, err)
		}
	}
	if video {
		h264 := pion.RTPCodecCapability{MimeType: pion.MimeTypeH264, ClockRate: 90000}
		m.camera, err = pion.NewTrackLocalStaticSample(h264, "camera", streamID)
		if err != nil {
			return nil, fmt.Errorf("%w: camera track: %v", domain.ErrMediaUnavailable, err)
		}
		m.screen, err = pion.NewTrackLocalStaticSample(h264, "screen", streamID)
		if err != nil {
			return nil, fmt.Errorf("%w: screen track: %v", domain.ErrMediaUnavailable, err)
		}
	}
	return m, nil
}

// bind adds the tracks to p, replacing any senders from a previous peer.
func (m *Media) bind(p *Peer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return errMediaStopped
	}

	m.audioSender, m.videoSender = nil, nil

	if m.audio != nil {
		sender, err := p.pc.AddTrack(m.audio)
		if err != nil {
			return fmt.Errorf("add audio track: %w", err)
		}
		m.audioSender = sender
		go drainRTCP(sender)
		if !m.audioOn {
			if err := sender.ReplaceTrack(nil); err != nil {
				return fmt.Errorf("mute audio: %w", err)
			}
		}
	} else if err := p.addRecvOnly(pion.RTPCodecTypeAudio); err != nil {
		return err
	}

	if m.camera != nil {
		sender, err := p.pc.AddTrack(m.activeVideo())
		if err != nil {
			return fmt.Errorf("add video track: %w", err)
		}
		m.videoSender = sender
		go drainRTCP(sender)
		if !m.videoOn {
			if err := sender.ReplaceTrack(nil); err != nil {
				return fmt.Errorf("disable video: %w", err)
			}
		}
	} else if err := p.addRecvOnly(pion.RTPCodecTypeVideo); err != nil {
		return err
	}

	return nil
}

func (m *Media) activeVideo() *pion.TrackLocalStaticSample {
	if m.screenOn {
		return m.screen
	}
	return m.camera
}

// SetAudioEnabled mutes or unmutes the microphone.
func (m *Media) SetAudioEnabled(on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return errMediaStopped
	}
	if m.audio == nil {
		return fmt.Errorf("%w: no microphone", domain.ErrMediaUnavailable)
	}
	m.audioOn = on
	if m.audioSender == nil {
		return nil
	}
	if on {
		return m.audioSender.ReplaceTrack(m.audio)
	}
	return m.audioSender.ReplaceTrack(nil)
}

// SetVideoEnabled turns the outgoing video (camera or screen) on or off.
func (m *Media) SetVideoEnabled(on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return errMediaStopped
	}
	if m.camera == nil {
		return fmt.Errorf("%w: no camera", domain.ErrMediaUnavailable)
	}
	m.videoOn = on
	if m.videoSender == nil {
		return nil
	}
	if on {
		return m.videoSender.ReplaceTrack(m.activeVideo())
	}
	return m.videoSender.ReplaceTrack(nil)
}

// SetScreenShare switches the outgoing video between camera and screen.
func (m *Media) SetScreenShare(on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return errMediaStopped
	}
	if m.screen == nil {
		return fmt.Errorf("%w: no video capture", domain.ErrMediaUnavailable)
	}
	m.screenOn = on
	if m.videoSender == nil || !m.videoOn {
		return nil
	}
	return m.videoSender.ReplaceTrack(m.activeVideo())
}

func (m *Media) AudioEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.audio != nil && m.audioOn
}

func (m *Media) VideoEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.camera != nil && m.videoOn
}

func (m *Media) ScreenSharing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.screenOn
}

// WriteSample feeds a captured sample into the track selected by src.
func (m *Media) WriteSample(src Source, s media.Sample) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return errMediaStopped
	}
	var track *pion.TrackLocalStaticSample
	switch src {
	case SourceMicrophone:
		track = m.audio
	case SourceCamera:
		track = m.camera
	case SourceScreen:
		track = m.screen
	}
	m.mu.Unlock()

	if track == nil {
		return fmt.Errorf("%w: source %d not captured", domain.ErrMediaUnavailable, src)
	}
	return track.WriteSample(s)
}

// Stop releases the capture tracks. It is idempotent.
func (m *Media) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil
	}
	m.stopped = true
	m.audioSender, m.videoSender = nil, nil
	m.log.Debug("local media stopped")
	return nil
}

// drainRTCP reads incoming RTCP so sender interceptors keep running.
func drainRTCP(sender *pion.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// DeviceSource hands out local media for the capture devices present on
// this host. It implements domain.MediaSource.
type DeviceSource struct {
	audio bool
	video bool
	log   logging.LeveledLogger
}

// NewDeviceSource describes which capture devices are available.
func NewDeviceSource(audio, video bool, lf logging.LoggerFactory) *DeviceSource {
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}
	return &DeviceSource{audio: audio, video: video, log: lf.NewLogger("webrtc")}
}

// Acquire captures the requested devices, degrading to whichever of audio
// or video is present. It fails only when nothing requested can be captured.
func (s *DeviceSource) Acquire(ctx context.Context, c domain.MediaConstraints) (domain.LocalMedia, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	audio := c.Audio && s.audio
	video := c.Video && s.video
	if c.Video && !s.video {
		s.log.Warn("camera unavailable, continuing without video")
	}
	if c.Audio && !s.audio {
		s.log.Warn("microphone unavailable, continuing without audio")
	}
	if !audio && !video {
		return nil, fmt.Errorf("%w: no capture device available", domain.ErrMediaUnavailable)
	}

	m, err := newMedia(uuid.NewString(), audio, video, s.log)
	if err != nil {
		return nil, err
	}
	s.log.Infof("local media captured (audio=%v video=%v)", audio, video)
	return m, nil
}
