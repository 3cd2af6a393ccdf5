package webrtc

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"campus_call/native/internal/domain"

	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/rtcp"
	pion "github.com/pion/webrtc/v4"
)

// FactoryConfig tunes the pion API shared by every peer.
type FactoryConfig struct {
	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAliveInterval   time.Duration
	LoggerFactory       logging.LoggerFactory
}

// Factory builds pion peer connections. It implements domain.TransportFactory.
type Factory struct {
	api *pion.API
	lf  logging.LoggerFactory
	log logging.LeveledLogger
}

// NewFactory registers H264 video and Opus audio, the default interceptors,
// and the configured ICE timeouts.
func NewFactory(cfg FactoryConfig) (*Factory, error) {
	lf := cfg.LoggerFactory
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}

	m := &pion.MediaEngine{}

	h264Codec := pion.RTPCodecParameters{
		RTPCodecCapability: pion.RTPCodecCapability{
			MimeType:     pion.MimeTypeH264,
			ClockRate:    90000,
			SDPFmtpLine:  "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
			RTCPFeedback: videoFeedback,
		},
		PayloadType: 102,
	}
	if err := m.RegisterCodec(h264Codec, pion.RTPCodecTypeVideo); err != nil {
		return nil, fmt.Errorf("register H264: %w", err)
	}

	opusCodec := pion.RTPCodecParameters{
		RTPCodecCapability: pion.RTPCodecCapability{
			MimeType:    pion.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	}
	if err := m.RegisterCodec(opusCodec, pion.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register Opus: %w", err)
	}

	i := &interceptor.Registry{}
	if err := pion.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := pion.SettingEngine{LoggerFactory: lf}
	if cfg.DisconnectedTimeout > 0 && cfg.FailedTimeout > 0 && cfg.KeepAliveInterval > 0 {
		se.SetICETimeouts(cfg.DisconnectedTimeout, cfg.FailedTimeout, cfg.KeepAliveInterval)
	}

	return &Factory{
		api: pion.NewAPI(
			pion.WithMediaEngine(m),
			pion.WithInterceptorRegistry(i),
			pion.WithSettingEngine(se),
		),
		lf:  lf,
		log: lf.NewLogger("webrtc"),
	}, nil
}

var videoFeedback = []pion.RTCPFeedback{
	{Type: "goog-remb"},
	{Type: "ccm", Parameter: "fir"},
	{Type: "nack"},
	{Type: "nack", Parameter: "pli"},
}

// NewTransport creates a peer connection wired to hooks.
func (f *Factory) NewTransport(iceServers []domain.ICEServer, hooks domain.TransportHooks) (domain.Transport, error) {
	var servers []pion.ICEServer
	for _, s := range iceServers {
		servers = append(servers, pion.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}

	pc, err := f.api.NewPeerConnection(pion.Configuration{
		ICEServers:   servers,
		BundlePolicy: pion.BundlePolicyMaxBundle,
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	p := &Peer{pc: pc, log: f.log}

	pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			p.log.Debug("ICE gathering complete")
			return
		}
		init := c.ToJSON()
		if isLoopback(init.Candidate) {
			p.log.Debug("filtering loopback ICE candidate")
			return
		}
		p.log.Debugf("local ICE candidate: %s", init.Candidate)
		if hooks.OnCandidate != nil {
			hooks.OnCandidate(fromCandidateInit(init))
		}
	})
	pc.OnICEConnectionStateChange(func(state pion.ICEConnectionState) {
		p.log.Infof("ICE connection state: %s", state)
	})
	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		p.log.Infof("peer connection state: %s", state)
		if hooks.OnConnectionState != nil {
			hooks.OnConnectionState(domain.ConnectionState(state.String()))
		}
	})
	pc.OnTrack(func(track *pion.TrackRemote, _ *pion.RTPReceiver) {
		codec := track.Codec()
		p.log.Infof("got track: kind=%s codec=%s pt=%d", track.Kind(), codec.MimeType, codec.PayloadType)
		if track.Kind() == pion.RTPCodecTypeAudio || hooks.OnTrack == nil {
			go drainTrack(track)
		}
		if hooks.OnTrack != nil {
			hooks.OnTrack(newRemoteTrack(track))
		}
	})

	return p, nil
}

// Peer wraps a pion PeerConnection. It implements domain.Transport.
type Peer struct {
	pc  *pion.PeerConnection
	log logging.LeveledLogger
}

// CreateOffer creates an SDP offer and sets it as the local description.
func (p *Peer) CreateOffer(iceRestart bool) (domain.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(&pion.OfferOptions{ICERestart: iceRestart})
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	p.log.Debugf("local SDP offer set (ice restart=%v)", iceRestart)
	return domain.SessionDescription{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

// CreateAnswer creates an SDP answer and sets it as the local description.
func (p *Peer) CreateAnswer() (domain.SessionDescription, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	p.log.Debug("local SDP answer set")
	return domain.SessionDescription{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

// SetRemoteDescription applies a remote offer or answer.
func (p *Peer) SetRemoteDescription(sd domain.SessionDescription) error {
	typ := pion.NewSDPType(sd.Type)
	if typ == pion.SDPTypeUnknown {
		return fmt.Errorf("set remote description: unknown sdp type %q", sd.Type)
	}
	if err := p.pc.SetRemoteDescription(pion.SessionDescription{Type: typ, SDP: sd.SDP}); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	p.log.Debugf("remote SDP %s set", typ)
	return nil
}

// HasRemoteDescription reports whether a remote description is applied.
func (p *Peer) HasRemoteDescription() bool {
	return p.pc.RemoteDescription() != nil
}

// AddICECandidate applies a remote ICE candidate.
func (p *Peer) AddICECandidate(c domain.Candidate) error {
	if err := p.pc.AddICECandidate(pion.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

func (p *Peer) SignalingState() domain.SignalingState {
	return domain.SignalingState(p.pc.SignalingState().String())
}

func (p *Peer) ConnectionState() domain.ConnectionState {
	return domain.ConnectionState(p.pc.ConnectionState().String())
}

func (p *Peer) ICEConnectionState() domain.ICEConnectionState {
	return domain.ICEConnectionState(p.pc.ICEConnectionState().String())
}

func (p *Peer) GatheringState() domain.GatheringState {
	return domain.GatheringState(p.pc.ICEGatheringState().String())
}

// AttachMedia adds the local tracks of m to this connection. Media must come
// from DeviceSource. A kind without a local track gets a recvonly transceiver
// so offers always carry audio and video m-lines.
func (p *Peer) AttachMedia(m domain.LocalMedia) error {
	if m == nil {
		return p.addRecvOnly(pion.RTPCodecTypeAudio, pion.RTPCodecTypeVideo)
	}
	media, ok := m.(*Media)
	if !ok {
		return fmt.Errorf("attach media: unsupported media type %T", m)
	}
	return media.bind(p)
}

func (p *Peer) addRecvOnly(kinds ...pion.RTPCodecType) error {
	for _, kind := range kinds {
		if _, err := p.pc.AddTransceiverFromKind(kind, pion.RTPTransceiverInit{
			Direction: pion.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("add %s transceiver: %w", kind, err)
		}
	}
	return nil
}

// RequestKeyframe sends a picture loss indication for t.
func (p *Peer) RequestKeyframe(t domain.RemoteTrack) error {
	rt, ok := t.(*RemoteTrack)
	if !ok {
		return errors.New("request keyframe: not a pion track")
	}
	if err := p.pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: rt.ssrc}}); err != nil {
		return fmt.Errorf("write PLI: %w", err)
	}
	return nil
}

// Close shuts down the PeerConnection.
func (p *Peer) Close() error {
	return p.pc.Close()
}

func fromCandidateInit(init pion.ICECandidateInit) domain.Candidate {
	return domain.Candidate{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	}
}

func isLoopback(candidate string) bool {
	return strings.Contains(candidate, "127.0.0.1") || strings.Contains(candidate, "::1 ")
}
