package domain

import (
	"context"
	"time"
)

// Registrar associates a participant with the signaling relay.
type Registrar interface {
	Register(ctx context.Context, id ParticipantID) (*Registration, error)
}

// Signaler manages the signaling channel to the relay.
type Signaler interface {
	Connect(ctx context.Context) error
	// Send publishes msg to msg.Target. It fails with ErrChannelUnavailable
	// when the channel is down; nothing is buffered.
	Send(msg Message) error
	Connected() bool
	Close()
}

// SignalHandler receives inbound signaling traffic in delivery order.
type SignalHandler interface {
	OnSignal(msg Message)
	OnChannelError(err error)
}

// TransportHooks are invoked by a Transport from its own goroutines.
type TransportHooks struct {
	OnCandidate       func(Candidate)
	OnConnectionState func(ConnectionState)
	OnTrack           func(RemoteTrack)
}

// TransportFactory creates peer transports.
type TransportFactory interface {
	NewTransport(iceServers []ICEServer, hooks TransportHooks) (Transport, error)
}

// Transport is one negotiated peer connection.
type Transport interface {
	// CreateOffer creates an offer and sets it as the local description.
	CreateOffer(iceRestart bool) (SessionDescription, error)
	// CreateAnswer creates an answer and sets it as the local description.
	CreateAnswer() (SessionDescription, error)
	SetRemoteDescription(sd SessionDescription) error
	HasRemoteDescription() bool
	AddICECandidate(c Candidate) error
	SignalingState() SignalingState
	ConnectionState() ConnectionState
	ICEConnectionState() ICEConnectionState
	GatheringState() GatheringState
	AttachMedia(m LocalMedia) error
	RequestKeyframe(t RemoteTrack) error
	Close() error
}

// MediaConstraints selects which local devices to capture.
type MediaConstraints struct {
	Audio bool
	Video bool
}

// MediaSource acquires local capture devices.
type MediaSource interface {
	Acquire(ctx context.Context, c MediaConstraints) (LocalMedia, error)
}

// LocalMedia is the set of local tracks owned by one call session.
type LocalMedia interface {
	SetAudioEnabled(on bool) error
	SetVideoEnabled(on bool) error
	SetScreenShare(on bool) error
	AudioEnabled() bool
	VideoEnabled() bool
	ScreenSharing() bool
	Stop() error
}

// RemoteTrack is a track received from the remote participant.
type RemoteTrack interface {
	ID() string
	Kind() MediaKind
}

// Renderer plays back the remote video track.
type Renderer interface {
	// Attach binds t for playback. Attaching the already bound track
	// re-binds it without renegotiation.
	Attach(t RemoteTrack) error
	Detach()
	Bound() bool
	LastActivity() time.Time
}

// CallRecorder persists finished call sessions.
type CallRecorder interface {
	Record(ctx context.Context, rec CallRecord) error
}
