package domain

// CallState is the lifecycle state of the local participant's call.
type CallState string

const (
	StateIdle            CallState = "idle"
	StateOutgoing        CallState = "outgoing"
	StateIncomingOffered CallState = "incoming"
	StateNegotiating     CallState = "negotiating"
	StateActive          CallState = "active"
	StateEnded           CallState = "ended"
)

// Terminal reports whether no session exists in this state.
func (s CallState) Terminal() bool {
	return s == StateIdle || s == StateEnded
}

// InCall reports whether the local participant has committed to a call.
func (s CallState) InCall() bool {
	return s == StateIncomingOffered || s == StateNegotiating || s == StateActive
}

// Transport state strings. Values match pion's String() forms so adapters
// can convert with a plain type conversion.
type (
	SignalingState     string
	ConnectionState    string
	ICEConnectionState string
	GatheringState     string
)

const (
	SignalingStable             SignalingState = "stable"
	SignalingHaveLocalOffer     SignalingState = "have-local-offer"
	SignalingHaveRemoteOffer    SignalingState = "have-remote-offer"
	SignalingHaveLocalPranswer  SignalingState = "have-local-pranswer"
	SignalingHaveRemotePranswer SignalingState = "have-remote-pranswer"
	SignalingClosed             SignalingState = "closed"
)

const (
	ConnectionNew          ConnectionState = "new"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionFailed       ConnectionState = "failed"
	ConnectionClosed       ConnectionState = "closed"
)

// MediaKind distinguishes audio from video tracks.
type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)
