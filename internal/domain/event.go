package domain

import "time"

// EventKind classifies a CallEvent.
type EventKind string

const (
	EventState    EventKind = "state"
	EventIncoming EventKind = "incoming"
	EventError    EventKind = "error"
)

// CallEvent is pushed to the UI layer.
type CallEvent struct {
	Kind   EventKind     `json:"kind"`
	State  CallState     `json:"state"`
	Peer   ParticipantID `json:"peer,omitempty"`
	CallID string        `json:"callId,omitempty"`
	Error  string        `json:"error,omitempty"`
	At     time.Time     `json:"at"`
}

// Diagnostics is a snapshot of transport state used for post-hoc debugging.
type Diagnostics struct {
	CallID          string             `json:"callId,omitempty"`
	State           CallState          `json:"state"`
	Target          ParticipantID      `json:"target,omitempty"`
	Signaling       SignalingState     `json:"signaling,omitempty"`
	Connection      ConnectionState    `json:"connection,omitempty"`
	ICEConnection   ICEConnectionState `json:"iceConnection,omitempty"`
	Gathering       GatheringState     `json:"gathering,omitempty"`
	PendingRemote   int                `json:"pendingCandidates"`
	ICERestarts     int                `json:"iceRestarts"`
	Reinits         int                `json:"reinits"`
	RendererBound   bool               `json:"rendererBound"`
	RendererIdleFor time.Duration      `json:"rendererIdleFor"`
}

// CallRecord summarises a finished call session.
type CallRecord struct {
	CallID      string        `json:"callId"`
	Local       ParticipantID `json:"local"`
	Remote      ParticipantID `json:"remote"`
	Outgoing    bool          `json:"outgoing"`
	FinalState  CallState     `json:"finalState"`
	Reason      string        `json:"reason"`
	ICERestarts int           `json:"iceRestarts"`
	Reinits     int           `json:"reinits"`
	StartedAt   time.Time     `json:"startedAt"`
	EndedAt     time.Time     `json:"endedAt"`
}

// CallSnapshot is the UI-visible view of the current call.
type CallSnapshot struct {
	State     CallState     `json:"state"`
	CallID    string        `json:"callId,omitempty"`
	Self      ParticipantID `json:"self"`
	Peer      ParticipantID `json:"peer,omitempty"`
	Outgoing  bool          `json:"outgoing"`
	Audio     bool          `json:"audio"`
	Video     bool          `json:"video"`
	Screen    bool          `json:"screen"`
	StartedAt time.Time     `json:"startedAt,omitempty"`
}
