package signal

import (
	"encoding/json"
	"fmt"

	"campus_call/native/internal/domain"
)

// ErrorTopic is the shared topic on which the relay reports errors.
const ErrorTopic = "call.errors"

// PrivateTopic is the inbound topic of participant id.
func PrivateTopic(id domain.ParticipantID) string {
	return "call." + string(id)
}

// Frame ops.
const (
	opSubscribe = "subscribe"
	opPublish   = "publish"
	opMessage   = "message"
	opError     = "error"
	opAck       = "ack"
)

// frame is the websocket relay envelope.
type frame struct {
	Op      string          `json:"op"`
	Topic   string          `json:"topic,omitempty"`
	Body    json.RawMessage `json:"body,omitempty"`
	Message string          `json:"message,omitempty"`
}

func encodeSignal(msg domain.Message) ([]byte, error) {
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid signal: %w", err)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal signal: %w", err)
	}
	return data, nil
}

func decodeSignal(data []byte) (domain.Message, error) {
	var msg domain.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("unmarshal signal: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return msg, fmt.Errorf("invalid signal: %w", err)
	}
	return msg, nil
}

// relayError extracts a readable error from an error-topic payload, which
// is either a signaling message carrying errorMessage or plain text.
func relayError(data []byte) error {
	var msg domain.Message
	if err := json.Unmarshal(data, &msg); err == nil && msg.ErrorMessage != "" {
		return fmt.Errorf("%w: %s", domain.ErrRelay, msg.ErrorMessage)
	}
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		return fmt.Errorf("%w: %s", domain.ErrRelay, text)
	}
	return fmt.Errorf("%w: %s", domain.ErrRelay, string(data))
}
