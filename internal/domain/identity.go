package domain

import (
	"fmt"
	"strings"
	"unicode"
)

// ParticipantID addresses one participant on the signaling relay. It is
// built from tenant, session and entity identifiers and must stay stable
// for the lifetime of a call.
type ParticipantID string

const participantSep = "_"

// NewParticipantID joins tenant, session and entity into a ParticipantID.
func NewParticipantID(tenant, session, entity string) (ParticipantID, error) {
	parts := []string{tenant, session, entity}
	for i, p := range parts {
		if p == "" {
			return "", fmt.Errorf("participant id: part %d is empty", i)
		}
		if strings.ContainsAny(p, participantSep+"/") || strings.IndexFunc(p, unicode.IsSpace) >= 0 {
			return "", fmt.Errorf("participant id: part %q contains a reserved character", p)
		}
	}
	return ParticipantID(strings.Join(parts, participantSep)), nil
}

// Valid reports whether id is non-empty and free of whitespace and slashes.
func (id ParticipantID) Valid() bool {
	s := string(id)
	return s != "" && !strings.Contains(s, "/") && strings.IndexFunc(s, unicode.IsSpace) < 0
}

func (id ParticipantID) String() string { return string(id) }
