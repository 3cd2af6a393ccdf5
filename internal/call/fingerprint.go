package call

import (
	"campus_call/native/internal/domain"

	"github.com/pion/sdp/v3"
)

// transportFingerprint returns the DTLS certificate fingerprint announced in
// raw, or "" when raw carries none. Every transport owns its certificate, so
// a changed fingerprint means the peer is talking from a new transport.
func transportFingerprint(raw string) string {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(raw)); err != nil {
		return ""
	}
	if fp, ok := desc.Attribute("fingerprint"); ok {
		return fp
	}
	for _, md := range desc.MediaDescriptions {
		if fp, ok := md.Attribute("fingerprint"); ok {
			return fp
		}
	}
	return ""
}

// peerReplacedTransport reports whether sd comes from a different remote
// transport than the one s is paired with.
func peerReplacedTransport(s *session, sd domain.SessionDescription) bool {
	fp := transportFingerprint(sd.SDP)
	return fp != "" && s.remoteFingerprint != "" && fp != s.remoteFingerprint
}
