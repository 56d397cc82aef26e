package platform

import "strings"

// These two substrings are the only ones the core matches literally
// against upstream error text (spec.md §4.4); every other upstream
// failure is treated as transient and handed back unwrapped so the
// Supervisor can retry the connection.
const (
	markerTwoIPs        = "used under two different IP addresses"
	markerDuplicateAuth = "AUTH_KEY_DUPLICATED"
)

// ClassifyError turns a raw upstream error into SessionRevokedError when
// its text matches one of the two known revocation markers, and returns
// it unchanged otherwise. Callers that need to retry transient failures
// wrap the unchanged error in TransientTransportError themselves.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, markerTwoIPs):
		return &SessionRevokedError{Reason: "session used under two different IP addresses"}
	case strings.Contains(msg, markerDuplicateAuth):
		return &SessionRevokedError{Reason: "duplicated auth key"}
	default:
		return err
	}
}
