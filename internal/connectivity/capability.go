package connectivity

import "fmt"

// Capability says whether the attachment input is usable and what note to show beside it.
type Capability struct {
	Enabled bool   `json:"enabled"`
	Note    string `json:"note"`
}

// Policy decides attachment availability while offline.
type Policy string

const (
	// PolicyAnnotate keeps attachments enabled and notes that they will be saved.
	PolicyAnnotate Policy = "annotate"
	// PolicyDisable turns attachments off while offline.
	PolicyDisable Policy = "disable"
)

const (
	NoteOnline          = "(File will be uploaded)"
	NoteOfflineSaved    = "(Offline supported, file will be saved)"
	NoteOfflineDisabled = "(Attachments are unavailable offline)"
)

// ParsePolicy validates a configured policy name. Empty means PolicyAnnotate.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyAnnotate:
		return PolicyAnnotate, nil
	case PolicyDisable:
		return PolicyDisable, nil
	default:
		return "", fmt.Errorf("unknown attachment policy %q (want annotate or disable)", s)
	}
}

// Capability returns the attachment capability for the given connectivity.
func (p Policy) Capability(online bool) Capability {
	if online {
		return Capability{Enabled: true, Note: NoteOnline}
	}
	if p == PolicyDisable {
		return Capability{Enabled: false, Note: NoteOfflineDisabled}
	}
	return Capability{Enabled: true, Note: NoteOfflineSaved}
}
