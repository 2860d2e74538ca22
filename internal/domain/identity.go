// Package domain contains core domain types for the togethr shopping assistant client.
package domain

// Identity is the guest credential issued by the backend on first visit.
type Identity struct {
	UserID string `json:"user_id"`
	Token  string `json:"-"`
}

// IsComplete reports whether both halves of the credential are present.
// A half-written pair is treated as absent.
func (i Identity) IsComplete() bool {
	return i.UserID != "" && i.Token != ""
}
