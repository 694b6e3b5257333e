package media

import (
	"context"
	"time"

	"callsignal/internal/calls"
)

// Provider is the provider-agnostic boundary to the external media service
// (SFU). Rules:
// - No media SDK calls outside this package.
// - Credentials are enrichment only: the call lifecycle never depends on a
//   Provider call succeeding.
type Provider interface {
	Name() string

	// Issue returns join credentials for every participant of the call.
	Issue(ctx context.Context, req CredentialRequest) (CredentialBundle, error)
}

// CredentialRequest asks for per-participant join credentials for one call.
type CredentialRequest struct {
	CallID       string     `json:"call_id"`
	Kind         calls.Kind `json:"kind"`
	Participants []string   `json:"participants"`
}

// Credential is one participant's grant to join the media room.
type Credential struct {
	ParticipantID string    `json:"participant_id"`
	Token         string    `json:"token"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// CredentialBundle is the opaque media_ref payload stored on the session.
type CredentialBundle struct {
	Provider    string       `json:"provider"`
	Room        string       `json:"room"`
	Credentials []Credential `json:"credentials"`
}
