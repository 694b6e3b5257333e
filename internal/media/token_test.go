package media

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"callsignal/internal/calls"

	"github.com/golang-jwt/jwt/v5"
)

func TestTokenIssuer_IssueGrants(t *testing.T) {
	issuer, err := NewTokenIssuer("media-secret", time.Hour)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	base := time.Unix(1700000000, 0).UTC()
	issuer.clock = func() time.Time { return base }

	bundle, err := issuer.Issue(context.Background(), CredentialRequest{
		CallID:       "call-1",
		Kind:         calls.KindVideo,
		Participants: []string{"alice", "bob"},
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if bundle.Provider != "token" || bundle.Room != "call-1" {
		t.Fatalf("unexpected bundle header: %+v", bundle)
	}
	if len(bundle.Credentials) != 2 {
		t.Fatalf("expected 2 credentials, got %d", len(bundle.Credentials))
	}

	for _, cred := range bundle.Credentials {
		var claims grantClaims
		parsed, err := jwt.ParseWithClaims(cred.Token, &claims, func(tok *jwt.Token) (any, error) {
			return []byte("media-secret"), nil
		}, jwt.WithTimeFunc(func() time.Time { return base }))
		if err != nil || !parsed.Valid {
			t.Fatalf("parse grant for %s: %v", cred.ParticipantID, err)
		}
		if claims.Subject != cred.ParticipantID {
			t.Fatalf("subject %q, want %q", claims.Subject, cred.ParticipantID)
		}
		if claims.Room != "call-1" || claims.Kind != "video" {
			t.Fatalf("unexpected grant claims: %+v", claims)
		}
		if !cred.ExpiresAt.Equal(base.Add(time.Hour)) {
			t.Fatalf("expiry %v, want %v", cred.ExpiresAt, base.Add(time.Hour))
		}
	}
}

func TestTokenIssuer_Validation(t *testing.T) {
	if _, err := NewTokenIssuer("", time.Hour); err == nil {
		t.Fatalf("expected error for empty secret")
	}

	issuer, _ := NewTokenIssuer("s", time.Hour)
	if _, err := issuer.Issue(context.Background(), CredentialRequest{CallID: "c"}); err == nil {
		t.Fatalf("expected error for missing participants")
	}
	if _, err := issuer.Issue(context.Background(), CredentialRequest{Participants: []string{"a"}}); err == nil {
		t.Fatalf("expected error for missing call id")
	}
}

func TestService_JoinCredentialsSerializesBundle(t *testing.T) {
	issuer, _ := NewTokenIssuer("media-secret", time.Hour)
	svc := NewService(issuer)

	ref, err := svc.JoinCredentials(context.Background(), "call-9", calls.KindVoice, []string{"alice", "bob"})
	if err != nil {
		t.Fatalf("join credentials: %v", err)
	}

	var bundle CredentialBundle
	if err := json.Unmarshal([]byte(ref), &bundle); err != nil {
		t.Fatalf("media ref is not a credential bundle: %v", err)
	}
	if bundle.Room != "call-9" || len(bundle.Credentials) != 2 {
		t.Fatalf("unexpected bundle: %+v", bundle)
	}
}
