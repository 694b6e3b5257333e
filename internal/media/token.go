package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"callsignal/internal/calls"

	"github.com/golang-jwt/jwt/v5"
)

// TokenIssuer implements Provider for SFUs that accept HMAC-signed room
// grants (the media service verifies tokens with the shared secret; no
// round trip to the provider is needed to mint them).
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	clock  func() time.Time
}

func NewTokenIssuer(secret string, ttl time.Duration) (*TokenIssuer, error) {
	if secret == "" {
		return nil, errors.New("media token secret is required")
	}
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, clock: time.Now}, nil
}

func (t *TokenIssuer) Name() string { return "token" }

// grantClaims is the room-join grant shape the SFU expects.
type grantClaims struct {
	jwt.RegisteredClaims

	Room string `json:"room"`
	Kind string `json:"kind"`
}

func (t *TokenIssuer) Issue(ctx context.Context, req CredentialRequest) (CredentialBundle, error) {
	_ = ctx
	if req.CallID == "" || len(req.Participants) == 0 {
		return CredentialBundle{}, errors.New("call id and participants are required")
	}

	now := t.clock().UTC()
	exp := now.Add(t.ttl)

	bundle := CredentialBundle{Provider: t.Name(), Room: req.CallID}
	for _, participant := range req.Participants {
		claims := grantClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   participant,
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(exp),
			},
			Room: req.CallID,
			Kind: string(req.Kind),
		}
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
		if err != nil {
			return CredentialBundle{}, fmt.Errorf("sign grant for %s: %w", participant, err)
		}
		bundle.Credentials = append(bundle.Credentials, Credential{
			ParticipantID: participant,
			Token:         tok,
			ExpiresAt:     exp,
		})
	}
	return bundle, nil
}

// Service adapts a Provider to the lifecycle manager's MediaService port,
// serializing the bundle into the opaque media_ref string.
type Service struct {
	provider Provider
}

func NewService(p Provider) *Service { return &Service{provider: p} }

func (s *Service) JoinCredentials(ctx context.Context, callID string, kind calls.Kind, participants []string) (string, error) {
	bundle, err := s.provider.Issue(ctx, CredentialRequest{
		CallID:       callID,
		Kind:         kind,
		Participants: participants,
	})
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(bundle)
	if err != nil {
		return "", fmt.Errorf("marshal credential bundle: %w", err)
	}
	return string(b), nil
}
