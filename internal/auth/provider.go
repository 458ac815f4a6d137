// Package auth supplies bearer tokens to http steps. A Provider is shared by
// every iteration of a run, so implementations are safe for concurrent use.
package auth

import (
	"context"
	"net/http"
)

// Provider obtains tokens and injects them into requests.
type Provider interface {
	// Token returns a valid token, from cache when possible.
	Token(ctx context.Context) (string, error)

	// InjectHeader sets the Authorization header of req.
	InjectHeader(ctx context.Context, req *http.Request) error

	// Close releases idle connections or other resources.
	Close() error
}

// Static returns a pre-issued token without network calls.
type Static struct {
	token string
}

// NewStatic creates a provider for a token obtained elsewhere.
func NewStatic(token string) *Static {
	return &Static{token: token}
}

func (p *Static) Token(context.Context) (string, error) {
	return p.token, nil
}

func (p *Static) InjectHeader(_ context.Context, req *http.Request) error {
	req.Header.Set("Authorization", "Bearer "+p.token)
	return nil
}

func (p *Static) Close() error {
	return nil
}
