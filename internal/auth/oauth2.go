package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// OAuth2 grant types.
const (
	GrantClientCredentials = "client_credentials"
	GrantPassword          = "password"
)

// OAuth2Config configures an OAuth2 token provider.
type OAuth2Config struct {
	Grant        string
	TokenURL     string
	ClientID     string
	ClientSecret string
	// Username and Password are sent with the password grant only.
	Username string
	Password string
	Scopes   []string
	// RefreshBefore renews a token this long before it expires.
	RefreshBefore time.Duration
	// HTTPClient defaults to a client with a 30s timeout.
	HTTPClient *http.Client
}

// OAuth2 fetches tokens from a token endpoint and caches them until shortly
// before expiry. Concurrent callers share one in-flight fetch.
type OAuth2 struct {
	cfg   OAuth2Config
	group singleflight.Group

	mu     sync.Mutex
	token  string
	expiry time.Time
	now    func() time.Time
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Error       string `json:"error,omitempty"`
	ErrorDesc   string `json:"error_description,omitempty"`
}

// NewOAuth2 validates cfg and returns a provider.
func NewOAuth2(cfg OAuth2Config) (*OAuth2, error) {
	switch cfg.Grant {
	case "":
		cfg.Grant = GrantClientCredentials
	case GrantClientCredentials, GrantPassword:
	default:
		return nil, fmt.Errorf("unsupported oauth2 grant %q", cfg.Grant)
	}
	if strings.TrimSpace(cfg.TokenURL) == "" {
		return nil, errors.New("oauth2 token url is required")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("oauth2 client id is required")
	}
	if cfg.Grant == GrantPassword && cfg.Username == "" {
		return nil, errors.New("oauth2 username is required for the password grant")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &OAuth2{cfg: cfg, now: time.Now}, nil
}

// Token returns the cached token or fetches a new one. A caller whose ctx ends
// stops waiting; the shared fetch continues for the others.
func (p *OAuth2) Token(ctx context.Context) (string, error) {
	if token, ok := p.cached(); ok {
		return token, nil
	}

	ch := p.group.DoChan("token", func() (any, error) {
		if token, ok := p.cached(); ok {
			return token, nil
		}
		return p.refresh(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (p *OAuth2) cached() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token != "" && p.now().Before(p.expiry) {
		return p.token, true
	}
	return "", false
}

func (p *OAuth2) refresh(ctx context.Context) (string, error) {
	resp, err := p.fetch(ctx)
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = resp.AccessToken
	p.expiry = p.now().Add(time.Duration(resp.ExpiresIn)*time.Second - p.cfg.RefreshBefore)
	return p.token, nil
}

func (p *OAuth2) fetch(ctx context.Context) (tokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", p.cfg.Grant)
	if p.cfg.Grant == GrantPassword {
		form.Set("username", p.cfg.Username)
		form.Set("password", p.cfg.Password)
	}
	if len(p.cfg.Scopes) > 0 {
		form.Set("scope", strings.Join(p.cfg.Scopes, " "))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return tokenResponse{}, fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(p.cfg.ClientID, p.cfg.ClientSecret)

	resp, err := p.cfg.HTTPClient.Do(req)
	if err != nil {
		return tokenResponse{}, fmt.Errorf("fetch token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return tokenResponse{}, fmt.Errorf("token request failed with status %d", resp.StatusCode)
	}
	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return tokenResponse{}, fmt.Errorf("decode token response: %w", err)
	}
	if tr.Error != "" {
		return tokenResponse{}, fmt.Errorf("oauth2 error: %s - %s", tr.Error, tr.ErrorDesc)
	}
	if tr.AccessToken == "" {
		return tokenResponse{}, errors.New("no access token in response")
	}
	return tr, nil
}

// InjectHeader sets a bearer Authorization header.
func (p *OAuth2) InjectHeader(ctx context.Context, req *http.Request) error {
	token, err := p.Token(ctx)
	if err != nil {
		return fmt.Errorf("get token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// Close releases idle connections of the token client.
func (p *OAuth2) Close() error {
	p.cfg.HTTPClient.CloseIdleConnections()
	return nil
}
