package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/torosent/stepfire/internal/auth"
	"github.com/torosent/stepfire/internal/variables"
)

// Request declares one templated request.
type Request struct {
	Method   string
	URL      string
	Headers  map[string]string
	Body     string
	BodyFile string
}

type RequestBuilder struct {
	method       string
	target       string
	headers      http.Header
	body         BodySource
	authProvider auth.Provider
}

// NewRequestBuilder validates r. A relative URL is resolved against baseURL.
// provider may be nil.
func NewRequestBuilder(baseURL string, r Request, provider auth.Provider) (*RequestBuilder, error) {
	target := resolveURL(baseURL, strings.TrimSpace(r.URL))
	if target == "" {
		return nil, errors.New("target URL is required")
	}

	method := strings.ToUpper(strings.TrimSpace(r.Method))
	if method == "" {
		method = http.MethodGet
	}

	body, err := NewBodySource(r.Body, r.BodyFile)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	for key, value := range r.Headers {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" || strings.ContainsAny(trimmedKey, "\r\n") {
			return nil, fmt.Errorf("invalid header key %q", key)
		}
		canonicalKey := http.CanonicalHeaderKey(trimmedKey)
		if strings.ContainsAny(value, "\r\n") {
			return nil, fmt.Errorf("invalid header value for %s", canonicalKey)
		}
		headers.Set(canonicalKey, value)
	}

	return &RequestBuilder{
		method:       method,
		target:       target,
		headers:      headers,
		body:         body,
		authProvider: provider,
	}, nil
}

func resolveURL(base, target string) string {
	if base == "" || target == "" || strings.Contains(target, "://") {
		return target
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(target, "/")
}

// Method is the request method.
func (b *RequestBuilder) Method() string {
	return b.method
}

// Build creates the request for one iteration. vars may be nil, in which case
// placeholders are left as written.
func (b *RequestBuilder) Build(ctx context.Context, vars variables.Store) (*http.Request, error) {
	if b == nil {
		return nil, errors.New("builder cannot be nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	expand := func(s string) string { return s }
	if vars != nil {
		expand = vars.Expand
	}

	reader, err := b.body.NewReader()
	if err != nil {
		return nil, err
	}
	length, hasLength := b.body.ContentLength()
	if vars != nil {
		raw, err := io.ReadAll(reader)
		_ = reader.Close()
		if err != nil {
			return nil, fmt.Errorf("read body for substitution: %w", err)
		}
		expanded := expand(string(raw))
		reader = io.NopCloser(strings.NewReader(expanded))
		length, hasLength = int64(len(expanded)), true
	}

	req, err := http.NewRequestWithContext(ctx, b.method, expand(b.target), reader)
	if err != nil {
		_ = reader.Close()
		return nil, err
	}
	if hasLength {
		req.ContentLength = length
	}

	req.Header = make(http.Header, len(b.headers))
	for key, values := range b.headers {
		for _, val := range values {
			req.Header.Add(key, expand(val))
		}
	}

	if b.authProvider != nil {
		if err := b.authProvider.InjectHeader(ctx, req); err != nil {
			return nil, fmt.Errorf("auth provider inject header: %w", err)
		}
	}
	return req, nil
}

func NewClient(timeout time.Duration) *http.Client {
	if timeout < 0 {
		timeout = 0
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// StatusError reports a response whose status was not expected.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// ErrorKind groups failures by status code, e.g. "HTTP 503".
func (e *StatusError) ErrorKind() string {
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// Retryable reports whether a request that failed with err may be retried:
// transport errors, 429 and 5xx responses. Context errors are never retried.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= 500
	}
	return true
}
