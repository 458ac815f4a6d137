package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/torosent/stepfire/internal/auth"
	"github.com/torosent/stepfire/internal/variables"
)

func TestBuildExpandsPlaceholders(t *testing.T) {
	builder, err := NewRequestBuilder("https://api.example.com/", Request{
		Method:  "post",
		URL:     "/users/{{id}}",
		Headers: map[string]string{"x-user": "{{name}}", "Content-Type": "application/json"},
		Body:    `{"name":"{{name}}","token":"{{token}}"}`,
	}, nil)
	if err != nil {
		t.Fatalf("NewRequestBuilder() error = %v", err)
	}

	vars := variables.NewStore(map[string]string{"id": "42", "name": "alice"})
	vars.Set("token", "t-1")
	req, err := builder.Build(context.Background(), vars)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if req.Method != http.MethodPost {
		t.Errorf("Method = %s", req.Method)
	}
	if got := req.URL.String(); got != "https://api.example.com/users/42" {
		t.Errorf("URL = %s", got)
	}
	if got := req.Header.Get("X-User"); got != "alice" {
		t.Errorf("X-User = %q", got)
	}
	body, _ := io.ReadAll(req.Body)
	want := `{"name":"alice","token":"t-1"}`
	if string(body) != want {
		t.Errorf("body = %s, want %s", body, want)
	}
	if req.ContentLength != int64(len(want)) {
		t.Errorf("ContentLength = %d, want %d", req.ContentLength, len(want))
	}
}

func TestBuildWithoutVarsKeepsTemplate(t *testing.T) {
	builder, err := NewRequestBuilder("", Request{URL: "https://example.com/{{id}}"}, nil)
	if err != nil {
		t.Fatalf("NewRequestBuilder() error = %v", err)
	}
	req, err := builder.Build(context.Background(), nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if req.Method != http.MethodGet {
		t.Errorf("Method = %s, want GET default", req.Method)
	}
	if !strings.Contains(req.URL.Path, "{{id}}") {
		t.Errorf("URL = %s", req.URL)
	}
}

func TestNewRequestBuilderErrors(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want string
	}{
		{"no url", Request{}, "target URL is required"},
		{"bad header key", Request{URL: "http://x", Headers: map[string]string{"bad\nkey": "v"}}, "invalid header key"},
		{"bad header value", Request{URL: "http://x", Headers: map[string]string{"X": "a\r\nb"}}, "invalid header value"},
		{"body conflict", Request{URL: "http://x", Body: "a", BodyFile: "b.json"}, "cannot both"},
		{"missing body file", Request{URL: "http://x", BodyFile: filepath.Join(os.TempDir(), "stepfire-missing.json")}, "body file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRequestBuilder("", tt.req, nil)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("NewRequestBuilder() error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestBodyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payload.json")
	if err := os.WriteFile(path, []byte(`{"a":1}`), 0o600); err != nil {
		t.Fatal(err)
	}
	builder, err := NewRequestBuilder("", Request{Method: "PUT", URL: "http://example.com", BodyFile: path}, nil)
	if err != nil {
		t.Fatalf("NewRequestBuilder() error = %v", err)
	}
	for i := 0; i < 2; i++ {
		req, err := builder.Build(context.Background(), nil)
		if err != nil {
			t.Fatalf("Build() error = %v", err)
		}
		body, _ := io.ReadAll(req.Body)
		req.Body.Close()
		if string(body) != `{"a":1}` || req.ContentLength != 7 {
			t.Fatalf("body = %s length = %d", body, req.ContentLength)
		}
	}
}

func TestBuildInjectsAuth(t *testing.T) {
	builder, err := NewRequestBuilder("", Request{URL: "http://example.com"}, auth.NewStatic("secret"))
	if err != nil {
		t.Fatalf("NewRequestBuilder() error = %v", err)
	}
	req, err := builder.Build(context.Background(), nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if got := req.Header.Get("Authorization"); got != "Bearer secret" {
		t.Fatalf("Authorization = %q", got)
	}
}

func TestStatusError(t *testing.T) {
	err := fmt.Errorf("step: %w", &StatusError{StatusCode: 503, Body: "busy"})
	var se *StatusError
	if !errors.As(err, &se) || se.ErrorKind() != "HTTP 503" {
		t.Fatalf("StatusError = %+v", se)
	}
	if !strings.Contains(err.Error(), "unexpected status 503: busy") {
		t.Fatalf("Error() = %q", err)
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{context.Canceled, false},
		{fmt.Errorf("do: %w", context.DeadlineExceeded), false},
		{&StatusError{StatusCode: 429}, true},
		{&StatusError{StatusCode: 502}, true},
		{&StatusError{StatusCode: 404}, false},
		{errors.New("connection reset"), true},
	}
	for _, tt := range tests {
		if got := Retryable(tt.err); got != tt.want {
			t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestNewClientTimeout(t *testing.T) {
	if c := NewClient(-1); c.Timeout != 0 {
		t.Fatalf("Timeout = %s, want 0", c.Timeout)
	}
	if c := NewClient(5e9); c.Timeout != 5e9 {
		t.Fatalf("Timeout = %s", c.Timeout)
	}
}
