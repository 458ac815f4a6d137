package har

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"slices"
	"strings"
)

// Options filter the recorded entries.
type Options struct {
	IncludeHosts   []string // empty keeps every host
	ExcludeHosts   []string
	IncludeMethods []string // empty keeps every method
	ExcludeStatic  bool     // drop scripts, styles, images and fonts
	IncludeHeaders bool     // replay recorded request headers
}

// DefaultOptions drops static assets and keeps request headers.
func DefaultOptions() Options {
	return Options{ExcludeStatic: true, IncludeHeaders: true}
}

// Step is one replayable request.
type Step struct {
	Name    string
	Method  string
	URL     string
	Headers map[string]string
	Body    string
}

var (
	staticExtensions = []string{
		".js", ".css", ".png", ".jpg", ".jpeg", ".gif", ".svg",
		".woff", ".woff2", ".ttf", ".eot", ".ico", ".map",
	}

	// Hop-by-hop and transport headers the client sets itself.
	skippedHeaders = map[string]bool{
		"connection":          true,
		"keep-alive":          true,
		"proxy-authenticate":  true,
		"proxy-authorization": true,
		"te":                  true,
		"trailers":            true,
		"transfer-encoding":   true,
		"upgrade":             true,
		"host":                true,
		"content-length":      true,
	}

	nameUnsafe = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
)

// Steps converts the kept entries in recorded order. Step names are unique and
// never contain '/', e.g. "003_POST_api_login".
func Steps(h *HAR, opts Options) ([]Step, error) {
	if h == nil || h.Log == nil {
		return nil, fmt.Errorf("HAR is nil or has no log")
	}

	var steps []Step
	for _, entry := range h.Log.Entries {
		if entry == nil || entry.Request == nil {
			continue
		}
		u, err := url.Parse(entry.Request.URL)
		if err != nil || u.Host == "" {
			continue
		}
		if !keep(entry.Request, u, opts) {
			continue
		}

		req := entry.Request
		step := Step{
			Name:   stepName(len(steps)+1, req.Method, u.Path),
			Method: strings.ToUpper(req.Method),
			URL:    req.URL,
		}
		if opts.IncludeHeaders {
			step.Headers = requestHeaders(req.Headers)
		}
		if req.PostData != nil {
			step.Body = req.PostData.Text
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func keep(req *Request, u *url.URL, opts Options) bool {
	if len(opts.IncludeHosts) > 0 && !slices.Contains(opts.IncludeHosts, u.Host) {
		return false
	}
	if slices.Contains(opts.ExcludeHosts, u.Host) {
		return false
	}
	if len(opts.IncludeMethods) > 0 && !slices.ContainsFunc(opts.IncludeMethods, func(m string) bool {
		return strings.EqualFold(m, req.Method)
	}) {
		return false
	}
	if opts.ExcludeStatic && isStaticAsset(u.Path) {
		return false
	}
	return true
}

func isStaticAsset(p string) bool {
	return slices.Contains(staticExtensions, strings.ToLower(path.Ext(p)))
}

func stepName(n int, method, p string) string {
	slug := strings.Trim(nameUnsafe.ReplaceAllString(strings.Trim(p, "/"), "_"), "_")
	if slug == "" {
		slug = "root"
	}
	return fmt.Sprintf("%03d_%s_%s", n, strings.ToUpper(method), slug)
}

func requestHeaders(headers []*Header) map[string]string {
	out := make(map[string]string, len(headers))
	for _, h := range headers {
		if h == nil || strings.HasPrefix(h.Name, ":") || skippedHeaders[strings.ToLower(h.Name)] {
			continue
		}
		out[h.Name] = h.Value
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
