// Package har turns a recorded HTTP Archive (HAR 1.2) into the ordered requests
// of a scenario, one step per recorded entry.
package har

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// HAR is the subset of the HAR 1.2 document needed to replay requests.
type HAR struct {
	Log *Log `json:"log"`
}

type Log struct {
	Version string   `json:"version"`
	Entries []*Entry `json:"entries"`
}

// Entry is one recorded request/response pair.
type Entry struct {
	StartedDateTime string    `json:"startedDateTime"`
	Request         *Request  `json:"request"`
	Response        *Response `json:"response"`
}

type Request struct {
	Method   string    `json:"method"`
	URL      string    `json:"url"`
	Headers  []*Header `json:"headers"`
	PostData *PostData `json:"postData,omitempty"`
}

type Response struct {
	Status int `json:"status"`
}

type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type PostData struct {
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
}

// ParseFile reads and parses a HAR file from disk.
func ParseFile(path string) (*HAR, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open HAR file: %w", err)
	}
	defer file.Close()
	return Parse(file)
}

// Parse reads and parses a HAR document.
func Parse(r io.Reader) (*HAR, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read HAR data: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty HAR data")
	}

	var h HAR
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("parse HAR JSON: %w", err)
	}
	if h.Log == nil {
		return nil, fmt.Errorf("invalid HAR: missing log")
	}
	return &h, nil
}
