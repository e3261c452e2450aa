package power

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// Command describes one outbound webhook call.
type Command struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Bearer  string            `json:"bearer,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

var errMissingURL = errors.New("command has no url")

func ParseCommand(raw string) (Command, error) {
	var cmd Command
	if err := json.Unmarshal([]byte(raw), &cmd); err != nil {
		return Command{}, err
	}
	if cmd.URL == "" {
		return Command{}, errMissingURL
	}
	return cmd, nil
}

func (c Command) method() string {
	if c.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(c.Method)
}

// header returns the request headers. Without explicit headers a JSON content
// type is assumed; bearer never overrides an explicit Authorization header.
func (c Command) header() http.Header {
	h := make(http.Header)
	if c.Headers == nil {
		h.Set("Content-Type", "application/json")
	}
	for k, v := range c.Headers {
		h.Set(k, v)
	}
	if c.Bearer != "" && h.Get("Authorization") == "" {
		h.Set("Authorization", "Bearer "+c.Bearer)
	}
	return h
}

// body returns nil when no body is configured. String bodies are sent as is,
// anything else as its JSON encoding.
func (c Command) body() []byte {
	if len(c.Body) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(c.Body, &s); err == nil {
		return []byte(s)
	}
	return c.Body
}
