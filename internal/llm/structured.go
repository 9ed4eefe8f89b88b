package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StripFences removes a surrounding markdown code fence, which models
// sometimes add even when asked for raw JSON.
func StripFences(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// DecodeJSON parses a structured response into T.
func DecodeJSON[T any](text string) (T, error) {
	var v T
	body := StripFences(text)
	if body == "" {
		return v, &ParseError{Reason: "empty body"}
	}
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		return v, &ParseError{Reason: "invalid json", Err: err}
	}
	return v, nil
}

// RequireFields checks that text is a JSON object carrying every named
// top-level key with a non-null value.
func RequireFields(text string, fields ...string) error {
	obj, err := DecodeJSON[map[string]json.RawMessage](text)
	if err != nil {
		return err
	}
	for _, f := range fields {
		raw, ok := obj[f]
		if !ok || string(raw) == "null" {
			return &ParseError{Reason: fmt.Sprintf("missing field %q", f)}
		}
	}
	return nil
}
