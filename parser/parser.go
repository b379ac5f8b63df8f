package parser

import (
	"encoding/json"
	"strings"

	"crimson-pen/apperrors"
	"crimson-pen/models"
)

const fence = "```"

// ExtractFields isolates the JSON object in a raw generation response.
//
// A fenced block wins over a brace scan of the whole text: when a ``` fence is
// present only the text between the first pair of fences is considered (the
// language annotation on the opening line is dropped). The payload is then the
// span from the first '{' to the last '}' of that text, decoded as a single
// object. Numbers decode as float64, the same as a reloaded history.
func ExtractFields(raw string) (models.Fields, error) {
	text := raw
	if inner, ok := fencedBlock(raw); ok {
		text = inner
	}

	payload, ok := braceSpan(text)
	if !ok {
		return nil, apperrors.MalformedResponse("no JSON object found in response", nil).
			WithContext("response_len", len(raw))
	}

	// the whole span must be one object; trailing values are rejected
	var fields models.Fields
	if err := json.Unmarshal([]byte(payload), &fields); err != nil {
		return nil, apperrors.MalformedResponse("response payload is not a JSON object", err)
	}
	if fields == nil {
		return nil, apperrors.MalformedResponse("response payload is null", nil)
	}
	return fields, nil
}

// fencedBlock returns the text strictly between the first pair of fences.
// An unclosed fence yields everything after the opening marker.
func fencedBlock(raw string) (string, bool) {
	start := strings.Index(raw, fence)
	if start < 0 {
		return "", false
	}
	rest := raw[start+len(fence):]

	// drop a language annotation such as "json" on the opening line
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 && isAnnotation(rest[:nl]) {
		rest = rest[nl+1:]
	}

	if end := strings.Index(rest, fence); end >= 0 {
		return rest[:end], true
	}
	return rest, true
}

func isAnnotation(s string) bool {
	s = strings.TrimSpace(s)
	for _, r := range s {
		if r == '{' || r == '}' || r == ' ' {
			return false
		}
	}
	return true
}

func braceSpan(text string) (string, bool) {
	open := strings.IndexByte(text, '{')
	closing := strings.LastIndexByte(text, '}')
	if open < 0 || closing < open {
		return "", false
	}
	return text[open : closing+1], true
}
