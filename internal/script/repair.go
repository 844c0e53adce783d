package script

import (
	"encoding/json"
	"strings"

	"shortform/internal/pkg/errors"
)

// previewLimit bounds how much raw text an error message carries. Callers
// persist the full raw response to a side channel for offline inspection.
const previewLimit = 160

// ParseDocument parses a raw model response into a Document, repairing the
// JSON if the first parse fails. It never repairs already-valid input.
func ParseDocument(raw string) (*Document, error) {
	trimmed := stripFences(strings.TrimSpace(raw))
	if trimmed == "" {
		return nil, errors.New(errors.CodeMalformedResponse, "empty model response")
	}

	if doc, err := decode(trimmed); err == nil {
		return doc, nil
	}

	repaired := RepairJSON(trimmed)
	doc, err := decode(repaired)
	if err != nil {
		e := errors.WrapWithCode(err, errors.CodeMalformedResponse,
			"script.parse", "response not repairable").
			WithField("preview", preview(raw))
		var syn *json.SyntaxError
		if errors.As(err, &syn) {
			e = e.WithField("offset", syn.Offset)
		}
		return nil, e
	}
	return doc, nil
}

// RepairJSON makes near-valid JSON strictly valid without altering its
// semantic content. Valid input is returned unchanged. Otherwise a single
// left-to-right scan replaces literal line breaks inside strings with a
// space (the dominant failure mode of model output, and safe to normalize
// for narration text), then closes any unterminated string and any
// brackets left open by truncation, innermost first.
func RepairJSON(s string) string {
	if json.Valid([]byte(s)) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + 8)

	var stack []byte
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]

		if inString {
			switch {
			case escaped:
				escaped = false
				b.WriteByte(c)
			case c == '\\':
				escaped = true
				b.WriteByte(c)
			case c == '"':
				inString = false
				b.WriteByte(c)
			case c == '\n' || c == '\r':
				// CRLF collapses to a single space.
				if c == '\r' && i+1 < len(s) && s[i+1] == '\n' {
					i++
				}
				b.WriteByte(' ')
			default:
				b.WriteByte(c)
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}':
			if len(stack) > 0 && stack[len(stack)-1] == '{' {
				stack = stack[:len(stack)-1]
			}
		case ']':
			if len(stack) > 0 && stack[len(stack)-1] == '[' {
				stack = stack[:len(stack)-1]
			}
		}
		b.WriteByte(c)
	}

	out := b.String()

	// Anything that still ends mid-structure was truncated by the model.
	if inString {
		if escaped {
			out = out[:len(out)-1]
		}
		out += `"`
	}
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			out += "}"
		} else {
			out += "]"
		}
	}

	return out
}

// stripFences removes a surrounding markdown code fence, if present, by
// prefix/suffix trim only.
func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func decode(s string) (*Document, error) {
	var doc Document
	if err := json.Unmarshal([]byte(s), &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func preview(s string) string {
	if len(s) <= 2*previewLimit {
		return s
	}
	return s[:previewLimit] + " … " + s[len(s)-previewLimit:]
}
