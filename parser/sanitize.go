// Package parser turns raw completion text into product records.
package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrNoArrayFound is returned when a completion contains no bracketed array.
var ErrNoArrayFound = errors.New("parser: no JSON array in response")

var (
	arrayPattern = regexp.MustCompile(`(?s)\[.*?\]`)
	controlChars = regexp.MustCompile(`[\x00-\x1f\x7f]`)
)

// ParseKind classifies a sanitizer failure.
type ParseKind int

const (
	// ParseNoArray means no array substring was located.
	ParseNoArray ParseKind = iota
	// ParseDecode means the normalized array did not decode.
	ParseDecode
)

func (k ParseKind) String() string {
	switch k {
	case ParseNoArray:
		return "no_array"
	case ParseDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// ParseError carries the text that failed to parse and the underlying cause.
type ParseError struct {
	Kind ParseKind
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Kind, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Candidate is one raw object decoded from a completion.
type Candidate map[string]any

// Field returns the named field as a string, or "" when absent or null.
func (c Candidate) Field(key string) string {
	switch v := c[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}

// Sanitize locates the first array in a completion reply, repairs common
// quoting defects and decodes it. It never invents data: anything it cannot
// decode is reported as a *ParseError.
func Sanitize(text string) ([]Candidate, error) {
	raw := arrayPattern.FindString(text)
	if raw == "" {
		return nil, &ParseError{Kind: ParseNoArray, Text: text, Err: ErrNoArrayFound}
	}

	cleaned := NormalizeJSON(raw)

	var out []Candidate
	if err := json.Unmarshal([]byte(cleaned), &out); err != nil {
		return nil, &ParseError{Kind: ParseDecode, Text: cleaned, Err: err}
	}
	return out, nil
}

// NormalizeJSON applies the repair rules to a near-JSON array.
func NormalizeJSON(raw string) string {
	return controlChars.ReplaceAllString(repairQuoting(raw), "")
}

// repairQuoting walks the text once. An escape pair \n becomes a space and \"
// becomes a single quote; every other pair, \\ included, is copied as is. A
// bare double quote inside a key or string value becomes a single quote unless
// the next non-space character could legally follow a string token.
func repairQuoting(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inString := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\' && i+1 < len(s):
			i++
			switch s[i] {
			case 'n':
				b.WriteByte(' ')
			case '"':
				b.WriteByte('\'')
			default:
				b.WriteByte(c)
				b.WriteByte(s[i])
			}
		case c == '"' && !inString:
			inString = true
			b.WriteByte(c)
		case c == '"':
			if terminatesString(s[i+1:]) {
				inString = false
				b.WriteByte(c)
			} else {
				b.WriteByte('\'')
			}
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func terminatesString(rest string) bool {
	rest = strings.TrimLeft(rest, " \t\r\n")
	if rest == "" {
		return true
	}
	switch rest[0] {
	case ':', ',', '}', ']':
		return true
	}
	return false
}
