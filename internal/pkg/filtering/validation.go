package filtering

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ParseError reports a malformed filter specification. The live filter is
// kept when an edit fails validation.
type ParseError struct {
	Key    string // configuration key, when known
	Spec   string
	Pos    int // byte offset of the problem
	Reason string
}

func (e *ParseError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s: invalid filter %q at offset %d: %s", e.Key, e.Spec, e.Pos, e.Reason)
	}
	return fmt.Sprintf("invalid filter %q at offset %d: %s", e.Spec, e.Pos, e.Reason)
}

// Validate checks a filter specification. After an optional "+" and an
// optional single space the remainder must be empty or a stream of
// non-empty names separated by single spaces; one trailing space is tolerated.
func Validate(spec string) error {
	pos := 0
	if strings.HasPrefix(spec, whitelistMarker) {
		pos += len(whitelistMarker)
	}
	if strings.HasPrefix(spec[pos:], " ") {
		pos++
	}

	end := len(spec)
	if end > pos && spec[end-1] == ' ' {
		end--
	}
	rest := spec[pos:end]
	if rest == "" {
		return nil
	}

	for i, r := range rest {
		if r == utf8.RuneError {
			return &ParseError{Spec: spec, Pos: pos + i, Reason: "invalid UTF-8"}
		}
		if r != ' ' && (unicode.IsSpace(r) || unicode.IsControl(r)) {
			return &ParseError{Spec: spec, Pos: pos + i, Reason: "names may only be separated by single spaces"}
		}
	}

	offset := pos
	for _, name := range strings.Split(rest, " ") {
		if name == "" {
			return &ParseError{Spec: spec, Pos: offset, Reason: "empty name"}
		}
		offset += len(name) + 1
	}
	return nil
}

// ParseStrict validates spec and parses it
func ParseStrict(spec string) (*Filter, error) {
	if err := Validate(spec); err != nil {
		return nil, err
	}
	return Parse(spec), nil
}
