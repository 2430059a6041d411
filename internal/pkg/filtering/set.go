package filtering

import (
	"errors"
	"fmt"
)

// Kind names one filter of a FilterSet
type Kind string

const (
	KindHighlight Kind = "highlight"
	KindChat      Kind = "chat"
	KindIM        Kind = "im"
	KindNotice    Kind = "notice"
	KindAction    Kind = "action"
	KindNotify    Kind = "notify"
	KindJoin      Kind = "join"
	KindLeave     Kind = "leave"
	KindQuit      Kind = "quit"

	// KindNick restricts notifications by the acting nickname
	KindNick Kind = "nick"
)

// Kinds lists every filter of a FilterSet in configuration order
var Kinds = []Kind{
	KindHighlight, KindChat, KindIM, KindNotice, KindAction,
	KindNotify, KindJoin, KindLeave, KindQuit, KindNick,
}

// ValidKind reports whether k names a filter
func ValidKind(k Kind) bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// FilterSet is the complete filter configuration. It is never mutated once
// built; changes produce a new set which replaces the old one wholesale.
type FilterSet struct {
	filters             map[Kind]*Filter
	ignoreCurrentBuffer bool
}

// NewFilterSet returns a set where every filter allows everything
func NewFilterSet() *FilterSet {
	s := &FilterSet{filters: make(map[Kind]*Filter, len(Kinds))}
	for _, k := range Kinds {
		s.filters[k] = AllowAll()
	}
	return s
}

// ParseSet validates and parses one specification per kind. Kinds missing
// from specs allow everything. Every invalid entry is reported.
func ParseSet(specs map[Kind]string, ignoreCurrentBuffer bool) (*FilterSet, error) {
	s := NewFilterSet()
	s.ignoreCurrentBuffer = ignoreCurrentBuffer

	var errs []error
	for k, spec := range specs {
		if !ValidKind(k) {
			errs = append(errs, fmt.Errorf("unknown filter kind %q", k))
			continue
		}
		f, err := ParseStrict(spec)
		if err != nil {
			var pe *ParseError
			if errors.As(err, &pe) {
				pe.Key = string(k)
			}
			errs = append(errs, err)
			continue
		}
		s.filters[k] = f
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return s, nil
}

// Get returns the filter for k; unknown kinds allow everything
func (s *FilterSet) Get(k Kind) *Filter {
	if f, ok := s.filters[k]; ok {
		return f
	}
	return AllowAll()
}

// IgnoreCurrentBuffer reports whether lines printed in the focused buffer are dropped
func (s *FilterSet) IgnoreCurrentBuffer() bool {
	return s.ignoreCurrentBuffer
}

// With returns a copy of the set with the filter for k replaced
func (s *FilterSet) With(k Kind, f *Filter) *FilterSet {
	next := s.clone()
	next.filters[k] = f
	return next
}

// WithIgnoreCurrentBuffer returns a copy of the set with the flag replaced
func (s *FilterSet) WithIgnoreCurrentBuffer(on bool) *FilterSet {
	next := s.clone()
	next.ignoreCurrentBuffer = on
	return next
}

// Specs returns the textual form of every filter
func (s *FilterSet) Specs() map[Kind]string {
	out := make(map[Kind]string, len(s.filters))
	for k, f := range s.filters {
		out[k] = f.String()
	}
	return out
}

func (s *FilterSet) clone() *FilterSet {
	next := &FilterSet{
		filters:             make(map[Kind]*Filter, len(s.filters)),
		ignoreCurrentBuffer: s.ignoreCurrentBuffer,
	}
	for k, f := range s.filters {
		next.filters[k] = f
	}
	return next
}
