// Package filtering implements the whitelist/blacklist name filters that
// decide which chat activity is turned into notifications.
//
// A filter is written as an optional "+" (whitelist) followed by a space
// separated list of names. Without the "+" the list is a blacklist:
//
//	""            allow everything
//	"#spam #bots" allow everything but #spam and #bots
//	"+#work"      allow only #work
//	"+" or "+*"   allow nothing
package filtering

import (
	"sort"
	"strings"
)

// Mode selects how a filter's members are interpreted
type Mode int

const (
	Blacklist Mode = iota // listed names are rejected
	Whitelist             // only listed names are accepted
)

func (m Mode) String() string {
	switch m {
	case Blacklist:
		return "blacklist"
	case Whitelist:
		return "whitelist"
	default:
		return "unknown"
	}
}

const (
	whitelistMarker = "+"
	wildcard        = "*"
)

// Filter is an immutable membership test over names
type Filter struct {
	mode    Mode
	members map[string]struct{}
}

// New builds a filter from a mode and member list. Empty names are ignored.
func New(mode Mode, names ...string) *Filter {
	f := &Filter{mode: mode, members: make(map[string]struct{}, len(names))}
	for _, n := range names {
		if n != "" {
			f.members[n] = struct{}{}
		}
	}
	return f
}

// AllowAll returns an empty blacklist
func AllowAll() *Filter {
	return New(Blacklist)
}

// DenyAll returns an empty whitelist
func DenyAll() *Filter {
	return New(Whitelist)
}

// Parse builds a filter from its textual form. It never fails: stray
// spaces are ignored and a lone "*" after "+" means "whitelist of nothing".
// Use Validate to reject malformed text before it replaces a live filter.
func Parse(spec string) *Filter {
	mode := Blacklist
	rest := spec
	if strings.HasPrefix(rest, whitelistMarker) {
		mode = Whitelist
		rest = rest[len(whitelistMarker):]
	}

	names := strings.Fields(rest)
	if mode == Whitelist && len(names) == 1 && names[0] == wildcard {
		names = nil
	}
	return New(mode, names...)
}

// Mode returns the filter mode
func (f *Filter) Mode() Mode {
	return f.mode
}

// RequiresMatch reports whether a name must be listed to pass. Callers use
// it to decide what an absent name means.
func (f *Filter) RequiresMatch() bool {
	return f.mode == Whitelist
}

// Len returns the number of members
func (f *Filter) Len() int {
	return len(f.members)
}

// Contains reports whether name is a member
func (f *Filter) Contains(name string) bool {
	_, ok := f.members[name]
	return ok
}

// Members returns the sorted member list
func (f *Filter) Members() []string {
	out := make([]string, 0, len(f.members))
	for n := range f.members {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Allows reports whether name passes the filter. An empty name is an absent
// name and never passes.
func (f *Filter) Allows(name string) bool {
	if name == "" {
		return false
	}
	if f.mode == Whitelist {
		return f.Contains(name)
	}
	return !f.Contains(name)
}

// Equal reports whether both filters have the same mode and member set
func (f *Filter) Equal(other *Filter) bool {
	if other == nil || f.mode != other.mode || len(f.members) != len(other.members) {
		return false
	}
	for n := range f.members {
		if !other.Contains(n) {
			return false
		}
	}
	return true
}

// String formats the filter back into its textual form
func (f *Filter) String() string {
	members := strings.Join(f.Members(), " ")
	if f.mode == Whitelist {
		switch members {
		case "":
			return whitelistMarker
		case wildcard:
			// "+*" reads back as deny-all; the repeat parses to the same single member
			return whitelistMarker + wildcard + " " + wildcard
		}
		return whitelistMarker + members
	}
	// a leading space keeps a "+name" member from reading as the whitelist marker
	if strings.HasPrefix(members, whitelistMarker) {
		return " " + members
	}
	return members
}
