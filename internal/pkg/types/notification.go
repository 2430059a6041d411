package types

import "strings"

// Well-known notification field names.
const (
	FieldMessage   = "message"
	FieldBuddyName = "buddy-name"
	FieldChannel   = "channel"
)

// Field is a single named value of a notification. Notifications keep
// their fields ordered, so they are carried as a slice rather than a map.
type Field struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Notification is the outbound event shipped to the notification daemon.
type Notification struct {
	Category string  `json:"category"`
	Name     string  `json:"name"`
	Fields   []Field `json:"fields"`
}

// Get returns the value of the named field.
func (n *Notification) Get(key string) (string, bool) {
	for _, f := range n.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// Keys returns the field names in order.
func (n *Notification) Keys() []string {
	keys := make([]string, len(n.Fields))
	for i, f := range n.Fields {
		keys[i] = f.Key
	}
	return keys
}

func (n *Notification) String() string {
	var b strings.Builder
	b.WriteString(n.Category)
	b.WriteByte('/')
	b.WriteString(n.Name)
	for _, f := range n.Fields {
		b.WriteByte(' ')
		b.WriteString(f.Key)
		b.WriteByte('=')
		b.WriteString(f.Value)
	}
	return b.String()
}
