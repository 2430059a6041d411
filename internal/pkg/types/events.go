package types

// BufferKind is the chat client's classification of the buffer a line was printed in.
type BufferKind string

const (
	BufferChannel BufferKind = "channel"
	BufferPrivate BufferKind = "private"
	BufferServer  BufferKind = "server"
)

// BufferInfo carries the buffer metadata the host exposes for a printed line.
// Channel is the channel name for channel buffers and the remote nick for private ones.
type BufferInfo struct {
	Plugin  string     `json:"plugin"`
	Kind    BufferKind `json:"kind"`
	Name    string     `json:"name"`
	Channel string     `json:"channel,omitempty"`
}

// ActivityRecord represents one line of chat activity delivered by the host.
// This type is shared between the host adapter and the classifier.
type ActivityRecord struct {
	Displayed     bool        `json:"displayed"`
	Buffer        *BufferInfo `json:"buffer,omitempty"`
	Tags          []string    `json:"tags,omitempty"`
	Message       string      `json:"message"`
	Highlight     bool        `json:"highlight"`
	FocusedBuffer string      `json:"focused_buffer,omitempty"`
}

// HasChannel reports whether the record's buffer carries a channel value.
func (r *ActivityRecord) HasChannel() bool {
	return r.Buffer != nil && r.Buffer.Channel != ""
}
