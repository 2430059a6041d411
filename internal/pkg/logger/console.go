package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/endorses/notibridge/internal/pkg/constants"
	"golang.org/x/term"
)

// LogEntry represents a single log entry captured by the debug surface
type LogEntry struct {
	Time    time.Time
	Level   slog.Level
	Message string
	Attrs   string // Formatted key=value pairs
}

// ConsoleBuffer is a ring buffer for log entries
type ConsoleBuffer struct {
	entries []LogEntry
	size    int
	head    int
	count   int
	mu      sync.RWMutex
}

// NewConsoleBuffer creates a new ring buffer with the given capacity
func NewConsoleBuffer(capacity int) *ConsoleBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &ConsoleBuffer{
		entries: make([]LogEntry, capacity),
		size:    capacity,
	}
}

// Add adds a log entry to the buffer
func (b *ConsoleBuffer) Add(entry LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[b.head] = entry
	b.head = (b.head + 1) % b.size
	if b.count < b.size {
		b.count++
	}
}

// GetRecent returns the N most recent entries (newest first)
func (b *ConsoleBuffer) GetRecent(n int) []LogEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n > b.count {
		n = b.count
	}
	if n <= 0 {
		return nil
	}

	result := make([]LogEntry, n)
	// head points to the next write position, so head-1 is the most recent
	for i := 0; i < n; i++ {
		idx := (b.head - 1 - i + b.size) % b.size
		result[i] = b.entries[idx]
	}
	return result
}

// Clear empties the buffer
func (b *ConsoleBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head = 0
	b.count = 0
}

// Count returns the number of entries in the buffer
func (b *ConsoleBuffer) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// DebugSurface is the diagnostic output toggled by the control command.
// While enabled it captures every record, debug included, into a ring buffer
// and optionally mirrors it to a writer.
type DebugSurface struct {
	enabled atomic.Bool
	buffer  *ConsoleBuffer

	mu     sync.Mutex
	out    io.Writer
	styled bool
}

var (
	surface     *DebugSurface
	surfaceOnce sync.Once
)

// Surface returns the process debug surface
func Surface() *DebugSurface {
	surfaceOnce.Do(func() {
		surface = NewDebugSurface(constants.DebugSurfaceCapacity)
	})
	return surface
}

// NewDebugSurface creates a disabled surface keeping the last capacity entries
func NewDebugSurface(capacity int) *DebugSurface {
	return &DebugSurface{buffer: NewConsoleBuffer(capacity)}
}

// SetOutput mirrors captured entries to w. Styling is used only when w is a terminal.
func (s *DebugSurface) SetOutput(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out = w
	s.styled = false
	if f, ok := w.(*os.File); ok {
		s.styled = term.IsTerminal(int(f.Fd())) // #nosec G115 -- fd fits in int
	}
}

// Enabled reports whether the surface is capturing
func (s *DebugSurface) Enabled() bool {
	return s.enabled.Load()
}

// SetEnabled switches capturing on or off
func (s *DebugSurface) SetEnabled(on bool) {
	s.enabled.Store(on)
}

// Toggle flips the surface and returns the new state
func (s *DebugSurface) Toggle() bool {
	for {
		old := s.enabled.Load()
		if s.enabled.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

// Buffer returns the ring buffer backing the surface
func (s *DebugSurface) Buffer() *ConsoleBuffer {
	return s.buffer
}

// Printf writes a free-form line to the surface when it is enabled
func (s *DebugSurface) Printf(format string, args ...any) {
	if !s.Enabled() {
		return
	}
	s.add(LogEntry{Time: time.Now(), Level: slog.LevelDebug, Message: fmt.Sprintf(format, args...)})
}

func (s *DebugSurface) capture(r slog.Record, preset []slog.Attr, group string) {
	var b strings.Builder
	write := func(a slog.Attr) bool {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		if group != "" {
			b.WriteString(group)
			b.WriteByte('.')
		}
		fmt.Fprintf(&b, "%s=%v", a.Key, a.Value.Any())
		return true
	}
	for _, a := range preset {
		write(a)
	}
	r.Attrs(write)

	s.add(LogEntry{Time: r.Time, Level: r.Level, Message: r.Message, Attrs: b.String()})
}

func (s *DebugSurface) add(e LogEntry) {
	s.buffer.Add(e)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.out == nil {
		return
	}
	_, _ = io.WriteString(s.out, FormatEntry(e, s.styled)+"\n")
}

var (
	badgeStyles = map[slog.Level]lipgloss.Style{
		slog.LevelDebug: lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		slog.LevelInfo:  lipgloss.NewStyle().Foreground(lipgloss.Color("6")),
		slog.LevelWarn:  lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true),
		slog.LevelError: lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
	}
	attrStyle = lipgloss.NewStyle().Faint(true)
)

// FormatEntry renders an entry as a single human-readable line
func FormatEntry(e LogEntry, styled bool) string {
	badge := FormatLevel(e.Level)
	attrs := e.Attrs
	if styled {
		if st, ok := badgeStyles[e.Level]; ok {
			badge = st.Render(badge)
		}
		if attrs != "" {
			attrs = attrStyle.Render(attrs)
		}
	}
	line := e.Time.Format("15:04:05.000") + " " + badge + " " + e.Message
	if attrs != "" {
		line += " " + attrs
	}
	return line
}

// FormatLevel returns a short string for the log level
func FormatLevel(level slog.Level) string {
	switch level {
	case slog.LevelDebug:
		return "DBG"
	case slog.LevelInfo:
		return "INF"
	case slog.LevelWarn:
		return "WRN"
	case slog.LevelError:
		return "ERR"
	default:
		return "???"
	}
}
