// Package host receives activity and control frames from the chat client.
//
// The wire format is JSON lines: one Frame per line. Activity frames are
// fire-and-forget; every command frame is answered with a single line
// "ok <detail>" or "error <detail>".
package host

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/endorses/notibridge/internal/pkg/types"
)

// Frame types
const (
	FrameActivity = "activity"
	FrameCommand  = "command"
)

// Control commands
const (
	CommandConnect    = "connect"
	CommandDisconnect = "disconnect"
	CommandDebug      = "debug"
	CommandStatus     = "status"
	CommandSet        = "set"
	CommandGet        = "get"
	CommandFilters    = "filters"
)

// Frame is one line of host input. Activity frames carry the record fields
// inline next to "type".
type Frame struct {
	Type string `json:"type"`

	*types.ActivityRecord

	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
}

// NewActivityFrame wraps rec
func NewActivityFrame(rec *types.ActivityRecord) *Frame {
	return &Frame{Type: FrameActivity, ActivityRecord: rec}
}

// NewCommandFrame builds a command frame
func NewCommandFrame(command string, args ...string) *Frame {
	return &Frame{Type: FrameCommand, Command: command, Args: args}
}

// DecodeFrame parses one line
func DecodeFrame(line []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(line, &f); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	switch f.Type {
	case FrameActivity:
		if f.ActivityRecord == nil {
			f.ActivityRecord = &types.ActivityRecord{}
		}
	case FrameCommand:
		if f.Command == "" {
			return nil, fmt.Errorf("command frame without command")
		}
	default:
		return nil, fmt.Errorf("unknown frame type %q", f.Type)
	}
	return &f, nil
}

// EncodeFrame renders f as one line including the trailing newline
func EncodeFrame(f *Frame) ([]byte, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// Reply prefixes
const (
	replyOK    = "ok"
	replyError = "error"
)

func formatReply(detail string, err error) string {
	if err != nil {
		return replyError + " " + oneLine(err.Error()) + "\n"
	}
	if detail == "" {
		return replyOK + "\n"
	}
	return replyOK + " " + oneLine(detail) + "\n"
}

// ParseReply splits a reply line into its detail and an error for "error" replies
func ParseReply(line string) (string, error) {
	line = strings.TrimRight(line, "\r\n")
	status, detail, _ := strings.Cut(line, " ")
	switch status {
	case replyOK:
		return detail, nil
	case replyError:
		return "", &CommandError{Detail: detail}
	default:
		return "", fmt.Errorf("unexpected reply %q", line)
	}
}

// CommandError is a command the bridge refused or failed to run
type CommandError struct {
	Detail string
}

func (e *CommandError) Error() string {
	return "command failed: " + e.Detail
}

// oneLine keeps multi-line details (YAML snapshots) on a single reply line
func oneLine(s string) string {
	s = strings.TrimRight(s, "\n")
	return strings.ReplaceAll(s, "\n", "\\n")
}

// UnescapeDetail reverses the newline escaping of a reply detail
func UnescapeDetail(s string) string {
	return strings.ReplaceAll(s, "\\n", "\n")
}
