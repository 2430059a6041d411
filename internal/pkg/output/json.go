// Package output renders control command results for terminals and scripts.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// Result is the outcome of one control command
type Result struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	OK      bool     `json:"ok"`
	Detail  string   `json:"detail,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// NewResult builds a result from a command reply
func NewResult(command string, args []string, detail string, err error) Result {
	r := Result{Command: command, Args: args, OK: err == nil, Detail: detail}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// IsTTY reports whether w is a terminal
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd())) // #nosec G115 -- fd fits in int
}

// MarshalJSON marshals v to JSON.
// When pretty is true, output is indented with 2 spaces.
// When pretty is false, output is compact single-line JSON.
func MarshalJSON(v any, pretty bool) ([]byte, error) {
	if pretty {
		return json.MarshalIndent(v, "", "  ")
	}
	return json.Marshal(v)
}

// WriteResult writes r to w. As JSON it is pretty-printed on a terminal
// and compact otherwise; as text only the detail of a successful command
// is written.
func WriteResult(w io.Writer, r Result, asJSON bool) error {
	if asJSON {
		b, err := MarshalJSON(r, IsTTY(w))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(b))
		return err
	}
	if !r.OK || r.Detail == "" {
		return nil
	}
	_, err := fmt.Fprintln(w, r.Detail)
	return err
}
