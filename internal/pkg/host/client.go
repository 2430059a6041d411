package host

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/endorses/notibridge/internal/pkg/types"
)

// Client talks to a running bridge over its host socket
type Client struct {
	conn   net.Conn
	reader *bufio.Reader
}

// Dial connects to the bridge socket at path
func Dial(ctx context.Context, path string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to bridge at %s: %w", path, err)
	}
	return &Client{conn: conn, reader: bufio.NewReader(conn)}, nil
}

// Activity sends one activity record. No reply is expected.
func (c *Client) Activity(rec *types.ActivityRecord) error {
	return c.write(NewActivityFrame(rec))
}

// Command sends a control command and waits for its reply
func (c *Client) Command(ctx context.Context, command string, args ...string) (string, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(deadline)
		defer func() { _ = c.conn.SetDeadline(time.Time{}) }()
	}

	if err := c.write(NewCommandFrame(command, args...)); err != nil {
		return "", err
	}
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read reply: %w", err)
	}
	detail, err := ParseReply(line)
	if err != nil {
		return "", err
	}
	return UnescapeDetail(detail), nil
}

// Close closes the connection
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) write(f *Frame) error {
	b, err := EncodeFrame(f)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	if _, err := c.conn.Write(b); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// SendCommand dials path, runs one command and closes the connection
func SendCommand(ctx context.Context, path, command string, args ...string) (string, error) {
	c, err := Dial(ctx, path)
	if err != nil {
		return "", err
	}
	defer c.Close()
	return c.Command(ctx, command, args...)
}
