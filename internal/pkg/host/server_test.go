package host

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/endorses/notibridge/internal/pkg/constants"
	"github.com/endorses/notibridge/internal/pkg/dispatch"
	"github.com/endorses/notibridge/internal/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type activity struct {
	token dispatch.Token
	rec   *types.ActivityRecord
}

type recordingHandler struct {
	mu         sync.Mutex
	activities []activity
	commands   []string
	block      chan struct{}
}

func (h *recordingHandler) HandleActivity(ctx context.Context, token dispatch.Token, rec *types.ActivityRecord) error {
	if h.block != nil {
		select {
		case <-h.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.activities = append(h.activities, activity{token, rec})
	return nil
}

func (h *recordingHandler) HandleCommand(_ context.Context, command string, args []string) (string, error) {
	h.mu.Lock()
	h.commands = append(h.commands, command)
	h.mu.Unlock()

	switch command {
	case CommandStatus:
		return "connected", nil
	case CommandFilters:
		return "filters:\n  chat: \"+#go\"\n", nil
	case CommandGet:
		if len(args) != 1 {
			return "", errors.New("usage: get <key>")
		}
		return "value of " + args[0], nil
	default:
		return "", errors.New("unknown command " + command)
	}
}

func (h *recordingHandler) snapshot() []activity {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]activity(nil), h.activities...)
}

func socketPath(t *testing.T) string {
	t.Helper()
	// unix socket paths are length limited, keep it short
	dir, err := os.MkdirTemp("", "nb")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "host.sock")
}

func startServer(t *testing.T, h Handler) *Server {
	t.Helper()
	s := NewServer(socketPath(t), h)
	require.NoError(t, s.Listen())

	done := make(chan error, 1)
	go func() { done <- s.Serve(context.Background()) }()

	t.Cleanup(func() {
		require.NoError(t, s.Shutdown())
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("Serve did not return after Shutdown")
		}
	})
	return s
}

func dial(t *testing.T, s *Server) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, s.Path())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestServer_ActivityAndCommands(t *testing.T) {
	h := &recordingHandler{}
	s := startServer(t, h)
	c := dial(t, s)

	require.NoError(t, c.Activity(&types.ActivityRecord{Displayed: true, Message: "one"}))
	require.NoError(t, c.Activity(&types.ActivityRecord{Displayed: true, Message: "two"}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// replies are written after earlier frames on the stream were handled
	detail, err := c.Command(ctx, CommandStatus)
	require.NoError(t, err)
	assert.Equal(t, "connected", detail)

	got := h.snapshot()
	require.Len(t, got, 2)
	assert.Equal(t, "one", got[0].rec.Message)
	assert.Equal(t, "two", got[1].rec.Message)
	assert.Equal(t, got[0].token, got[1].token, "one stream, one token")

	detail, err = c.Command(ctx, CommandGet, "filters.chat")
	require.NoError(t, err)
	assert.Equal(t, "value of filters.chat", detail)

	_, err = c.Command(ctx, "reboot")
	var ce *CommandError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "unknown command reboot", ce.Detail)
}

func TestServer_MultilineReply(t *testing.T) {
	s := startServer(t, &recordingHandler{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	detail, err := SendCommand(ctx, s.Path(), CommandFilters)
	require.NoError(t, err)
	assert.Equal(t, "filters:\n  chat: \"+#go\"", detail)
}

func TestServer_TokenPerConnection(t *testing.T) {
	h := &recordingHandler{}
	s := startServer(t, h)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, msg := range []string{"a", "b"} {
		c := dial(t, s)
		require.NoError(t, c.Activity(&types.ActivityRecord{Message: msg}))
		_, err := c.Command(ctx, CommandStatus)
		require.NoError(t, err)
	}

	got := h.snapshot()
	require.Len(t, got, 2)
	assert.NotEqual(t, got[0].token, got[1].token)
}

func TestServer_MalformedFrameKeepsStream(t *testing.T) {
	h := &recordingHandler{}
	s := startServer(t, h)

	conn, err := net.Dial("unix", s.Path())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("not json\n\n{\"type\":\"bogus\"}\n{\"type\":\"command\",\"command\":\"status\"}\n"))
	require.NoError(t, err)

	buf := make([]byte, 64)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ok connected\n", string(buf[:n]))
}

func TestServer_OversizedFrameClosesStream(t *testing.T) {
	s := startServer(t, &recordingHandler{})

	conn, err := net.Dial("unix", s.Path())
	require.NoError(t, err)
	defer conn.Close()

	big := strings.Repeat("x", constants.MaxFrameSize+1)
	go func() { _, _ = conn.Write([]byte(big + "\n")) }()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = conn.Read(make([]byte, 1))
	assert.Error(t, err, "server hangs up")
}

func TestServer_ShutdownUnblocksHandlers(t *testing.T) {
	h := &recordingHandler{block: make(chan struct{})}
	s := NewServer(socketPath(t), h)
	require.NoError(t, s.Listen())

	done := make(chan error, 1)
	go func() { done <- s.Serve(context.Background()) }()

	c := dial(t, s)
	require.NoError(t, c.Activity(&types.ActivityRecord{Message: "stuck"}))
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, s.Shutdown())
	require.NoError(t, s.Shutdown(), "shutdown twice is a no-op")
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
	assert.Empty(t, h.snapshot())

	_, err := os.Stat(s.Path())
	assert.True(t, os.IsNotExist(err), "socket removed")
}

func TestServer_ContextCancelStops(t *testing.T) {
	s := NewServer(socketPath(t), &recordingHandler{})
	require.NoError(t, s.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestServer_ServeBeforeListen(t *testing.T) {
	s := NewServer(socketPath(t), &recordingHandler{})
	assert.ErrorIs(t, s.Serve(context.Background()), ErrNotListening)
}

func TestServer_StaleSocketRemoved(t *testing.T) {
	path := socketPath(t)

	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	ln.(*net.UnixListener).SetUnlinkOnClose(false)
	require.NoError(t, ln.Close())
	_, err = os.Stat(path)
	require.NoError(t, err, "stale socket left behind")

	s := NewServer(path, &recordingHandler{})
	require.NoError(t, s.Listen())
	require.NoError(t, s.Shutdown())
}

func TestServer_SocketInUse(t *testing.T) {
	first := startServer(t, &recordingHandler{})

	second := NewServer(first.Path(), &recordingHandler{})
	assert.ErrorContains(t, second.Listen(), "in use")
}

func TestServer_PathNotASocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regular")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	s := NewServer(path, &recordingHandler{})
	assert.ErrorContains(t, s.Listen(), "not a socket")
}

func TestServeStream_Stdin(t *testing.T) {
	h := &recordingHandler{}
	s := NewServer("", h)

	in := strings.NewReader(
		`{"type":"activity","message":"from stdin"}` + "\n" +
			`{"type":"command","command":"status"}` + "\n")
	var out bytes.Buffer

	token := dispatch.NewToken()
	require.NoError(t, s.ServeStream(context.Background(), token, in, &out))

	got := h.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, token, got[0].token)
	assert.Equal(t, "from stdin", got[0].rec.Message)
	assert.Equal(t, "ok connected\n", out.String())
}
