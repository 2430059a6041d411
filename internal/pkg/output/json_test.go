package output

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewResult(t *testing.T) {
	r := NewResult("status", nil, "connected", nil)
	assert.True(t, r.OK)
	assert.Empty(t, r.Error)

	r = NewResult("set", []string{"filters.chat", "x"}, "", errors.New("command failed: bad"))
	assert.False(t, r.OK)
	assert.Equal(t, "command failed: bad", r.Error)
}

func TestMarshalJSON(t *testing.T) {
	v := map[string]int{"a": 1}

	compact, err := MarshalJSON(v, false)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(compact))

	pretty, err := MarshalJSON(v, true)
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"a\": 1\n}", string(pretty))
}

func TestWriteResult_Text(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteResult(&buf, NewResult("status", nil, "connected", nil), false))
	assert.Equal(t, "connected\n", buf.String())

	buf.Reset()
	require.NoError(t, WriteResult(&buf, NewResult("debug", nil, "", nil), false))
	assert.Empty(t, buf.String())

	buf.Reset()
	require.NoError(t, WriteResult(&buf, NewResult("get", []string{"x"}, "", errors.New("nope")), false))
	assert.Empty(t, buf.String(), "errors are reported by the caller")
}

func TestWriteResult_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteResult(&buf, NewResult("get", []string{"filters.chat"}, "+#go", nil), true))
	assert.JSONEq(t, `{"command":"get","args":["filters.chat"],"ok":true,"detail":"+#go"}`, buf.String())
	assert.False(t, IsTTY(&buf))
}
