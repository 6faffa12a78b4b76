package log

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLog_FormatsFields(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, LevelDebug)
	defer InitWriter(&bytes.Buffer{}, LevelError)

	Info(CatExec, "chunk started", "doc", "d1", "chunk", "c1")

	line := buf.String()
	require.Contains(t, line, "[INFO] [exec] chunk started")
	require.Contains(t, line, "doc=d1")
	require.Contains(t, line, "chunk=c1")
	require.True(t, strings.HasSuffix(line, "\n"))
}

func TestLog_MinLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, LevelWarn)
	defer InitWriter(&bytes.Buffer{}, LevelError)

	Debug(CatOutput, "hidden")
	Warn(CatOutput, "shown")

	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), "shown")
}

func TestErrorErr_AppendsError(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, LevelDebug)
	defer InitWriter(&bytes.Buffer{}, LevelError)

	ErrorErr(CatStaging, "reset failed", errors.New("permission denied"), "path", "/x")
	Error(CatStaging, "odd", "orphan")

	out := buf.String()
	require.Contains(t, out, "path=/x error=permission denied")
	require.Contains(t, out, "orphan=<missing>")
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, LevelDebug, ParseLevel("DEBUG"))
	require.Equal(t, LevelWarn, ParseLevel("warning"))
	require.Equal(t, LevelError, ParseLevel("error"))
	require.Equal(t, LevelInfo, ParseLevel("bogus"))
}
