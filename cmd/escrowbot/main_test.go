package main

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/escrowbot/internal/secret"
)

func TestRunSeal(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, runSeal(strings.NewReader("123:abc\n"), &out, "pw"))

	got, err := secret.Open(out.Bytes(), "pw")
	require.NoError(t, err)
	assert.Equal(t, "123:abc", got)

	require.Error(t, runSeal(strings.NewReader("123:abc"), &out, ""))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}
