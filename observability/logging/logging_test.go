package logging

import (
	"bytes"
	"encoding/json"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupRenamesKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("usvd", "test", WithWriter(&buf), WithLevel(slog.LevelDebug))
	defer slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	logger.Debug("trove opened", "owner", "0x01")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	require.Equal(t, "trove opened", record["message"])
	require.Equal(t, "DEBUG", record["severity"])
	require.Equal(t, "usvd", record["service"])
	require.Equal(t, "test", record["env"])
	require.Contains(t, record, "timestamp")
	require.NotContains(t, record, "msg")
}

func TestSetupBridgesStdLogAndFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "usvd.log")
	Setup("usvd", "", WithWriter(&buf), WithFile(path, 1, 1, 1))
	defer log.SetOutput(os.Stderr)

	log.Print("from std log")
	require.Contains(t, buf.String(), "from std log")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(raw), "from std log")
}

func TestMasking(t *testing.T) {
	require.Equal(t, RedactedValue, MaskField("jwt_secret", "s3cret").Value.String())
	require.Equal(t, "cdp", MaskField("operation", "cdp").Value.String())
	require.Equal(t, " ", MaskValue(" "))
	require.Equal(t, "postgres://usv:xxxxx@db:5432/journal", MaskDSN("postgres://usv:hunter2@db:5432/journal"))
	require.Equal(t, "file:usvd-journal.db", MaskDSN("file:usvd-journal.db"))
	require.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	require.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}
