package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pion/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"ROOM_SERVER_URL", "ROOM_ID", "LOOPBACK", "URL_PARAMETERS",
		"LOG_LEVEL", "LISTEN_ADDR", "CLOSE_TIMEOUT", "HTTP_TIMEOUT", "CONFIG",
	} {
		key := EnvPrefix + "_" + k
		if v, ok := os.LookupEnv(key); ok {
			require.NoError(t, os.Unsetenv(key))
			t.Cleanup(func() { _ = os.Setenv(key, v) })
		}
	}
	// Keep a stray .env in the working directory out of the test.
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "apprtc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
room_server_url: http://localhost:8080
room_id: from-file
loopback: true
log_level: debug
close_timeout: 250ms
`)
	t.Setenv("APPRTC_ROOM_ID", "from-env")
	t.Setenv("APPRTC_HTTP_TIMEOUT", "3s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080", cfg.RoomServerURL)
	assert.Equal(t, "from-env", cfg.RoomID)
	assert.True(t, cfg.Loopback)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 250*time.Millisecond, cfg.CloseTimeout)
	assert.Equal(t, 3*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, ":8080", cfg.ListenAddr)
}

func TestLoad_FileFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(FileEnv, writeFile(t, "room_id: abc\n"))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "abc", cfg.RoomID)
}

func TestLoad_DotEnv(t *testing.T) {
	clearEnv(t)
	require.NoError(t, os.WriteFile(".env", []byte("APPRTC_ROOM_ID=dotenv\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("APPRTC_ROOM_ID") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "dotenv", cfg.RoomID)
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "close_timeout: soon\n"))
	assert.Error(t, err)

	t.Setenv("APPRTC_LOG_LEVEL", "loud")
	_, err = Load("")
	assert.Error(t, err)
}

func TestRoomConnectionParameters(t *testing.T) {
	cfg := Default()
	cfg.RoomID = "42"
	cfg.Loopback = true
	cfg.URLParameters = "debug=loopback"

	p := cfg.RoomConnectionParameters()
	assert.Equal(t, "https://appr.tc", p.RoomServerURL)
	assert.Equal(t, "42", p.RoomID)
	assert.True(t, p.Loopback)
	assert.Equal(t, "debug=loopback", p.URLParameters)
}

func TestParseLogLevel(t *testing.T) {
	for in, want := range map[string]logging.LogLevel{
		"":        logging.LogLevelInfo,
		"TRACE":   logging.LogLevelTrace,
		"debug":   logging.LogLevelDebug,
		"warning": logging.LogLevelWarn,
		"error":   logging.LogLevelError,
		"off":     logging.LogLevelDisabled,
	} {
		got, err := ParseLogLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	cfg := Default()
	cfg.LogLevel = "debug"
	lf, ok := cfg.LoggerFactory().(*logging.DefaultLoggerFactory)
	require.True(t, ok)
	assert.Equal(t, logging.LogLevelDebug, lf.DefaultLogLevel)
}
