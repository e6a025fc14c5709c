package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dkerrors "github.com/vinayprograms/drainkit/errors"
	"github.com/vinayprograms/drainkit/logging"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 30*time.Second, cfg.Shutdown.GracePeriod.Duration)
	assert.Equal(t, time.Second, cfg.Shutdown.ForceTimeout.Duration)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestParse_OverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
[server]
addr = ":9090"
max_connections = 500
accept_rate = 200.0

[shutdown]
grace_period = "100ms"
idle_timeout = "5s"

[log]
level = "debug"
format = "console"
`))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 500, cfg.Server.MaxConnections)
	assert.Equal(t, 100*time.Millisecond, cfg.Shutdown.GracePeriod.Duration)
	assert.Equal(t, time.Second, cfg.Shutdown.ForceTimeout.Duration, "unset keys keep defaults")
	assert.Equal(t, 64, cfg.Server.AcceptBurst)

	sc := cfg.ShutdownConfig()
	assert.Equal(t, 100*time.Millisecond, sc.GracePeriod)
	assert.Equal(t, 5*time.Second, sc.IdleTimeout)
	assert.Equal(t, 500, sc.MaxConnections)
	assert.Equal(t, "drainkit", sc.ServiceName)

	lc := cfg.LoggingConfig()
	assert.Equal(t, logging.LevelDebug, lc.Level)
	assert.Equal(t, "console", lc.Format)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		code dkerrors.ErrorCode
	}{
		{"unknown key", "[shutdown]\ngrace = \"1s\"\n", dkerrors.ErrCodeInvalidConfig},
		{"bad level", "[log]\nlevel = \"loud\"\n", dkerrors.ErrCodeInvalidConfig},
		{"bad format", "[log]\nformat = \"xml\"\n", dkerrors.ErrCodeInvalidConfig},
		{"negative grace", "[shutdown]\ngrace_period = \"-1s\"\n", dkerrors.ErrCodeInvalidConfig},
		{"remote without bus", "[bus]\nremote_shutdown = true\n", dkerrors.ErrCodeInvalidConfig},
		{"sample ratio", "[telemetry]\nsample_ratio = 2.0\n", dkerrors.ErrCodeInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.True(t, dkerrors.Is(err, tt.code), "got %v", err)
		})
	}
}

func TestParse_BadDuration(t *testing.T) {
	_, err := Parse([]byte("[shutdown]\ngrace_period = \"soon\"\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestDuration_MarshalText(t *testing.T) {
	b, err := Duration{1500 * time.Millisecond}.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1.5s", string(b))
}

func TestLoad(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	path := filepath.Join(t.TempDir(), "drainkit.toml")
	require.NoError(t, os.WriteFile(path, []byte("[shutdown]\ngrace_period = \"2s\"\n"), 0o644))
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.Shutdown.GracePeriod.Duration)
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drainkit.toml")
	require.NoError(t, os.WriteFile(path, []byte("[log]\nlevel = \"info\"\n"), 0o644))

	var (
		mu     sync.Mutex
		levels []string
	)
	w, err := Watch(path, logging.Nop(), func(cfg Config) {
		mu.Lock()
		levels = append(levels, cfg.Log.Level)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("[log]\nlevel = \"debug\"\n"), 0o644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(levels) > 0 && levels[len(levels)-1] == "debug"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestWatch_InvalidFileKeepsPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drainkit.toml")
	require.NoError(t, os.WriteFile(path, []byte("[log]\nlevel = \"info\"\n"), 0o644))

	called := make(chan Config, 4)
	w, err := Watch(path, logging.Nop(), func(cfg Config) { called <- cfg })
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("[log]\nlevel = \"loud\"\n"), 0o644))

	select {
	case cfg := <-called:
		t.Fatalf("unexpected reload with %+v", cfg.Log)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcher_CloseIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drainkit.toml")
	w, err := Watch(path, nil, func(Config) {})
	require.NoError(t, err)
	assert.NoError(t, w.Close())
	assert.NoError(t, w.Close())
}
