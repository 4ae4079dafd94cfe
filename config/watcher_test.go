package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcher_ReloadsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.toml")
	initial := `
[[providers]]
name = "p1"
kind = "anthropic"
credential = "sk-test"
models = ["m"]

[listen]
port = 8089
`
	require.NoError(t, os.WriteFile(path, []byte(initial), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	w, err := NewWatcher(path, cfg)
	require.NoError(t, err)
	defer w.Stop()

	reloaded := make(chan Config, 1)
	w.OnReload(func(c Config) error {
		reloaded <- c
		return nil
	})

	go w.Start()

	updated := `
[[providers]]
name = "p1"
kind = "anthropic"
credential = "sk-test"
models = ["m"]

[listen]
port = 9100
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	select {
	case c := <-reloaded:
		require.Equal(t, 9100, c.Listen.Port)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}
