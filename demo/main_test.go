package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"dragonqueue/cd"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandFlags(t *testing.T) {
	cmd := newRootCommand(&options{})
	assert.Equal(t, "dragonqueue-demo", cmd.Use)

	for name, def := range map[string]string{
		"config":   "",
		"backend":  "redis",
		"addr":     "",
		"messages": "50",
	} {
		f := cmd.Flags().Lookup(name)
		require.NotNil(t, f, name)
		assert.Equal(t, def, f.DefValue, name)
	}
	assert.Equal(t, "n", cmd.Flags().Lookup("messages").Shorthand)
}

func TestFlagsOverrideConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "demo.yml")
	require.NoError(t, os.WriteFile(path, []byte("Store:\n  Backend: redis\n  Addr: a:1\nMessages: 7\nList: jobs\n"), 0o644))

	opts := &options{}
	cmd := newRootCommand(opts)
	require.NoError(t, cmd.ParseFlags([]string{"--config", path, "--backend", "dragon", "-n", "3"}))

	cfg, err := loadConfig(cmd, opts)
	require.NoError(t, err)
	assert.Equal(t, cd.BackendDragon, cfg.Store.Backend)
	assert.Equal(t, "a:1", cfg.Store.Addr)
	assert.Equal(t, 3, cfg.Messages)
	assert.Equal(t, "jobs", cfg.List)
}

func TestInvalidFlag(t *testing.T) {
	opts := &options{}
	cmd := newRootCommand(opts)
	require.NoError(t, cmd.ParseFlags([]string{"--backend", "memcached"}))
	_, err := loadConfig(cmd, opts)
	assert.Error(t, err)
}

func writeConfig(t *testing.T, addr string, messages int) (config, output string) {
	t.Helper()
	dir := t.TempDir()
	output = filepath.Join(dir, "output.txt")
	config = filepath.Join(dir, "demo.yml")
	data := fmt.Sprintf("Store:\n  Addr: %s\nMessages: %d\nProducerInterval: 1ms\nConsumerInterval: 1ms\nOutput:\n  Path: %s\n",
		addr, messages, output)
	require.NoError(t, os.WriteFile(config, []byte(data), 0o644))
	return config, output
}

func TestRun(t *testing.T) {
	mr := miniredis.RunT(t)
	config, output := writeConfig(t, mr.Addr(), 3)

	cmd := newRootCommand(&options{})
	cmd.SetArgs([]string{"--config", config})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "message_0\nmessage_1\nmessage_2\n", string(data))
}

func TestRunWithoutStore(t *testing.T) {
	mr := miniredis.RunT(t)
	config, output := writeConfig(t, mr.Addr(), 3)
	mr.Close()

	cmd := newRootCommand(&options{})
	cmd.SetArgs([]string{"--config", config})
	// connection failures are logged, not returned
	assert.NoError(t, cmd.ExecuteContext(context.Background()))
	_, err := os.Stat(output)
	assert.True(t, os.IsNotExist(err))
}
