package main

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"dragonqueue/cd"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompIDListOrdersBySeq(t *testing.T) {
	a := compIDList(cd.ListMsgPrefix, "acc", "q", 255)
	b := compIDList(cd.ListMsgPrefix, "acc", "q", 256)
	assert.Equal(t, -1, bytes.Compare(a, b))
}

func TestAccRangeCoversOnlyAccount(t *testing.T) {
	start, end := accRange(cd.KVPrefix, "acc")
	in := compID(cd.KVPrefix, "acc", "key")
	assert.True(t, bytes.Compare(start, in) <= 0 && bytes.Compare(in, end) < 0)

	for _, out := range [][]byte{
		compID(cd.KVPrefix, "acc2", "key"),
		compID(cd.KVPrefix, "ac", "key"),
		compID(cd.ListMetaPrefix, "acc", "key"),
	} {
		assert.False(t, bytes.Compare(start, out) <= 0 && bytes.Compare(out, end) < 0, "%q", out)
	}
}

func newTestStore(t *testing.T) (*Store, context.CancelFunc, chan error) {
	t.Helper()
	db, err := pebble.Open("test", &pebble.Options{FS: vfs.NewMem()})
	require.NoError(t, err)
	s := NewStore(db)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.FlushLoop(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = db.Close()
	})
	return s, cancel, done
}

func TestStorePushPop(t *testing.T) {
	s, _, _ := newTestStore(t)

	n, err := s.Push("a", "q", []byte("1"), []byte("2"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	v, err := s.Pop("a", "q", 0)
	require.NoError(t, err)
	assert.Equal(t, "1", string(v))
	v, err = s.Pop("a", "q", 0)
	require.NoError(t, err)
	assert.Equal(t, "2", string(v))

	_, err = s.Pop("a", "q", 0)
	assert.ErrorIs(t, err, cd.ErrNotFound)

	q, err := listMeta(s.db, "a", "q")
	require.NoError(t, err)
	assert.Zero(t, q.Len())
}

func TestStoreStopFailsUpdatesAndWakesPops(t *testing.T) {
	s, cancel, done := newTestStore(t)

	popErr := make(chan error, 1)
	go func() {
		_, err := s.Pop("a", "q", time.Minute)
		popErr <- err
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	done <- nil // for cleanup

	select {
	case err := <-popErr:
		assert.ErrorIs(t, err, cd.ErrStopped)
	case <-time.After(5 * time.Second):
		t.Fatal("blocked pop survived shutdown")
	}

	_, err := s.Push("a", "q", []byte("x"))
	assert.ErrorIs(t, err, cd.ErrStopped)
}

func TestStoreExec(t *testing.T) {
	s, _, _ := newTestStore(t)

	res, err := s.Exec("a", []cd.Op{cd.Set("c", "61"), cd.Get("c"), cd.Incr("c"), cd.Get("c")})
	require.NoError(t, err)
	assert.Equal(t, []cd.Result{{Value: "OK"}, {Value: "61"}, {Value: "62"}, {Value: "62"}}, res)

	require.NoError(t, s.FlushAccount("a"))
	res, err = s.Exec("a", []cd.Op{cd.Get("c")})
	require.NoError(t, err)
	assert.True(t, res[0].Nil)
}

func TestLoadConfig(t *testing.T) {
	path := t.TempDir() + "/config.yml"
	require.NoError(t, os.WriteFile(path, []byte("ListenAddr: \":9000\"\nDBPath: /tmp/dq\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, "/tmp/dq", cfg.DBPath)
	assert.Equal(t, "info", cfg.LogLevel)

	_, err = LoadConfig(t.TempDir() + "/missing.yml")
	assert.Error(t, err)
}
