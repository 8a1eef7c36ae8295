package main

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"dragonqueue/cd"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPing(t *testing.T) {
	c := testConn(t)
	require.NoError(t, c.Ping(context.Background()))
}

func TestBatchSetThenIncr(t *testing.T) {
	c := testConn(t)

	res, err := c.Exec(context.Background(),
		cd.Set("counter", "61"), cd.Get("counter"), cd.Incr("counter"), cd.Get("counter"))
	require.NoError(t, err)
	require.Len(t, res, 4)
	assert.Equal(t, "OK", res[0].Value)
	assert.Equal(t, "61", res[1].Value)
	assert.Equal(t, "62", res[2].Value)
	assert.Equal(t, "62", res[3].Value)
}

func TestBatchGetMissing(t *testing.T) {
	c := testConn(t)

	res, err := c.Exec(context.Background(), cd.Get("nope"), cd.IncrBy("n", -3), cd.Get("n"))
	require.NoError(t, err)
	assert.True(t, res[0].Nil)
	assert.Equal(t, "-3", res[1].Value)
	assert.Equal(t, "-3", res[2].Value)
}

func TestBatchIsAtomic(t *testing.T) {
	const workers = 8
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		c := testConn(t)
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				v := w*1000 + i
				res, err := c.Exec(ctx,
					cd.Set("counter", strconv.Itoa(v)), cd.Get("counter"), cd.Incr("counter"), cd.Get("counter"))
				if err != nil {
					t.Error(err)
					return
				}
				// nobody else may write between our four ops
				assert.Equal(t, strconv.Itoa(v), res[1].Value)
				assert.Equal(t, strconv.Itoa(v+1), res[3].Value)
			}
		}(w)
	}
	wg.Wait()
}

func TestBatchFailureWritesNothing(t *testing.T) {
	c := testConn(t)
	ctx := context.Background()

	_, err := c.Exec(ctx, cd.Set("a", "1"), cd.Set("k", "abc"), cd.Incr("k"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, cd.ErrNotInteger))

	res, err := c.Exec(ctx, cd.Get("a"), cd.Get("k"))
	require.NoError(t, err)
	assert.True(t, res[0].Nil)
	assert.True(t, res[1].Nil)
}

func TestBatchRejectsUnknownOp(t *testing.T) {
	c := testConn(t)

	_, err := c.Exec(context.Background(), cd.Op{Kind: "del", Key: "k"})
	var se *cd.StoreError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 400, se.Status)
}

func TestListFIFO(t *testing.T) {
	c := testConn(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		n, err := c.Push(ctx, "queue", fmt.Sprintf("message_%d", i))
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), n)
	}
	n, err := c.Len(ctx, "queue")
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	for i := 0; i < 5; i++ {
		v, err := c.BlockingPop(ctx, "queue", time.Second)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("message_%d", i), v)
	}
	n, err = c.Len(ctx, "queue")
	require.NoError(t, err)
	assert.Zero(t, n)

	// list is reusable after it was drained
	_, err = c.Push(ctx, "queue", "again")
	require.NoError(t, err)
	v, err := c.BlockingPop(ctx, "queue", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "again", v)
}

func TestBlockingPopWakesOnPush(t *testing.T) {
	producer := testConn(t)
	consumer := testConn(t)
	ctx := context.Background()

	type popped struct {
		v   string
		err error
	}
	got := make(chan popped, 1)
	go func() {
		v, err := consumer.BlockingPop(ctx, "queue", 10*time.Second)
		got <- popped{v, err}
	}()

	time.Sleep(50 * time.Millisecond)
	start := time.Now()
	_, err := producer.Push(ctx, "queue", "hello")
	require.NoError(t, err)

	select {
	case p := <-got:
		require.NoError(t, p.err)
		assert.Equal(t, "hello", p.v)
		assert.Less(t, time.Since(start), 5*time.Second)
	case <-time.After(10 * time.Second):
		t.Fatal("pop was not woken up by push")
	}
}

func TestBlockingPopTimeout(t *testing.T) {
	c := testConn(t)

	start := time.Now()
	_, err := c.BlockingPop(context.Background(), "empty", 100*time.Millisecond)
	assert.ErrorIs(t, err, cd.ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestEachItemPoppedOnce(t *testing.T) {
	const n = 40
	ctx := context.Background()
	producer := testConn(t)
	for i := 0; i < n; i++ {
		_, err := producer.Push(ctx, "queue", strconv.Itoa(i))
		require.NoError(t, err)
	}

	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		c := testConn(t)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				v, err := c.BlockingPop(ctx, "queue", 100*time.Millisecond)
				if errors.Is(err, cd.ErrTimeout) {
					return
				}
				if err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				seen[v]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Len(t, seen, n)
	for v, cnt := range seen {
		assert.Equal(t, 1, cnt, "item %s", v)
	}
}

func TestFlushClearsAccount(t *testing.T) {
	ctx := context.Background()
	c := testConn(t)

	d, err := cd.NewDialer(testOptions("other_account"))
	require.NoError(t, err)
	other, err := d.Dial(ctx)
	require.NoError(t, err)
	defer other.Close()
	require.NoError(t, other.Flush(ctx))

	for _, conn := range []cd.Conn{c, other} {
		_, err = conn.Push(ctx, "queue", "x")
		require.NoError(t, err)
		_, err = conn.Exec(ctx, cd.Set("counter", "1"))
		require.NoError(t, err)
	}

	require.NoError(t, c.Flush(ctx))

	n, err := c.Len(ctx, "queue")
	require.NoError(t, err)
	assert.Zero(t, n)
	res, err := c.Exec(ctx, cd.Get("counter"))
	require.NoError(t, err)
	assert.True(t, res[0].Nil)

	n, err = other.Len(ctx, "queue")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestKVHandlers(t *testing.T) {
	status, _ := raw(t, "GET", "/db/kvacc/kv/name", nil)
	assert.Equal(t, 404, status)

	status, body := raw(t, "POST", "/db/kvacc/kv/name", []byte("dragon"))
	require.Equal(t, 200, status)
	assert.Equal(t, "OK", body)

	status, body = raw(t, "GET", "/db/kvacc/kv/name", nil)
	require.Equal(t, 200, status)
	assert.Equal(t, "dragon", body)

	status, _ = raw(t, "DELETE", "/db/kvacc/kv/name", nil)
	require.Equal(t, 200, status)
	status, _ = raw(t, "GET", "/db/kvacc/kv/name", nil)
	assert.Equal(t, 404, status)
}

func TestCounterHandler(t *testing.T) {
	status, body := raw(t, "POST", "/db/cntacc/cnt/hits", nil)
	require.Equal(t, 200, status)
	assert.Equal(t, "1", body)

	status, body = raw(t, "POST", "/db/cntacc/cnt/hits?add=41", nil)
	require.Equal(t, 200, status)
	assert.Equal(t, "42", body)

	status, body = raw(t, "GET", "/db/cntacc/kv/hits", nil)
	require.Equal(t, 200, status)
	assert.Equal(t, "42", body)

	status, _ = raw(t, "POST", "/db/cntacc/cnt/hits?add=x", nil)
	assert.Equal(t, 400, status)

	raw(t, "POST", "/db/cntacc/kv/word", []byte("abc"))
	status, _ = raw(t, "POST", "/db/cntacc/cnt/word", nil)
	assert.Equal(t, 409, status)
}

func TestPopHandlerWithoutWait(t *testing.T) {
	status, _ := raw(t, "DELETE", "/db/popacc/list/q", nil)
	assert.Equal(t, 404, status)

	status, _ = raw(t, "DELETE", "/db/popacc/list/q?wait=soon", nil)
	assert.Equal(t, 400, status)

	raw(t, "POST", "/db/popacc/list/q", []byte("v"))
	status, body := raw(t, "DELETE", "/db/popacc/list/q", nil)
	assert.Equal(t, 200, status)
	assert.Equal(t, "v", body)
}
