package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"dragonqueue/cd"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type options struct {
	store     cd.Options
	accs      int
	lists     int
	parallel  int
	perThread int
}

func newPools(ctx context.Context, opts cd.Options, accs, size int) ([]*cd.Pool, error) {
	pools := make([]*cd.Pool, 0, accs)
	for i := 0; i < accs; i++ {
		o := opts
		if o.Backend == cd.BackendDragon {
			o.Account = fmt.Sprintf("bench%d", i)
		}
		d, err := cd.NewDialer(o)
		if err != nil {
			closePools(pools)
			return nil, err
		}
		p, err := cd.NewPool(ctx, d, size)
		if err != nil {
			closePools(pools)
			return nil, err
		}
		pools = append(pools, p)
	}
	return pools, nil
}

func closePools(pools []*cd.Pool) {
	for _, p := range pools {
		_ = p.Close()
	}
}

// slot picks the pool and list of the n-th item. Pushers and poppers use
// the same layout, so every pop finds an item.
func slot(pools []*cd.Pool, lists, n int) (*cd.Pool, string) {
	return pools[n%len(pools)], fmt.Sprint("list", n%lists)
}

func BenchmarkPush(ctx context.Context, pools []*cd.Pool, lists, parallel, nPerThread, size int) error {
	var (
		wg   sync.WaitGroup
		once sync.Once
		ferr error
	)
	for i := 0; i < parallel; i++ {
		wg.Add(1)
		go func(i int) {
			rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
			defer wg.Done()
			b := make([]byte, size)
			for j := 0; j < nPerThread; j++ {
				for s := range b {
					b[s] = byte(rnd.Intn(26) + 'A')
				}
				pool, list := slot(pools, lists, i*nPerThread+j)
				err := pool.Do(ctx, func(c cd.Conn) error {
					_, err := c.Push(ctx, list, string(b))
					return err
				})
				if err != nil {
					once.Do(func() { ferr = errors.Wrap(err, "push") })
					return
				}
			}
		}(i)
	}
	wg.Wait()
	return ferr
}

// BenchmarkPop drains what BenchmarkPush wrote and returns how many items
// it got.
func BenchmarkPop(ctx context.Context, pools []*cd.Pool, lists, parallel, nPerThread int) (int64, error) {
	var (
		wg     sync.WaitGroup
		once   sync.Once
		ferr   error
		popped int64
	)
	for i := 0; i < parallel; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < nPerThread; j++ {
				pool, list := slot(pools, lists, i*nPerThread+j)
				err := pool.Do(ctx, func(c cd.Conn) error {
					_, err := c.BlockingPop(ctx, list, time.Second)
					return err
				})
				if errors.Is(err, cd.ErrTimeout) {
					continue
				}
				if err != nil {
					once.Do(func() { ferr = errors.Wrap(err, "pop") })
					return
				}
				atomic.AddInt64(&popped, 1)
			}
		}(i)
	}
	wg.Wait()
	return popped, ferr
}

func BenchmarkBatch(ctx context.Context, pools []*cd.Pool, keys, parallel, nPerThread int) error {
	var (
		wg   sync.WaitGroup
		once sync.Once
		ferr error
	)
	for i := 0; i < parallel; i++ {
		wg.Add(1)
		go func() {
			rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
			defer wg.Done()
			for j := 0; j < nPerThread; j++ {
				key := fmt.Sprint("counter", rnd.Intn(keys))
				err := pools[rnd.Intn(len(pools))].Do(ctx, func(c cd.Conn) error {
					_, err := c.Exec(ctx, cd.Set(key, "61"), cd.Get(key), cd.Incr(key), cd.Get(key))
					return err
				})
				if err != nil {
					once.Do(func() { ferr = errors.Wrap(err, "batch") })
					return
				}
			}
		}()
	}
	wg.Wait()
	return ferr
}

func run(ctx context.Context, opts *options) error {
	accs := opts.accs
	if opts.store.Backend != cd.BackendDragon {
		// redis has no accounts to spread over
		accs = 1
	}
	pools, err := newPools(ctx, opts.store, accs, opts.parallel)
	if err != nil {
		return err
	}
	defer closePools(pools)
	for _, p := range pools {
		if err := p.Do(ctx, func(c cd.Conn) error { return c.Flush(ctx) }); err != nil {
			return errors.Wrap(err, "flush")
		}
	}

	total := float64(opts.parallel * opts.perThread)
	for _, size := range []int{64, 1024} {
		start := time.Now()
		if err := BenchmarkPush(ctx, pools, opts.lists, opts.parallel, opts.perThread, size); err != nil {
			return err
		}
		logrus.Infof("%d byte push for %d accounts and %d lists: %.1fk req/sec %.1f MB/sec", size, accs, opts.lists,
			total/time.Since(start).Seconds()/1000, total*float64(size)/1000000/time.Since(start).Seconds())

		start = time.Now()
		n, err := BenchmarkPop(ctx, pools, opts.lists, opts.parallel, opts.perThread)
		if err != nil {
			return err
		}
		if float64(n) != total {
			logrus.Warnf("popped %d of %.0f items", n, total)
		}
		logrus.Infof("%d byte pop for %d accounts and %d lists: %.1fk req/sec", size, accs, opts.lists,
			float64(n)/time.Since(start).Seconds()/1000)
	}

	for _, keys := range []int{1, 1000} {
		start := time.Now()
		if err := BenchmarkBatch(ctx, pools, keys, opts.parallel, opts.perThread); err != nil {
			return err
		}
		logrus.Infof("set-then-incr batch for %d accounts and %d keys: %.1fk req/sec", accs, keys,
			total/time.Since(start).Seconds()/1000)
	}
	return nil
}

func newRootCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "dragonqueue-bench",
		Short:         "Push, pop and batch throughput against a running store",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.accs < 1 || opts.lists < 1 || opts.parallel < 1 || opts.perThread < 1 {
				return errors.New("accounts, lists, parallel and n must be positive")
			}
			return run(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.store.Backend, "backend", cd.BackendDragon, "store backend (dragon|redis)")
	cmd.Flags().StringVar(&opts.store.Addr, "addr", "", "store address host:port")
	cmd.Flags().IntVar(&opts.accs, "accounts", 10, "accounts to spread load over (dragon only)")
	cmd.Flags().IntVar(&opts.lists, "lists", 10, "lists per account")
	cmd.Flags().IntVarP(&opts.parallel, "parallel", "p", 100, "concurrent workers")
	cmd.Flags().IntVarP(&opts.perThread, "n", "n", 100, "requests per worker")
	return cmd
}

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := newRootCommand(&options{}).ExecuteContext(ctx); err != nil {
		logrus.Fatal(err)
	}
}
