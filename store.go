// This is an implementation of "read-modify-write" storage that guarantees
// callers that all updates to an object happen one after another and
// after Update function returns - update was written to disk.
//
// '|_' - Start,  U- Update Logic   '_|' - End,  '_' - waiting,  '^' - data is flushed
// Request #1 ------|U_____________________|-------
// Request #1 --------------|U_____________|-------
// Request #2 --------------|_U____________|-------
// Request #3 --------------|__U___________|-------
// Flush Loop -----------------------------^-------
//
// A keyed mutex in RAM makes sure that all updates of one key happen in
// sequential manner. Every request of an account updates under the account
// key, so a request (e.g. a whole batch) is atomic for other clients.
// Concurrent updates each commit to pebble without sync and wait for the
// flush loop to sync the WAL once for all of them.
package main

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"dragonqueue/cd"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/sirupsen/logrus"
)

const shards = 64

type Store struct {
	db     *pebble.DB
	kmu    []*kmutex
	notify *notifier
	quit   chan struct{} // closed on shutdown, wakes blocked pops

	mu      sync.Mutex
	done    chan struct{}
	count   int  // number of requests processed from last WAL write
	stopped bool // graceful shudown
	pending int  // number of requests inflight (track for graceful shutdown)
}

func NewStore(db *pebble.DB) *Store {
	s := &Store{
		db:     db,
		notify: newNotifier(),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for i := 0; i < shards; i++ {
		s.kmu = append(s.kmu, newLocker())
	}
	return s
}

func (p *Store) Flush() (int, error) {
	p.mu.Lock()
	count := p.count
	p.count = 0
	done := p.done // all previous updates are waiting on this chan
	pending := p.pending
	p.done = make(chan struct{}) // create new chan for future updates to wait on
	p.mu.Unlock()

	defer close(done)
	if count > 0 {
		// just make a write to WAL and wait for it to complete.
		// since we have only 1 WAL and writes are sequential -
		// if this operation finish - it means all previous updates are flushed too
		err := p.db.LogData([]byte("f"), pebble.Sync)
		if err != nil {
			return pending, errors.Wrap(err, "wal sync")
		}
	}
	return pending, nil
}

func (p *Store) FlushLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			p.stopped = true // make sure all new requests are failing
			p.mu.Unlock()
			close(p.quit)
			for {
				pending, err := p.Flush() // flush all pending requests
				if err != nil {
					return err
				}
				if pending == 0 {
					return nil
				}
			}
		default:
			n, err := p.Flush()
			if err != nil {
				return err
			}
			if n == 0 {
				// avoid infinite loops if no data needs to be flushed
				time.Sleep(time.Millisecond * 5)
			}
		}
	}
}

// UpdateFunc should update only data relevant to the key
type UpdateFunc func() error

func (p *Store) singletonUpdate(key []byte, f UpdateFunc) error {
	// there are possible collisions for unrelated keys, but it's not a problem
	// since it just means 2 updates for different keys occasionally will wait for each
	// other
	h := fnv.New64a()
	h.Write(key)
	kid := h.Sum64()
	p.kmu[kid%shards].Lock(kid)
	defer p.kmu[kid%shards].Unlock(kid)

	return f()
}

func (p *Store) Update(key []byte, f UpdateFunc) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return cd.ErrStopped
	}
	p.pending++
	p.count++
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.pending--
		p.mu.Unlock()
	}()

	err := p.singletonUpdate(key, f)
	if err != nil {
		return err
	}

	// wait till our update is flushed to disk
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	<-done
	return nil
}

// write runs f on a fresh indexed batch under the account key and commits
// it if f succeeds. f may read its own writes through the batch.
func (p *Store) write(acc string, f func(b *pebble.Batch) error) error {
	return p.Update([]byte(acc), func() error {
		b := p.db.NewIndexedBatch()
		defer b.Close()
		if err := f(b); err != nil {
			return err
		}
		return b.Commit(pebble.NoSync)
	})
}

// FlushAccount deletes every key of acc.
func (p *Store) FlushAccount(acc string) error {
	err := p.write(acc, func(b *pebble.Batch) error {
		for _, prefix := range cd.Prefixes {
			start, end := accRange(prefix, acc)
			if err := b.DeleteRange(start, end, pebble.NoSync); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		logrus.Infof("flushed account %q", acc)
	}
	return err
}

// copied this implementation from someone on the web
type kmutex struct {
	c *sync.Cond
	l sync.Locker
	s map[uint64]struct{}
}

func newLocker() *kmutex {
	l := sync.Mutex{}
	return &kmutex{c: sync.NewCond(&l), l: &l, s: make(map[uint64]struct{})}
}

func (km *kmutex) locked(key uint64) (ok bool) {
	_, ok = km.s[key]
	return
}

func (km *kmutex) Unlock(key uint64) {
	km.l.Lock()
	defer km.l.Unlock()
	delete(km.s, key)
	km.c.Broadcast()
}

func (km *kmutex) Lock(key uint64) {
	km.l.Lock()
	defer km.l.Unlock()
	for km.locked(key) {
		km.c.Wait()
	}
	km.s[key] = struct{}{}
}
