package main

import (
	"strconv"
	"time"

	"dragonqueue/cd"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/valyala/fasthttp"
)

//	<- pop |front|-----------------|back|  <- push
//
// simple FIFO list implementation. The meta record keeps the window of live
// sequence numbers, every item is a separate key ordered by seq.
// An empty list has no meta record at all.

func listMeta(r Getter, acc, list string) (cd.ListMeta, error) {
	q := cd.ListMeta{Front: 1, Back: 0}
	d, ok, err := getValue(r, compID(cd.ListMetaPrefix, acc, list))
	if err != nil || !ok {
		return q, err
	}
	if _, err = q.UnmarshalMsg(d); err != nil {
		return q, errors.Wrap(err, "db decode")
	}
	return q, nil
}

func pushList(b *pebble.Batch, acc, list string, vals ...[]byte) (int64, error) {
	q, err := listMeta(b, acc, list)
	if err != nil {
		return 0, err
	}
	if len(vals) == 0 {
		return q.Len(), nil
	}
	for _, v := range vals {
		q.Back += 1
		err = b.Set(compIDList(cd.ListMsgPrefix, acc, list, q.Back), v, pebble.NoSync)
		if err != nil {
			return 0, err
		}
	}
	d, err := q.MarshalMsg(nil)
	if err != nil {
		return 0, err
	}
	return q.Len(), b.Set(compID(cd.ListMetaPrefix, acc, list), d, pebble.NoSync)
}

func popList(b *pebble.Batch, acc, list string) ([]byte, bool, error) {
	q, err := listMeta(b, acc, list)
	if err != nil || q.Len() == 0 {
		return nil, false, err
	}
	id := compIDList(cd.ListMsgPrefix, acc, list, q.Front)
	v, ok, err := getValue(b, id)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, errors.Newf("list %q is missing item %d", list, q.Front)
	}
	if err = b.Delete(id, pebble.NoSync); err != nil {
		return nil, false, err
	}
	q.Front++
	mid := compID(cd.ListMetaPrefix, acc, list)
	if q.Len() == 0 {
		return v, true, b.Delete(mid, pebble.NoSync)
	}
	d, err := q.MarshalMsg(nil)
	if err != nil {
		return nil, false, err
	}
	return v, true, b.Set(mid, d, pebble.NoSync)
}

func listKey(acc, list string) string {
	return acc + string([]byte{0}) + list
}

// Push appends vals and wakes the poppers blocked on the list.
func (p *Store) Push(acc, list string, vals ...[]byte) (int64, error) {
	var n int64
	err := p.write(acc, func(b *pebble.Batch) (err error) {
		n, err = pushList(b, acc, list, vals...)
		return err
	})
	if err != nil {
		return 0, err
	}
	p.notify.Notify(listKey(acc, list))
	return n, nil
}

// Pop removes the front item of the list. With wait > 0 it blocks until an
// item is pushed or wait elapses (cd.ErrTimeout). With wait == 0 an empty
// list is cd.ErrNotFound.
func (p *Store) Pop(acc, list string, wait time.Duration) ([]byte, error) {
	var timeout <-chan time.Time
	if wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		timeout = t.C
	}
	key := listKey(acc, list)
	for {
		ch := p.notify.Attach(key)
		var (
			v  []byte
			ok bool
		)
		err := p.write(acc, func(b *pebble.Batch) (err error) {
			v, ok, err = popList(b, acc, list)
			return err
		})
		if err != nil || ok {
			p.notify.Detach(key)
			return v, err
		}
		if timeout == nil {
			p.notify.Detach(key)
			return nil, cd.ErrNotFound
		}
		select {
		case <-ch:
			p.notify.Detach(key)
		case <-timeout:
			p.notify.Detach(key)
			return nil, cd.ErrTimeout
		case <-p.quit:
			p.notify.Detach(key)
			return nil, cd.ErrStopped
		}
	}
}

func PushHandler(ctx *fasthttp.RequestCtx) {
	acc, id, err := getAccID(ctx)
	if err != nil {
		fail(ctx, err)
		return
	}
	val := append([]byte(nil), ctx.PostBody()...)
	n, err := store.Push(acc, id, val)
	if err != nil {
		fail(ctx, errors.Wrap(err, "err updating"))
		return
	}
	_, _ = ctx.WriteString(strconv.FormatInt(n, 10))
}

// Remove the front message of the list, waiting for it up to ?wait=<duration>
func PopHandler(ctx *fasthttp.RequestCtx) {
	acc, id, err := getAccID(ctx)
	if err != nil {
		fail(ctx, err)
		return
	}
	wait := time.Duration(0)
	if w := ctx.QueryArgs().Peek("wait"); len(w) > 0 {
		wait, err = time.ParseDuration(string(w))
		if err != nil || wait < 0 {
			ctx.Error("failed to parse wait", 400)
			return
		}
	}
	v, err := store.Pop(acc, id, wait)
	if err != nil {
		fail(ctx, err)
		return
	}
	_, _ = ctx.Write(v)
}

func LenHandler(ctx *fasthttp.RequestCtx) {
	acc, id, err := getAccID(ctx)
	if err != nil {
		fail(ctx, err)
		return
	}
	q, err := listMeta(store.db, acc, id)
	if err != nil {
		ctx.Error(err.Error(), 500)
		return
	}
	_, _ = ctx.WriteString(strconv.FormatInt(q.Len(), 10))
}
