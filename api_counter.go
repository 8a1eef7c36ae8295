package main

import (
	"strconv"

	"dragonqueue/cd"

	"github.com/cockroachdb/pebble"
	"github.com/valyala/fasthttp"
)

// Counters are kv values that parse as int64, the way redis INCR treats
// strings. A missing value counts as 0.

func incrKV(b *pebble.Batch, acc, key string, add int64) (int64, error) {
	d, ok, err := getKV(b, acc, key)
	if err != nil {
		return 0, err
	}
	ctr := int64(0)
	if ok {
		ctr, err = strconv.ParseInt(string(d), 10, 64)
		if err != nil {
			return 0, cd.ErrNotInteger
		}
	}
	// overflow
	if (add > 0 && ctr+add < ctr) || (add < 0 && ctr+add > ctr) {
		return 0, cd.ErrNotInteger
	}
	ctr += add
	return ctr, setKV(b, acc, key, []byte(strconv.FormatInt(ctr, 10)))
}

// API that allows incrementing / decrementing counter
// stored as a plain value, so GET on kv returns it too
func AddCounterHandler(ctx *fasthttp.RequestCtx) {
	acc, id, err := getAccID(ctx)
	if err != nil {
		fail(ctx, err)
		return
	}
	args := ctx.Request.URI().QueryArgs()
	add := int64(1)
	if toadd := args.Peek("add"); len(toadd) > 0 {
		if len(toadd) > 20 {
			ctx.Error("add is not in range 0~20", 400)
			return
		}
		add, err = strconv.ParseInt(string(toadd), 10, 64)
		if err != nil {
			ctx.Error("failed to parse add "+err.Error(), 400)
			return
		}
	}
	newCtr := int64(0)
	err = store.write(acc, func(b *pebble.Batch) error {
		newCtr, err = incrKV(b, acc, id, add)
		return err
	})
	if err != nil {
		fail(ctx, err)
		return
	}
	_, _ = ctx.WriteString(strconv.FormatInt(newCtr, 10))
}
