package main

import (
	"dragonqueue/cd"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/valyala/fasthttp"
)

// Plain string values, like redis strings.

func getKV(r Getter, acc, key string) ([]byte, bool, error) {
	d, ok, err := getValue(r, compID(cd.KVPrefix, acc, key))
	if err != nil || !ok {
		return nil, false, err
	}
	var kv cd.KV
	if _, err = kv.UnmarshalMsg(d); err != nil {
		return nil, false, errors.Wrap(err, "db decode")
	}
	return kv.Data, true, nil
}

func setKV(b *pebble.Batch, acc, key string, val []byte) error {
	kv := cd.KV{Data: val}
	d, err := kv.MarshalMsg(nil)
	if err != nil {
		return err
	}
	return b.Set(compID(cd.KVPrefix, acc, key), d, pebble.NoSync)
}

func SetKVHandler(ctx *fasthttp.RequestCtx) {
	acc, id, err := getAccID(ctx)
	if err != nil {
		fail(ctx, err)
		return
	}
	val := append([]byte(nil), ctx.PostBody()...)
	err = store.write(acc, func(b *pebble.Batch) error {
		return setKV(b, acc, id, val)
	})
	if err != nil {
		fail(ctx, errors.Wrap(err, "err updating"))
		return
	}
	_, _ = ctx.WriteString("OK")
}

func GetKVHandler(ctx *fasthttp.RequestCtx) {
	acc, id, err := getAccID(ctx)
	if err != nil {
		fail(ctx, err)
		return
	}
	d, ok, err := getKV(store.db, acc, id)
	if err != nil {
		ctx.Error(err.Error(), 500)
		return
	}
	if !ok {
		fail(ctx, cd.ErrNotFound)
		return
	}
	_, _ = ctx.Write(d)
}

func DeleteKVHandler(ctx *fasthttp.RequestCtx) {
	acc, id, err := getAccID(ctx)
	if err != nil {
		fail(ctx, err)
		return
	}
	err = store.write(acc, func(b *pebble.Batch) error {
		return b.Delete(compID(cd.KVPrefix, acc, id), pebble.NoSync)
	})
	if err != nil {
		fail(ctx, errors.Wrap(err, "err deleting"))
		return
	}
}
