package main

import (
	"strconv"

	"dragonqueue/cd"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	json "github.com/goccy/go-json"
	"github.com/valyala/fasthttp"
)

// ALL OPERATIONS OF A BATCH ARE EXECUTED ATOMICALLY.
// An error makes all writes of the batch fail.
// Reads see the writes of earlier ops of the same batch.

func handleOp(b *pebble.Batch, acc string, op cd.Op) (cd.Result, error) {
	if err := op.Validate(); err != nil {
		return cd.Result{}, err
	}
	switch op.Kind {
	case cd.OpSet:
		return cd.Result{Value: "OK"}, setKV(b, acc, op.Key, []byte(op.Value))
	case cd.OpGet:
		d, ok, err := getKV(b, acc, op.Key)
		if err != nil {
			return cd.Result{}, err
		}
		if !ok {
			return cd.Result{Nil: true}, nil
		}
		return cd.Result{Value: string(d)}, nil
	case cd.OpIncr:
		n, err := incrKV(b, acc, op.Key, op.Step())
		if err != nil {
			return cd.Result{}, err
		}
		return cd.Result{Value: strconv.FormatInt(n, 10)}, nil
	}
	return cd.Result{}, errors.Newf("unknown op %q", op.Kind)
}

func (p *Store) Exec(acc string, ops []cd.Op) ([]cd.Result, error) {
	var res []cd.Result
	err := p.write(acc, func(b *pebble.Batch) error {
		res = make([]cd.Result, 0, len(ops))
		for i, op := range ops {
			r, err := handleOp(b, acc, op)
			if err != nil {
				return errors.Wrapf(err, "op %d (%s %s)", i, op.Kind, op.Key)
			}
			res = append(res, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func BatchHandler(ctx *fasthttp.RequestCtx) {
	acc, err := getAcc(ctx)
	if err != nil {
		fail(ctx, err)
		return
	}
	var req cd.BatchRequest
	err = json.Unmarshal(ctx.PostBody(), &req)
	if err != nil {
		ctx.Error(err.Error(), 400)
		return
	}
	res, err := store.Exec(acc, req.Ops)
	if err != nil {
		fail(ctx, err)
		return
	}
	d, err := json.Marshal(cd.BatchResponse{Results: res})
	if err != nil {
		ctx.Error(err.Error(), 500)
		return
	}
	ctx.SetContentType("application/json")
	ctx.Response.SetBody(d)
}

func FlushHandler(ctx *fasthttp.RequestCtx) {
	acc, err := getAcc(ctx)
	if err != nil {
		fail(ctx, err)
		return
	}
	if err := store.FlushAccount(acc); err != nil {
		fail(ctx, errors.Wrap(err, "err flushing"))
		return
	}
	_, _ = ctx.WriteString("OK")
}

func PingHandler(ctx *fasthttp.RequestCtx) {
	_, _ = ctx.WriteString("PONG")
}
