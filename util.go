package main

import (
	"encoding/binary"
	"io"

	"dragonqueue/cd"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/valyala/fasthttp"
)

// satisfied by *pebble.DB and indexed *pebble.Batch
type Getter interface {
	Get(key []byte) ([]byte, io.Closer, error)
}

// TableID|Account|0|ID
// 0 byte delimited is used to construct composite key from Acc and ID
func compID(prefix int, acc, id string) []byte {
	b := make([]byte, 0, len(id)+len(acc)+2)
	b = append(b, byte(prefix))
	b = append(b, acc...)
	b = append(b, 0)
	b = append(b, id...)
	return b
}

// TableID|Account|0|List|0|Seq
// seq is big endian so that items of a list sort in push order
func compIDList(prefix int, acc, list string, seq int64) []byte {
	b := compID(prefix, acc, list)
	b = append(b, 0)
	return binary.BigEndian.AppendUint64(b, uint64(seq))
}

// [TableID|Account|0, TableID|Account|1) covers every key of the account
func accRange(prefix byte, acc string) ([]byte, []byte) {
	start := make([]byte, 0, len(acc)+2)
	start = append(start, prefix)
	start = append(start, acc...)
	end := append([]byte{}, start...)
	return append(start, 0), append(end, 1)
}

// getValue copies the value out, since pebble only owns it until closer.Close
func getValue(r Getter, key []byte) ([]byte, bool, error) {
	d, closer, err := r.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "db read")
	}
	defer closer.Close()
	return append([]byte(nil), d...), true, nil
}

func getAcc(ctx *fasthttp.RequestCtx) (string, error) {
	acc, _ := ctx.UserValue("acc").(string)
	if err := cd.ValidName(acc); err != nil {
		return "", errors.Wrap(err, "acc")
	}
	return acc, nil
}

func getAccID(ctx *fasthttp.RequestCtx) (string, string, error) {
	acc, err := getAcc(ctx)
	if err != nil {
		return "", "", err
	}
	id, _ := ctx.UserValue("id").(string)
	if err := cd.ValidName(id); err != nil {
		return "", "", errors.Wrap(err, "id")
	}
	return acc, id, nil
}

// fail maps store errors to status codes the cd client understands
func fail(ctx *fasthttp.RequestCtx, err error) {
	switch {
	case errors.Is(err, cd.ErrTimeout):
		ctx.Error(err.Error(), fasthttp.StatusRequestTimeout)
	case errors.Is(err, cd.ErrNotFound):
		ctx.Error(err.Error(), fasthttp.StatusNotFound)
	case errors.Is(err, cd.ErrNotInteger):
		ctx.Error(err.Error(), fasthttp.StatusConflict)
	case errors.Is(err, cd.ErrStopped):
		ctx.Error(err.Error(), fasthttp.StatusServiceUnavailable)
	default:
		ctx.Error(err.Error(), fasthttp.StatusBadRequest)
	}
}
