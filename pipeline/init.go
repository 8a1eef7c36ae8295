package pipeline

import (
	"context"
	"strconv"

	"dragonqueue/cd"

	"github.com/cockroachdb/errors"
)

// SetThenIncr sets key to initial and increments it in one atomic batch.
// It returns the value read right after the set and the value read right
// after the increment.
func SetThenIncr(ctx context.Context, conn cd.Conn, key string, initial int64) (int64, int64, error) {
	res, err := conn.Exec(ctx,
		cd.Set(key, strconv.FormatInt(initial, 10)),
		cd.Get(key),
		cd.Incr(key),
		cd.Get(key),
	)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "set then incr %q", key)
	}
	if len(res) != 4 {
		return 0, 0, errors.Newf("set then incr %q: got %d results", key, len(res))
	}
	before, err := parseInt(key, res[1])
	if err != nil {
		return 0, 0, err
	}
	after, err := parseInt(key, res[3])
	if err != nil {
		return 0, 0, err
	}
	return before, after, nil
}

func parseInt(key string, r cd.Result) (int64, error) {
	if r.Nil {
		return 0, errors.Newf("%q vanished inside the batch", key)
	}
	v, err := strconv.ParseInt(r.Value, 10, 64)
	if err != nil {
		return 0, errors.Mark(errors.Wrapf(err, "read %q", key), cd.ErrNotInteger)
	}
	return v, nil
}

// Initialize clears the whole store and runs SetThenIncr on key.
func Initialize(ctx context.Context, pool *cd.Pool, key string, initial int64) (before, after int64, err error) {
	err = pool.Do(ctx, func(c cd.Conn) error {
		if err := c.Flush(ctx); err != nil {
			return errors.Wrap(err, "flush store")
		}
		before, after, err = SetThenIncr(ctx, c, key, initial)
		return err
	})
	return before, after, err
}
