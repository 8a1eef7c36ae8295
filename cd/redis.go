package cd

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

type redisDialer struct {
	rdb *redis.Client
}

func newRedisDialer(opts Options) (*redisDialer, error) {
	db := 0
	if opts.Account != "" {
		n, err := strconv.Atoi(opts.Account)
		if err != nil {
			return nil, errors.Wrapf(err, "redis database %q", opts.Account)
		}
		db = n
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:             opts.Addr,
		DB:               db,
		DialTimeout:      opts.DialTimeout,
		DisableIndentity: true,
	})
	return &redisDialer{rdb: rdb}, nil
}

// Dial takes a dedicated connection out of the go-redis pool. Closing the
// Conn hands it back.
func (d *redisDialer) Dial(ctx context.Context) (Conn, error) {
	c := &redisConn{c: d.rdb.Conn()}
	if err := c.Ping(ctx); err != nil {
		_ = c.Close()
		return nil, errors.Mark(errors.Wrapf(err, "dial redis %s", d.rdb.Options().Addr), ErrConnection)
	}
	return c, nil
}

func (d *redisDialer) Close() error {
	return d.rdb.Close()
}

type redisConn struct {
	c *redis.Conn
}

func (c *redisConn) Ping(ctx context.Context) error {
	return c.c.Ping(ctx).Err()
}

func (c *redisConn) Flush(ctx context.Context) error {
	return c.c.FlushDB(ctx).Err()
}

func (c *redisConn) Exec(ctx context.Context, ops ...Op) ([]Result, error) {
	for _, op := range ops {
		if err := op.Validate(); err != nil {
			return nil, err
		}
	}
	cmds := make([]redis.Cmder, len(ops))
	_, err := c.c.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, op := range ops {
			switch op.Kind {
			case OpSet:
				cmds[i] = pipe.Set(ctx, op.Key, op.Value, 0)
			case OpGet:
				cmds[i] = pipe.Get(ctx, op.Key)
			case OpIncr:
				cmds[i] = pipe.IncrBy(ctx, op.Key, op.Step())
			}
		}
		return nil
	})
	// a GET of a missing key fails the pipeline with redis.Nil
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, redisErr(err)
	}
	res := make([]Result, len(ops))
	for i, cmd := range cmds {
		switch cmd := cmd.(type) {
		case *redis.StatusCmd:
			if err := cmd.Err(); err != nil {
				return nil, redisErr(err)
			}
			res[i].Value = cmd.Val()
		case *redis.StringCmd:
			if errors.Is(cmd.Err(), redis.Nil) {
				res[i].Nil = true
				continue
			}
			res[i].Value = cmd.Val()
		case *redis.IntCmd:
			if err := cmd.Err(); err != nil {
				return nil, redisErr(err)
			}
			res[i].Value = strconv.FormatInt(cmd.Val(), 10)
		}
	}
	return res, nil
}

func (c *redisConn) Push(ctx context.Context, list, value string) (int64, error) {
	return c.c.RPush(ctx, list, value).Result()
}

func (c *redisConn) BlockingPop(ctx context.Context, list string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		return "", errors.New("pop timeout must be positive")
	}
	vals, err := c.c.BLPop(ctx, timeout, list).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrTimeout
	}
	if err != nil {
		return "", err
	}
	// [key, value]
	if len(vals) != 2 {
		return "", errors.Newf("unexpected BLPOP reply %v", vals)
	}
	return vals[1], nil
}

func (c *redisConn) Len(ctx context.Context, list string) (int64, error) {
	return c.c.LLen(ctx, list).Result()
}

func (c *redisConn) Close() error {
	return c.c.Close()
}

func redisErr(err error) error {
	if strings.Contains(err.Error(), "not an integer") {
		return errors.Mark(err, ErrNotInteger)
	}
	return err
}
