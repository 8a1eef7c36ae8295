package cd

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/valyala/fasthttp"
)

// Conn is one connection to a store. It is used by a single goroutine at a
// time; share connections through a Pool.
type Conn interface {
	Ping(ctx context.Context) error
	// Flush removes every key of the connection's database / account.
	Flush(ctx context.Context) error
	// Exec runs ops as one atomic unit and returns one Result per op.
	Exec(ctx context.Context, ops ...Op) ([]Result, error)
	// Push appends value to the back of list and returns the new length.
	Push(ctx context.Context, list, value string) (int64, error)
	// BlockingPop removes the front item of list, waiting up to timeout for
	// one to appear. Returns ErrTimeout if none did.
	BlockingPop(ctx context.Context, list string, timeout time.Duration) (string, error)
	Len(ctx context.Context, list string) (int64, error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
	Close() error
}

const (
	BackendDragon = "dragon"
	BackendRedis  = "redis"
)

type Options struct {
	Backend string `yaml:"Backend"`
	Addr    string `yaml:"Addr"`
	// dragonqueue account, or redis database number
	Account     string        `yaml:"Account"`
	DialTimeout time.Duration `yaml:"DialTimeout"`

	// Dial replaces the TCP dialer of dragon connections.
	Dial fasthttp.DialFunc `yaml:"-"`
}

func DefaultAddr(backend string) string {
	if backend == BackendDragon {
		return "127.0.0.1:8081"
	}
	return "127.0.0.1:6379"
}

func NewDialer(opts Options) (Dialer, error) {
	if opts.Addr == "" {
		opts.Addr = DefaultAddr(opts.Backend)
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}
	switch opts.Backend {
	case BackendDragon:
		if opts.Account == "" {
			opts.Account = "0"
		}
		if err := ValidName(opts.Account); err != nil {
			return nil, errors.Wrap(err, "account")
		}
		return &dragonDialer{opts: opts}, nil
	case BackendRedis, "":
		return newRedisDialer(opts)
	default:
		return nil, errors.Newf("unsupported store backend: %q", opts.Backend)
	}
}

// ValidName checks an account, key or list name. Names are parts of
// 0-delimited composite keys and single URL path segments.
func ValidName(s string) error {
	if len(s) > 255 || len(s) == 0 {
		return errors.New("len is not in range 1~255")
	}
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case 0:
			return errors.New("0 is not allowed as a character in name")
		case '/':
			return errors.New("/ is not allowed as a character in name")
		}
	}
	return nil
}
