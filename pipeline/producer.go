package pipeline

import (
	"context"
	"fmt"
	"time"

	"dragonqueue/cd"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
)

type ProducerConfig struct {
	List     string
	Messages int
	Interval time.Duration
}

// Producer pushes Messages numbered messages onto List, one per Interval.
type Producer struct {
	pool *cd.Pool
	cfg  ProducerConfig
	log  *logrus.Entry
}

func NewProducer(pool *cd.Pool, cfg ProducerConfig) *Producer {
	return &Producer{
		pool: pool,
		cfg:  cfg,
		log:  logrus.WithField("role", "producer"),
	}
}

// Message returns the i-th message payload.
func Message(i int) string {
	return fmt.Sprintf("message_%d", i)
}

func (p *Producer) Run(ctx context.Context) error {
	for i := 0; i < p.cfg.Messages; i++ {
		msg := Message(i)
		err := p.pool.Do(ctx, func(c cd.Conn) error {
			_, err := c.Push(ctx, p.cfg.List, msg)
			return err
		})
		if err != nil {
			return errors.Wrapf(err, "push %q", msg)
		}
		p.log.Infof("sent %q", msg)
		if err := pause(ctx, p.cfg.Interval); err != nil {
			return err
		}
	}
	return nil
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
