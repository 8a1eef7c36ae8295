package pipeline

import (
	"context"
	"time"

	"dragonqueue/cd"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
)

type ConsumerConfig struct {
	List     string
	Messages int
	Interval time.Duration
	// how long one pop waits for a message
	Timeout time.Duration
}

// Consumer pops Messages messages from List into a sink, in order.
type Consumer struct {
	pool *cd.Pool
	sink Sink
	cfg  ConsumerConfig
	log  *logrus.Entry
}

func NewConsumer(pool *cd.Pool, sink Sink, cfg ConsumerConfig) *Consumer {
	return &Consumer{
		pool: pool,
		sink: sink,
		cfg:  cfg,
		log:  logrus.WithField("role", "consumer"),
	}
}

// Run consumes the configured number of messages and closes the sink.
func (c *Consumer) Run(ctx context.Context) (err error) {
	defer func() {
		if cerr := c.sink.Close(); cerr != nil {
			err = errors.CombineErrors(err, errors.Mark(errors.Wrap(cerr, "close output"), ErrSink))
		}
	}()

	for i := 0; i < c.cfg.Messages; i++ {
		var msg string
		err := c.pool.Do(ctx, func(conn cd.Conn) error {
			var err error
			msg, err = conn.BlockingPop(ctx, c.cfg.List, c.cfg.Timeout)
			return err
		})
		if errors.Is(err, cd.ErrTimeout) {
			return errors.Wrapf(err, "no message %d on %q within %s", i, c.cfg.List, c.cfg.Timeout)
		}
		if err != nil {
			return errors.Wrapf(err, "pop message %d", i)
		}
		if err := c.sink.Write(msg); err != nil {
			return err
		}
		c.log.Infof("received %q", msg)
		if err := pause(ctx, c.cfg.Interval); err != nil {
			return err
		}
	}
	return nil
}
