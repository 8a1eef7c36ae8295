package pipeline

import (
	"context"

	"dragonqueue/cd"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Run connects to the store, initializes it and runs one producer and one
// consumer until both are done. Connection failures are marked
// cd.ErrConnection.
func Run(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	dialer, err := cd.NewDialer(cfg.Store)
	if err != nil {
		return err
	}
	pool, err := cd.NewPool(ctx, dialer, cfg.PoolSize)
	if err != nil {
		return err
	}
	defer pool.Close()
	logrus.Infof("connected to %s store", cfg.Store.Backend)

	before, after, err := Initialize(ctx, pool, cfg.CounterKey, cfg.InitialValue)
	if err != nil {
		return err
	}
	logrus.Infof("%s before increment: %d", cfg.CounterKey, before)
	logrus.Infof("%s after increment: %d", cfg.CounterKey, after)

	sink, err := NewSink(cfg.Output)
	if err != nil {
		return err
	}
	return Execute(ctx, pool, cfg, sink)
}

// Execute runs the producer and the consumer concurrently and waits for
// both. A failing task does not stop the other one. sink is closed by the
// consumer.
func Execute(ctx context.Context, pool *cd.Pool, cfg Config, sink Sink) error {
	producer := NewProducer(pool, cfg.ProducerConfig())
	consumer := NewConsumer(pool, sink, cfg.ConsumerConfig())

	var g errgroup.Group
	g.Go(func() error {
		return errors.Wrap(producer.Run(ctx), "producer")
	})
	g.Go(func() error {
		return errors.Wrap(consumer.Run(ctx), "consumer")
	})
	if err := g.Wait(); err != nil {
		return err
	}
	logrus.Infof("done, %d messages", cfg.Messages)
	return nil
}
