// Command dragonqueue-demo flushes a store, runs an atomic set-then-increment
// batch and moves numbered messages from a producer to a consumer through a
// store list.
package main

import (
	"context"
	"os"
	"os/signal"

	"dragonqueue/cd"
	"dragonqueue/pipeline"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type options struct {
	config   string
	backend  string
	addr     string
	messages int
}

func newRootCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "dragonqueue-demo",
		Short:         "Producer/consumer demo over a redis or dragonqueue store",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			lvl, _ := logrus.ParseLevel(cfg.LogLevel)
			logrus.SetLevel(lvl)

			err = pipeline.Run(cmd.Context(), cfg)
			if errors.Is(err, cd.ErrConnection) {
				// nothing was done, report and leave quietly
				logrus.Errorf("could not connect to store: %v", err)
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&opts.config, "config", "c", "", "path to YAML config (defaults are used without it)")
	cmd.Flags().StringVar(&opts.backend, "backend", cd.BackendRedis, "store backend (redis|dragon)")
	cmd.Flags().StringVar(&opts.addr, "addr", "", "store address host:port")
	cmd.Flags().IntVarP(&opts.messages, "messages", "n", 50, "number of messages to produce and consume")
	return cmd
}

// loadConfig reads the config file, if any, and applies the flags that were
// set explicitly on top of it.
func loadConfig(cmd *cobra.Command, opts *options) (pipeline.Config, error) {
	cfg := pipeline.DefaultConfig()
	if opts.config != "" {
		var err error
		cfg, err = pipeline.Load(opts.config)
		if err != nil {
			return cfg, err
		}
	}
	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.Store.Backend = opts.backend
	}
	if flags.Changed("addr") {
		cfg.Store.Addr = opts.addr
	}
	if flags.Changed("messages") {
		cfg.Messages = opts.messages
	}
	return cfg, cfg.Validate()
}

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := newRootCommand(&options{}).ExecuteContext(ctx); err != nil {
		logrus.Fatal(err)
	}
}
