package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/buaazp/fasthttprouter"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/valyala/fasthttp"
	"gopkg.in/yaml.v2"
)

type Config struct {
	ListenAddr string         `yaml:"ListenAddr"`
	DBPath     string         `yaml:"DBPath"`
	DBOptions  pebble.Options `yaml:"DBOptions"`
	LogLevel   string         `yaml:"LogLevel"`
	// TODO: backups
}

type options struct {
	config string
}

func newRootCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "dragonqueue",
		Short:         "Key/value and list store over HTTP, backed by pebble",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return Start(cmd.Context(), opts.config)
		},
	}
	cmd.Flags().StringVarP(&opts.config, "config", "c", "config.yml", "path to configuration file")
	return cmd
}

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := newRootCommand(&options{}).ExecuteContext(ctx); err != nil {
		logrus.Fatal(err)
	}
}

var store *Store

func LoadConfig(path string) (Config, error) {
	cfg := Config{
		ListenAddr: ":8081",
		DBPath:     "dragonqueue.db",
		LogLevel:   "info",
	}
	yd, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "read config")
	}
	err = yaml.Unmarshal(yd, &cfg)
	if err != nil {
		return cfg, errors.Wrapf(err, "parse %s", path)
	}
	if cfg.ListenAddr == "" {
		return cfg, errors.New("ListenAddr is required")
	}
	if cfg.DBPath == "" {
		return cfg, errors.New("DBPath is required")
	}
	return cfg, nil
}

func newRouter() *fasthttprouter.Router {
	router := fasthttprouter.New()

	router.GET("/ping", PingHandler)

	router.DELETE("/db/:acc", FlushHandler)
	router.POST("/db/:acc/batch", BatchHandler)

	router.GET("/db/:acc/kv/:id", GetKVHandler)
	router.POST("/db/:acc/kv/:id", SetKVHandler)
	router.DELETE("/db/:acc/kv/:id", DeleteKVHandler)

	router.POST("/db/:acc/cnt/:id", AddCounterHandler)

	router.GET("/db/:acc/list/:id", LenHandler)
	router.POST("/db/:acc/list/:id", PushHandler)
	router.DELETE("/db/:acc/list/:id", PopHandler)

	router.NotFound = func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(404)
	}
	return router
}

func newServer() *fasthttp.Server {
	return &fasthttp.Server{
		Handler:                       newRouter().Handler,
		Concurrency:                   100000,
		MaxConnsPerIP:                 100000,
		ReadBufferSize:                10000,
		WriteBufferSize:               10000,
		DisableHeaderNamesNormalizing: true,
		NoDefaultContentType:          true,
		NoDefaultDate:                 true,
		NoDefaultServerHeader:         true,
	}
}

func Start(ctx context.Context, configPath string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	lvl, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return errors.Wrap(err, "LogLevel")
	}
	logrus.SetLevel(lvl)

	db, err := pebble.Open(cfg.DBPath, &cfg.DBOptions)
	if err != nil {
		return errors.Wrapf(err, "open %s", cfg.DBPath)
	}
	store = NewStore(db)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s := newServer()
	serveErr := make(chan error, 1)
	go func() {
		logrus.Infof("listening on %s, db %s", cfg.ListenAddr, cfg.DBPath)
		serveErr <- s.ListenAndServe(cfg.ListenAddr)
	}()

	// flush loop runs until ctx is cancelled, then fails new updates and
	// flushes the pending ones
	flushErr := make(chan error, 1)
	go func() {
		flushErr <- store.FlushLoop(ctx)
	}()

	select {
	case err = <-serveErr:
		logrus.Errorf("server stopped: %v", err)
		cancel()
		err = errors.CombineErrors(err, <-flushErr)
	case err = <-flushErr:
		logrus.Info("shutting down")
		err = errors.CombineErrors(err, s.Shutdown())
	}
	return errors.CombineErrors(err, db.Close())
}
