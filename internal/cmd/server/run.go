package serverrun

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	cfgpkg "github.com/Mister-Yo/whisper-protocol/internal/config"
	"github.com/Mister-Yo/whisper-protocol/internal/runtime"
	grpcserver "github.com/Mister-Yo/whisper-protocol/internal/server/grpc"
	httpserver "github.com/Mister-Yo/whisper-protocol/internal/server/http"
	pebblestore "github.com/Mister-Yo/whisper-protocol/internal/storage/pebble"
	logpkg "github.com/Mister-Yo/whisper-protocol/pkg/log"
)

// small wrapper to allow testing
var getenv = func(key string) string { return os.Getenv(key) }

func getenvDefault(key, def string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return def
}

// Options for running the relay server.
type Options struct {
	DataDir       string
	HTTPAddr      string
	GRPCAddr      string
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
	Config        cfgpkg.Config
}

// Run starts the ingestion pipeline and the HTTP and gRPC servers, and
// blocks until ctx is cancelled or a server fails.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.DataDir == "" {
		opts.DataDir = cfgpkg.DefaultDataDir()
	}

	logCfg := &logpkg.Config{
		Level:  getenvDefault("WHISPER_LOG_LEVEL", "info"),
		Format: getenvDefault("WHISPER_LOG_FORMAT", "text"),
	}
	logger, err := logpkg.ApplyConfig(logCfg)
	if err != nil {
		logger = logpkg.NewLogger(logpkg.WithFormatter(&logpkg.TextFormatter{}))
	}
	// Pebble logs through the standard library
	logpkg.RedirectStdLog(logger)

	rt, err := runtime.Open(runtime.Options{
		DataDir:       filepath.Join(opts.DataDir, "store"),
		Fsync:         opts.Fsync,
		FsyncInterval: opts.FsyncInterval,
		Config:        opts.Config,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	logger.Info("starting whisper relay",
		logpkg.Str("http", opts.HTTPAddr),
		logpkg.Str("grpc", opts.GRPCAddr),
		logpkg.Str("data_dir", opts.DataDir),
		logpkg.Str("shard", opts.Config.Shard),
		logpkg.Str("source", opts.Config.Source.Endpoint),
		logpkg.Uint64("finality_depth", opts.Config.Ingest.FinalityDepth),
		logpkg.Str("position", rt.String()),
	)

	var ingestErr <-chan error
	if opts.Config.Source.Endpoint != "" {
		ingestErr = rt.StartIngest(sctx, rt.NewSourceClient())
	} else {
		logger.Warn("no source endpoint configured; ingestion disabled")
	}

	hsrv := httpserver.New(rt, logger.With(logpkg.Component("http")))
	gsrv := grpcserver.New(rt)

	var wg sync.WaitGroup
	srvErr := make(chan error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := hsrv.ListenAndServe(sctx, opts.HTTPAddr); err != nil && sctx.Err() == nil {
			srvErr <- err
		}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := gsrv.ListenAndServe(sctx, opts.GRPCAddr); err != nil && sctx.Err() == nil {
			srvErr <- err
		}
	}()

	var runErr error
	select {
	case <-sctx.Done():
	case err := <-srvErr:
		runErr = err
		stop()
	case err := <-waitIngest(ingestErr):
		// pipeline halted on a fatal condition; keep serving reads but
		// surface the failure to the operator
		logger.Error("ingestion pipeline exited", logpkg.Err(err))
		runErr = err
		stop()
	}
	wg.Wait()
	return runErr
}

// waitIngest adapts a possibly-nil result channel: a nil channel blocks
// forever, and a clean pipeline exit never fires.
func waitIngest(ch <-chan error) <-chan error {
	out := make(chan error, 1)
	if ch == nil {
		return out
	}
	go func() {
		if err := <-ch; err != nil {
			out <- err
		}
	}()
	return out
}
