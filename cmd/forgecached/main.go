// Command forgecached runs one forgecache node: the multi-tier cache plus the
// TCP protocol server, with an optional metrics endpoint and an optional
// bootstrap join against a seed node.
package main

import (
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/apex/log"
	"github.com/dustin/go-humanize"

	"github.com/neuralforge/forgecache/internal/logging"
	"github.com/neuralforge/forgecache/internal/server"
	"github.com/neuralforge/forgecache/pkg/cache"
	"github.com/neuralforge/forgecache/pkg/config"
	"github.com/neuralforge/forgecache/pkg/metrics"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.WithError(err).Fatal("loading configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	logging.Init(cfg.LogLevel)
	log.WithField("addr", cfg.Address()).
		WithField("capacity", humanize.Bytes(uint64(cfg.Capacity()))).
		WithField("cache_dir", cfg.CacheDir).
		Info("starting forgecached")

	node, err := cache.New(cfg)
	if err != nil {
		log.WithError(err).Fatal("creating cache")
	}

	srv := server.New(cfg.Address(), cfg.MaxWorkers, cfg.ReadTimeoutDuration(), cfg.WriteTimeoutDuration(), node)
	go func() {
		if err := srv.Start(); err != nil {
			log.WithError(err).Fatal("cache server")
		}
	}()

	var metricsSrv *metrics.Server
	if cfg.MetricsAddr != "" {
		metricsSrv = metrics.StartAsync(cfg.MetricsAddr)
	}

	if seed := os.Getenv("FORGECACHE_SEED"); seed != "" {
		host, port, err := splitSeed(seed)
		if err != nil {
			log.WithError(err).WithField("seed", seed).Error("bad seed address")
		} else if err := node.JoinNetwork(host, port); err != nil {
			// Bootstrap is best-effort: the node still serves standalone.
			log.WithError(err).Warn("seed join failed, running standalone")
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down")
	if err := srv.Stop(); err != nil {
		log.WithError(err).Error("stopping server")
	}
	if metricsSrv != nil {
		if err := metricsSrv.Stop(); err != nil {
			log.WithError(err).Error("stopping metrics server")
		}
	}
	log.WithField("stats", node.Stats().String()).Info("stopped")
}

func splitSeed(seed string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(seed)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}
