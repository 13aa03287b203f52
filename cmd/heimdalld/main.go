package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/heimdall-dns/heimdall/cache"
	"github.com/heimdall-dns/heimdall/config"
	"github.com/heimdall-dns/heimdall/listener"
	"github.com/heimdall-dns/heimdall/logger"
	"github.com/heimdall-dns/heimdall/resolver"
	"github.com/heimdall-dns/heimdall/stats"
	"github.com/heimdall-dns/heimdall/upstream"
)

type options struct {
	logLevel uint32
}

func main() {
	var opt options
	cmd := &cobra.Command{
		Use:   "heimdalld <config.toml>",
		Short: "recursive/forwarding DNS resolver",
		Long: `Heimdall is a caching forwarding DNS resolver.

Listens for incoming DNS requests over UDP and TCP, serves
cached answers when available, and dispatches cache misses
to one or more upstream servers, tracking their health and
racing them in parallel when configured to do so.
`,
		Example: `  heimdalld heimdall.toml`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return start(opt, args[0])
		},
		SilenceUsage: true,
	}
	cmd.Flags().Uint32VarP(&opt.logLevel, "log-level", "l", 4, "log level; 0=None .. 6=Trace")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func start(opt options, configPath string) error {
	if opt.logLevel > 6 {
		return fmt.Errorf("invalid log level: %d", opt.logLevel)
	}
	logger.SetLevel(logrus.Level(opt.logLevel))

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	holder := config.NewHolder(cfg)
	st := stats.New("resolver")

	var backend cache.Backend
	if cfg.L2CacheEnabled {
		backend = cache.NewRedisBackend(cache.RedisBackendOptions{
			RedisOptions: redisOptionsFromEndpoint(cfg.L2CacheEndpoint),
			KeyPrefix:    "heimdall:",
		})
	}

	c := cache.New(cache.Options{
		MaxCacheSize:       cfg.MaxCacheSize,
		HotCachePercentage: cfg.HotCachePercentage,
		PromotionThreshold: int32(cfg.PromotionThreshold),
		MinTTL:             uint32(cfg.MinCacheTTL),
		MaxTTL:             uint32(cfg.MaxCacheTTL),
		NegativeCacheTTL:   uint32(cfg.NegativeCacheTTL),
		HardenBelowNXDomain: cfg.HardenBelowNXDomain,
		Backend:            backend,
		Stats:              st,
	})

	if cfg.CacheFilePath != "" {
		if err := c.Load(cfg.CacheFilePath); err != nil {
			logger.Warn("cache load failed, starting empty", "err", err)
		}
	}

	client := upstream.NewClient(cfg.UpstreamTimeout())
	pool := upstream.NewPool(cfg.UpstreamServers, client, cfg.ParallelK, st)
	probeCtx, cancelProbe := context.WithCancel(context.Background())
	pool.StartProbing(probeCtx)

	r := resolver.New(c, pool, holder, st)

	var listeners []interface {
		String() string
		Start() error
		Stop(time.Duration)
	}
	udpAddr, tcpAddr := cfg.BindAddr, cfg.BindAddr
	udpL := listener.NewUDPListener("udp:"+udpAddr, udpAddr, r, st, cfg.MaxConcurrentQueries)
	tcpL := listener.NewTCPListener("tcp:"+tcpAddr, tcpAddr, r, st, cfg.MaxConcurrentQueries)
	listeners = append(listeners, udpL, tcpL)

	for _, l := range listeners {
		l := l
		go func() {
			for {
				err := l.Start()
				if err == nil {
					return
				}
				logger.Error("listener failed", "id", l.String(), "err", err)
				time.Sleep(time.Second)
			}
		}()
	}

	var saveStop chan struct{}
	if cfg.CacheFilePath != "" && cfg.CacheSaveIntervalS > 0 {
		saveStop = make(chan struct{})
		go periodicSave(c, cfg.CacheFilePath, cfg.CacheSaveInterval(), saveStop)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	logger.Info("stopping")

	cancelProbe()
	pool.Stop()
	if saveStop != nil {
		close(saveStop)
	}
	for _, l := range listeners {
		l.Stop(5 * time.Second)
	}
	if cfg.CacheFilePath != "" {
		if err := c.Save(cfg.CacheFilePath); err != nil {
			logger.Error("cache save failed", "err", err)
		}
	}
	return nil
}

// redisOptionsFromEndpoint builds a minimal redis.Options from the
// "host:port" form l2_cache_endpoint uses; anything beyond address (auth,
// DB selection) is left at redis.Options' zero-value defaults since the
// config surface doesn't expose them.
func redisOptionsFromEndpoint(endpoint string) redis.Options {
	return redis.Options{Addr: endpoint, ContextTimeoutEnabled: true}
}

func periodicSave(c *cache.Cache, path string, interval time.Duration, stop chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.Save(path); err != nil {
				logger.Warn("periodic cache save failed", "err", err)
			}
		}
	}
}
