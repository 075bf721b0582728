package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ajayyy/thumbnail-cache/config"
	"github.com/ajayyy/thumbnail-cache/eviction"
	"github.com/ajayyy/thumbnail-cache/kv"
	"github.com/ajayyy/thumbnail-cache/pprof"
	"github.com/ajayyy/thumbnail-cache/proxy"
	"github.com/ajayyy/thumbnail-cache/queue"
	"github.com/ajayyy/thumbnail-cache/render"
	"github.com/ajayyy/thumbnail-cache/resolver"
	"github.com/ajayyy/thumbnail-cache/storage"
	"github.com/ajayyy/thumbnail-cache/worker"
	"github.com/golang/glog"
	"github.com/julienschmidt/httprouter"
	"github.com/peterbourgon/ff/v3"
	"golang.org/x/sync/errgroup"
)

func main() {
	fs := flag.NewFlagSet("worker", flag.ExitOnError)
	cli := config.Cli{}

	fs.StringVar(&cli.WorkerHealthAddress, "health-addr", "0.0.0.0:8009", "Address to bind the worker's health HTTP endpoint to")
	fs.StringVar(&cli.ConfigPath, "config", "config.yaml", "Path to the thumbnail cache's YAML configuration file")
	fs.BoolVar(&cli.Debug, "debug", false, "Enable verbose logging")
	fs.IntVar(&cli.PprofPort, "pprof-port", 6062, "Pprof listen port")

	err := ff.Parse(fs, os.Args[1:],
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		ff.WithEnvVarPrefix("WORKER"),
	)
	if err != nil {
		glog.Fatalf("error parsing cli: %s", err)
	}

	cfg, err := config.Load(cli.ConfigPath)
	if err != nil {
		glog.Fatalf("error loading thumbnail config: %s", err)
	}

	client := kv.NewRedisClient(cfg.Redis.Host, cfg.Redis.Port)
	defer client.Close()

	store := storage.New(cfg.ThumbnailStorage.Path, client)
	high := queue.New(queue.High, client)
	def := queue.New(queue.Default, client)

	var proxies *proxy.Pool
	if cfg.ProxyURL != nil || len(cfg.ProxyURLs) > 0 {
		proxies = &proxy.Pool{KV: client, Token: cfg.ProxyToken}
	}

	evictionEngine := &eviction.Engine{
		Store:              store,
		KV:                 client,
		HighQueue:          high,
		MaxSize:            cfg.ThumbnailStorage.MaxSize,
		TargetSize:         cfg.ThumbnailStorage.TargetSize(),
		RedisOffsetAllowed: cfg.ThumbnailStorage.RedisOffsetAllowed,
	}

	innertube := &resolver.InnertubeStrategy{VisitorData: cfg.YTAuth.VisitorData}
	resolverChain := resolver.Chain{innertube, &resolver.FfprobeStrategy{}}

	task := &render.Task{
		Store:               store,
		KV:                  client,
		Resolver:            resolverChain,
		Proxies:             proxies,
		Eviction:            evictionEngine,
		MaxConcurrent:       cfg.MaxConcurrentRenders,
		SkipLocalExtraction: cfg.SkipLocalFfmpeg,
	}

	harness := worker.New(worker.GenerateName(), []*queue.Queue{high, def}, task, client)

	router := httprouter.New()
	router.GET("/health", harness.Health())

	healthAddr := cli.WorkerHealthAddress
	if healthAddr == "" {
		healthAddr = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.WorkerHealthCheckPort)
	}

	if cli.Debug {
		go func() {
			log.Println(pprof.ListenAndServe(cli.PprofPort))
		}()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// group cancels ctx the moment either goroutine returns, so the health
	// server and the poll loop shut down together instead of one lingering
	// after the other has already failed.
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Println("Starting worker health endpoint, listening on", healthAddr)
		srv := &http.Server{Addr: healthAddr, Handler: router}
		go func() {
			<-ctx.Done()
			_ = srv.Close()
		}()
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("worker health endpoint: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		log.Println("Starting thumbnail cache worker", harness.Name)
		return harness.Run(ctx)
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		glog.Fatalf("worker exited: %s", err)
	}
}
