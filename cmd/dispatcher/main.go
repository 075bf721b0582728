package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/ajayyy/thumbnail-cache/config"
	"github.com/ajayyy/thumbnail-cache/dispatcher"
	"github.com/ajayyy/thumbnail-cache/kv"
	"github.com/ajayyy/thumbnail-cache/pprof"
	"github.com/ajayyy/thumbnail-cache/queue"
	"github.com/ajayyy/thumbnail-cache/resolver"
	"github.com/ajayyy/thumbnail-cache/storage"
	"github.com/golang/glog"
	"github.com/peterbourgon/ff/v3"
)

func main() {
	fs := flag.NewFlagSet("dispatcher", flag.ExitOnError)
	cli := config.Cli{}

	fs.StringVar(&cli.HTTPAddress, "http-addr", "0.0.0.0:8008", "Address to bind the dispatcher's HTTP server to")
	fs.StringVar(&cli.ConfigPath, "config", "config.yaml", "Path to the thumbnail cache's YAML configuration file")
	fs.BoolVar(&cli.Debug, "debug", false, "Enable verbose logging")
	fs.IntVar(&cli.PprofPort, "pprof-port", 6061, "Pprof listen port")

	err := ff.Parse(fs, os.Args[1:],
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		ff.WithEnvVarPrefix("DISPATCHER"),
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

	// The dispatcher never renders, so it never needs the full resolver
	// chain: /api/v1/floatie (spec.md §6) exposes innertube's raw response
	// verbatim, a capability only InnertubeStrategy itself has.
	innertube := &resolver.InnertubeStrategy{VisitorData: cfg.YTAuth.VisitorData}

	collection := &dispatcher.Collection{
		Store:                    store,
		KV:                       client,
		High:                     high,
		Default:                  def,
		MaxQueueSize:             cfg.ThumbnailStorage.MaxQueueSize,
		MaxBeforeAsyncGeneration: cfg.ThumbnailStorage.MaxBeforeAsyncGeneration,
		FrontAuth:                cfg.FrontAuth,
		RepoURL:                  "https://github.com/ajayyy/thumbnail-cache",
	}

	router := dispatcher.NewRouter(collection, cfg, innertube)

	if cli.Debug {
		go func() {
			log.Println(pprof.ListenAndServe(cli.PprofPort))
		}()
	}

	addr := cli.HTTPAddress
	if addr == "" {
		addr = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	}

	log.Println("Starting thumbnail cache dispatcher, listening on", addr)
	log.Fatal(http.ListenAndServe(addr, router))
}
