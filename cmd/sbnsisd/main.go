package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/small-bodies-node/sbnsis/pkg/cache"
	"github.com/small-bodies-node/sbnsis/pkg/cache/memcached"
	"github.com/small-bodies-node/sbnsis/pkg/cache/minio"
	"github.com/small-bodies-node/sbnsis/pkg/catalog"
	_ "github.com/small-bodies-node/sbnsis/pkg/catalog/sql"
	"github.com/small-bodies-node/sbnsis/pkg/config"
	"github.com/small-bodies-node/sbnsis/pkg/cutout"
	"github.com/small-bodies-node/sbnsis/pkg/http/server"
	"github.com/small-bodies-node/sbnsis/pkg/render"
	"github.com/small-bodies-node/sbnsis/pkg/service"
	"github.com/small-bodies-node/sbnsis/pkg/source"
)

var version = "unversioned"

const (
	product = "sbnsis"

	memcachedUpdateInterval = time.Minute
	shutdownTimeout         = 30 * time.Second
)

func main() {
	// Flag domain.
	fs := pflag.NewFlagSet("default", pflag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "DESCRIPTION\n")
		fmt.Fprintf(os.Stderr, "  sbnsisd serves survey images, cutouts of them, and browse renderings.\n")
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "FLAGS\n")
		fs.PrintDefaults()
	}

	var (
		configFile  = fs.String("config", "", "path to a config file; by default "+config.ConfigPath+"/"+config.ConfigName+" is read if present")
		versionFlag = fs.Bool("version", false, "get version number")
	)
	defineConfigFlags(fs, func(err error) {
		fmt.Fprintf(os.Stderr, "error defining flags: %s\n", err)
		os.Exit(1)
	})

	err := fs.Parse(os.Args[1:])
	switch {
	case err == pflag.ErrHelp:
		os.Exit(0)
	case err != nil:
		fmt.Fprintf(os.Stderr, "Error: %s\n\nRun 'sbnsisd --help' for usage.\n", err)
		os.Exit(2)
	case *versionFlag:
		fmt.Println(version)
		os.Exit(0)
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	// Logger component.
	var logger log.Logger
	{
		switch cfg.LogFormat {
		case "json":
			logger = log.NewJSONLogger(log.NewSyncWriter(os.Stderr))
		case "fmt":
			logger = log.NewLogfmtLogger(os.Stderr)
		default:
			fmt.Fprintf(os.Stderr, "unsupported log format: %q\n", cfg.LogFormat)
			os.Exit(1)
		}
		logger = log.With(logger, "ts", log.DefaultTimestampUTC)
		logger = log.With(logger, "caller", log.DefaultCaller)
	}
	logger.Log("version", version)

	// Catalog component.
	var cat catalog.ReadWriter
	{
		cat, err = catalog.Open(cfg.Catalog)
		if err != nil {
			logger.Log("component", "catalog", "err", err)
			os.Exit(1)
		}
		logger.Log("component", "catalog", "url", cfg.Catalog)
	}

	// Cache component. The local directory always holds results; a
	// shared backend, when configured, lets replicas reuse each
	// other's work.
	var store *cache.Store
	{
		logger := log.With(logger, "component", "cache")
		if err := os.MkdirAll(cfg.CacheRoot, 0775); err != nil {
			logger.Log("err", err)
			os.Exit(1)
		}

		var shared cache.Client
		switch {
		case cfg.MinioEndpoint != "":
			c, err := minio.New(minio.Config{
				Endpoint:  cfg.MinioEndpoint,
				Bucket:    cfg.MinioBucket,
				AccessKey: cfg.MinioAccessKey,
				SecretKey: cfg.MinioSecretKey,
				UseSSL:    cfg.MinioUseSSL,
				Prefix:    cfg.MinioPrefix,
				Logger:    logger,
			})
			if err != nil {
				logger.Log("err", err)
				os.Exit(1)
			}
			shared = c
			logger.Log("shared", "minio", "endpoint", cfg.MinioEndpoint, "bucket", cfg.MinioBucket)
		case cfg.MemcachedHostname != "":
			memcacheConfig := memcached.MemcacheConfig{
				Host:           cfg.MemcachedHostname,
				Service:        cfg.MemcachedService,
				Timeout:        cfg.MemcachedTimeout,
				UpdateInterval: memcachedUpdateInterval,
				Logger:         log.With(logger, "shared", "memcached"),
				MaxIdleConns:   16,
			}
			var mc *memcached.MemcacheClient
			if cfg.MemcachedService == "" {
				addr := net.JoinHostPort(cfg.MemcachedHostname, strconv.Itoa(cfg.MemcachedPort))
				mc = memcached.NewFixedServerMemcacheClient(memcacheConfig, addr)
			} else {
				mc = memcached.NewMemcacheClient(memcacheConfig)
			}
			defer mc.Stop()
			shared = mc
			logger.Log("shared", "memcached", "host", cfg.MemcachedHostname, "service", cfg.MemcachedService)
		}
		if shared != nil {
			shared = cache.InstrumentClient(shared)
		}
		store = cache.NewStore(cfg.CacheRoot, shared, logger)
	}

	// Source component.
	var resolver *source.Resolver
	{
		logger := log.With(logger, "component", "source")
		resolver = &source.Resolver{
			Disk:    &cache.Disk{Root: cfg.CacheRoot},
			Client:  &http.Client{Timeout: 5 * time.Minute},
			Exclude: cfg.SourceExclude,
			Logger:  logger,
		}
		// a zero rate means unlimited
		if cfg.SourceRPS > 0 {
			resolver.Limiters = &source.RateLimiters{
				RPS:    cfg.SourceRPS,
				Burst:  cfg.SourceBurst,
				Logger: logger,
			}
		}
		s3, err := source.NewS3(cfg.S3Region)
		if err != nil {
			logger.Log("s3", "disabled", "err", err)
		} else {
			resolver.S3 = s3
		}
	}

	// Extractor and renderer components.
	var (
		extractor *cutout.Extractor
		renderer  *render.Renderer
	)
	{
		var tool *cutout.Tool
		if cfg.CutoutTool != "" || cfg.DecompressTool != "" {
			tool = cutout.NewTool(nil, cfg.CutoutTool, cfg.DecompressTool)
			tool.Timeout = cfg.CutoutToolTimeout
		}
		extractor = &cutout.Extractor{
			Store:      store,
			Sources:    resolver,
			MaxSize:    cfg.MaximumCutoutSize,
			Tool:       tool,
			Provenance: cutout.Provenance{Name: product, Version: version},
			Logger:     log.With(logger, "component", "cutout"),
		}
		renderer = &render.Renderer{
			ZScale:  render.DefaultZScale,
			Workers: cfg.RenderWorkers,
			Logger:  log.With(logger, "component", "render"),
		}
	}

	// Service (business logic) domain.
	svc := &service.Service{
		Catalog:   cat,
		Sources:   resolver,
		Store:     store,
		Extractor: extractor,
		Renderer:  renderer,
		PublicURL: cfg.PublicURL,
		Logger:    log.With(logger, "component", "service"),
	}

	// Mechanical stuff.
	errc := make(chan error)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	// HTTP transport component.
	var servers []*http.Server
	{
		logger := log.With(logger, "component", "http")
		api := server.NewHandler(svc, version, server.NewRouter(), logger)
		if base := strings.TrimSuffix(cfg.BaseHref, "/"); base != "" {
			api = http.StripPrefix(base, api)
		}

		mux := http.NewServeMux()
		mux.Handle("/", api)
		if cfg.ListenMetrics == "" {
			mux.Handle("/metrics", promhttp.Handler())
		} else {
			metricsMux := http.NewServeMux()
			metricsMux.Handle("/metrics", promhttp.Handler())
			servers = append(servers, &http.Server{Addr: cfg.ListenMetrics, Handler: metricsMux})
		}
		servers = append(servers, &http.Server{Addr: cfg.Listen, Handler: mux})

		for _, s := range servers {
			s := s
			go func() {
				logger.Log("addr", s.Addr)
				errc <- s.ListenAndServe()
			}()
		}
	}

	// Go!
	logger.Log("exiting", <-errc)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, s := range servers {
		if err := s.Shutdown(ctx); err != nil {
			logger.Log("shutdown", s.Addr, "err", err)
		}
	}
}
