package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"fabricmon/pkg/api"
	"fabricmon/pkg/archive"
	"fabricmon/pkg/config"
	"fabricmon/pkg/engine"
	"fabricmon/pkg/fabric"
	"fabricmon/pkg/metrics"
	"fabricmon/pkg/model"
	"fabricmon/pkg/version"
)

func main() {
	_ = config.LoadDotEnv()

	defaultAddr := config.Getenv("FABRICMON_ADDR", ":8080")
	defaultToken := os.Getenv("FABRICMON_TOKEN")
	defaultArchive := config.Getenv("FABRICMON_ARCHIVE", "sqlite")
	defaultDB := config.Getenv("FABRICMON_DB", "fabricmon.db")

	addr := flag.String("addr", defaultAddr, "listen address (env FABRICMON_ADDR)")
	token := flag.String("token", defaultToken, "API auth token, empty leaves the API open (env FABRICMON_TOKEN)")
	archiveKind := flag.String("archive", defaultArchive, "archive backend: none|sqlite|mysql (env FABRICMON_ARCHIVE)")
	archivePath := flag.String("db", defaultDB, "sqlite archive path (env FABRICMON_DB)")
	tuningPath := flag.String("tuning", os.Getenv("FABRICMON_TUNING"), "YAML file overriding the default tuning (env FABRICMON_TUNING)")
	topoPath := flag.String("topology", "", "topology file, YAML or JSON; empty generates a synthetic fabric")
	gpus := flag.Int("gpus", 8, "generated fabric GPU count")
	switches := flag.Int("switches", 2, "generated fabric switch count")
	seed := flag.Int64("seed", 42, "generated fabric seed")
	interval := flag.Duration("interval", time.Second, "control loop tick interval")
	sampleJobs := flag.Int("sample-jobs", 4, "synthetic jobs created at startup")
	paused := flag.Bool("paused", false, "do not start the control loop; use POST /api/system/start")
	tlsCert := flag.String("tls-cert", "", "TLS cert path (enables HTTPS if set with --tls-key)")
	tlsKey := flag.String("tls-key", "", "TLS key path (enables HTTPS if set with --tls-cert)")
	clientCA := flag.String("client-ca", "", "require and verify client certs using this CA (optional)")
	debug := flag.Bool("debug", os.Getenv("FABRICMON_DEBUG") != "", "development logging (env FABRICMON_DEBUG)")
	showVersion := flag.Bool("v", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("fabricmon controller version=%s\n", version.Build)
		return
	}

	logger := newLogger(*debug)
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load(*tuningPath)
	if err != nil {
		logger.Fatal("tuning load failed", zap.Error(err))
	}

	fab, err := buildFabric(*topoPath, *gpus, *switches, *seed, cfg.Telemetry.HistoryCap)
	if err != nil {
		logger.Fatal("fabric build failed", zap.Error(err))
	}

	arch, err := archive.Open(*archiveKind, *archivePath, logger.Named("archive"))
	if err != nil {
		logger.Fatal("archive open failed", zap.Error(err))
	}
	defer arch.Close()

	reg := prometheus.NewRegistry()
	rec := metrics.NewRecorder(reg)

	eng, err := engine.New(fab, cfg, arch, rec, logger)
	if err != nil {
		logger.Fatal("engine init failed", zap.Error(err))
	}
	eng.SetInterval(*interval)

	hub := api.NewHub(logger.Named("ws"))
	defer hub.Close()
	eng.SetBroadcast(func(s model.TickSummary) { hub.Broadcast(s) })

	seedJobs(eng, *sampleJobs, logger)

	mux := http.NewServeMux()
	api.RegisterRoutes(mux, eng, hub, *token, logger.Named("api"))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	if !*paused {
		if err := eng.Start(); err != nil {
			logger.Fatal("control loop start failed", zap.Error(err))
		}
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("controller listening",
			zap.String("addr", *addr),
			zap.String("archive", *archiveKind),
			zap.Duration("interval", *interval),
			zap.Bool("tls", *tlsCert != ""))
		if *tlsCert != "" && *tlsKey != "" {
			if *clientCA != "" {
				tcfg, errTLS := api.ServerTLSConfig(*tlsCert, *tlsKey, *clientCA)
				if errTLS != nil {
					errCh <- errTLS
					return
				}
				srv.TLSConfig = tcfg
				errCh <- srv.ListenAndServeTLS("", "")
				return
			}
			errCh <- srv.ListenAndServeTLS(*tlsCert, *tlsKey)
			return
		}
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
		eng.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("shutdown incomplete", zap.Error(err))
		}
	}
}

func newLogger(debug bool) *zap.Logger {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level.SetLevel(zap.DebugLevel)
	} else {
		cfg = zap.NewProductionConfig()
	}
	logger, err := cfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	return logger
}

func buildFabric(path string, gpus, switches int, seed int64, historyCap int) (*fabric.Fabric, error) {
	if path == "" {
		return fabric.Generate(fabric.GenSpec{GPUs: gpus, Switches: switches, Seed: seed})
	}
	return fabric.LoadFile(path, historyCap)
}

// seedJobs creates synthetic gpu-to-gpu demands so a fresh controller has
// traffic to route from the first tick.
func seedJobs(eng *engine.Engine, n int, logger *zap.Logger) {
	if n <= 0 {
		return
	}
	var gpus []string
	for _, node := range eng.Snapshot().Nodes {
		if node.Type == model.NodeGPU {
			gpus = append(gpus, node.ID)
		}
	}
	if len(gpus) < 2 {
		return
	}
	for i := 0; i < n; i++ {
		src := gpus[i%len(gpus)]
		dst := gpus[(i+1)%len(gpus)]
		if src == dst {
			continue
		}
		bw := 40 + float64(i%4)*20
		job, err := eng.CreateJob(src, dst, bw)
		if err != nil {
			logger.Warn("sample job rejected",
				zap.String("source", src), zap.String("dest", dst), zap.Error(err))
			continue
		}
		logger.Info("sample job created",
			zap.String("id", job.ID),
			zap.String("source", src),
			zap.String("dest", dst),
			zap.Float64("bandwidthGbps", bw))
	}
}
