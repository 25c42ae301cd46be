package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file, using environment variables")
	}
	cfg := loadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := newJobStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.JobTTL)
	janitor := newResourceJanitor(store, cfg.JobMaxAge, cfg.SweepInterval)
	gate := newConcurrencyGate(cfg.GateCapacity, cfg.GateTimeout)
	extractor := newYtdlpExtractor(cfg.YtdlpBinary, cfg.ExtractTimeout)
	tools := newYtdlpTools(cfg.YtdlpBinary, cfg.DownloadTimeout)
	executor := newDownloadExecutor(gate, janitor, tools, cfg.TempRoot, cfg.ConnectTimeout, cfg.TransferTimeout)

	srv := &server{
		cfg:       cfg,
		pipeline:  newResolutionPipeline(extractor),
		executor:  executor,
		janitor:   janitor,
		store:     store,
		limiter:   newClientLimiter(cfg.RatePerMinute, cfg.RateClientCap),
		startedAt: time.Now(),
	}

	go janitor.run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/info", srv.withMiddleware(srv.handleInfo))
	mux.HandleFunc("/api/download", srv.withMiddleware(srv.handleDownload))
	mux.HandleFunc("/api/status/", srv.withMiddleware(srv.handleStatus))
	mux.HandleFunc("/api/delete/", srv.withMiddleware(srv.handleDelete))
	mux.HandleFunc("/health", srv.handleHealth)
	mux.HandleFunc("/metrics", srv.handleMetrics)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout: proxied transfers can legitimately run for a
		// long time; the executor enforces its own transfer timeout.
	}

	go func() {
		<-ctx.Done()
		log.Println("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	log.Printf("listening on :%s (gate capacity %d)", cfg.Port, cfg.GateCapacity)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}
