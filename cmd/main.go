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

	"github.com/gin-gonic/gin"
	"github.com/pkg/browser"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"quiltmaker/internal/api"
	"quiltmaker/internal/config"
	"quiltmaker/internal/encoder"
	"quiltmaker/internal/job"
	"quiltmaker/internal/pipeline"
)

func main() {
	configPath := flag.String("config", "config.yml", "path to the YAML config")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("failed to load config")
	}
	level, _ := cfg.Level()
	zerolog.SetGlobalLevel(level)

	router := setupRouter()
	jobManager := buildJobManager(cfg)
	wireAPI(router, jobManager, cfg)

	baseCtx, baseCancel := context.WithCancel(context.Background())
	jobManager.SetBaseContext(baseCtx)

	const (
		readHeaderTimeout = 5 * time.Second
		shutdownTimeout   = 10 * time.Second
	)

	srv := newHTTPServer(cfg.Port, router, readHeaderTimeout)

	go func() {
		log.Info().Int("port", cfg.Port).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	if cfg.OpenBrowser {
		url := fmt.Sprintf("http://localhost:%d/", cfg.Port)
		if err := browser.OpenURL(url); err != nil {
			log.Warn().Err(err).Str("url", url).Msg("could not open browser")
		}
	}

	waitForShutdownSignal()

	gracefulShutdown(srv, baseCancel, jobManager, shutdownTimeout)
}

func setupRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(api.ZerologLogger("/preview", "/events"))
	return r
}

func buildJobManager(cfg config.Config) *job.Manager {
	runner := &pipeline.Runner{Workers: cfg.TileWorkers}
	enc, err := encoder.Lookup(cfg.FFmpegPath)
	if err != nil {
		log.Warn().Err(err).Msg("ffmpeg not available, jobs with a framerate will fail at the animation stage")
		runner.Encoder = pipeline.Unavailable{Err: err}
	} else {
		runner.Encoder = enc
		log.Info().Str("ffmpeg", enc.Binary).Msg("animation encoder found")
	}
	return job.NewManagerWithOptions(job.Options{
		MaxConcurrentJobs: cfg.MaxConcurrentJobs,
		Runner:            runner,
	})
}

func wireAPI(router *gin.Engine, jm *job.Manager, cfg config.Config) {
	apiHandler := api.NewAPI(jm, cfg)
	apiHandler.RegisterRoutes(router)
	apiHandler.RegisterUIRoutes(router)
}

func newHTTPServer(port int, handler http.Handler, readHeaderTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

func waitForShutdownSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutdown signal received")
}

func gracefulShutdown(srv *http.Server, cancelBase context.CancelFunc, jm *job.Manager, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// running jobs end first so open event streams can complete
	cancelBase()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown warning")
	}

	done := jm.WaitAll(ctx)
	if !done {
		log.Warn().Msg("background jobs did not finish before timeout")
	}
	log.Info().Msg("server exited cleanly")
}
