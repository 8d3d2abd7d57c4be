// Command quiltctl runs one quilt job from the command line. Progress events
// are written to stdout as JSON lines, logs go to stderr.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"quiltmaker/internal/encoder"
	"quiltmaker/internal/pipeline"
	"quiltmaker/internal/progress"
	"quiltmaker/internal/stage"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	req, cfg, err := parseArgs(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		log.Fatal().Err(err).Msg("invalid arguments")
	}
	level, _ := cfg.Level()
	zerolog.SetGlobalLevel(level)

	runner := &pipeline.Runner{Workers: cfg.TileWorkers}
	if req.Framerate > 0 {
		enc, err := encoder.Lookup(cfg.FFmpegPath)
		if err != nil {
			log.Warn().Err(err).Msg("ffmpeg not available, quilts will be written without an animation")
			runner.Encoder = pipeline.Unavailable{Err: err}
		} else {
			runner.Encoder = enc
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := json.NewEncoder(os.Stdout)
	sink := progress.SinkFunc(func(e progress.Event) {
		if err := out.Encode(e); err != nil {
			log.Warn().Err(err).Msg("write event")
		}
	})

	result, err := runner.Run(ctx, req, sink)
	if err != nil {
		log.Error().Err(err).Str("stage", string(stage.Of(err))).Msg("job failed")
		stop()
		os.Exit(1)
	}
	log.Info().
		Int("quilts", len(result.Compose.Quilts)).
		Int("unused", len(result.Compose.Unused)).
		Str("archive", result.Archive).
		Str("animation", result.Animation).
		Msg("done")
}
