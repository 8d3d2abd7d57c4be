// Package pipeline runs one quilt job end to end: sort, compose, optional
// archive and optional animation, reporting progress to a sink.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"quiltmaker/internal/archive"
	"quiltmaker/internal/encoder"
	"quiltmaker/internal/progress"
	"quiltmaker/internal/quilt"
	"quiltmaker/internal/sorter"
	"quiltmaker/internal/stage"
)

const ArchiveName = "quilts.zip"

var (
	ErrNoSortedFolder = errors.New("sorted folder is required")
	ErrNoOutputFolder = errors.New("output folder is required")
	ErrNegativeRate   = errors.New("framerate must not be negative")
	ErrNoEncoder      = errors.New("animation requested but no encoder configured")
)

type Request struct {
	Folders      []string         `json:"folders"`
	SortedFolder string           `json:"sorted_folder"`
	OutputFolder string           `json:"output_folder"`
	Views        int              `json:"views"`
	Columns      int              `json:"columns"`
	Rows         int              `json:"rows"`
	Framerate    int              `json:"framerate"`
	Collision    sorter.Collision `json:"collision,omitempty"`
	Archive      bool             `json:"archive"`
	Workers      int              `json:"workers,omitempty"`
}

// Validate checks what can be checked without touching the file system.
func (r Request) Validate() error {
	switch {
	case r.SortedFolder == "":
		return ErrNoSortedFolder
	case r.OutputFolder == "":
		return ErrNoOutputFolder
	case r.Views < 0:
		return sorter.ErrNegativeViews
	case r.Columns <= 0 || r.Rows <= 0:
		return fmt.Errorf("%w: %dx%d", quilt.ErrGrid, r.Columns, r.Rows)
	case r.Framerate < 0:
		return ErrNegativeRate
	}
	if _, err := sorter.ParseCollision(string(r.Collision)); err != nil {
		return err
	}
	return nil
}

// Animator produces the animation from numbered quilts in a folder.
type Animator interface {
	Encode(ctx context.Context, outputFolder string, framerate int) (encoder.Result, error)
}

// Unavailable stands in for an encoder that could not be found; every Encode
// fails the animate stage with ErrNoEncoder and the lookup error.
type Unavailable struct {
	Err error
}

func (u Unavailable) Encode(_ context.Context, outputFolder string, _ int) (encoder.Result, error) {
	err := ErrNoEncoder
	if u.Err != nil {
		err = fmt.Errorf("%w: %w", ErrNoEncoder, u.Err)
	}
	return encoder.Result{}, stage.Wrap(stage.Animate, outputFolder, err)
}

type Result struct {
	Sort      *sorter.Result   `json:"sort,omitempty"`
	Compose   quilt.Result     `json:"compose"`
	Archive   string           `json:"archive,omitempty"`
	Archived  []archive.Result `json:"archived,omitempty"`
	Animation string           `json:"animation,omitempty"`
}

type Runner struct {
	Encoder Animator
	// Workers is the default tile decode concurrency when a request sets none.
	Workers int
}

// Run executes the job. Every fatal error is a *stage.Error and is reported
// as a Failed event before Run returns; nothing is emitted after it. A failed
// animation keeps the quilts and the archive.
func (r *Runner) Run(ctx context.Context, req Request, sink progress.Sink) (Result, error) {
	tracker := progress.NewTracker(sink)
	result, err := r.run(ctx, req, tracker)
	if err != nil {
		log.Error().Err(err).Str("stage", string(stage.Of(err))).Msg("quilt job failed")
		_ = tracker.Fail(err.Error())
	}
	return result, err
}

func (r *Runner) run(ctx context.Context, req Request, tracker *progress.Tracker) (Result, error) {
	var result Result
	if err := req.Validate(); err != nil {
		return result, stage.Wrap(firstStage(req), req.SortedFolder, err)
	}
	if len(req.Folders) > 0 {
		sorted, err := sorter.Sort(ctx, sorter.Request{
			Folders:     req.Folders,
			Destination: req.SortedFolder,
			Views:       req.Views,
			Collision:   req.Collision,
		})
		if err != nil {
			return result, err
		}
		result.Sort = &sorted
	}

	workers := req.Workers
	if workers <= 0 {
		workers = r.Workers
	}
	composed, err := quilt.Compose(ctx, quilt.Request{
		SortedFolder: req.SortedFolder,
		OutputFolder: req.OutputFolder,
		Columns:      req.Columns,
		Rows:         req.Rows,
		Workers:      workers,
	}, tracker)
	result.Compose = composed
	if err != nil {
		return result, err
	}

	if req.Archive && len(composed.Quilts) > 0 {
		dest := filepath.Join(req.OutputFolder, ArchiveName)
		archived, err := archive.BuildArchive(ctx, dest, composed.Quilts)
		result.Archived = archived
		if err != nil {
			return result, err
		}
		result.Archive = dest
	}
	// Finished is terminal when no animation follows, so it waits for the archive.
	if err := tracker.Finish(); err != nil {
		return result, stage.Wrap(stage.Compose, req.OutputFolder, err)
	}

	if req.Framerate > 0 {
		if err := tracker.CreatingAnimation(); err != nil {
			return result, stage.Wrap(stage.Animate, req.OutputFolder, err)
		}
		if r.Encoder == nil {
			return result, stage.Wrap(stage.Animate, req.OutputFolder, ErrNoEncoder)
		}
		stale, err := quilt.PruneStale(req.OutputFolder, len(composed.Quilts))
		if err != nil {
			return result, stage.Wrap(stage.Animate, req.OutputFolder, err)
		}
		for _, p := range stale {
			log.Warn().Str("file", p).Msg("removed quilt left over from an earlier run")
		}
		encoded, err := r.Encoder.Encode(ctx, req.OutputFolder, req.Framerate)
		if err != nil {
			return result, stage.Wrap(stage.Animate, req.OutputFolder, err)
		}
		result.Animation = encoded.Path
		if err := tracker.CreatedAnimation(); err != nil {
			return result, stage.Wrap(stage.Animate, req.OutputFolder, err)
		}
	}
	return result, nil
}

func firstStage(req Request) stage.Name {
	if len(req.Folders) > 0 {
		return stage.Sort
	}
	return stage.Compose
}
