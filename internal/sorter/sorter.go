// Package sorter consolidates per-view frames rendered into several folders
// into one destination folder. Folder i owns a contiguous range of view
// indices; only frames inside that range are taken from it.
package sorter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	fileutil "quiltmaker/internal/file"
	"quiltmaker/internal/stage"
	"quiltmaker/internal/view"
)

// Collision decides what happens when the destination already holds a file
// with the name being copied. Within one sort two folders can never produce
// the same name: the name fixes the view index and buckets are disjoint.
type Collision string

const (
	CollisionOverwrite Collision = "overwrite"
	CollisionReject    Collision = "reject"
)

var (
	ErrNoFolders        = errors.New("no source folders provided")
	ErrNoDestination    = errors.New("no destination folder provided")
	ErrNegativeViews    = errors.New("total views must not be negative")
	ErrDuplicateName    = errors.New("destination already contains file")
	ErrUnknownCollision = errors.New("unknown collision policy")
)

// ParseCollision validates a policy name; empty means overwrite.
func ParseCollision(s string) (Collision, error) {
	switch Collision(s) {
	case "", CollisionOverwrite:
		return CollisionOverwrite, nil
	case CollisionReject:
		return CollisionReject, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCollision, s)
	}
}

// Bucket is the half-open view range [Lo, Hi) owned by one source folder.
type Bucket struct {
	Folder  string `json:"folder"`
	Ordinal int    `json:"ordinal"`
	Lo      int    `json:"lo"`
	Hi      int    `json:"hi"`
}

// Contains reports whether view index v belongs to the bucket.
func (b Bucket) Contains(v int) bool { return v >= b.Lo && v < b.Hi }

// Buckets splits [0, views) into len(folders) ranges of width views/len(folders).
// The division truncates, so indices >= width*len(folders) belong to no bucket.
func Buckets(folders []string, views int) []Bucket {
	if len(folders) == 0 {
		return nil
	}
	width := views / len(folders)
	buckets := make([]Bucket, len(folders))
	for i, folder := range folders {
		buckets[i] = Bucket{Folder: folder, Ordinal: i, Lo: width * i, Hi: width * (i + 1)}
	}
	return buckets
}

type Request struct {
	Folders     []string
	Destination string
	Views       int
	Collision   Collision
}

// Skipped is a file that could not be assigned a view index.
type Skipped struct {
	Folder string `json:"folder"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

type Result struct {
	Buckets     []Bucket     `json:"buckets"`
	Copied      []view.Frame `json:"copied"`
	Skipped     []Skipped    `json:"skipped"`
	OutOfBucket int          `json:"out_of_bucket"`
	Overwritten int          `json:"overwritten"`
}

// Sort copies every frame whose view index falls in its folder's bucket into
// req.Destination, keeping file names. A folder that cannot be read, or a
// copy that fails, aborts the whole sort with a *stage.Error.
func Sort(ctx context.Context, req Request) (Result, error) {
	if err := validate(req); err != nil {
		return Result{}, stage.Wrap(stage.Sort, req.Destination, err)
	}
	policy, err := ParseCollision(string(req.Collision))
	if err != nil {
		return Result{}, stage.Wrap(stage.Sort, req.Destination, err)
	}
	if err := fileutil.EnsureDir(req.Destination); err != nil {
		return Result{}, stage.Wrap(stage.Sort, req.Destination, err)
	}

	result := Result{
		Buckets: Buckets(req.Folders, req.Views),
		Copied:  make([]view.Frame, 0),
		Skipped: make([]Skipped, 0),
	}

	for _, bucket := range result.Buckets {
		if err := ctx.Err(); err != nil {
			return result, stage.Wrap(stage.Sort, bucket.Folder, err)
		}
		log.Info().Str("folder", bucket.Folder).Int("lo", bucket.Lo).Int("hi", bucket.Hi).Msg("sorting folder")
		if err := sortFolder(ctx, bucket, req.Destination, policy, &result); err != nil {
			return result, err
		}
	}
	log.Info().
		Int("copied", len(result.Copied)).
		Int("skipped", len(result.Skipped)).
		Int("out_of_bucket", result.OutOfBucket).
		Str("destination", req.Destination).
		Msg("sort finished")
	return result, nil
}

func validate(req Request) error {
	switch {
	case len(req.Folders) == 0:
		return ErrNoFolders
	case req.Destination == "":
		return ErrNoDestination
	case req.Views < 0:
		return ErrNegativeViews
	}
	return nil
}

func sortFolder(ctx context.Context, bucket Bucket, destination string, policy Collision, result *Result) error {
	entries, err := os.ReadDir(bucket.Folder)
	if err != nil {
		return stage.Wrap(stage.Sort, bucket.Folder, fmt.Errorf("read folder: %w", err))
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return stage.Wrap(stage.Sort, bucket.Folder, err)
		}
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		index, err := view.ParseIndex(name)
		if err != nil {
			log.Warn().Str("folder", bucket.Folder).Str("file", name).Err(err).Msg("skipping file without view index")
			result.Skipped = append(result.Skipped, Skipped{Folder: bucket.Folder, Name: name, Reason: err.Error()})
			continue
		}
		if !bucket.Contains(index) {
			result.OutOfBucket++
			continue
		}

		src := filepath.Join(bucket.Folder, name)
		dst := filepath.Join(destination, name)
		if _, err := os.Lstat(dst); err == nil {
			if policy == CollisionReject {
				return stage.Wrap(stage.Sort, dst, ErrDuplicateName)
			}
			log.Warn().Str("file", name).Str("folder", bucket.Folder).Msg("overwriting existing file in destination")
			result.Overwritten++
		}
		if err := fileutil.CopyFile(src, dst); err != nil {
			return stage.Wrap(stage.Sort, src, err)
		}
		result.Copied = append(result.Copied, view.Frame{Folder: bucket.Folder, Name: name, Index: index})
	}
	return nil
}
