// Package quilt tiles consolidated view frames into grid images ("quilts")
// for light-field displays.
//
// Each quilt takes the next columns*rows frames in file name order. Frames
// are placed row-major into a canvas and the whole canvas is then flipped
// top to bottom once, so the first frames of a quilt end up at the bottom of
// the saved image. Tile size comes from the first tile of the first quilt and
// every other tile of the job must match it.
package quilt

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/webp" // tiles may be WebP renders
	"golang.org/x/sync/errgroup"

	fileutil "quiltmaker/internal/file"
	"quiltmaker/internal/progress"
	"quiltmaker/internal/stage"
)

var ErrTileSize = errors.New("tile size differs from first tile")

type Request struct {
	SortedFolder string
	OutputFolder string
	Columns      int
	Rows         int
	// Workers bounds concurrent tile decodes within one quilt; <= 1 decodes sequentially.
	Workers int
}

type Result struct {
	Quilts     []string `json:"quilts"`
	Invalid    []string `json:"invalid"`
	Unused     []string `json:"unused"`
	TileWidth  int      `json:"tile_width"`
	TileHeight int      `json:"tile_height"`
}

// FileName is the output name of quilt q; the encoder relies on it via %d.png.
func FileName(q int) string { return strconv.Itoa(q) + ".png" }

// Compose writes one quilt image per full layout into req.OutputFolder and
// reports progress through tracker: InProgress(0), then InProgress(1..n).
// Finished is left to the caller, which may still have work on the quilts.
// Any unreadable tile aborts the composition with a *stage.Error; quilts
// already written stay on disk.
func Compose(ctx context.Context, req Request, tracker *progress.Tracker) (Result, error) {
	if tracker == nil {
		tracker = progress.NewTracker(nil)
	}
	if req.Columns <= 0 || req.Rows <= 0 {
		return Result{}, stage.Wrap(stage.Compose, req.SortedFolder, fmt.Errorf("%w: %dx%d", ErrGrid, req.Columns, req.Rows))
	}

	paths, err := listFiles(req.SortedFolder)
	if err != nil {
		return Result{}, stage.Wrap(stage.Compose, req.SortedFolder, err)
	}
	plan, err := NewPlan(paths, req.Columns, req.Rows)
	if err != nil {
		return Result{}, stage.Wrap(stage.Compose, req.SortedFolder, err)
	}
	for _, p := range plan.Invalid {
		log.Warn().Str("file", p).Msg("invalid file without view marker, not placed in any quilt")
	}
	if err := fileutil.EnsureDir(req.OutputFolder); err != nil {
		return Result{}, stage.Wrap(stage.Compose, req.OutputFolder, err)
	}

	result := Result{Quilts: make([]string, 0, len(plan.Layouts)), Invalid: plan.Invalid, Unused: plan.Unused}
	if err := tracker.Start(len(plan.Layouts)); err != nil {
		return result, stage.Wrap(stage.Compose, req.SortedFolder, err)
	}

	for _, layout := range plan.Layouts {
		if err := ctx.Err(); err != nil {
			return result, stage.Wrap(stage.Compose, req.OutputFolder, err)
		}
		quiltImage, err := Render(ctx, layout, req.Workers)
		if err != nil {
			return result, err
		}
		tileW := quiltImage.Bounds().Dx() / layout.Columns()
		tileH := quiltImage.Bounds().Dy() / layout.Rows()
		if result.TileWidth == 0 {
			result.TileWidth, result.TileHeight = tileW, tileH
		} else if tileW != result.TileWidth || tileH != result.TileHeight {
			return result, stage.Wrap(stage.Compose, layout.Cell(0, 0), fmt.Errorf("%w: got %dx%d, want %dx%d",
				ErrTileSize, tileW, tileH, result.TileWidth, result.TileHeight))
		}

		outPath := filepath.Join(req.OutputFolder, FileName(layout.Index()))
		if err := save(outPath, quiltImage); err != nil {
			return result, stage.Wrap(stage.Compose, outPath, err)
		}
		result.Quilts = append(result.Quilts, outPath)
		log.Info().Int("quilt", layout.Index()).Str("path", outPath).Msg("quilt saved")
		if err := tracker.Advance(); err != nil {
			return result, stage.Wrap(stage.Compose, outPath, err)
		}
	}
	return result, nil
}

// PruneStale removes quilt files numbered keep or higher from folder, so that
// a %d.png reader stops at the quilts of the current run. It returns the
// removed paths.
func PruneStale(folder string, keep int) ([]string, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, fmt.Errorf("read output folder: %w", err)
	}
	removed := make([]string, 0)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(entry.Name(), ".png"))
		if err != nil || n < keep || FileName(n) != entry.Name() {
			continue
		}
		path := filepath.Join(folder, entry.Name())
		if err := os.Remove(path); err != nil {
			return removed, fmt.Errorf("remove stale quilt: %w", err)
		}
		removed = append(removed, path)
	}
	return removed, nil
}

// Render composites one layout. The tile at layout (0,0), pixel (0,0) lands at
// (0, height-1) of the returned image.
func Render(ctx context.Context, layout Layout, workers int) (*image.NRGBA, error) {
	first, err := openTile(layout.Cell(0, 0))
	if err != nil {
		return nil, stage.Wrap(stage.Compose, layout.Cell(0, 0), err)
	}
	tileW, tileH := first.Bounds().Dx(), first.Bounds().Dy()
	if tileW == 0 || tileH == 0 {
		return nil, stage.Wrap(stage.Compose, layout.Cell(0, 0), errors.New("empty tile"))
	}
	canvas := image.NewNRGBA(image.Rect(0, 0, tileW*layout.Columns(), tileH*layout.Rows()))
	place(canvas, first, 0, 0)

	if workers < 1 {
		workers = 1
	}
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(workers)
	for row := 0; row < layout.Rows(); row++ {
		for col := 0; col < layout.Columns(); col++ {
			if row == 0 && col == 0 {
				continue
			}
			row, col := row, col
			group.Go(func() error {
				if err := groupCtx.Err(); err != nil {
					return err
				}
				path := layout.Cell(row, col)
				tile, err := openTile(path)
				if err != nil {
					return stage.Wrap(stage.Compose, path, err)
				}
				if tile.Bounds().Dx() != tileW || tile.Bounds().Dy() != tileH {
					return stage.Wrap(stage.Compose, path, fmt.Errorf("%w: got %dx%d, want %dx%d",
						ErrTileSize, tile.Bounds().Dx(), tile.Bounds().Dy(), tileW, tileH))
				}
				// each goroutine owns a disjoint rectangle of canvas.Pix
				place(canvas, tile, col*tileW, row*tileH)
				return nil
			})
		}
	}
	if err := group.Wait(); err != nil {
		return nil, stage.Wrap(stage.Compose, layout.Cell(0, 0), err)
	}
	return imaging.FlipV(canvas), nil
}

func openTile(path string) (*image.NRGBA, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("decode tile: %w", err)
	}
	return imaging.Clone(img), nil
}

// place copies tile into canvas with its top-left corner at (x0, y0).
func place(canvas, tile *image.NRGBA, x0, y0 int) {
	rowBytes := tile.Bounds().Dx() * 4
	for y := 0; y < tile.Bounds().Dy(); y++ {
		dst := canvas.PixOffset(x0, y0+y)
		src := tile.PixOffset(0, y)
		copy(canvas.Pix[dst:dst+rowBytes], tile.Pix[src:src+rowBytes])
	}
}

func save(path string, img image.Image) error {
	return fileutil.WriteAtomic(path, func(w io.Writer) error {
		if err := imaging.Encode(w, img, imaging.PNG); err != nil {
			return fmt.Errorf("encode png: %w", err)
		}
		return nil
	})
}

func listFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read folder: %w", err)
	}
	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	return paths, nil
}
