package quilt

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"quiltmaker/internal/progress"
	"quiltmaker/internal/stage"
)

// writeTile writes a w x h PNG filled with fill, except pixel (0,0) which is marker.
func writeTile(t *testing.T, path string, w, h int, fill, marker color.NRGBA) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, fill)
		}
	}
	img.SetNRGBA(0, 0, marker)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
}

func tileColor(i int) color.NRGBA {
	return color.NRGBA{R: uint8(10 + i), G: uint8(100 + i), B: uint8(200 - i), A: 255}
}

var markerColor = color.NRGBA{R: 255, G: 0, B: 255, A: 255}

// writeFrames writes n tiles named frame_vNNN.png with a distinct fill each.
func writeFrames(t *testing.T, dir string, n, w, h int) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for i := 0; i < n; i++ {
		writeTile(t, filepath.Join(dir, fmt.Sprintf("frame_v%03d.png", i)), w, h, tileColor(i), markerColor)
	}
}

func readPNG(t *testing.T, path string) image.Image {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return img
}

func at(img image.Image, x, y int) color.NRGBA {
	return color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
}

func TestNewPlanGroupsRowMajorAndDropsRemainder(t *testing.T) {
	names := make([]string, 0, 12)
	for i := 9; i >= 0; i-- {
		names = append(names, fmt.Sprintf("/s/f_v%02d.png", i))
	}
	names = append(names, "/s/readme.txt", "/s/Thumbs.db")

	plan, err := NewPlan(names, 2, 2)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(plan.Layouts) != 2 {
		t.Fatalf("expected 2 layouts, got %d", len(plan.Layouts))
	}
	if len(plan.Unused) != 2 || plan.Unused[0] != "/s/f_v08.png" || plan.Unused[1] != "/s/f_v09.png" {
		t.Fatalf("unexpected unused: %v", plan.Unused)
	}
	if len(plan.Invalid) != 2 {
		t.Fatalf("expected 2 invalid names, got %v", plan.Invalid)
	}
	second := plan.Layouts[1]
	if second.Index() != 1 || second.Cell(0, 0) != "/s/f_v04.png" || second.Cell(0, 1) != "/s/f_v05.png" ||
		second.Cell(1, 0) != "/s/f_v06.png" || second.Cell(1, 1) != "/s/f_v07.png" {
		t.Fatalf("unexpected layout: %v", second.Paths())
	}
	for _, l := range plan.Layouts {
		for _, p := range l.Paths() {
			for _, u := range plan.Unused {
				if p == u {
					t.Fatalf("remainder file %s placed in a layout", u)
				}
			}
		}
	}
}

func TestNewPlanLayoutIsImmutable(t *testing.T) {
	names := []string{"a_v0.png", "a_v1.png"}
	plan, err := NewPlan(names, 2, 1)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	paths := plan.Layouts[0].Paths()
	paths[0] = "changed"
	names[0] = "changed too"
	if plan.Layouts[0].Cell(0, 0) != "a_v0.png" {
		t.Fatalf("layout changed through an alias")
	}
}

func TestNewPlanRejectsBadGrid(t *testing.T) {
	for _, g := range [][2]int{{0, 1}, {1, 0}, {-2, 3}} {
		if _, err := NewPlan(nil, g[0], g[1]); !errors.Is(err, ErrGrid) {
			t.Fatalf("grid %v: expected ErrGrid, got %v", g, err)
		}
	}
}

func TestComposeDimensionsFlipAndEvents(t *testing.T) {
	root := t.TempDir()
	sorted := filepath.Join(root, "sorted")
	out := filepath.Join(root, "quilts")
	const tw, th = 4, 3
	writeFrames(t, sorted, 10, tw, th)

	rec := &progress.Recorder{}
	res, err := Compose(context.Background(), Request{SortedFolder: sorted, OutputFolder: out, Columns: 2, Rows: 2}, progress.NewTracker(rec))
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if len(res.Quilts) != 2 || len(res.Unused) != 2 {
		t.Fatalf("expected 2 quilts and 2 unused files, got %d/%d", len(res.Quilts), len(res.Unused))
	}
	if res.TileWidth != tw || res.TileHeight != th {
		t.Fatalf("tile size %dx%d", res.TileWidth, res.TileHeight)
	}

	for q := 0; q < 2; q++ {
		img := readPNG(t, filepath.Join(out, FileName(q)))
		b := img.Bounds()
		if b.Dx() != tw*2 || b.Dy() != th*2 {
			t.Fatalf("quilt %d is %dx%d, want %dx%d", q, b.Dx(), b.Dy(), tw*2, th*2)
		}
		qh := b.Dy()
		// layout row 0 ends at the bottom, row 1 at the top
		if got := at(img, 0, qh-1); got != markerColor {
			t.Fatalf("quilt %d: tile (0,0) pixel (0,0) not at bottom-left, got %v", q, got)
		}
		if got := at(img, tw, qh-1); got != markerColor {
			t.Fatalf("quilt %d: tile (0,1) marker missing, got %v", q, got)
		}
		if got := at(img, 0, qh-1-th); got != markerColor {
			t.Fatalf("quilt %d: tile (1,0) marker missing, got %v", q, got)
		}
		base := q * 4
		if got := at(img, 1, qh-1); got != tileColor(base) {
			t.Fatalf("quilt %d: bottom-left tile fill %v want %v", q, got, tileColor(base))
		}
		if got := at(img, tw+1, qh-1); got != tileColor(base+1) {
			t.Fatalf("quilt %d: bottom-right tile fill %v want %v", q, got, tileColor(base+1))
		}
		if got := at(img, 1, 0); got != tileColor(base+2) {
			t.Fatalf("quilt %d: top-left tile fill %v want %v", q, got, tileColor(base+2))
		}
		if got := at(img, tw+1, 0); got != tileColor(base+3) {
			t.Fatalf("quilt %d: top-right tile fill %v want %v", q, got, tileColor(base+3))
		}
	}

	want := []progress.Event{
		{Amount: 2, Index: 0, Status: progress.StatusInProgress},
		{Amount: 2, Index: 1, Status: progress.StatusInProgress},
		{Amount: 2, Index: 2, Status: progress.StatusInProgress},
	}
	got := rec.Events()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("events = %+v, want %+v", got, want)
	}
}

func TestComposeParallelMatchesSequential(t *testing.T) {
	root := t.TempDir()
	sorted := filepath.Join(root, "sorted")
	writeFrames(t, sorted, 12, 5, 2)

	seqOut := filepath.Join(root, "seq")
	parOut := filepath.Join(root, "par")
	if _, err := Compose(context.Background(), Request{SortedFolder: sorted, OutputFolder: seqOut, Columns: 3, Rows: 4, Workers: 1}, nil); err != nil {
		t.Fatalf("sequential: %v", err)
	}
	if _, err := Compose(context.Background(), Request{SortedFolder: sorted, OutputFolder: parOut, Columns: 3, Rows: 4, Workers: 8}, nil); err != nil {
		t.Fatalf("parallel: %v", err)
	}
	a := readPNG(t, filepath.Join(seqOut, "0.png"))
	b := readPNG(t, filepath.Join(parOut, "0.png"))
	for y := 0; y < a.Bounds().Dy(); y++ {
		for x := 0; x < a.Bounds().Dx(); x++ {
			if at(a, x, y) != at(b, x, y) {
				t.Fatalf("pixel (%d,%d) differs", x, y)
			}
		}
	}
}

func TestComposeTileSizeMismatchIsFatal(t *testing.T) {
	root := t.TempDir()
	sorted := filepath.Join(root, "sorted")
	out := filepath.Join(root, "out")
	writeFrames(t, sorted, 4, 4, 4)
	writeTile(t, filepath.Join(sorted, "frame_v002.png"), 5, 4, tileColor(2), markerColor)

	rec := &progress.Recorder{}
	_, err := Compose(context.Background(), Request{SortedFolder: sorted, OutputFolder: out, Columns: 2, Rows: 2}, progress.NewTracker(rec))
	if !errors.Is(err, ErrTileSize) {
		t.Fatalf("expected ErrTileSize, got %v", err)
	}
	var se *stage.Error
	if !errors.As(err, &se) || se.Stage != stage.Compose || filepath.Base(se.Path) != "frame_v002.png" {
		t.Fatalf("expected compose stage error naming the tile, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(out, "0.png")); !os.IsNotExist(err) {
		t.Fatalf("no partial quilt may be written")
	}
	for _, e := range rec.Events() {
		if e.Index > 0 {
			t.Fatalf("failed composition must not advance, got %+v", e)
		}
	}
}

func TestComposeMismatchAcrossQuilts(t *testing.T) {
	root := t.TempDir()
	sorted := filepath.Join(root, "sorted")
	writeFrames(t, sorted, 2, 4, 4)
	writeTile(t, filepath.Join(sorted, "frame_v002.png"), 6, 6, tileColor(2), markerColor)
	writeTile(t, filepath.Join(sorted, "frame_v003.png"), 6, 6, tileColor(3), markerColor)

	_, err := Compose(context.Background(), Request{SortedFolder: sorted, OutputFolder: filepath.Join(root, "out"), Columns: 2, Rows: 1}, nil)
	if !errors.Is(err, ErrTileSize) {
		t.Fatalf("expected ErrTileSize across quilts, got %v", err)
	}
}

func TestComposeCorruptTile(t *testing.T) {
	root := t.TempDir()
	sorted := filepath.Join(root, "sorted")
	writeFrames(t, sorted, 4, 2, 2)
	if err := os.WriteFile(filepath.Join(sorted, "frame_v003.png"), []byte("not an image"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := Compose(context.Background(), Request{SortedFolder: sorted, OutputFolder: filepath.Join(root, "out"), Columns: 2, Rows: 2, Workers: 2}, nil)
	if stage.Of(err) != stage.Compose {
		t.Fatalf("expected compose stage error, got %v", err)
	}
}

func TestComposeMissingFolder(t *testing.T) {
	root := t.TempDir()
	_, err := Compose(context.Background(), Request{SortedFolder: filepath.Join(root, "nope"), OutputFolder: root, Columns: 1, Rows: 1}, nil)
	if stage.Of(err) != stage.Compose || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected compose stage not-exist error, got %v", err)
	}
}

func TestComposeNoFullQuilt(t *testing.T) {
	root := t.TempDir()
	sorted := filepath.Join(root, "sorted")
	writeFrames(t, sorted, 3, 2, 2)
	rec := &progress.Recorder{}
	res, err := Compose(context.Background(), Request{SortedFolder: sorted, OutputFolder: filepath.Join(root, "out"), Columns: 2, Rows: 2}, progress.NewTracker(rec))
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if len(res.Quilts) != 0 || len(res.Unused) != 3 {
		t.Fatalf("unexpected result %+v", res)
	}
	events := rec.Events()
	if len(events) != 1 || events[0].Status != progress.StatusInProgress || events[0].Amount != 0 {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestComposeCanceled(t *testing.T) {
	root := t.TempDir()
	sorted := filepath.Join(root, "sorted")
	writeFrames(t, sorted, 4, 2, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Compose(ctx, Request{SortedFolder: sorted, OutputFolder: filepath.Join(root, "out"), Columns: 2, Rows: 2}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestPruneStaleRemovesHigherNumberedQuilts(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"0.png", "1.png", "2.png", "10.png", "007.png", "notes.png", "animation.mp4"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	removed, err := PruneStale(dir, 2)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if len(removed) != 2 {
		t.Fatalf("expected 2.png and 10.png removed, got %v", removed)
	}
	for _, name := range []string{"0.png", "1.png", "007.png", "notes.png", "animation.mp4"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("%s must stay: %v", name, err)
		}
	}
	for _, name := range []string{"2.png", "10.png"} {
		if _, err := os.Stat(filepath.Join(dir, name)); !os.IsNotExist(err) {
			t.Fatalf("%s must be gone", name)
		}
	}
}
