package sorter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"quiltmaker/internal/stage"
)

func writeFrames(t *testing.T, dir, prefix string, from, to int) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for v := from; v < to; v++ {
		name := fmt.Sprintf("%s_v%03d.png", prefix, v)
		if err := os.WriteFile(filepath.Join(dir, name), []byte(dir+"/"+name), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
}

func listNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestBucketsContiguousAndTruncating(t *testing.T) {
	buckets := Buckets([]string{"a", "b", "c"}, 10)
	want := [][2]int{{0, 3}, {3, 6}, {6, 9}}
	for i, b := range buckets {
		if b.Lo != want[i][0] || b.Hi != want[i][1] || b.Ordinal != i {
			t.Fatalf("bucket %d = %+v, want %v", i, b, want[i])
		}
	}
	for _, b := range buckets {
		if b.Contains(9) {
			t.Fatalf("view 9 must be dropped with V=10 k=3, but bucket %+v contains it", b)
		}
	}
	covered := 0
	for v := 0; v < 10; v++ {
		n := 0
		for _, b := range buckets {
			if b.Contains(v) {
				n++
			}
		}
		if n > 1 {
			t.Fatalf("view %d in %d buckets", v, n)
		}
		covered += n
	}
	if covered != 9 {
		t.Fatalf("expected union [0,9), covered %d", covered)
	}
}

func TestBucketsDegenerate(t *testing.T) {
	for _, b := range Buckets([]string{"a", "b", "c"}, 2) {
		if b.Lo != 0 || b.Hi != 0 {
			t.Fatalf("expected zero-width buckets, got %+v", b)
		}
	}
	if Buckets(nil, 10) != nil {
		t.Fatalf("expected nil buckets for no folders")
	}
}

func TestSortCopiesOnlyOwnBucket(t *testing.T) {
	root := t.TempDir()
	a := filepath.Join(root, "a")
	b := filepath.Join(root, "b")
	// both folders rendered every view; each must contribute only its half
	writeFrames(t, a, "camA", 0, 10)
	writeFrames(t, b, "camB", 0, 10)
	dest := filepath.Join(root, "sorted")

	res, err := Sort(context.Background(), Request{Folders: []string{a, b}, Destination: dest, Views: 10})
	if err != nil {
		t.Fatalf("sort: %v", err)
	}
	got := listNames(t, dest)
	want := []string{
		"camA_v000.png", "camA_v001.png", "camA_v002.png", "camA_v003.png", "camA_v004.png",
		"camB_v005.png", "camB_v006.png", "camB_v007.png", "camB_v008.png", "camB_v009.png",
	}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("destination = %v, want %v", got, want)
	}
	if len(res.Copied) != 10 || res.OutOfBucket != 10 {
		t.Fatalf("unexpected result: copied=%d out=%d", len(res.Copied), res.OutOfBucket)
	}

	for _, name := range got {
		srcDir := a
		if name[3] == 'B' {
			srcDir = b
		}
		want, _ := os.ReadFile(filepath.Join(srcDir, name))
		have, _ := os.ReadFile(filepath.Join(dest, name))
		if string(want) != string(have) {
			t.Fatalf("content of %s differs", name)
		}
		if _, err := os.Stat(filepath.Join(srcDir, name)); err != nil {
			t.Fatalf("source file must stay: %v", err)
		}
	}
}

func TestSortDropsTruncatedRange(t *testing.T) {
	root := t.TempDir()
	folders := []string{filepath.Join(root, "a"), filepath.Join(root, "b"), filepath.Join(root, "c")}
	for i, f := range folders {
		writeFrames(t, f, fmt.Sprintf("f%d", i), 0, 10)
	}
	dest := filepath.Join(root, "sorted")
	res, err := Sort(context.Background(), Request{Folders: folders, Destination: dest, Views: 10})
	if err != nil {
		t.Fatalf("sort: %v", err)
	}
	if len(res.Copied) != 9 {
		t.Fatalf("expected 9 copies, got %d", len(res.Copied))
	}
	for _, fr := range res.Copied {
		if fr.Index >= 9 {
			t.Fatalf("view %d should have been dropped", fr.Index)
		}
	}
}

func TestSortViewsBelowFolderCountIsNoop(t *testing.T) {
	root := t.TempDir()
	a := filepath.Join(root, "a")
	b := filepath.Join(root, "b")
	writeFrames(t, a, "a", 0, 3)
	writeFrames(t, b, "b", 0, 3)
	dest := filepath.Join(root, "sorted")
	res, err := Sort(context.Background(), Request{Folders: []string{a, b}, Destination: dest, Views: 1})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(res.Copied) != 0 || len(listNames(t, dest)) != 0 {
		t.Fatalf("expected nothing copied")
	}
}

func TestSortSkipsUnparseableAndContinues(t *testing.T) {
	root := t.TempDir()
	a := filepath.Join(root, "a")
	writeFrames(t, a, "a", 0, 4)
	for _, junk := range []string{"notes.txt", "bad_vX.png"} {
		if err := os.WriteFile(filepath.Join(a, junk), []byte("x"), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	dest := filepath.Join(root, "sorted")
	res, err := Sort(context.Background(), Request{Folders: []string{a}, Destination: dest, Views: 4})
	if err != nil {
		t.Fatalf("sort: %v", err)
	}
	if len(res.Copied) != 4 || len(res.Skipped) != 2 {
		t.Fatalf("expected 4 copied and 2 skipped, got %d/%d", len(res.Copied), len(res.Skipped))
	}
}

func TestSortMissingFolderIsStageError(t *testing.T) {
	root := t.TempDir()
	a := filepath.Join(root, "a")
	writeFrames(t, a, "a", 0, 2)
	missing := filepath.Join(root, "missing")

	_, err := Sort(context.Background(), Request{Folders: []string{a, missing}, Destination: filepath.Join(root, "out"), Views: 4})
	var se *stage.Error
	if !errors.As(err, &se) {
		t.Fatalf("expected stage error, got %v", err)
	}
	if se.Stage != stage.Sort || se.Path != missing || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("unexpected stage error: %+v", se)
	}
}

func TestSortValidation(t *testing.T) {
	cases := []struct {
		req  Request
		want error
	}{
		{Request{Destination: "x", Views: 1}, ErrNoFolders},
		{Request{Folders: []string{"a"}, Views: 1}, ErrNoDestination},
		{Request{Folders: []string{"a"}, Destination: "x", Views: -1}, ErrNegativeViews},
		{Request{Folders: []string{"a"}, Destination: t.TempDir(), Views: 1, Collision: "rename"}, ErrUnknownCollision},
	}
	for _, c := range cases {
		if _, err := Sort(context.Background(), c.req); !errors.Is(err, c.want) {
			t.Fatalf("Sort(%+v): expected %v, got %v", c.req, c.want, err)
		}
	}
}

func TestSortCollisionOverwrite(t *testing.T) {
	root := t.TempDir()
	a := filepath.Join(root, "a")
	dest := filepath.Join(root, "sorted")
	mustWrite(t, filepath.Join(a, "cam_v0.png"), "new")
	mustWrite(t, filepath.Join(a, "cam_v1.png"), "new 1")
	mustWrite(t, filepath.Join(dest, "cam_v0.png"), "stale")

	res, err := Sort(context.Background(), Request{Folders: []string{a}, Destination: dest, Views: 2, Collision: CollisionOverwrite})
	if err != nil {
		t.Fatalf("sort: %v", err)
	}
	if res.Overwritten != 1 {
		t.Fatalf("expected one overwrite, got %d", res.Overwritten)
	}
	b, _ := os.ReadFile(filepath.Join(dest, "cam_v0.png"))
	if string(b) != "new" {
		t.Fatalf("last writer must win, got %q", b)
	}
}

func TestSortCollisionReject(t *testing.T) {
	root := t.TempDir()
	a := filepath.Join(root, "a")
	dest := filepath.Join(root, "sorted")
	mustWrite(t, filepath.Join(a, "cam_v0.png"), "new")
	mustWrite(t, filepath.Join(dest, "cam_v0.png"), "stale")

	_, err := Sort(context.Background(), Request{Folders: []string{a}, Destination: dest, Views: 1, Collision: CollisionReject})
	if !errors.Is(err, ErrDuplicateName) || stage.Of(err) != stage.Sort {
		t.Fatalf("expected duplicate name stage error, got %v", err)
	}
	b, _ := os.ReadFile(filepath.Join(dest, "cam_v0.png"))
	if string(b) != "stale" {
		t.Fatalf("rejected copy must not touch the destination, got %q", b)
	}
}

func TestParseCollision(t *testing.T) {
	if c, err := ParseCollision(""); err != nil || c != CollisionOverwrite {
		t.Fatalf("empty policy should default to overwrite, got %q %v", c, err)
	}
	if c, err := ParseCollision("reject"); err != nil || c != CollisionReject {
		t.Fatalf("unexpected: %q %v", c, err)
	}
	if _, err := ParseCollision("rename"); !errors.Is(err, ErrUnknownCollision) {
		t.Fatalf("expected ErrUnknownCollision, got %v", err)
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestSortCanceled(t *testing.T) {
	root := t.TempDir()
	a := filepath.Join(root, "a")
	writeFrames(t, a, "a", 0, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Sort(ctx, Request{Folders: []string{a}, Destination: filepath.Join(root, "out"), Views: 2})
	if !errors.Is(err, context.Canceled) || stage.Of(err) != stage.Sort {
		t.Fatalf("expected canceled sort stage error, got %v", err)
	}
}
