package view

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Marker separates a frame's name prefix from its view index, e.g. render_v042.png.
const Marker = "_v"

var (
	ErrNoMarker = errors.New("file name has no " + Marker + " marker")
	ErrBadIndex = errors.New("invalid view index")
)

// IndexError reports a view segment that is not a non-negative integer.
type IndexError struct {
	Name    string
	Segment string
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("%s: %q in %q", ErrBadIndex, e.Segment, e.Name)
}

func (e *IndexError) Unwrap() error { return ErrBadIndex }

// Frame is a single rendered image of one view.
type Frame struct {
	Folder string `json:"folder"`
	Name   string `json:"name"`
	Index  int    `json:"view_index"`
}

// HasMarker reports whether name carries the view marker at all.
func HasMarker(name string) bool {
	return strings.Contains(name, Marker)
}

// ParseIndex extracts the view index from a file name: the text after the
// first "_v" up to the next ".", parsed as a base-10 non-negative integer.
func ParseIndex(name string) (int, error) {
	_, rest, found := strings.Cut(name, Marker)
	if !found {
		return 0, ErrNoMarker
	}
	segment, _, _ := strings.Cut(rest, ".")
	if segment == "" || segment[0] == '+' || segment[0] == '-' {
		return 0, &IndexError{Name: name, Segment: segment}
	}
	index, err := strconv.Atoi(segment)
	if err != nil || index < 0 {
		return 0, &IndexError{Name: name, Segment: segment}
	}
	return index, nil
}

// CheckResult lists the entries of a folder that cannot take part in sorting.
type CheckResult struct {
	Folder string   `json:"folder"`
	Files  []string `json:"files"`
}

// Check lists dir and reports every entry lacking the view marker.
// Nothing is moved or deleted.
func Check(dir string) (CheckResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return CheckResult{}, fmt.Errorf("read dir: %w", err)
	}
	result := CheckResult{Folder: dir, Files: make([]string, 0)}
	for _, entry := range entries {
		if !HasMarker(entry.Name()) {
			result.Files = append(result.Files, entry.Name())
		}
	}
	return result, nil
}
