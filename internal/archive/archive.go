// Package archive bundles finished quilt images into a single zip file.
package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	fileutil "quiltmaker/internal/file"
	"quiltmaker/internal/stage"
)

var (
	ErrNoFiles   = errors.New("no files provided")
	ErrAllFailed = errors.New("no file could be archived")
)

// Result describes the outcome of adding one file to the archive.
type Result struct {
	Path     string `json:"path"`
	Filename string `json:"filename"`
	Err      string `json:"error,omitempty"`
}

// BuildArchive writes files into a zip at destZipPath. It always returns one
// Result per input file; a file that cannot be read gets Result.Err set and is
// left out of the zip. The zip is written atomically, and an error is returned
// only when nothing could be archived or the zip itself could not be written.
func BuildArchive(ctx context.Context, destZipPath string, files []string) ([]Result, error) {
	if len(files) == 0 {
		return nil, stage.Wrap(stage.Archive, destZipPath, ErrNoFiles)
	}

	results := make([]Result, len(files))
	added := 0
	err := fileutil.WriteAtomic(destZipPath, func(w io.Writer) error {
		zipWriter := zip.NewWriter(w)
		used := make(map[string]int, len(files))
		for i, path := range files {
			if err := ctx.Err(); err != nil {
				_ = zipWriter.Close()
				return err
			}
			results[i] = addFile(zipWriter, path, entryName(path, i, used))
			if results[i].Err == "" {
				added++
			}
		}
		if added == 0 {
			_ = zipWriter.Close()
			return ErrAllFailed
		}
		if err := zipWriter.Close(); err != nil {
			return fmt.Errorf("close zip writer: %w", err)
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("archive", destZipPath).Msg("building archive failed")
		return results, stage.Wrap(stage.Archive, destZipPath, err)
	}
	log.Info().Str("archive", destZipPath).Int("files", added).Int("failed", len(files)-added).Msg("archive written")
	return results, nil
}

// addFile stores a single file; PNG data is already compressed so entries
// are not deflated again.
func addFile(zipWriter *zip.Writer, path, name string) Result {
	result := Result{Path: path, Filename: name}

	in, err := os.Open(path) //nolint:gosec // quilt paths produced by the composer
	if err != nil {
		result.Err = err.Error()
		log.Warn().Str("file", path).Err(err).Msg("open for archive failed")
		return result
	}
	defer func() { _ = in.Close() }()

	info, err := in.Stat()
	if err != nil || info.IsDir() {
		if err == nil {
			err = errors.New("is a directory")
		}
		result.Err = err.Error()
		log.Warn().Str("file", path).Err(err).Msg("stat for archive failed")
		return result
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		result.Err = err.Error()
		return result
	}
	header.Name = name
	header.Method = zip.Store
	entry, err := zipWriter.CreateHeader(header)
	if err != nil {
		result.Err = err.Error()
		log.Warn().Str("file", path).Err(err).Msg("zip entry create failed")
		return result
	}
	if _, err := io.Copy(entry, in); err != nil {
		result.Err = err.Error()
		log.Warn().Str("file", path).Err(err).Msg("copy into zip failed")
	}
	return result
}

// entryName derives a unique entry name from the file's base name, falling
// back to an index-based name.
func entryName(path string, index int, used map[string]int) string {
	base := filepath.Base(strings.TrimSpace(path))
	if base == "/" || base == "." || base == "" {
		base = fmt.Sprintf("file-%d", index+1)
	}
	used[base]++
	if n := used[base]; n > 1 {
		ext := filepath.Ext(base)
		base = strings.TrimSuffix(base, ext) + "-" + strconv.Itoa(n) + ext
		used[base]++
	}
	return base
}
