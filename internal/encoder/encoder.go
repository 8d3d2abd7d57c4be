// Package encoder turns a folder of numbered quilt images into an H.264
// animation by running ffmpeg.
package encoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"quiltmaker/internal/stage"
)

const (
	DefaultBinary = "ffmpeg"
	OutputName    = "animation.mp4"
	stderrTail    = 2048
)

var (
	ErrNotFound  = errors.New("ffmpeg executable not found")
	ErrFramerate = errors.New("framerate must be positive")
	ErrFailed    = errors.New("ffmpeg failed")
)

// Args returns the ffmpeg argument list (without the program name) that reads
// <outputFolder>/%d.png and writes <outputFolder>/animation.mp4.
func Args(outputFolder string, framerate int) []string {
	return []string{
		"-y",
		"-framerate", strconv.Itoa(framerate),
		"-i", filepath.Join(outputFolder, "%d.png"),
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		filepath.Join(outputFolder, OutputName),
	}
}

type Encoder struct {
	Binary string
}

type Result struct {
	Path     string        `json:"path"`
	Args     []string      `json:"args"`
	Stderr   string        `json:"stderr,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Lookup resolves the encoder binary. An empty name means ffmpeg on PATH; a
// name with a path separator must point at an existing file.
func Lookup(binary string) (*Encoder, error) {
	if binary == "" {
		binary = DefaultBinary
	}
	if strings.ContainsRune(binary, os.PathSeparator) || strings.Contains(binary, "/") {
		info, err := os.Stat(binary)
		if err != nil || info.IsDir() {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, binary)
		}
		return &Encoder{Binary: binary}, nil
	}
	resolved, err := exec.LookPath(binary)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNotFound, binary, err)
	}
	return &Encoder{Binary: resolved}, nil
}

// Encode runs ffmpeg and waits for it to exit. Success means exit status 0;
// anything else is an animate stage error carrying the exit code and the tail
// of stderr. Quilt images in outputFolder are only read.
func (e *Encoder) Encode(ctx context.Context, outputFolder string, framerate int) (Result, error) {
	if framerate <= 0 {
		return Result{}, stage.Wrap(stage.Animate, outputFolder, fmt.Errorf("%w: %d", ErrFramerate, framerate))
	}
	binary := e.Binary
	if binary == "" {
		binary = DefaultBinary
	}
	args := Args(outputFolder, framerate)
	result := Result{Path: filepath.Join(outputFolder, OutputName), Args: args}

	cmd := exec.CommandContext(ctx, binary, args...)
	var stderrBuf bytes.Buffer
	cmd.Stderr = &stderrBuf

	log.Info().Str("binary", binary).Strs("args", args).Msg("starting animation encoder")
	started := time.Now()
	err := cmd.Run()
	result.Duration = time.Since(started)
	result.Stderr = tail(stderrBuf.String(), stderrTail)
	if err != nil {
		return result, stage.Wrap(stage.Animate, result.Path, describe(ctx, err, result.Stderr))
	}
	log.Info().Str("path", result.Path).Dur("took", result.Duration).Msg("animation created")
	return result, nil
}

func describe(ctx context.Context, err error, stderr string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("encoder interrupted: %w", ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if stderr == "" {
			return fmt.Errorf("%w: exit status %d", ErrFailed, exitErr.ExitCode())
		}
		return fmt.Errorf("%w: exit status %d: %s", ErrFailed, exitErr.ExitCode(), stderr)
	}
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return fmt.Errorf("run encoder: %w", err)
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	cut := len(s) - n
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return "..." + s[cut:]
}
