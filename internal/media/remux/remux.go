// Package remux drives the external lossless-remux collaborator (ffmpeg).
// It only ever copies codec data; no re-encoding happens anywhere.
package remux

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/HoloArchivists/twspace-dl/internal/domain"
	"github.com/HoloArchivists/twspace-dl/pkg/logger"
)

// Metadata holds the textual tags set at remux time.
type Metadata struct {
	Title     string
	Artist    string
	EpisodeID string
}

// Engine executes remux invocations against a configured ffmpeg binary.
type Engine struct {
	binaryPath string
	log        *logger.Logger
}

// NewEngine creates an Engine. An empty path defaults to "ffmpeg" in PATH.
func NewEngine(binaryPath string, log *logger.Logger) *Engine {
	if binaryPath == "" {
		binaryPath = "ffmpeg"
	}
	return &Engine{binaryPath: binaryPath, log: log}
}

// Available reports whether the remux tool is present on the execution path.
func (e *Engine) Available() bool {
	_, err := exec.LookPath(e.binaryPath)
	return err == nil
}

// Run executes one remux invocation. A non-zero exit surfaces an
// ExternalToolError carrying the exact command for operator diagnosis.
func (e *Engine) Run(ctx context.Context, step Step) error {
	args := step.Args()
	e.log.Debugw("running remux step", "step", step.Name(), "args", args)

	cmd := exec.CommandContext(ctx, e.binaryPath, args...)
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return &domain.ExternalToolError{
			Cmd: append([]string{e.binaryPath}, args...),
			Err: err,
		}
	}
	return nil
}

// EmbedCover rewrites the container at audioPath in place, attaching the
// image at coverPath as cover art. The remux goes through a sibling temp
// file which replaces the original only on success.
func (e *Engine) EmbedCover(ctx context.Context, audioPath, coverPath string) error {
	tmpPath := audioPath + ".cover.m4a"
	args := []string{
		"-y", "-v", "warning",
		"-i", audioPath,
		"-i", coverPath,
		"-map", "0:a",
		"-map", "1",
		"-c", "copy",
		"-disposition:v:0", "attached_pic",
		tmpPath,
	}
	cmd := exec.CommandContext(ctx, e.binaryPath, args...)
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		_ = os.Remove(tmpPath)
		return &domain.ExternalToolError{
			Cmd: append([]string{e.binaryPath}, args...),
			Err: err,
		}
	}
	if err := os.Rename(tmpPath, audioPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replacing container with tagged copy: %w", err)
	}
	return nil
}
