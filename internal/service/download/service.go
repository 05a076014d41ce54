// Package download orchestrates the merge of a resolved broadcast stream
// into a single playable audio file.
package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/HoloArchivists/twspace-dl/internal/domain"
	"github.com/HoloArchivists/twspace-dl/internal/format"
	"github.com/HoloArchivists/twspace-dl/internal/media/remux"
	"github.com/HoloArchivists/twspace-dl/pkg/logger"
)

// Extensions of creator images that can be embedded as cover art.
var coverContentTypes = map[string]string{
	"jpg": "image/jpeg",
	"png": "image/png",
}

// RemuxEngine is the external lossless-remux collaborator.
type RemuxEngine interface {
	Available() bool
	Run(ctx context.Context, step remux.Step) error
	EmbedCover(ctx context.Context, audioPath, coverPath string) error
}

// PlaylistSource provides the resolved stream locators and playlist.
type PlaylistSource interface {
	DynamicURL(ctx context.Context) (string, error)
	WritePlaylist(ctx context.Context, dir, baseName string) (string, error)
}

// ImageFetcher downloads the creator image for the cover post-step.
type ImageFetcher interface {
	Get(ctx context.Context, rawURL string, params url.Values, headers map[string]string, cookies map[string]string) (*http.Response, error)
}

// Uploader pushes finished artifacts to the archive bucket.
type Uploader interface {
	UploadFile(ctx context.Context, key, path, contentType string) error
}

// Service drives the state machine deciding between a single-phase and a
// two-phase (historical + live tail) merge, and guarantees atomic output
// placement: a crash mid-run leaves only scratch garbage, never a corrupt
// final file.
type Service struct {
	engine      RemuxEngine
	fetch       ImageFetcher
	uploader    Uploader
	scratchRoot string
	template    string
	log         *logger.Logger

	scratchDir string
}

// NewService creates the orchestrator. uploader may be nil when archiving
// is disabled.
func NewService(engine RemuxEngine, fetch ImageFetcher, uploader Uploader, scratchRoot, template string, log *logger.Logger) *Service {
	if template == "" {
		template = format.DefaultTemplate
	}
	return &Service{
		engine:      engine,
		fetch:       fetch,
		uploader:    uploader,
		scratchRoot: scratchRoot,
		template:    template,
		log:         log,
	}
}

// OutputPath returns the extensionless formatted output path for b.
func (s *Service) OutputPath(b *domain.Broadcast) string {
	return format.Format(s.template, format.Fields(b))
}

// ScratchDir returns the per-invocation scratch directory, empty before
// the first Download call.
func (s *Service) ScratchDir() string { return s.scratchDir }

// Download merges the broadcast stream into its final output path and
// returns that path. The broadcast state is captured once at branch time:
// a Running space gets the two-phase historical+tail merge, anything else
// a single remux followed by an atomic move.
func (s *Service) Download(ctx context.Context, b *domain.Broadcast, pl PlaylistSource) (string, error) {
	// Fail fast before any scratch or segment I/O
	if !s.engine.Available() {
		return "", domain.ErrRemuxToolMissing
	}

	outputPath := s.OutputPath(b)
	finalPath := outputPath + ".m4a"

	// Unique per invocation so concurrent runs on one host never collide
	s.scratchDir = filepath.Join(s.scratchRoot, "twspace-"+uuid.NewString())
	if err := os.MkdirAll(s.scratchDir, 0o755); err != nil {
		return "", fmt.Errorf("creating scratch directory: %w", err)
	}

	base := filepath.Base(outputPath)
	playlistPath, err := pl.WritePlaylist(ctx, s.scratchDir, base)
	if err != nil {
		return "", err
	}

	meta := remux.Metadata{
		Title:     b.Title,
		Artist:    b.CreatorName,
		EpisodeID: b.ID,
	}

	if b.State == domain.StateRunning {
		if err := s.mergeRunning(ctx, pl, playlistPath, base, finalPath, meta); err != nil {
			return "", err
		}
	} else {
		if err := s.mergeEnded(ctx, playlistPath, base, finalPath, meta); err != nil {
			return "", err
		}
	}

	s.log.Infow("finished downloading", "path", finalPath)
	return finalPath, nil
}

// mergeEnded performs the single-phase merge: one remux into scratch, then
// a move to the destination as the very last step.
func (s *Service) mergeEnded(ctx context.Context, playlistPath, base, finalPath string, meta remux.Metadata) error {
	scratchOut := filepath.Join(s.scratchDir, base+".m4a")
	step := remux.PlaylistCopy{PlaylistPath: playlistPath, OutputPath: scratchOut, Meta: meta}
	if err := s.engine.Run(ctx, step); err != nil {
		return fmt.Errorf("%w\nthis might be a temporary error, retry in a few minutes", err)
	}
	if dir := filepath.Dir(finalPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
	}
	return moveFile(scratchOut, finalPath)
}

// mergeRunning performs the two-phase merge: the historical playlist remux
// and the live-tail remux run concurrently as independent processes, then
// one concat joins both intermediates in temporal order.
func (s *Service) mergeRunning(ctx context.Context, pl PlaylistSource, playlistPath, base, finalPath string, meta remux.Metadata) error {
	dynURL, err := pl.DynamicURL(ctx)
	if err != nil {
		return err
	}

	historicalPath := filepath.Join(s.scratchDir, base+".m4a")
	tailPath := filepath.Join(s.scratchDir, base+"_tail.m4a")

	steps := []remux.Step{
		remux.PlaylistCopy{PlaylistPath: playlistPath, OutputPath: historicalPath, Meta: meta},
		remux.StreamCopy{StreamURL: dynURL, OutputPath: tailPath, Meta: meta},
	}

	errs := make([]error, len(steps))
	var wg sync.WaitGroup
	for i, step := range steps {
		wg.Add(1)
		go func(i int, step remux.Step) {
			defer wg.Done()
			errs[i] = s.engine.Run(ctx, step)
		}(i, step)
	}
	// The concat below must observe both intermediates fully written
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}

	listPath, err := s.writeConcatList(historicalPath, tailPath)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(finalPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
	}
	return s.engine.Run(ctx, remux.Concat{ListPath: listPath, OutputPath: finalPath, Meta: meta})
}

// writeConcatList writes the concat manifest, historical first.
func (s *Service) writeConcatList(historicalPath, tailPath string) (string, error) {
	absHistorical, err := filepath.Abs(historicalPath)
	if err != nil {
		return "", err
	}
	absTail, err := filepath.Abs(tailPath)
	if err != nil {
		return "", err
	}
	listPath := filepath.Join(s.scratchDir, "list.txt")
	content := fmt.Sprintf("file '%s'\nfile '%s'\n", absHistorical, absTail)
	if err := os.WriteFile(listPath, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("writing concat list: %w", err)
	}
	return listPath, nil
}

// EmbedCover fetches the creator image and embeds it as cover art in the
// finished container. Failure is reported as a CoverArtError so callers
// can treat it as non-fatal, the download itself having succeeded.
func (s *Service) EmbedCover(ctx context.Context, b *domain.Broadcast, finalPath string) error {
	coverURL := b.CreatorProfileImageURL
	ext := coverURL[strings.LastIndex(coverURL, ".")+1:]
	if _, ok := coverContentTypes[ext]; !ok {
		return &domain.CoverArtError{Err: fmt.Errorf("unsupported profile image format: %s", ext)}
	}

	resp, err := s.fetch.Get(ctx, coverURL, nil, nil, nil)
	if err != nil {
		return &domain.CoverArtError{Err: fmt.Errorf("cannot download profile image from %s: %w", coverURL, err)}
	}
	defer resp.Body.Close()

	coverFile, err := os.CreateTemp("", "twspace-cover-*."+ext)
	if err != nil {
		return &domain.CoverArtError{Err: err}
	}
	coverPath := coverFile.Name()
	defer os.Remove(coverPath)

	if _, err := io.Copy(coverFile, resp.Body); err != nil {
		coverFile.Close()
		return &domain.CoverArtError{Err: err}
	}
	coverFile.Close()

	if err := s.engine.EmbedCover(ctx, finalPath, coverPath); err != nil {
		return &domain.CoverArtError{Err: err}
	}
	return nil
}

// Archive uploads the final audio artifact (and the metadata export when
// present) to the archive bucket. Failure is an ArchiveError, non-fatal
// to the download.
func (s *Service) Archive(ctx context.Context, finalPath, metadataPath string) error {
	if s.uploader == nil {
		return nil
	}
	if err := s.uploader.UploadFile(ctx, filepath.Base(finalPath), finalPath, "audio/mp4"); err != nil {
		return &domain.ArchiveError{Err: err}
	}
	if metadataPath != "" {
		if err := s.uploader.UploadFile(ctx, filepath.Base(metadataPath), metadataPath, "application/json"); err != nil {
			return &domain.ArchiveError{Err: err}
		}
	}
	return nil
}

// Cleanup removes the scratch directory. It is an explicit separate step
// so a failed run's intermediates can be preserved for diagnosis.
func (s *Service) Cleanup() error {
	if s.scratchDir == "" {
		return nil
	}
	return os.RemoveAll(s.scratchDir)
}

// moveFile renames src to dst, copying across filesystems when a plain
// rename is not possible.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("moving output into place: %w", err)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("moving output into place: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("moving output into place: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("moving output into place: %w", err)
	}
	return os.Remove(src)
}
