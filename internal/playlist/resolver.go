// Package playlist resolves the stream locators of a broadcast: the
// liveness-bound dynamic URL, the derived master playlist URL, and the
// rewritten segment playlist a remuxer can consume.
package playlist

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/HoloArchivists/twspace-dl/internal/domain"
	"github.com/HoloArchivists/twspace-dl/pkg/logger"
)

const masterPlaylistName = "master_playlist.m3u8"

var (
	audioSpacePath = regexp.MustCompile(`(/audio-space/).*`)
	masterSuffix   = regexp.MustCompile(`master_playlist\.m3u8.*`)
)

// LiveStatusProvider queries the live-status endpoint by media key.
type LiveStatusProvider interface {
	LiveVideoStreamStatus(ctx context.Context, mediaKey string) (string, error)
}

// Fetcher retrieves playlist bodies over HTTP.
type Fetcher interface {
	GetText(ctx context.Context, rawURL string, params url.Values, headers map[string]string, cookies map[string]string) (string, error)
}

// Resolver walks a broadcast through NotResolved -> DynamicURLKnown ->
// PlaylistReady. Derived locators are computed at most once and cached for
// the process lifetime. An ended space without replay is terminal unless a
// manual override was supplied.
type Resolver struct {
	b      *domain.Broadcast
	status LiveStatusProvider
	http   Fetcher
	log    *logger.Logger

	dynamicURL string
	masterURL  string
	segmentURL string
}

// New creates a Resolver for one broadcast.
func New(b *domain.Broadcast, status LiveStatusProvider, http Fetcher, log *logger.Logger) *Resolver {
	return &Resolver{b: b, status: status, http: http, log: log}
}

// SetDynamicURL injects an operator-supplied dynamic URL, bypassing the
// live-status lookup. This is the escape hatch when automatic derivation
// breaks after an upstream format change.
func (r *Resolver) SetDynamicURL(u string) { r.dynamicURL = u }

// SetMasterURL injects an operator-supplied master URL.
func (r *Resolver) SetMasterURL(u string) { r.masterURL = u }

// DynamicURL returns the liveness-bound locator, querying live status by
// media key on first use. An ended space without replay short-circuits to
// a terminal PlaylistUnavailableError without any network call.
func (r *Resolver) DynamicURL(ctx context.Context) (string, error) {
	if r.dynamicURL != "" {
		return r.dynamicURL, nil
	}
	if !r.b.Replayable() {
		return "", &domain.PlaylistUnavailableError{Reason: "space ended, no replay, no override"}
	}
	if r.b.MediaKey == "" {
		return "", fmt.Errorf("broadcast %s has no media key", r.b.ID)
	}
	location, err := r.status.LiveVideoStreamStatus(ctx, r.b.MediaKey)
	if err != nil {
		return "", fmt.Errorf("space %s is not available: %w", r.b.ID, err)
	}
	r.log.Debugw("dynamic url resolved", "url", location)
	r.dynamicURL = location
	return r.dynamicURL, nil
}

// MasterURL derives the stable master playlist URL from the dynamic URL by
// replacing the trailing path segment after /audio-space/.
func (r *Resolver) MasterURL(ctx context.Context) (string, error) {
	if r.masterURL != "" {
		return r.masterURL, nil
	}
	dynURL, err := r.DynamicURL(ctx)
	if err != nil {
		return "", err
	}
	if !audioSpacePath.MatchString(dynURL) {
		return "", fmt.Errorf("dynamic url has no /audio-space/ component: %s", dynURL)
	}
	r.masterURL = audioSpacePath.ReplaceAllString(dynURL, "${1}"+masterPlaylistName)
	return r.masterURL, nil
}

// SegmentPlaylistURL fetches the master playlist and extracts the
// sub-playlist reference. The master playlist is scanned structurally for
// the first non-directive line naming an .m3u8 path; the historical fixed
// line offset (index 3) remains as a fallback for manifests the scan does
// not recognize.
func (r *Resolver) SegmentPlaylistURL(ctx context.Context) (string, error) {
	if r.segmentURL != "" {
		return r.segmentURL, nil
	}
	masterURL, err := r.MasterURL(ctx)
	if err != nil {
		return "", err
	}
	body, err := r.http.GetText(ctx, masterURL, nil, nil, nil)
	if err != nil {
		return "", fmt.Errorf("fetching master playlist: %w", err)
	}
	suffix, err := extractPlaylistPath(body)
	if err != nil {
		return "", fmt.Errorf("master playlist %s: %w", masterURL, err)
	}

	parsed, err := url.Parse(masterURL)
	if err != nil {
		return "", fmt.Errorf("invalid master url: %w", err)
	}
	r.segmentURL = "https://" + parsed.Host + suffix
	return r.segmentURL, nil
}

// extractPlaylistPath finds the chunked sub-playlist reference in a master
// playlist body.
func extractPlaylistPath(body string) (string, error) {
	lines := strings.Split(body, "\n")
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if strings.Contains(trimmed, ".m3u8") {
			return trimmed, nil
		}
	}
	// Conventional upstream shape puts the reference on the 4th line.
	if len(lines) > 3 && strings.TrimSpace(lines[3]) != "" {
		return strings.TrimSpace(lines[3]), nil
	}
	return "", fmt.Errorf("no sub-playlist reference found")
}

// PlaylistText fetches the segment playlist and rewrites every chunk
// reference into an absolute URL by prefixing the master URL stripped of
// its filename. All other lines stay byte-identical and line order is
// preserved.
func (r *Resolver) PlaylistText(ctx context.Context) (string, error) {
	segmentURL, err := r.SegmentPlaylistURL(ctx)
	if err != nil {
		return "", err
	}
	body, err := r.http.GetText(ctx, segmentURL, nil, nil, nil)
	if err != nil {
		return "", fmt.Errorf("fetching segment playlist: %w", err)
	}
	masterURL, err := r.MasterURL(ctx)
	if err != nil {
		return "", err
	}
	return RewriteChunks(body, masterSuffix.ReplaceAllString(masterURL, "")), nil
}

// RewriteChunks prefixes every chunk-reference line with base.
func RewriteChunks(body, base string) string {
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		if strings.HasPrefix(line, "chunk") {
			lines[i] = base + line
		}
	}
	return strings.Join(lines, "\n")
}

// WritePlaylist writes the rewritten playlist to dir under baseName with
// the m3u8 extension, returning the written path.
func (r *Resolver) WritePlaylist(ctx context.Context, dir, baseName string) (string, error) {
	text, err := r.PlaylistText(ctx)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, baseName+".m3u8")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("writing playlist: %w", err)
	}
	r.log.Debugw("playlist written to disk", "path", path)
	return path, nil
}
