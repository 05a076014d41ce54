// Package resolver turns a space URL, user handle or metadata file into a
// canonical Broadcast record.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/HoloArchivists/twspace-dl/internal/domain"
	"github.com/HoloArchivists/twspace-dl/internal/twitter"
	"github.com/HoloArchivists/twspace-dl/pkg/logger"
)

// MetadataProvider is the API surface the resolver depends on.
type MetadataProvider interface {
	AudioSpaceByID(ctx context.Context, spaceID string) (json.RawMessage, error)
	UserID(ctx context.Context, screenName string) (string, error)
	UserTweets(ctx context.Context, userID string, count int) (string, error)
	AvatarContent(ctx context.Context, userIDs ...string) (*twitter.AvatarContentResponse, error)
	Authenticated() bool
}

var (
	spaceURLPattern  = regexp.MustCompile(`spaces/(\w+)`)
	userURLPattern   = regexp.MustCompile(`^(?:https?://)?twitter\.com/(\w+)/*$`)
	spaceInTweets    = regexp.MustCompile(`https://twitter\.com/i/spaces/(\w+)`)
	timelineScanSize = 20
)

// Input names the mutually exclusive discovery sources. SpaceURL takes
// precedence over UserURL, which takes precedence over MetadataPath
// (explicit over derived).
type Input struct {
	SpaceURL     string
	UserURL      string
	MetadataPath string
}

// Resolver resolves Broadcasts through an ordered list of strategies.
type Resolver struct {
	api MetadataProvider
	log *logger.Logger
}

// New creates a Resolver.
func New(api MetadataProvider, log *logger.Logger) *Resolver {
	return &Resolver{api: api, log: log}
}

// Resolve builds the strategy priority list for the input and runs it,
// returning the first successful Broadcast. Every successful resolution
// triggers one best-effort creator-id enrichment.
func (r *Resolver) Resolve(ctx context.Context, in Input) (*domain.Broadcast, error) {
	strategies, err := r.strategies(in)
	if err != nil {
		return nil, err
	}
	if len(strategies) == 0 {
		return nil, fmt.Errorf("no input source provided")
	}

	var b *domain.Broadcast
	var lastErr error
	for _, s := range strategies {
		b, lastErr = s.Resolve(ctx)
		if lastErr == nil {
			r.log.Debugw("broadcast resolved", "strategy", s.Name(), "id", b.ID)
			break
		}
		r.log.Debugw("resolution strategy failed", "strategy", s.Name(), "error", lastErr)
	}
	if lastErr != nil {
		return nil, lastErr
	}

	r.enrichCreatorID(ctx, b)
	return b, nil
}

func (r *Resolver) strategies(in Input) ([]Strategy, error) {
	switch {
	case in.SpaceURL != "":
		m := spaceURLPattern.FindStringSubmatch(in.SpaceURL)
		if m == nil {
			return nil, fmt.Errorf("input URL is not valid, expected https://twitter.com/i/spaces/<space_id>: %s", in.SpaceURL)
		}
		return []Strategy{&DirectID{r: r, SpaceID: m[1]}}, nil
	case in.UserURL != "":
		m := userURLPattern.FindStringSubmatch(in.UserURL)
		if m == nil {
			return nil, fmt.Errorf("invalid user URL: %s", in.UserURL)
		}
		screenName := m[1]
		// The avatar lookup is authoritative and cheaper but needs cookies;
		// the timeline scan only sees announced spaces.
		if r.api.Authenticated() {
			return []Strategy{
				&UserAvatar{r: r, ScreenName: screenName},
				&UserTimeline{r: r, ScreenName: screenName},
			}, nil
		}
		return []Strategy{&UserTimeline{r: r, ScreenName: screenName}}, nil
	case in.MetadataPath != "":
		return []Strategy{&LocalFile{Path: in.MetadataPath}}, nil
	}
	return nil, nil
}

// enrichCreatorID is a non-fatal enrichment: failure degrades CreatorID to
// empty instead of failing the resolution.
func (r *Resolver) enrichCreatorID(ctx context.Context, b *domain.Broadcast) {
	if b.CreatorScreenName == "" {
		return
	}
	id, err := r.api.UserID(ctx, b.CreatorScreenName)
	if err != nil {
		r.log.Warnw("could not resolve creator id", "screen_name", b.CreatorScreenName, "error", err)
		return
	}
	b.CreatorID = id
}

// ParseMetadata maps an AudioSpaceById response to a Broadcast. The raw
// response is attached untouched for export and diagnostics.
func ParseMetadata(raw json.RawMessage) (*domain.Broadcast, error) {
	var payload struct {
		Data struct {
			AudioSpace struct {
				Metadata struct {
					RestID             string `json:"rest_id"`
					Title              string `json:"title"`
					State              string `json:"state"`
					MediaKey           string `json:"media_key"`
					StartedAt          int64  `json:"started_at"`
					ScheduledStart     int64  `json:"scheduled_start"`
					AvailableForReplay bool   `json:"is_space_available_for_replay"`
					CreatorResults     struct {
						Result struct {
							Legacy struct {
								Name            string `json:"name"`
								ScreenName      string `json:"screen_name"`
								ProfileImageURL string `json:"profile_image_url_https"`
							} `json:"legacy"`
						} `json:"result"`
					} `json:"creator_results"`
				} `json:"metadata"`
			} `json:"audioSpace"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedMetadataFile, err)
	}
	meta := payload.Data.AudioSpace.Metadata
	if meta.RestID == "" {
		return nil, fmt.Errorf("%w: no space metadata in response", domain.ErrMalformedMetadataFile)
	}

	b := &domain.Broadcast{
		ID:                     meta.RestID,
		Title:                  meta.Title,
		CreatorName:            meta.CreatorResults.Result.Legacy.Name,
		CreatorScreenName:      meta.CreatorResults.Result.Legacy.ScreenName,
		CreatorProfileImageURL: meta.CreatorResults.Result.Legacy.ProfileImageURL,
		State:                  domain.ParseState(meta.State),
		AvailableForReplay:     meta.AvailableForReplay,
		MediaKey:               meta.MediaKey,
		Raw:                    raw,
	}
	if meta.StartedAt > 0 {
		b.StartedAt = time.UnixMilli(meta.StartedAt)
	}
	if meta.ScheduledStart > 0 {
		b.ScheduledStart = time.UnixMilli(meta.ScheduledStart)
	}
	return b, nil
}

// spaceByID fetches and parses metadata for a space id. A response without
// a media key means the space is not currently available.
func (r *Resolver) spaceByID(ctx context.Context, spaceID string) (*domain.Broadcast, error) {
	raw, err := r.api.AudioSpaceByID(ctx, spaceID)
	if err != nil {
		return nil, err
	}
	b, err := ParseMetadata(raw)
	if err != nil {
		return nil, fmt.Errorf("space %s: %w", spaceID, err)
	}
	if b.MediaKey == "" {
		r.log.Debugw("metadata without media key", "space_id", spaceID)
		return nil, fmt.Errorf("space %s: %w", spaceID, domain.ErrMediaKeyUnavailable)
	}
	return b, nil
}
