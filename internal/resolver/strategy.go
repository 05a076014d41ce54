package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/HoloArchivists/twspace-dl/internal/domain"
)

// Strategy is one broadcast discovery method. All variants yield a uniform
// Broadcast; the resolver selects them by an explicit priority list.
type Strategy interface {
	Name() string
	Resolve(ctx context.Context) (*domain.Broadcast, error)
}

// DirectID resolves a broadcast from its space id.
type DirectID struct {
	r       *Resolver
	SpaceID string
}

func (s *DirectID) Name() string { return "direct_id" }

func (s *DirectID) Resolve(ctx context.Context) (*domain.Broadcast, error) {
	return s.r.spaceByID(ctx, s.SpaceID)
}

// UserAvatar resolves a user's ongoing space through the live-content
// avatar pointer. Requires authenticated cookies.
type UserAvatar struct {
	r          *Resolver
	ScreenName string
}

func (s *UserAvatar) Name() string { return "user_avatar" }

func (s *UserAvatar) Resolve(ctx context.Context) (*domain.Broadcast, error) {
	userID, err := s.r.api.UserID(ctx, s.ScreenName)
	if err != nil {
		return nil, err
	}
	content, err := s.r.api.AvatarContent(ctx, userID)
	if err != nil {
		return nil, err
	}
	user, ok := content.Users[userID]
	if !ok || user.Spaces.LiveContent.AudioSpace.BroadcastID == "" {
		return nil, fmt.Errorf("user %s: %w", s.ScreenName, domain.ErrUserNotLive)
	}
	return s.r.spaceByID(ctx, user.Spaces.LiveContent.AudioSpace.BroadcastID)
}

// UserTimeline scans the user's most recent tweets for an announced space
// URL. Works without authentication but only finds announced spaces.
type UserTimeline struct {
	r          *Resolver
	ScreenName string
}

func (s *UserTimeline) Name() string { return "user_timeline" }

func (s *UserTimeline) Resolve(ctx context.Context) (*domain.Broadcast, error) {
	userID, err := s.r.api.UserID(ctx, s.ScreenName)
	if err != nil {
		return nil, err
	}
	tweets, err := s.r.api.UserTweets(ctx, userID, timelineScanSize)
	if err != nil {
		return nil, err
	}
	m := spaceInTweets.FindStringSubmatch(tweets)
	if m == nil {
		return nil, fmt.Errorf("user %s: %w", s.ScreenName, domain.ErrNoAnnouncedBroadcast)
	}
	return s.r.spaceByID(ctx, m[1])
}

// LocalFile parses a previously saved raw metadata export. Never makes a
// network call.
type LocalFile struct {
	Path string
}

func (s *LocalFile) Name() string { return "local_file" }

func (s *LocalFile) Resolve(ctx context.Context) (*domain.Broadcast, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("cannot read metadata file %s: %w", s.Path, err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%s: %w", s.Path, domain.ErrMalformedMetadataFile)
	}
	b, err := ParseMetadata(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.Path, err)
	}
	return b, nil
}
