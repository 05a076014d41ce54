package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/HoloArchivists/twspace-dl/internal/domain"
	"github.com/HoloArchivists/twspace-dl/internal/twitter"
	"github.com/HoloArchivists/twspace-dl/pkg/logger"
)

type fakeAPI struct {
	authenticated bool
	spaces        map[string]json.RawMessage
	userIDs       map[string]string
	tweets        map[string]string
	liveBroadcast map[string]string
	userIDErr     error

	calls []string
}

func (f *fakeAPI) AudioSpaceByID(ctx context.Context, spaceID string) (json.RawMessage, error) {
	f.calls = append(f.calls, "audio_space")
	raw, ok := f.spaces[spaceID]
	if !ok {
		return nil, fmt.Errorf("no such space: %s", spaceID)
	}
	return raw, nil
}

func (f *fakeAPI) UserID(ctx context.Context, screenName string) (string, error) {
	f.calls = append(f.calls, "user_id")
	if f.userIDErr != nil {
		return "", f.userIDErr
	}
	id, ok := f.userIDs[screenName]
	if !ok {
		return "", fmt.Errorf("no such user: %s", screenName)
	}
	return id, nil
}

func (f *fakeAPI) UserTweets(ctx context.Context, userID string, count int) (string, error) {
	f.calls = append(f.calls, "user_tweets")
	return f.tweets[userID], nil
}

func (f *fakeAPI) AvatarContent(ctx context.Context, userIDs ...string) (*twitter.AvatarContentResponse, error) {
	f.calls = append(f.calls, "avatar_content")
	users := map[string]any{}
	for _, id := range userIDs {
		if bid, ok := f.liveBroadcast[id]; ok {
			users[id] = map[string]any{
				"spaces": map[string]any{
					"live_content": map[string]any{
						"audiospace": map[string]any{"broadcast_id": bid},
					},
				},
			}
		}
	}
	buf, err := json.Marshal(map[string]any{"users": users})
	if err != nil {
		return nil, err
	}
	var resp twitter.AvatarContentResponse
	if err := json.Unmarshal(buf, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (f *fakeAPI) Authenticated() bool { return f.authenticated }

func (f *fakeAPI) called(name string) bool {
	for _, c := range f.calls {
		if c == name {
			return true
		}
	}
	return false
}

func spaceJSON(id, mediaKey string) json.RawMessage {
	doc := fmt.Sprintf(`{
		"data": {
			"audioSpace": {
				"metadata": {
					"rest_id": %q,
					"title": "Morning Talk",
					"state": "Running",
					"media_key": %q,
					"started_at": 1710000000000,
					"is_space_available_for_replay": true,
					"creator_results": {
						"result": {
							"legacy": {
								"name": "Alice",
								"screen_name": "alice",
								"profile_image_url_https": "https://pbs.twimg.com/profile_images/1/a.jpg"
							}
						}
					}
				}
			}
		}
	}`, id, mediaKey)
	return json.RawMessage(doc)
}

func testLog() *logger.Logger { return logger.New("fatal", "console") }

func TestResolveSpaceURL(t *testing.T) {
	api := &fakeAPI{
		spaces:  map[string]json.RawMessage{"1abc": spaceJSON("1abc", "28_key")},
		userIDs: map[string]string{"alice": "1001"},
	}
	b, err := New(api, testLog()).Resolve(context.Background(), Input{
		SpaceURL: "https://twitter.com/i/spaces/1abc",
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if b.ID != "1abc" || b.Title != "Morning Talk" || b.MediaKey != "28_key" {
		t.Errorf("broadcast = %+v", b)
	}
	if b.State != domain.StateRunning {
		t.Errorf("state = %q", b.State)
	}
	if b.CreatorID != "1001" {
		t.Errorf("creator id not enriched: %q", b.CreatorID)
	}
	if len(b.Raw) == 0 {
		t.Error("raw metadata not retained")
	}
}

func TestResolveInvalidSpaceURL(t *testing.T) {
	_, err := New(&fakeAPI{}, testLog()).Resolve(context.Background(), Input{
		SpaceURL: "https://example.com/not-a-space",
	})
	if err == nil {
		t.Fatal("expected error for unparseable space URL")
	}
}

func TestResolveUserURLPrefersAvatarWhenAuthenticated(t *testing.T) {
	api := &fakeAPI{
		authenticated: true,
		spaces:        map[string]json.RawMessage{"1abc": spaceJSON("1abc", "28_key")},
		userIDs:       map[string]string{"alice": "1001"},
		liveBroadcast: map[string]string{"1001": "1abc"},
	}
	b, err := New(api, testLog()).Resolve(context.Background(), Input{
		UserURL: "https://twitter.com/alice",
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if b.ID != "1abc" {
		t.Errorf("id = %q", b.ID)
	}
	if api.called("user_tweets") {
		t.Error("timeline scan ran although the avatar lookup succeeded")
	}
}

func TestResolveUserURLFallsBackToTimeline(t *testing.T) {
	api := &fakeAPI{
		authenticated: true,
		spaces:        map[string]json.RawMessage{"1abc": spaceJSON("1abc", "28_key")},
		userIDs:       map[string]string{"alice": "1001"},
		tweets:        map[string]string{"1001": "join me https://twitter.com/i/spaces/1abc today"},
	}
	b, err := New(api, testLog()).Resolve(context.Background(), Input{
		UserURL: "https://twitter.com/alice",
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if b.ID != "1abc" {
		t.Errorf("id = %q", b.ID)
	}
	if !api.called("avatar_content") {
		t.Error("avatar lookup was skipped despite authentication")
	}
	if !api.called("user_tweets") {
		t.Error("timeline fallback did not run")
	}
}

func TestResolveUserURLGuestSkipsAvatar(t *testing.T) {
	api := &fakeAPI{
		spaces:  map[string]json.RawMessage{"1abc": spaceJSON("1abc", "28_key")},
		userIDs: map[string]string{"alice": "1001"},
		tweets:  map[string]string{"1001": "https://twitter.com/i/spaces/1abc"},
	}
	if _, err := New(api, testLog()).Resolve(context.Background(), Input{
		UserURL: "twitter.com/alice",
	}); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if api.called("avatar_content") {
		t.Error("avatar lookup needs cookies and must not run as guest")
	}
}

func TestResolveUserURLNoAnnouncedSpace(t *testing.T) {
	api := &fakeAPI{
		userIDs: map[string]string{"alice": "1001"},
		tweets:  map[string]string{"1001": "nothing to see here"},
	}
	_, err := New(api, testLog()).Resolve(context.Background(), Input{
		UserURL: "https://twitter.com/alice",
	})
	if !errors.Is(err, domain.ErrNoAnnouncedBroadcast) {
		t.Fatalf("error = %v, want ErrNoAnnouncedBroadcast", err)
	}
}

func TestResolveMissingMediaKey(t *testing.T) {
	api := &fakeAPI{
		spaces: map[string]json.RawMessage{"1abc": spaceJSON("1abc", "")},
	}
	_, err := New(api, testLog()).Resolve(context.Background(), Input{
		SpaceURL: "https://twitter.com/i/spaces/1abc",
	})
	if !errors.Is(err, domain.ErrMediaKeyUnavailable) {
		t.Fatalf("error = %v, want ErrMediaKeyUnavailable", err)
	}
}

func TestResolveEnrichmentFailureIsNonFatal(t *testing.T) {
	api := &fakeAPI{
		spaces:    map[string]json.RawMessage{"1abc": spaceJSON("1abc", "28_key")},
		userIDErr: fmt.Errorf("backend down"),
	}
	b, err := New(api, testLog()).Resolve(context.Background(), Input{
		SpaceURL: "https://twitter.com/i/spaces/1abc",
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if b.CreatorID != "" {
		t.Errorf("creator id = %q, want empty on enrichment failure", b.CreatorID)
	}
}

func TestResolveMetadataFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "space.json")
	if err := os.WriteFile(path, spaceJSON("1abc", "28_key"), 0o644); err != nil {
		t.Fatal(err)
	}
	b, err := New(&fakeAPI{userIDs: map[string]string{"alice": "1001"}}, testLog()).
		Resolve(context.Background(), Input{MetadataPath: path})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if b.ID != "1abc" || b.CreatorScreenName != "alice" {
		t.Errorf("broadcast = %+v", b)
	}
}

func TestResolveMetadataFileMalformed(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"not json", "definitely not json"},
		{"json without space", `{"data":{}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "space.json")
			if err := os.WriteFile(path, []byte(tc.content), 0o644); err != nil {
				t.Fatal(err)
			}
			_, err := New(&fakeAPI{}, testLog()).Resolve(context.Background(), Input{MetadataPath: path})
			if !errors.Is(err, domain.ErrMalformedMetadataFile) {
				t.Fatalf("error = %v, want ErrMalformedMetadataFile", err)
			}
		})
	}
}

func TestParseMetadataStartTimes(t *testing.T) {
	raw := json.RawMessage(`{"data":{"audioSpace":{"metadata":{
		"rest_id":"1abc","state":"Scheduled","media_key":"28_key",
		"scheduled_start":1710003600000}}}}`)
	b, err := ParseMetadata(raw)
	if err != nil {
		t.Fatalf("ParseMetadata: %v", err)
	}
	if !b.StartedAt.IsZero() {
		t.Errorf("started_at should be unset, got %v", b.StartedAt)
	}
	if b.ScheduledStart.UnixMilli() != 1710003600000 {
		t.Errorf("scheduled_start = %v", b.ScheduledStart)
	}
	if b.StartTime() != b.ScheduledStart {
		t.Error("StartTime should fall back to the scheduled start")
	}
}
