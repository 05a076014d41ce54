package playlist

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/HoloArchivists/twspace-dl/internal/domain"
	"github.com/HoloArchivists/twspace-dl/pkg/logger"
)

type fakeStatus struct {
	t        *testing.T
	location string
	err      error
	calls    int
	forbid   bool
}

func (f *fakeStatus) LiveVideoStreamStatus(ctx context.Context, mediaKey string) (string, error) {
	if f.forbid {
		f.t.Fatal("live status queried for a terminally unavailable space")
	}
	f.calls++
	return f.location, f.err
}

type fakeFetcher struct {
	bodies map[string]string
	calls  []string
}

func (f *fakeFetcher) GetText(ctx context.Context, rawURL string, params url.Values, headers map[string]string, cookies map[string]string) (string, error) {
	f.calls = append(f.calls, rawURL)
	body, ok := f.bodies[rawURL]
	if !ok {
		return "", errors.New("unexpected url: " + rawURL)
	}
	return body, nil
}

func testLog() *logger.Logger { return logger.New("fatal", "console") }

const (
	dynURL    = "https://prod-fastly-ap-northeast-1.video.pscp.tv/Transcoding/v1/hls/abc/non_transcode/ap-northeast-1/periscope-replay-direct-prod-ap-northeast-1-public/audio-space/dynamic_playlist.m3u8?type=live"
	masterURL = "https://prod-fastly-ap-northeast-1.video.pscp.tv/Transcoding/v1/hls/abc/non_transcode/ap-northeast-1/periscope-replay-direct-prod-ap-northeast-1-public/audio-space/master_playlist.m3u8"
)

func runningBroadcast() *domain.Broadcast {
	return &domain.Broadcast{ID: "1abc", State: domain.StateRunning, MediaKey: "28_key"}
}

func TestDynamicURLMemoized(t *testing.T) {
	status := &fakeStatus{t: t, location: dynURL}
	r := New(runningBroadcast(), status, &fakeFetcher{}, testLog())

	ctx := context.Background()
	first, err := r.DynamicURL(ctx)
	if err != nil {
		t.Fatalf("DynamicURL: %v", err)
	}
	second, err := r.DynamicURL(ctx)
	if err != nil {
		t.Fatalf("DynamicURL: %v", err)
	}
	if first != dynURL || second != dynURL {
		t.Errorf("urls = %q, %q", first, second)
	}
	if status.calls != 1 {
		t.Errorf("live status queried %d times, want 1", status.calls)
	}
}

func TestDynamicURLEndedWithoutReplay(t *testing.T) {
	b := &domain.Broadcast{ID: "1abc", State: domain.StateEnded, AvailableForReplay: false, MediaKey: "28_key"}
	status := &fakeStatus{t: t, forbid: true}
	r := New(b, status, &fakeFetcher{}, testLog())

	_, err := r.DynamicURL(context.Background())
	var unavailable *domain.PlaylistUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("error = %v, want PlaylistUnavailableError", err)
	}
}

func TestDynamicURLOverrideBypassesLiveness(t *testing.T) {
	// An override makes even a terminally ended space resolvable
	b := &domain.Broadcast{ID: "1abc", State: domain.StateEnded, AvailableForReplay: false}
	status := &fakeStatus{t: t, forbid: true}
	r := New(b, status, &fakeFetcher{}, testLog())
	r.SetDynamicURL(dynURL)

	got, err := r.DynamicURL(context.Background())
	if err != nil {
		t.Fatalf("DynamicURL: %v", err)
	}
	if got != dynURL {
		t.Errorf("url = %q", got)
	}
}

func TestMasterURLDerivation(t *testing.T) {
	status := &fakeStatus{t: t, location: dynURL}
	r := New(runningBroadcast(), status, &fakeFetcher{}, testLog())

	got, err := r.MasterURL(context.Background())
	if err != nil {
		t.Fatalf("MasterURL: %v", err)
	}
	if got != masterURL {
		t.Errorf("master url = %q, want %q", got, masterURL)
	}
}

func TestMasterURLOverride(t *testing.T) {
	status := &fakeStatus{t: t, forbid: true}
	r := New(runningBroadcast(), status, &fakeFetcher{}, testLog())
	r.SetMasterURL(masterURL)

	got, err := r.MasterURL(context.Background())
	if err != nil {
		t.Fatalf("MasterURL: %v", err)
	}
	if got != masterURL {
		t.Errorf("master url = %q", got)
	}
}

func TestExtractPlaylistPath(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "structural scan",
			body: "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-STREAM-INF:BANDWIDTH=256000\n/path/to/playlist_16000.m3u8?type=replay\n",
			want: "/path/to/playlist_16000.m3u8?type=replay",
		},
		{
			name: "reference before directives",
			body: "#EXTM3U\n/early/playlist.m3u8\n#EXT-X-VERSION:3\n#something\n",
			want: "/early/playlist.m3u8",
		},
		{
			name: "fixed offset fallback",
			body: "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-STREAM-INF:BANDWIDTH=256000\n/opaque/reference_without_extension\n",
			want: "/opaque/reference_without_extension",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := extractPlaylistPath(tc.body)
			if err != nil {
				t.Fatalf("extractPlaylistPath: %v", err)
			}
			if got != tc.want {
				t.Errorf("path = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestExtractPlaylistPathEmpty(t *testing.T) {
	if _, err := extractPlaylistPath("#EXTM3U\n"); err == nil {
		t.Fatal("expected error for master playlist without a reference")
	}
}

func TestSegmentPlaylistURL(t *testing.T) {
	status := &fakeStatus{t: t, location: dynURL}
	fetch := &fakeFetcher{bodies: map[string]string{
		masterURL: "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-STREAM-INF:BANDWIDTH=256000\n/Transcoding/v1/hls/abc/playlist_16000.m3u8?type=replay\n",
	}}
	r := New(runningBroadcast(), status, fetch, testLog())

	got, err := r.SegmentPlaylistURL(context.Background())
	if err != nil {
		t.Fatalf("SegmentPlaylistURL: %v", err)
	}
	want := "https://prod-fastly-ap-northeast-1.video.pscp.tv/Transcoding/v1/hls/abc/playlist_16000.m3u8?type=replay"
	if got != want {
		t.Errorf("segment url = %q, want %q", got, want)
	}
}

func TestRewriteChunks(t *testing.T) {
	base := "https://host.example/audio-space/"
	body := "#EXTM3U\n" +
		"#EXT-X-TARGETDURATION:3\n" +
		"#EXTINF:2.88,\n" +
		"chunk_1068596.aac\n" +
		"#EXTINF:2.88,\n" +
		"chunk_1068599.aac\n" +
		"#EXT-X-ENDLIST\n"
	got := RewriteChunks(body, base)

	if !strings.Contains(got, base+"chunk_1068596.aac") {
		t.Error("first chunk not rewritten")
	}
	if !strings.Contains(got, base+"chunk_1068599.aac") {
		t.Error("second chunk not rewritten")
	}
	// Non-chunk lines and line order are preserved byte for byte
	gotLines := strings.Split(got, "\n")
	wantLines := strings.Split(body, "\n")
	if len(gotLines) != len(wantLines) {
		t.Fatalf("line count changed: %d vs %d", len(gotLines), len(wantLines))
	}
	for i, line := range wantLines {
		if strings.HasPrefix(line, "chunk") {
			continue
		}
		if gotLines[i] != line {
			t.Errorf("line %d modified: %q vs %q", i, gotLines[i], line)
		}
	}
}

func TestRewriteChunksNoMatches(t *testing.T) {
	body := "#EXTM3U\n#EXT-X-ENDLIST\n"
	if got := RewriteChunks(body, "https://host/base/"); got != body {
		t.Errorf("body changed without chunk lines: %q", got)
	}
}

func TestWritePlaylist(t *testing.T) {
	segmentURL := "https://prod-fastly-ap-northeast-1.video.pscp.tv/Transcoding/v1/hls/abc/playlist_16000.m3u8?type=replay"
	status := &fakeStatus{t: t, location: dynURL}
	fetch := &fakeFetcher{bodies: map[string]string{
		masterURL:  "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-STREAM-INF:BANDWIDTH=256000\n/Transcoding/v1/hls/abc/playlist_16000.m3u8?type=replay\n",
		segmentURL: "#EXTM3U\n#EXTINF:2.88,\nchunk_1.aac\n#EXT-X-ENDLIST\n",
	}}
	r := New(runningBroadcast(), status, fetch, testLog())

	dir := t.TempDir()
	path, err := r.WritePlaylist(context.Background(), dir, "space")
	if err != nil {
		t.Fatalf("WritePlaylist: %v", err)
	}
	if path != filepath.Join(dir, "space.m3u8") {
		t.Errorf("path = %q", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	base := strings.TrimSuffix(masterURL, "master_playlist.m3u8")
	if !strings.Contains(string(data), base+"chunk_1.aac") {
		t.Errorf("playlist chunk not absolute:\n%s", data)
	}
}
