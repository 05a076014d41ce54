package remux

// Step builds the argument list of one remux invocation. Different steps
// cover the three shapes the orchestrator needs: a playlist-driven copy, a
// live-stream copy, and a lossless concat of finished containers.
type Step interface {
	Name() string
	Args() []string
}

func metadataArgs(meta Metadata) []string {
	return []string{
		"-metadata", "title=" + meta.Title,
		"-metadata", "artist=" + meta.Artist,
		"-metadata", "episode_id=" + meta.EpisodeID,
	}
}

// PlaylistCopy remuxes an on-disk segment playlist into a container.
// The protocol whitelist lets ffmpeg follow the playlist's https chunk
// references from a local file input.
type PlaylistCopy struct {
	PlaylistPath string
	OutputPath   string
	Meta         Metadata
}

func (s PlaylistCopy) Name() string { return "historical" }

func (s PlaylistCopy) Args() []string {
	args := []string{
		"-y",
		"-protocol_whitelist", "file,https,httpproxy,tls,tcp",
		"-stats",
		"-v", "warning",
		"-i", s.PlaylistPath,
		"-c", "copy",
	}
	args = append(args, metadataArgs(s.Meta)...)
	return append(args, s.OutputPath)
}

// StreamCopy remuxes a live dynamic URL until the stream ends. Termination
// is ffmpeg's own stream-end detection, not a timeout here.
type StreamCopy struct {
	StreamURL  string
	OutputPath string
	Meta       Metadata
}

func (s StreamCopy) Name() string { return "live_tail" }

func (s StreamCopy) Args() []string {
	args := []string{
		"-y",
		"-stats",
		"-v", "warning",
		"-i", s.StreamURL,
		"-c", "copy",
	}
	args = append(args, metadataArgs(s.Meta)...)
	return append(args, s.OutputPath)
}

// Concat losslessly concatenates the containers listed in a concat
// manifest, in manifest order.
type Concat struct {
	ListPath   string
	OutputPath string
	Meta       Metadata
}

func (s Concat) Name() string { return "concat" }

func (s Concat) Args() []string {
	args := []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-stats",
		"-v", "warning",
		"-i", s.ListPath,
		"-c", "copy",
	}
	args = append(args, metadataArgs(s.Meta)...)
	return append(args, s.OutputPath)
}
