package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/HoloArchivists/twspace-dl/internal/config"
	"github.com/HoloArchivists/twspace-dl/internal/cookies"
	"github.com/HoloArchivists/twspace-dl/internal/domain"
	"github.com/HoloArchivists/twspace-dl/internal/media/remux"
	"github.com/HoloArchivists/twspace-dl/internal/playlist"
	"github.com/HoloArchivists/twspace-dl/internal/repository/s3"
	"github.com/HoloArchivists/twspace-dl/internal/resolver"
	"github.com/HoloArchivists/twspace-dl/internal/service/download"
	"github.com/HoloArchivists/twspace-dl/internal/twitter"
	"github.com/HoloArchivists/twspace-dl/pkg/logger"
)

const (
	exitSuccess = 0
	exitError   = 1
	exitMisuse  = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	flags := pflag.NewFlagSet("twspace-dl", pflag.ContinueOnError)

	// Input group
	inputURL := flags.StringP("input-url", "i", "", "space url")
	userURL := flags.StringP("user-url", "U", "", "user url, gets the ongoing or announced space of that user")
	inputMetadata := flags.StringP("input-metadata", "M", "", "metadata json file to use instead of an input url (useful for very old ended spaces)")
	fromDynamicURL := flags.StringP("from-dynamic-url", "d", "", "use the dynamic url for the processes (useful for ended spaces)")
	fromMasterURL := flags.StringP("from-master-url", "f", "", "use the master url for the processes (useful for ended spaces)")

	// Login group
	cookieFile := flags.String("input-cookie-file", "", "cookies file in Netscape format")

	// Output group
	flags.StringP("output", "o", "", "output filename template")
	flags.BoolP("write-metadata", "m", false, "write the full metadata json to a file")
	flags.BoolP("write-playlist", "p", false, "write the m3u8 used to download the stream")
	printURL := flags.BoolP("url", "u", false, "display the master url")
	flags.String("write-url", "", "append the master url to a file")

	// Behavior
	flags.BoolP("skip-download", "s", false, "skip the download step")
	flags.BoolP("keep-files", "k", false, "keep the scratch directory after the run")
	flags.Bool("embed-cover", false, "embed the creator profile image as cover art")
	flags.Bool("archive-s3", false, "upload the final file to the configured S3 bucket")
	verbose := flags.BoolP("verbose", "v", false, "enable debug output")

	if len(os.Args) == 1 {
		flags.PrintDefaults()
		return exitError
	}
	if err := flags.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitMisuse
	}

	cfg, err := config.Load(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return exitError
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	hasInput := *inputURL != "" || *userURL != "" || *inputMetadata != "" ||
		*fromDynamicURL != "" || *fromMasterURL != ""
	if !hasInput {
		fmt.Fprintln(os.Stderr, "either user url, space url, dynamic url or master url should be provided")
		return exitMisuse
	}

	// Interrupt must still run cleanup, so the whole run is context-bound
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := space(ctx, cfg, log, inputs{
		inputURL:       *inputURL,
		userURL:        *userURL,
		inputMetadata:  *inputMetadata,
		fromDynamicURL: *fromDynamicURL,
		fromMasterURL:  *fromMasterURL,
		cookieFile:     *cookieFile,
		printURL:       *printURL,
	}); err != nil {
		if ctx.Err() != nil {
			log.Infow("download interrupted by user")
			return exitSuccess
		}
		// Human-first message; diagnostic detail lives behind -v
		fmt.Fprintf(os.Stderr, "\033[31;1;4mError\033[0m: %v\nRetry with -v to see more details\n", err)
		return exitError
	}
	return exitSuccess
}

type inputs struct {
	inputURL       string
	userURL        string
	inputMetadata  string
	fromDynamicURL string
	fromMasterURL  string
	cookieFile     string
	printURL       bool
}

func space(ctx context.Context, cfg *config.Config, log *logger.Logger, in inputs) error {
	var jar *cookies.Jar
	if in.cookieFile != "" {
		var err error
		jar, err = cookies.Load(in.cookieFile)
		if err != nil {
			return err
		}
	}

	policy := twitter.RetryPolicy{
		Total:         cfg.HTTP.TotalRetries,
		Connect:       cfg.HTTP.ConnectRetries,
		RedirectLimit: cfg.HTTP.RedirectLimit,
		Backoff:       cfg.HTTP.BackoffFactor,
		Retry429:      cfg.HTTP.Retry429,
	}
	client := twitter.NewHTTPClient(cfg.HTTP.Timeout, policy, log)
	session := twitter.NewSession(cfg.HTTP.Timeout, nil, log)
	api := twitter.NewAPI(client, session, jar, log)

	var b *domain.Broadcast
	if in.inputURL != "" || in.userURL != "" || in.inputMetadata != "" {
		var err error
		b, err = resolver.New(api, log).Resolve(ctx, resolver.Input{
			SpaceURL:     in.inputURL,
			UserURL:      in.userURL,
			MetadataPath: in.inputMetadata,
		})
		if err != nil {
			return err
		}
	} else {
		log.Warnw("no metadata provided, the resulting file won't be associated with the original space," +
			" please consider adding a space url or a metadata file")
		b = &domain.Broadcast{}
	}

	pl := playlist.New(b, api, client, log)
	if in.fromDynamicURL != "" {
		pl.SetDynamicURL(in.fromDynamicURL)
	}
	if in.fromMasterURL != "" {
		pl.SetMasterURL(in.fromMasterURL)
	}

	var uploader download.Uploader
	if cfg.Archive.Enabled {
		s3Client, err := s3.NewClient(ctx, cfg.Archive)
		if err != nil {
			return fmt.Errorf("failed to initialize S3 client: %w", err)
		}
		uploader = s3Client
	}

	engine := remux.NewEngine(cfg.FFMPEG.BinaryPath, log)
	svc := download.NewService(engine, client, uploader, cfg.FFMPEG.ScratchDir, cfg.Output.Template, log)

	metadataPath := ""
	if cfg.Output.WriteMetadata {
		var err error
		metadataPath, err = exportMetadata(b, svc.OutputPath(b))
		if err != nil {
			return err
		}
		log.Infow("metadata written to disk", "path", metadataPath)
	}
	if in.printURL {
		masterURL, err := pl.MasterURL(ctx)
		if err != nil {
			return err
		}
		fmt.Println(masterURL)
	}
	if cfg.Output.WriteURL != "" {
		if err := appendMasterURL(ctx, pl, cfg.Output.WriteURL); err != nil {
			return err
		}
	}
	if cfg.Output.WritePlaylist {
		path, err := pl.WritePlaylist(ctx, ".", filepath.Base(svc.OutputPath(b)))
		if err != nil {
			return err
		}
		log.Infow("playlist written to disk", "path", path)
	}

	if cfg.Download.SkipDownload {
		return nil
	}

	// Cleanup is a guaranteed finalizer around the download, interrupt
	// included, unless the operator chose to keep intermediate files.
	defer func() {
		if cfg.Download.KeepFiles {
			log.Infow("keeping scratch directory", "path", svc.ScratchDir())
			return
		}
		if err := svc.Cleanup(); err != nil {
			log.Warnw("scratch cleanup failed", "error", err)
		}
	}()

	finalPath, err := svc.Download(ctx, b, pl)
	if err != nil {
		return err
	}

	// Post-steps: the download already fully succeeded, so failures here
	// are reported but do not fail the run.
	if cfg.Download.EmbedCover && b.CreatorProfileImageURL != "" {
		if err := svc.EmbedCover(ctx, b, finalPath); err != nil {
			var coverErr *domain.CoverArtError
			if errors.As(err, &coverErr) {
				log.Errorw("cover art embedding failed", "error", err)
			} else {
				return err
			}
		}
	}
	if cfg.Archive.Enabled {
		if err := svc.Archive(ctx, finalPath, metadataPath); err != nil {
			log.Errorw("archive upload failed", "error", err)
		}
	}
	return nil
}

// exportMetadata writes the raw upstream response for later reuse as an
// alternate source of truth.
func exportMetadata(b *domain.Broadcast, outputPath string) (string, error) {
	if len(b.Raw) == 0 {
		return "", fmt.Errorf("no raw metadata available to export")
	}
	var pretty json.RawMessage = b.Raw
	buf, err := json.MarshalIndent(pretty, "", "    ")
	if err != nil {
		buf = b.Raw
	}
	path := outputPath + ".json"
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return "", fmt.Errorf("writing metadata export: %w", err)
	}
	return path, nil
}

func appendMasterURL(ctx context.Context, pl *playlist.Resolver, path string) error {
	masterURL, err := pl.MasterURL(ctx)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening url output file: %w", err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "%s\n", masterURL); err != nil {
		return fmt.Errorf("writing master url: %w", err)
	}
	return nil
}
