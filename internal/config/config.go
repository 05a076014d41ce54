package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all configuration for the downloader
type Config struct {
	App      AppConfig
	HTTP     HTTPConfig
	FFMPEG   FFMPEGConfig
	Output   OutputConfig
	Archive  ArchiveConfig
	Download DownloadConfig
	Log      LogConfig
}

// AppConfig holds application metadata
type AppConfig struct {
	Name    string
	Version string
}

// HTTPConfig holds API client transport configuration
type HTTPConfig struct {
	Timeout        time.Duration
	TotalRetries   int
	ConnectRetries int
	RedirectLimit  int
	BackoffFactor  time.Duration
	Retry429       bool
}

// FFMPEGConfig holds the remux tool configuration
type FFMPEGConfig struct {
	BinaryPath string
	ScratchDir string
}

// OutputConfig holds output path and export configuration
type OutputConfig struct {
	Template      string
	WriteMetadata bool
	WritePlaylist bool
	WriteURL      string
}

// ArchiveConfig holds the optional S3 archive configuration
type ArchiveConfig struct {
	Enabled         bool
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
}

// DownloadConfig holds orchestration behavior toggles
type DownloadConfig struct {
	SkipDownload bool
	KeepFiles    bool
	EmbedCover   bool
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string
	Format string
}

// Load reads configuration from file, environment and bound CLI flags
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// Set config name and paths
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/twspace-dl")

	// Set defaults
	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; continue with defaults and env vars
	}

	// Bind environment variables
	v.SetEnvPrefix("TWSPACE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// CLI flags take precedence over file and environment
	if flags != nil {
		bind := func(key, name string) {
			if f := flags.Lookup(name); f != nil {
				_ = v.BindPFlag(key, f)
			}
		}
		bind("output.template", "output")
		bind("output.writemetadata", "write-metadata")
		bind("output.writeplaylist", "write-playlist")
		bind("output.writeurl", "write-url")
		bind("download.skipdownload", "skip-download")
		bind("download.keepfiles", "keep-files")
		bind("download.embedcover", "embed-cover")
		bind("archive.enabled", "archive-s3")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "twspace-dl")
	v.SetDefault("app.version", "1.0.0")

	// HTTP defaults, mirroring the retry budget of the upstream API client
	v.SetDefault("http.timeout", 20*time.Second)
	v.SetDefault("http.totalretries", 5)
	v.SetDefault("http.connectretries", 3)
	v.SetDefault("http.redirectlimit", 3)
	v.SetDefault("http.backofffactor", 200*time.Millisecond)
	v.SetDefault("http.retry429", false)

	// FFMPEG defaults
	v.SetDefault("ffmpeg.binarypath", "ffmpeg")
	v.SetDefault("ffmpeg.scratchdir", ".")

	// Output defaults
	v.SetDefault("output.template", "(%(creator_name)s)%(title)s-%(id)s")

	// Archive defaults
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.region", "us-east-1")
	v.SetDefault("archive.bucket", "twspace-archive")

	// Download defaults
	v.SetDefault("download.skipdownload", false)
	v.SetDefault("download.keepfiles", false)
	v.SetDefault("download.embedcover", false)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}
