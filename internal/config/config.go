// Package config reads server settings from command-line flags, with
// GROCERY_* environment variables as fallbacks for endpoints and secrets.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/erazemk/grocery/internal/blob"
)

// Backends for the items collection.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config holds every server setting.
type Config struct {
	DBPath  string
	Addr    string
	User    string
	LogPath string

	Backend     string
	PostgresDSN string
	RedisURL    string

	Blob         blob.Driver
	BlobRoot     string
	S3Bucket     string
	S3Region     string
	S3Endpoint   string
	S3PathStyle  bool
	S3AccessKey  string
	S3SecretKey  string
	PublicURL    string
	VisionCreds  string
	VisionAPIKey string
}

const usage = `Usage: grocery [flags]

Flags:
  -d, -db <path>              SQLite database path (default: grocery.sqlite3)
  -a, -addr <host:port>       listen address (default: :8080)
  -u, -user <name>            owner username on first run (default: Owner)
  -l, -log <path>             log file path (default: no file, stdout/stderr only)
  -b, -backend <name>         items backend: sqlite, postgres, memory (default: sqlite)
      -postgres <dsn>         Postgres DSN for -backend postgres ($GROCERY_POSTGRES)
      -redis <url>            Redis URL for cross-process change signals ($GROCERY_REDIS)
      -blob <driver>          image storage: fs, s3, memory (default: fs)
      -blob-root <dir>        image directory for -blob fs (default: images)
      -s3-bucket <name>       bucket for -blob s3 ($GROCERY_S3_BUCKET)
      -s3-region <region>     S3 region (default: us-east-1)
      -s3-endpoint <url>      S3-compatible endpoint, e.g. MinIO ($GROCERY_S3_ENDPOINT)
      -s3-path-style          use path-style S3 addressing
      -public-url <url>       externally reachable base URL (default: http://localhost<addr>)
      -vision-credentials <f> Google service account JSON for text recognition
      -vision-key <key>       Google API key for text recognition ($GROCERY_VISION_KEY)
  -h, -help                   show this help and exit

S3 access keys are read from GROCERY_S3_ACCESS_KEY and GROCERY_S3_SECRET_KEY,
falling back to the default AWS credential chain.
`

// Parse parses args. Usage goes to out; -h returns flag.ErrHelp.
func Parse(args []string, getenv func(string) string, out io.Writer) (*Config, error) {
	fs := flag.NewFlagSet("grocery", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.Usage = func() { fmt.Fprint(out, usage) }

	cfg := &Config{}
	fs.StringVar(&cfg.DBPath, "db", "grocery.sqlite3", "")
	fs.StringVar(&cfg.DBPath, "d", "grocery.sqlite3", "")
	fs.StringVar(&cfg.Addr, "addr", ":8080", "")
	fs.StringVar(&cfg.Addr, "a", ":8080", "")
	fs.StringVar(&cfg.User, "user", "Owner", "")
	fs.StringVar(&cfg.User, "u", "Owner", "")
	fs.StringVar(&cfg.LogPath, "log", "", "")
	fs.StringVar(&cfg.LogPath, "l", "", "")
	fs.StringVar(&cfg.Backend, "backend", BackendSQLite, "")
	fs.StringVar(&cfg.Backend, "b", BackendSQLite, "")

	fs.StringVar(&cfg.PostgresDSN, "postgres", getenv("GROCERY_POSTGRES"), "")
	fs.StringVar(&cfg.RedisURL, "redis", getenv("GROCERY_REDIS"), "")

	var driver string
	fs.StringVar(&driver, "blob", string(blob.DriverFilesystem), "")
	fs.StringVar(&cfg.BlobRoot, "blob-root", "images", "")
	fs.StringVar(&cfg.S3Bucket, "s3-bucket", getenv("GROCERY_S3_BUCKET"), "")
	fs.StringVar(&cfg.S3Region, "s3-region", "us-east-1", "")
	fs.StringVar(&cfg.S3Endpoint, "s3-endpoint", getenv("GROCERY_S3_ENDPOINT"), "")
	fs.BoolVar(&cfg.S3PathStyle, "s3-path-style", false, "")
	fs.StringVar(&cfg.PublicURL, "public-url", getenv("GROCERY_PUBLIC_URL"), "")
	fs.StringVar(&cfg.VisionCreds, "vision-credentials", getenv("GROCERY_VISION_CREDENTIALS"), "")
	fs.StringVar(&cfg.VisionAPIKey, "vision-key", getenv("GROCERY_VISION_KEY"), "")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		fs.Usage()
		return nil, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}

	cfg.Blob = blob.Driver(driver)
	cfg.S3AccessKey = getenv("GROCERY_S3_ACCESS_KEY")
	cfg.S3SecretKey = getenv("GROCERY_S3_SECRET_KEY")
	if cfg.PublicURL == "" {
		cfg.PublicURL = defaultPublicURL(cfg.Addr)
	}
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks flag combinations.
func (c *Config) Validate() error {
	var errs []error
	switch c.Backend {
	case BackendSQLite, BackendMemory:
	case BackendPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("-backend postgres requires -postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}

	switch c.Blob {
	case blob.DriverFilesystem, blob.DriverMemory:
	case blob.DriverS3:
		if c.S3Bucket == "" {
			errs = append(errs, errors.New("-blob s3 requires -s3-bucket"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown blob driver %q", c.Blob))
	}

	if c.S3AccessKey != "" && c.S3SecretKey == "" {
		errs = append(errs, errors.New("GROCERY_S3_ACCESS_KEY set without GROCERY_S3_SECRET_KEY"))
	}
	if c.VisionCreds != "" && c.VisionAPIKey != "" {
		errs = append(errs, errors.New("-vision-credentials and -vision-key are mutually exclusive"))
	}
	if !strings.HasPrefix(c.PublicURL, "http://") && !strings.HasPrefix(c.PublicURL, "https://") {
		errs = append(errs, fmt.Errorf("public url %q must start with http:// or https://", c.PublicURL))
	}
	return errors.Join(errs...)
}

// ImagesURL is the public base of image URLs.
func (c *Config) ImagesURL() string {
	return c.PublicURL + "/images"
}

// BlobConfig returns the blob store settings.
func (c *Config) BlobConfig() blob.Config {
	return blob.Config{
		Driver: c.Blob,
		Root:   c.BlobRoot,
		S3: blob.S3Config{
			Bucket:          c.S3Bucket,
			Region:          c.S3Region,
			Endpoint:        c.S3Endpoint,
			AccessKeyID:     c.S3AccessKey,
			SecretAccessKey: c.S3SecretKey,
			PathStyle:       c.S3PathStyle,
		},
	}
}

func defaultPublicURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://localhost"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}
