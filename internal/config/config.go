package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Backend names.
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
	StoreBadger = "badger"

	QueueDir    = "dir"
	QueueSQLite = "sqlite"
	QueueRedis  = "redis"

	UploaderDrive = "drive"
	UploaderS3    = "s3"
)

// Config holds application configuration.
type Config struct {
	Server      ServerConfig       `toml:"server"`
	Store       StoreConfig        `toml:"store"`
	Queue       QueueConfig        `toml:"queue"`
	Redis       RedisConfig        `toml:"redis"`
	Worker      WorkerConfig       `toml:"worker"`
	Downloaders []DownloaderConfig `toml:"downloaders"`
	Uploader    UploaderConfig     `toml:"uploader"`
	Drive       DriveConfig        `toml:"drive"`
	S3          S3Config           `toml:"s3"`
	Logging     LoggingConfig      `toml:"logging"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
	// SubmitRate is the sustained number of submissions per second; 0 disables limiting.
	SubmitRate  float64 `toml:"submit_rate"`
	SubmitBurst int     `toml:"submit_burst"`
	// URL is where CLI clients reach the server.
	URL string `toml:"url"`
}

type StoreConfig struct {
	Backend    string `toml:"backend"`
	Dir        string `toml:"dir"`
	SQLitePath string `toml:"sqlite_path"`
	BadgerDir  string `toml:"badger_dir"`
}

type QueueConfig struct {
	Backend      string        `toml:"backend"`
	Dir          string        `toml:"dir"`
	PollInterval time.Duration `toml:"poll_interval"`
}

type RedisConfig struct {
	URL       string `toml:"url"`
	KeyPrefix string `toml:"key_prefix"`
	QueueKey  string `toml:"queue_key"`
}

type WorkerConfig struct {
	WorkDir    string        `toml:"work_dir"`
	PopTimeout time.Duration `toml:"pop_timeout"`
	YtDLPBin   string        `toml:"ytdlp_bin"`
	YtDLPArgs  []string      `toml:"ytdlp_args"`
}

// DownloaderConfig defines a command run for URLs matching Pattern.
// Args may contain {url} and {output} placeholders.
type DownloaderConfig struct {
	Name    string   `toml:"name"`
	Pattern string   `toml:"pattern"`
	Command string   `toml:"command"`
	Args    []string `toml:"args"`
}

type UploaderConfig struct {
	Backend string `toml:"backend"`
	// ParentID is the Drive folder (or S3 key prefix) batches are created under.
	ParentID string `toml:"parent_id"`
}

type DriveConfig struct {
	TokenFile string `toml:"token_file"`
}

type S3Config struct {
	Bucket          string        `toml:"bucket"`
	Region          string        `toml:"region"`
	Endpoint        string        `toml:"endpoint"`
	Profile         string        `toml:"profile"`
	AccessKeyID     string        `toml:"access_key_id"`
	SecretAccessKey string        `toml:"secret_access_key"`
	PathStyle       bool          `toml:"path_style"`
	PresignExpiry   time.Duration `toml:"presign_expiry"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DefaultConfigPath returns the config file path using XDG_CONFIG_HOME.
func DefaultConfigPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "haul", "config.toml")
}

// DefaultDataDir returns the data directory using XDG_DATA_HOME.
func DefaultDataDir() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "haul")
}

// Default returns the built-in configuration.
func Default() *Config {
	data := DefaultDataDir()
	return &Config{
		Server: ServerConfig{
			Addr:        ":5000",
			SubmitRate:  5,
			SubmitBurst: 10,
			URL:         "http://localhost:5000",
		},
		Store: StoreConfig{
			Backend:    StoreFile,
			Dir:        filepath.Join(data, "jobs"),
			SQLitePath: filepath.Join(data, "haul.db"),
			BadgerDir:  filepath.Join(data, "badger"),
		},
		Queue: QueueConfig{
			Backend:      QueueDir,
			Dir:          filepath.Join(data, "queue"),
			PollInterval: 2 * time.Second,
		},
		Redis: RedisConfig{
			URL:       "redis://localhost:6379/0",
			KeyPrefix: "job:",
			QueueKey:  "job_queue",
		},
		Worker: WorkerConfig{
			WorkDir:    filepath.Join(data, "work"),
			PopTimeout: 5 * time.Second,
			YtDLPBin:   "yt-dlp",
		},
		Uploader: UploaderConfig{Backend: UploaderDrive},
		Drive:    DriveConfig{TokenFile: "token.json"},
		S3:       S3Config{PresignExpiry: 7 * 24 * time.Hour},
		Logging:  LoggingConfig{Level: "info", Format: "console"},
	}
}

// Load builds Config from defaults, the TOML file and HAUL_* environment
// variables, in that order. An empty path means DefaultConfigPath, which
// may be absent; an explicit path must exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath()
	}
	md, err := toml.DecodeFile(ExpandPath(path), cfg)
	switch {
	case err == nil:
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.expandPaths()
	return cfg, nil
}

// applyEnv overrides file values with HAUL_* environment variables.
func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"HAUL_SERVER_ADDR":          &c.Server.Addr,
		"HAUL_SERVER_URL":           &c.Server.URL,
		"HAUL_STORE_BACKEND":        &c.Store.Backend,
		"HAUL_STORE_DIR":            &c.Store.Dir,
		"HAUL_SQLITE_PATH":          &c.Store.SQLitePath,
		"HAUL_BADGER_DIR":           &c.Store.BadgerDir,
		"HAUL_QUEUE_BACKEND":        &c.Queue.Backend,
		"HAUL_QUEUE_DIR":            &c.Queue.Dir,
		"HAUL_REDIS_URL":            &c.Redis.URL,
		"HAUL_WORK_DIR":             &c.Worker.WorkDir,
		"HAUL_YTDLP_BIN":            &c.Worker.YtDLPBin,
		"HAUL_UPLOADER":             &c.Uploader.Backend,
		"HAUL_UPLOAD_PARENT_ID":     &c.Uploader.ParentID,
		"HAUL_DRIVE_TOKEN_FILE":     &c.Drive.TokenFile,
		"HAUL_S3_BUCKET":            &c.S3.Bucket,
		"HAUL_S3_REGION":            &c.S3.Region,
		"HAUL_S3_ENDPOINT":          &c.S3.Endpoint,
		"HAUL_S3_ACCESS_KEY_ID":     &c.S3.AccessKeyID,
		"HAUL_S3_SECRET_ACCESS_KEY": &c.S3.SecretAccessKey,
		"HAUL_LOG_LEVEL":            &c.Logging.Level,
		"HAUL_LOG_FORMAT":           &c.Logging.Format,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}

	if port := os.Getenv("HAUL_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("HAUL_PORT: %w", err)
		}
		c.Server.Addr = ":" + strconv.Itoa(p)
	}
	if v := os.Getenv("HAUL_POP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("HAUL_POP_TIMEOUT: %w", err)
		}
		c.Worker.PopTimeout = d
	}
	return nil
}

func (c *Config) expandPaths() {
	for _, p := range []*string{
		&c.Store.Dir, &c.Store.SQLitePath, &c.Store.BadgerDir,
		&c.Queue.Dir, &c.Worker.WorkDir, &c.Drive.TokenFile,
	} {
		*p = ExpandPath(*p)
	}
}

// Validate reports the first configuration error.
func (c *Config) Validate() error {
	if !slices.Contains([]string{StoreFile, StoreSQLite, StoreRedis, StoreBadger}, c.Store.Backend) {
		return fmt.Errorf("store.backend: unknown backend %q", c.Store.Backend)
	}
	if !slices.Contains([]string{QueueDir, QueueSQLite, QueueRedis}, c.Queue.Backend) {
		return fmt.Errorf("queue.backend: unknown backend %q", c.Queue.Backend)
	}
	if !slices.Contains([]string{UploaderDrive, UploaderS3}, c.Uploader.Backend) {
		return fmt.Errorf("uploader.backend: unknown backend %q", c.Uploader.Backend)
	}
	if (c.Store.Backend == StoreRedis || c.Queue.Backend == QueueRedis) && c.Redis.URL == "" {
		return errors.New("redis.url is required for the redis backend")
	}
	if c.Uploader.Backend == UploaderS3 && c.S3.Bucket == "" {
		return errors.New("s3.bucket is required for the s3 uploader")
	}
	if c.Uploader.Backend == UploaderDrive && c.Drive.TokenFile == "" {
		return errors.New("drive.token_file is required for the drive uploader")
	}
	if c.Worker.PopTimeout <= 0 {
		return errors.New("worker.pop_timeout must be positive")
	}
	if c.Worker.WorkDir == "" {
		return errors.New("worker.work_dir is required")
	}
	for i, d := range c.Downloaders {
		if d.Name == "" || d.Pattern == "" || d.Command == "" {
			return fmt.Errorf("downloaders[%d]: name, pattern and command are required", i)
		}
	}
	if c.Server.SubmitRate < 0 {
		return errors.New("server.submit_rate must not be negative")
	}
	return nil
}

// ExpandPath expands ~ to the home directory.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
