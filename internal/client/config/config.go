package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/openmined/davsync/internal/davsdk"
	"github.com/openmined/davsync/internal/utils"
)

const (
	EnvUser     = "NEXTCLOUD_USER"
	EnvPassword = "NEXTCLOUD_PASSWORD"
	EnvRemote   = "NEXTCLOUD_REMOTE"

	DefaultLockFileName = ".sync.lock"
	DefaultWorkers      = 4
	DefaultEnvFile      = ".env"
)

var (
	ErrMissingEnv        = errors.New("required environment variable is not set")
	ErrNoRemotePaths     = errors.New("at least one remote path is required")
	ErrNoLocalPath       = errors.New("local path is required")
	ErrInvalidRemoteURL  = errors.New("remote url must be an absolute http(s) url")
	ErrInvalidWorkers    = errors.New("workers must be at least 1")
	ErrInvalidMaxDeletes = errors.New("max deletes cannot be negative")
)

// Config is built once at startup and passed by reference to the sync
// engine and the remote client. Nothing below the CLI reads the environment.
type Config struct {
	RemoteURL string `json:"remote_url"`
	User      string `json:"user"`
	Password  string `json:"-"`
	DavRoot   string `json:"dav_root"`

	RemotePaths []string `json:"remote_paths"`
	LocalPath   string   `json:"local_path"`
	LockFile    string   `json:"lock_file"`

	Workers    int  `json:"workers"`
	MaxDeletes int  `json:"max_deletes"`
	DryRun     bool `json:"dry_run"`
}

// Validate checks required values and resolves paths. Credentials are checked
// first so that a missing variable is reported before any other problem.
func (c *Config) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{EnvUser, c.User},
		{EnvPassword, c.Password},
		{EnvRemote, c.RemoteURL},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return fmt.Errorf("%w: %s", ErrMissingEnv, r.name)
		}
	}

	u, err := url.Parse(c.RemoteURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidRemoteURL, c.RemoteURL)
	}

	if len(c.RemotePaths) == 0 {
		return ErrNoRemotePaths
	}
	if c.LocalPath == "" {
		return ErrNoLocalPath
	}
	if c.Workers == 0 {
		c.Workers = DefaultWorkers
	}
	if c.Workers < 0 {
		return ErrInvalidWorkers
	}
	if c.MaxDeletes < 0 {
		return ErrInvalidMaxDeletes
	}

	localPath, err := utils.ResolvePath(c.LocalPath)
	if err != nil {
		return fmt.Errorf("resolve local path %q: %w", c.LocalPath, err)
	}
	c.LocalPath = localPath

	if c.LockFile == "" {
		c.LockFile = filepath.Join(c.LocalPath, DefaultLockFileName)
	}
	lockFile, err := utils.ResolvePath(c.LockFile)
	if err != nil {
		return fmt.Errorf("resolve lock file %q: %w", c.LockFile, err)
	}
	c.LockFile = lockFile

	return nil
}

// DavConfig returns the connection settings for the remote store.
func (c *Config) DavConfig() *davsdk.Config {
	return &davsdk.Config{
		BaseURL:  c.RemoteURL,
		User:     c.User,
		Password: c.Password,
		DavRoot:  c.DavRoot,
	}
}

// LoadEnvFile loads variables from a dotenv file without overriding values
// already present in the environment. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %q: %w", path, err)
	}
	return nil
}
