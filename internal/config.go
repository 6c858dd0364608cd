package internal

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/notation/internal/catalog"
	"github.com/starford/notation/internal/sorting"
	"github.com/starford/notation/internal/syncpeer"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// PeerKindMinIO is the only sync peer kind.
const PeerKindMinIO = "minio"

// Config represents the application configuration.
type Config struct {
	App        ApplicationConfig `yaml:"app"`
	Notes      NotesConfig       `yaml:"notes"`
	Database   DatabaseConfig    `yaml:"database"`
	Journal    JournalConfig     `yaml:"journal"`
	Catalog    CatalogConfig     `yaml:"catalog"`
	Encryption EncryptionConfig  `yaml:"encryption"`
	Sync       SyncConfig        `yaml:"sync"`
	Auth       AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	for _, v := range []validation.Validatable{
		&c.App, &c.Notes, &c.Database, &c.Journal, &c.Catalog, &c.Encryption, &c.Sync,
	} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// NotesConfig locates the note directory.
type NotesConfig struct {
	Directory string `yaml:"directory"`
	Extension string `yaml:"extension"`
	// Watch enables directory notifications; without it the directory is
	// only checked on the poll interval.
	Watch bool          `yaml:"watch"`
	Quiet time.Duration `yaml:"quiet"`
	// Sort is the initial list order, e.g. "modified desc".
	Sort string `yaml:"sort"`
}

// Validate validates the notes configuration.
func (c *NotesConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Directory, validation.Required),
		validation.Field(&c.Extension, validation.Required, validation.In(".md", ".txt", ".markdown")),
		validation.Field(&c.Quiet, validation.Min(time.Duration(0))),
		validation.Field(&c.Sort, validation.By(func(any) error {
			_, _, err := c.SortOrder()
			return err
		})),
	)
}

// SortOrder parses Sort.
func (c *NotesConfig) SortOrder() (sorting.Column, sorting.Direction, error) {
	fields := strings.Fields(c.Sort)
	if len(fields) == 0 {
		return sorting.ColumnModified, sorting.Descending, nil
	}
	col, err := sorting.ParseColumn(fields[0])
	if err != nil {
		return "", "", err
	}
	dir := sorting.Ascending
	if len(fields) > 1 {
		if dir, err = sorting.ParseDirection(fields[1]); err != nil {
			return "", "", err
		}
	}
	return col, dir, nil
}

// DatabaseConfig holds the SQLite catalog database location.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the database configuration.
func (c *DatabaseConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// JournalConfig tunes the write-ahead journal and the flush debounce.
type JournalConfig struct {
	Enabled bool `yaml:"enabled"`
	// Path defaults to a file next to the database.
	Path     string        `yaml:"path"`
	Debounce time.Duration `yaml:"debounce"`
	MaxDelay time.Duration `yaml:"max_delay"`
}

// Validate validates the journal configuration.
func (c *JournalConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Debounce, validation.Required, validation.Min(10*time.Millisecond)),
		validation.Field(&c.MaxDelay, validation.Required, validation.Min(c.Debounce)),
	)
}

// ResolvedPath returns the journal file path for a database at dbPath.
func (c *JournalConfig) ResolvedPath(dbPath string) string {
	if c.Path != "" {
		return c.Path
	}
	return strings.TrimSuffix(dbPath, filepath.Ext(dbPath)) + ".journal"
}

// CatalogConfig tunes directory reconciliation.
type CatalogConfig struct {
	ChunkSize      int                    `yaml:"chunk_size"`
	ConflictPolicy catalog.ConflictPolicy `yaml:"conflict_policy"`
	// PollInterval is the period of the cheap directory mtime check.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Validate validates the catalog configuration.
func (c *CatalogConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ChunkSize, validation.Required, validation.Min(1)),
		validation.Field(&c.ConflictPolicy, validation.Required,
			validation.In(catalog.LocalWins, catalog.ExternalWins)),
		validation.Field(&c.PollInterval, validation.Min(time.Duration(0))),
	)
}

// EncryptionConfig controls sealing of note files and the journal.
type EncryptionConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Passphrase string `yaml:"passphrase"`
}

// Validate validates the encryption configuration.
func (c *EncryptionConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Passphrase, validation.When(c.Enabled, validation.Required)),
	)
}

// SyncConfig lists the peers notes are exchanged with.
type SyncConfig struct {
	Interval time.Duration `yaml:"interval"`
	Peers    []PeerConfig  `yaml:"peers"`
}

// Validate validates the sync configuration.
func (c *SyncConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Interval, validation.When(len(c.Peers) > 0, validation.Required, validation.Min(time.Second))),
		validation.Field(&c.Peers),
	)
}

// PeerConfig describes one sync peer.
type PeerConfig struct {
	Name      string `yaml:"name"`
	Kind      string `yaml:"kind"`
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// Validate validates a peer entry.
func (c PeerConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Kind, validation.Required, validation.In(PeerKindMinIO)),
		validation.Field(&c.Endpoint, validation.Required),
		validation.Field(&c.Bucket, validation.Required),
	)
}

// MinIO converts the entry to the MinIO peer configuration.
func (c PeerConfig) MinIO() syncpeer.MinIOConfig {
	return syncpeer.MinIOConfig{
		Name:      c.Name,
		Endpoint:  c.Endpoint,
		Bucket:    c.Bucket,
		Prefix:    c.Prefix,
		AccessKey: c.AccessKey,
		SecretKey: c.SecretKey,
		UseSSL:    c.UseSSL,
	}
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local use.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Notes: NotesConfig{
			Directory: "./notes",
			Extension: ".md",
			Watch:     true,
			Quiet:     200 * time.Millisecond,
			Sort:      "modified desc",
		},
		Database: DatabaseConfig{
			Path: "./notation.db",
		},
		Journal: JournalConfig{
			Enabled:  true,
			Debounce: 2 * time.Second,
			MaxDelay: 30 * time.Second,
		},
		Catalog: CatalogConfig{
			ChunkSize:      catalog.DefaultChunkSize,
			ConflictPolicy: catalog.LocalWins,
			PollInterval:   time.Minute,
		},
		Sync: SyncConfig{
			Interval: 5 * time.Minute,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
