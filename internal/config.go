package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/starford/albumshare/internal/backend"
	"github.com/starford/albumshare/internal/store"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Collaborator credential modes.
const (
	CredentialsNone   = "none"
	CredentialsBearer = "bearer"
	CredentialsSigV4  = "sigv4"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Auth    AuthConfig        `yaml:"auth"`
	Backend BackendConfig     `yaml:"backend"`
	S3      S3Config          `yaml:"s3"`
	Album   AlbumConfig       `yaml:"album"`
	Store   StoreConfig       `yaml:"store"`
	Inbox   InboxConfig       `yaml:"inbox"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	for _, section := range []interface{ Validate() error }{
		&c.App, &c.Auth, &c.Backend, &c.S3, &c.Album, &c.Store, &c.Inbox,
	} {
		if err := section.Validate(); err != nil {
			return err
		}
	}
	return nil
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

// AuthConfig holds authentication configuration for the local gateway.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled" for backward compatibility.
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

// BackendConfig locates the photo, favorites, tags and upload-slot
// collaborators.
type BackendConfig struct {
	BaseURL        string            `yaml:"base_url"`
	Photos         string            `yaml:"photos"`
	Favorites      string            `yaml:"favorites"`
	Tags           string            `yaml:"tags"`
	UploadURL      string            `yaml:"upload_url"`
	PageSize       int               `yaml:"page_size"`
	Timeout        time.Duration     `yaml:"timeout"`
	TagConcurrency int               `yaml:"tag_concurrency"`
	Credentials    CredentialsConfig `yaml:"credentials"`
}

// Validate validates the backend configuration.
func (c *BackendConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.BaseURL, validation.Required, is.URL),
		validation.Field(&c.Photos, validation.Required),
		validation.Field(&c.Favorites, validation.Required),
		validation.Field(&c.Tags, validation.Required),
		validation.Field(&c.UploadURL, validation.Required),
		validation.Field(&c.PageSize, validation.Min(1), validation.Max(1000)),
		validation.Field(&c.TagConcurrency, validation.Min(1), validation.Max(64)),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
	); err != nil {
		return fmt.Errorf("backend: %w", err)
	}
	return c.Credentials.Validate()
}

// Endpoints converts the configuration into client endpoints.
func (c *BackendConfig) Endpoints() backend.Endpoints {
	return backend.Endpoints{
		BaseURL:   c.BaseURL,
		Photos:    c.Photos,
		Favorites: c.Favorites,
		Tags:      c.Tags,
		UploadURL: c.UploadURL,
	}
}

// CredentialsConfig selects how collaborator requests are authorized.
type CredentialsConfig struct {
	Mode            string `yaml:"mode"`
	Token           string `yaml:"token"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Service         string `yaml:"service"`
}

// Validate validates the credentials configuration.
func (c *CredentialsConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = CredentialsNone
	}
	if c.Service == "" {
		c.Service = "execute-api"
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.In(CredentialsNone, CredentialsBearer, CredentialsSigV4)),
		validation.Field(&c.Token, validation.When(c.Mode == CredentialsBearer, validation.Required)),
		validation.Field(&c.Region, validation.When(c.Mode == CredentialsSigV4, validation.Required)),
		validation.Field(&c.AccessKeyID, validation.When(c.Mode == CredentialsSigV4, validation.Required)),
		validation.Field(&c.SecretAccessKey, validation.When(c.Mode == CredentialsSigV4, validation.Required)),
	)
}

// Authorizer builds the request authorizer for the configured mode.
func (c *CredentialsConfig) Authorizer() backend.Authorizer {
	switch c.Mode {
	case CredentialsBearer:
		return backend.BearerAuthorizer{Source: backend.StaticToken(c.Token)}
	case CredentialsSigV4:
		return backend.NewSigV4Authorizer(c.AccessKeyID, c.SecretAccessKey, c.Region, c.Service)
	default:
		return backend.NoAuth{}
	}
}

// S3Config optionally lists photos and issues upload slots straight from a
// bucket instead of the HTTP collaborators.
type S3Config struct {
	Enabled         bool          `yaml:"enabled"`
	Bucket          string        `yaml:"bucket"`
	Region          string        `yaml:"region"`
	Endpoint        string        `yaml:"endpoint"`
	Prefix          string        `yaml:"prefix"`
	UploadPrefix    string        `yaml:"upload_prefix"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	PresignTTL      time.Duration `yaml:"presign_ttl"`
}

// Validate validates the S3 configuration.
func (c *S3Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Bucket, validation.Required),
		validation.Field(&c.Region, validation.Required),
		validation.Field(&c.Endpoint, is.URL),
		validation.Field(&c.PresignTTL, validation.Min(time.Duration(0))),
	); err != nil {
		return fmt.Errorf("s3: %w", err)
	}
	return nil
}

// Source converts the configuration for backend.NewS3Source.
func (c *S3Config) Source() backend.S3Config {
	return backend.S3Config{
		Bucket:          c.Bucket,
		Region:          c.Region,
		Endpoint:        c.Endpoint,
		Prefix:          c.Prefix,
		UploadPrefix:    c.UploadPrefix,
		AccessKeyID:     c.AccessKeyID,
		SecretAccessKey: c.SecretAccessKey,
		PresignTTL:      c.PresignTTL,
	}
}

// AlbumConfig tunes the session.
type AlbumConfig struct {
	PreloadFavorites bool          `yaml:"preload_favorites"`
	MaxEmptyRetries  int           `yaml:"max_empty_retries"`
	RetryDelay       time.Duration `yaml:"retry_delay"`
	RefreshDelay     time.Duration `yaml:"refresh_delay"`
	FetchTimeout     time.Duration `yaml:"fetch_timeout"`
	People           []string      `yaml:"people"`
	DefaultTags      []string      `yaml:"default_tags"`
	// SkipDuplicateUploads skips files whose name already exists in the album.
	SkipDuplicateUploads bool `yaml:"skip_duplicate_uploads"`
}

// Validate validates the album configuration.
func (c *AlbumConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.MaxEmptyRetries, validation.Min(0), validation.Max(10)),
		validation.Field(&c.RetryDelay, validation.Min(time.Duration(0))),
		validation.Field(&c.RefreshDelay, validation.Min(time.Duration(0))),
		validation.Field(&c.FetchTimeout, validation.Min(time.Duration(0))),
		validation.Field(&c.People, validation.Each(validation.Required)),
		validation.Field(&c.DefaultTags, validation.Each(validation.Required)),
	); err != nil {
		return fmt.Errorf("album: %w", err)
	}
	return nil
}

// StoreConfig selects where filter selections and custom tags persist.
type StoreConfig struct {
	Driver string       `yaml:"driver"`
	SQLite SQLiteConfig `yaml:"sqlite"`
	Redis  RedisConfig  `yaml:"redis"`
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr   string `yaml:"addr"`
	DB     int    `yaml:"db"`
	Prefix string `yaml:"prefix"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	if c.Driver == "" {
		c.Driver = store.DriverMemory
	}
	if err := validation.Validate(c.Driver,
		validation.In(store.DriverMemory, store.DriverSQLite, store.DriverRedis)); err != nil {
		return fmt.Errorf("store: driver: %w", err)
	}
	switch c.Driver {
	case store.DriverSQLite:
		if err := validation.ValidateStruct(&c.SQLite,
			validation.Field(&c.SQLite.Path, validation.Required),
		); err != nil {
			return fmt.Errorf("store: sqlite: %w", err)
		}
	case store.DriverRedis:
		if err := validation.ValidateStruct(&c.Redis,
			validation.Field(&c.Redis.Addr, validation.Required),
			validation.Field(&c.Redis.DB, validation.Min(0)),
		); err != nil {
			return fmt.Errorf("store: redis: %w", err)
		}
	}
	return nil
}

// Options converts the configuration for store.Open.
func (c *StoreConfig) Options() store.Options {
	return store.Options{
		Driver:      c.Driver,
		SQLitePath:  c.SQLite.Path,
		RedisAddr:   c.Redis.Addr,
		RedisDB:     c.Redis.DB,
		RedisPrefix: c.Redis.Prefix,
	}
}

// InboxConfig is the local drop folder watched for new photos.
type InboxConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Path     string        `yaml:"path"`
	Debounce time.Duration `yaml:"debounce"`
}

// Validate validates the inbox configuration.
func (c *InboxConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.Debounce, validation.Min(time.Duration(0))),
	); err != nil {
		return fmt.Errorf("inbox: %w", err)
	}
	return nil
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
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Backend: BackendConfig{
			Photos:         "/photos",
			Favorites:      "/favorites",
			Tags:           "/tags",
			UploadURL:      "/upload-url",
			PageSize:       24,
			Timeout:        15 * time.Second,
			TagConcurrency: 8,
			Credentials: CredentialsConfig{
				Mode:    CredentialsNone,
				Service: "execute-api",
			},
		},
		S3: S3Config{
			UploadPrefix: "uploads/",
			PresignTTL:   15 * time.Minute,
		},
		Album: AlbumConfig{
			PreloadFavorites: true,
			MaxEmptyRetries:  3,
			RetryDelay:       300 * time.Millisecond,
			RefreshDelay:     2 * time.Second,
			FetchTimeout:     2 * time.Minute,
		},
		Store: StoreConfig{
			Driver: store.DriverSQLite,
			SQLite: SQLiteConfig{
				Path: "./albumshare.db",
			},
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "albumshare:",
			},
		},
		Inbox: InboxConfig{
			Path:     "./inbox",
			Debounce: 500 * time.Millisecond,
		},
	}
}
