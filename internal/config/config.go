package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is read when ABSENBOT_CONFIG is not set.
const DefaultPath = "config.yaml"

type Config struct {
	Discord Discord `yaml:"discord"`

	Web struct {
		Addr string `yaml:"addr" env:"WEB_ADDR"`
	} `yaml:"web"`

	Geofence Geofence `yaml:"geofence"`

	Ledger struct {
		Backend     string `yaml:"backend"`
		Path        string `yaml:"path"`
		DedupPolicy string `yaml:"dedup_policy"`
		Timezone    string `yaml:"timezone"`
	} `yaml:"ledger"`

	Database Database `yaml:"database"`

	Redis struct {
		URL    string `yaml:"url" env:"REDIS_URL"`
		Prefix string `yaml:"prefix"`
	} `yaml:"redis"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

type Discord struct {
	Enabled        bool   `yaml:"enabled"`
	Token          string `yaml:"token" env:"DISCORD_TOKEN"`
	ClientID       string `yaml:"client_id" env:"DISCORD_CLIENT_ID"`
	AdminChannelID string `yaml:"admin_channel_id" env:"DISCORD_ADMIN_CHANNEL_ID"`
}

// Geofence is the check-in area. A zero radius accepts only the exact centre.
type Geofence struct {
	Latitude     float64 `yaml:"latitude"`
	Longitude    float64 `yaml:"longitude"`
	RadiusMeters int     `yaml:"radius_meters"`
}

// DefaultGeofence is used for every geofence key the config leaves out.
func DefaultGeofence() Geofence {
	return Geofence{Latitude: -8.591758, Longitude: 116.248384, RadiusMeters: 100}
}

// UnmarshalYAML overwrites only the keys present in the document, so an
// explicit zero is kept rather than replaced by a default.
func (g *Geofence) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Latitude     *float64 `yaml:"latitude"`
		Longitude    *float64 `yaml:"longitude"`
		RadiusMeters *int     `yaml:"radius_meters"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if raw.Latitude != nil {
		g.Latitude = *raw.Latitude
	}
	if raw.Longitude != nil {
		g.Longitude = *raw.Longitude
	}
	if raw.RadiusMeters != nil {
		g.RadiusMeters = *raw.RadiusMeters
	}
	return nil
}

type Database struct {
	Host     string `yaml:"host" env:"DB_HOST"`
	Port     int    `yaml:"port" env:"DB_PORT"`
	User     string `yaml:"user" env:"DB_USER"`
	Password string `yaml:"password" env:"DB_PASSWORD"`
	DBName   string `yaml:"dbname" env:"DB_NAME"`
	SSLMode  string `yaml:"sslmode" env:"DB_SSLMODE"`
}

// URL returns the postgres connection string.
func (d Database) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// Load reads the file named by ABSENBOT_CONFIG, or config.yaml.
func Load() (*Config, error) {
	path := os.Getenv("ABSENBOT_CONFIG")
	if path == "" {
		path = DefaultPath
	}
	return LoadFile(path)
}

// LoadFile reads, expands, decodes and validates the config at path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML document after replacing ${VAR} placeholders with
// environment values.
func Parse(data []byte) (*Config, error) {
	content := string(data)
	for _, env := range os.Environ() {
		pair := strings.SplitN(env, "=", 2)
		if len(pair) != 2 {
			continue
		}
		placeholder := "${" + pair[0] + "}"
		content = strings.ReplaceAll(content, placeholder, pair[1])
	}

	cfg := Config{Geofence: DefaultGeofence()}
	if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	// Convert DB_PORT from string to int if it's an environment variable
	if portStr := os.Getenv("DB_PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT value: %w", err)
		}
		cfg.Database.Port = port
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Web.Addr == "" {
		c.Web.Addr = ":3000"
	}
	if c.Ledger.Backend == "" {
		c.Ledger.Backend = "file"
	}
	if c.Ledger.Path == "" {
		c.Ledger.Path = "absensi.json"
	}
	if c.Ledger.DedupPolicy == "" {
		c.Ledger.DedupPolicy = "per_method"
	}
	if c.Ledger.Timezone == "" {
		c.Ledger.Timezone = "Asia/Makassar"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "absenbot:"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate checks the settings that would otherwise fail late.
func (c *Config) Validate() error {
	var errs []error
	if c.Discord.Enabled && c.Discord.Token == "" {
		errs = append(errs, errors.New("discord.token is required when discord is enabled"))
	}
	if c.Discord.Enabled && c.Discord.ClientID == "" {
		errs = append(errs, errors.New("discord.client_id is required when discord is enabled"))
	}
	if c.Geofence.RadiusMeters < 0 {
		errs = append(errs, errors.New("geofence.radius_meters must not be negative"))
	}
	if c.Geofence.Latitude < -90 || c.Geofence.Latitude > 90 {
		errs = append(errs, fmt.Errorf("geofence.latitude %v out of range", c.Geofence.Latitude))
	}
	if c.Geofence.Longitude < -180 || c.Geofence.Longitude > 180 {
		errs = append(errs, fmt.Errorf("geofence.longitude %v out of range", c.Geofence.Longitude))
	}
	switch c.Ledger.Backend {
	case "file", "memory":
	case "postgres":
		if c.Database.Host == "" || c.Database.DBName == "" {
			errs = append(errs, errors.New("database.host and database.dbname are required for the postgres backend"))
		}
	case "redis":
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("redis.url is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ledger.backend %q", c.Ledger.Backend))
	}
	switch c.Ledger.DedupPolicy {
	case "per_method", "per_identity_global":
	default:
		errs = append(errs, fmt.Errorf("unknown ledger.dedup_policy %q", c.Ledger.DedupPolicy))
	}
	if _, err := time.LoadLocation(c.Ledger.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("invalid ledger.timezone: %w", err))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// Location loads the reference timezone. Validate has already checked it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Ledger.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
