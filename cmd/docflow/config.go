package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/medocr/docflow"
	"github.com/medocr/docflow/admission"
	"github.com/medocr/docflow/objectstore"
	relayhook "github.com/medocr/docflow/relay_hook"
)

// Store drivers.
const (
	driverMemory   = "memory"
	driverSQLite   = "sqlite"
	driverPostgres = "postgres"
)

// Config is the docflow.toml file.
type Config struct {
	Engine        Engine             `toml:"engine"`
	Store         Store              `toml:"store"`
	Workflows     Workflows          `toml:"workflows"`
	Redis         Redis              `toml:"redis"`
	ObjectStore   objectstore.Config `toml:"object_store"`
	Notifications Notifications      `toml:"notifications"`
	Events        Events             `toml:"events"`
	Admission     Admission          `toml:"admission"`
	API           API                `toml:"api"`
	Logging       Logging            `toml:"logging"`
}

// Engine mirrors docflow.Config with textual durations.
type Engine struct {
	MaxRunDuration duration `toml:"max_run_duration"`
	StepTimeout    duration `toml:"step_timeout"`
	MaxAttempts    int      `toml:"max_attempts"`
	InitialBackoff duration `toml:"initial_backoff"`
	MaxBackoff     duration `toml:"max_backoff"`
	ActorID        string   `toml:"actor_id"`
}

// Store selects the persistence backend.
type Store struct {
	Driver string `toml:"driver"`
	// DSN is the SQLite file path or the Postgres connection string.
	DSN     string `toml:"dsn"`
	Migrate bool   `toml:"migrate"`
	// Fixture is seeded into the store on startup when set.
	Fixture string `toml:"fixture"`
}

// Workflows points at a directory of YAML definitions. When set, it
// replaces the store as the definition source.
type Workflows struct {
	Dir string `toml:"dir"`
}

// Redis enables the run cache and delivery deduplication.
type Redis struct {
	Addr      string   `toml:"addr"`
	Password  string   `toml:"password"`
	DB        int      `toml:"db"`
	KeyPrefix string   `toml:"key_prefix"`
	RunTTL    duration `toml:"run_ttl"`
	DedupeTTL duration `toml:"dedupe_ttl"`
}

// Notifications configures outbound delivery.
type Notifications struct {
	// Endpoint receives workflow notifications as JSON. Empty logs them.
	Endpoint  string  `toml:"endpoint"`
	Secret    string  `toml:"secret"`
	RateLimit float64 `toml:"rate_limit"`
	Burst     int     `toml:"burst"`
}

// Events relays run lifecycle events to an external endpoint.
type Events struct {
	Endpoint string `toml:"endpoint"`
	Secret   string `toml:"secret"`
	// Types restricts the relayed events. Empty relays all of them.
	Types []string `toml:"types"`
}

// Admission limits run starts. A zero Limit imposes nothing.
type Admission struct {
	Global     Limit            `toml:"global"`
	OrgDefault Limit            `toml:"org_default"`
	Workflows  map[string]Limit `toml:"workflows"`
	Orgs       map[string]Limit `toml:"orgs"`
}

// Limit is one admission gate.
type Limit struct {
	MaxConcurrency int     `toml:"max_concurrency"`
	RateLimit      float64 `toml:"rate_limit"`
	RateBurst      int     `toml:"rate_burst"`
}

func (l Limit) isZero() bool { return l.MaxConcurrency == 0 && l.RateLimit == 0 }

func (l Limit) validate(name string) error {
	if l.MaxConcurrency < 0 || l.RateLimit < 0 || l.RateBurst < 0 {
		return fmt.Errorf("admission.%s: limits must not be negative", name)
	}
	return nil
}

// enabled reports whether any gate is configured.
func (a Admission) enabled() bool {
	if !a.Global.isZero() || !a.OrgDefault.isZero() {
		return true
	}
	for _, l := range a.Workflows {
		if !l.isZero() {
			return true
		}
	}
	for _, l := range a.Orgs {
		if !l.isZero() {
			return true
		}
	}
	return false
}

// Manager builds the admission manager for the configured gates.
func (a Admission) Manager() *admission.Manager {
	m := admission.NewManager()
	if !a.Global.isZero() {
		m.SetConfig(admission.Config{MaxConcurrency: a.Global.MaxConcurrency, RateLimit: a.Global.RateLimit, RateBurst: a.Global.RateBurst})
	}
	for wf, l := range a.Workflows {
		m.SetConfig(admission.Config{WorkflowID: wf, MaxConcurrency: l.MaxConcurrency, RateLimit: l.RateLimit, RateBurst: l.RateBurst})
	}
	if !a.OrgDefault.isZero() {
		m.SetOrgConfig(admission.OrgConfig{MaxConcurrency: a.OrgDefault.MaxConcurrency, RateLimit: a.OrgDefault.RateLimit, RateBurst: a.OrgDefault.RateBurst})
	}
	for org, l := range a.Orgs {
		m.SetOrgConfig(admission.OrgConfig{OrgID: org, MaxConcurrency: l.MaxConcurrency, RateLimit: l.RateLimit, RateBurst: l.RateBurst})
	}
	return m
}

// API configures the HTTP server.
type API struct {
	Bind  string `toml:"bind"`
	Token string `toml:"token"`
}

// Logging configures the process logger.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	// Audit streams lifecycle audit events to the log.
	Audit bool `toml:"audit"`
}

type duration time.Duration

func (d *duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	*d = duration(v)
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() Config {
	ec := docflow.DefaultConfig()
	return Config{
		Engine: Engine{
			MaxRunDuration: duration(ec.MaxRunDuration),
			StepTimeout:    duration(ec.StepTimeout),
			MaxAttempts:    ec.MaxAttempts,
			InitialBackoff: duration(ec.InitialBackoff),
			MaxBackoff:     duration(ec.MaxBackoff),
			ActorID:        ec.ActorID,
		},
		Store: Store{Driver: driverMemory, Migrate: true},
		Redis: Redis{
			KeyPrefix: "docflow:",
			RunTTL:    duration(time.Hour),
			DedupeTTL: duration(24 * time.Hour),
		},
		Notifications: Notifications{RateLimit: 50, Burst: 10},
		API:           API{Bind: "127.0.0.1:8080"},
		Logging:       Logging{Level: "info", Format: "text"},
	}
}

// LoadConfig reads path over the defaults. A missing file is not an
// error when path is empty.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = "docflow.toml"
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return &cfg, cfg.Validate()
		}
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	dec := toml.NewDecoder(file)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	if c.Store.Driver == "" {
		c.Store.Driver = driverMemory
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case driverMemory:
	case driverSQLite, driverPostgres:
		if strings.TrimSpace(c.Store.DSN) == "" {
			errs = append(errs, fmt.Errorf("store.dsn is required for driver %q", c.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not one of memory, sqlite, postgres", c.Store.Driver))
	}
	if c.ObjectStore.Endpoint != "" {
		if err := c.ObjectStore.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format))
	}
	if _, err := parseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	if len(c.Events.Types) > 0 {
		if c.Events.Endpoint == "" {
			errs = append(errs, errors.New("events.types requires events.endpoint"))
		}
		if err := relayhook.CheckEvents(c.Events.Types...); err != nil {
			errs = append(errs, err)
		}
	}
	errs = append(errs, c.Admission.Global.validate("global"), c.Admission.OrgDefault.validate("org_default"))
	for wf, l := range c.Admission.Workflows {
		errs = append(errs, l.validate("workflows."+wf))
	}
	for org, l := range c.Admission.Orgs {
		errs = append(errs, l.validate("orgs."+org))
	}
	return errors.Join(errs...)
}

// EngineConfig converts the engine section.
func (c *Config) EngineConfig() docflow.Config {
	return docflow.Config{
		MaxRunDuration: time.Duration(c.Engine.MaxRunDuration),
		StepTimeout:    time.Duration(c.Engine.StepTimeout),
		MaxAttempts:    c.Engine.MaxAttempts,
		InitialBackoff: time.Duration(c.Engine.InitialBackoff),
		MaxBackoff:     time.Duration(c.Engine.MaxBackoff),
		ActorID:        c.Engine.ActorID,
	}.Normalize()
}
