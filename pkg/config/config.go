package config

import (
	"fmt"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common"
	icommon "github.com/goran-ethernal/ChainProjector/internal/common"
	"github.com/goran-ethernal/ChainProjector/internal/logger"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"

	SourceNATS = "nats"
	SourceFile = "file"

	LockLocal = "local"
	LockRedis = "redis"
)

// Config represents the complete configuration for the ChainProjector.
type Config struct {
	// Store selects and configures the projection database
	Store StoreConfig `yaml:"store" json:"store" toml:"store"`

	// Chains lists the chains whose event streams are projected, one worker each
	Chains []ChainConfig `yaml:"chains" json:"chains" toml:"chains"`

	// Contracts lists the contract groups and the handlers that apply to their events
	Contracts []ContractConfig `yaml:"contracts" json:"contracts" toml:"contracts"`

	// Source configures where decoded-log envelopes come from
	Source SourceConfig `yaml:"source" json:"source" toml:"source"`

	// Registration configures where newly discovered contracts are announced
	Registration *RegistrationConfig `yaml:"registration,omitempty" json:"registration,omitempty" toml:"registration,omitempty"` //nolint:lll

	// SideEffects configures actions run once per newly applied event
	SideEffects *SideEffectsConfig `yaml:"side_effects,omitempty" json:"side_effects,omitempty" toml:"side_effects,omitempty"` //nolint:lll

	// Lock configures the per-key serialization used by aggregate merges
	Lock LockConfig `yaml:"lock" json:"lock" toml:"lock"`

	// Retry configures backoff for transient store failures
	Retry *RetryConfig `yaml:"retry,omitempty" json:"retry,omitempty" toml:"retry,omitempty"`

	// Maintenance contains optional SQLite maintenance settings
	Maintenance *MaintenanceConfig `yaml:"maintenance,omitempty" json:"maintenance,omitempty" toml:"maintenance,omitempty"`

	// Logging contains logging configuration
	Logging *LoggingConfig `yaml:"logging,omitempty" json:"logging,omitempty" toml:"logging,omitempty"`

	// Metrics contains Prometheus metrics configuration
	Metrics *MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty" toml:"metrics,omitempty"`
}

// StoreConfig selects the database driver.
type StoreConfig struct {
	// Driver is either "sqlite3" or "postgres"
	Driver string `yaml:"driver" json:"driver" toml:"driver"`

	// DSN is the PostgreSQL connection string, used when Driver is "postgres"
	DSN string `yaml:"dsn,omitempty" json:"dsn,omitempty" toml:"dsn,omitempty"`

	// DB contains SQLite file settings and the connection pool limits for both drivers
	DB DatabaseConfig `yaml:"db" json:"db" toml:"db"`
}

// ApplyDefaults sets default values for optional store configuration fields.
func (s *StoreConfig) ApplyDefaults() {
	if s.Driver == "" {
		s.Driver = DriverSQLite
	}
	s.DB.ApplyDefaults()
}

// Validate checks if the store configuration is valid.
func (s *StoreConfig) Validate() error {
	switch s.Driver {
	case DriverSQLite:
		if s.DB.Path == "" {
			return fmt.Errorf("store.db.path is required for the sqlite3 driver")
		}
		return s.DB.Validate()
	case DriverPostgres:
		if s.DSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres driver")
		}
		return nil
	default:
		return fmt.Errorf("store.driver must be one of: %s, %s", DriverSQLite, DriverPostgres)
	}
}

// DatabaseConfig represents database configuration.
type DatabaseConfig struct {
	// Path is the file path to the SQLite database
	Path string `yaml:"path" json:"path" toml:"path"`

	// JournalMode sets the SQLite journal mode (e.g., "WAL", "DELETE")
	// WAL mode is recommended for better concurrency
	JournalMode string `yaml:"journal_mode" json:"journal_mode" toml:"journal_mode"`

	// Synchronous sets the synchronization level ("FULL", "NORMAL", "OFF")
	Synchronous string `yaml:"synchronous" json:"synchronous" toml:"synchronous"`

	// BusyTimeout is the time in milliseconds to wait when the database is locked
	BusyTimeout int `yaml:"busy_timeout" json:"busy_timeout" toml:"busy_timeout"`

	// CacheSize is the size of the page cache (negative = KB, positive = pages)
	CacheSize int `yaml:"cache_size" json:"cache_size" toml:"cache_size"`

	// MaxOpenConnections is the maximum number of open database connections
	MaxOpenConnections int `yaml:"max_open_connections" json:"max_open_connections" toml:"max_open_connections"`

	// MaxIdleConnections is the maximum number of idle connections in the pool
	MaxIdleConnections int `yaml:"max_idle_connections" json:"max_idle_connections" toml:"max_idle_connections"`

	// EnableForeignKeys enables foreign key constraint enforcement
	EnableForeignKeys bool `yaml:"enable_foreign_keys" json:"enable_foreign_keys" toml:"enable_foreign_keys"`
}

// ApplyDefaults sets default values for optional database configuration fields.
func (d *DatabaseConfig) ApplyDefaults() {
	if d.JournalMode == "" {
		d.JournalMode = "WAL"
	}
	if d.Synchronous == "" {
		d.Synchronous = "NORMAL"
	}
	if d.BusyTimeout == 0 {
		d.BusyTimeout = 5000
	}
	if d.CacheSize == 0 {
		d.CacheSize = 10000
	}
	if d.MaxOpenConnections == 0 {
		d.MaxOpenConnections = 25
	}
	if d.MaxIdleConnections == 0 {
		d.MaxIdleConnections = 5
	}
}

// Validate checks the SQLite pragma values.
func (d *DatabaseConfig) Validate() error {
	if d.JournalMode != "" &&
		!slices.Contains([]string{"WAL", "DELETE", "TRUNCATE", "PERSIST", "MEMORY"}, d.JournalMode) {
		return fmt.Errorf("store.db.journal_mode must be one of: WAL, DELETE, TRUNCATE, PERSIST, MEMORY")
	}

	if d.Synchronous != "" && !slices.Contains([]string{"FULL", "NORMAL", "OFF"}, d.Synchronous) {
		return fmt.Errorf("store.db.synchronous must be one of: FULL, NORMAL, OFF")
	}

	return nil
}

// ChainConfig identifies one chain stream.
type ChainConfig struct {
	// ID is the numeric chain id (1 for Ethereum mainnet)
	ID uint64 `yaml:"id" json:"id" toml:"id"`

	// Name is a human-readable label used in logs and metrics
	Name string `yaml:"name" json:"name" toml:"name"`
}

// ContractConfig is a logical contract group: a set of addresses sharing one ABI and handler set.
// Groups with no addresses are filled at runtime by factory registrations.
type ContractConfig struct {
	// Name is the contract group name, e.g. "UniswapV3Pool"
	Name string `yaml:"name" json:"name" toml:"name"`

	// Handlers lists the handler kinds applied to this group's events, e.g. "erc721_transfer"
	Handlers []string `yaml:"handlers" json:"handlers" toml:"handlers"`

	// SharedTokenIDs keys ownership rows by token id only, for groups whose contracts share one id space
	SharedTokenIDs bool `yaml:"shared_token_ids,omitempty" json:"shared_token_ids,omitempty" toml:"shared_token_ids,omitempty"` //nolint:lll

	// Addresses are the statically known deployments of this group
	Addresses []ContractAddress `yaml:"addresses,omitempty" json:"addresses,omitempty" toml:"addresses,omitempty"`
}

// ContractAddress is one deployment of a contract group on one chain.
type ContractAddress struct {
	ChainID    uint64 `yaml:"chain_id" json:"chain_id" toml:"chain_id"`
	Address    string `yaml:"address" json:"address" toml:"address"`
	StartBlock uint64 `yaml:"start_block" json:"start_block" toml:"start_block"`
}

// SourceConfig selects where envelopes are read from.
type SourceConfig struct {
	// Type is either "nats" or "file"
	Type string `yaml:"type" json:"type" toml:"type"`

	// NATS configures the subscription, used when Type is "nats"
	NATS *NATSConfig `yaml:"nats,omitempty" json:"nats,omitempty" toml:"nats,omitempty"`

	// Path is a JSON-lines file of envelopes, used when Type is "file"
	Path string `yaml:"path,omitempty" json:"path,omitempty" toml:"path,omitempty"`
}

// ApplyDefaults sets default values for optional source configuration fields.
func (s *SourceConfig) ApplyDefaults() {
	if s.Type == "" {
		s.Type = SourceNATS
	}
	if s.NATS != nil {
		s.NATS.ApplyDefaults()
	}
}

// Validate checks if the source configuration is valid.
func (s *SourceConfig) Validate() error {
	switch s.Type {
	case SourceNATS:
		if s.NATS == nil || s.NATS.URL == "" {
			return fmt.Errorf("source.nats.url is required for the nats source")
		}
	case SourceFile:
		if s.Path == "" {
			return fmt.Errorf("source.path is required for the file source")
		}
	default:
		return fmt.Errorf("source.type must be one of: %s, %s", SourceNATS, SourceFile)
	}

	return nil
}

// NATSConfig configures a NATS connection and its subject namespace.
type NATSConfig struct {
	// URL is the NATS server URL, e.g. "nats://127.0.0.1:4222"
	URL string `yaml:"url" json:"url" toml:"url"`

	// SubjectPrefix namespaces subjects as <prefix>.<chain_id>.<kind>
	SubjectPrefix string `yaml:"subject_prefix" json:"subject_prefix" toml:"subject_prefix"`

	// ConnectTimeout bounds the initial dial
	ConnectTimeout icommon.Duration `yaml:"connect_timeout" json:"connect_timeout" toml:"connect_timeout"`

	// ReconnectWait is the pause between reconnect attempts
	ReconnectWait icommon.Duration `yaml:"reconnect_wait" json:"reconnect_wait" toml:"reconnect_wait"`
}

// ApplyDefaults sets default values for optional NATS configuration fields.
func (n *NATSConfig) ApplyDefaults() {
	if n.SubjectPrefix == "" {
		n.SubjectPrefix = "chainprojector"
	}
	if n.ConnectTimeout.Duration == 0 {
		n.ConnectTimeout = icommon.NewDuration(5 * time.Second) //nolint:mnd
	}
	if n.ReconnectWait.Duration == 0 {
		n.ReconnectWait = icommon.NewDuration(2 * time.Second) //nolint:mnd
	}
}

// RegistrationConfig configures the external announcement of discovered contracts.
// The in-process watch set is always maintained.
type RegistrationConfig struct {
	// NATS publishes include/retract requests for the external scanner
	NATS *NATSConfig `yaml:"nats,omitempty" json:"nats,omitempty" toml:"nats,omitempty"`
}

// SideEffectsConfig configures actions taken after an event's projection commits.
// They run at most once per event: redelivered and replayed events never trigger them.
type SideEffectsConfig struct {
	// TransferNotifications publishes each applied ERC-721 transfer to <prefix>.<chain_id>.transfers
	TransferNotifications *NATSConfig `yaml:"transfer_notifications,omitempty" json:"transfer_notifications,omitempty" toml:"transfer_notifications,omitempty"` //nolint:lll
}

// LockConfig selects the key-lock backend.
type LockConfig struct {
	// Type is either "local" (single process) or "redis" (several processes sharing one database)
	Type string `yaml:"type" json:"type" toml:"type"`

	// Redis configures the distributed lock, used when Type is "redis"
	Redis *RedisConfig `yaml:"redis,omitempty" json:"redis,omitempty" toml:"redis,omitempty"`
}

// ApplyDefaults sets default values for optional lock configuration fields.
func (l *LockConfig) ApplyDefaults() {
	if l.Type == "" {
		l.Type = LockLocal
	}
	if l.Redis != nil {
		l.Redis.ApplyDefaults()
	}
}

// Validate checks if the lock configuration is valid.
func (l *LockConfig) Validate() error {
	switch l.Type {
	case LockLocal:
		return nil
	case LockRedis:
		if l.Redis == nil || l.Redis.Addr == "" {
			return fmt.Errorf("lock.redis.addr is required for the redis lock")
		}
		if l.Redis.TTL.Duration <= 0 {
			return fmt.Errorf("lock.redis.ttl must be positive")
		}
		return nil
	default:
		return fmt.Errorf("lock.type must be one of: %s, %s", LockLocal, LockRedis)
	}
}

// RedisConfig configures the Redis client used by the distributed key lock.
type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr" toml:"addr"`
	Password string `yaml:"password,omitempty" json:"password,omitempty" toml:"password,omitempty"`
	DB       int    `yaml:"db" json:"db" toml:"db"`

	// Prefix namespaces lock keys
	Prefix string `yaml:"prefix" json:"prefix" toml:"prefix"`

	// TTL bounds how long a crashed holder can keep a key locked
	TTL icommon.Duration `yaml:"ttl" json:"ttl" toml:"ttl"`

	// RetryInterval is the pause between acquisition attempts on a held key
	RetryInterval icommon.Duration `yaml:"retry_interval" json:"retry_interval" toml:"retry_interval"`
}

// ApplyDefaults sets default values for optional Redis configuration fields.
func (r *RedisConfig) ApplyDefaults() {
	if r.Prefix == "" {
		r.Prefix = "chainprojector:lock:"
	}
	if r.TTL.Duration == 0 {
		r.TTL = icommon.NewDuration(30 * time.Second) //nolint:mnd
	}
	if r.RetryInterval.Duration == 0 {
		r.RetryInterval = icommon.NewDuration(10 * time.Millisecond) //nolint:mnd
	}
}

// RetryConfig represents store retry configuration with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the first one)
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts" toml:"max_attempts"`

	// InitialBackoff is the initial backoff duration before first retry
	InitialBackoff icommon.Duration `yaml:"initial_backoff" json:"initial_backoff" toml:"initial_backoff"`

	// MaxBackoff is the maximum backoff duration
	MaxBackoff icommon.Duration `yaml:"max_backoff" json:"max_backoff" toml:"max_backoff"`

	// BackoffMultiplier is the multiplier for exponential backoff
	BackoffMultiplier float64 `yaml:"backoff_multiplier" json:"backoff_multiplier" toml:"backoff_multiplier"`
}

// ApplyDefaults sets default values for retry configuration.
func (r *RetryConfig) ApplyDefaults() {
	if r.MaxAttempts == 0 {
		r.MaxAttempts = 5
	}
	if r.InitialBackoff.Duration == 0 {
		r.InitialBackoff = icommon.NewDuration(1 * time.Second)
	}
	if r.MaxBackoff.Duration == 0 {
		r.MaxBackoff = icommon.NewDuration(30 * time.Second) //nolint:mnd
	}
	if r.BackoffMultiplier == 0 {
		r.BackoffMultiplier = 2.0
	}
}

// MaintenanceConfig configures SQLite maintenance behavior.
type MaintenanceConfig struct {
	// Enabled controls whether background maintenance runs
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// CheckInterval is how often to run maintenance (e.g., "30m", "1h")
	CheckInterval icommon.Duration `yaml:"check_interval" json:"check_interval" toml:"check_interval"`

	// VacuumOnStartup runs maintenance immediately on startup
	VacuumOnStartup bool `yaml:"vacuum_on_startup" json:"vacuum_on_startup" toml:"vacuum_on_startup"`

	// WALCheckpointMode is one of PASSIVE, FULL, RESTART, TRUNCATE
	WALCheckpointMode string `yaml:"wal_checkpoint_mode" json:"wal_checkpoint_mode" toml:"wal_checkpoint_mode"`
}

// ApplyDefaults sets default values for optional maintenance configuration fields.
func (m *MaintenanceConfig) ApplyDefaults() {
	if m.CheckInterval.Duration == 0 {
		m.CheckInterval = icommon.NewDuration(30 * time.Minute) //nolint:mnd
	}
	if m.WALCheckpointMode == "" {
		m.WALCheckpointMode = "TRUNCATE"
	}
}

// Validate checks if the maintenance configuration is valid.
func (m *MaintenanceConfig) Validate() error {
	if m.WALCheckpointMode != "" {
		validModes := []string{"PASSIVE", "FULL", "RESTART", "TRUNCATE"}
		if !slices.Contains(validModes, m.WALCheckpointMode) {
			return fmt.Errorf("maintenance.wal_checkpoint_mode: must be one of: PASSIVE, FULL, RESTART, TRUNCATE")
		}
	}

	return nil
}

// LoggingConfig configures logging behavior with per-component log levels.
type LoggingConfig struct {
	// DefaultLevel is one of "debug", "info", "warn", "error"
	DefaultLevel string `yaml:"default_level" json:"default_level" toml:"default_level"`

	// Development enables development mode (stack traces, console encoder)
	Development bool `yaml:"development" json:"development" toml:"development"`

	// ComponentLevels overrides the level per component:
	// coordinator, projection-store, dispatcher, registration, event-source, keylock, maintenance, migrations
	ComponentLevels map[string]string `yaml:"component_levels,omitempty" json:"component_levels,omitempty" toml:"component_levels,omitempty"` //nolint:lll
}

// ApplyDefaults sets default values for optional logging configuration fields.
func (l *LoggingConfig) ApplyDefaults() {
	if l.DefaultLevel == "" {
		l.DefaultLevel = "info"
	}
	if l.ComponentLevels == nil {
		l.ComponentLevels = make(map[string]string)
	}
}

// Validate checks if the logging configuration is valid.
func (l *LoggingConfig) Validate() error {
	if l.DefaultLevel != "" {
		if _, valid := logger.ValidLogLevels[icommon.ToLowerWithTrim(l.DefaultLevel)]; !valid {
			return fmt.Errorf("logging.default_level: must be one of: debug, info, warn, error")
		}
	}

	for component, level := range l.ComponentLevels {
		if _, validComponent := icommon.AllComponents[icommon.ToLowerWithTrim(component)]; !validComponent {
			return fmt.Errorf("logging.component_levels: unknown component '%s'", component)
		}

		if _, valid := logger.ValidLogLevels[icommon.ToLowerWithTrim(level)]; !valid {
			return fmt.Errorf("logging.component_levels[%s]: must be one of: debug, info, warn, error", component)
		}
	}

	return nil
}

// GetComponentLevel returns the log level for a specific component,
// falling back to DefaultLevel.
func (l *LoggingConfig) GetComponentLevel(component string) string {
	if level, ok := l.ComponentLevels[component]; ok {
		return icommon.ToLowerWithTrim(level)
	}
	return icommon.ToLowerWithTrim(l.DefaultLevel)
}

// GetDefaultLevel returns the default log level.
func (l *LoggingConfig) GetDefaultLevel() string {
	return icommon.ToLowerWithTrim(l.DefaultLevel)
}

// IsDevelopment returns whether development mode is enabled.
func (l *LoggingConfig) IsDevelopment() bool {
	return l.Development
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	// Enabled controls whether the metrics HTTP endpoint is served
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// ListenAddress is "host:port" or ":port"
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address"`

	// Path is the HTTP path where metrics are exposed
	Path string `yaml:"path" json:"path" toml:"path"`
}

// ApplyDefaults sets default values for optional metrics configuration fields.
func (m *MetricsConfig) ApplyDefaults() {
	if m.ListenAddress == "" {
		m.ListenAddress = ":9090"
	}
	if m.Path == "" {
		m.Path = "/metrics"
	}
}

// Validate checks if the metrics configuration is valid.
func (m *MetricsConfig) Validate() error {
	if m.Enabled {
		if m.ListenAddress == "" {
			return fmt.Errorf("listen_address is required when metrics are enabled")
		}
		if m.Path == "" || m.Path[0] != '/' {
			return fmt.Errorf("path must start with '/'")
		}
	}
	return nil
}

// ApplyDefaults sets default values for optional configuration fields.
func (c *Config) ApplyDefaults() {
	c.Store.ApplyDefaults()
	c.Source.ApplyDefaults()
	c.Lock.ApplyDefaults()

	if c.Registration != nil && c.Registration.NATS != nil {
		c.Registration.NATS.ApplyDefaults()
	}

	if c.SideEffects != nil && c.SideEffects.TransferNotifications != nil {
		c.SideEffects.TransferNotifications.ApplyDefaults()
	}

	if c.Retry != nil {
		c.Retry.ApplyDefaults()
	}

	if c.Maintenance != nil {
		c.Maintenance.ApplyDefaults()
	}

	if c.Logging != nil {
		c.Logging.ApplyDefaults()
	}

	if c.Metrics != nil {
		c.Metrics.ApplyDefaults()
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := c.Store.Validate(); err != nil {
		return err
	}

	if err := c.Source.Validate(); err != nil {
		return err
	}

	if err := c.Lock.Validate(); err != nil {
		return err
	}

	if c.Registration != nil && c.Registration.NATS != nil && c.Registration.NATS.URL == "" {
		return fmt.Errorf("registration.nats.url is required when registration.nats is set")
	}

	if c.SideEffects != nil && c.SideEffects.TransferNotifications != nil &&
		c.SideEffects.TransferNotifications.URL == "" {
		return fmt.Errorf("side_effects.transfer_notifications.url is required when it is set")
	}

	if c.Maintenance != nil {
		if err := c.Maintenance.Validate(); err != nil {
			return err
		}
	}

	if c.Logging != nil {
		if err := c.Logging.Validate(); err != nil {
			return err
		}
	}

	if c.Metrics != nil {
		if err := c.Metrics.Validate(); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}

	if len(c.Chains) == 0 {
		return fmt.Errorf("at least one chain must be configured")
	}

	chains := make(map[uint64]struct{}, len(c.Chains))
	for i, chain := range c.Chains {
		if chain.ID == 0 {
			return fmt.Errorf("chains[%d]: id is required", i)
		}
		if _, dup := chains[chain.ID]; dup {
			return fmt.Errorf("chains[%d]: duplicate chain id %d", i, chain.ID)
		}
		chains[chain.ID] = struct{}{}
	}

	if len(c.Contracts) == 0 {
		return fmt.Errorf("at least one contract group must be configured")
	}

	groups := make(map[string]struct{}, len(c.Contracts))
	for i, contract := range c.Contracts {
		if contract.Name == "" {
			return fmt.Errorf("contracts[%d]: name is required", i)
		}
		if _, dup := groups[contract.Name]; dup {
			return fmt.Errorf("contracts[%d]: duplicate contract group '%s'", i, contract.Name)
		}
		groups[contract.Name] = struct{}{}

		if len(contract.Handlers) == 0 {
			return fmt.Errorf("contracts[%d] (%s): at least one handler must be configured", i, contract.Name)
		}

		for j, addr := range contract.Addresses {
			if _, ok := chains[addr.ChainID]; !ok {
				return fmt.Errorf("contracts[%d] (%s), addresses[%d]: chain %d is not configured",
					i, contract.Name, j, addr.ChainID)
			}
			if !common.IsHexAddress(addr.Address) {
				return fmt.Errorf("contracts[%d] (%s), addresses[%d]: invalid address '%s'",
					i, contract.Name, j, addr.Address)
			}
		}
	}

	return nil
}

// ChainName returns the configured label for chainID, or its decimal form.
func (c *Config) ChainName(chainID uint64) string {
	for _, chain := range c.Chains {
		if chain.ID == chainID && chain.Name != "" {
			return chain.Name
		}
	}
	return fmt.Sprintf("%d", chainID)
}
