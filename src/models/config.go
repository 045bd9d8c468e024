package models

// MConfig Structure
type MConfig struct {
	Name     string          `yaml:"name"`
	Host     string          `yaml:"host"`
	Port     int             `yaml:"port"`
	LogLevel string          `yaml:"log_level"`
	Storage  MStorageConfig  `yaml:"storage"`
	Network  MNetworkConfig  `yaml:"network"`
	Charting MChartingConfig `yaml:"charting"`
	Cache    MCacheConfig    `yaml:"cache"`
	Auth     MAuthConfig     `yaml:"auth"`
}

type MStorageConfig struct {
	DBType             string `yaml:"db_type"`
	DBPath             string `yaml:"db_path"`
	DBConnectionString string `yaml:"db_connection_string"`
	RetentionDays      int    `yaml:"retention_days"`
}

type MNetworkConfig struct {
	RequestTimeout int    `yaml:"timeout"`
	MaxRetries     int    `yaml:"retries"`
	UserAgent      string `yaml:"user_agent"`
}

// MChartingConfig holds endpoints and timing policy for the remote charting service.
type MChartingConfig struct {
	StreamURL               string `yaml:"stream_url"`
	SideChannelURL          string `yaml:"side_channel_url"`
	Origin                  string `yaml:"origin"`
	Locale                  string `yaml:"locale"`
	FetchTimeoutSeconds     int    `yaml:"fetch_timeout_seconds"`
	HandshakeTimeoutSeconds int    `yaml:"handshake_timeout_seconds"`
	ConfigTimeoutSeconds    int    `yaml:"config_timeout_seconds"`
	ConnectRetries          int    `yaml:"connect_retries"`
	ConnectRetryDelayMs     int    `yaml:"connect_retry_delay_ms"`
	IdleEvictionSeconds     int    `yaml:"idle_eviction_seconds"`
}

type MCacheConfig struct {
	SessionTTLSeconds   int `yaml:"session_ttl_seconds"`
	IndicatorTTLSeconds int `yaml:"indicator_ttl_seconds"`
}

type MAuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}
