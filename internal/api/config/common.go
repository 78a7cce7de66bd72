package config

// Config 配置主体
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
	Rest     RestConfig     `mapstructure:"rest"`
	Session  SessionConfig  `mapstructure:"session"`
	Resync   ResyncConfig   `mapstructure:"resync"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig 状态接口配置
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// RealtimeConfig 推送通道配置
type RealtimeConfig struct {
	BaseURL            string `mapstructure:"base_url"`
	HubPath            string `mapstructure:"hub_path"`
	Endpoint           string `mapstructure:"endpoint"` // 显式覆盖，优先于 base_url + hub_path
	HandshakeTimeoutMs int    `mapstructure:"handshake_timeout_ms"`
	WriteTimeoutMs     int    `mapstructure:"write_timeout_ms"`
	ReadLimit          int64  `mapstructure:"read_limit"`
}

// RestConfig REST 接口配置
type RestConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	TimeoutMs int    `mapstructure:"timeout_ms"`
	PageSize  int    `mapstructure:"page_size"`
	MaxPages  int    `mapstructure:"max_pages"`
}

// SessionConfig 会话配置
type SessionConfig struct {
	Credential     string `mapstructure:"credential"`
	ReadDebounceMs int    `mapstructure:"read_debounce_ms"`
}

// ResyncConfig 定时全量校准
type ResyncConfig struct {
	Spec string `mapstructure:"spec"`
}

// RedisConfig 快照缓存，addr 为空时关闭
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
	TTLSec   int    `mapstructure:"ttl_sec"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}
