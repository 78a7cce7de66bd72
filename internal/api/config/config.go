package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Cfg 全局可访问的配置实例
var Cfg *Config

// LoadConfig 从文件与环境变量加载配置并填充到 Cfg
func LoadConfig() error {
	cfg, err := Load(viper.New(), "./configs")
	if err != nil {
		return err
	}
	Cfg = cfg
	return nil
}

// Load 读取指定目录下的 config.yaml，环境变量 SYNC_* 覆盖同名配置
func Load(v *viper.Viper, paths ...string) (*Config, error) {
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetEnvPrefix("SYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8090)
	v.SetDefault("realtime.hub_path", "/hubs/chat")
	v.SetDefault("realtime.handshake_timeout_ms", 10000)
	v.SetDefault("realtime.write_timeout_ms", 10000)
	v.SetDefault("realtime.read_limit", 1<<20)
	v.SetDefault("rest.timeout_ms", 15000)
	v.SetDefault("rest.page_size", 20)
	v.SetDefault("rest.max_pages", 10)
	v.SetDefault("session.read_debounce_ms", 300)
	v.SetDefault("redis.pool_size", 4)
	v.SetDefault("redis.ttl_sec", 86400)
	v.SetDefault("log.level", "info")

	// AutomaticEnv 只对已知键生效
	v.SetDefault("realtime.base_url", "")
	v.SetDefault("realtime.endpoint", "")
	v.SetDefault("rest.base_url", "")
	v.SetDefault("session.credential", "")
	v.SetDefault("resync.spec", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("log.file", "")
}
