package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 进程配置（文件 + FEED_ 环境变量覆盖）
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	DB     DBConfig     `mapstructure:"db"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Feed   FeedConfig   `mapstructure:"feed"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	Mode string `mapstructure:"mode"` // gin mode: debug/release
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// FeedConfig feed 引擎参数
type FeedConfig struct {
	CacheTTL         time.Duration `mapstructure:"cache_ttl"`          // 缓存 key 空闲过期
	BufferTimeout    time.Duration `mapstructure:"buffer_timeout"`     // write-behind 窗口
	FanoutPageSize   int           `mapstructure:"fanout_page_size"`   // 扇出分页大小
	PreloadBatchSize int           `mapstructure:"preload_batch_size"` // 预热批大小
	PersistInterval  time.Duration `mapstructure:"persist_interval"`   // 落库调度周期
	EventQueueSize   int           `mapstructure:"event_queue_size"`
	EventWorkers     int           `mapstructure:"event_workers"`
	FanoutRate       float64       `mapstructure:"fanout_rate"` // pipeline pages/sec, 0 不限速
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("FEED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// 配置文件可缺省，全部走默认值 + 环境变量
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "debug")

	v.SetDefault("db.dsn", "host=localhost user=postgres password=postgres dbname=postgres port=5432 sslmode=disable")
	v.SetDefault("db.max_open_conns", 50)
	v.SetDefault("db.max_idle_conns", 10)
	v.SetDefault("db.conn_max_lifetime", time.Hour)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("feed.cache_ttl", 60*time.Second)
	v.SetDefault("feed.buffer_timeout", 10*time.Second)
	v.SetDefault("feed.fanout_page_size", 50)
	v.SetDefault("feed.preload_batch_size", 100)
	v.SetDefault("feed.persist_interval", 10*time.Second)
	v.SetDefault("feed.event_queue_size", 10000)
	v.SetDefault("feed.event_workers", 4)
	v.SetDefault("feed.fanout_rate", 0)
}
