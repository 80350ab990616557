package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Lock     LockConfig     `mapstructure:"lock"`
	ETCD     ETCDConfig     `mapstructure:"etcd"`
	Election ElectionConfig `mapstructure:"election"`
	GraphQL  GraphQLConfig  `mapstructure:"graphql"`
}

type ServerConfig struct {
	GraphQLPort int `mapstructure:"graphql_port"`
	RESTPort    int `mapstructure:"rest_port"`
}

type MySQLConfig struct {
	Master       string `mapstructure:"master"`
	Slave        string `mapstructure:"slave"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	// Data node used for the ballot and voted-flag cache.
	DataAddress string        `mapstructure:"data_address"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PoolSize    int           `mapstructure:"pool_size"`
	MaxRetries  int           `mapstructure:"max_retries"`
	Timeout     time.Duration `mapstructure:"timeout"`

	// Independent nodes used by the redlock backend.
	LockAddresses []string `mapstructure:"lock_addresses"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
	Workers int      `mapstructure:"workers"`
}

type LockConfig struct {
	// Backend selects the distributed lock implementation: "etcd" or "redis".
	Backend    string        `mapstructure:"backend"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RetryCount int           `mapstructure:"retry_count"`
}

type ETCDConfig struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type ElectionConfig struct {
	Candidates []CandidateConfig `mapstructure:"candidates"`
	Voters     []int64           `mapstructure:"voters"`
}

type CandidateConfig struct {
	Name        string `mapstructure:"name"`
	Description string `mapstructure:"description"`
}

type GraphQLConfig struct {
	Path string `mapstructure:"path"`
}

// LoadConfig reads and validates the YAML configuration file. The returned
// struct is handed to every constructor explicitly; there is no package-level
// configuration state.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if cfg.MySQL.Master == "" {
		return nil, fmt.Errorf("mysql.master DSN is required")
	}
	if cfg.Kafka.Workers <= 0 {
		cfg.Kafka.Workers = 4
	}
	if cfg.Lock.Backend == "" {
		cfg.Lock.Backend = "etcd"
	}
	if cfg.GraphQL.Path == "" {
		cfg.GraphQL.Path = "/graphql"
	}

	return &cfg, nil
}
