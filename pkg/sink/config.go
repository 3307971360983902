package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// Config lists every output; disabled ones are skipped.
type Config struct {
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	File     FileConfig     `mapstructure:"file"`
	Console  ConsoleConfig  `mapstructure:"console"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
}

type WebhookConfig struct {
	Enabled    bool        `mapstructure:"enabled"`
	URL        string      `mapstructure:"url"`
	Secret     string      `mapstructure:"secret"`
	Retry      RetryConfig `mapstructure:"retry"`
	Async      bool        `mapstructure:"async"`
	BufferSize int         `mapstructure:"buffer_size"`
	Workers    int         `mapstructure:"workers"`
}

type RetryConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

type FileConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type ConsoleConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type PostgresConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Table   string `mapstructure:"table"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
	Mode     string `mapstructure:"mode"` // list, pubsub
}

type KafkaConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Brokers  []string `mapstructure:"brokers"`
	Topic    string   `mapstructure:"topic"`
	User     string   `mapstructure:"user"`
	Password string   `mapstructure:"password"`
}

type RabbitMQConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	URL        string `mapstructure:"url"`
	Exchange   string `mapstructure:"exchange"`
	RoutingKey string `mapstructure:"routing_key"`
	QueueName  string `mapstructure:"queue_name"`
	Durable    bool   `mapstructure:"durable"`
}

// Build opens every enabled output. An output that fails to open is an
// error; outputs already opened are closed first.
func Build(ctx context.Context, cfg Config) (Multi, error) {
	var outputs Multi
	fail := func(name string, err error) (Multi, error) {
		outputs.Close()
		return nil, fmt.Errorf("open %s output: %w", name, err)
	}

	if cfg.Webhook.Enabled {
		outputs = append(outputs, NewWebhookOutput(cfg.Webhook))
	}
	if cfg.File.Enabled {
		fo, err := NewFileOutput(cfg.File.Path)
		if err != nil {
			return fail("file", err)
		}
		outputs = append(outputs, fo)
	}
	if cfg.Console.Enabled {
		outputs = append(outputs, NewConsoleOutput())
	}
	if cfg.Postgres.Enabled {
		po, err := NewPostgresOutput(ctx, cfg.Postgres.URL, cfg.Postgres.Table)
		if err != nil {
			return fail("postgres", err)
		}
		outputs = append(outputs, po)
	}
	if cfg.Redis.Enabled {
		ro, err := NewRedisOutput(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Key, cfg.Redis.Mode)
		if err != nil {
			return fail("redis", err)
		}
		outputs = append(outputs, ro)
	}
	if cfg.Kafka.Enabled {
		ko, err := NewKafkaOutput(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.User, cfg.Kafka.Password)
		if err != nil {
			return fail("kafka", err)
		}
		outputs = append(outputs, ko)
	}
	if cfg.RabbitMQ.Enabled {
		ro, err := NewRabbitMQOutput(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.RoutingKey, cfg.RabbitMQ.QueueName, cfg.RabbitMQ.Durable)
		if err != nil {
			return fail("rabbitmq", err)
		}
		outputs = append(outputs, ro)
	}

	names := make([]string, 0, len(outputs))
	for _, o := range outputs {
		names = append(names, o.Name())
	}
	log.Info("Outputs ready", "outputs", names)
	return outputs, nil
}
