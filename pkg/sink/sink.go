package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/84hero/evm-gamefinder/internal/webhook"
	"github.com/IBM/sarama"
	"github.com/ethereum/go-ethereum/log"
	_ "github.com/lib/pq"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
)

// Output defines the interface for record delivery
type Output interface {
	Name() string
	Send(ctx context.Context, records []Record) error
	Close() error
}

// --- 1. Webhook Output ---

type WebhookOutput struct {
	client   *webhook.Client
	async    bool
	queue    chan []Record
	wg       sync.WaitGroup
	closed   bool
	closedMu sync.Mutex
}

func NewWebhookOutput(cfg WebhookConfig) *WebhookOutput {
	wo := &WebhookOutput{
		client: webhook.NewClient(webhook.Config{
			URL:            cfg.URL,
			Secret:         cfg.Secret,
			MaxAttempts:    cfg.Retry.MaxAttempts,
			InitialBackoff: cfg.Retry.InitialBackoff,
			MaxBackoff:     cfg.Retry.MaxBackoff,
		}),
		async: cfg.Async,
	}

	if cfg.Async {
		bufferSize, workers := cfg.BufferSize, cfg.Workers
		if bufferSize <= 0 {
			bufferSize = 1000
		}
		if workers <= 0 {
			workers = 1
		}
		wo.queue = make(chan []Record, bufferSize)
		for i := 0; i < workers; i++ {
			wo.wg.Add(1)
			go wo.worker()
		}
	}

	return wo
}

func (w *WebhookOutput) Name() string { return "webhook" }

func (w *WebhookOutput) worker() {
	defer w.wg.Done()
	for records := range w.queue {
		if err := w.client.Send(context.Background(), records); err != nil {
			log.Error("Async webhook delivery failed", "records", len(records), "err", err)
		}
	}
}

func (w *WebhookOutput) Send(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if w.async {
		w.closedMu.Lock()
		defer w.closedMu.Unlock()
		if w.closed {
			return errors.New("webhook output is closed")
		}
		select {
		case w.queue <- records:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return w.client.Send(ctx, records)
}

func (w *WebhookOutput) Close() error {
	if w.async {
		w.closedMu.Lock()
		if !w.closed {
			w.closed = true
			close(w.queue)
		}
		w.closedMu.Unlock()
		w.wg.Wait()
	}
	return nil
}

// --- 2. File Output ---

type FileOutput struct {
	path string
	mu   sync.Mutex
	file *os.File
}

func NewFileOutput(path string) (*FileOutput, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &FileOutput{path: path, file: f}, nil
}

func (f *FileOutput) Name() string { return "file" }

func (f *FileOutput) Send(ctx context.Context, records []Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return writeJSONL(f.file, records)
}

func (f *FileOutput) Close() error {
	if f.file != nil {
		return f.file.Close()
	}
	return nil
}

func writeJSONL(w io.Writer, records []Record) error {
	enc := json.NewEncoder(w)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

// --- 3. Console Output ---

type ConsoleOutput struct {
	mu sync.Mutex
	w  io.Writer
}

func NewConsoleOutput() *ConsoleOutput {
	return &ConsoleOutput{w: os.Stdout}
}

func (c *ConsoleOutput) Name() string { return "console" }

func (c *ConsoleOutput) Send(ctx context.Context, records []Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return writeJSONL(c.w, records)
}

func (c *ConsoleOutput) Close() error { return nil }

// --- 4. PostgreSQL Output ---

var tableNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

type PostgresOutput struct {
	db    *sql.DB
	table string
}

func NewPostgresOutput(ctx context.Context, url, table string) (*PostgresOutput, error) {
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name: %s", table)
	}
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id SERIAL PRIMARY KEY,
			record_type TEXT NOT NULL,
			block_number BIGINT,
			tx_hash TEXT,
			log_index INT,
			event_name TEXT,
			game_code TEXT,
			data JSONB,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE (record_type, tx_hash, log_index)
		);
		CREATE INDEX IF NOT EXISTS idx_%s_game ON %s (game_code);
	`, table, table, table)
	if _, err := db.ExecContext(ctx, query); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	return &PostgresOutput{db: db, table: table}, nil
}

func (p *PostgresOutput) Name() string { return "postgres" }

func (p *PostgresOutput) Send(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const cols = 7
	valueStrings := make([]string, 0, len(records))
	valueArgs := make([]interface{}, 0, len(records)*cols)
	for i, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		n := i * cols
		valueStrings = append(valueStrings, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5, n+6, n+7))
		valueArgs = append(valueArgs, string(r.Type), r.BlockNumber(), r.TxHash(), r.LogIndex(), r.Name(), r.GameCode(), data)
	}
	stmt := fmt.Sprintf("INSERT INTO %s (record_type, block_number, tx_hash, log_index, event_name, game_code, data) VALUES %s ON CONFLICT (record_type, tx_hash, log_index) DO NOTHING",
		p.table, strings.Join(valueStrings, ","))
	if _, err := tx.ExecContext(ctx, stmt, valueArgs...); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresOutput) Close() error { return p.db.Close() }

// --- 5. Redis Output ---

type RedisOutput struct {
	client *redis.Client
	key    string
	mode   string
}

func NewRedisOutput(ctx context.Context, addr, password string, db int, key, mode string) (*RedisOutput, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return &RedisOutput{client: rdb, key: key, mode: mode}, nil
}

func (r *RedisOutput) Name() string { return "redis" }

// Send pushes each record to a list, or publishes it when mode is "pubsub".
func (r *RedisOutput) Send(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	pipe := r.client.Pipeline()
	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if r.mode == "pubsub" {
			pipe.Publish(ctx, r.key, data)
		} else {
			pipe.LPush(ctx, r.key, data)
		}
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisOutput) Close() error { return r.client.Close() }

// --- 6. Kafka Output ---

type KafkaOutput struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaOutput(brokers []string, topic, user, password string) (*KafkaOutput, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	if user != "" {
		config.Net.SASL.Enable = true
		config.Net.SASL.User = user
		config.Net.SASL.Password = password
	}
	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}
	return NewKafkaOutputWithProducer(producer, topic), nil
}

// NewKafkaOutputWithProducer wraps an existing producer.
func NewKafkaOutputWithProducer(producer sarama.SyncProducer, topic string) *KafkaOutput {
	return &KafkaOutput{producer: producer, topic: topic}
}

func (k *KafkaOutput) Name() string { return "kafka" }

// Send keys every message by game code so one game's records stay ordered
// within a partition.
func (k *KafkaOutput) Send(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	msgs := make([]*sarama.ProducerMessage, 0, len(records))
	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		key := r.GameCode()
		if key == "" {
			key = r.TxHash()
		}
		msgs = append(msgs, &sarama.ProducerMessage{
			Topic: k.topic,
			Key:   sarama.StringEncoder(key),
			Value: sarama.ByteEncoder(data),
		})
	}
	return k.producer.SendMessages(msgs)
}

func (k *KafkaOutput) Close() error { return k.producer.Close() }

// --- 7. RabbitMQ Output ---

type RabbitMQOutput struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	exchange   string
	routingKey string
}

func NewRabbitMQOutput(url, exchange, routingKey, queueName string, durable bool) (*RabbitMQOutput, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if exchange != "" {
		if err := ch.ExchangeDeclare(exchange, "topic", durable, false, false, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return nil, err
		}
	}
	if queueName != "" {
		q, err := ch.QueueDeclare(queueName, durable, false, false, false, nil)
		if err == nil {
			err = ch.QueueBind(q.Name, routingKey, exchange, false, nil)
		}
		if err != nil {
			ch.Close()
			conn.Close()
			return nil, err
		}
	}
	return &RabbitMQOutput{conn: conn, ch: ch, exchange: exchange, routingKey: routingKey}, nil
}

func (r *RabbitMQOutput) Name() string { return "rabbitmq" }

func (r *RabbitMQOutput) Send(ctx context.Context, records []Record) error {
	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		err = r.ch.PublishWithContext(ctx, r.exchange, r.routingKey, false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Type:         rec.Name(),
			Body:         data,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *RabbitMQOutput) Close() error {
	r.ch.Close()
	return r.conn.Close()
}

// --- Fan-out ---

// Multi delivers to every output concurrently.
type Multi []Output

// Send returns the joined errors of the outputs that failed.
func (m Multi) Send(ctx context.Context, records []Record) error {
	if len(records) == 0 || len(m) == 0 {
		return nil
	}
	errs := make([]error, len(m))
	var wg sync.WaitGroup
	for i, out := range m {
		wg.Add(1)
		go func(i int, o Output) {
			defer wg.Done()
			if err := o.Send(ctx, records); err != nil {
				errs[i] = fmt.Errorf("%s: %w", o.Name(), err)
			}
		}(i, out)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Close closes every output.
func (m Multi) Close() error {
	var errs []error
	for _, o := range m {
		if err := o.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", o.Name(), err))
		}
	}
	return errors.Join(errs...)
}
