package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type HTTP struct {
	Addr string
}

type Storage struct {
	// DataDir holds the Pebble trade store.
	DataDir string
}

// Kafka is optional: with no brokers configured the process runs the order
// and trade streams in-memory, single-node.
type Kafka struct {
	Brokers     []string
	OrdersTopic string
	TradesTopic string
	GroupID     string
}

type Engine struct {
	SeenCapacity      int
	BlockSelfTrade    bool
	PersistMaxRetries uint64
	RetryBase         time.Duration
	RetryMax          time.Duration
}

type Broadcast struct {
	// ConnectionTTL is the backstop for missed disconnects: a connection
	// with no activity inside the TTL is swept from the registry.
	ConnectionTTL time.Duration
	JanitorPeriod time.Duration
}

type Config struct {
	HTTP      HTTP
	Storage   Storage
	Kafka     Kafka
	Engine    Engine
	Broadcast Broadcast
	Debug     bool
}

func Default() Config {
	return Config{
		HTTP:    HTTP{Addr: ":8080"},
		Storage: Storage{DataDir: "data"},
		Kafka: Kafka{
			OrdersTopic: "orders",
			TradesTopic: "trades",
			GroupID:     "minex",
		},
		Engine: Engine{
			SeenCapacity:      8192,
			PersistMaxRetries: 5,
			RetryBase:         100 * time.Millisecond,
			RetryMax:          2 * time.Second,
		},
		Broadcast: Broadcast{
			ConnectionTTL: 24 * time.Hour,
			JanitorPeriod: 30 * time.Second,
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("ORDERS_TOPIC"); v != "" {
		cfg.Kafka.OrdersTopic = v
	}
	if v := os.Getenv("TRADES_TOPIC"); v != "" {
		cfg.Kafka.TradesTopic = v
	}
	if v := os.Getenv("KAFKA_GROUP_ID"); v != "" {
		cfg.Kafka.GroupID = v
	}
	if v := os.Getenv("SEEN_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Engine.SeenCapacity = n
		}
	}
	if v := os.Getenv("BLOCK_SELF_TRADE"); v != "" {
		cfg.Engine.BlockSelfTrade = v == "true"
	}
	if v := os.Getenv("PERSIST_MAX_RETRIES"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Engine.PersistMaxRetries = n
		}
	}
	if v := os.Getenv("RETRY_BASE_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.Engine.RetryBase = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("RETRY_MAX_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.Engine.RetryMax = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("CONNECTION_TTL_MIN"); v != "" {
		if m, err := strconv.Atoi(v); err == nil && m > 0 {
			cfg.Broadcast.ConnectionTTL = time.Duration(m) * time.Minute
		}
	}
	if v := os.Getenv("JANITOR_PERIOD_SEC"); v != "" {
		if s, err := strconv.Atoi(v); err == nil && s > 0 {
			cfg.Broadcast.JanitorPeriod = time.Duration(s) * time.Second
		}
	}
	if v := os.Getenv("DEBUG"); v != "" {
		cfg.Debug = v == "true"
	}

	return cfg
}
