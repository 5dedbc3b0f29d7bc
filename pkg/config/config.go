package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string   `yaml:"environment" default:"development" validate:"required,oneof=development staging production test"`
	Symbols     []string `yaml:"symbols" default:"[\"AAPL\",\"MSFT\",\"NVDA\",\"TSLA\",\"AMZN\",\"GOOGL\",\"META\",\"NFLX\",\"CRM\",\"ORCL\"]" validate:"min=1,dive,required"`

	Log struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" default:"console" validate:"oneof=console json"`
		Output string `yaml:"output" default:"stdout"`
		// Ship aggregated error logs to Kafka when kafka is enabled.
		Collect       bool          `yaml:"collect"`
		FlushInterval time.Duration `yaml:"flush_interval" default:"30s"`
	} `yaml:"log"`

	Server struct {
		Port            int           `yaml:"port" default:"8080" validate:"gt=0,lt=65536"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
		SlowThreshold   time.Duration `yaml:"slow_threshold" default:"500ms"`
	} `yaml:"server"`

	Store struct {
		Backend  string `yaml:"backend" default:"redis" validate:"oneof=redis memory"`
		Host     string `yaml:"host" default:"localhost"`
		Port     int    `yaml:"port" default:"6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix"`
		PoolSize int    `yaml:"pool_size" default:"20"`
	} `yaml:"store"`

	Kafka struct {
		Enabled          bool     `yaml:"enabled"`
		Brokers          []string `yaml:"brokers"`
		EventsTopic      string   `yaml:"events_topic" default:"tradepulse.events"`
		PredictionsTopic string   `yaml:"predictions_topic" default:"tradepulse.predictions"`
		LogsTopic        string   `yaml:"logs_topic" default:"tradepulse.logs"`
		RequiredAcks     int      `yaml:"required_acks" default:"-1"`
		Compression      string   `yaml:"compression" default:"snappy" validate:"oneof=gzip snappy lz4 zstd"`
		Producer         struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"50ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID     string        `yaml:"group_id" default:"tradepulse"`
			StartLatest bool          `yaml:"start_latest"`
			Workers     int           `yaml:"workers" default:"2"`
			BufferSize  int           `yaml:"buffer_size" default:"100"`
			RetryMax    int           `yaml:"retry_max" default:"3"`
			BackoffMin  time.Duration `yaml:"backoff_min" default:"50ms"`
			BackoffMax  time.Duration `yaml:"backoff_max" default:"2s"`
			DLQTopic    string        `yaml:"dlq_topic" default:"tradepulse.predictions.dlq"`
			MinBytes    int           `yaml:"min_bytes" default:"1"`
			MaxBytes    int           `yaml:"max_bytes" default:"10000000"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`

	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"tradepulse"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert" default:"true"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
	} `yaml:"clickhouse"`

	Feeds struct {
		PollInterval   time.Duration `yaml:"poll_interval" default:"60s" validate:"gt=0"`
		RequestTimeout time.Duration `yaml:"request_timeout" default:"10s"`
		FetchLogSize   int64         `yaml:"fetch_log_size" default:"400"`
		Breaker        struct {
			MaxFailures uint32        `yaml:"max_failures" default:"3"`
			OpenTimeout time.Duration `yaml:"open_timeout" default:"30s"`
		} `yaml:"breaker"`
		Finnhub struct {
			APIKey        string  `yaml:"api_key"`
			BaseURL       string  `yaml:"base_url" default:"https://finnhub.io/api/v1"`
			RatePerSecond float64 `yaml:"rate_per_second" default:"5"`
			Stream        struct {
				Enabled        bool          `yaml:"enabled"`
				URL            string        `yaml:"url" default:"wss://ws.finnhub.io"`
				ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
				PingInterval   time.Duration `yaml:"ping_interval" default:"20s"`
				MaxAge         time.Duration `yaml:"max_age" default:"2m"`
			} `yaml:"stream"`
		} `yaml:"finnhub"`
		TwelveData struct {
			APIKey        string  `yaml:"api_key"`
			BaseURL       string  `yaml:"base_url" default:"https://api.twelvedata.com"`
			RatePerSecond float64 `yaml:"rate_per_second" default:"0.13"`
		} `yaml:"twelvedata"`
		FMP struct {
			APIKey        string  `yaml:"api_key"`
			BaseURL       string  `yaml:"base_url" default:"https://financialmodelingprep.com"`
			RatePerSecond float64 `yaml:"rate_per_second" default:"5"`
		} `yaml:"fmp"`
		Stub struct {
			Enabled bool `yaml:"enabled"`
		} `yaml:"stub"`
	} `yaml:"feeds"`

	Bus struct {
		StreamMaxLen    int64         `yaml:"stream_max_len" default:"10000"`
		PriorityMaxLen  int64         `yaml:"priority_max_len" default:"1000"`
		ReadCount       int64         `yaml:"read_count" default:"10"`
		ReadBlock       time.Duration `yaml:"read_block" default:"1s"`
		RetryBackoff    time.Duration `yaml:"retry_backoff" default:"1s"`
		MetricsInterval time.Duration `yaml:"metrics_interval" default:"60s"`
		MetricsTTL      time.Duration `yaml:"metrics_ttl" default:"300s"`
		ShutdownGrace   time.Duration `yaml:"shutdown_grace" default:"10s"`
		DedupSize       int           `yaml:"dedup_size" default:"10000"`
	} `yaml:"bus"`

	Strategies struct {
		HistorySize       int   `yaml:"history_size" default:"100" validate:"gte=20"`
		SignalHistorySize int64 `yaml:"signal_history_size" default:"100"`
	} `yaml:"strategies"`

	Consensus struct {
		Window        int           `yaml:"window" default:"10" validate:"gte=1"`
		MinSignals    int           `yaml:"min_signals" default:"3" validate:"gte=1"`
		Threshold     float64       `yaml:"threshold" default:"0.7" validate:"gt=0,lte=1"`
		IntentTimeout time.Duration `yaml:"intent_timeout" default:"2m"`
	} `yaml:"consensus"`

	Trading struct {
		AutoStart    bool     `yaml:"auto_start" default:"true"`
		OrderQty     int      `yaml:"order_qty" default:"1" validate:"gte=1"`
		TradeLogSize int64    `yaml:"trade_log_size" default:"200"`
		Timezone     string   `yaml:"timezone" default:"America/New_York"`
		Holidays     []string `yaml:"holidays"`
		Venue        struct {
			BaseURL   string        `yaml:"base_url" default:"https://paper-api.alpaca.markets"`
			APIKey    string        `yaml:"api_key"`
			APISecret string        `yaml:"api_secret"`
			Timeout   time.Duration `yaml:"timeout" default:"30s"`
		} `yaml:"venue"`
	} `yaml:"trading"`

	Risk struct {
		DailyNotionalCap     float64 `yaml:"daily_notional_cap" default:"50000" validate:"gte=0"`
		MaxPositionPerTicker int     `yaml:"max_position_per_ticker" default:"5" validate:"gte=0"`
		CooldownMinutes      int     `yaml:"cooldown_minutes" default:"30" validate:"gte=0"`
		MaxTradesPerRun      int     `yaml:"max_trades_per_run" default:"3" validate:"gte=0"`
		EmergencyStopActive  bool    `yaml:"emergency_stop_active"`
	} `yaml:"risk"`

	Deviation struct {
		Interval      time.Duration `yaml:"interval" default:"60s" validate:"gt=0"`
		Threshold     float64       `yaml:"threshold" default:"0.08" validate:"gt=0"`
		Debounce      time.Duration `yaml:"debounce" default:"30m"`
		HistorySize   int64         `yaml:"history_size" default:"500"`
		QualityWindow time.Duration `yaml:"quality_window" default:"24h"`
	} `yaml:"deviation"`
}

var validate = validator.New()

// Default returns a configuration with every default applied.
func Default() (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	return &c, nil
}

// Load reads and parses a YAML configuration file on top of the defaults.
func Load(path string) (*Config, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
// A missing file falls back to defaults so the service can run from env alone.
func LoadWithEnv(path string) (*Config, error) {
	var (
		c   *Config
		err error
	)
	if _, statErr := os.Stat(path); statErr == nil {
		c, err = Load(path)
	} else {
		c, err = Default()
	}
	if err != nil {
		return nil, err
	}

	c.applyEnv()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		c.Environment = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Symbols = splitList(v)
	}
	if v := os.Getenv("STORE_BACKEND"); v != "" {
		c.Store.Backend = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		host, port, ok := strings.Cut(v, ":")
		c.Store.Host = host
		if ok {
			if p, err := strconv.Atoi(port); err == nil {
				c.Store.Port = p
			}
		}
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Store.Password = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("FINNHUB_API_KEY"); v != "" {
		c.Feeds.Finnhub.APIKey = v
	}
	if v := os.Getenv("TWELVEDATA_API_KEY"); v != "" {
		c.Feeds.TwelveData.APIKey = v
	}
	if v := os.Getenv("FMP_API_KEY"); v != "" {
		c.Feeds.FMP.APIKey = v
	}
	if v := os.Getenv("PRICE_STUB_ENABLED"); v != "" {
		c.Feeds.Stub.Enabled = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		c.Trading.Venue.APIKey = v
	}
	if v := os.Getenv("ALPACA_SECRET"); v != "" {
		c.Trading.Venue.APISecret = v
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Consensus.MinSignals > c.Consensus.Window {
		return fmt.Errorf("consensus.min_signals (%d) exceeds consensus.window (%d)", c.Consensus.MinSignals, c.Consensus.Window)
	}
	if _, err := time.LoadLocation(c.Trading.Timezone); err != nil {
		return fmt.Errorf("trading.timezone: %w", err)
	}
	for _, d := range c.Trading.Holidays {
		if _, err := time.Parse("2006-01-02", d); err != nil {
			return fmt.Errorf("trading.holidays: %q is not YYYY-MM-DD", d)
		}
	}
	if !c.anyFeed() {
		return fmt.Errorf("no price feed configured: set an api key or enable feeds.stub")
	}
	return nil
}

func (c *Config) anyFeed() bool {
	return c.Feeds.Finnhub.APIKey != "" ||
		c.Feeds.TwelveData.APIKey != "" ||
		c.Feeds.FMP.APIKey != "" ||
		c.Feeds.Stub.Enabled
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
