package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/JoeShih716/go-rinha-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-rinha-ledger/pkg/kafka"
	"github.com/JoeShih716/go-rinha-ledger/pkg/logger"
	"github.com/JoeShih716/go-rinha-ledger/pkg/mysql"
	"github.com/JoeShih716/go-rinha-ledger/pkg/postgres"
	"github.com/JoeShih716/go-rinha-ledger/pkg/redis"
)

// LedgerType 選擇使用哪種帳本實作
type LedgerType string

const (
	// 資料庫悲觀鎖
	LedgerMySQL    LedgerType = "mysql"
	LedgerPostgres LedgerType = "postgres"
	// Redis Lua script
	LedgerRedis LedgerType = "redis"
	// 記憶體: 每個客戶一把鎖
	LedgerMutex LedgerType = "mutex"
	// 記憶體: 每個客戶一個 goroutine (LMAX 風格)
	LedgerActor LedgerType = "actor"
)

// envPrefix 環境變數前綴
const envPrefix = "LEDGER_"

// Config 服務的完整配置
type Config struct {
	HTTP     HTTPConfig      `yaml:"http"`
	GRPC     GRPCConfig      `yaml:"grpc"`
	Log      logger.Config   `yaml:"log"`
	Ledger   LedgerConfig    `yaml:"ledger"`
	Clients  []domain.Client `yaml:"clients"`
	MySQL    mysql.Config    `yaml:"mysql"`
	Postgres postgres.Config `yaml:"postgres"`
	Redis    redis.Config    `yaml:"redis"`
	Kafka    kafka.Config    `yaml:"kafka"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
	// MaxConcurrency 同時處理的請求上限，0 表示不限制
	MaxConcurrency int `yaml:"max_concurrency"`
	// AcquireTimeout 等待處理名額的時間，逾時回 503
	AcquireTimeout  time.Duration `yaml:"acquire_timeout"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type GRPCConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type LedgerConfig struct {
	Type LedgerType `yaml:"type"`
	// OperationTimeout 單次操作的預設逾時 (呼叫端沒有 deadline 時)
	OperationTimeout time.Duration `yaml:"operation_timeout"`
	// WALPath 記憶體帳本的 WAL 檔案，空字串表示不啟用
	WALPath string `yaml:"wal_path"`
}

// DefaultClients 預設開通的客戶 (id 1..5)
func DefaultClients() []domain.Client {
	return []domain.Client{
		{ID: 1, Limit: 100000},
		{ID: 2, Limit: 80000},
		{ID: 3, Limit: 1000000},
		{ID: 4, Limit: 10000000},
		{ID: 5, Limit: 500000},
	}
}

// Load 載入設定: YAML 檔 -> .env / 環境變數覆寫 -> 預設值 -> 驗證
//
// 參數:
//
//	path: YAML 設定檔路徑，空字串表示只使用環境變數與預設值
//	envFiles: 額外的 .env 檔 (不存在時忽略)，未指定時嘗試載入 ".env"
//
// 回傳:
//
//	*Config: 設定
//	error: 讀取、解析或驗證失敗
func Load(path string, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		// godotenv 不會覆蓋已存在的環境變數
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", f, err)
		}
	}

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults 補全未設定的欄位
func (c *Config) SetDefaults() {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":9999"
	}
	if c.HTTP.AcquireTimeout == 0 {
		c.HTTP.AcquireTimeout = 2 * time.Second
	}
	if c.HTTP.ReadTimeout == 0 {
		c.HTTP.ReadTimeout = 5 * time.Second
	}
	if c.HTTP.WriteTimeout == 0 {
		c.HTTP.WriteTimeout = 5 * time.Second
	}
	if c.HTTP.ShutdownTimeout == 0 {
		c.HTTP.ShutdownTimeout = 10 * time.Second
	}
	if c.GRPC.Addr == "" {
		c.GRPC.Addr = ":50051"
	}
	if c.Ledger.Type == "" {
		c.Ledger.Type = LedgerPostgres
	}
	if c.Ledger.OperationTimeout == 0 {
		c.Ledger.OperationTimeout = 2 * time.Second
	}
	if len(c.Clients) == 0 {
		c.Clients = DefaultClients()
	}
	c.MySQL.SetDefaults()
	c.Postgres.SetDefaults()
	c.Redis.SetDefaults()
}

// Validate 檢查設定是否合法
func (c *Config) Validate() error {
	switch c.Ledger.Type {
	case LedgerMySQL, LedgerPostgres, LedgerRedis, LedgerMutex, LedgerActor:
	default:
		return fmt.Errorf("unknown ledger type %q", c.Ledger.Type)
	}
	if c.Ledger.OperationTimeout < 0 {
		return fmt.Errorf("ledger.operation_timeout must not be negative")
	}
	if c.HTTP.MaxConcurrency < 0 {
		return fmt.Errorf("http.max_concurrency must not be negative")
	}

	seen := make(map[int64]struct{}, len(c.Clients))
	for _, cl := range c.Clients {
		if cl.ID <= 0 {
			return fmt.Errorf("client id must be positive, got %d", cl.ID)
		}
		if _, dup := seen[cl.ID]; dup {
			return fmt.Errorf("duplicate client id %d", cl.ID)
		}
		seen[cl.ID] = struct{}{}
		if cl.Limit < 0 {
			return fmt.Errorf("client %d: limit must not be negative", cl.ID)
		}
		if cl.Balance < -cl.Limit {
			return fmt.Errorf("client %d: balance %d below limit %d", cl.ID, cl.Balance, cl.Limit)
		}
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.enabled requires kafka.brokers")
	}
	return nil
}

// ClientMap 轉成記憶體帳本使用的 map
func (c *Config) ClientMap() map[int64]*domain.Client {
	out := make(map[int64]*domain.Client, len(c.Clients))
	for _, cl := range c.Clients {
		out[cl.ID] = domain.NewClient(cl.ID, cl.Limit, cl.Balance)
	}
	return out
}

// applyEnv 以 LEDGER_* 環境變數覆寫設定
func (c *Config) applyEnv() error {
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			*dst = v
		}
	}
	var errs []error
	integer := func(name string, dst *int) {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = b
		}
	}

	var ledgerType string
	str("TYPE", &ledgerType)
	if ledgerType != "" {
		c.Ledger.Type = LedgerType(strings.ToLower(ledgerType))
	}
	duration("OPERATION_TIMEOUT", &c.Ledger.OperationTimeout)
	str("WAL_PATH", &c.Ledger.WALPath)

	str("HTTP_ADDR", &c.HTTP.Addr)
	integer("HTTP_MAX_CONCURRENCY", &c.HTTP.MaxConcurrency)
	duration("HTTP_ACQUIRE_TIMEOUT", &c.HTTP.AcquireTimeout)
	boolean("GRPC_ENABLED", &c.GRPC.Enabled)
	str("GRPC_ADDR", &c.GRPC.Addr)

	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	str("MYSQL_HOST", &c.MySQL.Host)
	integer("MYSQL_PORT", &c.MySQL.Port)
	str("MYSQL_USER", &c.MySQL.User)
	str("MYSQL_PASSWORD", &c.MySQL.Password)
	str("MYSQL_DBNAME", &c.MySQL.DBName)

	str("POSTGRES_URL", &c.Postgres.URL)
	str("POSTGRES_HOST", &c.Postgres.Host)
	integer("POSTGRES_PORT", &c.Postgres.Port)
	str("POSTGRES_USER", &c.Postgres.User)
	str("POSTGRES_PASSWORD", &c.Postgres.Password)
	str("POSTGRES_DBNAME", &c.Postgres.DBName)
	integer("POSTGRES_MAX_OPEN_CONNS", &c.Postgres.MaxOpenConns)

	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)

	boolean("KAFKA_ENABLED", &c.Kafka.Enabled)
	str("KAFKA_TOPIC", &c.Kafka.Topic)
	if v, ok := os.LookupEnv(envPrefix + "KAFKA_BROKERS"); ok {
		c.Kafka.Brokers = splitAndTrim(v, ",")
	}

	return errors.Join(errs...)
}

func splitAndTrim(s, sep string) []string {
	var out []string
	for _, p := range strings.Split(s, sep) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
