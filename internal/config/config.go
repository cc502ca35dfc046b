package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Exchange ExchangeConfig
	Bot      BotConfig
	Filters  FilterConfig
	Database DatabaseConfig
	Server   ServerConfig
	Logging  LoggingConfig
}

// ExchangeConfig - доступ к бирже
type ExchangeConfig struct {
	APIKey    string
	APISecret string
	Testnet   bool

	RequestTimeout time.Duration
	MaxRetries     int
	RetryBackoff   time.Duration
}

// BotConfig - торговые параметры
type BotConfig struct {
	DryRun    bool    // симуляция: ордера не отправляются на биржу
	OrderSize float64 // размер сделки в стартовой валюте
	MaxTrades int     // остановиться после N успешных сделок (0 = без лимита)

	MinProfit    float64 // минимальная чистая доля прибыли для входа (0.0005 = 0.05%)
	FeeRate      float64 // комиссия тейкера за ногу (0.001 = 0.1%)
	MaxTriangles int     // максимум треугольников на якорь за один скан
	Anchors      []string

	// Независимые таймеры, не путать между собой
	ScanInterval   time.Duration // каденс цикла скан/исполнение
	PriceRefresh   time.Duration // обновление пар и тикеров
	BalanceRefresh time.Duration // обновление балансов
	OrderTimeout   time.Duration // ожидание исполнения одного ордера
	ExecDeadline   time.Duration // бюджет времени на всё исполнение (3 ноги)

	MaxConcurrent  int    // максимум одновременных исполнений
	PrecisionCache string // путь к файлу кэша точности
}

// FilterConfig - фильтры ликвидности для сканера
type FilterConfig struct {
	MinVolume24hUSD  float64 // минимальный 24h оборот пары в USD
	MaxSpreadPercent float64 // максимальный bid/ask спред в %
	MinBidSizeUSD    float64 // минимальный видимый bid size в USD
	MinAskSizeUSD    float64 // минимальный видимый ask size в USD
	ExcludedAssets   []string
}

// DatabaseConfig - настройки подключения к БД для журнала сделок
// Пустой Host отключает персистентность: бот работает только с логами
type DatabaseConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// ServerConfig - настройки HTTP сервера мониторинга
type ServerConfig struct {
	Port int
	Host string
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
}

// defaultExcludedAssets - валюты, исключённые из арбитража по умолчанию
// (делистинг, рухнувшие стейблкоины, неликвидные токены)
var defaultExcludedAssets = []string{
	"USDR", "BUSD", "UST", "LUNA", "FTT", "CEL", "LUNC", "USTC",
	"TRY", "BRL",
	"RDNT", "MOVR", "HOOK", "TST", "5IRE", "ERTHA", "GUMMY",
	"PIP", "WWY", "XETA", "VRTX", "TAP", "KCAL", "VPR",
	"COT", "MOJO", "TENET", "HVH", "BRAWL", "THN", "PI",
}

// Load загружает конфигурацию из переменных окружения (.env поддерживается)
func Load() (*Config, error) {
	// .env необязателен, в production переменные приходят из окружения
	_ = godotenv.Load()

	cfg := &Config{
		Exchange: ExchangeConfig{
			APIKey:         getEnv("BYBIT_API_KEY", ""),
			APISecret:      getEnv("BYBIT_API_SECRET", ""),
			Testnet:        getEnvAsBool("BYBIT_TESTNET", false),
			RequestTimeout: getEnvAsDuration("REQUEST_TIMEOUT", 30*time.Second),
			MaxRetries:     getEnvAsInt("MAX_RETRIES", 3),
			RetryBackoff:   getEnvAsDuration("RETRY_BACKOFF", 500*time.Millisecond),
		},
		Bot: BotConfig{
			DryRun:    getEnvAsBool("DRY_RUN", true),
			OrderSize: getEnvAsFloat("ORDER_SIZE", 100.0),
			MaxTrades: getEnvAsInt("MAX_TRADES", 0),

			MinProfit:    getEnvAsFloat("MIN_PROFIT_THRESHOLD", 0.0005),
			FeeRate:      getEnvAsFloat("TRADING_FEE_RATE", 0.001),
			MaxTriangles: getEnvAsInt("MAX_TRIANGLES_TO_SCAN", 2000),
			Anchors:      getEnvAsList("ANCHOR_CURRENCIES", []string{"USDT", "USDC", "BTC", "ETH"}),

			ScanInterval:   getEnvAsDuration("SCAN_INTERVAL", 100*time.Millisecond),
			PriceRefresh:   getEnvAsDuration("PRICE_REFRESH_INTERVAL", 2*time.Second),
			BalanceRefresh: getEnvAsDuration("BALANCE_REFRESH_INTERVAL", 1*time.Minute),
			OrderTimeout:   getEnvAsDuration("ORDER_TIMEOUT", 30*time.Second),
			ExecDeadline:   getEnvAsDuration("EXECUTION_DEADLINE", 10*time.Second),

			MaxConcurrent:  getEnvAsInt("MAX_CONCURRENT_EXECUTIONS", 1),
			PrecisionCache: getEnv("PRECISION_CACHE_FILE", "precision_cache.json"),
		},
		Filters: FilterConfig{
			MinVolume24hUSD:  getEnvAsFloat("MIN_VOLUME_24H_USD", 10000.0),
			MaxSpreadPercent: getEnvAsFloat("MAX_SPREAD_PERCENT", 1.0),
			MinBidSizeUSD:    getEnvAsFloat("MIN_BID_SIZE_USD", 100.0),
			MinAskSizeUSD:    getEnvAsFloat("MIN_ASK_SIZE_USD", 100.0),
			ExcludedAssets:   getEnvAsList("EXCLUDED_ASSETS", defaultExcludedAssets),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", ""),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "triarb"),
			User:     getEnv("DB_USER", "triarb"),
			Password: getEnv("DB_PASSWORD", ""),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Server: ServerConfig{
			Port: getEnvAsInt("SERVER_PORT", 8080),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.validateCredentials(); err != nil {
		return nil, err
	}

	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateCredentials проверяет параметры доступа к бирже
// В dry-run ключи не обязательны: публичные endpoints работают без подписи
func (c *Config) validateCredentials() error {
	if c.Bot.DryRun {
		return nil
	}

	if c.Exchange.APIKey == "" {
		return fmt.Errorf("BYBIT_API_KEY is required for live trading (set DRY_RUN=true to run without keys)")
	}
	if c.Exchange.APISecret == "" {
		return fmt.Errorf("BYBIT_API_SECRET is required for live trading")
	}

	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Bot.OrderSize <= 0 {
		return fmt.Errorf("ORDER_SIZE must be positive, got %f", c.Bot.OrderSize)
	}

	if c.Bot.FeeRate < 0 || c.Bot.FeeRate >= 1 {
		return fmt.Errorf("TRADING_FEE_RATE must be in [0, 1), got %f", c.Bot.FeeRate)
	}

	if c.Bot.MinProfit < 0 {
		return fmt.Errorf("MIN_PROFIT_THRESHOLD cannot be negative, got %f", c.Bot.MinProfit)
	}

	if c.Bot.MaxTriangles <= 0 {
		return fmt.Errorf("MAX_TRIANGLES_TO_SCAN must be positive, got %d", c.Bot.MaxTriangles)
	}

	if len(c.Bot.Anchors) == 0 {
		return fmt.Errorf("ANCHOR_CURRENCIES cannot be empty")
	}

	if c.Exchange.MaxRetries < 0 || c.Exchange.MaxRetries > 10 {
		return fmt.Errorf("MAX_RETRIES must be between 0 and 10, got %d", c.Exchange.MaxRetries)
	}

	if c.Bot.OrderTimeout <= 0 {
		return fmt.Errorf("ORDER_TIMEOUT must be positive, got %v", c.Bot.OrderTimeout)
	}

	if c.Bot.ExecDeadline <= 0 {
		return fmt.Errorf("EXECUTION_DEADLINE must be positive, got %v", c.Bot.ExecDeadline)
	}

	if c.Bot.ScanInterval <= 0 || c.Bot.PriceRefresh <= 0 || c.Bot.BalanceRefresh <= 0 {
		return fmt.Errorf("refresh intervals must be positive")
	}

	if c.Bot.MaxConcurrent < 1 {
		return fmt.Errorf("MAX_CONCURRENT_EXECUTIONS must be at least 1, got %d", c.Bot.MaxConcurrent)
	}

	return nil
}

// BaseURL возвращает REST endpoint биржи
func (e ExchangeConfig) BaseURL() string {
	if e.Testnet {
		return "https://api-testnet.bybit.com"
	}
	return "https://api.bybit.com"
}

// WSURL возвращает публичный WebSocket endpoint спот-рынка
func (e ExchangeConfig) WSURL() string {
	if e.Testnet {
		return "wss://stream-testnet.bybit.com/v5/public/spot"
	}
	return "wss://stream.bybit.com/v5/public/spot"
}

// Enabled сообщает, настроена ли персистентность
func (d DatabaseConfig) Enabled() bool {
	return d.Host != ""
}

// DSN возвращает строку подключения PostgreSQL
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		d.Host, d.Port, d.Name, d.User, d.Password, d.SSLMode)
}

// IsExcluded проверяет, входит ли валюта в список исключённых
func (f FilterConfig) IsExcluded(asset string) bool {
	upper := strings.ToUpper(asset)
	for _, a := range f.ExcludedAssets {
		if upper == strings.ToUpper(a) {
			return true
		}
	}
	return false
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, strings.ToUpper(trimmed))
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
