package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"triarb/internal/api"
	"triarb/internal/api/handlers"
	"triarb/internal/bot"
	"triarb/internal/config"
	"triarb/internal/exchange"
	"triarb/internal/market"
	"triarb/internal/precision"
	"triarb/internal/repository"
	"triarb/pkg/utils"

	_ "github.com/lib/pq"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := utils.InitLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Клиент биржи
	client := exchange.NewBybit(
		cfg.Exchange.APIKey,
		cfg.Exchange.APISecret,
		cfg.Exchange.BaseURL(),
		cfg.Exchange.WSURL(),
		logger,
	)
	defer client.Close()

	// Рыночное состояние и обновление
	store := market.NewStore()
	refresher := market.NewRefresher(client, store, cfg, logger)

	// Точность инструментов с дисковым кэшем
	pm := precision.NewManager(client, cfg.Bot.PrecisionCache, logger)

	scanner := bot.NewScanner(
		cfg.Bot.FeeRate,
		cfg.Bot.MinProfit,
		cfg.Bot.OrderSize,
		cfg.Bot.MaxTriangles,
		nil,
	)
	executor := bot.NewExecutor(client, pm, store, cfg, logger)

	// Журнал сделок опционален: без БД бот работает только с логами
	var sink bot.ExecutionSink
	var executionStore handlers.ExecutionStore
	if cfg.Database.Enabled() {
		db, err := initDatabase(cfg)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer db.Close()

		repo := repository.NewExecutionRepository(db)
		if err := repo.InitSchema(ctx); err != nil {
			logger.Fatal("failed to init database schema", zap.Error(err))
		}
		sink = repo
		executionStore = repo
		logger.Info("trade journal enabled", zap.String("host", cfg.Database.Host))
	}

	engine := bot.NewEngine(cfg, store, refresher, pm, scanner, executor, sink, logger)

	// WebSocket тикеры между REST-обновлениями держат цены свежими
	go subscribeTickers(client, store, logger)

	// HTTP сервер мониторинга
	router := api.SetupRoutes(&api.Dependencies{
		Engine:     engine,
		Executions: executionStore,
		Logger:     logger,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("monitoring server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("monitoring server failed", zap.Error(err))
		}
	}()

	// Движок в отдельной горутине, main ждёт сигнала
	engineDone := make(chan error, 1)
	go func() {
		engineDone <- engine.Run(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
		cancel()
		<-engineDone
	case err := <-engineDone:
		if err != nil && err != context.Canceled {
			logger.Error("engine stopped with error", zap.Error(err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("monitoring server forced to shutdown", zap.Error(err))
	}

	logger.Info("bot exited")
}

// subscribeTickers подписывает WebSocket поток тикеров на снапшот рынка
// Подписка возможна только после первого REST-снапшота, ждём его
func subscribeTickers(client exchange.Exchange, store *market.Store, logger *zap.Logger) {
	var symbols []string
	for i := 0; i < 60; i++ {
		snapshot := store.Pairs()
		if len(snapshot.Pairs) > 0 {
			symbols = make([]string, 0, len(snapshot.Pairs))
			for _, p := range snapshot.Pairs {
				symbols = append(symbols, p.Symbol)
			}
			break
		}
		time.Sleep(time.Second)
	}

	if len(symbols) == 0 {
		logger.Warn("no market snapshot after bootstrap, websocket tickers disabled")
		return
	}

	err := client.SubscribeTickers(symbols, func(t *exchange.Ticker) {
		store.ApplyTicker(t)
	})
	if err != nil {
		logger.Warn("websocket subscription failed, falling back to REST only", zap.Error(err))
		return
	}

	logger.Info("websocket tickers subscribed", zap.Int("symbols", len(symbols)))
}

// initDatabase создает подключение к базе данных
func initDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
