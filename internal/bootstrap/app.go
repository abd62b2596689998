package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"infosec-rag/internal/app"
	"infosec-rag/internal/cache"
	"infosec-rag/internal/config"
	"infosec-rag/internal/metrics"
	mysqlClient "infosec-rag/internal/platform/mysql"
	rabbitmqClient "infosec-rag/internal/platform/rabbitmq"
	redisClient "infosec-rag/internal/platform/redis"
	"infosec-rag/internal/repository"
	"infosec-rag/internal/worker"
)

type App struct {
	Config *config.Config
	MySQL  *gorm.DB
	Redis  *redis.Client
	MQConn *amqp.Connection

	Publisher      *rabbitmqClient.QueryEventPublisher
	QueryLogWorker *worker.QueryLogWorker
	Metrics        *metrics.Metrics

	RAG  *app.RAGService
	Auth *app.AuthService

	StartedAt time.Time
}

// New connects every enabled backend and builds the services. The RAG
// pipeline itself is loaded lazily on the first query (or by Warmup).
func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	a := &App{Config: cfg, StartedAt: time.Now()}

	if cfg.MySQL.Enabled {
		if a.MySQL, err = mysqlClient.New(ctx, cfg.MySQLDSN()); err != nil {
			return nil, a.abort(err)
		}
		a.Auth = app.NewAuthService(
			repository.NewAPIClientRepository(a.MySQL),
			cfg.Auth.JWTSecret,
			time.Duration(cfg.Auth.JWTExpireMinute)*time.Minute,
		)
	}

	if cfg.Redis.Enabled {
		if a.Redis, err = redisClient.New(ctx, cfg.Redis); err != nil {
			return nil, a.abort(err)
		}
	}

	var publisher app.QueryEventPublisher
	if cfg.RabbitMQ.Enabled {
		if a.MQConn, err = rabbitmqClient.New(ctx, cfg.RabbitMQ.URL, cfg.RabbitMQ.QueryLogQueue); err != nil {
			return nil, a.abort(err)
		}
		a.Publisher = rabbitmqClient.NewQueryEventPublisher(a.MQConn, cfg.RabbitMQ.QueryLogQueue)
		publisher = a.Publisher

		if a.MySQL != nil {
			a.QueryLogWorker = worker.NewQueryLogWorker(a.MQConn, repository.NewQueryLogRepository(a.MySQL), cfg.RabbitMQ.QueryLogQueue)
			if err := a.QueryLogWorker.Start(ctx); err != nil {
				return nil, a.abort(fmt.Errorf("start query log worker failed: %w", err))
			}
		} else {
			log.Printf("mysql disabled: query events are published but not persisted by this process")
		}
	}

	var observer app.QueryObserver
	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New()
		observer = a.Metrics
	}

	var embedder QueryEmbedder = NewEmbedder(cfg)
	if a.Redis != nil {
		embedder = cache.NewEmbeddingCache(embedder, a.Redis, time.Duration(cfg.Embedding.CacheTTLSeconds)*time.Second)
	}
	a.RAG = app.NewRAGService(NewPipelineBuilder(cfg, embedder, NewLLM(cfg)), Settings(cfg), publisher, observer)

	return a, nil
}

// Warmup loads the pipeline ahead of the first query. A failure is logged,
// not fatal: the next query retries the load.
func (a *App) Warmup(ctx context.Context) {
	if err := a.RAG.Init(ctx); err != nil {
		log.Printf("rag warmup failed: %v", err)
	}
}

// Probes returns a liveness check per connected backend.
func (a *App) Probes() map[string]func(context.Context) error {
	probes := make(map[string]func(context.Context) error)
	if a.MySQL != nil {
		probes["mysql"] = func(ctx context.Context) error {
			sqlDB, err := a.MySQL.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}
	}
	if a.Redis != nil {
		probes["redis"] = func(ctx context.Context) error {
			return a.Redis.Ping(ctx).Err()
		}
	}
	if a.MQConn != nil {
		probes["rabbitmq"] = func(context.Context) error {
			if a.MQConn.IsClosed() {
				return errors.New("connection closed")
			}
			return nil
		}
	}
	return probes
}

func (a *App) abort(err error) error {
	if closeErr := a.Close(); closeErr != nil {
		log.Printf("cleanup after failed start: %v", closeErr)
	}
	return err
}

func (a *App) Close() error {
	var closeErr error
	if a.QueryLogWorker != nil {
		a.QueryLogWorker.Close()
	}
	if a.Publisher != nil {
		if err := a.Publisher.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MQConn != nil && !a.MQConn.IsClosed() {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MySQL != nil {
		if sqlDB, err := a.MySQL.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	return closeErr
}
