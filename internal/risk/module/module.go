// Package module provides the vault risk module orchestrator
package module

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Aidin1998/vaultrisk/internal/risk"
	"github.com/Aidin1998/vaultrisk/internal/risk/audit"
	"github.com/Aidin1998/vaultrisk/internal/risk/cache"
	"github.com/Aidin1998/vaultrisk/internal/risk/config"
	"github.com/Aidin1998/vaultrisk/internal/risk/events"
	"github.com/Aidin1998/vaultrisk/internal/risk/handlers/rest"
	"github.com/Aidin1998/vaultrisk/internal/risk/monitoring"
	"github.com/Aidin1998/vaultrisk/internal/risk/repository"
	"github.com/Aidin1998/vaultrisk/internal/risk/service"
	"github.com/Aidin1998/vaultrisk/internal/ws"
)

const (
	hubShards     = 4
	hubReplaySize = 200
)

// Module represents the vault risk module
type Module struct {
	config *config.Config
	log    *zap.Logger

	// Connections; owned ones are closed on Stop
	db        *gorm.DB
	ownsDB    bool
	redis     redis.UniversalClient
	ownsRedis bool

	// Core services
	monitor *monitoring.EnhancedRiskMonitor
	service *service.VaultService

	// Alert sinks and market data transport
	hub   *ws.Hub
	kafka *events.KafkaPublisher
	feed  *cache.MarketDataFeed

	audit        *audit.Store
	restHandler  *rest.RiskHandler
	auditHandler *audit.Handler

	// Background workers, started in order and stopped in reverse
	workers []service.Worker
}

// ModuleOptions holds module initialization options
type ModuleOptions struct {
	Config *config.Config
	Logger *zap.Logger
	// Database is opened from Config.Database when nil.
	Database *gorm.DB
	// Redis is dialled from Config.Redis when nil and Redis is enabled.
	Redis      redis.UniversalClient
	Registerer prometheus.Registerer
}

// NewModule creates a new risk module instance
func NewModule(opts ModuleOptions) (*Module, error) {
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}

	m := &Module{
		config: opts.Config,
		log:    opts.Logger,
		db:     opts.Database,
		redis:  opts.Redis,
	}
	if err := m.initializeComponents(opts); err != nil {
		m.closeConnections()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}
	return m, nil
}

// initializeComponents initializes all module components
func (m *Module) initializeComponents(opts ModuleOptions) error {
	cfg := m.config

	if m.db == nil {
		db, err := repository.Open(cfg.Database, m.log)
		if err != nil {
			return err
		}
		m.db, m.ownsDB = db, true
	}
	if cfg.Database.AutoMigrate {
		if err := audit.Migrate(m.db); err != nil {
			return err
		}
	}
	m.audit = audit.NewStore(m.db)
	if m.redis == nil && cfg.Redis.Enabled {
		m.redis = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.Redis.Address},
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		m.ownsRedis = true
	}

	monitor, err := monitoring.NewEnhancedRiskMonitor(cfg.Monitor, monitoring.Options{
		Logger:     m.log,
		Registerer: opts.Registerer,
		Alerting:   monitoring.NewAlertingManager(m.log, cfg.Alerting.QueueSize),
	})
	if err != nil {
		return err
	}
	m.monitor = monitor
	m.initializeAlertChannels(opts.Registerer)

	var market service.MarketUpdater
	if m.redis != nil {
		marketCache := cache.NewMarketDataCache(m.redis, m.log, cfg.Redis.KeyPrefix, cfg.Redis.MarketDataTTL)
		m.feed = cache.NewMarketDataFeed(m.redis, marketCache, monitor, cfg.Redis.MarketDataChannel, m.log)
		market = m.feed
		m.workers = append(m.workers, m.feed)
	}

	m.service = service.NewVaultService(
		repository.NewVaultRepository(m.db, m.log),
		repository.NewAgentRepository(m.db),
		repository.NewRuleRepository(m.db),
		repository.NewHistoryRepository(m.db),
		monitor,
		service.Options{
			Logger:       m.log,
			Market:       market,
			HistoryLimit: cfg.Workers.HistoryLimit,
		},
	)

	m.restHandler = rest.NewRiskHandler(m.service, rest.Options{
		Stream:           m.hub,
		Timeout:          cfg.Monitor.Performance.Timeout(),
		EnableSimulation: cfg.Server.EnableSimulation,
		Logger:           m.log,
		Middleware:       []gin.HandlerFunc{audit.Middleware(m.audit, m.log)},
	})
	m.auditHandler = audit.NewHandler(m.audit)

	m.workers = append(m.workers,
		service.NewSweepWorker(m.service, cfg.Workers.SweepInterval, cfg.Workers.SweepBatchLimit, m.log),
		service.NewRetentionWorker(m.service, cfg.Workers.RetentionInterval, m.log),
		service.NewPeriodicWorker("audit-retention-worker", cfg.Workers.RetentionInterval, m.log, m.pruneAudit),
	)
	return nil
}

// initializeAlertChannels registers every configured alert sink on the monitor
func (m *Module) initializeAlertChannels(reg prometheus.Registerer) {
	cfg := m.config
	retries := cfg.Monitor.Performance.RetryAttempts

	m.hub = ws.NewHub(hubShards, hubReplaySize, reg, m.log)
	m.monitor.AddAlertChannel(m.hub)

	if cfg.Alerting.WebhookURL != "" {
		webhook := monitoring.NewWebhookChannel(cfg.Alerting.WebhookURL, "", cfg.Alerting.WebhookHeaders, cfg.Alerting.WebhookTimeout, m.log)
		webhook.RetryCount = retries
		webhook.MinSeverity = risk.AlertSeverity(cfg.Alerting.WebhookMinSeverity)
		m.monitor.AddAlertChannel(webhook)
	}
	if cfg.Kafka.Enabled {
		m.kafka = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.AlertTopic, retries, m.log)
		m.monitor.AddAlertChannel(m.kafka)
	}
	if m.redis != nil && cfg.Redis.AlertStream != "" {
		m.monitor.AddAlertChannel(events.NewRedisStreamPublisher(m.redis, cfg.Redis.AlertStream, cfg.Redis.AlertStreamMaxLen, retries, m.log))
	}
}

func (m *Module) pruneAudit(ctx context.Context) error {
	days := m.config.Monitor.Analytics.DataRetentionDays
	cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour)
	n, err := m.audit.Prune(ctx, cutoff)
	if err == nil && n > 0 {
		m.log.Info("Pruned audit events", zap.Int64("events", n))
	}
	return err
}

// Start starts the monitor and background workers
func (m *Module) Start(ctx context.Context) error {
	m.log.Info("starting risk module")

	m.monitor.Start()
	for _, worker := range m.workers {
		if err := worker.Start(ctx); err != nil {
			m.log.Error("failed to start worker", zap.String("worker", worker.Name()), zap.Error(err))
			return fmt.Errorf("failed to start worker %s: %w", worker.Name(), err)
		}
		m.log.Info("started worker", zap.String("worker", worker.Name()))
	}

	if err := m.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	m.log.Info("risk module started successfully")
	return nil
}

// Stop stops the risk module
func (m *Module) Stop(ctx context.Context) error {
	m.log.Info("stopping risk module")

	for i := len(m.workers) - 1; i >= 0; i-- {
		worker := m.workers[i]
		if err := worker.Stop(ctx); err != nil {
			m.log.Error("failed to stop worker", zap.String("worker", worker.Name()), zap.Error(err))
		} else {
			m.log.Info("stopped worker", zap.String("worker", worker.Name()))
		}
	}
	m.monitor.Stop()
	if err := m.monitor.DrainAlerts(ctx); err != nil {
		m.log.Error("failed to drain alert queues", zap.Error(err))
	}
	m.hub.Close()
	if m.kafka != nil {
		if err := m.kafka.Close(); err != nil {
			m.log.Error("failed to close kafka writer", zap.Error(err))
		}
	}
	m.closeConnections()

	m.log.Info("risk module stopped")
	return nil
}

func (m *Module) closeConnections() {
	if m.ownsRedis && m.redis != nil {
		if err := m.redis.Close(); err != nil {
			m.log.Error("failed to close redis connection", zap.Error(err))
		}
	}
	if m.ownsDB && m.db != nil {
		if sqlDB, err := m.db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				m.log.Error("failed to close database connection", zap.Error(err))
			}
		}
	}
}

// HealthCheck checks the database, Redis and the monitor loop
func (m *Module) HealthCheck(ctx context.Context) error {
	if sqlDB, err := m.db.DB(); err != nil {
		return fmt.Errorf("failed to get database connection: %w", err)
	} else if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if m.redis != nil {
		if err := m.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping failed: %w", err)
		}
	}

	if !m.monitor.IsRunning() {
		return fmt.Errorf("risk monitor is not running")
	}
	return nil
}

// GetService returns the vault service
func (m *Module) GetService() *service.VaultService {
	return m.service
}

// GetMonitor returns the risk monitor
func (m *Module) GetMonitor() *monitoring.EnhancedRiskMonitor {
	return m.monitor
}

// GetRESTHandler returns the REST handler
func (m *Module) GetRESTHandler() *rest.RiskHandler {
	return m.restHandler
}

// GetAuditHandler returns the audit trail REST handler
func (m *Module) GetAuditHandler() *audit.Handler {
	return m.auditHandler
}

// GetConfig returns the module configuration
func (m *Module) GetConfig() *config.Config {
	return m.config
}
