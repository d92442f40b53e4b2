// Package bootstrap assembles the submission agent and its collaborators from
// configuration. Both the HTTP server and the CLI start from here.
package bootstrap

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/app/notify"
	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/app/portal"
	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/app/worker"
	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/domain/repository"
	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/platform/config"
	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/platform/database"
	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/platform/queue"
)

type Components struct {
	Agent    *worker.SubmissionAgent
	Registry *portal.Registry
	Store    repository.JobStore
	Audit    repository.AuditLog

	// Only set with the postgres store backend.
	RFPs      repository.RFPRepository
	Documents repository.BidDocumentRepository

	closers []func()
}

// Close releases database and Redis connections in reverse order.
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

// AgentConfig maps the scheduler settings out of cfg.
func AgentConfig(cfg *config.Config) worker.AgentConfig {
	return worker.AgentConfig{
		MaxConcurrentSubmissions: cfg.MaxConcurrentSubmissions,
		MaxRetries:               cfg.MaxRetries,
		SubmitTimeout:            cfg.SubmitTimeout,
		VerifyTimeout:            cfg.VerifyTimeout,
		RetryBackoffBase:         cfg.RetryBackoffBase,
		PollInterval:             cfg.PollInterval,
	}
}

func Build(ctx context.Context, cfg *config.Config) (*Components, error) {
	c := &Components{}
	if err := c.openStores(ctx, cfg); err != nil {
		c.Close()
		return nil, err
	}

	var rdb *redis.Client
	if queue.NeedsRedis(cfg) {
		client, err := queue.ConnectRedis(ctx, cfg)
		if err != nil {
			c.Close()
			return nil, err
		}
		rdb = client
		c.closers = append(c.closers, queue.CloseRedis)
	}

	registry, err := portal.BuildRegistry(cfg)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Registry = registry

	var opts []worker.Option
	switch cfg.LockBackend {
	case config.LockBackendRedis:
		ttl := time.Duration(cfg.LockTTLSeconds) * time.Second
		opts = append(opts, worker.WithLocker(worker.NewRedisLocker(rdb, cfg.LockKeyPrefix, ttl)))
		log.Printf("INFO: Using Redis job locks (prefix %q, ttl %s)", cfg.LockKeyPrefix, ttl)
	case config.LockBackendFile:
		locker, err := worker.NewFileLocker(cfg.LocksDir())
		if err != nil {
			c.Close()
			return nil, err
		}
		opts = append(opts, worker.WithLocker(locker))
		log.Printf("INFO: Using file job locks under %s", cfg.LocksDir())
	default:
		log.Println("WARN: In-process job locks only; do not run a second agent against this store")
	}

	c.Agent = worker.NewSubmissionAgent(AgentConfig(cfg), registry, c.Store, c.Audit, notify.FromConfig(cfg, rdb), opts...)
	return c, nil
}

func (c *Components) openStores(ctx context.Context, cfg *config.Config) error {
	switch cfg.StoreBackend {
	case config.StoreBackendPostgres:
		db, err := database.Connect(ctx, cfg.DBConnStr)
		if err != nil {
			return err
		}
		c.closers = append(c.closers, database.Close)
		if err := repository.EnsureSubmissionSchema(ctx, db); err != nil {
			return fmt.Errorf("ensure submission schema: %w", err)
		}
		c.Store = repository.NewPgJobStore(db)
		c.Audit = repository.NewPgAuditLog(db)
		c.RFPs = repository.NewPgRFPRepository(db)
		c.Documents = repository.NewPgBidDocumentRepository(db)
		log.Println("INFO: Using PostgreSQL job store")
	default:
		store, err := repository.NewFileJobStore(cfg.JobsDir())
		if err != nil {
			return err
		}
		audit, err := repository.NewFileAuditLog(cfg.AuditDir())
		if err != nil {
			return err
		}
		c.Store = store
		c.Audit = audit
		log.Printf("INFO: Using file job store under %s", cfg.DataDir)
	}
	return nil
}
