package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"attestra/internal/audit"
	auditmemory "attestra/internal/audit/store/memory"
	auditpostgres "attestra/internal/audit/store/postgres"
	"attestra/internal/audit/stream"
	"attestra/internal/platform/config"
	"attestra/internal/platform/redis"
	"attestra/internal/tokenization/lease"
	"attestra/internal/tokenization/metadata"
	"attestra/internal/tokenization/ports"
	httptransport "attestra/internal/transport/http"

	"cloud.google.com/go/storage"
	_ "github.com/lib/pq"
)

// infra holds the backing stores chosen from configuration. Each concern
// falls back to an in-process implementation when unconfigured.
type infra struct {
	trail    audit.TrailStore
	lease    ports.Lease
	metadata ports.MetadataStore
	health   map[string]httptransport.HealthCheck

	publisher *stream.Publisher
	closers   []func() error
}

func buildInfra(ctx context.Context, cfg config.Config, log *slog.Logger) (*infra, error) {
	in := &infra{health: make(map[string]httptransport.HealthCheck)}
	if err := in.initTrail(ctx, cfg, log); err != nil {
		in.close(log)
		return nil, err
	}
	if err := in.initLease(ctx, cfg, log); err != nil {
		in.close(log)
		return nil, err
	}
	if err := in.initMetadata(ctx, cfg, log); err != nil {
		in.close(log)
		return nil, err
	}
	return in, nil
}

func (in *infra) initTrail(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	if cfg.Postgres.DSN == "" {
		log.Warn("DATABASE_URL not set, audit trail is in memory")
		in.trail = auditmemory.NewInMemoryStore()
	} else {
		db, err := sql.Open("postgres", cfg.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		in.closers = append(in.closers, db.Close)
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		store := auditpostgres.New(db)
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate audit schema: %w", err)
		}
		in.trail = store
		in.health["postgres"] = db.PingContext
		log.Info("audit trail backed by postgres")
	}

	if len(cfg.Kafka.Brokers) == 0 {
		return nil
	}
	sink, err := stream.NewKafkaSink(ctx, cfg.Kafka.Brokers, cfg.Kafka.AuditTopic)
	if err != nil {
		return fmt.Errorf("create audit stream: %w", err)
	}
	in.closers = append(in.closers, func() error { sink.Close(); return nil })
	in.publisher = stream.NewPublisher(in.trail, sink,
		stream.WithLogger(log),
		stream.WithMetrics(stream.NewMetrics()),
	)
	in.trail = in.publisher
	in.health["kafka"] = sink.Ping
	log.Info("audit entries streamed to kafka", "topic", cfg.Kafka.AuditTopic)
	return nil
}

func (in *infra) initLease(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	client, err := redis.Open(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if client == nil {
		in.lease = lease.NewInMemoryLease()
		return nil
	}
	in.closers = append(in.closers, client.Close)
	in.lease = lease.NewRedisLease(client, cfg.Redis.LeaseTTL, log)
	in.health["redis"] = redis.Health(client)
	log.Info("mint lease backed by redis")
	return nil
}

func (in *infra) initMetadata(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	if cfg.Metadata.GCSBucket == "" {
		in.metadata = metadata.NewInMemoryStore()
		return nil
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("create gcs client: %w", err)
	}
	in.closers = append(in.closers, client.Close)
	in.metadata = metadata.NewGCSStore(client, cfg.Metadata.GCSBucket, "tokens/")
	log.Info("token metadata stored in gcs", "bucket", cfg.Metadata.GCSBucket)
	return nil
}

// flush drains the audit stream before shutdown.
func (in *infra) flush(ctx context.Context) error {
	if in.publisher == nil {
		return nil
	}
	return in.publisher.Close(ctx)
}

func (in *infra) close(log *slog.Logger) {
	for i := len(in.closers) - 1; i >= 0; i-- {
		if err := in.closers[i](); err != nil {
			log.Warn("failed to close resource", "error", err)
		}
	}
}
