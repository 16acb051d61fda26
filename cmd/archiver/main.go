// Archiver copies verified segments of the gateway's audit chains to
// S3-compatible object storage.
package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/bturcanu/adgateway/pkg/archiver"
	"github.com/bturcanu/adgateway/pkg/audit"
	"github.com/bturcanu/adgateway/pkg/config"
)

type minioUploader struct {
	client *minio.Client
	bucket string
}

func (m minioUploader) Upload(ctx context.Context, key string, body []byte) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

func (m minioUploader) ensureBucket(ctx context.Context) error {
	ok, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("bucket %s: %w", m.bucket, err)
	}
	if ok {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", m.bucket, err)
	}
	return nil
}

func main() {
	config.LoadDotEnv(".")
	cfg := config.LoadArchiver()
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("archiver stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Archiver, log *slog.Logger) error {
	if cfg.AuditDatabaseURL == "" {
		return fmt.Errorf("no audit database configured (set AUDIT_DATABASE_URL or POSTGRES_HOST)")
	}
	pool, err := pgxpool.New(ctx, cfg.AuditDatabaseURL)
	if err != nil {
		return fmt.Errorf("postgres connect: %w", err)
	}
	defer pool.Close()

	store := audit.NewStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return fmt.Errorf("minio init: %w", err)
	}
	up := minioUploader{client: client, bucket: cfg.Bucket}
	if err := up.ensureBucket(ctx); err != nil {
		return err
	}

	svc := archiver.New(store, up, cfg.Prefix)
	sweep(ctx, svc, cfg.Region, log)
	if cfg.RunOnce {
		return nil
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			sweep(ctx, svc, cfg.Region, log)
		}
	}
}

func sweep(ctx context.Context, svc *archiver.Service, region string, log *slog.Logger) {
	var only []string
	if region != "" {
		only = []string{region}
	}
	results, err := svc.ArchiveAll(ctx, only...)
	if err != nil {
		log.Error("archive sweep failed", "error", err)
	}
	for _, r := range results {
		switch {
		case r.Err != nil:
			log.Error("archive region failed", "aws_region", r.Region, "error", r.Err)
		case r.Key != "":
			log.Info("archived audit bundle", "aws_region", r.Region, "key", r.Key)
		}
	}
}
