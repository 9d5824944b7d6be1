package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"

	"github.com/bigkaa/goartstore/archive-module/internal/api/handlers"
	"github.com/bigkaa/goartstore/archive-module/internal/blob"
	"github.com/bigkaa/goartstore/archive-module/internal/blob/folder"
	"github.com/bigkaa/goartstore/archive-module/internal/blob/s3store"
	"github.com/bigkaa/goartstore/archive-module/internal/config"
	"github.com/bigkaa/goartstore/archive-module/internal/credential"
	"github.com/bigkaa/goartstore/archive-module/internal/database"
	"github.com/bigkaa/goartstore/archive-module/internal/metadata"
	"github.com/bigkaa/goartstore/archive-module/internal/metadata/cached"
	"github.com/bigkaa/goartstore/archive-module/internal/metadata/jsonstore"
	"github.com/bigkaa/goartstore/archive-module/internal/metadata/pgstore"
	"github.com/bigkaa/goartstore/archive-module/internal/metadata/sqlitestore"
)

const (
	// batchBodyFiles — сколько файлов максимального размера допускается в одном пакете изменений.
	batchBodyFiles = 16
	// batchBodyOverhead — запас на JSON операций и заголовки multipart.
	batchBodyOverhead = 1 << 20
	// replayCacheSize — ёмкость in-memory списка использованных токенов.
	replayCacheSize = 100_000
)

// metaStore — хранилище метаданных с полным перечнем для сверки.
type metaStore interface {
	metadata.Store
	metadata.Lister
}

// blobStore — хранилище содержимого с перечнем и проверкой доступности.
type blobStore interface {
	blob.Store
	blob.Lister
	Ping(ctx context.Context) error
}

// app — собранные хранилища и их проверки готовности.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	meta  metaStore
	blobs blobStore
	// pool — пул PostgreSQL (nil для других бэкендов метаданных)
	pool *pgxpool.Pool

	checkers []handlers.ReadinessChecker
	closers  []func()
}

// buildApp открывает хранилища метаданных и содержимого по конфигурации.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	if err := a.openMetadata(ctx); err != nil {
		a.Close()
		return nil, err
	}

	if cfg.CacheSize > 0 {
		a.meta = cached.New(a.meta, cfg.CacheSize, cfg.CacheTTL)
		logger.Info("Кэш метаданных включён",
			slog.Int("size", cfg.CacheSize),
			slog.String("ttl", cfg.CacheTTL.String()),
		)
	}

	gate := blob.NewGate(a.meta, cfg.ReleaseDelay, time.Now)
	if err := a.openBlobs(ctx, gate); err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

func (a *app) openMetadata(ctx context.Context) error {
	switch a.cfg.MetadataBackend {
	case config.MetadataPostgres:
		pool, err := database.Connect(ctx, a.cfg, a.logger)
		if err != nil {
			return fmt.Errorf("подключение к PostgreSQL: %w", err)
		}
		a.pool = pool
		a.closers = append(a.closers, pool.Close)
		a.meta = pgstore.New(pool, a.logger)
		a.checkers = append(a.checkers, database.NewReadinessChecker(pool))

	case config.MetadataSQLite:
		store, err := sqlitestore.Open(ctx, a.cfg.SQLitePath, a.logger)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() { _ = store.Close() })
		a.meta = store
		a.checkers = append(a.checkers, handlers.NewPingChecker("sqlite", true, store.Ping))

	case config.MetadataJSON:
		fs := afero.NewOsFs()
		store, err := jsonstore.New(fs, a.cfg.MetadataPath, a.logger)
		if err != nil {
			return err
		}
		a.meta = store
		dir := filepath.Dir(store.Path())
		a.checkers = append(a.checkers, handlers.NewPingChecker("metadata_json", true, func(context.Context) error {
			ok, err := afero.DirExists(fs, dir)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("директория %s отсутствует", dir)
			}
			return nil
		}))

	default:
		return fmt.Errorf("неизвестный бэкенд метаданных %q", a.cfg.MetadataBackend)
	}

	a.logger.Info("Хранилище метаданных открыто", slog.String("backend", a.cfg.MetadataBackend))
	return nil
}

func (a *app) openBlobs(ctx context.Context, gate *blob.Gate) error {
	switch a.cfg.BlobBackend {
	case config.BlobFolder:
		store, err := folder.New(afero.NewOsFs(), a.cfg.BlobPath, a.cfg.MaxFileSize, gate, a.logger)
		if err != nil {
			return err
		}
		a.blobs = store

	case config.BlobS3:
		client, err := s3store.NewClient(ctx, s3store.ClientConfig{
			Endpoint:        a.cfg.S3Endpoint,
			Region:          a.cfg.S3Region,
			AccessKeyID:     a.cfg.S3AccessKeyID,
			SecretAccessKey: a.cfg.S3SecretAccessKey,
		})
		if err != nil {
			return err
		}
		a.blobs = s3store.New(client, a.cfg.S3Container, a.cfg.S3Folder, a.cfg.MaxFileSize, gate, a.logger)

	default:
		return fmt.Errorf("неизвестный бэкенд содержимого %q", a.cfg.BlobBackend)
	}

	a.checkers = append(a.checkers, handlers.NewPingChecker("blob_"+a.cfg.BlobBackend, true, a.blobs.Ping))
	a.logger.Info("Хранилище содержимого открыто", slog.String("backend", a.cfg.BlobBackend))
	return nil
}

// credentials создаёт сервис токенов. Для одноразовых токенов
// подключается Redis (если задан) или in-memory список.
func (a *app) credentials() (*credential.Service, error) {
	opts := []credential.Option{credential.WithLogger(a.logger)}

	if a.cfg.TokenSingleUse {
		var guard credential.ReplayGuard
		if a.cfg.RedisAddr != "" {
			client := redis.NewClient(&redis.Options{
				Addr:     a.cfg.RedisAddr,
				Password: a.cfg.RedisPassword,
				DB:       a.cfg.RedisDB,
			})
			a.closers = append(a.closers, func() { _ = client.Close() })
			redisGuard := credential.NewRedisReplayGuard(client, "")
			a.checkers = append(a.checkers, handlers.NewPingChecker("redis", false, redisGuard.Ping))
			guard = redisGuard
			a.logger.Info("Одноразовые токены: Redis", slog.String("addr", a.cfg.RedisAddr))
		} else {
			guard = credential.NewMemoryReplayGuard(replayCacheSize, a.cfg.TokenExpiry)
			a.logger.Info("Одноразовые токены: in-memory")
		}
		opts = append(opts, credential.WithReplayGuard(guard))
	}

	return credential.New(credential.Config{
		Secret:   a.cfg.TokenSecret,
		Issuer:   a.cfg.TokenIssuer,
		Audience: a.cfg.TokenAudience,
		Expiry:   a.cfg.TokenExpiry,
		Leeway:   a.cfg.JWTLeeway,
	}, opts...)
}

// maxRequestBytes возвращает лимит тела пакета изменений.
// При переполнении int64 лимит не применяется (0).
func (a *app) maxRequestBytes() int64 {
	if a.cfg.MaxFileSize > (math.MaxInt64-batchBodyOverhead)/batchBodyFiles {
		return 0
	}
	return a.cfg.MaxFileSize*batchBodyFiles + batchBodyOverhead
}

// Close освобождает ресурсы в обратном порядке открытия.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// errUsage — ошибка аргументов команды.
var errUsage = errors.New("некорректные аргументы")
