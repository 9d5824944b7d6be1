package pgstore

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/goartstore/archive-module/internal/config"
	"github.com/bigkaa/goartstore/archive-module/internal/database"
	"github.com/bigkaa/goartstore/archive-module/internal/metadata"
	"github.com/bigkaa/goartstore/archive-module/internal/metadata/storetest"
)

// setupPool поднимает PostgreSQL, применяет миграции и возвращает пул.
func setupPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("archive_test"),
		postgres.WithUsername("archive"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	cfg := &config.Config{
		DBHost:     host,
		DBPort:     port.Int(),
		DBName:     "archive_test",
		DBUser:     "archive",
		DBPassword: "test-password",
		DBSSLMode:  "disable",
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	if err := database.Migrate(cfg, logger); err != nil {
		t.Fatalf("Ошибка миграций: %v", err)
	}
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Ошибка подключения: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func TestStoreContract(t *testing.T) {
	pool := setupPool(t)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	suite := &storetest.StoreTestSuite{
		NewStore: func(t *testing.T) metadata.Store {
			if _, err := pool.Exec(context.Background(), `TRUNCATE file_info RESTART IDENTITY`); err != nil {
				t.Fatalf("Ошибка очистки таблицы: %v", err)
			}
			return New(pool, logger)
		},
	}
	suite.Run(t)
}

func TestNullString(t *testing.T) {
	if nullString("") != nil {
		t.Error("пустая строка должна сохраняться как NULL")
	}
	if v := nullString("x"); v == nil || *v != "x" {
		t.Errorf("nullString(x) = %v", v)
	}
	if deref(nil) != "" {
		t.Error("deref(nil) должен возвращать пустую строку")
	}
}

func TestColumnsMatchScan(t *testing.T) {
	// Порядок столбцов должен совпадать с порядком Scan в scanRecord
	want := 9
	got := 0
	for _, c := range fileInfoColumns {
		if c == ',' {
			got++
		}
	}
	if got+1 != want {
		t.Errorf("столбцов = %d, ожидалось %d", got+1, want)
	}
}
