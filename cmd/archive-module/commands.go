package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/bigkaa/goartstore/archive-module/internal/api/handlers"
	"github.com/bigkaa/goartstore/archive-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/archive-module/internal/config"
	"github.com/bigkaa/goartstore/archive-module/internal/database"
	"github.com/bigkaa/goartstore/archive-module/internal/server"
	"github.com/bigkaa/goartstore/archive-module/internal/service"
)

// serviceID — имя вершины графа зависимостей.
const serviceID = "archive-module"

// NewRootCommand возвращает корневую команду со всеми подкомандами.
func NewRootCommand() *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "archive-module",
		Short:         "Архив файлов бизнес-сущностей.",
		Long:          "Archive Module хранит файлы, привязанные к ключу бизнес-сущности,\nи выдаёт их по подписанным токенам скачивания.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"Конфигурационный файл (переменные окружения FA_* имеют приоритет)")

	loadConfig := func() (*config.Config, *slog.Logger, error) {
		cfg, err := config.Load(configFile)
		if err != nil {
			return nil, nil, err
		}
		return cfg, config.SetupLogger(cfg), nil
	}

	rootCmd.AddCommand(newServeCommand(loadConfig))
	rootCmd.AddCommand(newMigrateCommand(loadConfig))
	rootCmd.AddCommand(newReconcileCommand(loadConfig))
	rootCmd.AddCommand(newMintTokenCommand(loadConfig))

	return rootCmd
}

type configLoader func() (*config.Config, *slog.Logger, error)

// newServeCommand — HTTP-сервер с фоновыми задачами.
func newServeCommand(loadConfig configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Запустить HTTP-сервер",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, logger)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("Archive Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	// 1. Миграции PostgreSQL
	if cfg.MetadataBackend == config.MetadataPostgres {
		logger.Info("Применение миграций БД...")
		if err := database.Migrate(cfg, logger); err != nil {
			return fmt.Errorf("миграции: %w", err)
		}
	}

	// 2. Хранилища
	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	// 3. Сервисы
	tokens, err := a.credentials()
	if err != nil {
		return err
	}
	archive := service.NewArchiveService(a.meta, a.blobs, cfg.ReleaseDelay, logger,
		service.WithLimits(service.Limits{
			AcceptedFileTypes: cfg.AcceptedFileTypes,
			MaxFileSize:       cfg.MaxFileSize,
			MaxFilesPerParent: cfg.MaxFilesPerParent,
		}),
	)

	// 4. Аутентификация API управления
	var auth *middleware.Authenticator
	if cfg.JWKSURL != "" {
		auth, err = middleware.NewJWKSAuthenticator(
			cfg.JWKSURL, cfg.JWTIssuer,
			cfg.JWKSClientTimeout, cfg.JWKSRefreshInterval, cfg.JWTLeeway,
			logger,
		)
		if err != nil {
			return fmt.Errorf("JWT middleware: %w", err)
		}
		logger.Info("JWT middleware инициализирован",
			slog.String("jwks_url", cfg.JWKSURL),
			slog.String("issuer", cfg.JWTIssuer),
		)
	} else {
		auth = middleware.NewHeaderAuthenticator(logger)
		logger.Warn("FA_JWKS_URL не задан, пользователь определяется по заголовку " + middleware.HeaderUserID)
	}

	// 5. Фоновые задачи
	var reconciler *service.ReconcileService
	if cfg.ReconcileInterval > 0 {
		reconciler = service.NewReconcileService(a.meta, a.blobs, a.blobs,
			cfg.ReconcileInterval, cfg.ReconcileRepair, logger)
		reconciler.Start(ctx)
	}

	dephealthSvc := startDephealth(ctx, cfg, a, logger)

	// 6. HTTP-сервер
	srv := server.New(cfg, logger, server.Handlers{
		API:    handlers.NewAPIHandler(archive, tokens, a.meta, a.blobs, a.maxRequestBytes(), logger),
		Health: handlers.NewHealthHandler(a.checkers...),
		Auth:   auth.Middleware(),
	},
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
	)
	runErr := srv.Run()

	// 7. Остановка фоновых задач
	logger.Info("Останавливаем фоновые задачи...")
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	if reconciler != nil {
		reconciler.Stop()
	}

	if runErr != nil {
		return runErr
	}
	logger.Info("Archive Module остановлен")
	return nil
}

// startDephealth запускает topologymetrics; без зависимостей или при ошибке
// сервис работает без мониторинга.
func startDephealth(ctx context.Context, cfg *config.Config, a *app, logger *slog.Logger) *service.DephealthService {
	dhCfg := service.DephealthConfig{
		ServiceID:     serviceID,
		Group:         cfg.DephealthGroup,
		JWKSURL:       cfg.JWKSURL,
		CheckInterval: cfg.DephealthCheckInterval,
	}
	if a.pool != nil {
		// Проверка PostgreSQL идёт через существующий пул соединений
		pgDB := stdlib.OpenDBFromPool(a.pool)
		a.closers = append(a.closers, func() { _ = pgDB.Close() })
		dhCfg.DB = pgDB
		dhCfg.PgConnURL = cfg.DatabaseURL()
	}

	dephealthSvc, err := service.NewDephealthService(dhCfg, logger)
	if errors.Is(err, service.ErrNoDependencies) {
		logger.Info("topologymetrics: нет зависимостей для мониторинга")
		return nil
	}
	if err != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
		return nil
	}
	if err := dephealthSvc.Start(ctx); err != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", err.Error()))
		return nil
	}
	logger.Info("topologymetrics запущен",
		slog.String("group", cfg.DephealthGroup),
		slog.String("check_interval", cfg.DephealthCheckInterval.String()),
	)
	return dephealthSvc
}

// newMigrateCommand — применение миграций PostgreSQL.
func newMigrateCommand(loadConfig configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Применить миграции схемы метаданных",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.MetadataBackend != config.MetadataPostgres {
				logger.Info("Миграции не требуются: схема создаётся при открытии хранилища",
					slog.String("backend", cfg.MetadataBackend),
				)
				return nil
			}
			return database.Migrate(cfg, logger)
		},
	}
}

// newReconcileCommand — однократная сверка с отчётом в JSON.
func newReconcileCommand(loadConfig configLoader) *cobra.Command {
	var repair bool

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Сверить метаданные и содержимое",
		Long: `Сверка находит записи метаданных без содержимого и содержимое без записей.
С --repair содержимое без записей удаляется, если оно обнаружено
двумя проходами подряд (проход выполняется дважды).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := buildApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			rs := service.NewReconcileService(a.meta, a.blobs, a.blobs, 0, repair, logger)
			report, _, err := rs.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			if repair && len(report.Issues) > 0 {
				if report, _, err = rs.RunOnce(cmd.Context()); err != nil {
					return err
				}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	cmd.Flags().BoolVar(&repair, "repair", false, "Удалять содержимое без записей метаданных")
	return cmd
}

// newMintTokenCommand — выпуск токена скачивания (эксплуатация и отладка).
func newMintTokenCommand(loadConfig configLoader) *cobra.Command {
	var (
		userID string
		fileID int64
	)

	cmd := &cobra.Command{
		Use:   "mint-token",
		Short: "Выпустить токен на скачивание файла",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := strconv.ParseInt(userID, 10, 64); err != nil {
				return fmt.Errorf("%w: --user должен быть числом", errUsage)
			}
			if fileID <= 0 {
				return fmt.Errorf("%w: --file должен быть положительным", errUsage)
			}

			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			a := &app{cfg: cfg, logger: logger}
			defer a.Close()

			tokens, err := a.credentials()
			if err != nil {
				return err
			}
			token := tokens.BuildTokenForFileDownload(userID, fileID)
			if !token.IsSuccess() {
				return errors.New(token.FirstMessage())
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, token.Data)
			fmt.Fprintln(out, handlers.DownloadPath+"?token="+url.QueryEscape(token.Data))
			return nil
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "Идентификатор пользователя (число)")
	cmd.Flags().Int64VarP(&fileID, "file", "f", 0, "ID файла")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
