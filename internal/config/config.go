// Пакет config — загрузка и валидация конфигурации Archive Module.
// Источники: переменные окружения с префиксом FA_ и необязательный
// конфигурационный файл (флаг --config). Значения проверяются один раз
// при старте; ошибка конфигурации — фатальная ошибка запуска.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Префикс переменных окружения.
const envPrefix = "FA"

// Бэкенды хранилищ.
const (
	MetadataJSON     = "json"
	MetadataPostgres = "postgres"
	MetadataSQLite   = "sqlite"

	BlobFolder = "folder"
	BlobS3     = "s3"
)

// Config содержит все параметры конфигурации Archive Module.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	// Таймаут graceful shutdown
	ShutdownTimeout time.Duration

	// --- Архив ---

	// Максимальный размер файла в байтах (> 0)
	MaxFileSize int64
	// Задержка выпуска файла после создания
	ReleaseDelay time.Duration
	// Допустимые расширения файлов (пусто — любые)
	AcceptedFileTypes []string
	// Максимум файлов на один ключ родителя (0 — без ограничения)
	MaxFilesPerParent int

	// --- Хранилище метаданных ---

	MetadataBackend string
	// Директория FileInfo.json (json)
	MetadataPath string
	// Файл базы SQLite (sqlite)
	SQLitePath string
	// PostgreSQL (postgres)
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// Кэш метаданных (0 — выключен)
	CacheSize int
	CacheTTL  time.Duration

	// --- Хранилище блобов ---

	BlobBackend string
	// Корневая директория (folder)
	BlobPath string
	// Объектное хранилище (s3)
	S3Endpoint        string
	S3Region          string
	S3Container       string
	S3Folder          string
	S3AccessKeyID     string
	S3SecretAccessKey string

	// --- Токен скачивания ---

	TokenSecret    string
	TokenIssuer    string
	TokenAudience  string
	TokenExpiry    time.Duration
	TokenSingleUse bool
	// Redis для одноразовых токенов (пусто — in-memory)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// --- Сверка ---

	// Интервал сверки (0 — только по команде)
	ReconcileInterval time.Duration
	// Удалять блобы без метаданных
	ReconcileRepair bool

	// --- Аутентификация API ---

	// JWKS endpoint (пусто — идентификатор пользователя из X-User-Id)
	JWKSURL             string
	JWTIssuer           string
	JWTLeeway           time.Duration
	JWKSClientTimeout   time.Duration
	JWKSRefreshInterval time.Duration

	// --- topologymetrics ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration
}

// Load загружает конфигурацию из окружения и (если задан) файла configFile.
// Возвращает ошибку, если обязательные параметры не заданы
// или значения некорректны.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("ошибка чтения конфигурационного файла %s: %w", configFile, err)
		}
	}

	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	if cfg.Port, err = getInt(v, "port", 8040); err != nil {
		return nil, err
	}
	if cfg.LogLevel, err = parseLogLevel(getDefault(v, "log_level", "info")); err != nil {
		return nil, fmt.Errorf("%s: %w", envName("log_level"), err)
	}
	cfg.LogFormat = getDefault(v, "log_format", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("%s: недопустимый формат %q, допустимые: json, text", envName("log_format"), cfg.LogFormat)
	}

	if cfg.HTTPReadTimeout, err = getDuration(v, "http_read_timeout", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.HTTPWriteTimeout, err = getDuration(v, "http_write_timeout", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.HTTPIdleTimeout, err = getDuration(v, "http_idle_timeout", 120*time.Second); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = getDuration(v, "shutdown_timeout", 5*time.Second); err != nil {
		return nil, err
	}

	// --- Архив ---

	if cfg.MaxFileSize, err = getRequiredInt64(v, "max_file_size"); err != nil {
		return nil, err
	}
	if cfg.MaxFileSize <= 0 {
		return nil, fmt.Errorf("%s: значение должно быть > 0", envName("max_file_size"))
	}

	releaseSeconds, err := getInt(v, "seconds_before_release", 0)
	if err != nil {
		return nil, err
	}
	if releaseSeconds < 0 {
		return nil, fmt.Errorf("%s: значение должно быть >= 0", envName("seconds_before_release"))
	}
	cfg.ReleaseDelay = time.Duration(releaseSeconds) * time.Second

	cfg.AcceptedFileTypes = getList(v, "accepted_file_types")
	if cfg.MaxFilesPerParent, err = getInt(v, "max_files_per_parent", 0); err != nil {
		return nil, err
	}

	// --- Хранилище метаданных ---

	cfg.MetadataBackend = getDefault(v, "metadata_backend", MetadataJSON)
	switch cfg.MetadataBackend {
	case MetadataJSON:
		if cfg.MetadataPath, err = getRequired(v, "metadata_path"); err != nil {
			return nil, err
		}
	case MetadataSQLite:
		if cfg.SQLitePath, err = getRequired(v, "sqlite_path"); err != nil {
			return nil, err
		}
	case MetadataPostgres:
		if err := loadPostgres(v, cfg); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%s: недопустимое значение %q, допустимые: json, postgres, sqlite",
			envName("metadata_backend"), cfg.MetadataBackend)
	}

	if cfg.CacheSize, err = getInt(v, "cache_size", 0); err != nil {
		return nil, err
	}
	if cfg.CacheTTL, err = getDuration(v, "cache_ttl", 5*time.Minute); err != nil {
		return nil, err
	}

	// --- Хранилище блобов ---

	cfg.BlobBackend = getDefault(v, "blob_backend", BlobFolder)
	switch cfg.BlobBackend {
	case BlobFolder:
		if cfg.BlobPath, err = getRequired(v, "blob_path"); err != nil {
			return nil, err
		}
	case BlobS3:
		if cfg.S3Container, err = getRequired(v, "s3_container"); err != nil {
			return nil, err
		}
		cfg.S3Endpoint = v.GetString("s3_endpoint")
		cfg.S3Region = getDefault(v, "s3_region", "us-east-1")
		cfg.S3Folder = v.GetString("s3_folder")
		cfg.S3AccessKeyID = v.GetString("s3_access_key_id")
		cfg.S3SecretAccessKey = v.GetString("s3_secret_access_key")
	default:
		return nil, fmt.Errorf("%s: недопустимое значение %q, допустимые: folder, s3",
			envName("blob_backend"), cfg.BlobBackend)
	}

	// --- Токен скачивания ---

	if cfg.TokenSecret, err = getRequired(v, "token_secret"); err != nil {
		return nil, err
	}
	if cfg.TokenIssuer, err = getRequired(v, "token_issuer"); err != nil {
		return nil, err
	}
	if cfg.TokenAudience, err = getRequired(v, "token_audience"); err != nil {
		return nil, err
	}
	expiryMinutes, err := getInt(v, "token_expiry_minutes", 60)
	if err != nil {
		return nil, err
	}
	if expiryMinutes <= 0 {
		return nil, fmt.Errorf("%s: значение должно быть > 0", envName("token_expiry_minutes"))
	}
	cfg.TokenExpiry = time.Duration(expiryMinutes) * time.Minute
	if cfg.TokenSingleUse, err = getBool(v, "token_single_use", false); err != nil {
		return nil, err
	}
	cfg.RedisAddr = v.GetString("redis_addr")
	cfg.RedisPassword = v.GetString("redis_password")
	if cfg.RedisDB, err = getInt(v, "redis_db", 0); err != nil {
		return nil, err
	}

	// --- Сверка ---

	if cfg.ReconcileInterval, err = getDuration(v, "reconcile_interval", 0); err != nil {
		return nil, err
	}
	if cfg.ReconcileRepair, err = getBool(v, "reconcile_repair", false); err != nil {
		return nil, err
	}

	// --- Аутентификация API ---

	cfg.JWKSURL = v.GetString("jwks_url")
	cfg.JWTIssuer = v.GetString("jwt_issuer")
	if cfg.JWTLeeway, err = getDuration(v, "jwt_leeway", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.JWKSClientTimeout, err = getDuration(v, "jwks_client_timeout", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.JWKSRefreshInterval, err = getDuration(v, "jwks_refresh_interval", 15*time.Minute); err != nil {
		return nil, err
	}

	// --- topologymetrics ---

	cfg.DephealthGroup = getDefault(v, "dephealth_group", "archive")
	if cfg.DephealthCheckInterval, err = getDuration(v, "dephealth_check_interval", 15*time.Second); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadPostgres(v *viper.Viper, cfg *Config) error {
	var err error
	if cfg.DBHost, err = getRequired(v, "db_host"); err != nil {
		return err
	}
	if cfg.DBPort, err = getInt(v, "db_port", 5432); err != nil {
		return err
	}
	if cfg.DBName, err = getRequired(v, "db_name"); err != nil {
		return err
	}
	if cfg.DBUser, err = getRequired(v, "db_user"); err != nil {
		return err
	}
	if cfg.DBPassword, err = getRequired(v, "db_password"); err != nil {
		return err
	}
	cfg.DBSSLMode = getDefault(v, "db_ssl_mode", "disable")
	return nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL для pgxpool.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL (для метрик topologymetrics, без пароля).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s@%s:%d/%s", c.DBUser, c.DBHost, c.DBPort, c.DBName)
}

// MigrateURL возвращает URL для golang-migrate (драйвер pgx5).
func (c *Config) MigrateURL() string {
	return fmt.Sprintf(
		"pgx5://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// envName возвращает имя переменной окружения для ключа.
func envName(key string) string {
	return envPrefix + "_" + strings.ToUpper(key)
}

// getRequired возвращает значение или ошибку, если оно не задано.
func getRequired(v *viper.Viper, key string) (string, error) {
	val := strings.TrimSpace(v.GetString(key))
	if val == "" {
		return "", fmt.Errorf("%s: обязательный параметр не задан", envName(key))
	}
	return val, nil
}

// getDefault возвращает значение или значение по умолчанию.
func getDefault(v *viper.Viper, key, defaultVal string) string {
	val := strings.TrimSpace(v.GetString(key))
	if val == "" {
		return defaultVal
	}
	return val
}

// getInt возвращает целое число или значение по умолчанию.
func getInt(v *viper.Viper, key string, defaultVal int) (int, error) {
	val := strings.TrimSpace(v.GetString(key))
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("%s: некорректное целое число: %q", envName(key), val)
	}
	return n, nil
}

// getRequiredInt64 возвращает обязательное 64-битное целое.
func getRequiredInt64(v *viper.Viper, key string) (int64, error) {
	val, err := getRequired(v, key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: некорректное целое число: %q", envName(key), val)
	}
	return n, nil
}

// getDuration возвращает time.Duration или значение по умолчанию.
func getDuration(v *viper.Viper, key string, defaultVal time.Duration) (time.Duration, error) {
	val := strings.TrimSpace(v.GetString(key))
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("%s: некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", envName(key), val)
	}
	return d, nil
}

// getBool возвращает булево значение или значение по умолчанию.
func getBool(v *viper.Viper, key string, defaultVal bool) (bool, error) {
	val := strings.TrimSpace(v.GetString(key))
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("%s: некорректное булево значение: %q (допустимые: true, false, 1, 0)", envName(key), val)
	}
	return b, nil
}

// getList разбирает список через запятую, пустые элементы отбрасываются.
func getList(v *viper.Viper, key string) []string {
	raw := v.GetString(key)
	if raw == "" {
		// В конфигурационном файле список может быть задан массивом
		raw = strings.Join(v.GetStringSlice(key), ",")
	}
	if raw == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
