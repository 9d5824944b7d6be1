// Пакет credential — подписанные токены на скачивание файла.
// Токен связывает идентификатор пользователя (sub) и ID файла (file_id),
// подписан HS256 и ограничен по времени жизни.
package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/archive-module/internal/result"
)

// ClaimFileID — имя claim с ID файла.
const ClaimFileID = "file_id"

// Сообщения для пользователя.
const (
	MsgTokenMissing      = "Token is missing"
	MsgTokenInvalid      = "Token is invalid"
	MsgTokenUnauthorized = "Token is expired or was not issued for this service"
	MsgTokenClaims       = "Token does not contain a user id and a file id"
	MsgTokenUsed         = "Token has already been used"
	MsgUserIDMissing     = "User Id must be supplied"
	MsgUserIDNotNumeric  = "User Id must be numeric"
	MsgGenericError      = "An error occurred."
)

// Config — параметры подписи и проверки токенов.
type Config struct {
	Secret   string
	Issuer   string
	Audience string
	// Expiry — время жизни токена (по умолчанию 60 минут).
	Expiry time.Duration
	// Leeway — допустимое расхождение часов при проверке.
	Leeway time.Duration
}

// Validate проверяет конфигурацию.
func (c Config) Validate() error {
	if c.Secret == "" {
		return errors.New("секрет подписи токена не задан")
	}
	if c.Issuer == "" {
		return errors.New("issuer токена не задан")
	}
	if c.Audience == "" {
		return errors.New("audience токена не задан")
	}
	if c.Expiry <= 0 {
		return fmt.Errorf("время жизни токена должно быть > 0, получено %s", c.Expiry)
	}
	if c.Leeway < 0 {
		return fmt.Errorf("leeway не может быть отрицательным: %s", c.Leeway)
	}
	return nil
}

// Subject — данные, извлечённые из токена.
type Subject struct {
	UserID int64
	FileID int64
}

// downloadClaims — claims токена скачивания. Значения хранятся строками.
type downloadClaims struct {
	jwt.RegisteredClaims
	FileID string `json:"file_id,omitempty"`
}

// Service выпускает и проверяет токены.
type Service struct {
	cfg    Config
	secret []byte
	now    func() time.Time
	guard  ReplayGuard
	logger *slog.Logger
}

// Option — опция Service.
type Option func(*Service)

// WithClock подменяет источник времени (тесты).
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithReplayGuard включает одноразовость токенов.
func WithReplayGuard(g ReplayGuard) Option {
	return func(s *Service) { s.guard = g }
}

// WithLogger задаёт логгер.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// New создаёт сервис токенов.
func New(cfg Config, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("невалидная конфигурация токенов: %w", err)
	}
	s := &Service{
		cfg:    cfg,
		secret: []byte(cfg.Secret),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "credential"))
	return s, nil
}

// BuildTokenForFileDownload выпускает токен на скачивание файла fileID
// пользователем userID.
func (s *Service) BuildTokenForFileDownload(userID string, fileID int64) result.Value[string] {
	if strings.TrimSpace(userID) == "" {
		return result.Fail[string](result.BadRequestResult(MsgUserIDMissing))
	}
	// Читатель разбирает sub как число, другой токен прочитать нельзя.
	if _, err := strconv.ParseInt(userID, 10, 64); err != nil {
		return result.Fail[string](result.BadRequestResult(MsgUserIDNotNumeric))
	}

	now := s.now()
	claims := downloadClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    s.cfg.Issuer,
			Audience:  jwt.ClaimStrings{s.cfg.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.Expiry)),
			ID:        uuid.NewString(),
		},
		FileID: strconv.FormatInt(fileID, 10),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		s.logger.Error("Ошибка подписи токена",
			slog.Int64("file_id", fileID),
			slog.String("error", err.Error()),
		)
		return result.Fail[string](result.Fatal(MsgGenericError))
	}
	return result.SuccessWith(signed)
}

// ReadUserIDAndFileID проверяет токен и извлекает пользователя и файл.
//
// Классификация отказов:
//   - пустой токен или нечитаемый формат — BadRequest;
//   - неверная подпись, истёкший срок, чужой issuer/audience — Unauthorized;
//   - нет sub или file_id — BadRequest;
//   - нечисловые значения — ServerError (такие токены сервис не выпускает).
func (s *Service) ReadUserIDAndFileID(ctx context.Context, token string) result.Value[Subject] {
	token = strings.TrimSpace(token)
	if token == "" {
		return result.Fail[Subject](result.BadRequestResult(MsgTokenMissing))
	}

	claims := &downloadClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, s.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithStrictDecoding(),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithAudience(s.cfg.Audience),
		jwt.WithLeeway(s.cfg.Leeway),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return result.Fail[Subject](s.classify(err))
	}
	if !parsed.Valid {
		return result.Fail[Subject](result.UnauthorizedResult(MsgTokenUnauthorized))
	}

	if claims.Subject == "" || claims.FileID == "" {
		return result.Fail[Subject](result.BadRequestResult(MsgTokenClaims))
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		s.logger.Error("Нечисловой sub в подписанном токене", slog.String("sub", claims.Subject))
		return result.Fail[Subject](result.Fatal(MsgGenericError))
	}
	fileID, err := strconv.ParseInt(claims.FileID, 10, 64)
	if err != nil {
		s.logger.Error("Нечисловой file_id в подписанном токене", slog.String("file_id", claims.FileID))
		return result.Fail[Subject](result.Fatal(MsgGenericError))
	}

	if s.guard != nil {
		if r := s.consume(ctx, claims); !r.IsSuccess() {
			return result.Fail[Subject](r)
		}
	}

	return result.SuccessWith(Subject{UserID: userID, FileID: fileID})
}

func (s *Service) keyFunc(*jwt.Token) (any, error) {
	return s.secret, nil
}

// classify переводит ошибку разбора JWT в Result.
func (s *Service) classify(err error) result.Result {
	s.logger.Debug("Токен отклонён", slog.String("error", err.Error()))
	if errors.Is(err, jwt.ErrTokenMalformed) {
		return result.BadRequestResult(MsgTokenInvalid)
	}
	return result.UnauthorizedResult(MsgTokenUnauthorized)
}

// consume отмечает jti использованным; повторное использование — Unauthorized.
func (s *Service) consume(ctx context.Context, claims *downloadClaims) result.Result {
	if claims.ID == "" {
		return result.BadRequestResult(MsgTokenClaims)
	}

	ttl := claims.ExpiresAt.Sub(s.now()) + s.cfg.Leeway
	if ttl <= 0 {
		ttl = time.Second
	}
	first, err := s.guard.MarkUsed(ctx, claims.ID, ttl)
	if err != nil {
		s.logger.Error("Ошибка проверки повторного использования токена",
			slog.String("jti", claims.ID),
			slog.String("error", err.Error()),
		)
		return result.Fatal(MsgGenericError)
	}
	if !first {
		s.logger.Warn("Повторное использование токена", slog.String("jti", claims.ID))
		return result.UnauthorizedResult(MsgTokenUsed)
	}
	return result.Success()
}
