// auth.go — определение пользователя для операций архива.
//
// Два режима:
//   - JWKS: Bearer JWT (RS256) проверяется по ключам IdP, пользователь — sub;
//   - заголовок: пользователя передаёт вышестоящий шлюз в X-User-Id
//     (режим без FA_JWKS_URL, подпись проверяется на шлюзе).
//
// Эндпоинт скачивания аутентифицируется собственным токеном и этот
// middleware не использует.
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/goartstore/archive-module/internal/api/errors"
	"github.com/bigkaa/goartstore/archive-module/internal/domain/model"
)

// HeaderUserID — заголовок с идентификатором пользователя (режим шлюза).
const HeaderUserID = "X-User-Id"

type contextKey string

const contextKeyUserID contextKey = "user_id"

// WithUserID помещает идентификатор пользователя в контекст.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKeyUserID, userID)
}

// UserIDFromContext возвращает идентификатор пользователя из контекста.
func UserIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(contextKeyUserID).(string)
	return userID
}

// Authenticator — middleware определения пользователя.
type Authenticator struct {
	jwks      keyfunc.Keyfunc // nil — режим заголовка
	issuer    string
	jwtLeeway time.Duration
	logger    *slog.Logger
}

// NewJWKSAuthenticator создаёт middleware с проверкой JWT через JWKS.
// Стартует даже при недоступном IdP: ключи догружаются в фоне.
func NewJWKSAuthenticator(
	jwksURL string,
	issuer string,
	jwksClientTimeout time.Duration,
	jwksRefreshInterval time.Duration,
	jwtLeeway time.Duration,
	logger *slog.Logger,
) (*Authenticator, error) {
	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		Client:                    &http.Client{Timeout: jwksClientTimeout},
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           jwksRefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", jwksURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{
		Storage: storage,
	})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	return NewAuthenticatorWithKeyfunc(k, issuer, jwtLeeway, logger), nil
}

// NewAuthenticatorWithKeyfunc создаёт middleware с предоставленной keyfunc
// (тесты подставляют mock JWKS).
func NewAuthenticatorWithKeyfunc(kf keyfunc.Keyfunc, issuer string, jwtLeeway time.Duration, logger *slog.Logger) *Authenticator {
	return &Authenticator{
		jwks:      kf,
		issuer:    issuer,
		jwtLeeway: jwtLeeway,
		logger:    logger.With(slog.String("component", "auth")),
	}
}

// NewHeaderAuthenticator создаёт middleware, доверяющий X-User-Id.
func NewHeaderAuthenticator(logger *slog.Logger) *Authenticator {
	return &Authenticator{logger: logger.With(slog.String("component", "auth"))}
}

// Middleware возвращает HTTP middleware.
func (a *Authenticator) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var userID string
			if a.jwks == nil {
				userID = strings.TrimSpace(r.Header.Get(HeaderUserID))
				if userID == "" {
					apierrors.Unauthorized(w, "Отсутствует заголовок "+HeaderUserID)
					return
				}
			} else {
				var msg string
				if userID, msg = a.subjectFromBearer(r); userID == "" {
					apierrors.Unauthorized(w, msg)
					return
				}
			}

			if len(userID) > model.MaxUserIDLength {
				apierrors.Unauthorized(w, "Идентификатор пользователя слишком длинный")
				return
			}

			noteUserID(r.Context(), userID)
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// subjectFromBearer проверяет Bearer token и возвращает sub либо
// пустую строку и сообщение об ошибке.
func (a *Authenticator) subjectFromBearer(r *http.Request) (string, string) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", "Отсутствует заголовок Authorization"
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", "Неверный формат Authorization: ожидается Bearer <token>"
	}

	claims := &jwt.RegisteredClaims{}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithStrictDecoding(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(a.jwtLeeway),
	}
	if a.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(a.issuer))
	}

	token, err := jwt.ParseWithClaims(parts[1], claims, a.jwks.KeyfuncCtx(r.Context()), parserOpts...)
	if err != nil || !token.Valid {
		if err != nil {
			a.logger.Debug("JWT валидация не пройдена",
				slog.String("error", err.Error()),
				slog.String("remote_addr", r.RemoteAddr),
			)
		}
		return "", "Невалидный или просроченный токен"
	}

	if claims.Subject == "" {
		return "", "Отсутствует sub в токене"
	}
	return claims.Subject, ""
}
