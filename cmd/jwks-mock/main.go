// JWKS Mock — локальный IdP для разработки Archive Module.
// Генерирует RSA ключевую пару при старте, отдаёт JWKS по GET /jwks и
// подписывает JWT пользователя (sub) по POST /token. Archive Module
// подключается к нему через FA_JWKS_URL=http://localhost:<port>/jwks.
package main

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
)

const (
	keyID      = "archive-dev-key"
	defaultTTL = time.Hour
)

// mockConfig — параметры из переменных окружения.
type mockConfig struct {
	Port    string // MOCK_PORT (по умолчанию 8090)
	Issuer  string // MOCK_ISSUER, должен совпадать с FA_JWT_ISSUER; пустой — без iss
	KeySize int    // MOCK_KEY_SIZE (по умолчанию 2048)
}

func loadMockConfig() mockConfig {
	cfg := mockConfig{
		Port:    envOrDefault("MOCK_PORT", "8090"),
		Issuer:  os.Getenv("MOCK_ISSUER"),
		KeySize: 2048,
	}
	if v := os.Getenv("MOCK_KEY_SIZE"); v != "" {
		if size, err := strconv.Atoi(v); err == nil && size >= 1024 {
			cfg.KeySize = size
		}
	}
	return cfg
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// jwk — один ключ JWKS (RFC 7517).
type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwksDocument struct {
	Keys []jwk `json:"keys"`
}

// tokenRequest — тело POST /token.
type tokenRequest struct {
	Sub        string `json:"sub"`
	TTLSeconds int    `json:"ttl_seconds"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// mockServer — ключ подписи и кэшированный JWKS.
type mockServer struct {
	privateKey *rsa.PrivateKey
	jwks       []byte
	issuer     string
	now        func() time.Time
	logger     *slog.Logger
}

func newMockServer(key *rsa.PrivateKey, issuer string, logger *slog.Logger) (*mockServer, error) {
	jwks, err := json.Marshal(jwksDocument{Keys: []jwk{{
		Kty: "RSA",
		Kid: keyID,
		Use: "sig",
		Alg: "RS256",
		N:   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
	}}})
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации JWKS: %w", err)
	}
	return &mockServer{
		privateKey: key,
		jwks:       jwks,
		issuer:     issuer,
		now:        time.Now,
		logger:     logger,
	}, nil
}

func (s *mockServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/jwks", s.handleJWKS)
	r.Post("/token", s.handleToken)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return r
}

func (s *mockServer) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(s.jwks)
}

func (s *mockServer) handleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Невалидный JSON: "+err.Error())
		return
	}
	if req.Sub == "" {
		writeError(w, http.StatusBadRequest, "Поле 'sub' обязательно")
		return
	}

	ttl := defaultTTL
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}

	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
		Subject:   req.Sub,
		Issuer:    s.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	token.Header["kid"] = keyID

	signed, err := token.SignedString(s.privateKey)
	if err != nil {
		s.logger.Error("Ошибка подписи JWT", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Ошибка генерации токена")
		return
	}

	s.logger.Info("Токен выдан",
		slog.String("sub", req.Sub),
		slog.String("ttl", ttl.String()),
	)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(tokenResponse{Token: signed})
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"code": code, "message": message},
	})
}

func main() {
	cfg := loadMockConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	logger.Info("Генерация RSA ключевой пары", slog.Int("key_size", cfg.KeySize))
	key, err := rsa.GenerateKey(rand.Reader, cfg.KeySize)
	if err != nil {
		logger.Error("Ошибка генерации RSA ключа", slog.String("error", err.Error()))
		os.Exit(1)
	}

	srv, err := newMockServer(key, cfg.Issuer, logger)
	if err != nil {
		logger.Error("Ошибка создания сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	addr := ":" + cfg.Port
	logger.Info("JWKS Mock запущен", slog.String("addr", addr), slog.String("issuer", cfg.Issuer))
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := httpSrv.ListenAndServe(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
