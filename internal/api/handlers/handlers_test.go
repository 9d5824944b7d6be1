package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigkaa/goartstore/archive-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/archive-module/internal/blob"
	"github.com/bigkaa/goartstore/archive-module/internal/blob/folder"
	"github.com/bigkaa/goartstore/archive-module/internal/credential"
	"github.com/bigkaa/goartstore/archive-module/internal/domain/model"
	"github.com/bigkaa/goartstore/archive-module/internal/metadata/jsonstore"
	"github.com/bigkaa/goartstore/archive-module/internal/result"
	"github.com/bigkaa/goartstore/archive-module/internal/service"
)

const testUserID = "8888"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// envelopeBody — разобранный конверт Result.
type envelopeBody struct {
	ResultCode string          `json:"resultCode"`
	IsSuccess  bool            `json:"isSuccess"`
	Messages   []string        `json:"messages"`
	Data       json.RawMessage `json:"data"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelopeBody {
	t.Helper()
	var body envelopeBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

type apiEnv struct {
	archive *service.ArchiveService
	tokens  *credential.Service
	meta    *jsonstore.Store
	api     *APIHandler
	router  http.Handler
}

func setupAPI(t *testing.T, releaseDelay time.Duration) *apiEnv {
	t.Helper()
	fs := afero.NewMemMapFs()

	meta, err := jsonstore.New(fs, "/meta", testLogger())
	require.NoError(t, err)
	blobs, err := folder.New(fs, "/blobs", 1<<20, blob.NewGate(meta, releaseDelay, time.Now), testLogger())
	require.NoError(t, err)
	tokens, err := credential.New(credential.Config{
		Secret:   "test-secret-0123456789",
		Issuer:   "archive-module",
		Audience: "archive-download",
		Expiry:   time.Hour,
	}, credential.WithLogger(testLogger()))
	require.NoError(t, err)

	archive := service.NewArchiveService(meta, blobs, releaseDelay, testLogger())
	api := NewAPIHandler(archive, tokens, meta, blobs, 4<<20, testLogger())

	return &apiEnv{
		archive: archive,
		tokens:  tokens,
		meta:    meta,
		api:     api,
		router:  newTestRouter(api, testUserID),
	}
}

// newTestRouter подключает обработчики; пользователь подставляется без аутентификации.
func newTestRouter(api *APIHandler, userID string) http.Handler {
	r := chi.NewRouter()
	r.Get(DownloadPath, api.DownloadFile)
	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				next.ServeHTTP(w, req.WithContext(middleware.WithUserID(req.Context(), userID)))
			})
		})
		r.Post("/api/FileArchive/DownloadToken", api.IssueDownloadToken)
		r.Get("/api/FileArchive/{parentKey}/files", api.ListFiles)
		r.Post("/api/FileArchive/{parentKey}/changes", api.SaveChanges)
		r.Delete("/api/FileArchive/{parentKey}", api.DeleteArchive)
	})
	return r
}

func (env *apiEnv) insert(t *testing.T, name, contentType, content string) int64 {
	t.Helper()
	items := []*model.UIFileOperation{{
		Filename: name,
		Insert:   true,
		Payload:  model.NewBytesPayload(name, contentType, []byte(content)),
	}}
	res := env.archive.SaveChanges(context.Background(), testUserID, "4711", items)
	require.True(t, res.IsSuccess(), res.Messages)
	return *res.Data[0].ID
}

func (env *apiEnv) token(t *testing.T, fileID int64) string {
	t.Helper()
	tok := env.tokens.BuildTokenForFileDownload(testUserID, fileID)
	require.True(t, tok.IsSuccess(), tok.Messages)
	return tok.Data
}

func (env *apiEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func downloadRequest(token string) *http.Request {
	return httptest.NewRequest(http.MethodGet, DownloadPath+"?token="+url.QueryEscape(token), nil)
}

// --- DownloadFile ---

func TestDownloadFile_Success(t *testing.T) {
	env := setupAPI(t, 0)
	id := env.insert(t, "Отчёт 2026.txt", "text/plain", "hello archive")

	rec := env.do(downloadRequest(env.token(t, id)))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "hello archive", rec.Body.String())
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))

	disposition := rec.Header().Get("Content-Disposition")
	assert.True(t, strings.HasPrefix(disposition, "attachment"), disposition)
	assert.Contains(t, disposition, "filename")
}

func TestDownloadFile_Range(t *testing.T) {
	env := setupAPI(t, 0)
	id := env.insert(t, "digits.txt", "text/plain", "0123456789")

	req := downloadRequest(env.token(t, id))
	req.Header.Set("Range", "bytes=2-4")
	rec := env.do(req)

	require.Equal(t, http.StatusPartialContent, rec.Code, rec.Body.String())
	assert.Equal(t, "234", rec.Body.String())
}

func TestDownloadFile_DefaultContentType(t *testing.T) {
	env := setupAPI(t, 0)
	id := env.insert(t, "blob.bin", "", "\x00\x01\x02")

	rec := env.do(downloadRequest(env.token(t, id)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultContentType, rec.Header().Get("Content-Type"))
}

func TestDownloadFile_TokenFailures(t *testing.T) {
	env := setupAPI(t, 0)

	tests := []struct {
		name       string
		token      string
		wantStatus int
		wantCode   string
		wantMsg    string
	}{
		{"без токена", "", http.StatusBadRequest, "BadRequest", credential.MsgTokenMissing},
		{"мусор", "not-a-jwt", http.StatusBadRequest, "BadRequest", credential.MsgTokenInvalid},
		{"нулевой файл", env.token(t, 0), http.StatusBadRequest, "BadRequest", MsgIDsNotPresent},
		{"нет записи", env.token(t, 999), http.StatusNotFound, "NotFound", "File info with Id 999 was not found."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(downloadRequest(tt.token))

			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			body := decodeEnvelope(t, rec)
			assert.Equal(t, tt.wantCode, body.ResultCode)
			assert.False(t, body.IsSuccess)
			assert.Equal(t, []string{tt.wantMsg}, body.Messages)
		})
	}
}

func TestDownloadFile_NotReleased(t *testing.T) {
	env := setupAPI(t, time.Hour)
	id := env.insert(t, "late.txt", "text/plain", "later")

	rec := env.do(downloadRequest(env.token(t, id)))

	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain"))
	assert.Contains(t, rec.Body.String(), "UTC")
	assert.NotContains(t, rec.Body.String(), "resultCode")
}

// stubOpener — хранилище содержимого с заданным поведением.
type stubOpener struct {
	open func(id int64) result.Value[io.ReadCloser]
}

func (s stubOpener) OpenStoredFile(_ context.Context, id int64) result.Value[io.ReadCloser] {
	return s.open(id)
}

// trackingBody — поток без Seek, запоминающий закрытие.
type trackingBody struct {
	io.Reader
	closed bool
}

func (b *trackingBody) Close() error {
	b.closed = true
	return nil
}

func TestDownloadFile_NonSeekableStreamClosed(t *testing.T) {
	env := setupAPI(t, 0)
	id := env.insert(t, "stream.txt", "text/plain", "ignored")

	body := &trackingBody{Reader: strings.NewReader("streamed")}
	api := NewAPIHandler(env.archive, env.tokens, env.meta, stubOpener{
		open: func(int64) result.Value[io.ReadCloser] { return result.SuccessWith[io.ReadCloser](body) },
	}, 0, testLogger())

	rec := httptest.NewRecorder()
	newTestRouter(api, testUserID).ServeHTTP(rec, downloadRequest(env.token(t, id)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "streamed", rec.Body.String())
	assert.True(t, body.closed, "поток должен быть закрыт")
}

func TestDownloadFile_BlobFailureEnvelope(t *testing.T) {
	env := setupAPI(t, 0)
	id := env.insert(t, "gone.txt", "text/plain", "x")

	api := NewAPIHandler(env.archive, env.tokens, env.meta, stubOpener{
		open: func(int64) result.Value[io.ReadCloser] {
			return result.Fail[io.ReadCloser](result.Fatal("An error occurred."))
		},
	}, 0, testLogger())

	rec := httptest.NewRecorder()
	newTestRouter(api, testUserID).ServeHTTP(rec, downloadRequest(env.token(t, id)))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "ServerError", decodeEnvelope(t, rec).ResultCode)
}

func TestDownloadFile_PanicRecovered(t *testing.T) {
	env := setupAPI(t, 0)
	id := env.insert(t, "boom.txt", "text/plain", "x")

	api := NewAPIHandler(env.archive, env.tokens, env.meta, stubOpener{
		open: func(int64) result.Value[io.ReadCloser] { panic("storage exploded") },
	}, 0, testLogger())

	rec := httptest.NewRecorder()
	newTestRouter(api, testUserID).ServeHTTP(rec, downloadRequest(env.token(t, id)))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeEnvelope(t, rec)
	assert.Equal(t, []string{MsgGenericError}, body.Messages)
}

func TestContentDisposition(t *testing.T) {
	assert.Equal(t, "attachment", contentDisposition(""))
	assert.Equal(t, `attachment; filename=report.pdf`, contentDisposition("report.pdf"))
	assert.Contains(t, contentDisposition("отчёт.pdf"), "filename*=utf-8''")
}

// --- Управление архивом ---

// changesRequest строит multipart-запрос пакета изменений.
func changesRequest(t *testing.T, parentKey, operations string, files map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if operations != "" {
		require.NoError(t, mw.WriteField(formOperations, operations))
	}
	for part, content := range files {
		fw, err := mw.CreateFormFile(part, part+".txt")
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/FileArchive/"+parentKey+"/changes", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestSaveChanges_InsertAndList(t *testing.T) {
	env := setupAPI(t, 0)

	req := changesRequest(t, "order-1",
		`[{"filename":"a.txt","insert":true},{"filename":"b.txt","description":"no file","insert":true}]`,
		map[string]string{"file-0": "first file"})
	rec := env.do(req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeEnvelope(t, rec)
	require.True(t, body.IsSuccess)

	var ops []model.UIFileOperation
	require.NoError(t, json.Unmarshal(body.Data, &ops))
	require.Len(t, ops, 2)
	for _, op := range ops {
		assert.NotNil(t, op.ID)
		assert.False(t, op.Insert)
		assert.Equal(t, testUserID, op.CreatedBy)
		assert.NotNil(t, op.EarliestRelease)
	}

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/FileArchive/order-1/files", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &ops))
	assert.Len(t, ops, 2)

	// Тип файла без заявленного Content-Type определён по содержимому
	for _, op := range ops {
		if op.Filename == "a.txt" {
			assert.True(t, strings.HasPrefix(op.MimeType, "text/plain"), op.MimeType)
		}
	}
}

func TestSaveChanges_BadRequests(t *testing.T) {
	env := setupAPI(t, 0)

	rec := env.do(changesRequest(t, "order-1", "", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(changesRequest(t, "order-1", `{not json`, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/FileArchive/order-1/changes", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	rec = env.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(changesRequest(t, strings.Repeat("k", model.MaxParentKeyLength+1), `[]`, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSaveChanges_FailingItemEnvelope(t *testing.T) {
	env := setupAPI(t, 0)

	rec := env.do(changesRequest(t, "order-1", `[{"id":42,"filename":"x.txt","update":true}]`, nil))

	require.Equal(t, http.StatusNotFound, rec.Code, rec.Body.String())
	body := decodeEnvelope(t, rec)
	assert.Equal(t, "NotFound", body.ResultCode)
	assert.Equal(t, []string{"File info with Id 42 was not found."}, body.Messages)
}

func TestSaveChanges_RequestTooLarge(t *testing.T) {
	env := setupAPI(t, 0)
	api := NewAPIHandler(env.archive, env.tokens, env.meta, nil, 64, testLogger())

	req := changesRequest(t, "order-1", `[{"filename":"a.txt","insert":true}]`,
		map[string]string{"file-0": strings.Repeat("x", 1024)})
	rec := httptest.NewRecorder()
	newTestRouter(api, testUserID).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code, rec.Body.String())
}

func TestDeleteArchive(t *testing.T) {
	env := setupAPI(t, 0)
	env.insert(t, "a.txt", "text/plain", "a")
	env.insert(t, "b.txt", "text/plain", "b")

	rec := env.do(httptest.NewRequest(http.MethodDelete, "/api/FileArchive/4711", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decodeEnvelope(t, rec).IsSuccess)

	list := env.archive.GetListOfFileInfoUIForArchive(context.Background(), "4711")
	require.True(t, list.IsSuccess())
	assert.Empty(t, list.Data)
}

// --- DownloadToken ---

func TestIssueDownloadToken(t *testing.T) {
	env := setupAPI(t, 0)
	id := env.insert(t, "a.txt", "text/plain", "payload")

	body, _ := json.Marshal(map[string]int64{"fileId": id})
	rec := env.do(httptest.NewRequest(http.MethodPost, "/api/FileArchive/DownloadToken", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp downloadTokenResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &resp))
	require.NotEmpty(t, resp.Token)
	assert.True(t, strings.HasPrefix(resp.URL, DownloadPath+"?token="), resp.URL)

	// Выданная ссылка ведёт на скачивание
	rec = env.do(httptest.NewRequest(http.MethodGet, resp.URL, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "payload", rec.Body.String())
}

func TestIssueDownloadToken_Failures(t *testing.T) {
	env := setupAPI(t, 0)

	rec := env.do(httptest.NewRequest(http.MethodPost, "/api/FileArchive/DownloadToken", strings.NewReader(`{"fileId":0}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodPost, "/api/FileArchive/DownloadToken", strings.NewReader(`{"fileId":5}`)))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	router := newTestRouter(env.api, "alice")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/FileArchive/DownloadToken", strings.NewReader(`{"fileId":5}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, []string{MsgUserIDNotNumeric}, decodeEnvelope(t, rec).Messages)
}
