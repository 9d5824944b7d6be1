package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigkaa/goartstore/archive-module/internal/blob"
	"github.com/bigkaa/goartstore/archive-module/internal/config"
	"github.com/bigkaa/goartstore/archive-module/internal/credential"
	"github.com/bigkaa/goartstore/archive-module/internal/domain/model"
	"github.com/bigkaa/goartstore/archive-module/internal/service"
)

// setTestEnv задаёт минимальную конфигурацию: JSON-метаданные и директория блобов.
func setTestEnv(t *testing.T) (metaDir, blobDir string) {
	t.Helper()
	root := t.TempDir()
	metaDir = filepath.Join(root, "meta")
	blobDir = filepath.Join(root, "blobs")

	t.Setenv("FA_LOG_LEVEL", "error")
	t.Setenv("FA_MAX_FILE_SIZE", "1048576")
	t.Setenv("FA_METADATA_BACKEND", "json")
	t.Setenv("FA_METADATA_PATH", metaDir)
	t.Setenv("FA_BLOB_BACKEND", "folder")
	t.Setenv("FA_BLOB_PATH", blobDir)
	t.Setenv("FA_TOKEN_SECRET", "cmd-test-secret")
	t.Setenv("FA_TOKEN_ISSUER", "archive-module")
	t.Setenv("FA_TOKEN_AUDIENCE", "archive-download")
	return metaDir, blobDir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestMintToken(t *testing.T) {
	setTestEnv(t)

	out, err := execute(t, "mint-token", "--user", "8888", "--file", "7")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2, out)
	assert.True(t, strings.HasPrefix(lines[1], "/api/FileArchive/DownloadFile?token="), lines[1])

	tokens, err := credential.New(credential.Config{
		Secret: "cmd-test-secret", Issuer: "archive-module", Audience: "archive-download", Expiry: time.Hour,
	})
	require.NoError(t, err)
	subject := tokens.ReadUserIDAndFileID(context.Background(), lines[0])
	require.True(t, subject.IsSuccess(), subject.Messages)
	assert.Equal(t, credential.Subject{UserID: 8888, FileID: 7}, subject.Data)
}

func TestMintToken_BadArguments(t *testing.T) {
	setTestEnv(t)

	_, err := execute(t, "mint-token", "--user", "alice", "--file", "7")
	assert.True(t, errors.Is(err, errUsage), "ошибка = %v", err)

	_, err = execute(t, "mint-token", "--user", "1", "--file", "0")
	assert.True(t, errors.Is(err, errUsage), "ошибка = %v", err)
}

func TestMigrate_NotRequiredForJSON(t *testing.T) {
	setTestEnv(t)
	_, err := execute(t, "migrate")
	assert.NoError(t, err)
}

func TestReconcile_ReportsAndRepairs(t *testing.T) {
	_, blobDir := setTestEnv(t)
	ctx := context.Background()

	cfg, err := config.Load("")
	require.NoError(t, err)
	a, err := buildApp(ctx, cfg, config.SetupLogger(cfg))
	require.NoError(t, err)

	// Запись без содержимого и содержимое без записи
	archive := service.NewArchiveService(a.meta, a.blobs, 0, config.SetupLogger(cfg))
	saved := archive.SaveChanges(ctx, "8888", "4711", []*model.UIFileOperation{{Filename: "empty.txt", Insert: true}})
	require.True(t, saved.IsSuccess(), saved.Messages)
	a.Close()

	orphan := filepath.Join(blobDir, blob.Key(999))
	require.NoError(t, os.WriteFile(orphan, []byte("orphan"), 0o600))

	out, err := execute(t, "reconcile")
	require.NoError(t, err)
	var report service.ReconcileReport
	require.NoError(t, json.Unmarshal([]byte(out), &report), out)
	assert.Len(t, report.Issues, 2)
	assert.FileExists(t, orphan)

	_, err = execute(t, "reconcile", "--repair")
	require.NoError(t, err)
	assert.NoFileExists(t, orphan)
}

func TestBuildApp_UnknownBackend(t *testing.T) {
	setTestEnv(t)
	cfg, err := config.Load("")
	require.NoError(t, err)

	cfg.BlobBackend = "tape"
	_, err = buildApp(context.Background(), cfg, config.SetupLogger(cfg))
	assert.Error(t, err)
}

func TestBuildApp_Checkers(t *testing.T) {
	setTestEnv(t)
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.CacheSize = 10

	a, err := buildApp(context.Background(), cfg, config.SetupLogger(cfg))
	require.NoError(t, err)
	defer a.Close()

	names := make([]string, 0, len(a.checkers))
	for _, c := range a.checkers {
		status, msg := c.CheckReady(context.Background())
		assert.Equal(t, "ok", status, msg)
		names = append(names, c.Name())
	}
	assert.Equal(t, []string{"metadata_json", "blob_folder"}, names)
}

func TestMaxRequestBytes(t *testing.T) {
	a := &app{cfg: &config.Config{MaxFileSize: 1024}}
	assert.Equal(t, int64(1024*batchBodyFiles+batchBodyOverhead), a.maxRequestBytes())

	a.cfg.MaxFileSize = math.MaxInt64 / 2
	assert.Equal(t, int64(0), a.maxRequestBytes())
}

func TestCredentials_SingleUseMemory(t *testing.T) {
	setTestEnv(t)
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.TokenSingleUse = true

	a := &app{cfg: cfg, logger: config.SetupLogger(cfg)}
	tokens, err := a.credentials()
	require.NoError(t, err)

	token := tokens.BuildTokenForFileDownload("8888", 1)
	require.True(t, token.IsSuccess())

	first := tokens.ReadUserIDAndFileID(context.Background(), token.Data)
	require.True(t, first.IsSuccess(), first.Messages)
	second := tokens.ReadUserIDAndFileID(context.Background(), token.Data)
	assert.Equal(t, []string{credential.MsgTokenUsed}, second.Messages)
}
