// Пакет s3store — хранилище содержимого файлов в S3-совместимом
// объектном хранилище (AWS S3, MinIO).
//
// Имя бакета и ключ объекта "<папка>/<id>" приводятся к нижнему
// регистру (ограничения именования бакетов).
package s3store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/bigkaa/goartstore/archive-module/internal/blob"
	"github.com/bigkaa/goartstore/archive-module/internal/domain/model"
	"github.com/bigkaa/goartstore/archive-module/internal/result"
)

// API — подмножество методов *s3.Client, используемых хранилищем.
type API interface {
	manager.UploadAPIClient
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// ClientConfig — параметры подключения к объектному хранилищу.
type ClientConfig struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// NewClient создаёт S3 клиент. Для кастомного endpoint (MinIO)
// включается path-style адресация.
func NewClient(ctx context.Context, cfg ClientConfig) (*s3.Client, error) {
	var configOptions []func(*awsConfig.LoadOptions) error
	configOptions = append(configOptions, awsConfig.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		credProvider := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(credProvider))
	}

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации AWS: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// Store — реализация blob.Store поверх S3.
type Store struct {
	client   API
	uploader *manager.Uploader
	bucket   string
	folder   string
	maxSize  *blob.SizeLimit
	gate     *blob.Gate
	logger   *slog.Logger

	bucketReady atomic.Bool
}

// New создаёт хранилище. container и folder приводятся к нижнему регистру.
func New(client API, container, folder string, maxFileSize int64, gate *blob.Gate, logger *slog.Logger) *Store {
	if gate == nil {
		panic("s3store: gate не задан")
	}
	return &Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   BucketName(container),
		folder:   strings.ToLower(strings.Trim(folder, "/")),
		maxSize:  blob.NewSizeLimit(maxFileSize),
		gate:     gate,
		logger:   logger.With(slog.String("component", "blob_s3")),
	}
}

// BucketName приводит имя контейнера к допустимому имени бакета.
func BucketName(container string) string {
	return strings.ToLower(container)
}

// ObjectKey строит ключ объекта для ID.
func ObjectKey(folder string, id int64) string {
	folder = strings.ToLower(strings.Trim(folder, "/"))
	if folder == "" {
		return blob.Key(id)
	}
	return path.Join(folder, blob.Key(id))
}

// Bucket возвращает имя бакета.
func (s *Store) Bucket() string {
	return s.bucket
}

// SetMaxFileSize меняет лимит размера.
func (s *Store) SetMaxFileSize(n int64) {
	s.maxSize.Set(n)
}

// trackingReader запоминает ошибку чтения источника, чтобы отличить
// превышение лимита от сбоя загрузки.
type trackingReader struct {
	r   io.Reader
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF {
		t.err = err
	}
	return n, err
}

// StoreFile загружает содержимое. Бакет создаётся при первой записи.
// Загрузка, прерванная превышением лимита, не оставляет объекта.
func (s *Store) StoreFile(ctx context.Context, id int64, file model.Payload) result.Result {
	maxBytes := s.maxSize.Get()
	src, r := blob.OpenPayload(file, maxBytes, s.logger)
	if !r.IsSuccess() {
		return r
	}
	defer src.Close()

	if err := s.ensureBucket(ctx); err != nil {
		return s.fail("store", id, err)
	}

	body := &trackingReader{r: src}
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ObjectKey(s.folder, id)),
		Body:   body,
	}
	if ct := file.ContentType(); ct != "" {
		input.ContentType = aws.String(ct)
	}

	if _, err := s.uploader.Upload(ctx, input); err != nil {
		if errors.Is(body.err, model.ErrPayloadTooLarge) || errors.Is(err, model.ErrPayloadTooLarge) {
			return blob.CopyFailed(file, maxBytes, model.ErrPayloadTooLarge)
		}
		return s.fail("store", id, fmt.Errorf("ошибка загрузки объекта: %w", err))
	}

	s.logger.Debug("Объект сохранён",
		slog.Int64("id", id),
		slog.String("bucket", s.bucket),
		slog.String("filename", file.Name()),
	)
	return result.Success()
}

// OpenStoredFile проверяет задержку выпуска и открывает объект.
func (s *Store) OpenStoredFile(ctx context.Context, id int64) result.Value[io.ReadCloser] {
	if r := s.gate.Check(ctx, id); !r.IsSuccess() {
		return result.Fail[io.ReadCloser](r)
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ObjectKey(s.folder, id)),
	})
	if err != nil {
		var notFound *types.NoSuchKey
		if errors.As(err, &notFound) {
			err = fmt.Errorf("объект %d отсутствует: %w", id, err)
		} else {
			err = fmt.Errorf("ошибка получения объекта: %w", err)
		}
		return result.Fail[io.ReadCloser](s.fail("open", id, err))
	}
	return result.SuccessWith(out.Body)
}

// DeleteStoredFile удаляет объект. S3 не сообщает об отсутствии ключа.
func (s *Store) DeleteStoredFile(ctx context.Context, id int64) result.Result {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ObjectKey(s.folder, id)),
	})
	if err != nil {
		var notFound *types.NoSuchKey
		if errors.As(err, &notFound) {
			return result.Success()
		}
		return s.fail("delete", id, fmt.Errorf("ошибка удаления объекта: %w", err))
	}
	return result.Success()
}

// ListStoredFileIDs перечисляет ID объектов в папке.
func (s *Store) ListStoredFileIDs(ctx context.Context) result.Value[[]int64] {
	prefix := ""
	if s.folder != "" {
		prefix = s.folder + "/"
	}

	var ids []int64
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			var noBucket *types.NoSuchBucket
			if errors.As(err, &noBucket) {
				return result.SuccessWith([]int64{})
			}
			return result.Fail[[]int64](s.fail("list", 0, fmt.Errorf("ошибка листинга объектов: %w", err)))
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if id, ok := blob.ParseKey(name); ok {
				ids = append(ids, id)
			}
		}
	}
	if ids == nil {
		ids = []int64{}
	}
	return result.SuccessWith(ids)
}

// Ping проверяет доступность бакета (readiness).
// Ещё не созданный бакет не считается ошибкой.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("бакет %s недоступен: %w", s.bucket, err)
	}
	return nil
}

// ensureBucket создаёт бакет, если его ещё нет.
func (s *Store) ensureBucket(ctx context.Context) error {
	if s.bucketReady.Load() {
		return nil
	}

	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		s.bucketReady.Store(true)
		return nil
	}
	var notFound *types.NotFound
	if !errors.As(err, &notFound) {
		return fmt.Errorf("ошибка проверки бакета %s: %w", s.bucket, err)
	}

	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if !errors.As(err, &owned) {
			return fmt.Errorf("ошибка создания бакета %s: %w", s.bucket, err)
		}
	}
	s.logger.Info("Бакет создан", slog.String("bucket", s.bucket))
	s.bucketReady.Store(true)
	return nil
}

func (s *Store) fail(op string, id int64, err error) result.Result {
	s.logger.Error("Ошибка объектного хранилища",
		slog.String("operation", op),
		slog.Int64("id", id),
		slog.String("bucket", s.bucket),
		slog.String("error", err.Error()),
	)
	return result.Fatal(blob.MsgGenericError)
}
