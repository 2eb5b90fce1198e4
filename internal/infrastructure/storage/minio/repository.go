package minio

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/turtacn/molcore/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molcore/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/molcore/pkg/errors"
)

const (
	// ExportPrefix is where batch SDF exports live.
	ExportPrefix = "exports/"

	ContentTypeSDF = "chemical/x-mdl-sdfile"
)

var (
	ErrObjectNotFound = errors.New(errors.CodeNotFound, "object not found")
	ErrInvalidRequest = errors.New(errors.CodeInvalidParam, "invalid request")
)

// ObjectStorageRepository stores objects in the configured bucket.
type ObjectStorageRepository interface {
	Upload(ctx context.Context, req *UploadRequest) (*UploadResult, error)
	Download(ctx context.Context, objectKey string) (*DownloadResult, error)
	Exists(ctx context.Context, objectKey string) (bool, error)
	Delete(ctx context.Context, objectKey string) error
	List(ctx context.Context, prefix string, maxKeys int) ([]*ObjectMetadata, error)
	// PresignedURL returns a GET link valid for the configured presign expiry.
	PresignedURL(ctx context.Context, objectKey string) (string, error)
}

type UploadRequest struct {
	ObjectKey   string
	Data        []byte
	ContentType string
	Metadata    map[string]string
}

type UploadResult struct {
	Bucket     string
	ObjectKey  string
	ETag       string
	Size       int64
	VersionID  string
	UploadedAt time.Time
}

// Location is the bucket-qualified object key.
func (r *UploadResult) Location() string {
	return r.Bucket + "/" + r.ObjectKey
}

type DownloadResult struct {
	Data         []byte
	ContentType  string
	Size         int64
	ETag         string
	Metadata     map[string]string
	LastModified time.Time
}

type ObjectMetadata struct {
	ObjectKey    string
	Size         int64
	ETag         string
	LastModified time.Time
}

type minioRepository struct {
	client  *MinIOClient
	logger  logging.Logger
	metrics *prometheus.AppMetrics
}

func NewObjectStorageRepository(client *MinIOClient, log logging.Logger, metrics *prometheus.AppMetrics) ObjectStorageRepository {
	if metrics == nil {
		metrics = prometheus.NewNopAppMetrics()
	}
	return &minioRepository{client: client, logger: log, metrics: metrics}
}

func (r *minioRepository) Upload(ctx context.Context, req *UploadRequest) (*UploadResult, error) {
	if req == nil || req.ObjectKey == "" {
		return nil, ErrInvalidRequest
	}
	api, err := r.client.api()
	if err != nil {
		return nil, err
	}
	if req.ContentType == "" && len(req.Data) > 0 {
		req.ContentType = http.DetectContentType(req.Data[:min(512, len(req.Data))])
	}

	bucket := r.client.Bucket()
	info, err := api.PutObject(ctx, bucket, req.ObjectKey, bytes.NewReader(req.Data), int64(len(req.Data)),
		minio.PutObjectOptions{
			ContentType:  req.ContentType,
			UserMetadata: req.Metadata,
			PartSize:     uint64(r.client.config.PartSize),
		})
	if err != nil {
		r.logger.Error("upload failed", logging.String("key", req.ObjectKey), logging.Err(err))
		wrapped := errors.Wrap(err, errors.CodeStorage, "upload failed")
		prometheus.RecordError(r.metrics, "minio", wrapped)
		return nil, wrapped
	}
	r.metrics.StorageBytes.WithLabelValues(bucket).Add(float64(len(req.Data)))

	return &UploadResult{
		Bucket:     bucket,
		ObjectKey:  req.ObjectKey,
		ETag:       info.ETag,
		Size:       info.Size,
		VersionID:  info.VersionID,
		UploadedAt: time.Now().UTC(),
	}, nil
}

func (r *minioRepository) Download(ctx context.Context, objectKey string) (*DownloadResult, error) {
	api, err := r.client.api()
	if err != nil {
		return nil, err
	}
	stat, err := api.StatObject(ctx, r.client.Bucket(), objectKey, minio.StatObjectOptions{})
	if err != nil {
		return nil, statError(err)
	}

	obj, err := api.GetObject(ctx, r.client.Bucket(), objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeStorage, "download failed")
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeStorage, "download failed")
	}

	return &DownloadResult{
		Data:         data,
		ContentType:  stat.ContentType,
		Size:         stat.Size,
		ETag:         stat.ETag,
		Metadata:     stat.UserMetadata,
		LastModified: stat.LastModified,
	}, nil
}

func (r *minioRepository) Exists(ctx context.Context, objectKey string) (bool, error) {
	api, err := r.client.api()
	if err != nil {
		return false, err
	}
	_, err = api.StatObject(ctx, r.client.Bucket(), objectKey, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, errors.Wrap(err, errors.CodeStorage, "stat failed")
	}
	return true, nil
}

func (r *minioRepository) Delete(ctx context.Context, objectKey string) error {
	api, err := r.client.api()
	if err != nil {
		return err
	}
	if err := api.RemoveObject(ctx, r.client.Bucket(), objectKey, minio.RemoveObjectOptions{}); err != nil {
		return errors.Wrap(err, errors.CodeStorage, "delete failed")
	}
	return nil
}

func (r *minioRepository) List(ctx context.Context, prefix string, maxKeys int) ([]*ObjectMetadata, error) {
	api, err := r.client.api()
	if err != nil {
		return nil, err
	}
	if maxKeys <= 0 {
		maxKeys = 1000
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var out []*ObjectMetadata
	for obj := range api.ListObjects(ctx, r.client.Bucket(), minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, errors.Wrap(obj.Err, errors.CodeStorage, "list failed")
		}
		out = append(out, &ObjectMetadata{
			ObjectKey:    obj.Key,
			Size:         obj.Size,
			ETag:         obj.ETag,
			LastModified: obj.LastModified,
		})
		if len(out) >= maxKeys {
			break
		}
	}
	return out, nil
}

func (r *minioRepository) PresignedURL(ctx context.Context, objectKey string) (string, error) {
	if objectKey == "" {
		return "", ErrInvalidRequest
	}
	return r.client.PresignedGetURL(ctx, objectKey, 0)
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

func statError(err error) error {
	if isNoSuchKey(err) {
		return ErrObjectNotFound
	}
	return errors.Wrap(err, errors.CodeStorage, "stat failed")
}

// SDFStore writes batch exports as SD files.
type SDFStore struct {
	repo ObjectStorageRepository
}

func NewSDFStore(repo ObjectStorageRepository) *SDFStore {
	return &SDFStore{repo: repo}
}

// PutSDF uploads data under key and returns its bucket-qualified location.
// Keys must live under ExportPrefix so the expiry rule applies.
func (s *SDFStore) PutSDF(ctx context.Context, key string, data []byte) (string, error) {
	if !strings.HasPrefix(key, ExportPrefix) || !strings.HasSuffix(key, ".sdf") {
		return "", errors.InvalidParam("export key must match " + ExportPrefix + "<name>.sdf").WithDetail(key)
	}
	res, err := s.repo.Upload(ctx, &UploadRequest{
		ObjectKey:   key,
		Data:        data,
		ContentType: ContentTypeSDF,
	})
	if err != nil {
		return "", err
	}
	return res.Location(), nil
}

// PresignSDF returns a download link for an exported file.
func (s *SDFStore) PresignSDF(ctx context.Context, key string) (string, error) {
	return s.repo.PresignedURL(ctx, key)
}

// GetSDF returns a previously exported file.
func (s *SDFStore) GetSDF(ctx context.Context, key string) ([]byte, error) {
	res, err := s.repo.Download(ctx, key)
	if err != nil {
		return nil, err
	}
	return res.Data, nil
}
