package gcp

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/hivedesk/membership-backend/internal/logger"
	"github.com/hivedesk/membership-backend/internal/utils"
)

// BucketService is the object-store seam. Certificates and partner export
// files land under one documents bucket.
type BucketService interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	Download(ctx context.Context, key string) ([]byte, error)
	PublicURL(key string) string
}

type bucketService struct {
	log           *logger.Logger
	storageClient *storage.Client
	bucketName    string
	publicBaseURL string
	timeout       time.Duration
}

func NewBucketService(ctx context.Context, log *logger.Logger) (BucketService, error) {
	serviceLog := log.With("service", "BucketService")

	bucketName := strings.TrimSpace(utils.GetEnv("DOCUMENTS_GCS_BUCKET_NAME", "", log))
	if bucketName == "" {
		return nil, fmt.Errorf("missing env var DOCUMENTS_GCS_BUCKET_NAME")
	}
	publicBaseURL := strings.TrimRight(utils.GetEnv("DOCUMENTS_PUBLIC_BASE_URL", "https://storage.googleapis.com", log), "/")
	timeoutSec := utils.GetEnvAsInt("DOCUMENTS_GCS_TIMEOUT_SECONDS", 30, log)

	var opts []option.ClientOption
	if emulator := strings.TrimSpace(utils.GetEnv("STORAGE_EMULATOR_HOST", "", log)); emulator != "" {
		serviceLog.Info("Using storage emulator", "host", emulator)
		opts = append(opts, option.WithoutAuthentication())
	}

	storageClient, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}

	return &bucketService{
		log:           serviceLog,
		storageClient: storageClient,
		bucketName:    bucketName,
		publicBaseURL: publicBaseURL,
		timeout:       time.Duration(timeoutSec) * time.Second,
	}, nil
}

func (s *bucketService) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	if key == "" {
		return fmt.Errorf("object key required")
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	w := s.storageClient.Bucket(s.bucketName).Object(key).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("write object %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize object %s: %w", key, err)
	}
	return nil
}

func (s *bucketService) Download(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	r, err := s.storageClient.Bucket(s.bucketName).Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open object %s: %w", key, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return data, nil
}

func (s *bucketService) PublicURL(key string) string {
	return fmt.Sprintf("%s/%s/%s", s.publicBaseURL, s.bucketName, key)
}
