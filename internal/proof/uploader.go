package proof

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/richxcame/driver-agent/pkg/common"
	"github.com/richxcame/driver-agent/pkg/config"
	"github.com/richxcame/driver-agent/pkg/logger"
	"github.com/richxcame/driver-agent/pkg/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// MaxPhotoBytes bounds a single proof photo.
const MaxPhotoBytes = 10 << 20

var uploadsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "driver_agent",
		Subsystem: "proof",
		Name:      "uploads_total",
		Help:      "Proof photo uploads by result",
	},
	[]string{"result"},
)

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
}

// PutObjectAPI is the S3 call the uploader needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Upload is the result of a stored photo
type Upload struct {
	Key         string    `json:"key"`
	Bucket      string    `json:"bucket"`
	TripID      string    `json:"trip_id"`
	ContentType string    `json:"content_type"`
	Size        int       `json:"size"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// Uploader stores delivery proof photos in a bucket.
type Uploader struct {
	client PutObjectAPI
	bucket string
	prefix string
}

// NewUploader creates an uploader over an existing client.
func NewUploader(client PutObjectAPI, bucket, prefix string) *Uploader {
	return &Uploader{client: client, bucket: bucket, prefix: prefix}
}

// NewS3Uploader builds an S3 client from cfg. Static keys are used when
// set; otherwise the default AWS credential chain applies.
func NewS3Uploader(ctx context.Context, cfg config.ProofConfig) (*Uploader, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("proof bucket is not configured")
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewUploader(client, cfg.Bucket, cfg.Prefix), nil
}

// Upload stores photo under <prefix>/<trip>/<uuid><ext>. An empty
// contentType is sniffed from the data.
func (u *Uploader) Upload(ctx context.Context, tripID string, photo []byte, contentType string) (*Upload, error) {
	if tripID == "" {
		return nil, common.NewValidationError("trip id is required")
	}
	if len(photo) == 0 {
		return nil, common.NewValidationError("photo is empty")
	}
	if len(photo) > MaxPhotoBytes {
		return nil, common.NewValidationError(fmt.Sprintf("photo exceeds %d MB", MaxPhotoBytes>>20))
	}
	if contentType == "" {
		contentType = http.DetectContentType(photo)
	}
	ext, ok := extensions[contentType]
	if !ok {
		return nil, common.NewValidationError(fmt.Sprintf("unsupported photo type %q", contentType))
	}

	key := path.Join(u.prefix, tripID, uuid.New().String()+ext)
	attrs := []attribute.KeyValue{
		attribute.String("trip.id", tripID),
		attribute.String("s3.bucket", u.bucket),
		attribute.Int("photo.bytes", len(photo)),
	}
	err := tracing.TraceExternalAPI(ctx, "proof", "s3", "PutObject", attrs, func(ctx context.Context) error {
		_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(u.bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(photo),
			ContentType:   aws.String(contentType),
			ContentLength: aws.Int64(int64(len(photo))),
			Metadata:      map[string]string{"trip-id": tripID},
		})
		return err
	})
	if err != nil {
		uploadsTotal.WithLabelValues("error").Inc()
		logger.WarnContext(ctx, "proof upload failed", zap.String("trip_id", tripID), zap.Error(err))
		return nil, common.NewNetworkError("Could not upload the photo", err)
	}

	uploadsTotal.WithLabelValues("ok").Inc()
	logger.InfoContext(ctx, "proof photo uploaded", zap.String("trip_id", tripID), zap.String("key", key))
	return &Upload{
		Key:         key,
		Bucket:      u.bucket,
		TripID:      tripID,
		ContentType: contentType,
		Size:        len(photo),
		UploadedAt:  time.Now().UTC(),
	}, nil
}
