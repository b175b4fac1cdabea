package storage

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"hn-digest/config"
	"hn-digest/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// NewS3Client erstellt einen S3-Client für einen S3-kompatiblen Endpunkt.
func NewS3Client(ctx context.Context, cfg *config.Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.ArchiveS3Region),
	}
	if cfg.ArchiveS3Key != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.ArchiveS3Key, cfg.ArchiveS3Secret, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.ArchiveS3URL != "" {
			o.BaseEndpoint = aws.String(cfg.ArchiveS3URL)
			o.UsePathStyle = true
		}
	}), nil
}

// ObjectPutter ist der Teil des S3-Clients, den der Archiver braucht.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver legt Roh-Snapshots geernteter Stories als gzip-JSON in S3 ab.
type Archiver struct {
	client ObjectPutter
	bucket string
	logger *zap.Logger
}

// NewArchiver erstellt einen Archiver für einen Bucket.
func NewArchiver(client ObjectPutter, bucket string, logger *zap.Logger) *Archiver {
	return &Archiver{client: client, bucket: bucket, logger: logger}
}

// ArchiveKey liefert den Objektschlüssel raw/<yyyy-mm-dd>/<id>.json.gz.
func ArchiveKey(storyID string, at time.Time) string {
	return fmt.Sprintf("raw/%s/%s.json.gz", at.UTC().Format(models.AnalysisDateLayout), storyID)
}

// ArchiveStory lädt den Snapshot hoch und gibt den Objektschlüssel zurück.
func (a *Archiver) ArchiveStory(ctx context.Context, story models.ScrapedStory, at time.Time) (string, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := json.NewEncoder(zw).Encode(story); err != nil {
		return "", fmt.Errorf("snapshot nicht serialisierbar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", err
	}

	key := ArchiveKey(story.ID, at)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(buf.Bytes()),
		ContentType:     aws.String("application/json"),
		ContentEncoding: aws.String("gzip"),
	})
	if err != nil {
		return "", fmt.Errorf("fehler beim hochladen nach s3: %w", err)
	}
	a.logger.Debug("Roh-Snapshot archiviert.", zap.String("story_id", story.ID), zap.String("key", key), zap.Int("bytes", buf.Len()))
	return key, nil
}
