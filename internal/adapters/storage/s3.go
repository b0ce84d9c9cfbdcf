package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dkeye/Conference/internal/config"
	"github.com/rs/zerolog/log"
)

type putObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 uploads recordings to a bucket under a key prefix.
type S3 struct {
	client putObjectAPI
	bucket string
	prefix string
	// Keep removes the local copy after upload when false.
	Keep bool
}

func NewS3(ctx context.Context, cfg config.S3Config) (*S3, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return newS3(s3.NewFromConfig(awsCfg), cfg.Bucket, cfg.Prefix), nil
}

func newS3(client putObjectAPI, bucket, prefix string) *S3 {
	return &S3{client: client, bucket: bucket, prefix: prefix, Keep: true}
}

func (s *S3) key(localPath string) string {
	return path.Join(s.prefix, filepath.Base(localPath))
}

// Save uploads the file and returns its s3:// location.
func (s *S3) Save(ctx context.Context, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()

	key := s.key(localPath)
	start := time.Now()
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("video/webm"),
		Metadata: map[string]string{
			"original-filename": filepath.Base(localPath),
			"upload-time":       start.UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	loc := fmt.Sprintf("s3://%s/%s", s.bucket, key)
	log.Info().Str("module", "storage").Str("location", loc).Dur("took", time.Since(start)).Msg("recording uploaded")

	if !s.Keep {
		if err := os.Remove(localPath); err != nil {
			log.Warn().Err(err).Str("module", "storage").Str("path", localPath).Msg("remove local copy")
		}
	}
	return loc, nil
}
