package archive

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
	"github.com/tanq16/streamup/internal/utils"
)

type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Archive copies finished recordings to s3://bucket/prefix/<streamer>/<file>.
type S3Archive struct {
	Bucket string
	Prefix string

	uploader uploader
}

// ParseTarget splits an s3://bucket/prefix URL.
func ParseTarget(target string) (string, string, error) {
	target = strings.TrimPrefix(target, "s3://")
	parts := strings.SplitN(target, "/", 2)
	if parts[0] == "" {
		return "", "", fmt.Errorf("invalid S3 URL format")
	}
	prefix := ""
	if len(parts) > 1 {
		prefix = strings.Trim(parts[1], "/")
	}
	return parts[0], prefix, nil
}

// NewS3Archive loads the AWS config for profile (empty for the default chain)
// and builds a multipart uploader for target.
func NewS3Archive(ctx context.Context, target, profile string) (*S3Archive, error) {
	bucket, prefix, err := ParseTarget(target)
	if err != nil {
		return nil, err
	}
	opts := []func(*config.LoadOptions) error{config.WithRetryMode("adaptive")}
	if profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("error loading AWS config: %v", err)
	}
	client := s3.NewFromConfig(cfg)
	return &S3Archive{
		Bucket: bucket,
		Prefix: prefix,
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			u.PartSize = 16 * 1024 * 1024
			u.Concurrency = 3
		}),
	}, nil
}

func (a *S3Archive) Key(streamer, localPath string) string {
	return path.Join(a.Prefix, streamer, filepath.Base(localPath))
}

// Upload copies the file at localPath and returns its object key.
func (a *S3Archive) Upload(ctx context.Context, streamer, localPath string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("error opening %s: %v", localPath, err)
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("error reading %s: %v", localPath, err)
	}
	key := a.Key(streamer, localPath)
	log.Debug().Str("op", "archive/s3").Msgf("Uploading %s (%s) to s3://%s/%s", localPath, utils.FormatBytes(uint64(info.Size())), a.Bucket, key)
	_, err = a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.Bucket),
		Key:    aws.String(key),
		Body:   file,
	})
	if err != nil {
		return "", fmt.Errorf("error uploading s3://%s/%s: %w", a.Bucket, key, err)
	}
	log.Info().Str("op", "archive/s3").Msgf("Archived %s to s3://%s/%s", filepath.Base(localPath), a.Bucket, key)
	return key, nil
}
