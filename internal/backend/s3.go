package backend

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/starford/albumshare/internal/apperr"
	"github.com/starford/albumshare/internal/models"
)

// S3Config describes a bucket that is listed and uploaded to directly.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // empty for AWS; set for MinIO, B2 and friends
	Prefix          string
	UploadPrefix    string
	AccessKeyID     string
	SecretAccessKey string
	PresignTTL      time.Duration
}

// S3Source lists photos straight from a bucket and issues pre-signed PUT
// URLs as upload slots. Continuation tokens double as page cursors.
type S3Source struct {
	api     *s3.Client
	presign *s3.PresignClient
	cfg     S3Config
	now     func() time.Time
}

// NewS3Source loads AWS configuration with static credentials.
func NewS3Source(ctx context.Context, cfg S3Config) (*S3Source, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("backend: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3SourceFromClient(client, cfg), nil
}

// NewS3SourceFromClient wraps an existing S3 client.
func NewS3SourceFromClient(client *s3.Client, cfg S3Config) *S3Source {
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = 15 * time.Minute
	}
	if cfg.UploadPrefix == "" {
		cfg.UploadPrefix = "uploads/"
	}
	return &S3Source{
		api:     client,
		presign: s3.NewPresignClient(client),
		cfg:     cfg,
		now:     time.Now,
	}
}

// ListPhotos returns the .jpg objects of one ListObjectsV2 page.
func (s *S3Source) ListPhotos(ctx context.Context, limit int, nextToken string) (*models.PhotoPage, error) {
	in := &s3.ListObjectsV2Input{Bucket: aws.String(s.cfg.Bucket)}
	if s.cfg.Prefix != "" {
		in.Prefix = aws.String(s.cfg.Prefix)
	}
	if limit > 0 {
		in.MaxKeys = aws.Int32(int32(limit))
	}
	if nextToken != "" {
		in.ContinuationToken = aws.String(nextToken)
	}
	out, err := s.api.ListObjectsV2(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("backend: s3 list: %w: %v", apperr.ErrTransport, err)
	}

	page := &models.PhotoPage{Photos: make([]models.Photo, 0, len(out.Contents))}
	for _, obj := range out.Contents {
		key := aws.ToString(obj.Key)
		if !strings.HasSuffix(strings.ToLower(key), ".jpg") {
			continue
		}
		page.Photos = append(page.Photos, models.Photo{Key: key, URL: s.ObjectURL(key)})
	}
	page.Pagination.NextToken = aws.ToString(out.NextContinuationToken)
	page.Pagination.HasMore = aws.ToBool(out.IsTruncated)
	return page, nil
}

// RequestUploadSlot presigns a PUT for uploads/<unix-ms>_<id>_<fileName>.
func (s *S3Source) RequestUploadSlot(ctx context.Context, fileName, fileType string) (*models.UploadSlot, error) {
	name := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return nil, fmt.Errorf("backend: s3 presign: invalid file name %q", fileName)
	}
	key := s.cfg.UploadPrefix + strconv.FormatInt(s.now().UnixMilli(), 10) + "_" + uuid.NewString()[:8] + "_" + name

	in := &s3.PutObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	}
	if fileType != "" {
		in.ContentType = aws.String(fileType)
	}
	req, err := s.presign.PresignPutObject(ctx, in, s3.WithPresignExpires(s.cfg.PresignTTL))
	if err != nil {
		return nil, fmt.Errorf("backend: s3 presign: %w", err)
	}
	return &models.UploadSlot{UploadURL: req.URL, Key: key}, nil
}

// ObjectURL returns the public address of key.
func (s *S3Source) ObjectURL(key string) string {
	escaped := (&url.URL{Path: key}).EscapedPath()
	if s.cfg.Endpoint != "" {
		return strings.TrimSuffix(s.cfg.Endpoint, "/") + "/" + s.cfg.Bucket + "/" + escaped
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.cfg.Bucket, s.cfg.Region, escaped)
}
