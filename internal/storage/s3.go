package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config configures the S3 backend. Endpoint and ForcePathStyle let it talk
// to S3-compatible stores such as MinIO.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	Prefix          string
	ForcePathStyle  bool
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3 stores payloads as objects keyed
//
//	<prefix>/<platform>/<session>/game_data_chunks/<id>
//	<prefix>/<platform>/<session>/keyframes/<id>
type S3 struct {
	bucket string
	prefix string
	api    s3API
}

// NewS3 builds an S3 backend for one session from the default AWS credential
// chain, overridden by static keys when both are set.
func NewS3(ctx context.Context, cfg S3Config, platformID, sessionID string) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket required")
	}
	if cfg.Region == "" {
		return nil, errors.New("s3 region required")
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return newS3WithAPI(cfg.Bucket, sessionPrefix(cfg.Prefix, platformID, sessionID), client), nil
}

func newS3WithAPI(bucket, prefix string, api s3API) *S3 {
	return &S3{bucket: bucket, prefix: prefix, api: api}
}

func sessionPrefix(prefix, platformID, sessionID string) string {
	return strings.TrimPrefix(path.Join(strings.Trim(prefix, "/"), platformID, sessionID), "/")
}

func (s *S3) Describe() string {
	return fmt.Sprintf("S3Storage: bucket: %s, prefix: %s", s.bucket, s.prefix)
}

func (s *S3) StoreChunk(ctx context.Context, id uint32, data []byte) error {
	return s.put(ctx, s.key(ChunksDir, id), data)
}

func (s *S3) StoreKeyFrame(ctx context.Context, id uint32, data []byte) error {
	return s.put(ctx, s.key(KeyFramesDir, id), data)
}

func (s *S3) ChunkIDs(ctx context.Context) ([]uint32, error) {
	return s.list(ctx, ChunksDir)
}

func (s *S3) KeyFrameIDs(ctx context.Context) ([]uint32, error) {
	return s.list(ctx, KeyFramesDir)
}

func (s *S3) Close() error {
	return nil
}

func (s *S3) key(dir string, id uint32) string {
	return path.Join(s.prefix, dir, strconv.FormatUint(uint64(id), 10))
}

func (s *S3) put(ctx context.Context, key string, body []byte) error {
	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

func (s *S3) list(ctx context.Context, dir string) ([]uint32, error) {
	prefix := path.Join(s.prefix, dir) + "/"
	pager := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	ids := []uint32{}
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if id, ok := parseID(name); ok {
				ids = append(ids, id)
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
