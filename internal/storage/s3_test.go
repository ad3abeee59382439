package storage

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 keeps objects in memory and pages listings pageSize keys at a time.
type fakeS3 struct {
	objects  map[string][]byte
	pageSize int
	putErr   error
	listErr  error
	buckets  []string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, pageSize: 2}
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.buckets = append(f.buckets, aws.ToString(params.Bucket))
	f.objects[aws.ToString(params.Key)] = body
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(params.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if tok := aws.ToString(params.ContinuationToken); tok != "" {
		for i, k := range keys {
			if k == tok {
				start = i
				break
			}
		}
	}
	end := start + f.pageSize
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	if end < len(keys) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(keys[end])
	} else {
		end = len(keys)
	}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func TestS3_keys(t *testing.T) {
	api := newFakeS3()
	s := newS3WithAPI("replays", sessionPrefix("/recordings/", "KR", "77"), api)
	ctx := context.Background()

	require.NoError(t, s.StoreChunk(ctx, 12, []byte("c12")))
	require.NoError(t, s.StoreKeyFrame(ctx, 3, []byte("k3")))

	assert.Equal(t, []byte("c12"), api.objects["recordings/KR/77/game_data_chunks/12"])
	assert.Equal(t, []byte("k3"), api.objects["recordings/KR/77/keyframes/3"])
	assert.Equal(t, []string{"replays", "replays"}, api.buckets)
	assert.Equal(t, "S3Storage: bucket: replays, prefix: recordings/KR/77", s.Describe())
}

func TestS3_emptyPrefix(t *testing.T) {
	assert.Equal(t, "KR/77", sessionPrefix("", "KR", "77"))
}

func TestS3_inventoryPaginates(t *testing.T) {
	api := newFakeS3()
	s := newS3WithAPI("replays", "KR/77", api)
	ctx := context.Background()

	for _, id := range []uint32{5, 1, 3, 2, 4} {
		require.NoError(t, s.StoreChunk(ctx, id, []byte("x")))
	}
	require.NoError(t, s.StoreKeyFrame(ctx, 2, []byte("k")))
	// Objects of another session share the bucket.
	api.objects["KR/770/game_data_chunks/9"] = []byte("other")

	chunks, err := s.ChunkIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2, 3, 4, 5}, chunks)

	keyFrames, err := s.KeyFrameIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint32{2}, keyFrames)
}

func TestS3_errors(t *testing.T) {
	api := newFakeS3()
	api.putErr = errors.New("access denied")
	api.listErr = errors.New("slow down")
	s := newS3WithAPI("replays", "KR/1", api)

	assert.ErrorContains(t, s.StoreChunk(context.Background(), 1, nil), "access denied")
	_, err := s.ChunkIDs(context.Background())
	assert.ErrorContains(t, err, "slow down")
}

func TestNewS3_validation(t *testing.T) {
	_, err := NewS3(context.Background(), S3Config{Region: "us-east-1"}, "KR", "1")
	assert.Error(t, err)
	_, err = NewS3(context.Background(), S3Config{Bucket: "b"}, "KR", "1")
	assert.Error(t, err)
}
