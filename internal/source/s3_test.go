package source

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	pages     []*s3.ListObjectsV2Output
	pageIdx   int
	pageDelay time.Duration
	body      string
	head      *s3.HeadObjectOutput
	err       error
	lastList  *s3.ListObjectsV2Input
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.pageDelay > 0 {
		time.Sleep(f.pageDelay)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.lastList = params
	page := f.pages[f.pageIdx]
	f.pageIdx++
	return page, nil
}

func (f *fakeS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(f.body))}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.head, nil
}

func newTestClient(api s3API) *S3Client {
	return &S3Client{
		api: api,
		opts: S3Options{
			Bucket:         "bucket",
			Prefix:         "raw/",
			RequestPayer:   "requester",
			RequestTimeout: time.Second,
		},
		logger: zerolog.Nop(),
	}
}

func listObject(key string, modified time.Time) s3types.Object {
	return s3types.Object{
		Key:          aws.String(key),
		LastModified: aws.Time(modified),
		Size:         aws.Int64(128),
	}
}

func TestListObjectsPagination(t *testing.T) {
	now := time.Now().UTC()
	fake := &fakeS3{
		pages: []*s3.ListObjectsV2Output{
			{
				Contents:              []s3types.Object{listObject("raw/a", now), listObject("raw/b", now)},
				IsTruncated:           aws.Bool(true),
				NextContinuationToken: aws.String("token"),
			},
			{
				Contents:    []s3types.Object{listObject("raw/c", now)},
				IsTruncated: aws.Bool(false),
			},
		},
	}

	objects, err := newTestClient(fake).ListObjects(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, objects, 3)
	assert.Equal(t, "raw/a", objects[0].Key)
	assert.Equal(t, "raw/c", objects[2].Key)
	assert.Equal(t, s3types.RequestPayerRequester, fake.lastList.RequestPayer)
}

func TestListObjectsTimeoutIsPerPage(t *testing.T) {
	now := time.Now().UTC()
	truncated := &s3.ListObjectsV2Output{
		Contents:              []s3types.Object{listObject("raw/a", now)},
		IsTruncated:           aws.Bool(true),
		NextContinuationToken: aws.String("token"),
	}
	fake := &fakeS3{
		pages: []*s3.ListObjectsV2Output{
			truncated,
			truncated,
			{Contents: []s3types.Object{listObject("raw/z", now)}, IsTruncated: aws.Bool(false)},
		},
		pageDelay: 50 * time.Millisecond,
	}
	client := &S3Client{
		api:    fake,
		opts:   S3Options{Bucket: "bucket", Prefix: "raw/", RequestTimeout: 80 * time.Millisecond},
		logger: zerolog.Nop(),
	}

	// Three pages of 50ms total 150ms; each page stays inside the 80ms
	// budget, so the listing must not expire mid-pagination.
	objects, err := client.ListObjects(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, objects, 3)
}

func TestListObjectsSinceFilter(t *testing.T) {
	cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	fake := &fakeS3{
		pages: []*s3.ListObjectsV2Output{
			{
				Contents: []s3types.Object{
					listObject("raw/old", cutoff.Add(-time.Hour)),
					listObject("raw/exact", cutoff),
					listObject("raw/new", cutoff.Add(time.Hour)),
				},
				IsTruncated: aws.Bool(false),
			},
		},
	}

	objects, err := newTestClient(fake).ListObjects(context.Background(), &cutoff)
	require.NoError(t, err)
	require.Len(t, objects, 2)
	assert.Equal(t, "raw/exact", objects[0].Key)
	assert.Equal(t, "raw/new", objects[1].Key)
}

func TestDownloadObject(t *testing.T) {
	fake := &fakeS3{body: "payload"}
	content, err := newTestClient(fake).DownloadObject(context.Background(), "raw/a")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), content)
}

func TestClientErrorWrapping(t *testing.T) {
	cause := errors.New("access denied")
	fake := &fakeS3{err: cause}
	client := newTestClient(fake)

	_, err := client.ListObjects(context.Background(), nil)
	var clientErr *ClientError
	require.ErrorAs(t, err, &clientErr)
	assert.Equal(t, "list", clientErr.Op)
	assert.ErrorIs(t, err, cause)

	_, err = client.DownloadObject(context.Background(), "raw/a")
	require.ErrorAs(t, err, &clientErr)
	assert.Equal(t, "raw/a", clientErr.Key)

	_, err = client.GetObjectMetadata(context.Background(), "raw/a")
	require.ErrorAs(t, err, &clientErr)
	assert.Equal(t, "head", clientErr.Op)
}

func TestGetObjectMetadata(t *testing.T) {
	modified := time.Date(2026, 5, 2, 12, 0, 0, 0, time.UTC)
	fake := &fakeS3{head: &s3.HeadObjectOutput{
		LastModified:  aws.Time(modified),
		ContentLength: aws.Int64(4096),
	}}

	obj, err := newTestClient(fake).GetObjectMetadata(context.Background(), "raw/a")
	require.NoError(t, err)
	assert.Equal(t, Object{Key: "raw/a", LastModified: modified, Size: 4096}, obj)
}
