package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/lookout/am"
	"github.com/teranos/lookout/errors"
)

type fakeS3 struct {
	inputs []*s3.PutObjectInput
	bodies []string
	err    error
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, string(b))
	return &s3.PutObjectOutput{}, nil
}

func writeReport(t *testing.T) string {
	p := filepath.Join(t.TempDir(), "report_cats_1.html")
	require.NoError(t, os.WriteFile(p, []byte("<html>cats</html>"), 0o644))
	return p
}

func TestPublish(t *testing.T) {
	fake := &fakeS3{}
	p := newS3Publisher(fake, "reports-bucket", "/lookout/reports/")

	require.NoError(t, p.Publish(context.Background(), "report_cats_1.html", writeReport(t)))
	require.Len(t, fake.inputs, 1)

	in := fake.inputs[0]
	assert.Equal(t, "reports-bucket", aws.ToString(in.Bucket))
	assert.Equal(t, "lookout/reports/report_cats_1.html", aws.ToString(in.Key))
	assert.Equal(t, ReportContentType, aws.ToString(in.ContentType))
	assert.Equal(t, int64(17), aws.ToInt64(in.ContentLength))
	assert.Equal(t, "<html>cats</html>", fake.bodies[0])
}

func TestPublish_Errors(t *testing.T) {
	fake := &fakeS3{err: errors.New("AccessDenied")}
	p := newS3Publisher(fake, "b", "")

	err := p.Publish(context.Background(), "r.html", writeReport(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3://b/r.html")

	err = p.Publish(context.Background(), "r.html", filepath.Join(t.TempDir(), "missing.html"))
	assert.Error(t, err)
}

func TestKey(t *testing.T) {
	p := newS3Publisher(&fakeS3{}, "b", "")
	assert.Equal(t, "report.html", p.Key("../../report.html"))

	p = newS3Publisher(&fakeS3{}, "b", "reports")
	assert.Equal(t, "reports/report.html", p.Key(`sub\report.html`))
}

func TestNewS3Publisher_DisabledWithoutBucket(t *testing.T) {
	p, err := NewS3Publisher(context.Background(), am.S3Config{})
	assert.NoError(t, err)
	assert.Nil(t, p)
}

func TestNewS3Publisher_StaticCredentials(t *testing.T) {
	p, err := NewS3Publisher(context.Background(), am.S3Config{
		Bucket:          "b",
		Region:          "eu-west-1",
		Endpoint:        "http://minio.internal:9000",
		PathStyle:       true,
		AccessKeyID:     "AKIA",
		SecretAccessKey: "secret",
	})
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "b", p.bucket)
}
