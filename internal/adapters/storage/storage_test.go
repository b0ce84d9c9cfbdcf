package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dkeye/Conference/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	err    error
	bucket string
	key    string
	body   []byte
	ctype  string
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.bucket = aws.ToString(in.Bucket)
	f.key = aws.ToString(in.Key)
	f.ctype = aws.ToString(in.ContentType)
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.body = b
	return &s3.PutObjectOutput{}, nil
}

func writeRecording(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "room_1700000000000.webm")
	require.NoError(t, os.WriteFile(p, []byte("webm-bytes"), 0o644))
	return p
}

func TestS3Save(t *testing.T) {
	fake := &fakeS3{}
	s := newS3(fake, "recs", "recordings/")
	p := writeRecording(t)

	loc, err := s.Save(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "s3://recs/recordings/room_1700000000000.webm", loc)
	assert.Equal(t, "recs", fake.bucket)
	assert.Equal(t, "recordings/room_1700000000000.webm", fake.key)
	assert.Equal(t, "video/webm", fake.ctype)
	assert.Equal(t, "webm-bytes", string(fake.body))
	assert.FileExists(t, p)
}

func TestS3SaveRemovesLocalCopy(t *testing.T) {
	s := newS3(&fakeS3{}, "recs", "")
	s.Keep = false
	p := writeRecording(t)

	_, err := s.Save(context.Background(), p)
	require.NoError(t, err)
	assert.NoFileExists(t, p)
}

func TestS3SaveFailure(t *testing.T) {
	s := newS3(&fakeS3{err: errors.New("denied")}, "recs", "")
	p := writeRecording(t)

	_, err := s.Save(context.Background(), p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "denied")
	assert.FileExists(t, p)

	_, err = s.Save(context.Background(), filepath.Join(t.TempDir(), "missing.webm"))
	assert.Error(t, err)
}

func TestLocalSave(t *testing.T) {
	p := writeRecording(t)
	loc, err := NewLocal(filepath.Dir(p)).Save(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, p, loc)

	_, err = NewLocal("").Save(context.Background(), filepath.Join(t.TempDir(), "missing.webm"))
	assert.Error(t, err)
}

func TestNewPicksLocalWithoutBucket(t *testing.T) {
	s, err := New(context.Background(), config.RecordingConfig{Dir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &Local{}, s)
}
