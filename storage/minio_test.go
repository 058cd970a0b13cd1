package storage

import (
	"bytes"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectKeys(t *testing.T) {
	assert.Equal(t, "podcast-parts/p1", PartKey("p1"))
	assert.Equal(t, "crafts/job.mp3", CraftKey("job.mp3"))
}

func TestMinioStatusError(t *testing.T) {
	err := minioStatusError("fetch part p1", minio.ErrorResponse{StatusCode: http.StatusNotFound, Code: "NoSuchKey", Message: "The specified key does not exist."})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 404, se.StatusCode())

	err = minioStatusError("fetch part p1", minio.ErrorResponse{Code: "NoSuchBucket"})
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 404, se.StatusCode())

	err = minioStatusError("fetch part p1", errors.New("dial tcp: refused"))
	assert.False(t, errors.As(err, &se))
	assert.Contains(t, err.Error(), "refused")
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "audio/mpeg", contentTypeFor("a.mp3"))
	assert.Equal(t, "audio/flac", contentTypeFor("a.flac"))
	assert.Equal(t, "application/octet-stream", contentTypeFor("a"))
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "512 B", FormatSize(512))
	assert.Equal(t, "1.5 KB", FormatSize(1536))
	assert.Equal(t, "2.0 MB", FormatSize(2*1024*1024))
}

func TestBucketStatsAndTree(t *testing.T) {
	now := time.Now()
	objects := []ObjectInfo{
		{Key: "crafts/a.mp3", Size: 1024, LastModified: now.Add(-time.Hour)},
		{Key: "crafts/b.MP3", Size: 2048, LastModified: now},
		{Key: "readme", Size: 10},
	}
	stats := &BucketStats{ByExt: map[string]int64{}}
	for _, o := range objects {
		stats.add(o)
	}
	assert.Equal(t, int64(3), stats.TotalObjects)
	assert.Equal(t, int64(3082), stats.TotalSize)
	assert.Equal(t, now, stats.LastModified)
	assert.Equal(t, int64(2), stats.ByExt["mp3"])
	assert.Equal(t, int64(1), stats.ByExt["unknown"])

	var buf bytes.Buffer
	PrintTree(&buf, objects)
	assert.Contains(t, buf.String(), "📁 crafts/")
	assert.Contains(t, buf.String(), "  📄 a.mp3 (1.0 KB)")
	assert.Contains(t, buf.String(), "📄 readme (10 B)")
}
