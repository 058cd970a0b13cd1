package storage

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
)

// BucketStats summarizes the objects under a prefix.
type BucketStats struct {
	TotalObjects int64
	TotalSize    int64
	LastModified time.Time
	ByExt        map[string]int64
}

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ContentType  string
}

// ListObjects lists objects under prefix and aggregates their stats.
func (s *MinioStore) ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, *BucketStats, error) {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return nil, nil, fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		return nil, nil, fmt.Errorf("bucket %s does not exist", s.bucket)
	}

	stats := &BucketStats{ByExt: make(map[string]int64)}
	var objects []ObjectInfo

	for object := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if object.Err != nil {
			return nil, nil, fmt.Errorf("list objects: %w", object.Err)
		}
		info := ObjectInfo{
			Key:          object.Key,
			Size:         object.Size,
			LastModified: object.LastModified,
			ContentType:  object.ContentType,
		}
		objects = append(objects, info)
		stats.add(info)
	}

	return objects, stats, nil
}

func (st *BucketStats) add(obj ObjectInfo) {
	st.TotalObjects++
	st.TotalSize += obj.Size
	if obj.LastModified.After(st.LastModified) {
		st.LastModified = obj.LastModified
	}
	st.ByExt[fileExtension(obj.Key)]++
}

// DeletePrefix removes every object under prefix and returns how many were removed.
func (s *MinioStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	if prefix == "" {
		return 0, fmt.Errorf("refusing to delete without a prefix")
	}

	objects, _, err := s.ListObjects(ctx, prefix)
	if err != nil {
		return 0, err
	}
	if len(objects) == 0 {
		return 0, fmt.Errorf("prefix %s is empty or does not exist", prefix)
	}

	objectsCh := make(chan minio.ObjectInfo, len(objects))
	for _, obj := range objects {
		objectsCh <- minio.ObjectInfo{Key: obj.Key}
	}
	close(objectsCh)

	for rerr := range s.client.RemoveObjects(ctx, s.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		if rerr.Err != nil {
			return 0, fmt.Errorf("remove %s: %w", rerr.ObjectName, rerr.Err)
		}
	}
	return len(objects), nil
}

// PrintTree writes the objects grouped by directory to w.
func PrintTree(w io.Writer, objects []ObjectInfo) {
	dirs := make(map[string][]ObjectInfo)
	for _, obj := range objects {
		dir := ""
		if i := strings.LastIndex(obj.Key, "/"); i >= 0 {
			dir = obj.Key[:i]
		}
		dirs[dir] = append(dirs[dir], obj)
	}

	names := make([]string, 0, len(dirs))
	for d := range dirs {
		names = append(names, d)
	}
	sort.Strings(names)

	for _, d := range names {
		indent := ""
		if d != "" {
			indent = strings.Repeat("  ", strings.Count(d, "/"))
			fmt.Fprintf(w, "%s📁 %s/\n", indent, d)
			indent += "  "
		}
		for _, obj := range dirs[d] {
			fmt.Fprintf(w, "%s📄 %s (%s)\n", indent, strings.TrimPrefix(obj.Key, d+"/"), FormatSize(obj.Size))
		}
	}
}

// FormatSize renders size in human units.
func FormatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}

// fileExtension returns the lowercase extension of filename, or "unknown".
func fileExtension(filename string) string {
	base := filename[strings.LastIndex(filename, "/")+1:]
	if i := strings.LastIndex(base, "."); i >= 0 {
		return strings.ToLower(base[i+1:])
	}
	return "unknown"
}
