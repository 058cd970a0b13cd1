package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"craftworker/core/apperr"
	"craftworker/logger"
	"craftworker/metrics"
	"craftworker/model"
)

// PartSource downloads the bytes of a podcast part.
type PartSource interface {
	FetchPart(ctx context.Context, id string) (io.ReadCloser, error)
}

// statusCoder is implemented by source errors that carry an upstream HTTP status.
type statusCoder interface {
	StatusCode() int
}

// PartCache resolves file references to local paths.
// Podcast parts are downloaded once into dir and trusted afterwards.
// User inputs are read in place from inputDir.
type PartCache struct {
	dir      string
	inputDir string
	source   PartSource
	log      *zap.Logger

	mu    sync.RWMutex
	index map[string]struct{}
}

// NewPartCache creates the cache directory and indexes its current content.
func NewPartCache(dir, inputDir string, source PartSource) (*PartCache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create cache dir %s: %w", dir, err)
	}

	c := &PartCache{
		dir:      dir,
		inputDir: inputDir,
		source:   source,
		log:      logger.Named("part-cache"),
		index:    make(map[string]struct{}),
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read cache dir %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.Type().IsRegular() && !isTemp(e.Name()) {
			c.index[e.Name()] = struct{}{}
		}
	}
	metrics.SetCachedParts(len(c.index))

	return c, nil
}

// ValidID reports whether id can name a file directly inside a directory.
func ValidID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, `/\`) && filepath.Base(id) == id
}

// Path is the cache location of a podcast part.
func (c *PartCache) Path(id string) string {
	return filepath.Join(c.dir, id)
}

// Len returns the number of indexed parts.
func (c *PartCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.index)
}

// Has reports whether id is in the index.
func (c *PartCache) Has(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.index[id]
	return ok
}

// Resolve returns the local file for ref, downloading podcast parts on first use.
func (c *PartCache) Resolve(ctx context.Context, ref model.FileRef) (model.ResolvedFile, error) {
	switch ref.Kind {
	case model.KindPodcastPart:
		path, err := c.resolvePart(ctx, ref.ID)
		if err != nil {
			return model.ResolvedFile{}, err
		}
		return model.ResolvedFile{FileRef: ref, LocalPath: path}, nil

	case model.KindUserInput:
		path, err := c.resolveInput(ref.ID)
		if err != nil {
			return model.ResolvedFile{}, err
		}
		return model.ResolvedFile{FileRef: ref, LocalPath: path}, nil

	default:
		return model.ResolvedFile{}, apperr.UnsupportedKind(string(ref.Kind))
	}
}

// ResolveAll resolves refs concurrently. The first failure cancels the rest.
// Results keep the order of refs.
func (c *PartCache) ResolveAll(ctx context.Context, refs []model.FileRef) ([]model.ResolvedFile, error) {
	resolved := make([]model.ResolvedFile, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	for i, ref := range refs {
		i, ref := i, ref
		g.Go(func() error {
			r, err := c.Resolve(gctx, ref)
			if err != nil {
				return err
			}
			resolved[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return resolved, nil
}

func (c *PartCache) resolvePart(ctx context.Context, id string) (string, error) {
	if !ValidID(id) {
		return "", apperr.Payload(fmt.Sprintf("invalid podcast part id %q", id))
	}

	path := c.Path(id)
	if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
		metrics.RecordCacheLookup(metrics.CacheHit)
		return path, nil
	}

	if err := c.download(ctx, id, path); err != nil {
		metrics.RecordCacheLookup(metrics.CacheError)
		status := 0
		var sc statusCoder
		if errors.As(err, &sc) {
			status = sc.StatusCode()
		}
		c.log.Warn("Failed to fetch podcast part",
			zap.String("id", id),
			zap.Int("status", status),
			logger.ErrorField(err))
		return "", apperr.StorageFetch(id, status, err)
	}

	metrics.RecordCacheLookup(metrics.CacheMiss)
	c.add(id)
	return path, nil
}

// download writes the part to a temp file and renames it into place,
// so readers never see a partial file.
func (c *PartCache) download(ctx context.Context, id, path string) error {
	body, err := c.source.FetchPart(ctx, id)
	if err != nil {
		return err
	}
	defer body.Close()

	tmp, err := os.CreateTemp(c.dir, tempPrefix+id+"-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	n, err := io.Copy(tmp, body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write part %s: %w", id, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("move part %s into cache: %w", id, err)
	}

	c.log.Info("Cached podcast part", zap.String("id", id), logger.Int64("bytes", n))
	return nil
}

func (c *PartCache) resolveInput(id string) (string, error) {
	if !ValidID(id) {
		return "", apperr.Payload(fmt.Sprintf("invalid user input id %q", id))
	}
	path := filepath.Join(c.inputDir, id)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", apperr.StorageFetch(id, 404, err)
		}
		return "", apperr.StorageFetch(id, 0, err)
	}
	if !info.Mode().IsRegular() {
		return "", apperr.StorageFetch(id, 404, fmt.Errorf("%s is not a regular file", path))
	}
	return path, nil
}

const tempPrefix = ".fetch-"

func isTemp(name string) bool {
	return strings.HasPrefix(name, ".")
}

func (c *PartCache) add(id string) {
	c.mu.Lock()
	c.index[id] = struct{}{}
	n := len(c.index)
	c.mu.Unlock()
	metrics.SetCachedParts(n)
}

func (c *PartCache) remove(id string) {
	c.mu.Lock()
	delete(c.index, id)
	n := len(c.index)
	c.mu.Unlock()
	metrics.SetCachedParts(n)
}

// Watch keeps the index in step with files added or removed outside the worker.
// It blocks until ctx is done.
func (c *PartCache) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create cache watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(c.dir); err != nil {
		return fmt.Errorf("watch cache dir %s: %w", c.dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name := filepath.Base(event.Name)
			if isTemp(name) {
				continue
			}
			switch {
			case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
				c.add(name)
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				c.remove(name)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.log.Warn("Cache watcher error", logger.ErrorField(err))
		}
	}
}
