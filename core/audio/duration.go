package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"craftworker/core/apperr"
	"craftworker/logger"
)

// analyzeWaitDelay bounds how long a cancelled ffprobe may keep its output pipes open.
const analyzeWaitDelay = 2 * time.Second

// Analyzer measures the playable length of audio files with ffprobe.
type Analyzer struct {
	ffprobePath string
	supported   map[string]struct{}
	waitDelay   time.Duration
	log         *zap.Logger
}

// NewAnalyzer creates an Analyzer accepting only the given codec names.
func NewAnalyzer(ffprobePath string, supportedCodecs []string) *Analyzer {
	supported := make(map[string]struct{}, len(supportedCodecs))
	for _, c := range supportedCodecs {
		supported[strings.ToLower(c)] = struct{}{}
	}
	return &Analyzer{
		ffprobePath: ffprobePath,
		supported:   supported,
		waitDelay:   analyzeWaitDelay,
		log:         logger.Named("analyzer"),
	}
}

// ffprobeOutput defines the structure for ffprobe JSON output.
type ffprobeOutput struct {
	Streams []struct {
		CodecName string `json:"codec_name"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Duration returns the length of path in seconds.
func (a *Analyzer) Duration(ctx context.Context, path string) (float64, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, apperr.NotFound(path)
		}
		return 0, apperr.Decode(path, err)
	}

	args := []string{
		"-v", "error",
		"-select_streams", "a:0",
		"-show_entries", "format=duration:stream=codec_name",
		"-of", "json",
		path,
	}

	cmd := exec.CommandContext(ctx, a.ffprobePath, args...)
	cmd.WaitDelay = a.waitDelay
	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, apperr.Decode(path, fmt.Errorf("ffprobe failed: %w: %s", err, strings.TrimSpace(stderr.String())))
	}

	var probeData ffprobeOutput
	if err := json.Unmarshal(out.Bytes(), &probeData); err != nil {
		return 0, apperr.Decode(path, fmt.Errorf("unmarshal ffprobe output: %w", err))
	}

	if len(probeData.Streams) == 0 {
		return 0, apperr.Decode(path, errors.New("no audio stream"))
	}

	codec := strings.ToLower(probeData.Streams[0].CodecName)
	if _, ok := a.supported[codec]; !ok {
		return 0, apperr.Decode(path, fmt.Errorf("unsupported codec %q", codec))
	}

	duration, err := strconv.ParseFloat(probeData.Format.Duration, 64)
	if err != nil || duration <= 0 {
		return 0, apperr.Decode(path, fmt.Errorf("invalid duration %q", probeData.Format.Duration))
	}

	a.log.Debug("Probed audio file",
		zap.String("path", path),
		zap.String("codec", codec),
		logger.Float64("seconds", duration))

	return duration, nil
}

// TotalDuration probes every path in order and stops at the first failure.
func (a *Analyzer) TotalDuration(ctx context.Context, paths []string) (float64, []float64, error) {
	perFile := make([]float64, 0, len(paths))
	var total float64
	for _, p := range paths {
		d, err := a.Duration(ctx, p)
		if err != nil {
			return 0, nil, err
		}
		perFile = append(perFile, d)
		total += d
	}
	return total, perFile, nil
}
