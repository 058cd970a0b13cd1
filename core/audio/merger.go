package audio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"craftworker/core/apperr"
	"craftworker/logger"
	"craftworker/metrics"
	"craftworker/model"
)

// Trailing silence appended to every merge so the last clip fades out like the others.
// Only the final CrossfadeSeconds of it are read.
const (
	SilenceSeconds   = 10.0
	SilenceSeekStart = SilenceSeconds - CrossfadeSeconds
	silenceSource    = "anullsrc=channel_layout=stereo:sample_rate=44100"
)

// tickCeiling keeps live progress below the final 100 event.
const tickCeiling = 99.9

// DurationProber reports per-file durations for a merge.
type DurationProber interface {
	TotalDuration(ctx context.Context, paths []string) (float64, []float64, error)
}

// MergerConfig configures the output of a merge.
type MergerConfig struct {
	ScratchDir string
	Codec      string
	Bitrate    string
	Ext        string
}

// Merger crossfades resolved clips into one file with a single ffmpeg pass.
type Merger struct {
	prober   DurationProber
	launcher Launcher
	cfg      MergerConfig
	log      *zap.Logger
}

// NewMerger creates a Merger.
func NewMerger(prober DurationProber, launcher Launcher, cfg MergerConfig) *Merger {
	if cfg.Ext == "" {
		cfg.Ext = "mp3"
	}
	return &Merger{
		prober:   prober,
		launcher: launcher,
		cfg:      cfg,
		log:      logger.Named("merger"),
	}
}

// Merge crossfades files into one artifact in the scratch directory.
// Progress ticks are dropped when progress is not ready; the closing 100 is always delivered
// unless ctx ends first. Cancelling ctx kills the process and yields a TranscodingKilledError.
func (m *Merger) Merge(ctx context.Context, files []model.ResolvedFile, jobID string, progress chan<- model.Progress) (model.MergedArtifact, error) {
	if err := validateMerge(files, jobID, progress); err != nil {
		return model.MergedArtifact{}, err
	}

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.LocalPath
	}
	_, perFile, err := m.prober.TotalDuration(ctx, paths)
	if err != nil {
		if ctx.Err() != nil {
			return model.MergedArtifact{}, apperr.TranscodingKilled(jobID)
		}
		return model.MergedArtifact{}, err
	}

	clips := make([]model.ResolvedFile, len(files))
	copy(clips, files)
	for i := range clips {
		clips[i].DurationSeconds = perFile[i]
	}

	total := ExpectedDuration(clips)

	if err := os.MkdirAll(m.cfg.ScratchDir, 0755); err != nil {
		return model.MergedArtifact{}, apperr.Merge(fmt.Errorf("create scratch dir: %w", err))
	}
	output := filepath.Join(m.cfg.ScratchDir, uuid.NewString()+"."+m.cfg.Ext)
	args := m.buildArgs(clips, output)

	log := m.log.With(logger.JobID(jobID))
	log.Info("Starting merge",
		zap.Int("clips", len(clips)),
		logger.Float64("expectedSeconds", total),
		zap.String("output", output))

	started := time.Now()
	proc, err := m.launcher.Start(ctx, args)
	if err != nil {
		if ctx.Err() != nil {
			return model.MergedArtifact{}, apperr.TranscodingKilled(jobID)
		}
		return model.MergedArtifact{}, apperr.Merge(err)
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- proc.Wait() }()

	var last float64
	emit := func(marker string) {
		p := PercentFromMarker(marker, total)
		if p > tickCeiling {
			p = tickCeiling
		}
		if p <= last {
			return
		}
		last = p
		select {
		case progress <- model.Progress{JobID: jobID, Percent: p}:
		default:
		}
	}

	ticks := proc.Ticks()
	var runErr error
loop:
	for {
		select {
		case marker, ok := <-ticks:
			if !ok {
				ticks = nil
				continue
			}
			emit(marker)
		case runErr = <-waitErr:
			break loop
		case <-ctx.Done():
			if err := proc.Kill(); err != nil {
				log.Debug("Kill after exit", logger.ErrorField(err))
			}
			runErr = <-waitErr
			break loop
		}
	}
	metrics.RecordMerge(time.Since(started))

	if ctx.Err() != nil {
		removeQuietly(output, log)
		log.Warn("Merge killed", logger.ErrorField(ctx.Err()))
		return model.MergedArtifact{}, apperr.TranscodingKilled(jobID)
	}
	if runErr != nil {
		removeQuietly(output, log)
		log.Error("Merge failed", logger.ErrorField(runErr))
		return model.MergedArtifact{}, apperr.Merge(runErr)
	}
	if _, err := os.Stat(output); err != nil {
		return model.MergedArtifact{}, apperr.Merge(fmt.Errorf("merge produced no output: %w", err))
	}

	if ticks != nil {
		for marker := range ticks {
			emit(marker)
		}
	}

	select {
	case progress <- model.Progress{JobID: jobID, Percent: 100}:
	case <-ctx.Done():
	}

	log.Info("Merge finished", logger.Duration("elapsed", time.Since(started)))
	return model.MergedArtifact{LocalPath: output, DurationSeconds: total}, nil
}

// ExpectedDuration is the length of the merged output for clips.
// Each crossfade overlaps CrossfadeSeconds. The trailing silence adds no net length.
func ExpectedDuration(clips []model.ResolvedFile) float64 {
	if len(clips) == 0 {
		return 0
	}
	var sum float64
	for _, c := range clips {
		sum += c.EffectiveDuration()
	}
	return sum - CrossfadeSeconds*float64(len(clips)-1)
}

func (m *Merger) buildArgs(clips []model.ResolvedFile, output string) []string {
	args := []string{"-hide_banner", "-y", "-v", "error", "-nostats"}

	for _, c := range clips {
		if c.Seek != nil {
			args = append(args,
				"-ss", seconds(c.Seek.StartOr(0)),
				"-to", seconds(c.Seek.EndOr(c.DurationSeconds)))
		}
		args = append(args, "-i", c.LocalPath)
	}
	args = append(args,
		"-ss", seconds(SilenceSeekStart),
		"-to", seconds(SilenceSeconds),
		"-f", "lavfi", "-i", silenceSource)

	ops := BuildCrossfadeGraph(len(clips) + 1)
	args = append(args,
		"-filter_complex", RenderFilterGraph(ops),
		"-map", MapTarget(FinalLabel(ops)),
		"-c:a", m.cfg.Codec)
	if m.cfg.Bitrate != "" {
		args = append(args, "-b:a", m.cfg.Bitrate)
	}
	return append(args, "-progress", "pipe:1", output)
}

func validateMerge(files []model.ResolvedFile, jobID string, progress chan<- model.Progress) error {
	if len(files) == 0 {
		return apperr.Validation(`"files" must contain at least 1 items`)
	}
	for i, f := range files {
		if f.LocalPath == "" {
			return apperr.Validation(fmt.Sprintf(`"files[%d].path" is required`, i))
		}
	}
	if !IsUUIDv4(jobID) {
		return apperr.Validation(`"jobId" must be a valid GUID`)
	}
	if progress == nil {
		return apperr.Validation(`"progress" is required`)
	}
	return nil
}

// IsUUIDv4 reports whether s is a canonical version 4 UUID.
func IsUUIDv4(s string) bool {
	if len(s) != 36 {
		return false
	}
	id, err := uuid.Parse(s)
	return err == nil && id.Version() == 4 && id.Variant() == uuid.RFC4122
}

func seconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func removeQuietly(path string, log *zap.Logger) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warn("Failed to remove partial output", zap.String("path", path), logger.ErrorField(err))
	}
}
