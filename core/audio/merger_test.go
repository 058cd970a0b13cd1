package audio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"craftworker/core/apperr"
	"craftworker/model"
)

const testJobID = "3f6c1a2e-8b4d-4c1e-9a7f-2d5e6b8c9a01"

type fixedProber struct {
	durations map[string]float64
	err       error
}

func (p fixedProber) TotalDuration(ctx context.Context, paths []string) (float64, []float64, error) {
	if p.err != nil {
		return 0, nil, p.err
	}
	var total float64
	out := make([]float64, len(paths))
	for i, path := range paths {
		out[i] = p.durations[path]
		total += out[i]
	}
	return total, out, nil
}

// scriptedLauncher plays back markers and then exits with result.
// With block set the process runs until killed.
type scriptedLauncher struct {
	markers []string
	result  error
	block   bool
	noFile  bool

	mu   sync.Mutex
	args []string
	proc *scriptedProcess
}

type scriptedProcess struct {
	ticks  chan string
	result chan error
	killed chan struct{}
	once   sync.Once
}

func (l *scriptedLauncher) Start(ctx context.Context, args []string) (Process, error) {
	l.mu.Lock()
	l.args = args
	l.mu.Unlock()

	if !l.noFile {
		if err := os.WriteFile(args[len(args)-1], []byte("merged"), 0644); err != nil {
			return nil, err
		}
	}

	p := &scriptedProcess{
		ticks:  make(chan string),
		result: make(chan error, 1),
		killed: make(chan struct{}),
	}
	l.proc = p

	go func() {
		defer func() {
			if l.block {
				<-p.killed
				p.result <- errors.New("signal: killed")
				return
			}
			p.result <- l.result
		}()
		defer close(p.ticks)
		for _, m := range l.markers {
			select {
			case p.ticks <- m:
			case <-p.killed:
				return
			}
		}
	}()
	return p, nil
}

func (p *scriptedProcess) Ticks() <-chan string { return p.ticks }
func (p *scriptedProcess) Wait() error          { return <-p.result }
func (p *scriptedProcess) Kill() error {
	p.once.Do(func() { close(p.killed) })
	return nil
}

func f64(v float64) *float64 { return &v }

func twoClips(dir string) ([]model.ResolvedFile, fixedProber) {
	a := filepath.Join(dir, "a.mp3")
	b := filepath.Join(dir, "b.mp3")
	files := []model.ResolvedFile{
		{FileRef: model.FileRef{ID: "a", Kind: model.KindPodcastPart}, LocalPath: a},
		{FileRef: model.FileRef{ID: "b", Kind: model.KindPodcastPart}, LocalPath: b},
	}
	return files, fixedProber{durations: map[string]float64{a: 10, b: 10}}
}

func collect(ch chan model.Progress) []float64 {
	var out []float64
	for {
		select {
		case p := <-ch:
			out = append(out, p.Percent)
		default:
			return out
		}
	}
}

func TestMergeReportsMonotonicProgress(t *testing.T) {
	dir := t.TempDir()
	files, prober := twoClips(dir)
	launcher := &scriptedLauncher{markers: []string{
		"00:00:04.000000",
		"00:00:08.000000",
		"00:00:02.000000",
		"N/A",
		"00:00:20.000000",
	}}
	m := NewMerger(prober, launcher, MergerConfig{ScratchDir: dir, Codec: "libmp3lame", Bitrate: "192k", Ext: "mp3"})
	progress := make(chan model.Progress, 16)

	artifact, err := m.Merge(context.Background(), files, testJobID, progress)
	require.NoError(t, err)

	assert.Equal(t, []float64{25, 50, tickCeiling, 100}, collect(progress))
	assert.InDelta(t, 16, artifact.DurationSeconds, 1e-9)
	assert.FileExists(t, artifact.LocalPath)
	assert.Equal(t, dir, filepath.Dir(artifact.LocalPath))
	assert.Equal(t, ".mp3", filepath.Ext(artifact.LocalPath))
}

func TestMergeBuildsSingleFilterPass(t *testing.T) {
	dir := t.TempDir()
	files, prober := twoClips(dir)
	files[1].Seek = &model.Seek{Start: f64(1.5)}
	launcher := &scriptedLauncher{}
	m := NewMerger(prober, launcher, MergerConfig{ScratchDir: dir, Codec: "libmp3lame", Bitrate: "192k", Ext: "mp3"})

	artifact, err := m.Merge(context.Background(), files, testJobID, make(chan model.Progress, 1))
	require.NoError(t, err)
	assert.InDelta(t, 14.5, artifact.DurationSeconds, 1e-9)

	args := launcher.args
	assert.Equal(t, []string{"-i", files[0].LocalPath}, args[5:7])
	assert.Equal(t, []string{"-ss", "1.500", "-to", "10.000", "-i", files[1].LocalPath}, args[7:13])
	assert.Equal(t, []string{"-ss", "6.000", "-to", "10.000", "-f", "lavfi", "-i", silenceSource}, args[13:21])
	assert.Equal(t, []string{
		"-filter_complex",
		"[0:a][1:a]acrossfade=d=4:c1=log:c2=nofade[0+1];[0+1][2:a]acrossfade=d=4:c1=log:c2=nofade[0+1+2]",
		"-map", "[0+1+2]",
		"-c:a", "libmp3lame",
		"-b:a", "192k",
		"-progress", "pipe:1",
	}, args[21:len(args)-1])
}

func TestMergeValidation(t *testing.T) {
	dir := t.TempDir()
	files, prober := twoClips(dir)
	m := NewMerger(prober, &scriptedLauncher{}, MergerConfig{ScratchDir: dir})
	progress := make(chan model.Progress, 1)

	noPath := append([]model.ResolvedFile(nil), files...)
	noPath[1].LocalPath = ""

	tests := []struct {
		name     string
		files    []model.ResolvedFile
		jobID    string
		progress chan<- model.Progress
		message  string
	}{
		{"no files", nil, testJobID, progress, `"files" must contain at least 1 items`},
		{"missing path", noPath, testJobID, progress, `"files[1].path" is required`},
		{"bad job id", files, "not-a-uuid", progress, `"jobId" must be a valid GUID`},
		{"uuid v1", files, "6ba7b810-9dad-11d1-80b4-00c04fd430c8", progress, `"jobId" must be a valid GUID`},
		{"no progress", files, testJobID, nil, `"progress" is required`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Merge(context.Background(), tt.files, tt.jobID, tt.progress)
			e, ok := apperr.As(err)
			require.True(t, ok)
			assert.Equal(t, apperr.KindValidation, e.Kind)
			assert.Equal(t, 400, e.Code)
			assert.Equal(t, tt.message, e.Message)
		})
	}
}

func TestMergeAnalyzerErrorPassesThrough(t *testing.T) {
	dir := t.TempDir()
	files, _ := twoClips(dir)
	prober := fixedProber{err: apperr.Decode(files[0].LocalPath, errors.New("wav"))}
	launcher := &scriptedLauncher{}
	m := NewMerger(prober, launcher, MergerConfig{ScratchDir: dir})

	_, err := m.Merge(context.Background(), files, testJobID, make(chan model.Progress, 1))
	assert.True(t, apperr.IsKind(err, apperr.KindDecode))
	assert.Nil(t, launcher.args)
}

func TestMergeKilledOnCancel(t *testing.T) {
	dir := t.TempDir()
	files, prober := twoClips(dir)
	launcher := &scriptedLauncher{markers: []string{"00:00:02.000000"}, block: true}
	m := NewMerger(prober, launcher, MergerConfig{ScratchDir: dir})
	progress := make(chan model.Progress, 4)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-progress
		cancel()
	}()

	_, err := m.Merge(ctx, files, testJobID, progress)
	require.Error(t, err)
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindTranscodingKilled, e.Kind)
	assert.Equal(t, 499, e.Code)
	assert.ErrorIs(t, err, apperr.ErrTranscodingKilled)

	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries, "partial output must be removed")
}

const sleepingAnalyzerScript = `#!/bin/sh
sleep 5
`

func TestMergeKilledWhileMeasuringDuration(t *testing.T) {
	dir := t.TempDir()
	files, _ := twoClips(dir)
	for _, f := range files {
		require.NoError(t, os.WriteFile(f.LocalPath, []byte("data"), 0o644))
	}
	script := filepath.Join(t.TempDir(), "ffprobe")
	require.NoError(t, os.WriteFile(script, []byte(sleepingAnalyzerScript), 0o755))

	analyzer := NewAnalyzer(script, []string{"mp3"})
	analyzer.waitDelay = 300 * time.Millisecond
	launcher := &scriptedLauncher{}
	m := NewMerger(analyzer, launcher, MergerConfig{ScratchDir: dir})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(200*time.Millisecond, cancel)

	started := time.Now()
	_, err := m.Merge(ctx, files, testJobID, make(chan model.Progress, 1))

	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindTranscodingKilled, e.Kind)
	assert.Equal(t, 499, e.Code)
	assert.Less(t, time.Since(started), 3*time.Second)
	assert.Nil(t, launcher.args)
}

func TestMergeProcessFailure(t *testing.T) {
	dir := t.TempDir()
	files, prober := twoClips(dir)
	launcher := &scriptedLauncher{result: errors.New("exit status 1: Invalid data")}
	m := NewMerger(prober, launcher, MergerConfig{ScratchDir: dir})
	progress := make(chan model.Progress, 4)

	_, err := m.Merge(context.Background(), files, testJobID, progress)
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindMerge, e.Kind)
	assert.Equal(t, 500, e.Code)
	assert.Contains(t, err.Error(), "Invalid data")
	assert.Empty(t, collect(progress))

	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries)
}

func TestMergeWithoutOutputFails(t *testing.T) {
	dir := t.TempDir()
	files, prober := twoClips(dir)
	m := NewMerger(prober, &scriptedLauncher{noFile: true}, MergerConfig{ScratchDir: dir})

	_, err := m.Merge(context.Background(), files, testJobID, make(chan model.Progress, 1))
	assert.True(t, apperr.IsKind(err, apperr.KindMerge))
}

func TestExpectedDurationLaw(t *testing.T) {
	clip := func(d float64) model.ResolvedFile {
		return model.ResolvedFile{LocalPath: "x", DurationSeconds: d}
	}
	assert.Equal(t, 0.0, ExpectedDuration(nil))
	assert.Equal(t, 10.0, ExpectedDuration([]model.ResolvedFile{clip(10)}))
	assert.Equal(t, 16.0, ExpectedDuration([]model.ResolvedFile{clip(10), clip(10)}))
	assert.Equal(t, 22.0, ExpectedDuration([]model.ResolvedFile{clip(10), clip(10), clip(10)}))

	trimmed := clip(10)
	trimmed.Seek = &model.Seek{Start: f64(2), End: f64(30)}
	assert.Equal(t, 14.0, ExpectedDuration([]model.ResolvedFile{clip(10), trimmed}))
}

const fakeFFmpegScript = `#!/bin/sh
for last; do :; done
echo "out_time=00:00:04.000000"
echo "progress=continue"
echo "out_time=00:00:12.000000"
echo "progress=end"
printf 'merged' > "$last"
`

const hangingFFmpegScript = `#!/bin/sh
echo "out_time=00:00:01.000000"
exec sleep 30
`

const failingFFmpegScript = `#!/bin/sh
echo "Error initializing complex filters" >&2
exit 1
`

func writeScript(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(p, []byte(body), 0755))
	return p
}

func TestMergeWithExecLauncher(t *testing.T) {
	dir := t.TempDir()
	files, prober := twoClips(dir)
	m := NewMerger(prober, NewExecLauncher(writeScript(t, fakeFFmpegScript)), MergerConfig{ScratchDir: dir, Codec: "libmp3lame", Ext: "mp3"})
	progress := make(chan model.Progress, 16)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	artifact, err := m.Merge(ctx, files, testJobID, progress)
	require.NoError(t, err)
	data, err := os.ReadFile(artifact.LocalPath)
	require.NoError(t, err)
	assert.Equal(t, "merged", string(data))

	got := collect(progress)
	require.NotEmpty(t, got)
	assert.Equal(t, 100.0, got[len(got)-1])
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i], got[i-1])
	}
	assert.Equal(t, 1, countOf(got, 100))
}

func TestExecLauncherKill(t *testing.T) {
	dir := t.TempDir()
	files, prober := twoClips(dir)
	m := NewMerger(prober, NewExecLauncher(writeScript(t, hangingFFmpegScript)), MergerConfig{ScratchDir: dir})
	progress := make(chan model.Progress, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-progress:
		case <-time.After(2 * time.Second):
		}
		cancel()
	}()

	started := time.Now()
	_, err := m.Merge(ctx, files, testJobID, progress)
	assert.True(t, apperr.IsKind(err, apperr.KindTranscodingKilled))
	assert.Less(t, time.Since(started), 10*time.Second)
}

func TestExecLauncherFailureCarriesStderr(t *testing.T) {
	dir := t.TempDir()
	files, prober := twoClips(dir)
	m := NewMerger(prober, NewExecLauncher(writeScript(t, failingFFmpegScript)), MergerConfig{ScratchDir: dir})

	_, err := m.Merge(context.Background(), files, testJobID, make(chan model.Progress, 1))
	assert.True(t, apperr.IsKind(err, apperr.KindMerge))
	assert.Contains(t, err.Error(), "Error initializing complex filters")
}

func countOf(values []float64, v float64) int {
	n := 0
	for _, x := range values {
		if x == v {
			n++
		}
	}
	return n
}
