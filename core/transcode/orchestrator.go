// Package transcode runs transcoding jobs end to end.
package transcode

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"craftworker/core/apperr"
	"craftworker/logger"
	"craftworker/metrics"
	"craftworker/model"
)

// ProgressSink receives progress events of a running job.
type ProgressSink interface {
	SendProgress(p model.Progress)
}

// SinkFunc adapts a function to ProgressSink.
type SinkFunc func(p model.Progress)

// SendProgress calls f(p).
func (f SinkFunc) SendProgress(p model.Progress) { f(p) }

// Resolver makes every referenced file available locally.
type Resolver interface {
	ResolveAll(ctx context.Context, refs []model.FileRef) ([]model.ResolvedFile, error)
}

// Merger crossfades resolved files into one artifact.
type Merger interface {
	Merge(ctx context.Context, files []model.ResolvedFile, jobID string, progress chan<- model.Progress) (model.MergedArtifact, error)
}

// Uploader persists a merged artifact.
type Uploader interface {
	Upload(ctx context.Context, localPath, jobID string) (model.StorageDescriptor, error)
}

// Registrar records the finished craft.
type Registrar interface {
	CreateCraft(ctx context.Context, name, jobID string, desc model.StorageDescriptor) (string, error)
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Gate      Gate
	Tracker   *Tracker
	Resolver  Resolver
	Merger    Merger
	Uploader  Uploader
	Registrar Registrar
	// Timeout bounds a whole job. Zero disables it.
	Timeout time.Duration
}

// Orchestrator sequences validate, fetch, merge, upload and register for one job at a time.
type Orchestrator struct {
	Deps
	log *zap.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewOrchestrator creates an Orchestrator. A nil Gate or Tracker gets a fresh one.
func NewOrchestrator(deps Deps) *Orchestrator {
	if deps.Gate == nil {
		deps.Gate = NewGate()
	}
	if deps.Tracker == nil {
		deps.Tracker = NewTracker()
	}
	return &Orchestrator{
		Deps:    deps,
		log:     logger.Named("orchestrator"),
		cancels: make(map[string]context.CancelFunc),
	}
}

// Run executes req and returns its single acknowledgement.
// Cancelling ctx or calling Kill with the job id aborts the merge.
func (o *Orchestrator) Run(ctx context.Context, req model.JobRequest, sink ProgressSink) model.Ack {
	log := o.log.With(logger.JobID(req.JobID))

	if err := ValidateRequest(req, sink != nil); err != nil {
		log.Warn("Rejected job request", logger.ErrorField(err))
		metrics.RecordJob(string(apperr.KindPayload), 0)
		return ErrorAck(err)
	}

	if !o.Gate.TryAcquire() {
		log.Warn("Worker busy, rejecting job")
		o.Tracker.Reject(req)
		metrics.RecordJob(string(apperr.KindWorkerBusy), 0)
		return ErrorAck(apperr.WorkerBusy())
	}
	defer o.Gate.Release()

	started := time.Now()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if o.Timeout > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, o.Timeout)
		defer stop()
	}

	o.track(req.JobID, cancel)
	defer o.untrack(req.JobID)

	if err := o.Tracker.Start(req); err != nil {
		log.Warn("State tracker out of step", logger.ErrorField(err))
	}
	o.transition(model.StateValidated, log)

	log.Info("Job started", zap.String("name", req.Name), zap.Int("files", len(req.Files)))

	craftID, err := o.execute(ctx, req, sink, log)

	var ack model.Ack
	outcome := string(model.StateCompleted)
	if err != nil {
		ack = ErrorAck(err)
		outcome = ack.ErrorName
		if tErr := o.Tracker.Fail(ack.ErrorName); tErr != nil {
			log.Warn("State tracker out of step", logger.ErrorField(tErr))
		}
		log.Error("Job failed",
			zap.Int("statusCode", ack.StatusCode),
			zap.String("errorName", ack.ErrorName),
			logger.ErrorField(err))
	} else {
		ack = SuccessAck(craftID)
		if tErr := o.Tracker.Complete(craftID); tErr != nil {
			log.Warn("State tracker out of step", logger.ErrorField(tErr))
		}
		log.Info("Job completed", zap.String("craftId", craftID), logger.Duration("elapsed", time.Since(started)))
	}
	metrics.RecordJob(outcome, time.Since(started))

	return ack
}

func (o *Orchestrator) execute(ctx context.Context, req model.JobRequest, sink ProgressSink, log *zap.Logger) (craftID string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in job pipeline: %v", r)
		}
	}()

	o.transition(model.StateFetching, log)
	files, err := o.Resolver.ResolveAll(ctx, req.Files)
	if err != nil {
		if ctx.Err() != nil {
			return "", apperr.TranscodingKilled(req.JobID)
		}
		if apperr.IsKind(err, apperr.KindUnsupportedKind) || apperr.IsKind(err, apperr.KindPayload) {
			return "", err
		}
		return "", apperr.StorageService(err)
	}

	o.transition(model.StateMerging, log)
	artifact, err := o.merge(ctx, files, req.JobID, sink)
	if err != nil {
		return "", err
	}
	defer o.cleanup(artifact.LocalPath, log)

	// upload and registration run to completion once started
	finishCtx := context.WithoutCancel(ctx)

	o.transition(model.StateUploading, log)
	desc, err := o.Uploader.Upload(finishCtx, artifact.LocalPath, req.JobID)
	if err != nil {
		if _, ok := apperr.As(err); !ok {
			err = apperr.UploadService(0, err)
		}
		return "", err
	}

	o.transition(model.StateRegistering, log)
	craftID, err = o.Registrar.CreateCraft(finishCtx, req.Name, req.JobID, desc)
	if err != nil {
		if _, ok := apperr.As(err); !ok {
			err = apperr.CatalogService(0, err)
		}
		return "", err
	}
	return craftID, nil
}

// merge runs the merger while forwarding its progress to sink.
// Every forwarded event has reached sink when merge returns or panics.
func (o *Orchestrator) merge(ctx context.Context, files []model.ResolvedFile, jobID string, sink ProgressSink) (model.MergedArtifact, error) {
	progress := make(chan model.Progress, 16)
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for p := range progress {
			sink.SendProgress(p)
		}
	}()
	defer func() {
		close(progress)
		<-forwarded
	}()
	return o.Merger.Merge(ctx, files, jobID, progress)
}

// Kill cancels the running job with jobID. It reports whether such a job was found.
func (o *Orchestrator) Kill(jobID string) bool {
	o.mu.Lock()
	cancel, ok := o.cancels[jobID]
	o.mu.Unlock()
	if ok {
		o.log.Info("Kill requested", logger.JobID(jobID))
		cancel()
	}
	return ok
}

// Current returns the state of the last job that held the gate.
func (o *Orchestrator) Current() model.JobSnapshot {
	return o.Tracker.Current()
}

// Busy reports whether a job is running.
func (o *Orchestrator) Busy() bool {
	return o.Gate.Busy()
}

func (o *Orchestrator) track(jobID string, cancel context.CancelFunc) {
	o.mu.Lock()
	o.cancels[jobID] = cancel
	o.mu.Unlock()
}

func (o *Orchestrator) untrack(jobID string) {
	o.mu.Lock()
	delete(o.cancels, jobID)
	o.mu.Unlock()
}

func (o *Orchestrator) transition(state model.JobState, log *zap.Logger) {
	if err := o.Tracker.Transition(state); err != nil {
		log.Warn("State tracker out of step", logger.ErrorField(err))
	}
}

func (o *Orchestrator) cleanup(path string, log *zap.Logger) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warn("Failed to delete merged file", zap.String("path", path), logger.ErrorField(err))
		return
	}
	log.Debug("Deleted merged file", zap.String("path", path))
}
