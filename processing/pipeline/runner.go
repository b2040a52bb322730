package pipeline

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"aerialvision/internal/errs"
	"aerialvision/internal/models"
	"aerialvision/processing/capture"
	"aerialvision/processing/detector"
)

type State int

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Events are delivered on the job goroutine, in frame order. Exactly one of
// OnCompleted, OnCancelled and OnFailed fires per job and nothing follows it.
// Returning from that terminal callback acknowledges it and frees the runner.
//
// Callbacks must not call Stop: Stop waits for the job goroutine, which is the
// one running the callback. Use Cancel instead.
type Events struct {
	OnProgress  func(percent int)
	OnFrame     func(frame models.Frame)
	OnCompleted func(result *models.Result)
	OnCancelled func()
	OnFailed    func(err error)
}

// Runner runs at most one job at a time on its own goroutine.
type Runner struct {
	logger *zap.SugaredLogger
	open   capture.Opener

	mu     sync.Mutex
	state  State
	jobID  string
	cancel *atomic.Bool
	done   chan struct{}
}

// NewRunner returns an idle runner. A nil open uses capture.NewOpener.
func NewRunner(logger *zap.SugaredLogger, open capture.Opener) *Runner {
	logger = logger.Named("runner")
	if open == nil {
		open = capture.NewOpener(logger)
	}
	return &Runner{
		logger: logger,
		open:   open,
		state:  StateIdle,
	}
}

func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start launches job and returns at once. It fails with
// errs.ErrJobAlreadyRunning unless the runner is idle, leaving the active job
// untouched. Cancelling ctx stops the job like Stop does.
func (r *Runner) Start(ctx context.Context, job models.Job, det detector.Detector, events Events) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateIdle {
		return errors.Wrapf(errs.ErrJobAlreadyRunning, "job %s is %s", r.jobID, r.state)
	}

	flag := atomic.NewBool(false)
	done := make(chan struct{})

	r.state = StateRunning
	r.jobID = job.ID
	r.cancel = flag
	r.done = done

	r.logger.Infow("job started", "job", job.ID, "source", job.Source, "kind", job.Kind)

	go r.run(ctx, job, det, events, flag, done)
	return nil
}

func (r *Runner) run(ctx context.Context, job models.Job, det detector.Detector, events Events, flag *atomic.Bool, done chan struct{}) {
	defer close(done)

	result, err := Run(ctx, r.logger, job, det, r.open, events.OnFrame, events.OnProgress, flag.Load)

	var state State
	switch {
	case err == nil:
		state = StateCompleted
	case errors.Is(err, errs.ErrCancelled):
		state = StateCancelled
	default:
		state = StateFailed
	}

	r.mu.Lock()
	r.state = state
	r.mu.Unlock()

	switch state {
	case StateCompleted:
		r.logger.Infow("job completed", "job", job.ID, "frames", len(result.Frames), "detections", result.TotalDetections())
		if events.OnCompleted != nil {
			events.OnCompleted(result)
		}
	case StateCancelled:
		r.logger.Infow("job cancelled", "job", job.ID)
		if events.OnCancelled != nil {
			events.OnCancelled()
		}
	default:
		r.logger.Errorw("job failed", "job", job.ID, "error", err)
		if events.OnFailed != nil {
			events.OnFailed(err)
		}
	}

	r.mu.Lock()
	r.state = StateIdle
	r.jobID = ""
	r.cancel = nil
	r.done = nil
	r.mu.Unlock()
}

// Cancel asks the active job to stop at the next frame boundary and returns
// without waiting. Safe to call from event callbacks.
func (r *Runner) Cancel() {
	r.mu.Lock()
	flag := r.cancel
	r.mu.Unlock()

	if flag != nil {
		flag.Store(true)
	}
}

// Stop cancels the active job and blocks until its goroutine has exited, so
// no event is delivered after Stop returns. A detector call already in flight
// is allowed to finish. Stop is a no-op when idle.
func (r *Runner) Stop() {
	r.mu.Lock()
	flag, done := r.cancel, r.done
	r.mu.Unlock()

	if flag == nil {
		return
	}
	if !flag.Swap(true) {
		r.logger.Infow("stop requested", "job", r.currentJob())
	}
	<-done
}

// Wait blocks until the active job, if any, has delivered its terminal event.
func (r *Runner) Wait() {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()

	if done != nil {
		<-done
	}
}

func (r *Runner) currentJob() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobID
}
