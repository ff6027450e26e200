package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kalambet/casefile/internal/remote"
)

// RemoteJobs is the slice of the remote client the poller needs.
type RemoteJobs interface {
	JobStatus(ctx context.Context, jobID string) (remote.JobStatusPayload, error)
	JobResult(ctx context.Context, jobID string) (string, error)
}

// Events receives a snapshot of the handle after every successful poll.
// Callbacks are advisory (UI progress); they must not block.
type Events interface {
	OnProgress(h Handle)
}

// EventsFunc adapts a function to the Events interface.
type EventsFunc func(h Handle)

func (f EventsFunc) OnProgress(h Handle) { f(h) }

// Outcome is the terminal report of a polled job. Failure is non-nil iff the
// final status is Failed or TimedOut.
type Outcome struct {
	Handle               Handle
	Content              string
	Failure              *Failure
	ReportConversationID string
}

// defaultErrorBudget is how many consecutive poll failures are tolerated
// before the job is abandoned.
const defaultErrorBudget = 5

// Poller drives one long-running remote job to completion. One poll is in
// flight at a time; scheduling is sleep-then-poll on the calling goroutine.
type Poller struct {
	remote      RemoteJobs
	events      Events
	errorBudget int

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPoller creates a Poller. Pass a nil events to ignore progress.
func NewPoller(rc RemoteJobs, events Events) *Poller {
	return &Poller{
		remote:      rc,
		events:      events,
		errorBudget: defaultErrorBudget,
		now:         time.Now,
		sleep: func(ctx context.Context, d time.Duration) error {
			select {
			case <-time.After(d):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
}

// Run polls the job until a terminal state or until ctx is cancelled. The
// only error it returns is ctx.Err(); everything else is an Outcome.
func (p *Poller) Run(ctx context.Context, jobID string, kind remote.JobKind) (Outcome, error) {
	h := Handle{
		ID:        jobID,
		Kind:      kind,
		Status:    StatusQueued,
		StartedAt: p.now(),
		Budget:    defaultBudget(kind),
	}
	var reportConvID string
	consecutiveErrors := 0

	for {
		elapsed := p.now().Sub(h.StartedAt)
		if elapsed > h.Budget {
			slog.Warn("job exceeded time budget", "job_id", jobID, "kind", kind, "elapsed", elapsed)
			return p.terminal(h, StatusTimedOut, "", timeoutFailure(), reportConvID), nil
		}

		payload, err := p.remote.JobStatus(ctx, jobID)
		switch {
		case errors.Is(err, remote.ErrJobLost):
			// The service may have evicted the status record after the job
			// finished. One direct result fetch decides which it was.
			content, rerr := p.remote.JobResult(ctx, jobID)
			if rerr == nil && content != "" {
				slog.Info("recovered result for lost job", "job_id", jobID)
				return p.complete(h, Sanitize(ExtractContent(content)), reportConvID), nil
			}
			if ctx.Err() != nil {
				return Outcome{}, ctx.Err()
			}
			return p.terminal(h, StatusFailed, "", lostFailure(), reportConvID), nil
		case err != nil:
			if ctx.Err() != nil {
				return Outcome{}, ctx.Err()
			}
			consecutiveErrors++
			slog.Warn("status poll failed", "job_id", jobID, "consecutive", consecutiveErrors, "error", err)
			if consecutiveErrors >= p.errorBudget {
				return p.terminal(h, StatusFailed, "", networkFailure(), reportConvID), nil
			}
			if err := p.sleep(ctx, pollInterval(kind, elapsed)); err != nil {
				return Outcome{}, err
			}
			continue
		}
		consecutiveErrors = 0

		if reportConvID == "" && payload.ReportConversationID != "" {
			reportConvID = payload.ReportConversationID
		}

		// Response-ready shortcut: the answer may be available before the
		// job formally completes. Checked before status on every poll.
		if payload.ResponseReady {
			content, err := p.fetchResult(ctx, jobID)
			if err != nil {
				if ctx.Err() != nil {
					return Outcome{}, ctx.Err()
				}
				return p.terminal(h, StatusFailed, "", classifyFailure(err.Error()), reportConvID), nil
			}
			return p.complete(h, content, reportConvID), nil
		}

		switch payload.Status {
		case "queued", "pending":
			h.Status = StatusQueued
			h.Progress = Progress{Message: "Waiting in queue", Percent: h.Progress.Percent}
			p.emit(h)
		case "completed", "done":
			content, err := p.fetchResult(ctx, jobID)
			if err != nil {
				if ctx.Err() != nil {
					return Outcome{}, ctx.Err()
				}
				return p.terminal(h, StatusFailed, "", classifyFailure(err.Error()), reportConvID), nil
			}
			return p.complete(h, content, reportConvID), nil
		case "failed", "error":
			return p.terminal(h, StatusFailed, "", classifyFailure(payload.Error), reportConvID), nil
		default:
			// "processing" and anything unrecognized both display as
			// in-progress; an unknown status never terminates the job.
			h.Status = StatusProcessing
			h.Stage = payload.Stage
			h.Progress = p.progressFor(h, payload)
			if len(payload.Intermediate) > len(h.Intermediate) {
				h.Intermediate = payload.Intermediate
			}
			p.emit(h)
		}

		if err := p.sleep(ctx, pollInterval(kind, elapsed)); err != nil {
			return Outcome{}, err
		}
	}
}

// progressFor picks the explicit payload progress when present, otherwise
// the stage table, keeping the percent monotone while processing.
func (p *Poller) progressFor(h Handle, payload remote.JobStatusPayload) Progress {
	if payload.Progress != nil && payload.Progress.Percent > 0 {
		pct := payload.Progress.Percent
		if pct < h.Progress.Percent {
			pct = h.Progress.Percent
		}
		if pct > 100 {
			pct = 100
		}
		msg := payload.Progress.Message
		if msg == "" {
			msg = stageProgress(h.Kind, payload.Stage, pct).Message
		}
		return Progress{Message: msg, Percent: pct}
	}
	return stageProgress(h.Kind, payload.Stage, h.Progress.Percent)
}

// fetchResult performs the single follow-up result fetch for a job that
// signalled completion.
func (p *Poller) fetchResult(ctx context.Context, jobID string) (string, error) {
	raw, err := p.remote.JobResult(ctx, jobID)
	if err != nil {
		return "", err
	}
	return Sanitize(ExtractContent(raw)), nil
}

func (p *Poller) complete(h Handle, content, reportConvID string) Outcome {
	h.Status = StatusCompleted
	h.Progress = Progress{Message: "Done", Percent: 100}
	p.emit(h)
	return Outcome{Handle: h, Content: content, ReportConversationID: reportConvID}
}

func (p *Poller) terminal(h Handle, status Status, content string, f Failure, reportConvID string) Outcome {
	h.Status = status
	p.emit(h)
	return Outcome{Handle: h, Content: content, Failure: &f, ReportConversationID: reportConvID}
}

func (p *Poller) emit(h Handle) {
	if p.events != nil {
		p.events.OnProgress(h)
	}
}
