package sidecar

import (
	"context"
	"time"

	"fixme/internal/capture"
	"fixme/internal/fix"
	"fixme/internal/logging"
	"fixme/internal/rpc"
	"fixme/internal/tactile"
)

// notifyPresenter streams run progress to the client as notifications.
// onPhase, when set, observes every phase change.
type notifyPresenter struct {
	n       rpc.Notifier
	runID   string
	onPhase func(fix.State)
}

func (p *notifyPresenter) Announce(_ context.Context, d fix.Diagnosis) {
	p.n.Notify("fix/announce", map[string]any{
		"run_id":    p.runID,
		"diagnosis": d.Diagnosis,
		"category":  d.Category,
		"fix_id":    d.FixID,
		"total":     len(d.Steps),
	})
}

func (p *notifyPresenter) ShowStep(_ context.Context, step fix.Step, total int) {
	p.n.Notify("fix/step", map[string]any{
		"run_id": p.runID,
		"step":   step,
		"total":  total,
	})
}

func (p *notifyPresenter) StepOutcome(_ context.Context, step fix.Step, outcome fix.Outcome, message string) {
	p.n.Notify("fix/outcome", map[string]any{
		"run_id":  p.runID,
		"step":    step.Index,
		"outcome": outcome,
		"message": message,
	})
}

func (p *notifyPresenter) Summary(_ context.Context, r fix.Report) {
	p.n.Notify("fix/summary", map[string]any{
		"run_id": p.runID,
		"report": r,
	})
}

func (p *notifyPresenter) Phase(_ context.Context, st fix.State, step int) {
	if p.onPhase != nil {
		p.onPhase(st)
	}
	p.n.Notify("fix/phase", map[string]any{
		"run_id": p.runID,
		"state":  st,
		"step":   step,
	})
}

// notifySpeaker shows each utterance to the client before speaking it.
type notifySpeaker struct {
	n     rpc.Notifier
	runID string
	next  fix.Speaker
}

func (s *notifySpeaker) Speak(ctx context.Context, text, locale string) error {
	s.n.Notify("fix/speak", map[string]any{
		"run_id": s.runID,
		"text":   text,
		"lang":   locale,
	})
	if s.next == nil {
		return nil
	}
	return s.next.Speak(ctx, text, locale)
}

// registryListener captures permission replies through the shared
// registry so a client stop_listen ends them early. A typed reply posted
// through the reply method wins over the capture and stops it. When voice
// input is unavailable it waits for a typed reply instead.
type registryListener struct {
	reg     *capture.Registry
	n       rpc.Notifier
	runID   string
	timeout time.Duration
	replies <-chan string
}

type waitResult struct {
	res capture.Result
	err error
}

func (l *registryListener) Listen(ctx context.Context, locale string) (string, error) {
	select {
	case text := <-l.replies:
		return text, nil
	default:
	}

	deadline := time.Now().Add(l.timeout)
	h, err := l.reg.Start(ctx, locale, l.timeout)
	if err != nil {
		logging.CaptureWarn("run %s: voice capture unavailable, waiting for a typed reply: %v", l.runID, err)
		return l.awaitTyped(ctx, deadline, err)
	}
	l.n.Notify("listen/started", map[string]any{
		"handle": h,
		"run_id": l.runID,
	})

	done := make(chan waitResult, 1)
	go func() {
		res, err := l.reg.Wait(ctx, h)
		done <- waitResult{res: res, err: err}
	}()

	select {
	case text := <-l.replies:
		l.reg.Stop(h)
		<-done
		logging.CaptureDebug("permission capture %s superseded by typed reply", h)
		return text, nil
	case w := <-done:
		if w.err != nil {
			return "", w.err
		}
		if w.res.Err != nil {
			logging.CaptureDebug("permission capture %s: %v", h, w.res.Err)
			switch capture.FaultKindOf(w.res.Err) {
			case capture.MicrophoneUnavailable, capture.TranscriptionServiceError:
				return l.awaitTyped(ctx, deadline, w.res.Err)
			}
			return "", w.res.Err
		}
		return w.res.Text, nil
	}
}

// awaitTyped waits until deadline for a typed reply and returns cause if
// none arrives.
func (l *registryListener) awaitTyped(ctx context.Context, deadline time.Time, cause error) (string, error) {
	l.n.Notify("listen/typed", map[string]any{
		"run_id": l.runID,
		"reason": cause.Error(),
	})
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case text := <-l.replies:
		return text, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-timer.C:
		return "", cause
	}
}

// auditedExecutor tags executions with their origin for the audit trail.
type auditedExecutor struct {
	exec      Executor
	source    string
	requestID string
}

func (a *auditedExecutor) Execute(ctx context.Context, command string, needsAdmin bool) (bool, string) {
	r := a.exec.Run(ctx, tactile.Command{
		Line:       command,
		NeedsAdmin: needsAdmin,
		RequestID:  a.requestID,
		Source:     a.source,
	})
	return r.Success, r.Message
}
