// Package fix drives a diagnosed remediation one step at a time, asking
// the user for permission before every command.
//
// The permission loop re-prompts on blank replies, answers questions and
// re-asks for the same step, and stops the whole run on an abort word.
// Failed commands never end the run. Errors from collaborators are turned
// into spoken apologies and never escape Run.
package fix

import (
	"context"
	"strings"

	"fixme/internal/intent"
	"fixme/internal/logging"
)

// Presenter shows run progress to the user. Calls are best effort.
type Presenter interface {
	Announce(ctx context.Context, d Diagnosis)
	ShowStep(ctx context.Context, step Step, total int)
	StepOutcome(ctx context.Context, step Step, outcome Outcome, message string)
	Summary(ctx context.Context, r Report)
	// Phase reports a state transition; step is 0 outside the step loop.
	Phase(ctx context.Context, s State, step int)
}

// Speaker says text aloud in the given locale.
type Speaker interface {
	Speak(ctx context.Context, text, locale string) error
}

// Listener captures one spoken or typed reply.
type Listener interface {
	Listen(ctx context.Context, locale string) (string, error)
}

// Executor runs a step's command.
type Executor interface {
	Execute(ctx context.Context, command string, needsAdmin bool) (bool, string)
}

// Answerer answers a question about the current step.
type Answerer interface {
	AnswerQuestion(ctx context.Context, question string, step Step) (string, error)
}

// Classifier maps replies to intents.
type Classifier interface {
	Classify(text, locale string) intent.Intent
	ContainsAbort(text string) bool
}

// Deps are the runner's collaborators. Presenter and Answerer may be nil.
type Deps struct {
	Presenter  Presenter
	Speaker    Speaker
	Listener   Listener
	Executor   Executor
	Answerer   Answerer
	Classifier Classifier
}

// Options tunes the permission loop.
type Options struct {
	// MaxEmptyRetries ends the run after this many consecutive blank
	// replies to one step. 0 keeps asking.
	MaxEmptyRetries int
}

// Runner executes diagnoses. It holds no per-run state and may run
// several diagnoses concurrently if its collaborators allow it.
type Runner struct {
	deps Deps
	opts Options
}

// NewRunner creates a runner.
func NewRunner(deps Deps, opts Options) *Runner {
	if deps.Presenter == nil {
		deps.Presenter = nopPresenter{}
	}
	if deps.Classifier == nil {
		deps.Classifier = intent.NewClassifier(nil)
	}
	if opts.MaxEmptyRetries < 0 {
		opts.MaxEmptyRetries = 0
	}
	return &Runner{deps: deps, opts: opts}
}

// Run walks the diagnosis and returns the report. It always returns.
func (r *Runner) Run(ctx context.Context, d Diagnosis, locale string) Report {
	total := len(d.Steps)
	log := logging.Get(logging.CategoryFix).With("diagnosis", d.Diagnosis)

	if total == 0 {
		r.enter(ctx, &runState{}, StateSummarizing, 0)
		msg := msgNoSteps(d.Diagnosis)
		r.say(ctx, msg, locale)
		report := Report{State: StateDone, Summary: summaryLine(0, 0), Message: msg, Steps: []StepResult{}}
		r.deps.Presenter.Summary(ctx, report)
		return report
	}

	st := &runState{results: make([]StepResult, total)}
	for i, step := range d.Steps {
		st.results[i] = StepResult{Step: step.Index, Outcome: Pending}
	}

	r.enter(ctx, st, StateAnnouncing, 0)
	r.deps.Presenter.Announce(ctx, d)
	r.say(ctx, msgAnnounce(d.Diagnosis, total), locale)

	final := StateDone
steps:
	for i, step := range d.Steps {
		st.current = i
		r.deps.Presenter.ShowStep(ctx, step, total)

		r.enter(ctx, st, StateAwaitingPermission, step.Index)
		dec := r.askPermission(ctx, step, locale)
		log.Info("step %d permission: %s", step.Index, dec)

		switch dec {
		case decisionYes:
			r.enter(ctx, st, StateExecuting, step.Index)
			r.setOutcome(ctx, st, step, Running, "")
			r.say(ctx, msgExecuting(step.Index), locale)

			ok, msg := r.deps.Executor.Execute(ctx, step.Command, step.NeedsAdmin)
			if ok {
				st.applied++
				r.setOutcome(ctx, st, step, Done, msg)
				r.say(ctx, msgStepDone(step.Index, msg), locale)
			} else {
				r.setOutcome(ctx, st, step, Failed, msg)
				r.say(ctx, msgStepFailed(step.Index, msg), locale)
			}

		case decisionSkip:
			r.setOutcome(ctx, st, step, Skipped, "")
			r.say(ctx, msgSkipping(step.Index), locale)

		case decisionAbort:
			r.setOutcome(ctx, st, step, Aborted, "")
			r.say(ctx, msgStopping, locale)
			final = StateAborted
			break steps

		case decisionNoResponse:
			r.setOutcome(ctx, st, step, NoResponse, "")
			r.say(ctx, msgNoResponse, locale)
			final = StateNoResponse
			break steps
		}
	}

	r.enter(ctx, st, StateSummarizing, 0)
	report := Report{
		State:   final,
		Applied: st.applied,
		Total:   total,
		Steps:   st.results,
		Summary: summaryLine(st.applied, total),
	}
	if st.applied == 0 {
		report.Message = msgNoFixesApplied
	} else {
		report.Message = msgAllDone(st.applied, total)
	}
	r.say(ctx, report.Message, locale)
	r.deps.Presenter.Summary(ctx, report)

	log.Info("run finished: state=%s %s", report.State, report.Summary)
	return report
}

// askPermission loops until the reply is a yes, a no or an abort. A
// question is answered and the same step is asked again.
func (r *Runner) askPermission(ctx context.Context, step Step, locale string) decision {
	empty := 0
	for {
		if ctx.Err() != nil {
			return decisionAbort
		}

		r.say(ctx, msgPrompt(step), locale)
		reply := r.listen(ctx, locale)

		if reply == "" {
			if ctx.Err() != nil {
				return decisionAbort
			}
			empty++
			logging.FixDebug("step %d: blank reply %d", step.Index, empty)
			if r.opts.MaxEmptyRetries > 0 && empty >= r.opts.MaxEmptyRetries {
				return decisionNoResponse
			}
			continue
		}
		empty = 0

		if reply == QuestionSentinel {
			r.say(ctx, msgAskQuestion, locale)
			reply = r.listen(ctx, locale)
			if reply == "" {
				continue
			}
			r.answer(ctx, reply, step, locale)
			continue
		}

		cls := r.deps.Classifier.Classify(reply, locale)
		if cls == intent.Abort || r.deps.Classifier.ContainsAbort(reply) {
			return decisionAbort
		}
		switch cls {
		case intent.Affirmative:
			return decisionYes
		case intent.Negative:
			return decisionSkip
		case intent.Abort:
			return decisionAbort
		case intent.Unrecognized:
			r.answer(ctx, reply, step, locale)
		}
	}
}

func (r *Runner) listen(ctx context.Context, locale string) string {
	text, err := r.deps.Listener.Listen(ctx, locale)
	if err != nil {
		// A failed capture counts as no reply; the loop re-prompts.
		logging.FixWarn("listen failed: %v", err)
		return ""
	}
	return strings.TrimSpace(text)
}

func (r *Runner) answer(ctx context.Context, question string, step Step, locale string) {
	if r.deps.Answerer == nil {
		r.say(ctx, msgNoAnswerer, locale)
		return
	}
	answer, err := r.deps.Answerer.AnswerQuestion(ctx, question, step)
	if err != nil || strings.TrimSpace(answer) == "" {
		logging.FixWarn("question answering failed for step %d: %v", step.Index, err)
		r.say(ctx, msgAnswerFailed, locale)
		return
	}
	r.say(ctx, strings.TrimSpace(answer), locale)
}

func (r *Runner) say(ctx context.Context, text, locale string) {
	if r.deps.Speaker == nil {
		return
	}
	if err := r.deps.Speaker.Speak(ctx, text, locale); err != nil {
		logging.FixWarn("speak failed: %v", err)
	}
}

func (r *Runner) enter(ctx context.Context, st *runState, s State, step int) {
	st.phase = s
	logging.FixDebug("phase %s (step %d)", s, step)
	r.deps.Presenter.Phase(ctx, s, step)
}

func (r *Runner) setOutcome(ctx context.Context, st *runState, step Step, o Outcome, msg string) {
	st.results[st.current] = StepResult{Step: step.Index, Outcome: o, Message: msg}
	r.deps.Presenter.StepOutcome(ctx, step, o, msg)
}

type nopPresenter struct{}

func (nopPresenter) Announce(context.Context, Diagnosis)                {}
func (nopPresenter) ShowStep(context.Context, Step, int)                {}
func (nopPresenter) StepOutcome(context.Context, Step, Outcome, string) {}
func (nopPresenter) Summary(context.Context, Report)                    {}
func (nopPresenter) Phase(context.Context, State, int)                  {}
