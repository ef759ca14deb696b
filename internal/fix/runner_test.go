package fix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type reply struct {
	text string
	err  error
}

// scriptedListener returns the scripted replies in order, then blanks.
type scriptedListener struct {
	mu      sync.Mutex
	replies []reply
	calls   int
}

func listenerOf(texts ...string) *scriptedListener {
	l := &scriptedListener{}
	for _, t := range texts {
		l.replies = append(l.replies, reply{text: t})
	}
	return l
}

func (l *scriptedListener) Listen(context.Context, string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if len(l.replies) == 0 {
		return "", nil
	}
	r := l.replies[0]
	l.replies = l.replies[1:]
	return r.text, r.err
}

type recordingSpeaker struct {
	mu     sync.Mutex
	spoken []string
}

func (s *recordingSpeaker) Speak(_ context.Context, text, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spoken = append(s.spoken, text)
	return nil
}

func (s *recordingSpeaker) count(substr string) int {
	n := 0
	for _, t := range s.spoken {
		if strings.Contains(t, substr) {
			n++
		}
	}
	return n
}

type execCall struct {
	command string
	admin   bool
}

type fakeExecutor struct {
	results map[string]bool
	message string
	calls   []execCall
}

func (e *fakeExecutor) Execute(_ context.Context, command string, needsAdmin bool) (bool, string) {
	e.calls = append(e.calls, execCall{command, needsAdmin})
	ok, found := e.results[command]
	if !found {
		ok = true
	}
	if e.message != "" {
		return ok, e.message
	}
	if ok {
		return true, "ok"
	}
	return false, "boom"
}

type fakeAnswerer struct {
	answer    string
	err       error
	questions []string
	steps     []int
}

func (a *fakeAnswerer) AnswerQuestion(_ context.Context, q string, step Step) (string, error) {
	a.questions = append(a.questions, q)
	a.steps = append(a.steps, step.Index)
	return a.answer, a.err
}

type recordingPresenter struct {
	events []string
}

func (p *recordingPresenter) Announce(_ context.Context, d Diagnosis) {
	p.events = append(p.events, "announce")
}

func (p *recordingPresenter) ShowStep(_ context.Context, s Step, total int) {
	p.events = append(p.events, "step:"+s.Description)
}

func (p *recordingPresenter) StepOutcome(_ context.Context, s Step, o Outcome, _ string) {
	p.events = append(p.events, "outcome:"+o.String())
}

func (p *recordingPresenter) Summary(_ context.Context, r Report) {
	p.events = append(p.events, "summary:"+r.Summary)
}

func (p *recordingPresenter) Phase(_ context.Context, s State, step int) {
	p.events = append(p.events, fmt.Sprintf("phase:%s:%d", s, step))
}

func dnsDiagnosis() Diagnosis {
	return Diagnosis{
		Diagnosis: "DNS failure",
		Category:  "dns",
		Steps: []Step{
			{Index: 1, Description: "Flush DNS", Command: "ipconfig /flushdns", NeedsAdmin: true},
		},
	}
}

func threeSteps() Diagnosis {
	return Diagnosis{
		Diagnosis: "Wi-Fi dropped",
		Category:  "wifi",
		Steps: []Step{
			{Index: 1, Description: "turn Wi-Fi off", Command: "cmd1"},
			{Index: 2, Description: "wait", Command: "cmd2"},
			{Index: 3, Description: "turn Wi-Fi on", Command: "cmd3"},
		},
	}
}

type harness struct {
	listener  *scriptedListener
	speaker   *recordingSpeaker
	executor  *fakeExecutor
	answerer  *fakeAnswerer
	presenter *recordingPresenter
}

func newHarness(l *scriptedListener) *harness {
	return &harness{
		listener:  l,
		speaker:   &recordingSpeaker{},
		executor:  &fakeExecutor{},
		answerer:  &fakeAnswerer{answer: "It clears cached addresses."},
		presenter: &recordingPresenter{},
	}
}

func (h *harness) runner(opts Options) *Runner {
	return NewRunner(Deps{
		Presenter: h.presenter,
		Speaker:   h.speaker,
		Listener:  h.listener,
		Executor:  h.executor,
		Answerer:  h.answerer,
	}, opts)
}

func TestRun_AffirmativeExecutesStep(t *testing.T) {
	h := newHarness(listenerOf("yes"))
	h.executor.message = "flushed"

	report := h.runner(Options{MaxEmptyRetries: 5}).Run(context.Background(), dnsDiagnosis(), "en")

	assert.Equal(t, StateDone, report.State)
	assert.Equal(t, "1 of 1 steps applied", report.Summary)
	assert.Equal(t, 1, report.Applied)
	if diff := cmp.Diff([]Outcome{Done}, report.Outcomes()); diff != "" {
		t.Errorf("outcomes mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []execCall{{"ipconfig /flushdns", true}}, h.executor.calls)
	assert.Equal(t, "flushed", report.Steps[0].Message)
	assert.Contains(t, h.speaker.spoken, "Step 1 complete. flushed")
	assert.Contains(t, h.speaker.spoken, "All done! 1 of 1 steps were applied. The fix process is complete.")
}

func TestRun_NegativeSkipsWithoutExecuting(t *testing.T) {
	h := newHarness(listenerOf("no, skip it"))

	report := h.runner(Options{}).Run(context.Background(), dnsDiagnosis(), "en")

	assert.Equal(t, StateDone, report.State)
	assert.Equal(t, "0 of 1 steps applied", report.Summary)
	assert.Equal(t, "No fixes were applied.", report.Message)
	if diff := cmp.Diff([]Outcome{Skipped}, report.Outcomes()); diff != "" {
		t.Errorf("outcomes mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, h.executor.calls)
	assert.Contains(t, h.speaker.spoken, "Skipping step 1.")
}

func TestRun_AbortStopsRemainingSteps(t *testing.T) {
	h := newHarness(listenerOf("yes", "stop"))

	report := h.runner(Options{}).Run(context.Background(), threeSteps(), "en")

	assert.Equal(t, StateAborted, report.State)
	if diff := cmp.Diff([]Outcome{Done, Aborted, Pending}, report.Outcomes()); diff != "" {
		t.Errorf("outcomes mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []execCall{{"cmd1", false}}, h.executor.calls)
	assert.Equal(t, "1 of 3 steps applied", report.Summary)
	assert.Contains(t, h.speaker.spoken, "Stopping the fix process.")
	assert.Equal(t, 0, h.speaker.count("Step 3:"), "step 3 is never prompted")
}

func TestRun_VisitsEveryStepInOrder(t *testing.T) {
	h := newHarness(listenerOf("yes", "sure", "nope"))
	h.executor.results = map[string]bool{"cmd2": false}

	report := h.runner(Options{}).Run(context.Background(), threeSteps(), "en")

	assert.Equal(t, StateDone, report.State)
	if diff := cmp.Diff([]Outcome{Done, Failed, Skipped}, report.Outcomes()); diff != "" {
		t.Errorf("outcomes mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 1, report.Applied, "only affirmative and successful steps count")
	assert.Equal(t, []execCall{{"cmd1", false}, {"cmd2", false}}, h.executor.calls)
	assert.Contains(t, h.speaker.spoken, "Step 2 failed: boom. Moving on.")

	var stepsShown []string
	for _, e := range h.presenter.events {
		if strings.HasPrefix(e, "step:") {
			stepsShown = append(stepsShown, e)
		}
	}
	assert.Equal(t, []string{"step:turn Wi-Fi off", "step:wait", "step:turn Wi-Fi on"}, stepsShown)
}

func TestRun_QuestionIsAnsweredThenReprompted(t *testing.T) {
	h := newHarness(listenerOf("what does this do", "yes"))

	report := h.runner(Options{}).Run(context.Background(), dnsDiagnosis(), "en")

	assert.Equal(t, StateDone, report.State)
	assert.Equal(t, []string{"what does this do"}, h.answerer.questions)
	assert.Equal(t, []int{1}, h.answerer.steps)
	assert.Equal(t, 2, h.speaker.count("Step 1: I want to Flush DNS. Shall I proceed?"))

	answerAt, secondPromptAt := -1, -1
	for i, s := range h.speaker.spoken {
		if s == "It clears cached addresses." {
			answerAt = i
		}
		if strings.HasPrefix(s, "Step 1: I want to") {
			secondPromptAt = i
		}
	}
	assert.Less(t, answerAt, secondPromptAt, "answer is spoken before permission is asked again")
}

func TestRun_AnswererFailureApologizes(t *testing.T) {
	h := newHarness(listenerOf("is this safe", "yes"))
	h.answerer.err = errors.New("rate limited")

	report := h.runner(Options{}).Run(context.Background(), dnsDiagnosis(), "en")

	assert.Equal(t, StateDone, report.State)
	assert.Contains(t, h.speaker.spoken, "Sorry, I couldn't answer that. Let me ask again about this step.")
}

func TestRun_NoAnswererConfigured(t *testing.T) {
	h := newHarness(listenerOf("why", "no"))
	r := NewRunner(Deps{Speaker: h.speaker, Listener: h.listener, Executor: h.executor}, Options{})

	report := r.Run(context.Background(), dnsDiagnosis(), "en")

	assert.Equal(t, []Outcome{Skipped}, report.Outcomes())
	assert.Contains(t, h.speaker.spoken, "Sorry, I cannot answer questions right now because the API is not configured.")
}

func TestRun_BlankRepliesReprompt(t *testing.T) {
	h := newHarness(listenerOf("", "   ", "yes"))

	report := h.runner(Options{MaxEmptyRetries: 5}).Run(context.Background(), dnsDiagnosis(), "en")

	assert.Equal(t, []Outcome{Done}, report.Outcomes())
	assert.Equal(t, 3, h.speaker.count("Shall I proceed?"))
}

func TestRun_RetryCeilingEndsWithNoResponse(t *testing.T) {
	h := newHarness(listenerOf())

	report := h.runner(Options{MaxEmptyRetries: 3}).Run(context.Background(), threeSteps(), "en")

	assert.Equal(t, StateNoResponse, report.State)
	if diff := cmp.Diff([]Outcome{NoResponse, Pending, Pending}, report.Outcomes()); diff != "" {
		t.Errorf("outcomes mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 3, h.listener.calls)
	assert.Empty(t, h.executor.calls)
}

func TestRun_CaptureErrorCountsAsBlank(t *testing.T) {
	l := &scriptedListener{replies: []reply{
		{err: errors.New("No audio recorded")},
		{text: "yes"},
	}}
	h := newHarness(l)

	report := h.runner(Options{MaxEmptyRetries: 5}).Run(context.Background(), dnsDiagnosis(), "en")

	assert.Equal(t, []Outcome{Done}, report.Outcomes())
	assert.Equal(t, 2, h.speaker.count("Shall I proceed?"))
}

func TestRun_QuestionSentinel(t *testing.T) {
	h := newHarness(listenerOf(QuestionSentinel, "is it reversible?", "yes"))

	report := h.runner(Options{}).Run(context.Background(), dnsDiagnosis(), "en")

	assert.Equal(t, []Outcome{Done}, report.Outcomes())
	assert.Contains(t, h.speaker.spoken, "What would you like to know?")
	assert.Equal(t, []string{"is it reversible?"}, h.answerer.questions)
}

func TestRun_AbortWordFromAnyLocale(t *testing.T) {
	h := newHarness(listenerOf("detener"))

	report := h.runner(Options{}).Run(context.Background(), dnsDiagnosis(), "en")

	assert.Equal(t, StateAborted, report.State)
	assert.Empty(t, h.answerer.questions, "an abort word is never treated as a question")
}

func TestRun_AbortWinsOverAffirmative(t *testing.T) {
	h := newHarness(listenerOf("yes, actually stop"))

	report := h.runner(Options{}).Run(context.Background(), dnsDiagnosis(), "en")

	assert.Equal(t, []Outcome{Aborted}, report.Outcomes())
	assert.Empty(t, h.executor.calls)
}

func TestRun_NoSteps(t *testing.T) {
	h := newHarness(listenerOf("yes"))
	d := Diagnosis{Diagnosis: "Forgotten password", Category: "password"}

	report := h.runner(Options{}).Run(context.Background(), d, "en")

	assert.Equal(t, StateDone, report.State)
	assert.Equal(t, 0, report.Applied)
	assert.Equal(t, "0 of 0 steps applied", report.Summary)
	assert.Contains(t, report.Message, "no automated fix steps available")
	assert.Equal(t, 0, h.listener.calls)
	assert.Empty(t, h.executor.calls)
}

func TestRun_CancelledContextAborts(t *testing.T) {
	h := newHarness(listenerOf("yes"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := h.runner(Options{}).Run(ctx, dnsDiagnosis(), "en")

	assert.Equal(t, StateAborted, report.State)
	assert.Empty(t, h.executor.calls)
}

func TestRun_PresenterEventOrder(t *testing.T) {
	h := newHarness(listenerOf("yes"))

	h.runner(Options{}).Run(context.Background(), dnsDiagnosis(), "en")

	want := []string{
		"phase:announcing:0",
		"announce",
		"step:Flush DNS",
		"phase:awaiting_permission:1",
		"phase:executing:1",
		"outcome:running",
		"outcome:done",
		"phase:summarizing:0",
		"summary:1 of 1 steps applied",
	}
	if diff := cmp.Diff(want, h.presenter.events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestDiagnosisValidate(t *testing.T) {
	d := Diagnosis{Steps: []Step{{Description: "a"}, {Index: 2, Description: "b"}}}
	require.NoError(t, d.Validate())
	assert.Equal(t, 1, d.Steps[0].Index)

	bad := Diagnosis{Steps: []Step{{Index: 2}}}
	assert.ErrorIs(t, bad.Validate(), ErrInvalidDiagnosis)
}

func TestStepUnmarshalAcceptsIndex(t *testing.T) {
	var d Diagnosis
	require.NoError(t, json.Unmarshal([]byte(`{
		"diagnosis": "x",
		"steps": [
			{"index": 1, "description": "a", "command": "c", "needs_admin": true, "ui_highlight": null},
			{"step": 2, "description": "b", "command": "d", "ui_highlight": {"x": 1}}
		]
	}`), &d))
	require.Len(t, d.Steps, 2)
	assert.Equal(t, 1, d.Steps[0].Index)
	assert.True(t, d.Steps[0].NeedsAdmin)
	assert.Nil(t, d.Steps[0].UIHighlight)
	assert.Equal(t, 2, d.Steps[1].Index)
	assert.JSONEq(t, `{"x":1}`, string(d.Steps[1].UIHighlight))
}

func TestReportJSON(t *testing.T) {
	r := Report{State: StateAborted, Steps: []StepResult{{Step: 1, Outcome: NoResponse}}}
	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"outcome":"no_response"`)
	assert.Contains(t, string(data), `"state":"aborted"`)

	var o Outcome
	require.NoError(t, o.UnmarshalText([]byte("skipped")))
	assert.Equal(t, Skipped, o)
	assert.Error(t, o.UnmarshalText([]byte("maybe")))
}

func TestRun_PhasesOnSkipAndAbort(t *testing.T) {
	h := newHarness(listenerOf("no", "stop"))
	d := Diagnosis{Diagnosis: "Wi-Fi stuck", Steps: []Step{
		{Index: 1, Description: "turn Wi-Fi off", Command: "cmd1"},
		{Index: 2, Description: "turn Wi-Fi on", Command: "cmd2"},
	}}

	report := h.runner(Options{}).Run(context.Background(), d, "en")

	var phases []string
	for _, e := range h.presenter.events {
		if strings.HasPrefix(e, "phase:") {
			phases = append(phases, e)
		}
	}
	want := []string{
		"phase:announcing:0",
		"phase:awaiting_permission:1",
		"phase:awaiting_permission:2",
		"phase:summarizing:0",
	}
	if diff := cmp.Diff(want, phases); diff != "" {
		t.Errorf("phases mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, StateAborted, report.State)
	assert.Empty(t, h.executor.calls)
}
