package sidecar

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"fixme/internal/capture"
	"fixme/internal/fix"
	"fixme/internal/logging"
	"fixme/internal/oracle"
	"fixme/internal/rpc"
	"fixme/internal/store"
	"fixme/internal/tactile"
)

type okResult struct {
	OK bool `json:"ok"`
}

func defaultLocale(lang string) string {
	if strings.TrimSpace(lang) == "" {
		return "en"
	}
	return lang
}

// diagnose captures the screen and asks the oracle what is wrong.
func (s *Server) diagnose(ctx context.Context, _ json.RawMessage) (any, error) {
	return s.diagnoseScreen(ctx, "diagnose")
}

// verify re-diagnoses the screen after a fix.
func (s *Server) verify(ctx context.Context, _ json.RawMessage) (any, error) {
	return s.diagnoseScreen(ctx, "verify")
}

func (s *Server) diagnoseScreen(ctx context.Context, op string) (any, error) {
	if !s.deps.Oracle.Configured() {
		return nil, oracle.ErrNotConfigured
	}
	image, err := s.deps.Screen.Capture(ctx)
	if err != nil {
		return nil, err
	}
	d, err := s.deps.Oracle.Diagnose(ctx, image)
	if err != nil {
		logging.OracleWarn("%s failed: %v", op, err)
		return nil, err
	}
	return d, nil
}

type executeParams struct {
	Command string `json:"command"`
	Admin   bool   `json:"admin"`
}

type executeResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (s *Server) executeStep(ctx context.Context, params json.RawMessage) (any, error) {
	var p executeParams
	if err := rpc.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	r := s.deps.Executor.Run(ctx, tactile.Command{
		Line:       p.Command,
		NeedsAdmin: p.Admin,
		RequestID:  rpc.RequestIDFrom(ctx),
		Source:     "execute_step",
	})
	return executeResult{Success: r.Success, Message: r.Message}, nil
}

type listenParams struct {
	Lang    string   `json:"lang"`
	Timeout *float64 `json:"timeout"` // seconds
}

type listenResult struct {
	Text      string         `json:"text"`
	Error     *string        `json:"error"`
	ErrorKind string         `json:"error_kind,omitempty"`
	Handle    capture.Handle `json:"handle"`
}

func newListenResult(h capture.Handle, res capture.Result) listenResult {
	out := listenResult{Text: res.Text, Handle: h}
	if res.Err != nil {
		msg := res.Err.Error()
		out.Error = &msg
		out.ErrorKind = capture.FaultKindOf(res.Err).String()
	}
	return out
}

// listen records until the timeout or a stop_listen and returns the
// transcript. The handle is announced as soon as recording starts.
func (s *Server) listen(ctx context.Context, params json.RawMessage) (any, error) {
	var p listenParams
	if err := rpc.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	timeout := s.opts.ListenTimeout
	if p.Timeout != nil {
		if *p.Timeout <= 0 {
			return nil, rpc.InvalidParams("timeout must be positive, got %v", *p.Timeout)
		}
		timeout = time.Duration(*p.Timeout * float64(time.Second))
	}

	h, err := s.deps.Captures.Start(ctx, defaultLocale(p.Lang), timeout)
	if err != nil {
		return nil, err
	}
	rpc.NotifierFrom(ctx).Notify("listen/started", map[string]any{
		"handle":     h,
		"request_id": rpc.RequestIDFrom(ctx),
	})
	res, err := s.deps.Captures.Wait(ctx, h)
	if err != nil {
		return nil, err
	}
	return newListenResult(h, res), nil
}

type stopListenParams struct {
	Handle capture.Handle `json:"handle"`
}

// stopListen ends a capture. Without a handle it stops the latest one.
// It always succeeds.
func (s *Server) stopListen(_ context.Context, params json.RawMessage) (any, error) {
	var p stopListenParams
	if err := rpc.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Handle != "" {
		s.deps.Captures.Stop(p.Handle)
	} else {
		s.deps.Captures.StopActive()
	}
	return okResult{OK: true}, nil
}

type runFixParams struct {
	Diagnosis *fix.Diagnosis `json:"diagnosis"`
	Lang      string         `json:"lang"`
}

// runFix walks a diagnosis through the permission-gated executor.
func (s *Server) runFix(ctx context.Context, params json.RawMessage) (any, error) {
	var p runFixParams
	if err := rpc.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Diagnosis == nil {
		return nil, rpc.InvalidParams("diagnosis is required")
	}
	d := *p.Diagnosis
	d.Steps = append([]fix.Step(nil), d.Steps...)
	if err := d.Validate(); err != nil {
		return nil, rpc.InvalidParams("%v", err)
	}
	return s.run(ctx, d, defaultLocale(p.Lang), "run_fix"), nil
}

type quickFixParams struct {
	FixID string `json:"fix_id"`
	Lang  string `json:"lang"`
}

var quickFixCategories = map[string]string{
	"toggle_wifi":             "wifi",
	"restart_network":         "wifi",
	"flush_dns":               "dns",
	"open_credential_manager": "password",
}

// quickFix runs a catalog fix with the same per-step permission as run_fix.
func (s *Server) quickFix(ctx context.Context, params json.RawMessage) (any, error) {
	var p quickFixParams
	if err := rpc.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	f, ok := tactile.LookupFixFor(s.opts.GOOS, p.FixID)
	if !ok {
		return nil, rpc.InvalidParams("Unknown fix: %s", p.FixID)
	}
	return s.run(ctx, s.quickFixDiagnosis(ctx, f), defaultLocale(p.Lang), "quick_fix"), nil
}

func (s *Server) quickFixDiagnosis(ctx context.Context, f tactile.Fix) fix.Diagnosis {
	ssid := ""
	for _, c := range f.Commands {
		if strings.Contains(c, "{ssid}") {
			if resolved, err := s.deps.Executor.ResolveSSID(ctx); err == nil {
				ssid = resolved
			}
			break
		}
	}
	category := quickFixCategories[f.ID]
	if category == "" {
		category = "other"
	}
	d := fix.Diagnosis{
		Diagnosis:      "Running quick fix: " + f.Label,
		Category:       category,
		FixID:          f.ID,
		FixDescription: f.Label,
		Steps:          make([]fix.Step, 0, len(f.Commands)),
	}
	for i, c := range f.Commands {
		d.Steps = append(d.Steps, fix.Step{
			Index:       i + 1,
			Description: f.Label + " - " + strings.ReplaceAll(c, "{ssid}", ssid),
			Command:     c,
			NeedsAdmin:  f.NeedsAdmin,
		})
	}
	return d
}

func (s *Server) run(ctx context.Context, d fix.Diagnosis, locale, source string) fix.Report {
	runID := uuid.NewString()
	notifier := rpc.NotifierFrom(ctx)
	started := time.Now()
	logging.Fix("run %s (%s): %q, %d steps, locale=%s", runID, source, d.Diagnosis, len(d.Steps), locale)
	replies := s.replies.open(runID)
	defer s.replies.close(runID)

	presenter := &notifyPresenter{n: notifier, runID: runID, onPhase: func(st fix.State) {
		s.replies.arm(runID, st == fix.StateAwaitingPermission)
	}}
	listener := &registryListener{
		reg:     s.deps.Captures,
		n:       notifier,
		runID:   runID,
		timeout: s.opts.PermissionTimeout,
		replies: replies,
	}
	deps := fix.Deps{
		Presenter:  presenter,
		Speaker:    &notifySpeaker{n: notifier, runID: runID, next: s.deps.Speaker},
		Listener:   listener,
		Executor:   &auditedExecutor{exec: s.deps.Executor, source: source, requestID: rpc.RequestIDFrom(ctx)},
		Classifier: s.deps.Classifier,
	}
	if s.deps.Oracle != nil && s.deps.Oracle.Configured() {
		deps.Answerer = s.deps.Oracle
	}
	report := fix.NewRunner(deps, fix.Options{MaxEmptyRetries: s.opts.MaxEmptyRetries}).Run(ctx, d, locale)
	s.recordRun(runID, d, locale, report, started)
	return report
}

func (s *Server) recordRun(runID string, d fix.Diagnosis, locale string, report fix.Report, started time.Time) {
	if s.deps.Store == nil {
		return
	}
	outcomes, err := json.Marshal(report.Steps)
	if err != nil {
		logging.StoreWarn("encode outcomes of run %s: %v", runID, err)
		return
	}
	// The request context may already be cancelled when a run aborts.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = s.deps.Store.RecordRun(ctx, store.Run{
		ID:        runID,
		Diagnosis: d.Diagnosis,
		Locale:    locale,
		State:     string(report.State),
		Total:     report.Total,
		Applied:   report.Applied,
		Outcomes:  outcomes,
		Summary:   report.Summary,
		StartedAt: started,
		EndedAt:   time.Now(),
	})
	if err != nil {
		logging.StoreWarn("record run %s: %v", runID, err)
	}
}

type replyParams struct {
	Text  string `json:"text"`
	RunID string `json:"run_id"`
}

// reply hands a typed or button reply to a fix run waiting for permission.
// Without run_id it goes to the most recently started run.
func (s *Server) reply(_ context.Context, params json.RawMessage) (any, error) {
	var p replyParams
	if err := rpc.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Text) == "" {
		return nil, rpc.InvalidParams("text is required")
	}
	runID, err := s.replies.post(p.RunID, p.Text)
	if err != nil {
		if p.RunID != "" {
			return nil, rpc.InvalidParams("%v: %s", err, p.RunID)
		}
		return nil, rpc.InvalidParams("%v", err)
	}
	logging.Fix("typed reply for run %s", runID)
	return map[string]any{"ok": true, "run_id": runID}, nil
}

type chatParams struct {
	Text    string           `json:"text"`
	Lang    string           `json:"lang"`
	History []oracle.Message `json:"history"`
}

func (s *Server) chat(ctx context.Context, params json.RawMessage) (any, error) {
	var p chatParams
	if err := rpc.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Text) == "" {
		return nil, rpc.InvalidParams("text is required")
	}
	return s.deps.Oracle.Chat(ctx, oracle.ChatRequest{Text: p.Text, Locale: defaultLocale(p.Lang), History: p.History})
}

type speakParams struct {
	Text string `json:"text"`
	Lang string `json:"lang"`
}

func (s *Server) speak(ctx context.Context, params json.RawMessage) (any, error) {
	var p speakParams
	if err := rpc.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	if err := s.deps.Speaker.Speak(ctx, p.Text, defaultLocale(p.Lang)); err != nil {
		return nil, err
	}
	return okResult{OK: true}, nil
}

func (s *Server) screenshot(ctx context.Context, _ json.RawMessage) (any, error) {
	path, err := s.deps.Screen.Screenshot(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]string{"path": path}, nil
}

type clickParams struct {
	X *int `json:"x"`
	Y *int `json:"y"`
}

func (s *Server) clickAt(ctx context.Context, params json.RawMessage) (any, error) {
	var p clickParams
	if err := rpc.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.X == nil || p.Y == nil {
		return nil, rpc.InvalidParams("x and y are required")
	}
	if err := s.deps.Screen.Click(ctx, *p.X, *p.Y); err != nil {
		return nil, err
	}
	return okResult{OK: true}, nil
}

type typeParams struct {
	Text string `json:"text"`
}

func (s *Server) typeText(ctx context.Context, params json.RawMessage) (any, error) {
	var p typeParams
	if err := rpc.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	if err := s.deps.Screen.Type(ctx, p.Text); err != nil {
		return nil, err
	}
	return okResult{OK: true}, nil
}

type fixesResult struct {
	Platform string        `json:"platform"`
	Fixes    []tactile.Fix `json:"fixes"`
}

func (s *Server) fixes(context.Context, json.RawMessage) (any, error) {
	return fixesResult{Platform: s.opts.GOOS, Fixes: tactile.CatalogFor(s.opts.GOOS)}, nil
}

type historyParams struct {
	Limit int `json:"limit"`
}

type historyResult struct {
	Executions []store.Execution `json:"executions"`
	Runs       []store.Run       `json:"runs"`
}

const maxHistory = 500

func (s *Server) history(ctx context.Context, params json.RawMessage) (any, error) {
	var p historyParams
	if err := rpc.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Limit < 0 {
		return nil, rpc.InvalidParams("limit must be >= 0, got %d", p.Limit)
	}
	if p.Limit == 0 {
		p.Limit = 20
	}
	if p.Limit > maxHistory {
		p.Limit = maxHistory
	}
	out := historyResult{Executions: []store.Execution{}, Runs: []store.Run{}}
	if s.deps.Store == nil {
		return out, nil
	}
	execs, err := s.deps.Store.RecentExecutions(ctx, p.Limit)
	if err != nil {
		return nil, err
	}
	runs, err := s.deps.Store.RecentRuns(ctx, p.Limit)
	if err != nil {
		return nil, err
	}
	if execs != nil {
		out.Executions = execs
	}
	if runs != nil {
		out.Runs = runs
	}
	return out, nil
}

func (s *Server) shutdown(ctx context.Context, _ json.RawMessage) (any, error) {
	logging.RPC("shutdown requested")
	if stopped := s.deps.Captures.StopActive(); stopped {
		logging.Capture("stopped active capture for shutdown")
	}
	rpc.RequestShutdown(ctx)
	return map[string]string{"status": "shutting down"}, nil
}
