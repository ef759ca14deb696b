package fix

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidDiagnosis is returned by Validate for malformed step lists.
var ErrInvalidDiagnosis = errors.New("invalid diagnosis")

// Diagnosis is the oracle's reading of a problem. It is never mutated.
type Diagnosis struct {
	Diagnosis      string `json:"diagnosis"`
	Category       string `json:"category"` // wifi, dns, password, other
	FixID          string `json:"fix_id,omitempty"`
	FixDescription string `json:"fix_description,omitempty"`
	Steps          []Step `json:"steps"`
}

// Step is one remediation action.
type Step struct {
	Index       int             `json:"step"`
	Description string          `json:"description"`
	Command     string          `json:"command"`
	NeedsAdmin  bool            `json:"needs_admin"`
	UIHighlight json.RawMessage `json:"ui_highlight,omitempty"`
}

// UnmarshalJSON accepts both "step" and "index" for the position.
func (s *Step) UnmarshalJSON(data []byte) error {
	type plain Step
	var aux struct {
		plain
		Alt *int `json:"index"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*s = Step(aux.plain)
	if s.Index == 0 && aux.Alt != nil {
		s.Index = *aux.Alt
	}
	if string(s.UIHighlight) == "null" {
		s.UIHighlight = nil
	}
	return nil
}

// Validate checks that step indexes are 1..N in order. Steps with no
// index are numbered by position.
func (d *Diagnosis) Validate() error {
	for i := range d.Steps {
		want := i + 1
		if d.Steps[i].Index == 0 {
			d.Steps[i].Index = want
		}
		if d.Steps[i].Index != want {
			return fmt.Errorf("%w: step at position %d has index %d", ErrInvalidDiagnosis, want, d.Steps[i].Index)
		}
	}
	return nil
}

// Outcome is the execution state of one step.
type Outcome int

const (
	Pending Outcome = iota
	Running
	Done
	Failed
	Skipped
	Aborted
	NoResponse
)

var outcomeNames = [...]string{
	Pending:    "pending",
	Running:    "running",
	Done:       "done",
	Failed:     "failed",
	Skipped:    "skipped",
	Aborted:    "aborted",
	NoResponse: "no_response",
}

func (o Outcome) String() string {
	if int(o) >= 0 && int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// MarshalText encodes the outcome by name.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText decodes an outcome name.
func (o *Outcome) UnmarshalText(b []byte) error {
	for i, name := range outcomeNames {
		if name == string(b) {
			*o = Outcome(i)
			return nil
		}
	}
	return fmt.Errorf("unknown outcome %q", b)
}

// State is the phase of a run.
type State string

const (
	StateAnnouncing         State = "announcing"
	StateAwaitingPermission State = "awaiting_permission"
	StateExecuting          State = "executing"
	StateSummarizing        State = "summarizing"
	StateDone               State = "done"
	StateAborted            State = "aborted"
	StateNoResponse         State = "no_response"
)

// decision is what the permission loop concluded.
type decision int

const (
	decisionYes decision = iota + 1
	decisionSkip
	decisionAbort
	decisionNoResponse
)

func (d decision) String() string {
	switch d {
	case decisionYes:
		return "yes"
	case decisionSkip:
		return "skip"
	case decisionAbort:
		return "abort"
	case decisionNoResponse:
		return "no_response"
	}
	return "unknown"
}

// StepResult records the outcome of one step.
type StepResult struct {
	Step    int     `json:"step"`
	Outcome Outcome `json:"outcome"`
	Message string  `json:"message,omitempty"`
}

// Report is the result of Run.
type Report struct {
	State   State        `json:"state"`
	Applied int          `json:"applied"`
	Total   int          `json:"total"`
	Steps   []StepResult `json:"steps"`
	Summary string       `json:"summary"`
	Message string       `json:"message"`
}

// Outcomes returns the per-step outcomes in order.
func (r Report) Outcomes() []Outcome {
	out := make([]Outcome, len(r.Steps))
	for i, s := range r.Steps {
		out[i] = s.Outcome
	}
	return out
}

// runState lives for the duration of one Run.
type runState struct {
	phase   State
	current int
	applied int
	results []StepResult
}
