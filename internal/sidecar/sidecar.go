// Package sidecar binds the RPC methods to the diagnosis, capture, fix and
// execution components.
package sidecar

import (
	"context"
	"runtime"
	"time"

	"fixme/internal/capture"
	"fixme/internal/fix"
	"fixme/internal/intent"
	"fixme/internal/oracle"
	"fixme/internal/rpc"
	"fixme/internal/store"
	"fixme/internal/tactile"
)

// Oracle diagnoses screenshots and answers questions.
type Oracle interface {
	Diagnose(ctx context.Context, image []byte) (fix.Diagnosis, error)
	AnswerQuestion(ctx context.Context, question string, step fix.Step) (string, error)
	Chat(ctx context.Context, req oracle.ChatRequest) (oracle.ChatReply, error)
	Configured() bool
}

// Executor runs command lines on the host.
type Executor interface {
	Run(ctx context.Context, cmd tactile.Command) *tactile.Result
	ResolveSSID(ctx context.Context) (string, error)
}

// Screen captures the display and drives input.
type Screen interface {
	Capture(ctx context.Context) ([]byte, error)
	Screenshot(ctx context.Context) (string, error)
	Click(ctx context.Context, x, y int) error
	Type(ctx context.Context, text string) error
}

// Options tunes the sidecar.
type Options struct {
	// ListenTimeout applies to listen requests that carry no timeout.
	ListenTimeout time.Duration

	// PermissionTimeout bounds each permission capture of a fix run.
	PermissionTimeout time.Duration

	MaxEmptyRetries int

	// GOOS selects the fix catalog; empty means the running OS.
	GOOS string
}

// Deps are the sidecar's collaborators. Store may be nil.
type Deps struct {
	Oracle     Oracle
	Speaker    fix.Speaker
	Executor   Executor
	Captures   *capture.Registry
	Screen     Screen
	Classifier *intent.Classifier
	Store      *store.Store
}

// Server implements every RPC method.
type Server struct {
	deps    Deps
	opts    Options
	replies *replyBoard
}

// New creates a server.
func New(deps Deps, opts Options) *Server {
	if opts.GOOS == "" {
		opts.GOOS = runtime.GOOS
	}
	if opts.ListenTimeout <= 0 {
		opts.ListenTimeout = 30 * time.Second
	}
	if opts.PermissionTimeout <= 0 {
		opts.PermissionTimeout = 15 * time.Second
	}
	if deps.Classifier == nil {
		deps.Classifier = intent.NewClassifier(nil)
	}
	return &Server{deps: deps, opts: opts, replies: newReplyBoard()}
}

// Register binds every method on d.
func (s *Server) Register(d *rpc.Dispatcher) {
	d.Register("diagnose", rpc.Sync, s.diagnose)
	d.Register("verify", rpc.Sync, s.verify)
	d.Register("execute_step", rpc.Sync, s.executeStep)
	d.Register("listen", rpc.Async, s.listen)
	d.Register("stop_listen", rpc.Sync, s.stopListen)
	d.Register("run_fix", rpc.Async, s.runFix)
	d.Register("quick_fix", rpc.Async, s.quickFix)
	d.Register("reply", rpc.Sync, s.reply)
	d.Register("chat", rpc.Sync, s.chat)
	d.Register("speak", rpc.Sync, s.speak)
	d.Register("screenshot", rpc.Sync, s.screenshot)
	d.Register("click_at", rpc.Sync, s.clickAt)
	d.Register("type_text", rpc.Sync, s.typeText)
	d.Register("fixes", rpc.Sync, s.fixes)
	d.Register("history", rpc.Sync, s.history)
	d.Register("shutdown", rpc.Sync, s.shutdown)
}
