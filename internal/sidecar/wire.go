package sidecar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fixme/internal/capture"
	"fixme/internal/config"
	"fixme/internal/desktop"
	"fixme/internal/intent"
	"fixme/internal/logging"
	"fixme/internal/oracle"
	"fixme/internal/rpc"
	"fixme/internal/speech"
	"fixme/internal/store"
	"fixme/internal/tactile"
)

// Runtime is a fully wired sidecar.
type Runtime struct {
	Server     *Server
	Dispatcher *rpc.Dispatcher
	Store      *store.Store

	closers []func()
}

// Close releases everything Build acquired, in reverse order.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

func (rt *Runtime) onClose(f func()) { rt.closers = append(rt.closers, f) }

// Build wires every component from cfg. Missing API keys degrade the
// affected methods instead of failing startup.
func Build(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	rt := &Runtime{}

	if !cfg.Store.Disabled {
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			logging.BootWarn("audit store unavailable, continuing without it: %v", err)
		} else {
			rt.Store = st
			rt.onClose(func() { _ = st.Close() })
			logging.Boot("audit store: %s", st.Path())
		}
	}

	exec := tactile.NewHostExecutorWithConfig(tactile.ExecutorConfig{
		DefaultTimeout:     cfg.GetExecutionTimeout(),
		MaxOutputBytes:     cfg.Execution.MaxOutputBytes,
		AllowedEnvironment: cfg.Execution.AllowedEnvVars,
	})
	if rt.Store != nil {
		exec.SetAuditCallback(auditSink(rt.Store))
	}

	var svc *oracle.Service
	model, err := oracle.NewModel(ctx, cfg.Oracle, cfg.GetOracleTimeout())
	switch {
	case errors.Is(err, oracle.ErrNotConfigured):
		logging.BootWarn("no oracle API key set; diagnose, chat and questions are unavailable")
		svc = oracle.NewService(nil)
	case err != nil:
		rt.Close()
		return nil, fmt.Errorf("oracle: %w", err)
	default:
		logging.Boot("oracle: %s", model.Name())
		svc = oracle.NewService(model)
	}

	var speaker speech.Speaker = speech.LogSpeaker{}
	if cfg.Speech.ElevenLabsAPIKey != "" {
		var translator speech.Translator
		if svc.Configured() {
			translator = svc
		}
		speaker = speech.NewElevenLabsSpeaker(speech.ElevenLabsConfig{
			APIKey: cfg.Speech.ElevenLabsAPIKey,
			Model:  cfg.Speech.ElevenLabsModel,
			Voices: cfg.Speech.Voices,
		}, speech.NewCommandPlayer(cfg.Speech.Player), translator)
	} else {
		logging.BootWarn("no ElevenLabs API key set; speech is written to the log")
	}

	transcriber := speech.NewGoogleTranscriber(cfg.Speech.GoogleAPIKey, "", 30*time.Second)
	if cfg.Speech.GoogleAPIKey == "" {
		logging.BootWarn("no Google speech API key set; listen will report a transcription error")
	}
	captures := capture.NewRegistry(capture.NewSoxMicrophone(cfg.Capture.Recorder), transcriber, capture.Options{
		ChunkDuration: cfg.GetChunkDuration(),
		MaxDuration:   cfg.GetMaxCaptureDuration(),
		SampleRate:    cfg.Capture.SampleRate,
	})
	rt.onClose(captures.Close)

	table, err := intent.LoadTable(cfg.Intent.LocalesFile)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("locale table: %w", err)
	}
	classifier := intent.NewClassifier(table)
	if cfg.Intent.LocalesFile != "" && cfg.Intent.Watch {
		w, err := intent.NewWatcher(cfg.Intent.LocalesFile, classifier)
		if err == nil {
			err = w.Start(ctx)
		}
		if err != nil {
			logging.BootWarn("locale table will not hot-reload: %v", err)
		} else {
			rt.onClose(w.Stop)
		}
	}

	rt.Server = New(Deps{
		Oracle:     svc,
		Speaker:    speaker,
		Executor:   exec,
		Captures:   captures,
		Screen:     desktop.New(),
		Classifier: classifier,
		Store:      rt.Store,
	}, Options{
		ListenTimeout:     cfg.GetListenTimeout(),
		PermissionTimeout: cfg.GetPermissionListenTimeout(),
		MaxEmptyRetries:   cfg.Permission.MaxEmptyRetries,
	})

	rt.Dispatcher = rpc.NewDispatcher(rpc.Options{
		MaxAsync:        cfg.Dispatcher.MaxAsync,
		MaxMessageBytes: cfg.Dispatcher.MaxLineBytes,
	})
	rt.Server.Register(rt.Dispatcher)
	logging.Boot("sidecar wired: %d methods", len(rt.Dispatcher.Methods()))
	logging.BootDebug("methods: %s", strings.Join(rt.Dispatcher.Methods(), ", "))
	return rt, nil
}

// auditSink persists completed executions. Start events are not stored.
func auditSink(st *store.Store) func(tactile.AuditEvent) {
	return func(ev tactile.AuditEvent) {
		if ev.Type == tactile.AuditEventStart || ev.Result == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := st.RecordExecution(ctx, executionRecord(ev)); err != nil {
			logging.StoreWarn("audit write failed: %v", err)
		}
	}
}

func executionRecord(ev tactile.AuditEvent) store.Execution {
	r := ev.Result
	e := store.Execution{
		RequestID:  ev.Command.RequestID,
		Source:     ev.Command.Source,
		Command:    ev.Command.Line,
		Resolved:   r.Resolved,
		NeedsAdmin: ev.Command.NeedsAdmin,
		Success:    r.Success,
		ExitCode:   r.ExitCode,
		Message:    r.Message,
		Duration:   r.Duration.Milliseconds(),
		StartedAt:  r.StartedAt,
	}
	if r.Fault != nil {
		e.Fault = r.Fault.Kind.String()
	}
	return e
}
