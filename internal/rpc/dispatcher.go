package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"fixme/internal/logging"
)

// Mode selects how a method is executed relative to the read loop.
type Mode int

const (
	// Sync handlers run inline and block reading until they return.
	Sync Mode = iota
	// Async handlers run on the worker pool so later requests are still read.
	Async
)

func (m Mode) String() string {
	if m == Async {
		return "async"
	}
	return "sync"
}

// Handler processes one request. A nil result is encoded as JSON null.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

type method struct {
	mode    Mode
	handler Handler
}

// MessageReader yields one raw message per call and io.EOF at end of input.
type MessageReader interface {
	ReadMessage() ([]byte, error)
}

// MessageWriter writes one complete message. Calls are serialized by the
// dispatcher.
type MessageWriter interface {
	WriteMessage([]byte) error
}

// Options tunes a Dispatcher.
type Options struct {
	// MaxAsync bounds concurrently running async handlers per connection.
	MaxAsync int

	// MaxMessageBytes bounds one request on line transports. 0 is unbounded.
	MaxMessageBytes int
}

// DefaultOptions returns the standard dispatcher options.
func DefaultOptions() Options {
	return Options{MaxAsync: 4, MaxMessageBytes: 8 << 20}
}

// ErrMessageTooLarge is returned by readers for a request over the size
// bound. Serve answers it with CodeInvalidRequest and keeps reading.
var ErrMessageTooLarge = errors.New("request exceeds maximum size")

// ErrConnectionClosed is returned by readers whose peer closed the
// connection. Serve cancels in-flight handlers and returns nil.
var ErrConnectionClosed = errors.New("connection closed by peer")

// Dispatcher routes requests to registered handlers.
type Dispatcher struct {
	mu      sync.RWMutex
	methods map[string]method
	opts    Options
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(opts Options) *Dispatcher {
	if opts.MaxAsync <= 0 {
		opts.MaxAsync = DefaultOptions().MaxAsync
	}
	return &Dispatcher{methods: make(map[string]method), opts: opts}
}

// Register binds a method name. Registering a name twice replaces it.
func (d *Dispatcher) Register(name string, mode Mode, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.methods[name] = method{mode: mode, handler: h}
}

// Methods lists the registered method names.
func (d *Dispatcher) Methods() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.methods))
	for name := range d.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (d *Dispatcher) lookup(name string) (method, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.methods[name]
	return m, ok
}

// Serve reads requests until EOF, a read error, ctx cancellation or a
// handler calling RequestShutdown. In-flight async handlers are awaited
// before Serve returns. After a clean EOF they run to completion; a lost
// transport cancels them first since nobody is left to answer prompts.
func (d *Dispatcher) Serve(parent context.Context, r MessageReader, w MessageWriter) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	c := &conn{
		d:        d,
		w:        w,
		inflight: make(map[string]struct{}),
		cancel:   cancel,
	}
	c.group.SetLimit(d.opts.MaxAsync)

	ctx = context.WithValue(ctx, notifierKey{}, Notifier(c))
	ctx = context.WithValue(ctx, shutdownKey{}, c)

	var readErr error
	for ctx.Err() == nil && !c.stopping.Load() {
		data, err := r.ReadMessage()
		if errors.Is(err, ErrMessageTooLarge) {
			logging.RPCWarn("dropping oversized request")
			c.reply(nullID, nil, NewError(CodeInvalidRequest, "Invalid request: %v", err))
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				readErr = err
				logging.RPCWarn("transport lost, cancelling in-flight handlers: %v", err)
				cancel()
			}
			break
		}
		if len(data) == 0 {
			continue
		}
		c.handle(ctx, data)
	}

	if err := c.group.Wait(); err != nil {
		logging.RPCError("async handler group: %v", err)
	}
	if readErr != nil && !errors.Is(readErr, ErrConnectionClosed) && parent.Err() == nil {
		return fmt.Errorf("read request: %w", readErr)
	}
	return nil
}

// conn holds per-connection state.
type conn struct {
	d        *Dispatcher
	writeMu  sync.Mutex
	w        MessageWriter
	idMu     sync.Mutex
	inflight map[string]struct{}
	group    errgroup.Group
	stopping atomic.Bool
	cancel   context.CancelFunc
}

func (c *conn) handle(ctx context.Context, data []byte) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		logging.RPCWarn("parse error: %v", err)
		c.reply(nullID, nil, NewError(CodeParseError, "Parse error: %v", err))
		return
	}

	id, key := normalizeID(req.ID)
	if req.Method == "" {
		c.reply(id, nil, NewError(CodeInvalidRequest, "Invalid request: missing method"))
		return
	}
	m, ok := c.d.lookup(req.Method)
	if !ok {
		logging.RPCWarn("unknown method %q", req.Method)
		c.reply(id, nil, NewError(CodeMethodNotFound, "Unknown method: %s", req.Method))
		return
	}
	if key != "" && !c.claim(key) {
		c.reply(id, nil, NewError(CodeInvalidRequest, "Duplicate request id %s is still in flight", key))
		return
	}

	reqCtx := context.WithValue(ctx, requestIDKey{}, key)
	run := func() {
		result, err := c.invoke(reqCtx, req.Method, m, req.Params)
		c.reply(id, result, err)
		c.release(key)
	}

	if m.mode == Sync {
		run()
		return
	}
	started := c.group.TryGo(func() error {
		run()
		return nil
	})
	if !started {
		logging.RPCWarn("worker pool full, rejecting %s", req.Method)
		c.reply(id, nil, NewError(CodeServerBusy, "Server busy: too many requests in flight"))
		c.release(key)
	}
}

// slowSyncThreshold is how long a sync handler may hold the reader before
// it is logged as a warning.
const slowSyncThreshold = 5 * time.Second

func (c *conn) invoke(ctx context.Context, name string, m method, params json.RawMessage) (result any, rpcErr *Error) {
	log := logging.WithRequestID(logging.CategoryRPC, RequestIDFrom(ctx))
	timer := logging.StartTimer(logging.CategoryRPC, name)
	defer func() {
		if m.mode == Sync {
			timer.StopWithThreshold(slowSyncThreshold)
		} else {
			timer.Stop()
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in %s: %v\n%s", name, r, debug.Stack())
			result = nil
			rpcErr = NewError(CodeInternal, "Internal error: %v", r)
		}
	}()

	log.Debug("-> %s", name)
	res, err := m.handler(ctx, params)
	if err != nil {
		log.Debug("<- %s error: %v", name, err)
		return nil, asError(err)
	}
	return res, nil
}

func (c *conn) claim(key string) bool {
	c.idMu.Lock()
	defer c.idMu.Unlock()
	if _, busy := c.inflight[key]; busy {
		return false
	}
	c.inflight[key] = struct{}{}
	return true
}

func (c *conn) release(key string) {
	if key == "" {
		return
	}
	c.idMu.Lock()
	delete(c.inflight, key)
	c.idMu.Unlock()
}

func (c *conn) reply(id json.RawMessage, result any, rpcErr *Error) {
	resp := Response{JSONRPC: Version, ID: id}
	if rpcErr != nil {
		resp.Error = rpcErr
	} else {
		encoded, err := json.Marshal(result)
		if err != nil {
			resp.Error = NewError(CodeInternal, "Internal error: encode result: %v", err)
		} else {
			resp.Result = encoded
		}
	}
	c.write(resp)
}

func (c *conn) write(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logging.RPCError("encode message: %v", err)
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.w.WriteMessage(data); err != nil {
		logging.RPCError("write message: %v", err)
	}
}

// Notify implements Notifier.
func (c *conn) Notify(method string, params any) {
	c.write(Notification{JSONRPC: Version, Method: method, Params: params})
}

func (c *conn) shutdown() {
	c.stopping.Store(true)
}

// Notifier sends server-initiated notifications on the current connection.
type Notifier interface {
	Notify(method string, params any)
}

type nopNotifier struct{}

func (nopNotifier) Notify(string, any) {}

type (
	notifierKey  struct{}
	shutdownKey  struct{}
	requestIDKey struct{}
)

// NotifierFrom returns the connection notifier carried by a handler context.
// Outside a connection it returns a notifier that drops everything.
func NotifierFrom(ctx context.Context) Notifier {
	if n, ok := ctx.Value(notifierKey{}).(Notifier); ok {
		return n
	}
	return nopNotifier{}
}

// RequestIDFrom returns the compact request id, or "" for id-less requests.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// RequestShutdown asks Serve to stop reading after the current request.
// Async handlers already running are still awaited.
func RequestShutdown(ctx context.Context) {
	if c, ok := ctx.Value(shutdownKey{}).(*conn); ok {
		c.shutdown()
	}
}
