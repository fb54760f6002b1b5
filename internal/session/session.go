// Package session implements the core of the daemon: the Request Registry
// (C), Thread Router (D), Event Dispatcher (E), and Session Supervisor (F)
// from SPEC_FULL.md §4. A Session owns exactly one spawned agent
// subprocess and exposes the request/notify/respond surface described in
// §4.1, dispatching everything the subprocess writes to stdout through the
// Event Dispatcher.
//
// The overall shape — one owned child process, a mutex-guarded stdin
// writer, a single stdout-reading goroutine, a crash/shutdown monitor — is
// grounded in the teacher's internal/acp (gateway.go, session_host.go,
// process.go): this package keeps that lifecycle discipline while replacing
// the ACP-typed handshake with the spec's generic JSON-RPC dialect.
package session

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/codexmonitor/daemon/internal/codexerr"
	"github.com/codexmonitor/daemon/internal/eventsink"
	"github.com/codexmonitor/daemon/internal/queue"
	"github.com/codexmonitor/daemon/internal/rpc"
)

const (
	// RequestTimeout is the hard 300s timeout on Session.Request (§4.1, §5).
	RequestTimeout = 300 * time.Second
	// InitTimeout bounds the synchronous initialize handshake (§4.6, §5).
	InitTimeout = 15 * time.Second
	// VersionCheckTimeout bounds the --version health check (§4.6, §5).
	VersionCheckTimeout = 5 * time.Second
)

// SpawnConfig describes how to build and start the agent subprocess.
type SpawnConfig struct {
	// AgentBinary overrides the global default agent executable
	// (WorkspaceRecord.agent_binary_override); empty means use Default.
	AgentBinary string
	Default     string
	Args        []string
	CodexHome   string
	WorkDir     string
	ClientInfo  any
	Capabilities any
}

func (c SpawnConfig) binary() string {
	if c.AgentBinary != "" {
		return c.AgentBinary
	}
	return c.Default
}

// Session owns one agent subprocess and the bookkeeping needed to route its
// messages to the right workspace.
type Session struct {
	ownerWorkspaceID string

	registry   *registry
	threads    *threadRouter
	workspaces *attachedWorkspaces
	background *backgroundSubscribers

	sink   eventsink.Sink
	logger *slog.Logger

	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdinMu sync.Mutex

	startedAt time.Time

	closeOnce sync.Once
	closed    chan struct{}
}

// Open spawns a new agent subprocess for ownerWorkspaceID and performs the
// synchronous initialize handshake (§4.6). It health-checks the binary
// first with `<agent> --version`.
func Open(ctx context.Context, cfg SpawnConfig, ownerWorkspaceID, ownerRoot string, sink eventsink.Sink, logger *slog.Logger) (*Session, error) {
	binary := cfg.binary()
	if binary == "" {
		return nil, codexerr.New(codexerr.KindInvalid, "no agent binary configured")
	}

	if err := healthCheck(ctx, binary); err != nil {
		return nil, err
	}

	cmd, stdin, stdout, stderr, err := startProcess(cfg)
	if err != nil {
		return nil, codexerr.Wrap(codexerr.KindIO, err)
	}

	s := &Session{
		ownerWorkspaceID: ownerWorkspaceID,
		registry:         newRegistry(),
		threads:          newThreadRouter(),
		workspaces:       newAttachedWorkspaces(ownerWorkspaceID, ownerRoot),
		background:       newBackgroundSubscribers(),
		sink:             sink,
		logger:           logger.With("workspace_id", ownerWorkspaceID),
		cmd:              cmd,
		stdin:            stdin,
		startedAt:        time.Now(),
		closed:           make(chan struct{}),
	}

	go s.readLoop(stdout)
	go s.stderrLoop(stderr)
	go s.monitorExit()

	initCtx, cancel := context.WithTimeout(ctx, InitTimeout)
	defer cancel()
	if _, err := s.Request(initCtx, ownerWorkspaceID, "initialize", map[string]any{
		"clientInfo":   cfg.ClientInfo,
		"capabilities": cfg.Capabilities,
	}); err != nil {
		s.killProcessTree()
		if initCtx.Err() != nil {
			return nil, codexerr.New(codexerr.KindTimeout, "initialize handshake timed out")
		}
		return nil, codexerr.Wrap(codexerr.KindAgent, err)
	}

	if err := s.Notify("initialized", nil); err != nil {
		s.killProcessTree()
		return nil, codexerr.Wrap(codexerr.KindIO, err)
	}

	s.emitConnected()
	return s, nil
}

// healthCheck runs `<agent> --version` with a 5s timeout, per §4.6: a
// NotFound-class error means the agent binary is missing, any other
// nonzero exit means it failed to start, and empty stdout is a non-fatal
// "unknown version".
func healthCheck(ctx context.Context, binary string) error {
	ctx, cancel := context.WithTimeout(ctx, VersionCheckTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, binary, "--version")
	out, err := cmd.Output()
	if err != nil {
		if isNotFound(err) {
			return codexerr.New(codexerr.KindNotFound, "agent binary %q not found", binary)
		}
		return codexerr.New(codexerr.KindAgent, "agent failed to start: %v", err)
	}
	if len(out) == 0 {
		// Non-fatal: unknown version, but the binary ran.
		return nil
	}
	return nil
}

// Request allocates an id, writes {id, method, params} to stdin, and waits
// up to 300s for the matching response (§4.1). If params carries a
// threadId/thread_id/thread.id string, it is bound to workspaceID.
func (s *Session) Request(ctx context.Context, workspaceID, method string, params any) (json.RawMessage, error) {
	id, ch := s.registry.allocate(RequestContext{WorkspaceID: workspaceID, Method: method})

	if threadID, ok := threadIDFromParams(params); ok {
		s.threads.bind(threadID, workspaceID)
	}

	if err := s.writeLine(rpc.OutboundRequest{ID: id, Method: method, Params: params}); err != nil {
		s.registry.cancelOne(id, err)
		return nil, codexerr.Wrap(codexerr.KindIO, err)
	}

	timeout := RequestTimeout
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d < timeout {
			timeout = d
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		if res.msg.Error != nil {
			return nil, codexerr.New(codexerr.KindAgent, "%s", res.msg.Error.Message)
		}
		return res.msg.Result, nil
	case <-timer.C:
		s.registry.cancelOne(id, codexerr.New(codexerr.KindTimeout, "request %q timed out after %s", method, timeout))
		return nil, codexerr.New(codexerr.KindTimeout, "request %q timed out after %s", method, timeout)
	case <-ctx.Done():
		s.registry.cancelOne(id, ctx.Err())
		return nil, ctx.Err()
	case <-s.closed:
		return nil, codexerr.New(codexerr.KindCanceled, "session closed")
	}
}

// Notify writes {method, params} to stdin with no id.
func (s *Session) Notify(method string, params any) error {
	return s.writeLine(rpc.OutboundNotification{Method: method, Params: params})
}

// Respond writes {id, result} to stdin, answering a server-originated
// request from the agent (§4.1).
func (s *Session) Respond(id uint64, result any) error {
	return s.writeLine(rpc.OutboundResponse{ID: id, Result: result})
}

// writeLine serializes v and writes it followed by a newline. stdin is the
// only lock held across the underlying write (§5).
func (s *Session) writeLine(v any) error {
	buf, err := json.Marshal(v)
	if err != nil {
		return err
	}
	buf = append(buf, '\n')

	s.stdinMu.Lock()
	defer s.stdinMu.Unlock()
	_, err = s.stdin.Write(buf)
	return err
}

// AttachWorkspace adds workspaceID (sharing this session) to the attached
// set (§3: "attachment is append-only during the Session's life").
func (s *Session) AttachWorkspace(workspaceID, root string) {
	s.workspaces.attach(workspaceID, root)
}

// RegisterBackgroundSubscriber installs a private, unbounded subscriber
// queue for threadID, per §4.5. Callers must unregister on a terminal event
// or timeout; unregistering closes the returned queue, unblocking any
// pending Pop.
func (s *Session) RegisterBackgroundSubscriber(threadID string) *queue.Unbounded[rpc.Message] {
	return s.background.register(threadID)
}

// UnregisterBackgroundSubscriber removes threadID's private subscriber.
func (s *Session) UnregisterBackgroundSubscriber(threadID string) {
	s.background.unregister(threadID)
}

// OwnerWorkspaceID returns the workspace id this session was opened for.
func (s *Session) OwnerWorkspaceID() string { return s.ownerWorkspaceID }

// Uptime reports how long the child process has been running.
func (s *Session) Uptime() time.Duration { return time.Since(s.startedAt) }

// Close tears the session down: stdin is closed, the process tree is
// killed, and every pending request resolves with RequestCanceled (§4.6).
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		s.registry.sweep(codexerr.New(codexerr.KindCanceled, "session closed"))
		_ = s.stdin.Close()
		err = s.killProcessTree()
	})
	return err
}

func (s *Session) readLoop(stdout io.Reader) {
	framer := rpc.NewFramer(stdout)
	for {
		line, err := framer.Next()
		if err != nil {
			// stdout EOF: sweep pending/request_context (§4.1, §4.6).
			s.registry.sweep(codexerr.New(codexerr.KindCanceled, "agent process exited"))
			return
		}
		if line.ParseErr != nil {
			s.emitParseError(line.Raw, line.ParseErr)
			continue
		}
		s.dispatch(line.Msg)
	}
}

func (s *Session) stderrLoop(stderr io.Reader) {
	framer := rpc.NewFramer(stderr)
	for {
		line, err := framer.Next()
		if err != nil {
			return
		}
		raw := line.Raw
		if raw == "" {
			continue
		}
		s.emitStderr(raw)
	}
}

func (s *Session) monitorExit() {
	_ = s.cmd.Wait()
	s.logger.Warn("agent process exited", "started", humanize.Time(s.startedAt))
	_ = s.Close()
}

func threadIDFromParams(params any) (string, bool) {
	if params == nil {
		return "", false
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return "", false
	}
	return rpc.ExtractThreadID(rpc.Message{Params: raw})
}

func (s *Session) emitConnected() {
	envelope, _ := json.Marshal(struct {
		Method string `json:"method"`
		Params any    `json:"params"`
	}{"codex/connected", struct {
		WorkspaceID string `json:"workspaceId"`
	}{s.ownerWorkspaceID}})
	s.sink.Publish(eventsink.Event{WorkspaceID: s.ownerWorkspaceID, Message: envelope})
}

func (s *Session) emitStderr(line string) {
	envelope, _ := json.Marshal(struct {
		Method string `json:"method"`
		Params any    `json:"params"`
	}{"codex/stderr", struct {
		Message string `json:"message"`
	}{line}})
	s.sink.Publish(eventsink.Event{WorkspaceID: s.ownerWorkspaceID, Message: envelope})
}
