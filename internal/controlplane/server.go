package controlplane

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"sync"

	"github.com/codexmonitor/daemon/internal/codexerr"
	"github.com/codexmonitor/daemon/internal/eventsink"
	"github.com/codexmonitor/daemon/internal/logging"
	"github.com/codexmonitor/daemon/internal/workspace"
	"github.com/codexmonitor/daemon/internal/worktree"
)

// broadcastCapacity is the bounded lossy channel capacity from §4.10.
const broadcastCapacity = 2048

// Server is the Control-Plane Server (component I). It owns the listener,
// the set of broadcast subscribers, and the dispatch table.
type Server struct {
	listener net.Listener
	token    string

	registry *workspace.Registry
	worktree *worktree.Manager
	logger   *slog.Logger

	mu          sync.Mutex
	subscribers map[*conn]chan json.RawMessage

	wg sync.WaitGroup
}

// New builds a Server bound to addr. token == "" means pre-authenticated
// (§4.10: "If no token is configured, the connection is pre-authenticated").
func New(addr, token string, registry *workspace.Registry, wt *worktree.Manager, logger *slog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, codexerr.Wrap(codexerr.KindIO, err)
	}
	return &Server{
		listener:    ln,
		token:       token,
		registry:    registry,
		worktree:    wt,
		logger:      logging.Component(logger, "control_plane"),
		subscribers: make(map[*conn]chan json.RawMessage),
	}, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Publish implements eventsink.Sink: it fans a broadcast event out to every
// authenticated subscriber's lossy channel, dropping on lag (§4.10, §4.11).
func (s *Server) Publish(e eventsink.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- e.Message:
		default:
			// Lagging receiver: skip and continue, per §4.10.
		}
	}
}

// Serve accepts connections until ctx is canceled or the listener errors.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.listener.Close()
	}()

	for {
		nc, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			return codexerr.Wrap(codexerr.KindIO, err)
		}
		c := newConn(nc, s)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			c.run(ctx)
		}()
	}
}

// conn is one client connection: a reader goroutine, a writer goroutine
// draining an unbounded queue, and — once authenticated — a
// broadcast-forwarder goroutine (§5).
type conn struct {
	nc     net.Conn
	server *Server
	queue  *outboundQueue

	authed bool

	bgMu   sync.Mutex
	bgStop map[string]func()
}

func newConn(nc net.Conn, s *Server) *conn {
	return &conn{
		nc:     nc,
		server: s,
		queue:  newOutboundQueue(),
		authed: s.token == "",
		bgStop: make(map[string]func()),
	}
}

func (c *conn) run(ctx context.Context) {
	defer c.nc.Close()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var writerWG sync.WaitGroup
	writerWG.Add(1)
	go func() {
		defer writerWG.Done()
		c.writeLoop()
	}()

	if c.authed {
		c.startBroadcastForwarder(connCtx)
	}

	c.readLoop(connCtx)

	cancel()
	c.stopAllBackgroundSubscribers()
	c.server.unsubscribe(c)
	c.queue.Close()
	writerWG.Wait()
}

func (c *conn) readLoop(ctx context.Context) {
	scanner := bufio.NewScanner(c.nc)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var env inboundEnvelope
		if err := json.Unmarshal(line, &env); err != nil {
			continue
		}
		c.handle(ctx, env)
	}
}

func (c *conn) writeLoop() {
	for {
		data, ok := c.queue.Pop()
		if !ok {
			return
		}
		data = append(data, '\n')
		if _, err := c.nc.Write(data); err != nil {
			return
		}
	}
}

func (c *conn) startBroadcastForwarder(ctx context.Context) {
	ch := c.server.subscribe(c)
	go func() {
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				c.queue.Push(msg)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (s *Server) subscribe(c *conn) chan json.RawMessage {
	ch := make(chan json.RawMessage, broadcastCapacity)
	s.mu.Lock()
	s.subscribers[c] = ch
	s.mu.Unlock()
	return ch
}

func (s *Server) unsubscribe(c *conn) {
	s.mu.Lock()
	ch, ok := s.subscribers[c]
	delete(s.subscribers, c)
	s.mu.Unlock()
	if ok {
		close(ch)
	}
}

// handle processes one inbound line: the auth handshake before
// authentication, the dispatch table after.
func (c *conn) handle(ctx context.Context, env inboundEnvelope) {
	if !c.authed {
		c.handleAuth(env)
		return
	}

	if env.ID == nil {
		// Notifications from clients are accepted but produce no reply;
		// the dispatch table today only defines request handlers.
		return
	}

	result, err := c.server.dispatch(ctx, c, env.Method, env.Params)
	if err != nil {
		c.reply(*env.ID, nil, err)
		return
	}
	c.reply(*env.ID, result, nil)
}

func (c *conn) handleAuth(env inboundEnvelope) {
	if env.Method != "auth" {
		c.replyRaw(env.ID, nil, "unauthorized")
		return
	}

	var token string
	var asString string
	if err := json.Unmarshal(env.Params, &asString); err == nil {
		token = asString
	} else {
		var asObject struct {
			Token string `json:"token"`
		}
		_ = json.Unmarshal(env.Params, &asObject)
		token = asObject.Token
	}

	if token != c.server.token {
		c.replyRaw(env.ID, nil, "invalid token")
		return
	}

	c.authed = true
	c.replyRaw(env.ID, map[string]any{"ok": true}, "")
	c.startBroadcastForwarder(context.Background())
}

func (c *conn) reply(id uint64, result any, err error) {
	if err != nil {
		c.queue.Push(mustMarshal(outboundResponse{ID: id, Error: &outboundError{Message: err.Error()}}))
		return
	}
	c.queue.Push(mustMarshal(outboundResponse{ID: id, Result: marshalResult(result)}))
}

func (c *conn) replyRaw(id *uint64, result any, errMsg string) {
	if id == nil {
		return
	}
	if errMsg != "" {
		c.queue.Push(mustMarshal(outboundResponse{ID: *id, Error: &outboundError{Message: errMsg}}))
		return
	}
	c.queue.Push(mustMarshal(outboundResponse{ID: *id, Result: marshalResult(result)}))
}

func (c *conn) stopAllBackgroundSubscribers() {
	c.bgMu.Lock()
	defer c.bgMu.Unlock()
	for _, stop := range c.bgStop {
		stop()
	}
	c.bgStop = make(map[string]func())
}

func mustMarshal(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return []byte(`{}`)
	}
	return raw
}

// idParam is a convenience decode target for {"id": "..."} request params.
type idParam struct {
	ID string `json:"id"`
}
