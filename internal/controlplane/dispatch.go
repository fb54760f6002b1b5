package controlplane

import (
	"context"
	"encoding/json"

	"github.com/codexmonitor/daemon/internal/codexerr"
	"github.com/codexmonitor/daemon/internal/workspace"
)

// agentMethodAliases maps the control-plane's underscored method names onto
// the outbound agent JSON-RPC methods they forward to, per the list in §6.
var agentMethodAliases = map[string]string{
	"start_thread":                "thread/start",
	"resume_thread":               "thread/resume",
	"list_threads":                "thread/list",
	"archive_thread":              "thread/archive",
	"compact_thread":              "thread/compact/start",
	"set_thread_name":             "thread/name/set",
	"fork_thread":                 "thread/fork",
	"start_turn":                  "turn/start",
	"steer_turn":                  "turn/steer",
	"interrupt_turn":              "turn/interrupt",
	"start_review":                "review/start",
	"list_models":                 "model/list",
	"list_collaboration_modes":    "collaborationMode/list",
	"list_skills":                 "skills/list",
	"list_apps":                   "app/list",
	"list_experimental_features":  "experimentalFeature/list",
	"list_mcp_servers":            "mcpServerStatus/list",
	"read_account":                "account/read",
	"read_rate_limits":            "account/rateLimits/read",
	"start_login":                 "account/login/start",
	"cancel_login":                "account/login/cancel",
}

// dispatch routes one authenticated request to its handler. The explicit
// registry/worktree methods are handled first; anything else falling in
// agentMethodAliases is forwarded to the named workspace's session.
func (s *Server) dispatch(ctx context.Context, c *conn, method string, params json.RawMessage) (any, error) {
	switch method {
	case "add_workspace":
		return s.handleAddWorkspace(ctx, params)
	case "remove_workspace":
		return s.handleRemoveWorkspace(ctx, params)
	case "list_workspaces":
		return s.registry.List(), nil
	case "get_workspace":
		return s.handleGetWorkspace(params)
	case "update_settings":
		return s.handleUpdateSettings(ctx, params)
	case "create_worktree":
		return s.handleCreateWorktree(ctx, params)
	case "rename_worktree":
		return s.handleRenameWorktree(ctx, params)
	case "remove_worktree":
		return s.handleRemoveWorktree(ctx, params)
	case "register_background_subscriber":
		return s.handleRegisterBackgroundSubscriber(c, params)
	case "unregister_background_subscriber":
		return s.handleUnregisterBackgroundSubscriber(c, params)
	}

	if agentMethod, ok := agentMethodAliases[method]; ok {
		return s.forwardToAgent(ctx, agentMethod, params)
	}

	return nil, codexerr.New(codexerr.KindInvalid, "unknown method %q", method)
}

func (s *Server) handleAddWorkspace(ctx context.Context, params json.RawMessage) (any, error) {
	var req struct {
		Path string `json:"path"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, codexerr.New(codexerr.KindInvalid, "malformed params: %v", err)
	}
	return s.registry.AddWorkspace(ctx, req.Path, req.Name)
}

func (s *Server) handleRemoveWorkspace(ctx context.Context, params json.RawMessage) (any, error) {
	var req struct {
		ID      string `json:"id"`
		Cascade bool   `json:"cascade"`
		Force   bool   `json:"force"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, codexerr.New(codexerr.KindInvalid, "malformed params: %v", err)
	}
	rec, ok := s.registry.Get(req.ID)
	if !ok {
		return nil, codexerr.New(codexerr.KindNotFound, "workspace %q not found", req.ID)
	}
	if rec.Kind == workspace.KindWorktree {
		return nil, s.worktree.Remove(ctx, req.ID, req.Force)
	}
	return nil, s.registry.RemoveWorkspace(req.ID, req.Cascade)
}

func (s *Server) handleGetWorkspace(params json.RawMessage) (any, error) {
	var req idParam
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, codexerr.New(codexerr.KindInvalid, "malformed params: %v", err)
	}
	rec, ok := s.registry.Get(req.ID)
	if !ok {
		return nil, codexerr.New(codexerr.KindNotFound, "workspace %q not found", req.ID)
	}
	return rec, nil
}

func (s *Server) handleUpdateSettings(ctx context.Context, params json.RawMessage) (any, error) {
	var req struct {
		ID       string             `json:"id"`
		Settings workspace.Settings `json:"settings"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, codexerr.New(codexerr.KindInvalid, "malformed params: %v", err)
	}
	return s.registry.UpdateSettings(ctx, req.ID, req.Settings)
}

func (s *Server) handleCreateWorktree(ctx context.Context, params json.RawMessage) (any, error) {
	var req struct {
		ParentID string `json:"parentId"`
		Branch   string `json:"branch"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, codexerr.New(codexerr.KindInvalid, "malformed params: %v", err)
	}
	return s.worktree.Create(ctx, req.ParentID, req.Branch)
}

func (s *Server) handleRenameWorktree(ctx context.Context, params json.RawMessage) (any, error) {
	var req struct {
		ID        string `json:"id"`
		NewBranch string `json:"newBranch"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, codexerr.New(codexerr.KindInvalid, "malformed params: %v", err)
	}
	return s.worktree.Rename(ctx, req.ID, req.NewBranch)
}

func (s *Server) handleRemoveWorktree(ctx context.Context, params json.RawMessage) (any, error) {
	var req struct {
		ID    string `json:"id"`
		Force bool   `json:"force"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, codexerr.New(codexerr.KindInvalid, "malformed params: %v", err)
	}
	return nil, s.worktree.Remove(ctx, req.ID, req.Force)
}

// forwardToAgent routes a client request through to the named workspace's
// live session, using the agent's own method name (§6's outbound list).
func (s *Server) forwardToAgent(ctx context.Context, agentMethod string, params json.RawMessage) (any, error) {
	var req struct {
		WorkspaceID string          `json:"workspaceId"`
		Params      json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, codexerr.New(codexerr.KindInvalid, "malformed params: %v", err)
	}
	sess, ok := s.registry.Session(req.WorkspaceID)
	if !ok {
		return nil, codexerr.New(codexerr.KindNotConnected, "workspace %q has no live session", req.WorkspaceID)
	}
	var agentParams any
	if len(req.Params) > 0 {
		agentParams = req.Params
	}
	result, err := sess.Request(ctx, req.WorkspaceID, agentMethod, agentParams)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Server) handleRegisterBackgroundSubscriber(c *conn, params json.RawMessage) (any, error) {
	var req struct {
		WorkspaceID string `json:"workspaceId"`
		ThreadID    string `json:"threadId"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, codexerr.New(codexerr.KindInvalid, "malformed params: %v", err)
	}
	sess, ok := s.registry.Session(req.WorkspaceID)
	if !ok {
		return nil, codexerr.New(codexerr.KindNotConnected, "workspace %q has no live session", req.WorkspaceID)
	}

	c.bgMu.Lock()
	if old, exists := c.bgStop[req.ThreadID]; exists {
		old()
	}
	sub := sess.RegisterBackgroundSubscriber(req.ThreadID)
	c.bgStop[req.ThreadID] = func() { sess.UnregisterBackgroundSubscriber(req.ThreadID) }
	c.bgMu.Unlock()

	go func() {
		for {
			msg, ok := sub.Pop()
			if !ok {
				return
			}
			envelope := mustMarshal(outboundNotification{
				Method: "background-thread-event",
				Params: mustMarshal(struct {
					ThreadID string `json:"threadId"`
					Message  any    `json:"message"`
				}{req.ThreadID, msg}),
			})
			c.queue.Push(envelope)
		}
	}()

	return map[string]any{"ok": true}, nil
}

func (s *Server) handleUnregisterBackgroundSubscriber(c *conn, params json.RawMessage) (any, error) {
	var req struct {
		ThreadID string `json:"threadId"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, codexerr.New(codexerr.KindInvalid, "malformed params: %v", err)
	}
	c.bgMu.Lock()
	if stop, ok := c.bgStop[req.ThreadID]; ok {
		stop()
		delete(c.bgStop, req.ThreadID)
	}
	c.bgMu.Unlock()
	return map[string]any{"ok": true}, nil
}
