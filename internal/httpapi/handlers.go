package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/wishmasterff/animara/internal/agent"
	"github.com/wishmasterff/animara/internal/tools"
)

// chatRequest is the OpenAI-style chat completions body plus the proxy's
// caller-identification extras.
type chatRequest struct {
	Model    string `json:"model,omitempty"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	PersonID  string `json:"person_id,omitempty"`
	ExtraBody *struct {
		PersonID string `json:"person_id,omitempty"`
	} `json:"extra_body,omitempty"`
	EnableTools *bool   `json:"enable_tools,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	ShowStats   *bool   `json:"show_stats,omitempty"`
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if len(req.Messages) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "messages are required"})
		return
	}

	// caller_id resolution: top-level person_id, then extra_body, then default.
	callerID := req.PersonID
	if callerID == "" && req.ExtraBody != nil {
		callerID = req.ExtraBody.PersonID
	}
	if callerID == "" {
		callerID = s.deps.DefaultCallerID
	}

	if !s.allowCaller(callerID) {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
		return
	}

	// Last user message is the current turn.
	userMessage := ""
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			userMessage = req.Messages[i].Content
			break
		}
	}
	if strings.TrimSpace(userMessage) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "empty user message"})
		return
	}

	enableTools := true
	if req.EnableTools != nil {
		enableTools = *req.EnableTools
	}
	showStats := true
	if req.ShowStats != nil {
		showStats = *req.ShowStats
	}

	result := s.deps.Engine.ProcessTurn(r.Context(), agent.TurnRequest{
		CallerID:    callerID,
		Message:     userMessage,
		EnableTools: enableTools,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Model:       req.Model,
	})

	response := map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"role": "assistant", "content": result.Content}},
		},
	}
	if result.Usage != nil {
		response["usage"] = result.Usage
	}
	if showStats {
		stats := map[string]interface{}{
			"model":    result.Model,
			"god_mode": result.GodMode,
			"route":    result.Route,
		}
		if sessionStats, ok := s.deps.Sessions.Stats(callerID); ok {
			stats["session"] = sessionStats
		}
		if len(result.ToolsUsed) > 0 {
			stats["tools_used"] = result.ToolsUsed
		}
		response["animara_stats"] = stats
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "initializing"})
		return
	}
	health := s.deps.MCP.Health()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": Version,
		"features": []string{
			"workspace", "hybrid_search", "bm25", "memory_flush",
			"session_pruning", "tools", "thinking_mode", "god_mode", "mcp",
		},
		"tools":           s.deps.Registry.List(),
		"active_sessions": s.deps.Sessions.ActiveCount(),
		"bm25_docs":       s.deps.BM25.DocCount(),
		"router":          s.deps.Classifier.Stats(),
		"mcp": map[string]interface{}{
			"healthy_servers": health.Healthy,
			"failed_servers":  health.Failed,
			"agent_available": s.deps.Premium.Available(),
		},
	})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	raw, err := s.deps.Local.Models(r.Context())
	if err != nil {
		slog.Warn("models proxy failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(raw)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	callerID := r.PathValue("caller_id")
	stats, ok := s.deps.Sessions.Stats(callerID)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]string{"error": "no session"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":              stats.SessionID,
		"person_id":       stats.CallerID,
		"messages":        stats.Messages,
		"total_tokens":    stats.TotalTokens,
		"flush_threshold": stats.FlushThreshold,
		"needs_flush":     stats.NeedsFlush,
		"flush_done":      stats.FlushDone,
		"tool_calls":      stats.ToolCalls,
		"god_mode":        stats.GodMode,
		"facts":           s.deps.Sessions.Facts(callerID),
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	s.deps.Sessions.End(r.PathValue("caller_id"))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ended"})
}

func (s *Server) handleFlushSession(w http.ResponseWriter, r *http.Request) {
	callerID := r.PathValue("caller_id")
	stats, ok := s.deps.Sessions.Stats(callerID)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]string{"error": "no session"})
		return
	}
	s.deps.Engine.Flush(r.Context(), callerID)
	stats, _ = s.deps.Sessions.Stats(callerID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "flushed",
		"tokens_after": stats.TotalTokens,
	})
}

func (s *Server) handleWorkspace(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Workspace.Stats())
}

func (s *Server) handleWorkspaceWrite(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if strings.TrimSpace(body.Content) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "content is required"})
		return
	}
	if err := s.deps.Workspace.WriteMemory("Note", body.Content); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "written"})
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"tools": s.deps.Registry.List()})
}

func (s *Server) handleExecuteTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var body struct {
		Params map[string]interface{} `json:"params"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	result := s.deps.Registry.Execute(tools.WithCaller(r.Context(), s.deps.DefaultCallerID), name, body.Params)
	writeJSON(w, http.StatusOK, map[string]string{"result": result.ForLLM})
}

func (s *Server) handleRebuildBM25(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.BM25.Rebuild(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"docs":   s.deps.BM25.DocCount(),
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if strings.TrimSpace(query) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "q is required"})
		return
	}
	callerID := r.URL.Query().Get("person_id")
	if callerID == "" {
		callerID = s.deps.DefaultCallerID
	}
	results := s.deps.Retriever.Search(r.Context(), query, callerID, s.deps.SearchTopK)
	writeJSON(w, http.StatusOK, map[string]interface{}{"query": query, "results": results})
}

func (s *Server) handleGodmodeStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":            Version,
		"model":              s.deps.Premium.DefaultModel(),
		"client_initialized": s.deps.Premium.Available(),
		"features": []string{
			"Full Workspace injection",
			"Full RAG (Hybrid Search)",
			"Native function calling",
			"Full Session context",
		},
	})
}

func (s *Server) handleGodmodeModel(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Model string `json:"model"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil || strings.TrimSpace(body.Model) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "model is required"})
		return
	}
	s.deps.Premium.SetModel(body.Model)
	slog.Info("premium model switched", "model", body.Model)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "model": body.Model})
}

func (s *Server) handleGodmodeRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		APIKey string `json:"api_key,omitempty"`
	}
	_ = json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body)
	s.deps.Premium.Refresh(body.APIKey)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":             "refreshed",
		"client_initialized": s.deps.Premium.Available(),
	})
}
