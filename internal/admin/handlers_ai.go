package admin

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/annaparis/salonbot/internal/ai"
)

func (s *Server) currentModelHandler(w http.ResponseWriter, _ *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]any{
		"success":             true,
		"current_provider":    s.registry.Current(),
		"available_providers": s.registry.Available(),
	})
}

type switchRequest struct {
	Provider string `json:"provider"`
	Reason   string `json:"reason"`
}

func (s *Server) switchModelHandler(w http.ResponseWriter, r *http.Request) {
	var req switchRequest
	if !s.decode(w, r, &req) {
		return
	}
	old, err := s.registry.Switch(r.Context(), req.Provider, req.Reason)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "not specified"
	}
	s.log.Info("model switched", zap.String("provider", req.Provider), zap.String("reason", reason))
	s.sendJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"old_provider": old,
		"new_provider": req.Provider,
		"reason":       req.Reason,
	})
}

func (s *Server) modelHistoryHandler(w http.ResponseWriter, r *http.Request) {
	history, err := s.registry.History(r.Context())
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"total_switches": len(history),
		"history":        history,
	})
}

func (s *Server) resetHistoryHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.ResetHistory(r.Context()); err != nil {
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]any{"success": true, "message": "History cleared"})
}

func (s *Server) quickSwitchHandler(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")
	old, err := s.registry.Switch(r.Context(), provider, "quick switch")
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"message":      "Switched to " + provider,
		"old_provider": old,
		"new_provider": provider,
	})
}

type testRequest struct {
	Provider     string `json:"provider"`
	SystemPrompt string `json:"system_prompt"`
	UserMessage  string `json:"user_message"`
	MaxTokens    int    `json:"max_tokens"`
}

func (r *testRequest) defaults() {
	if r.SystemPrompt == "" {
		r.SystemPrompt = "You are a helpful assistant."
	}
	if r.MaxTokens <= 0 {
		r.MaxTokens = 500
	}
}

func (s *Server) testHandler(w http.ResponseWriter, r *http.Request) {
	var req testRequest
	if !s.decode(w, r, &req) {
		return
	}
	req.defaults()

	client, ok := s.registry.Get(req.Provider)
	if !ok {
		s.sendError(w, http.StatusBadRequest, "unknown provider: "+req.Provider)
		return
	}
	comp, err := client.Complete(r.Context(), req.SystemPrompt, req.UserMessage, req.MaxTokens)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]any{"success": true, "data": comp})
}

func (s *Server) compareHandler(w http.ResponseWriter, r *http.Request) {
	var req testRequest
	if !s.decode(w, r, &req) {
		return
	}
	req.defaults()

	results := s.registry.CompareAll(r.Context(), req.SystemPrompt, req.UserMessage, req.MaxTokens)
	s.sendJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    results,
		"summary": compareSummary(results),
	})
}

func (s *Server) statusHandler(w http.ResponseWriter, _ *http.Request) {
	available := s.registry.Available()
	status := make(map[string]bool, len(available))
	for _, name := range available {
		status[name] = true
	}
	s.sendJSON(w, http.StatusOK, map[string]any{
		"success":             true,
		"status":              status,
		"available_providers": available,
		"total_available":     len(available),
	})
}

// quickTestHandler fires a trivial question at every provider, a cheap way
// to verify all API keys still work.
func (s *Server) quickTestHandler(w http.ResponseWriter, r *http.Request) {
	const question = "What is 2+2?"
	results := s.registry.CompareAll(r.Context(),
		"You are a helpful assistant. Answer in one short sentence.", question, 50)

	summary := make(map[string]any, len(results))
	for provider, res := range results {
		if res.Err != "" {
			summary[provider] = map[string]any{"status": "failed", "error": res.Err}
			continue
		}
		preview := res.Completion.Text
		if len(preview) > 100 {
			preview = preview[:100]
		}
		summary[provider] = map[string]any{
			"status":   "working",
			"response": preview,
			"cost":     res.Completion.Cost,
		}
	}
	s.sendJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"test_question": question,
		"results":       summary,
		"summary":       compareSummary(results),
	})
}

func compareSummary(results map[string]ai.CompareResult) map[string]any {
	successful := 0
	total := 0.0
	for _, res := range results {
		if res.Err == "" && res.Completion != nil {
			successful++
			total += res.Completion.Cost
		}
	}
	return map[string]any{
		"providers":           len(results),
		"successful":          successful,
		"total_cost_estimate": total,
	}
}
