package proxy

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"

	"github.com/lkarlslund/copilot-relay/pkg/assets"
	"github.com/lkarlslund/copilot-relay/pkg/auth"
	"github.com/lkarlslund/copilot-relay/pkg/copilot"
	"github.com/lkarlslund/copilot-relay/pkg/relay"
)

const (
	maxRequestBody = 8 << 20

	notAuthenticatedMessage = "Not authenticated. Use /v1/auth/device to authenticate."
)

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req copilot.ChatRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "invalid_request_error", "")
		return
	}
	s.normalizer.NormalizeChat(&req)

	token, ok := s.requireToken(w, r)
	if !ok {
		return
	}

	if req.Stream {
		s.streamChatCompletion(w, r, token, req)
		return
	}

	resp, err := s.upstream.Complete(r.Context(), token, req)
	if err != nil {
		var httpErr *copilot.HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusBadRequest {
			// Some upstream models only answer over SSE. Retry once as
			// a stream and assemble the buffered response from it.
			if agg, aggErr := s.aggregateChatCompletion(r, token, req); aggErr == nil {
				writeJSON(w, http.StatusOK, agg)
				return
			}
		}
		s.writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) aggregateChatCompletion(r *http.Request, token string, req copilot.ChatRequest) (*copilot.ChatResponse, error) {
	agg := relay.NewAggregator()
	if err := s.upstream.CompleteStream(r.Context(), token, req, agg.Consume); err != nil {
		return nil, err
	}
	return agg.Response(), nil
}

func (s *Server) streamChatCompletion(w http.ResponseWriter, r *http.Request, token string, req copilot.ChatRequest) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	p := relay.NewPassthrough(w)
	err := s.upstream.CompleteStream(r.Context(), token, req, p.Forward)
	if err != nil {
		if !p.Wrote() {
			// Nothing was sent, the status line is still ours.
			w.Header().Del("Content-Type")
			s.writeUpstreamError(w, err)
			return
		}
		log.Warn("stream ended early", "error", err)
	}
	p.Finish()
}

func (s *Server) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	var req copilot.EmbeddingRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "invalid_request_error", "")
		return
	}
	if err := s.normalizer.NormalizeEmbedding(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "invalid_request_error", "")
		return
	}

	token, ok := s.requireToken(w, r)
	if !ok {
		return
	}

	resp, err := s.normalizer.FanOutEmbeddings(r.Context(), token, s.upstream, req)
	if err != nil {
		s.writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	if s.manager.IsAuthenticated() {
		if token, err := s.manager.Token(r.Context()); err == nil {
			if models, err := s.upstream.ListModels(r.Context(), token); err == nil {
				writeJSON(w, http.StatusOK, models)
				return
			} else {
				log.Warn("upstream model list failed, using static list", "error", err)
			}
		}
	}
	writeJSON(w, http.StatusOK, &copilot.ModelsResponse{
		Object: "list",
		Data:   assets.StaticModels(),
	})
}

func (s *Server) handleRetrieveModel(w http.ResponseWriter, r *http.Request) {
	modelID := chi.URLParam(r, "modelID")
	if s.manager.IsAuthenticated() {
		if token, err := s.manager.Token(r.Context()); err == nil {
			if models, err := s.upstream.ListModels(r.Context(), token); err == nil {
				for _, m := range models.Data {
					if m.ID == modelID {
						writeJSON(w, http.StatusOK, m)
						return
					}
				}
			}
		}
	}
	for _, m := range assets.StaticModels() {
		if m.ID == modelID {
			writeJSON(w, http.StatusOK, m)
			return
		}
	}
	writeJSON(w, http.StatusOK, copilot.Model{
		ID:      modelID,
		Object:  "model",
		Created: time.Now().Unix(),
		OwnedBy: "unknown",
	})
}

type authPollRequest struct {
	DeviceCode string `json:"deviceCode"`
}

type authSetTokenRequest struct {
	Token string `json:"token"`
}

type authResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type authStatus struct {
	Authenticated bool `json:"authenticated"`
}

func (s *Server) handleAuthDevice(w http.ResponseWriter, r *http.Request) {
	code, err := s.manager.StartDeviceFlow(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "auth_error", "")
		return
	}
	writeJSON(w, http.StatusOK, code)
}

func (s *Server) handleAuthPoll(w http.ResponseWriter, r *http.Request) {
	var req authPollRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "invalid_request_error", "")
		return
	}
	res, err := s.manager.PollDeviceFlow(r.Context(), req.DeviceCode)
	if err != nil {
		writeJSON(w, http.StatusOK, authResult{Success: false, Message: err.Error()})
		return
	}
	if res.Pending {
		writeJSON(w, http.StatusOK, authResult{Success: false, Message: "Waiting for user authorization..."})
		return
	}
	writeJSON(w, http.StatusOK, authResult{Success: true, Message: "Authentication successful"})
}

func (s *Server) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req authSetTokenRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "invalid_request_error", "")
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		writeError(w, http.StatusBadRequest, "token is required", "invalid_request_error", "")
		return
	}
	if err := s.manager.SetGitHubToken(req.Token); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "auth_error", "")
		return
	}
	if _, err := s.manager.Refresh(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "auth_error", "")
		return
	}
	writeJSON(w, http.StatusOK, authResult{Success: true, Message: "Token set successfully"})
}

func (s *Server) handleAuthStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, authStatus{Authenticated: s.manager.IsAuthenticated()})
}

func (s *Server) handleAuthLogout(w http.ResponseWriter, _ *http.Request) {
	if err := s.manager.Logout(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "auth_error", "")
		return
	}
	writeJSON(w, http.StatusOK, authResult{Success: true, Message: "Logged out successfully"})
}

// requireToken resolves the upstream credential for an API request,
// writing the error response itself when there is none.
func (s *Server) requireToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	token, err := s.manager.Token(r.Context())
	if err == nil {
		return token, true
	}
	if errors.Is(err, auth.ErrNotAuthenticated) {
		writeError(w, http.StatusUnauthorized, notAuthenticatedMessage, "auth_error", "")
		return "", false
	}
	var refreshErr *auth.RefreshError
	if errors.As(err, &refreshErr) {
		writeError(w, http.StatusUnauthorized, err.Error(), "auth_error", "")
		return "", false
	}
	writeError(w, http.StatusBadGateway, err.Error(), "server_error", "")
	return "", false
}

func (s *Server) writeUpstreamError(w http.ResponseWriter, err error) {
	var httpErr *copilot.HTTPError
	if errors.As(err, &httpErr) {
		writeError(w, httpErr.StatusCode, httpErr.Body, "upstream_error", "")
		return
	}
	writeError(w, http.StatusBadGateway, err.Error(), "server_error", "")
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message, errType, code string) {
	writeJSON(w, status, copilot.ErrorResponse{
		Error: copilot.ErrorDetail{Message: message, Type: errType, Code: code},
	})
}
