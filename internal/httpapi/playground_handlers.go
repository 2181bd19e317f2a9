package httpapi

import (
	"errors"
	"net/http"

	"genaiportal.org/internal/auth"
	"genaiportal.org/internal/obs"
	"genaiportal.org/internal/playground"
)

type chatRequest struct {
	Message             string               `json:"message"`
	ConversationHistory []playground.Message `json:"conversationHistory"`
	MaxTokens           int                  `json:"maxTokens"`
	Model               string               `json:"model"`
}

type chatResponse struct {
	Success             bool                 `json:"success"`
	Model               string               `json:"model,omitempty"`
	ConversationHistory []playground.Message `json:"conversationHistory,omitempty"`
	Error               string               `json:"error,omitempty"`
	Retryable           bool                 `json:"retryable,omitempty"`
}

func (a *API) handlePlaygroundChat(w http.ResponseWriter, r *http.Request) {
	if err := auth.Require(session(r), auth.CapUsePlayground); err != nil {
		handleError(w, r, err)
		return
	}
	if a.chat == nil {
		writeError(w, r, http.StatusServiceUnavailable, "playground disabled")
		return
	}
	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	res, err := a.chat.Chat(r.Context(), playground.Request{
		Model:     req.Model,
		Message:   req.Message,
		History:   req.ConversationHistory,
		MaxTokens: req.MaxTokens,
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, chatResponse{
			Success:             true,
			Model:               res.Model,
			ConversationHistory: res.ConversationHistory,
		})
	case errors.Is(err, playground.ErrUpstream):
		obs.Warn("playground_upstream_failed", map[string]any{
			"request_id": RequestIDFromContext(r.Context()),
			"model":      req.Model,
			"error":      err.Error(),
		})
		writeJSON(w, http.StatusBadGateway, chatResponse{
			Success:   false,
			Error:     err.Error(),
			Retryable: true,
		})
	default:
		handleError(w, r, err)
	}
}

func (a *API) handleModels(w http.ResponseWriter, r *http.Request) {
	if err := auth.Require(session(r), auth.CapUsePlayground); err != nil {
		handleError(w, r, err)
		return
	}
	models := []string{}
	if a.chat != nil {
		models = a.chat.Models()
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}
