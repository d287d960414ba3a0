package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/verita-ai/verita/internal/chat"
	"github.com/verita-ai/verita/internal/log"
	"github.com/verita-ai/verita/internal/promptcfg"
)

// ConversationRunner runs one full conversation turn.
type ConversationRunner interface {
	Run(ctx context.Context, req chat.Request) (*chat.Result, error)
}

// PromptSource supplies the configured prompt texts.
type PromptSource interface {
	PromptText(ctx context.Context, key string) (string, error)
}

// ChatHandler handles the conversation endpoint.
type ChatHandler struct {
	runner  ConversationRunner
	prompts PromptSource
	logger  log.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(runner ConversationRunner, prompts PromptSource, logger log.Logger) *ChatHandler {
	return &ChatHandler{runner: runner, prompts: prompts, logger: logger}
}

// RegisterRoutes registers chat routes on the given mux.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/chat", h.handleChat)
}

// ChatRequest is the request body of POST /api/chat.
type ChatRequest struct {
	UserID         string           `json:"userId"`
	SessionID      string           `json:"sessionId,omitempty"`
	Text           string           `json:"text"`
	Attachments    []ChatAttachment `json:"attachments,omitempty"`
	EngageWorkflow bool             `json:"engageWorkflow"`
	StyleMode      string           `json:"styleMode,omitempty"`
	SaveHistory    bool             `json:"saveHistory"`
}

// ChatAttachment references previously uploaded media by storage URI.
type ChatAttachment struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType"`
}

// ChatResponse is the response body of POST /api/chat. Errors collects
// tool failures that occurred mid-conversation; the conversation itself
// still completed.
type ChatResponse struct {
	Response  string               `json:"response"`
	SessionID string               `json:"sessionId"`
	Claims    []chat.VerifiedClaim `json:"processedClaims,omitempty"`
	Instances []map[string]any     `json:"impreciseLanguageInstances,omitempty"`
	Errors    string               `json:"errors,omitempty"`
}

func (h *ChatHandler) handleChat(w http.ResponseWriter, r *http.Request) {
	var in ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body: "+err.Error())
		return
	}
	if in.UserID == "" {
		writeError(w, h.logger, http.StatusBadRequest, "MISSING_USER_ID", "userId is required")
		return
	}
	if in.Text == "" {
		writeError(w, h.logger, http.StatusBadRequest, "MISSING_TEXT", "text is required")
		return
	}

	ctx := r.Context()

	systemInstruction, err := h.prompts.PromptText(ctx, promptcfg.KeySystemInstruction)
	if err != nil {
		h.logger.Error("loading system instruction", "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "CONFIGURATION_ERROR", err.Error())
		return
	}
	verificationPrompt, err := h.prompts.PromptText(ctx, promptcfg.KeyVerificationPrompt)
	if err != nil {
		h.logger.Error("loading verification prompt", "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "CONFIGURATION_ERROR", err.Error())
		return
	}

	req := chat.Request{
		UserID:             in.UserID,
		SessionID:          in.SessionID,
		Text:               chat.CleanText(in.Text),
		SystemInstruction:  systemInstruction,
		VerificationPrompt: verificationPrompt,
		EngageWorkflow:     in.EngageWorkflow,
		StyleMode:          in.StyleMode,
		SaveHistory:        in.SaveHistory,
	}
	for _, att := range in.Attachments {
		req.Attachments = append(req.Attachments, chat.Attachment{URI: att.URI, MIME: att.MimeType})
	}

	res, err := h.runner.Run(ctx, req)
	if err != nil {
		h.logger.Error("conversation run failed", "error", err, "userId", in.UserID)
		writeError(w, h.logger, http.StatusInternalServerError, "CHAT_ERROR", err.Error())
		return
	}

	out := ChatResponse{
		Response:  res.FinalText,
		SessionID: res.SessionID,
		Claims:    res.Claims,
		Errors:    chat.RenderErrors(res.ToolErrors),
	}
	for _, inst := range res.Instances {
		out.Instances = append(out.Instances, inst.Flatten())
	}
	writeJSON(w, h.logger, http.StatusOK, out)
}
