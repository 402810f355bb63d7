package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/varnercrm/engagement-platform/internal/engagement"
	"github.com/varnercrm/engagement-platform/pkg/logging"
)

// EngagementHandler exposes the smart dispatcher and its stats over HTTP for
// the CRM front-end and monitoring views.
type EngagementHandler struct {
	dispatcher *engagement.Dispatcher
	stats      *engagement.StatsAggregator
	clock      engagement.Clock
	logger     *logging.Logger
}

// NewEngagementHandler creates the handler. The clock is injectable for tests.
func NewEngagementHandler(dispatcher *engagement.Dispatcher, stats *engagement.StatsAggregator, clock engagement.Clock, logger *logging.Logger) *EngagementHandler {
	if logger == nil {
		logger = logging.Default()
	}
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &EngagementHandler{
		dispatcher: dispatcher,
		stats:      stats,
		clock:      clock,
		logger:     logger,
	}
}

// SendMessageRequest is the POST body for a smart dispatch.
type SendMessageRequest struct {
	Text         string                  `json:"text"`
	Attachments  []engagement.Attachment `json:"attachments,omitempty"`
	TemplateType engagement.TemplateType `json:"template_type,omitempty"`
	CustomerName string                  `json:"customer_name,omitempty"`
	AIEnabled    bool                    `json:"ai_enabled,omitempty"`
}

// SendMessage dispatches a message through the engagement window logic.
// POST /conversations/{conversationID}/messages
func (h *EngagementHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	if conversationID == "" {
		http.Error(w, `{"error": "conversationID required"}`, http.StatusBadRequest)
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "invalid JSON body"}`, http.StatusBadRequest)
		return
	}
	if req.Text == "" {
		http.Error(w, `{"error": "text required"}`, http.StatusBadRequest)
		return
	}

	result, err := h.dispatcher.SendSmartMessage(r.Context(), conversationID, req.Text, req.Attachments, engagement.SendOptions{
		TemplateType: req.TemplateType,
		Customer:     engagement.UserDetails{Name: req.CustomerName},
		AIEnabled:    req.AIEnabled,
	})
	if err != nil {
		h.writeDispatchError(w, conversationID, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		h.logger.Error("failed to encode dispatch result", "conversation_id", conversationID, "error", err)
	}
}

// InboundMessageRequest is the provider webhook body announcing inbound
// activity on a conversation.
type InboundMessageRequest struct {
	MessageID   string    `json:"message_id"`
	MessageType string    `json:"message_type,omitempty"`
	Timestamp   time.Time `json:"timestamp,omitempty"`
}

// RecordInbound notes inbound activity so the conversation's engagement
// window re-opens.
// POST /conversations/{conversationID}/inbound
func (h *EngagementHandler) RecordInbound(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	if conversationID == "" {
		http.Error(w, `{"error": "conversationID required"}`, http.StatusBadRequest)
		return
	}

	var req InboundMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "invalid JSON body"}`, http.StatusBadRequest)
		return
	}

	err := h.dispatcher.RecordInbound(r.Context(), conversationID, engagement.HistoryMessage{
		ID:        req.MessageID,
		Direction: "inbound",
		Type:      req.MessageType,
		Timestamp: req.Timestamp,
	})
	if err != nil {
		h.logger.Error("failed to record inbound activity", "conversation_id", conversationID, "error", err)
		http.Error(w, `{"error": "failed to record inbound activity"}`, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetStats returns aggregate engagement counts.
// GET /engagement/stats
func (h *EngagementHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := h.stats.ComputeStats(h.clock())
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		h.logger.Error("failed to encode engagement stats", "error", err)
	}
}

func (h *EngagementHandler) writeDispatchError(w http.ResponseWriter, conversationID string, err error) {
	switch {
	case errors.Is(err, engagement.ErrConversationNotFound):
		http.Error(w, `{"error": "conversation not found"}`, http.StatusNotFound)
	case errors.Is(err, engagement.ErrAuthRequired):
		http.Error(w, `{"error": "provider authentication required"}`, http.StatusBadGateway)
	default:
		h.logger.Error("smart dispatch failed", "conversation_id", conversationID, "error", err)
		http.Error(w, `{"error": "message dispatch failed"}`, http.StatusBadGateway)
	}
}
