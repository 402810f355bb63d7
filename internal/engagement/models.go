package engagement

import (
	"time"

	"github.com/google/uuid"
)

// TemplateType identifies a pre-approved message template category.
type TemplateType string

const (
	TemplateFollowUp        TemplateType = "follow_up"
	TemplateEngagement      TemplateType = "engagement"
	TemplateOffer           TemplateType = "offer"
	TemplateNews            TemplateType = "news"
	TemplateSurvey          TemplateType = "survey"
	TemplateCustomerService TemplateType = "customer_service"
)

// Last-action values recorded on an engagement record.
const (
	ActionDirectSend   = "direct_send"
	ActionTemplateSend = "template_send"
	ActionFollowUp     = "follow_up_send"
)

// Record tracks the last known inbound activity for a conversation and the
// dispatcher's most recent action against it.
type Record struct {
	ConversationID         string    `json:"conversation_id"`
	LastInboundAt          time.Time `json:"last_inbound_at"`
	LastInboundMessageID   string    `json:"last_inbound_message_id"`
	LastInboundMessageType string    `json:"last_inbound_message_type"`
	LastAction             string    `json:"last_action,omitempty"`
	LastActionDetails      string    `json:"last_action_details,omitempty"`
	EngagementCount        int       `json:"engagement_count"`
}

// DispatchPath reports which send path a smart message took.
type DispatchPath string

const (
	PathDirect   DispatchPath = "direct"
	PathTemplate DispatchPath = "template"
)

// SendResponse is the provider's acknowledgement of an outbound send.
type SendResponse struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// DispatchResult describes the outcome of a smart dispatch.
type DispatchResult struct {
	Path         DispatchPath  `json:"path"`
	TemplateType TemplateType  `json:"template_type,omitempty"`
	Response     *SendResponse `json:"response,omitempty"`
	SentAt       time.Time     `json:"sent_at"`
}

// Attachment is an outbound media reference passed through to the provider.
type Attachment struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
	Filename    string `json:"filename,omitempty"`
}

// UserDetails carries the customer-facing fields templates personalize on.
type UserDetails struct {
	Name          string    `json:"name"`
	LastContactAt time.Time `json:"last_contact_at,omitempty"`
}

// SendOptions tunes a single smart dispatch.
type SendOptions struct {
	// TemplateType forces a template category instead of classifying the text.
	TemplateType TemplateType
	Customer     UserDetails
	AIEnabled    bool
}

// FollowUpOptions is the payload a deferred follow-up action executes with.
type FollowUpOptions struct {
	Text     string      `json:"text"`
	Customer UserDetails `json:"customer"`
}

// FollowUpAction is a deferred re-engagement task for a single conversation.
type FollowUpAction struct {
	ID             uuid.UUID       `json:"id"`
	ConversationID string          `json:"conversation_id"`
	TemplateType   TemplateType    `json:"template_type"`
	CreatedAt      time.Time       `json:"created_at"`
	ScheduledAt    time.Time       `json:"scheduled_at"`
	RetryCount     int             `json:"retry_count"`
	Options        FollowUpOptions `json:"options"`
}

// HistoryMessage is one entry of a conversation transcript fetched from the
// chat-history collaborator.
type HistoryMessage struct {
	ID        string    `json:"id"`
	Direction string    `json:"direction"` // "inbound" or "outbound"
	Type      string    `json:"type"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Clock supplies the current time. Injected so window and scheduling decisions
// stay deterministic under test.
type Clock func() time.Time

func defaultClock() time.Time { return time.Now().UTC() }
