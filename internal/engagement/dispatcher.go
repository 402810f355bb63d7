package engagement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/varnercrm/engagement-platform/internal/observability/metrics"
	"github.com/varnercrm/engagement-platform/pkg/logging"
)

// DefaultFollowUpDelay is how far out a re-engagement follow-up is scheduled
// after a template-path dispatch.
const DefaultFollowUpDelay = 24 * time.Hour

// DirectSender delivers a free-form message. Only valid for conversations
// inside the engagement window.
type DirectSender interface {
	SendText(ctx context.Context, conversationID, text string, attachments []Attachment, aiEnabled bool) (*SendResponse, error)
}

// TemplateSender delivers a pre-approved template payload.
type TemplateSender interface {
	SendTemplate(ctx context.Context, conversationID string, payload TemplatePayload) (*SendResponse, error)
}

// TemplateSenderFunc adapts a function to the TemplateSender interface.
type TemplateSenderFunc func(ctx context.Context, conversationID string, payload TemplatePayload) (*SendResponse, error)

func (f TemplateSenderFunc) SendTemplate(ctx context.Context, conversationID string, payload TemplatePayload) (*SendResponse, error) {
	return f(ctx, conversationID, payload)
}

// HistoryFetcher cold-starts engagement records from conversation transcripts.
type HistoryFetcher interface {
	FetchMessages(ctx context.Context, conversationID string) ([]HistoryMessage, error)
}

// FollowUpEnqueuer accepts deferred re-engagement actions.
type FollowUpEnqueuer interface {
	Enqueue(action FollowUpAction) bool
}

// DispatcherDeps bundles the collaborators a Dispatcher is constructed with.
type DispatcherDeps struct {
	Cache      *Cache
	Direct     DirectSender
	Template   TemplateSender
	Generic    TemplateSender
	History    HistoryFetcher
	Classifier Classifier
	Window     WindowPolicy
	Catalog    map[TemplateType]TemplateDefinition
	Counters   *ActionCounters
	Metrics    *metrics.EngagementMetrics
	Clock      Clock
	// FollowUpDelay defaults to DefaultFollowUpDelay when zero.
	FollowUpDelay time.Duration
	Logger        *logging.Logger
}

// Dispatcher routes outbound messages through the free-form or template path
// depending on the conversation's engagement window.
type Dispatcher struct {
	cache         *Cache
	direct        DirectSender
	template      TemplateSender
	generic       TemplateSender
	history       HistoryFetcher
	classifier    Classifier
	window        WindowPolicy
	catalog       map[TemplateType]TemplateDefinition
	counters      *ActionCounters
	metrics       *metrics.EngagementMetrics
	clock         Clock
	followUps     FollowUpEnqueuer
	followUpDelay time.Duration
	logger        *logging.Logger
}

// NewDispatcher wires a dispatcher from its collaborators, applying defaults
// for the swappable strategies.
func NewDispatcher(deps DispatcherDeps) *Dispatcher {
	if deps.Cache == nil {
		panic("engagement: cache required for dispatcher")
	}
	if deps.Classifier == nil {
		deps.Classifier = NewKeywordClassifier()
	}
	if deps.Catalog == nil {
		deps.Catalog = DefaultCatalog("")
	}
	if deps.Window.Window <= 0 {
		deps.Window = NewWindowPolicy(0)
	}
	if deps.Clock == nil {
		deps.Clock = defaultClock
	}
	if deps.FollowUpDelay <= 0 {
		deps.FollowUpDelay = DefaultFollowUpDelay
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	return &Dispatcher{
		cache:         deps.Cache,
		direct:        deps.Direct,
		template:      deps.Template,
		generic:       deps.Generic,
		history:       deps.History,
		classifier:    deps.Classifier,
		window:        deps.Window,
		catalog:       deps.Catalog,
		counters:      deps.Counters,
		metrics:       deps.Metrics,
		clock:         deps.Clock,
		followUpDelay: deps.FollowUpDelay,
		logger:        deps.Logger,
	}
}

// WithFollowUps attaches the follow-up queue. Wired after construction because
// the scheduler executes its actions back through this dispatcher.
func (d *Dispatcher) WithFollowUps(q FollowUpEnqueuer) *Dispatcher {
	d.followUps = q
	return d
}

// SendSmartMessage sends text to a conversation, choosing the direct path when
// the conversation is inside the engagement window and the template path when
// it is not. Template-path sends schedule a deferred follow-up.
func (d *Dispatcher) SendSmartMessage(ctx context.Context, conversationID, text string, attachments []Attachment, opts SendOptions) (*DispatchResult, error) {
	if conversationID == "" {
		return nil, errors.New("engagement: conversationID required")
	}
	now := d.clock()

	rec, fresh, err := d.resolveRecord(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	inWindow := d.window.IsWithinWindow(now, rec.LastInboundAt)
	if !inWindow && !fresh {
		// The cached record may be stale: a reply could have arrived since
		// the last recorded inbound. Re-read the transcript before
		// committing to the template path.
		rec = d.refreshFromHistory(ctx, rec)
		inWindow = d.window.IsWithinWindow(now, rec.LastInboundAt)
	}

	if inWindow {
		if d.direct == nil {
			return nil, errors.New("engagement: direct sender not configured")
		}
		resp, err := d.direct.SendText(ctx, conversationID, text, attachments, opts.AIEnabled)
		if err != nil {
			d.metrics.ObserveDispatch(string(PathDirect), "error")
			return nil, fmt.Errorf("engagement: direct send to %s: %w", conversationID, err)
		}
		d.counters.IncRegular()
		d.metrics.ObserveDispatch(string(PathDirect), "ok")
		d.recordAction(ctx, rec, ActionDirectSend, resp.MessageID)
		return &DispatchResult{Path: PathDirect, Response: resp, SentAt: now}, nil
	}

	resp, templateType, err := d.SendTemplateMessage(ctx, conversationID, text, opts)
	if err != nil {
		d.metrics.ObserveDispatch(string(PathTemplate), "error")
		return nil, err
	}
	d.metrics.ObserveDispatch(string(PathTemplate), "ok")
	d.enqueueFollowUp(conversationID, opts, now)
	d.recordAction(ctx, rec, ActionTemplateSend, string(templateType))
	return &DispatchResult{Path: PathTemplate, TemplateType: templateType, Response: resp, SentAt: now}, nil
}

// SendTemplateMessage selects a template for text (explicit type wins over the
// classifier), builds its components, and walks the ordered fallback list:
// dedicated template endpoint first, then the generic endpoint flagged as a
// template. When every endpoint fails the returned error carries all causes.
func (d *Dispatcher) SendTemplateMessage(ctx context.Context, conversationID, text string, opts SendOptions) (*SendResponse, TemplateType, error) {
	now := d.clock()
	templateType := opts.TemplateType
	if templateType == "" {
		templateType = d.classifier.Classify(text)
	}
	def, ok := d.catalog[templateType]
	if !ok {
		return nil, templateType, fmt.Errorf("engagement: no template definition for type %q", templateType)
	}

	params := PrepareParameters(templateType, text, opts.Customer, now)
	components, err := BuildComponents(def, params)
	if err != nil {
		return nil, templateType, err
	}
	payload := TemplatePayload{
		TemplateName: def.Name,
		TemplateType: templateType,
		LanguageCode: def.LanguageCode,
		Components:   components,
	}

	fallbackPayload := payload
	fallbackPayload.Fallback = true
	attempts := []struct {
		name    string
		sender  TemplateSender
		payload TemplatePayload
	}{
		{"template endpoint", d.template, payload},
		{"generic endpoint", d.generic, fallbackPayload},
	}

	var failures []error
	for i, attempt := range attempts {
		if attempt.sender == nil {
			continue
		}
		resp, err := attempt.sender.SendTemplate(ctx, conversationID, attempt.payload)
		if err == nil {
			if i > 0 {
				d.metrics.ObserveFallback()
				d.logger.Warn("template endpoint unavailable; sent via generic endpoint",
					"conversation_id", conversationID,
					"template", def.Name,
				)
			}
			d.counters.IncTemplates()
			return resp, templateType, nil
		}
		failures = append(failures, fmt.Errorf("%s: %w", attempt.name, err))
		// Bad credentials and unknown conversations fail the same way on
		// every endpoint; don't mask them behind a fallback attempt.
		if errors.Is(err, ErrAuthRequired) || errors.Is(err, ErrConversationNotFound) {
			break
		}
	}
	if len(failures) == 0 {
		return nil, templateType, errors.New("engagement: no template senders configured")
	}
	return nil, templateType, fmt.Errorf("engagement: template send to %s: %w", conversationID, errors.Join(failures...))
}

// SendFollowUpText delivers a free-form follow-up for a conversation that
// re-entered the window before its deferred action ran.
func (d *Dispatcher) SendFollowUpText(ctx context.Context, conversationID, text string) error {
	if d.direct == nil {
		return errors.New("engagement: direct sender not configured")
	}
	resp, err := d.direct.SendText(ctx, conversationID, text, nil, false)
	if err != nil {
		return fmt.Errorf("engagement: follow-up direct send to %s: %w", conversationID, err)
	}
	d.counters.IncRegular()
	if rec, ok := d.cache.Get(conversationID); ok {
		d.recordAction(ctx, rec, ActionFollowUp, resp.MessageID)
	}
	return nil
}

// SendFollowUpTemplate delivers a deferred follow-up as a template message.
// Unlike the smart path it never enqueues another follow-up.
func (d *Dispatcher) SendFollowUpTemplate(ctx context.Context, conversationID string, templateType TemplateType, opts FollowUpOptions) error {
	_, sent, err := d.SendTemplateMessage(ctx, conversationID, opts.Text, SendOptions{
		TemplateType: templateType,
		Customer:     opts.Customer,
	})
	if err != nil {
		return err
	}
	if rec, ok := d.cache.Get(conversationID); ok {
		d.recordAction(ctx, rec, ActionFollowUp, string(sent))
	}
	return nil
}

// RecordInbound notes fresh inbound activity for a conversation so its
// engagement window re-opens. The provider's inbound webhook is the
// production caller. A zero timestamp means "now".
func (d *Dispatcher) RecordInbound(ctx context.Context, conversationID string, msg HistoryMessage) error {
	if conversationID == "" {
		return errors.New("engagement: conversationID required")
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = d.clock()
	}
	rec, ok := d.cache.Get(conversationID)
	if !ok {
		rec = Record{ConversationID: conversationID}
	}
	rec.LastInboundAt = msg.Timestamp
	rec.LastInboundMessageID = msg.ID
	rec.LastInboundMessageType = msg.Type
	d.cache.Put(ctx, rec)
	d.logger.Debug("inbound activity recorded",
		"conversation_id", conversationID,
		"at", msg.Timestamp,
	)
	return nil
}

// resolveRecord returns the cached record for the conversation, cold-starting
// one from the chat-history collaborator on a miss. The second result is true
// when the record was just derived from the transcript. A conversation with
// no resolvable history at all is ErrConversationNotFound.
func (d *Dispatcher) resolveRecord(ctx context.Context, conversationID string) (Record, bool, error) {
	if rec, ok := d.cache.Get(conversationID); ok {
		return rec, false, nil
	}
	if d.history == nil {
		return Record{}, false, fmt.Errorf("%w: %s", ErrConversationNotFound, conversationID)
	}
	messages, err := d.history.FetchMessages(ctx, conversationID)
	if err != nil {
		return Record{}, false, fmt.Errorf("engagement: resolve history for %s: %w", conversationID, err)
	}
	if len(messages) == 0 {
		return Record{}, false, fmt.Errorf("%w: %s", ErrConversationNotFound, conversationID)
	}

	rec := applyLatestInbound(Record{ConversationID: conversationID}, messages)
	d.cache.Put(ctx, rec)
	d.logger.Debug("engagement record cold-started from history",
		"conversation_id", conversationID,
		"last_inbound_at", rec.LastInboundAt,
	)
	return rec, true, nil
}

// refreshFromHistory re-reads the transcript for a conversation whose cached
// record reads outside the window. A fetch failure keeps the cached record;
// dispatch still proceeds on the template path.
func (d *Dispatcher) refreshFromHistory(ctx context.Context, rec Record) Record {
	if d.history == nil {
		return rec
	}
	messages, err := d.history.FetchMessages(ctx, rec.ConversationID)
	if err != nil {
		d.logger.Warn("history refresh failed, using cached record",
			"conversation_id", rec.ConversationID,
			"error", err,
		)
		return rec
	}
	updated := applyLatestInbound(rec, messages)
	if updated.LastInboundAt.After(rec.LastInboundAt) {
		d.cache.Put(ctx, updated)
	}
	return updated
}

// applyLatestInbound folds the most recent inbound message of a transcript
// into the record.
func applyLatestInbound(rec Record, messages []HistoryMessage) Record {
	for _, msg := range messages {
		if msg.Direction != "inbound" {
			continue
		}
		if msg.Timestamp.After(rec.LastInboundAt) {
			rec.LastInboundAt = msg.Timestamp
			rec.LastInboundMessageID = msg.ID
			rec.LastInboundMessageType = msg.Type
		}
	}
	return rec
}

func (d *Dispatcher) recordAction(ctx context.Context, rec Record, action, details string) {
	rec.LastAction = action
	rec.LastActionDetails = details
	rec.EngagementCount++
	d.cache.Put(ctx, rec)
}

func (d *Dispatcher) enqueueFollowUp(conversationID string, opts SendOptions, now time.Time) {
	if d.followUps == nil {
		return
	}
	action := FollowUpAction{
		ConversationID: conversationID,
		TemplateType:   TemplateFollowUp,
		CreatedAt:      now,
		ScheduledAt:    now.Add(d.followUpDelay),
		Options: FollowUpOptions{
			Text:     followUpText(opts.Customer),
			Customer: opts.Customer,
		},
	}
	if d.followUps.Enqueue(action) {
		d.logger.Info("follow-up scheduled",
			"conversation_id", conversationID,
			"scheduled_at", action.ScheduledAt,
		)
	}
}

func followUpText(customer UserDetails) string {
	name := customer.Name
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf("Hi %s! Just checking in. Is there anything we can help you with?", name)
}
