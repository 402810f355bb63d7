package engagement

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/varnercrm/engagement-platform/internal/observability/metrics"
	"github.com/varnercrm/engagement-platform/pkg/logging"
)

const (
	// DefaultMaxRetries bounds how many failed executions a follow-up action
	// survives before it is dropped.
	DefaultMaxRetries = 3
	// DefaultRetryDelay is the fixed push-back applied to a failed action.
	DefaultRetryDelay = 5 * time.Minute
	// DefaultTickInterval drives the periodic queue drain.
	DefaultTickInterval = 5 * time.Minute
)

// FollowUpSender executes a due follow-up action, either as a free-form text
// (conversation re-entered the window) or as a template. The Dispatcher is the
// production implementation.
type FollowUpSender interface {
	SendFollowUpText(ctx context.Context, conversationID, text string) error
	SendFollowUpTemplate(ctx context.Context, conversationID string, templateType TemplateType, opts FollowUpOptions) error
}

// FollowUpScheduler holds deferred re-engagement actions and drains the due
// ones on each tick. One tick runs at a time; a tick arriving while another is
// in flight is a no-op.
type FollowUpScheduler struct {
	mu    sync.Mutex
	queue []FollowUpAction

	ticking atomic.Bool

	cache      *Cache
	window     WindowPolicy
	sender     FollowUpSender
	clock      Clock
	metrics    *metrics.EngagementMetrics
	logger     *logging.Logger
	maxRetries int
	retryDelay time.Duration
	interval   time.Duration
}

// NewFollowUpScheduler creates a scheduler that re-evaluates the engagement
// window against cache at execution time and sends through sender.
func NewFollowUpScheduler(cache *Cache, window WindowPolicy, sender FollowUpSender, logger *logging.Logger) *FollowUpScheduler {
	if logger == nil {
		logger = logging.Default()
	}
	if window.Window <= 0 {
		window = NewWindowPolicy(0)
	}
	return &FollowUpScheduler{
		cache:      cache,
		window:     window,
		sender:     sender,
		clock:      defaultClock,
		logger:     logger,
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
		interval:   DefaultTickInterval,
	}
}

func (s *FollowUpScheduler) WithClock(clock Clock) *FollowUpScheduler {
	if clock != nil {
		s.clock = clock
	}
	return s
}

func (s *FollowUpScheduler) WithMaxRetries(n int) *FollowUpScheduler {
	if n >= 0 {
		s.maxRetries = n
	}
	return s
}

func (s *FollowUpScheduler) WithRetryDelay(d time.Duration) *FollowUpScheduler {
	if d > 0 {
		s.retryDelay = d
	}
	return s
}

func (s *FollowUpScheduler) WithInterval(d time.Duration) *FollowUpScheduler {
	if d > 0 {
		s.interval = d
	}
	return s
}

func (s *FollowUpScheduler) WithMetrics(m *metrics.EngagementMetrics) *FollowUpScheduler {
	s.metrics = m
	return s
}

var _ FollowUpEnqueuer = (*FollowUpScheduler)(nil)

// Enqueue appends an action to the queue. Enqueueing is idempotent on
// (conversation, template type, scheduled time): a duplicate is ignored and
// reported as false. An action scheduled before its creation time is clamped.
func (s *FollowUpScheduler) Enqueue(action FollowUpAction) bool {
	if action.ConversationID == "" {
		return false
	}
	if action.ID == uuid.Nil {
		action.ID = uuid.New()
	}
	if action.CreatedAt.IsZero() {
		action.CreatedAt = s.clock()
	}
	if action.ScheduledAt.Before(action.CreatedAt) {
		action.ScheduledAt = action.CreatedAt
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.queue {
		if existing.ConversationID == action.ConversationID &&
			existing.TemplateType == action.TemplateType &&
			existing.ScheduledAt.Equal(action.ScheduledAt) {
			return false
		}
	}
	s.queue = append(s.queue, action)
	return true
}

// Pending reports the number of queued actions.
func (s *FollowUpScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Tick drains every action due at now and returns how many executed
// successfully. A concurrent tick returns 0 without touching the queue.
// Failures are isolated per action: one failing send only adjusts that
// action's retry bookkeeping.
func (s *FollowUpScheduler) Tick(ctx context.Context, now time.Time) int {
	if !s.ticking.CompareAndSwap(false, true) {
		return 0
	}
	defer s.ticking.Store(false)

	if s.sender == nil {
		// Actions stay queued rather than draining into nothing.
		s.logger.Warn("follow-up scheduler: no sender configured, skipping tick")
		return 0
	}

	due := s.takeDue(now)
	if len(due) == 0 {
		return 0
	}

	executed := 0
	for _, action := range due {
		if err := s.execute(ctx, action, now); err != nil {
			s.handleFailure(action, now, err)
			continue
		}
		s.metrics.ObserveFollowUp("executed")
		executed++
	}
	return executed
}

// Run drives periodic ticks until ctx is cancelled. An in-flight tick is
// allowed to finish; the next one simply never starts. Sends inside a tick
// run under a context detached from ctx's cancellation, so teardown does not
// abort them mid-flight; the sender's own timeouts bound them instead.
func (s *FollowUpScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	sendCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(sendCtx, s.clock())
		}
	}
}

// takeDue removes and returns every action with scheduledAt <= now.
func (s *FollowUpScheduler) takeDue(now time.Time) []FollowUpAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []FollowUpAction
	remaining := s.queue[:0]
	for _, action := range s.queue {
		if action.ScheduledAt.After(now) {
			remaining = append(remaining, action)
			continue
		}
		due = append(due, action)
	}
	s.queue = remaining
	return due
}

func (s *FollowUpScheduler) execute(ctx context.Context, action FollowUpAction, now time.Time) error {
	var lastInbound time.Time
	if s.cache != nil {
		if rec, ok := s.cache.Get(action.ConversationID); ok {
			lastInbound = rec.LastInboundAt
		}
	}

	// The window is re-checked at execution time: an inbound message since
	// enqueue means a plain follow-up text is allowed and preferred.
	if s.window.IsWithinWindow(now, lastInbound) {
		return s.sender.SendFollowUpText(ctx, action.ConversationID, action.Options.Text)
	}
	return s.sender.SendFollowUpTemplate(ctx, action.ConversationID, action.TemplateType, action.Options)
}

func (s *FollowUpScheduler) handleFailure(action FollowUpAction, now time.Time, err error) {
	if !IsRetryable(err) {
		s.metrics.ObserveFollowUp("dropped")
		s.logger.Error("follow-up failed permanently",
			"id", action.ID,
			"conversation_id", action.ConversationID,
			"error", err,
		)
		return
	}

	action.RetryCount++
	if action.RetryCount > s.maxRetries {
		s.metrics.ObserveFollowUp("dropped")
		// Nobody waits synchronously on a follow-up, so exhaustion is
		// logged rather than raised.
		s.logger.Error("follow-up dropped after exhausting retries",
			"id", action.ID,
			"conversation_id", action.ConversationID,
			"retries", action.RetryCount-1,
			"error", err,
		)
		return
	}

	action.ScheduledAt = now.Add(s.retryDelay)
	s.metrics.ObserveFollowUp("retried")
	s.logger.Warn("follow-up failed, retry scheduled",
		"id", action.ID,
		"conversation_id", action.ConversationID,
		"retry", action.RetryCount,
		"next_attempt", action.ScheduledAt,
		"error", err,
	)

	s.mu.Lock()
	s.queue = append(s.queue, action)
	s.mu.Unlock()
}
