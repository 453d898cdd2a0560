package notifier

import (
	"sync"

	"go.uber.org/zap"

	"homenotify/internal/ha"
)

// watchEntry is one outstanding cancelable notification set. It exists only
// while at least one of its cancellation sources can still fire and is
// removed exactly once, by whichever source fires first.
type watchEntry struct {
	tag        string
	recipients []*Recipient
	subs       []ha.Subscription
}

// Tracker owns the lifecycle of outstanding tagged notifications and the
// queue of requests staged until someone is home. All mutation goes through
// one mutex: the watched-state transition, the discard event and the action
// click race toward the same Active -> Cleared edge.
type Tracker struct {
	client ha.HAClient
	logger *zap.Logger

	mu      sync.Mutex
	entries map[string]*watchEntry
	staged  []*Request
}

// NewTracker creates an empty tracker.
func NewTracker(client ha.HAClient, logger *zap.Logger) *Tracker {
	return &Tracker{
		client:  client,
		logger:  logger.Named("tracker"),
		entries: make(map[string]*watchEntry),
	}
}

// RegisterWatch subscribes a one-shot watcher per condition and records the
// outstanding entry under the tag. The first condition whose transition
// matches clears every notification sharing the tag. Re-registering a tag
// that is still outstanding replaces the previous entry's watchers.
func (t *Tracker) RegisterWatch(tag string, recipients []*Recipient, conditions []WatchCondition) {
	t.mu.Lock()
	if previous, ok := t.entries[tag]; ok {
		t.logger.Warn("Tag re-registered while still outstanding, replacing watchers",
			zap.String("tag", tag))
		for _, sub := range previous.subs {
			sub.Unsubscribe()
		}
	}

	entry := &watchEntry{
		tag:        tag,
		recipients: recipients,
	}
	t.entries[tag] = entry
	t.mu.Unlock()

	for _, condition := range conditions {
		condition := condition
		sub, err := t.client.SubscribeStateChanges(condition.EntityID,
			func(entityID string, oldState, newState *ha.State) {
				if !conditionMatches(condition, oldState, newState) {
					return
				}
				t.logger.Info("Watched state transition fired",
					zap.String("tag", tag),
					zap.String("entity", entityID))
				t.Clear(tag)
			})
		if err != nil {
			t.logger.Error("Failed to register watch",
				zap.String("tag", tag),
				zap.String("entity", condition.EntityID),
				zap.Error(err))
			continue
		}

		t.logger.Info("Notifications will be cleared on state transition",
			zap.String("tag", tag),
			zap.String("entity", condition.EntityID),
			zap.String("from", condition.OldState),
			zap.String("to", condition.NewState))

		t.mu.Lock()
		// The watcher may already have fired and cleared the entry.
		if current, ok := t.entries[tag]; ok && current == entry {
			entry.subs = append(entry.subs, sub)
			t.mu.Unlock()
		} else {
			t.mu.Unlock()
			sub.Unsubscribe()
		}
	}
}

// conditionMatches reports whether a state transition satisfies the watch
// condition. Unset old/new constraints match anything; the state must
// actually change so the watcher is not retriggered by attribute updates.
func conditionMatches(condition WatchCondition, oldState, newState *ha.State) bool {
	if newState == nil {
		return false
	}
	if oldState != nil && oldState.State == newState.State {
		return false
	}
	if condition.OldState != "" && (oldState == nil || oldState.State != condition.OldState) {
		return false
	}
	if condition.NewState != "" && newState.State != condition.NewState {
		return false
	}
	return true
}

// OnDiscardEvent clears the tag named by an explicit cancellation event.
func (t *Tracker) OnDiscardEvent(tag string) {
	t.logger.Info("Discard event received", zap.String("tag", tag))
	t.Clear(tag)
}

// OnActionClick clears the tag associated with a clicked notification action.
func (t *Tracker) OnActionClick(tag string) {
	t.logger.Info("Notification action clicked", zap.String("tag", tag))
	t.Clear(tag)
}

// Clear removes the outstanding entry under tag: a clear_notification call
// per originally-notified recipient, cancellation of still-pending watchers,
// and removal of the entry. Clearing an unknown tag is a logged no-op so
// racing cancellation sources stay harmless.
func (t *Tracker) Clear(tag string) {
	t.mu.Lock()
	entry, ok := t.entries[tag]
	if !ok {
		t.mu.Unlock()
		t.logger.Debug("No outstanding notifications for tag", zap.String("tag", tag))
		return
	}
	delete(t.entries, tag)
	t.mu.Unlock()

	t.logger.Info("Clearing notifications", zap.String("tag", tag))
	for _, recipient := range entry.recipients {
		domain, service, err := splitService(recipient.NotifyService)
		if err != nil {
			continue
		}
		if err := t.client.CallService(domain, service, map[string]interface{}{
			"message": "clear_notification",
			"data":    map[string]interface{}{"tag": tag},
		}); err != nil {
			t.logger.Error("Failed to clear notification",
				zap.String("tag", tag),
				zap.String("recipient", recipient.Name),
				zap.Error(err))
		}
	}

	t.logger.Info("Removing watchers", zap.String("tag", tag))
	for _, sub := range entry.subs {
		sub.Unsubscribe()
	}
}

// Stage holds a send-when-present request until home becomes occupied.
// Requests are kept in arrival order so none is silently dropped.
func (t *Tracker) Stage(req *Request) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.staged = append(t.staged, req)
}

// TakeStaged empties the staged queue and returns it in arrival order.
func (t *Tracker) TakeStaged() []*Request {
	t.mu.Lock()
	defer t.mu.Unlock()

	staged := t.staged
	t.staged = nil
	return staged
}

// StagedCount reports how many requests are waiting for occupancy.
func (t *Tracker) StagedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.staged)
}

// OutstandingTags returns the tags with live watch entries and the
// recipients each was delivered to.
func (t *Tracker) OutstandingTags() map[string][]string {
	t.mu.Lock()
	defer t.mu.Unlock()

	tags := make(map[string][]string, len(t.entries))
	for tag, entry := range t.entries {
		names := make([]string, 0, len(entry.recipients))
		for _, r := range entry.recipients {
			names = append(names, r.Name)
		}
		tags[tag] = names
	}
	return tags
}
