package notifier

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"homenotify/internal/ha"
)

// Event types the engine listens for on the Home Assistant event bus.
const (
	EventNotifier     = "NOTIFIER"
	EventDiscard      = "NOTIFIER_DISCARD"
	EventMobileAction = "mobile_app_notification_action"
)

// Engine connects the event bus to the router and tracker. It owns the
// subscriptions for notification requests, discard events, mobile action
// clicks and the home-occupancy transition that releases staged requests.
type Engine struct {
	client          ha.HAClient
	router          *Router
	tracker         *Tracker
	occupancySensor string
	logger          *zap.Logger
	subs            []ha.Subscription

	// Serializes all event handling regardless of transport concurrency.
	handleMu sync.Mutex
}

// NewEngine creates an engine. occupancySensor is the binary sensor whose
// off -> on transition means someone arrived home.
func NewEngine(client ha.HAClient, router *Router, tracker *Tracker, occupancySensor string, logger *zap.Logger) *Engine {
	return &Engine{
		client:          client,
		router:          router,
		tracker:         tracker,
		occupancySensor: occupancySensor,
		logger:          logger.Named("notifier"),
	}
}

// Start subscribes to the notification event surface.
func (e *Engine) Start() error {
	sub, err := e.client.SubscribeEvents(EventNotifier, e.handleNotifier)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s events: %w", EventNotifier, err)
	}
	e.subs = append(e.subs, sub)

	sub, err = e.client.SubscribeEvents(EventDiscard, e.handleDiscard)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s events: %w", EventDiscard, err)
	}
	e.subs = append(e.subs, sub)

	sub, err = e.client.SubscribeEvents(EventMobileAction, e.handleMobileAction)
	if err != nil {
		return fmt.Errorf("failed to subscribe to mobile action events: %w", err)
	}
	e.subs = append(e.subs, sub)

	sub, err = e.client.SubscribeStateChanges(e.occupancySensor, e.handleOccupancy)
	if err != nil {
		return fmt.Errorf("failed to subscribe to occupancy changes: %w", err)
	}
	e.subs = append(e.subs, sub)

	e.logger.Info("Notification engine started",
		zap.String("occupancy_sensor", e.occupancySensor))
	return nil
}

// Stop removes all event subscriptions.
func (e *Engine) Stop() {
	for _, sub := range e.subs {
		sub.Unsubscribe()
	}
	e.subs = nil
	e.logger.Info("Notification engine stopped")
}

func (e *Engine) handleNotifier(eventType string, data map[string]interface{}) {
	e.handleMu.Lock()
	defer e.handleMu.Unlock()

	req, err := ParseRequest(data)
	if err != nil {
		e.logger.Error("Rejecting malformed notification request", zap.Error(err))
		return
	}

	e.logger.Info("Notification request received",
		zap.String("action", req.Action),
		zap.String("title", req.Title))
	if err := e.router.Route(req); err != nil {
		e.logger.Error("Failed to route notification",
			zap.String("title", req.Title),
			zap.Error(err))
	}
}

func (e *Engine) handleDiscard(eventType string, data map[string]interface{}) {
	e.handleMu.Lock()
	defer e.handleMu.Unlock()

	tag, ok := data["tag"].(string)
	if !ok || tag == "" {
		e.logger.Warn("Discard event without tag")
		return
	}
	e.tracker.OnDiscardEvent(tag)
}

func (e *Engine) handleMobileAction(eventType string, data map[string]interface{}) {
	e.handleMu.Lock()
	defer e.handleMu.Unlock()

	tag, ok := data["tag"].(string)
	if !ok || tag == "" {
		return
	}
	e.tracker.OnActionClick(tag)
}

// handleOccupancy replays staged requests when the home transitions from
// empty to occupied. Replayed requests target whoever is present at replay
// time, which is the arriving person only.
func (e *Engine) handleOccupancy(entityID string, oldState, newState *ha.State) {
	e.handleMu.Lock()
	defer e.handleMu.Unlock()

	if oldState == nil || newState == nil {
		return
	}
	if oldState.State != "off" || newState.State != "on" {
		return
	}

	staged := e.tracker.TakeStaged()
	if len(staged) == 0 {
		return
	}

	e.logger.Info("Home became occupied, delivering staged notifications",
		zap.Int("count", len(staged)))
	for _, req := range staged {
		req.Action = ActionSendToPresent
		if err := e.router.Route(req); err != nil {
			e.logger.Error("Failed to deliver staged notification",
				zap.String("title", req.Title),
				zap.Error(err))
		}
	}
}
