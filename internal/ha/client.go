package ha

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// HAClient is the interface the rest of the system uses to talk to the hub:
// state reads, service calls, state-change subscriptions and custom events.
type HAClient interface {
	Connect() error
	Disconnect() error
	IsConnected() bool
	GetState(entityID string) (*State, error)
	GetAllStates() ([]*State, error)
	CallService(domain, service string, data map[string]interface{}) error
	SubscribeStateChanges(entityID string, handler StateChangeHandler) (Subscription, error)
	SubscribeEvents(eventType string, handler EventHandler) (Subscription, error)
	FireEvent(eventType string, data map[string]interface{}) error
	SetInputBoolean(name string, value bool) error
	SetInputSelect(name string, option string) error
}

// stateSubscriberEntry holds a state-change handler with its subscription ID
type stateSubscriberEntry struct {
	subID   int
	handler StateChangeHandler
}

// eventSubscriberEntry holds an event handler with its subscription ID
type eventSubscriberEntry struct {
	subID   int
	handler EventHandler
}

// Client implements HAClient over the Home Assistant WebSocket API
type Client struct {
	url         string
	token       string
	logger      *zap.Logger
	conn        *websocket.Conn
	connected   bool
	connMu      sync.RWMutex
	msgID       int
	msgIDMu     sync.Mutex
	pending     map[int]chan Message
	pendingMu   sync.Mutex
	events      chan *Message
	stateSubs   map[string][]stateSubscriberEntry
	eventSubs   map[string][]eventSubscriberEntry
	eventTypes  map[string]bool // event types subscribed server-side
	subsMu      sync.RWMutex
	nextSubID   int
	nextSubIDMu sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	reconnect   bool
	writeMu     sync.Mutex // Protects websocket writes
}

// NewClient creates a new Home Assistant WebSocket client
func NewClient(url, token string, logger *zap.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		url:        url,
		token:      token,
		logger:     logger,
		pending:    make(map[int]chan Message),
		stateSubs:  make(map[string][]stateSubscriberEntry),
		eventSubs:  make(map[string][]eventSubscriberEntry),
		eventTypes: make(map[string]bool),
		ctx:        ctx,
		cancel:     cancel,
		reconnect:  true,
	}
}

func (c *Client) clearSubscribers() {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	c.stateSubs = make(map[string][]stateSubscriberEntry)
	c.eventSubs = make(map[string][]eventSubscriberEntry)
	c.eventTypes = make(map[string]bool)
}

func (c *Client) resetContextLocked() {
	if c.cancel != nil {
		c.cancel()
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
}

// Connect establishes WebSocket connection and authenticates
func (c *Client) Connect() error {
	c.connMu.Lock()

	if c.connected {
		c.connMu.Unlock()
		return fmt.Errorf("already connected")
	}

	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		c.connMu.Unlock()
		return fmt.Errorf("failed to connect to WebSocket: %w", err)
	}
	c.conn = conn

	// Receive auth_required message
	var authRequired Message
	if err := c.conn.ReadJSON(&authRequired); err != nil {
		c.conn.Close()
		c.connMu.Unlock()
		return fmt.Errorf("failed to read auth_required: %w", err)
	}

	if authRequired.Type != "auth_required" {
		c.conn.Close()
		c.connMu.Unlock()
		return fmt.Errorf("expected auth_required, got %s", authRequired.Type)
	}

	authMsg := AuthMessage{
		Type:        "auth",
		AccessToken: c.token,
	}
	c.writeMu.Lock()
	err = c.conn.WriteJSON(authMsg)
	c.writeMu.Unlock()

	if err != nil {
		c.conn.Close()
		c.connMu.Unlock()
		return fmt.Errorf("failed to send auth: %w", err)
	}

	var authResponse Message
	if err := c.conn.ReadJSON(&authResponse); err != nil {
		c.conn.Close()
		c.connMu.Unlock()
		return fmt.Errorf("failed to read auth response: %w", err)
	}

	if authResponse.Type == "auth_invalid" {
		c.conn.Close()
		c.connMu.Unlock()
		return fmt.Errorf("authentication failed: invalid token")
	}

	if authResponse.Type != "auth_ok" {
		c.conn.Close()
		c.connMu.Unlock()
		return fmt.Errorf("expected auth_ok, got %s", authResponse.Type)
	}

	c.resetContextLocked()
	c.events = make(chan *Message, 64)
	c.connected = true
	c.reconnect = true
	c.logger.Info("Connected to Home Assistant")

	// Start the background receiver and the event dispatcher
	go c.receiveMessages()
	go c.dispatchEvents(c.ctx, c.events)

	// Release lock before subscribing to avoid deadlock
	c.connMu.Unlock()

	// Subscribe to state_changed events for all entities
	if err := c.subscribeServerSide("state_changed"); err != nil {
		c.logger.Warn("Failed to subscribe to state changes", zap.Error(err))
	}

	// Re-establish server-side subscriptions for custom event types
	c.subsMu.RLock()
	types := make([]string, 0, len(c.eventTypes))
	for eventType := range c.eventTypes {
		types = append(types, eventType)
	}
	c.subsMu.RUnlock()

	for _, eventType := range types {
		if err := c.subscribeServerSide(eventType); err != nil {
			c.logger.Warn("Failed to re-subscribe to event type",
				zap.String("event_type", eventType), zap.Error(err))
		}
	}

	return nil
}

// Disconnect closes the WebSocket connection
func (c *Client) Disconnect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if !c.connected {
		return nil
	}

	c.reconnect = false
	c.cancel()
	c.connected = false

	if c.conn != nil {
		c.writeMu.Lock()
		c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()

		c.conn.Close()
		c.conn = nil
	}

	c.clearSubscribers()
	c.logger.Info("Disconnected from Home Assistant")
	return nil
}

// IsConnected returns true if client is connected
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

// nextMsgID returns the next message ID
func (c *Client) nextMsgID() int {
	c.msgIDMu.Lock()
	defer c.msgIDMu.Unlock()
	c.msgID++
	return c.msgID
}

// sendMessage sends a message and waits for response
func (c *Client) sendMessage(msg interface{}) (*Message, error) {
	c.connMu.RLock()
	if !c.connected {
		c.connMu.RUnlock()
		return nil, fmt.Errorf("not connected")
	}
	c.connMu.RUnlock()

	var msgID int
	switch m := msg.(type) {
	case *CallServiceRequest:
		msgID = m.ID
	case *GetStatesRequest:
		msgID = m.ID
	case *SubscribeEventsRequest:
		msgID = m.ID
	case *FireEventRequest:
		msgID = m.ID
	default:
		return nil, fmt.Errorf("unsupported message type")
	}

	respChan := make(chan Message, 1)
	c.pendingMu.Lock()
	c.pending[msgID] = respChan
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, msgID)
		c.pendingMu.Unlock()
	}()

	// Send message (protected by writeMu to prevent concurrent writes)
	c.writeMu.Lock()
	err := c.conn.WriteJSON(msg)
	c.writeMu.Unlock()

	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	select {
	case resp := <-respChan:
		if resp.Success != nil && !*resp.Success {
			if resp.Error != nil {
				return nil, fmt.Errorf("HA error: %s - %s", resp.Error.Code, resp.Error.Message)
			}
			return nil, fmt.Errorf("request failed")
		}
		return &resp, nil
	case <-time.After(10 * time.Second):
		return nil, fmt.Errorf("timeout waiting for response")
	case <-c.ctx.Done():
		return nil, fmt.Errorf("client disconnected")
	}
}

// receiveMessages handles incoming messages in the background
func (c *Client) receiveMessages() {
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.logger.Error("Failed to read message", zap.Error(err))
			c.handleDisconnect()
			return
		}

		if msg.Type == "event" {
			// Hand off to the dispatcher so subscriber callbacks can make
			// blocking requests without stalling the read loop.
			event := msg
			select {
			case c.events <- &event:
			case <-c.ctx.Done():
				return
			}
			continue
		}

		// Route response to waiting goroutine
		if msg.ID > 0 {
			c.pendingMu.Lock()
			if ch, ok := c.pending[msg.ID]; ok {
				select {
				case ch <- msg:
				default:
					c.logger.Warn("Response channel full", zap.Int("msg_id", msg.ID))
				}
			}
			c.pendingMu.Unlock()
		}
	}
}

// dispatchEvents delivers hub events to subscribers off the receiver
// goroutine. Events are handled one at a time and in arrival order, so
// callbacks never run concurrently with each other but may issue their
// own service calls.
func (c *Client) dispatchEvents(ctx context.Context, events <-chan *Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-events:
			c.handleEvent(msg)
		}
	}
}

// handleEvent dispatches a single hub event to local subscribers
func (c *Client) handleEvent(msg *Message) {
	if msg.Event == nil {
		return
	}

	if msg.Event.EventType == "state_changed" {
		var eventData StateChangedEvent
		if err := json.Unmarshal(msg.Event.Data, &eventData); err != nil {
			c.logger.Error("Failed to unmarshal state_changed event", zap.Error(err))
			return
		}

		c.subsMu.RLock()
		entries := append([]stateSubscriberEntry(nil), c.stateSubs[eventData.EntityID]...)
		c.subsMu.RUnlock()

		for _, entry := range entries {
			entry.handler(eventData.EntityID, eventData.OldState, eventData.NewState)
		}
		return
	}

	var data map[string]interface{}
	if len(msg.Event.Data) > 0 {
		if err := json.Unmarshal(msg.Event.Data, &data); err != nil {
			c.logger.Error("Failed to unmarshal event data",
				zap.String("event_type", msg.Event.EventType), zap.Error(err))
			return
		}
	}

	c.subsMu.RLock()
	entries := append([]eventSubscriberEntry(nil), c.eventSubs[msg.Event.EventType]...)
	c.subsMu.RUnlock()

	for _, entry := range entries {
		entry.handler(msg.Event.EventType, data)
	}
}

// handleDisconnect handles connection loss
func (c *Client) handleDisconnect() {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	c.logger.Warn("Connection lost")

	if !c.reconnect {
		return
	}

	go c.attemptReconnect()
}

// attemptReconnect tries to reconnect with exponential backoff
func (c *Client) attemptReconnect() {
	backoff := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(backoff):
		}

		c.logger.Info("Attempting to reconnect...")

		if err := c.Connect(); err != nil {
			c.logger.Error("Reconnection failed", zap.Error(err))
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		c.logger.Info("Reconnected successfully")
		return
	}
}

// subscribeServerSide registers a subscribe_events subscription with the hub
func (c *Client) subscribeServerSide(eventType string) error {
	msgID := c.nextMsgID()
	req := &SubscribeEventsRequest{
		ID:        msgID,
		Type:      "subscribe_events",
		EventType: eventType,
	}

	_, err := c.sendMessage(req)
	return err
}

// GetState retrieves the state of an entity
func (c *Client) GetState(entityID string) (*State, error) {
	states, err := c.GetAllStates()
	if err != nil {
		return nil, err
	}

	for _, state := range states {
		if state.EntityID == entityID {
			return state, nil
		}
	}

	return nil, fmt.Errorf("entity %s not found", entityID)
}

// GetAllStates retrieves all entity states
func (c *Client) GetAllStates() ([]*State, error) {
	msgID := c.nextMsgID()
	req := &GetStatesRequest{
		ID:   msgID,
		Type: "get_states",
	}

	resp, err := c.sendMessage(req)
	if err != nil {
		return nil, err
	}

	var states []*State
	if err := json.Unmarshal(resp.Result, &states); err != nil {
		return nil, fmt.Errorf("failed to unmarshal states: %w", err)
	}

	return states, nil
}

// CallService calls a Home Assistant service
func (c *Client) CallService(domain, service string, data map[string]interface{}) error {
	msgID := c.nextMsgID()
	req := &CallServiceRequest{
		ID:          msgID,
		Type:        "call_service",
		Domain:      domain,
		Service:     service,
		ServiceData: data,
	}

	_, err := c.sendMessage(req)
	return err
}

// FireEvent fires a custom event on the hub's event bus
func (c *Client) FireEvent(eventType string, data map[string]interface{}) error {
	msgID := c.nextMsgID()
	req := &FireEventRequest{
		ID:        msgID,
		Type:      "fire_event",
		EventType: eventType,
		EventData: data,
	}

	_, err := c.sendMessage(req)
	return err
}

// SubscribeStateChanges subscribes to state changes for a specific entity
func (c *Client) SubscribeStateChanges(entityID string, handler StateChangeHandler) (Subscription, error) {
	c.nextSubIDMu.Lock()
	subID := c.nextSubID
	c.nextSubID++
	c.nextSubIDMu.Unlock()

	c.subsMu.Lock()
	c.stateSubs[entityID] = append(c.stateSubs[entityID], stateSubscriberEntry{
		subID:   subID,
		handler: handler,
	})
	c.subsMu.Unlock()

	return &stateSubscription{
		entityID: entityID,
		subID:    subID,
		client:   c,
	}, nil
}

// SubscribeEvents subscribes to a custom event type. The first subscription
// for a type also registers a server-side subscribe_events with the hub.
func (c *Client) SubscribeEvents(eventType string, handler EventHandler) (Subscription, error) {
	c.nextSubIDMu.Lock()
	subID := c.nextSubID
	c.nextSubID++
	c.nextSubIDMu.Unlock()

	c.subsMu.Lock()
	needServerSub := !c.eventTypes[eventType]
	c.eventTypes[eventType] = true
	c.eventSubs[eventType] = append(c.eventSubs[eventType], eventSubscriberEntry{
		subID:   subID,
		handler: handler,
	})
	c.subsMu.Unlock()

	if needServerSub && c.IsConnected() {
		if err := c.subscribeServerSide(eventType); err != nil {
			return nil, fmt.Errorf("failed to subscribe to %s events: %w", eventType, err)
		}
	}

	return &eventSubscription{
		eventType: eventType,
		subID:     subID,
		client:    c,
	}, nil
}

// unsubscribeState removes a state subscription by entity ID and subscription ID
func (c *Client) unsubscribeState(entityID string, subID int) error {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	subscribers, ok := c.stateSubs[entityID]
	if !ok {
		return nil // Already unsubscribed
	}

	for i, entry := range subscribers {
		if entry.subID == subID {
			c.stateSubs[entityID] = append(subscribers[:i], subscribers[i+1:]...)
			if len(c.stateSubs[entityID]) == 0 {
				delete(c.stateSubs, entityID)
			}
			break
		}
	}

	return nil
}

// unsubscribeEvent removes an event subscription by event type and subscription ID
func (c *Client) unsubscribeEvent(eventType string, subID int) error {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	subscribers, ok := c.eventSubs[eventType]
	if !ok {
		return nil // Already unsubscribed
	}

	for i, entry := range subscribers {
		if entry.subID == subID {
			c.eventSubs[eventType] = append(subscribers[:i], subscribers[i+1:]...)
			if len(c.eventSubs[eventType]) == 0 {
				delete(c.eventSubs, eventType)
			}
			break
		}
	}

	return nil
}

// SetInputBoolean sets the value of an input_boolean
func (c *Client) SetInputBoolean(entityID string, value bool) error {
	service := "turn_off"
	if value {
		service = "turn_on"
	}

	return c.CallService("input_boolean", service, map[string]interface{}{
		"entity_id": entityID,
	})
}

// SetInputSelect selects an option of an input_select
func (c *Client) SetInputSelect(entityID string, option string) error {
	return c.CallService("input_select", "select_option", map[string]interface{}{
		"entity_id": entityID,
		"option":    option,
	})
}

// stateSubscription implements Subscription for state-change subscribers
type stateSubscription struct {
	entityID string
	subID    int
	client   *Client
}

func (s *stateSubscription) Unsubscribe() error {
	return s.client.unsubscribeState(s.entityID, s.subID)
}

// eventSubscription implements Subscription for event subscribers
type eventSubscription struct {
	eventType string
	subID     int
	client    *Client
}

func (s *eventSubscription) Unsubscribe() error {
	return s.client.unsubscribeEvent(s.eventType, s.subID)
}
