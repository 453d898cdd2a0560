// Package testutil provides testing utilities for the notification and
// automation controllers. It contains a mock Home Assistant WebSocket server
// and helpers for writing integration tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// connWrapper wraps a WebSocket connection with its write mutex
type connWrapper struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// MockHAServer simulates a Home Assistant WebSocket server
type MockHAServer struct {
	server       *http.Server
	addr         string
	states       map[string]*EntityState
	statesMu     sync.RWMutex
	connections  []*connWrapper
	connsMu      sync.Mutex
	eventDelay   time.Duration // Simulates network latency
	token        string
	serviceCalls []ServiceCall // Track all service calls for verification
	firedEvents  []EventRecord // Track client-fired events for verification
	callsMu      sync.Mutex    // Protects serviceCalls and firedEvents
}

// EntityState represents a Home Assistant entity state
type EntityState struct {
	EntityID    string                 `json:"entity_id"`
	State       string                 `json:"state"`
	Attributes  map[string]interface{} `json:"attributes"`
	LastChanged time.Time              `json:"last_changed"`
	LastUpdated time.Time              `json:"last_updated"`
}

// EventRecord records an event fired on the bus by a client
type EventRecord struct {
	Timestamp time.Time
	EventType string
	EventData map[string]interface{}
}

// Message represents a WebSocket message
type Message struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success *bool           `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Event   *Event          `json:"event,omitempty"`
}

// Event represents a Home Assistant event
type Event struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	Origin    string          `json:"origin"`
	TimeFired time.Time       `json:"time_fired"`
}

// StateChangedEvent represents a state_changed event
type StateChangedEvent struct {
	EntityID string       `json:"entity_id"`
	NewState *EntityState `json:"new_state"`
	OldState *EntityState `json:"old_state"`
}

// AuthMessage represents authentication request
type AuthMessage struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token,omitempty"`
}

// CallServiceRequest represents a service call
type CallServiceRequest struct {
	ID          int                    `json:"id"`
	Type        string                 `json:"type"`
	Domain      string                 `json:"domain"`
	Service     string                 `json:"service"`
	ServiceData map[string]interface{} `json:"service_data,omitempty"`
}

// GetStatesRequest represents a get_states request
type GetStatesRequest struct {
	ID   int    `json:"id"`
	Type string `json:"type"`
}

// SubscribeEventsRequest represents a subscribe_events request
type SubscribeEventsRequest struct {
	ID        int    `json:"id"`
	Type      string `json:"type"`
	EventType string `json:"event_type,omitempty"`
}

// FireEventRequest represents a fire_event request
type FireEventRequest struct {
	ID        int                    `json:"id"`
	Type      string                 `json:"type"`
	EventType string                 `json:"event_type"`
	EventData map[string]interface{} `json:"event_data,omitempty"`
}

// NewMockHAServer creates a new mock HA server
func NewMockHAServer(addr, token string) *MockHAServer {
	return &MockHAServer{
		addr:         addr,
		states:       make(map[string]*EntityState),
		connections:  make([]*connWrapper, 0),
		eventDelay:   10 * time.Millisecond, // Simulate network latency
		token:        token,
		serviceCalls: make([]ServiceCall, 0),
	}
}

// SetEventDelay sets the delay for broadcasting events
func (s *MockHAServer) SetEventDelay(delay time.Duration) {
	s.eventDelay = delay
}

// Start starts the mock server
func (s *MockHAServer) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/websocket", s.handleWebSocket)

	s.server = &http.Server{
		Addr:    s.addr,
		Handler: mux,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("Mock HA server error: %v", err)
		}
	}()

	// Wait for server to start
	time.Sleep(100 * time.Millisecond)
	return nil
}

// Stop stops the mock server
func (s *MockHAServer) Stop() error {
	s.connsMu.Lock()
	for _, wrapper := range s.connections {
		wrapper.conn.Close()
	}
	s.connections = nil
	s.connsMu.Unlock()

	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

// SetState sets a state and broadcasts change event
func (s *MockHAServer) SetState(entityID, state string, attributes map[string]interface{}) {
	s.statesMu.Lock()
	oldState := s.states[entityID]

	if attributes == nil && oldState != nil {
		attributes = oldState.Attributes
	}

	now := time.Now()
	newState := &EntityState{
		EntityID:    entityID,
		State:       state,
		Attributes:  attributes,
		LastChanged: now,
		LastUpdated: now,
	}

	s.states[entityID] = newState
	s.statesMu.Unlock()

	// Broadcast state_changed event with delay
	if s.eventDelay > 0 {
		time.Sleep(s.eventDelay)
	}
	s.broadcastStateChange(entityID, oldState, newState)
}

// GetState retrieves a state
func (s *MockHAServer) GetState(entityID string) *EntityState {
	s.statesMu.RLock()
	defer s.statesMu.RUnlock()
	return s.states[entityID]
}

// FireEvent broadcasts a custom event to all connections, as if something
// on the hub side fired it.
func (s *MockHAServer) FireEvent(eventType string, data map[string]interface{}) {
	if s.eventDelay > 0 {
		time.Sleep(s.eventDelay)
	}
	s.broadcastEvent(eventType, data)
}

// handleWebSocket handles WebSocket connections
func (s *MockHAServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade connection: %v", err)
		return
	}

	wrapper := &connWrapper{conn: conn}

	s.connsMu.Lock()
	s.connections = append(s.connections, wrapper)
	s.connsMu.Unlock()

	defer func() {
		s.connsMu.Lock()
		for i, w := range s.connections {
			if w.conn == conn {
				s.connections = append(s.connections[:i], s.connections[i+1:]...)
				break
			}
		}
		s.connsMu.Unlock()
		conn.Close()
	}()

	// Send auth_required
	wrapper.writeMu.Lock()
	conn.WriteJSON(Message{Type: "auth_required"})
	wrapper.writeMu.Unlock()

	// Receive auth
	var authMsg AuthMessage
	if err := conn.ReadJSON(&authMsg); err != nil {
		log.Printf("Failed to read auth: %v", err)
		return
	}

	// Validate token
	if authMsg.AccessToken != s.token {
		wrapper.writeMu.Lock()
		conn.WriteJSON(Message{Type: "auth_invalid"})
		wrapper.writeMu.Unlock()
		return
	}

	// Send auth_ok
	wrapper.writeMu.Lock()
	conn.WriteJSON(Message{Type: "auth_ok"})
	wrapper.writeMu.Unlock()

	// Handle messages
	for {
		var msg json.RawMessage
		if err := conn.ReadJSON(&msg); err != nil {
			log.Printf("Connection closed: %v", err)
			return
		}

		// Parse message type
		var baseMsg struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(msg, &baseMsg); err != nil {
			continue
		}

		switch baseMsg.Type {
		case "subscribe_events":
			s.handleSubscribeEvents(wrapper, msg)
		case "get_states":
			s.handleGetStates(wrapper, msg)
		case "call_service":
			s.handleCallService(wrapper, msg)
		case "fire_event":
			s.handleFireEvent(wrapper, msg)
		}
	}
}

// handleSubscribeEvents handles event subscriptions
func (s *MockHAServer) handleSubscribeEvents(wrapper *connWrapper, msg json.RawMessage) {
	var req SubscribeEventsRequest
	if err := json.Unmarshal(msg, &req); err != nil {
		return
	}

	success := true
	wrapper.writeMu.Lock()
	wrapper.conn.WriteJSON(Message{
		ID:      req.ID,
		Type:    "result",
		Success: &success,
	})
	wrapper.writeMu.Unlock()
}

// handleGetStates handles get_states requests
func (s *MockHAServer) handleGetStates(wrapper *connWrapper, msg json.RawMessage) {
	var req GetStatesRequest
	if err := json.Unmarshal(msg, &req); err != nil {
		return
	}

	s.statesMu.RLock()
	states := make([]*EntityState, 0, len(s.states))
	for _, state := range s.states {
		states = append(states, state)
	}
	s.statesMu.RUnlock()

	statesJSON, _ := json.Marshal(states)
	success := true
	wrapper.writeMu.Lock()
	wrapper.conn.WriteJSON(Message{
		ID:      req.ID,
		Type:    "result",
		Success: &success,
		Result:  statesJSON,
	})
	wrapper.writeMu.Unlock()
}

// handleFireEvent records a client-fired event and re-broadcasts it, so
// subscribers on other connections (and the firing connection itself) see
// the event exactly as they would from a real hub.
func (s *MockHAServer) handleFireEvent(wrapper *connWrapper, msg json.RawMessage) {
	var req FireEventRequest
	if err := json.Unmarshal(msg, &req); err != nil {
		return
	}

	s.callsMu.Lock()
	s.firedEvents = append(s.firedEvents, EventRecord{
		Timestamp: time.Now(),
		EventType: req.EventType,
		EventData: req.EventData,
	})
	s.callsMu.Unlock()

	success := true
	wrapper.writeMu.Lock()
	wrapper.conn.WriteJSON(Message{
		ID:      req.ID,
		Type:    "result",
		Success: &success,
	})
	wrapper.writeMu.Unlock()

	s.broadcastEvent(req.EventType, req.EventData)
}

// handleCallService handles service calls and reflects the ones that change
// entity state back into the state table.
func (s *MockHAServer) handleCallService(wrapper *connWrapper, msg json.RawMessage) {
	var req CallServiceRequest
	if err := json.Unmarshal(msg, &req); err != nil {
		return
	}

	// Track the service call for test verification
	s.callsMu.Lock()
	s.serviceCalls = append(s.serviceCalls, ServiceCall{
		Timestamp:   time.Now(),
		Domain:      req.Domain,
		Service:     req.Service,
		ServiceData: req.ServiceData,
	})
	s.callsMu.Unlock()

	entityID, _ := req.ServiceData["entity_id"].(string)

	switch req.Domain {
	case "input_boolean":
		newState := "off"
		if req.Service == "turn_on" {
			newState = "on"
		}
		s.reflectState(entityID, newState)

	case "input_select":
		if req.Service == "select_option" {
			if option, ok := req.ServiceData["option"].(string); ok {
				s.reflectState(entityID, option)
			}
		}

	case "number", "input_number":
		if value, ok := req.ServiceData["value"].(float64); ok {
			s.reflectState(entityID, fmt.Sprintf("%g", value))
		}

	case "vacuum":
		switch req.Service {
		case "start":
			s.reflectState(entityID, "cleaning")
		case "stop", "pause":
			s.reflectState(entityID, "docked")
		}

	case "notify", "persistent_notification", "shopping_list":
		// No entity state to reflect, just acknowledge

	default:
		// Unknown service domain - still acknowledge to prevent timeouts
	}

	success := true
	wrapper.writeMu.Lock()
	wrapper.conn.WriteJSON(Message{
		ID:      req.ID,
		Type:    "result",
		Success: &success,
	})
	wrapper.writeMu.Unlock()
}

// reflectState updates an existing entity after a service call, keeping its
// attributes, and broadcasts the change. Unknown entities are ignored.
func (s *MockHAServer) reflectState(entityID, newState string) {
	if entityID == "" {
		return
	}

	s.statesMu.RLock()
	oldState := s.states[entityID]
	s.statesMu.RUnlock()

	if oldState != nil {
		s.SetState(entityID, newState, oldState.Attributes)
	}
}

// broadcastStateChange broadcasts a state change event to all connections
func (s *MockHAServer) broadcastStateChange(entityID string, oldState, newState *EntityState) {
	eventData := StateChangedEvent{
		EntityID: entityID,
		NewState: newState,
		OldState: oldState,
	}

	eventDataJSON, _ := json.Marshal(eventData)

	s.broadcast(&Event{
		EventType: "state_changed",
		Data:      eventDataJSON,
		Origin:    "LOCAL",
		TimeFired: time.Now(),
	})
}

// broadcastEvent broadcasts a custom event to all connections
func (s *MockHAServer) broadcastEvent(eventType string, data map[string]interface{}) {
	dataJSON, _ := json.Marshal(data)

	s.broadcast(&Event{
		EventType: eventType,
		Data:      dataJSON,
		Origin:    "LOCAL",
		TimeFired: time.Now(),
	})
}

func (s *MockHAServer) broadcast(event *Event) {
	msg := Message{
		Type:  "event",
		Event: event,
	}

	s.connsMu.Lock()
	wrappers := make([]*connWrapper, len(s.connections))
	copy(wrappers, s.connections)
	s.connsMu.Unlock()

	for _, wrapper := range wrappers {
		// Write to each connection with per-connection mutex
		wrapper.writeMu.Lock()
		wrapper.conn.WriteJSON(msg)
		wrapper.writeMu.Unlock()
	}
}

// GetServiceCalls returns all service calls since last clear
func (s *MockHAServer) GetServiceCalls() []ServiceCall {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	calls := make([]ServiceCall, len(s.serviceCalls))
	copy(calls, s.serviceCalls)
	return calls
}

// ClearServiceCalls resets the service call log
func (s *MockHAServer) ClearServiceCalls() {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	s.serviceCalls = nil
}

// GetFiredEvents returns all client-fired events since last clear
func (s *MockHAServer) GetFiredEvents() []EventRecord {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	events := make([]EventRecord, len(s.firedEvents))
	copy(events, s.firedEvents)
	return events
}

// ClearFiredEvents resets the fired event log
func (s *MockHAServer) ClearFiredEvents() {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	s.firedEvents = nil
}

// FindServiceCall finds the most recent service call matching criteria
// Returns nil if no matching call found
func (s *MockHAServer) FindServiceCall(domain, service string, entityID string) *ServiceCall {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()

	// Search backwards to find most recent match
	for i := len(s.serviceCalls) - 1; i >= 0; i-- {
		call := s.serviceCalls[i]
		if call.Domain == domain && call.Service == service {
			// If no entity ID specified, match on domain/service only
			if entityID == "" {
				return &call
			}
			// Check if entity_id matches
			if eid, ok := call.ServiceData["entity_id"].(string); ok && eid == entityID {
				return &call
			}
		}
	}
	return nil
}

// CountServiceCalls counts service calls matching criteria
func (s *MockHAServer) CountServiceCalls(domain, service string) int {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()

	count := 0
	for _, call := range s.serviceCalls {
		if call.Domain == domain && call.Service == service {
			count++
		}
	}
	return count
}
