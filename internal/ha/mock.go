package ha

import (
	"fmt"
	"sync"
	"time"
)

// MockClient implements HAClient for testing. State changes and fired events
// are dispatched synchronously to subscribers, mirroring the one-callback-
// at-a-time delivery of the real client's event dispatcher.
type MockClient struct {
	states       map[string]*State
	statesMu     sync.RWMutex
	stateSubs    map[string][]stateSubscriberEntry
	eventSubs    map[string][]eventSubscriberEntry
	subsMu       sync.RWMutex
	nextSubID    int
	nextSubIDMu  sync.Mutex
	connected    bool
	connMu       sync.RWMutex
	serviceCalls []ServiceCall
	callsMu      sync.Mutex
	firedEvents  []FiredEvent
	eventsMu     sync.Mutex
}

// ServiceCall records a service call for testing
type ServiceCall struct {
	Domain  string
	Service string
	Data    map[string]interface{}
	Time    time.Time
}

// FiredEvent records a fired event for testing
type FiredEvent struct {
	EventType string
	Data      map[string]interface{}
	Time      time.Time
}

// mockStateSubscription implements Subscription for MockClient state subscribers
type mockStateSubscription struct {
	entityID string
	subID    int
	mock     *MockClient
}

func (s *mockStateSubscription) Unsubscribe() error {
	return s.mock.unsubscribeState(s.entityID, s.subID)
}

// mockEventSubscription implements Subscription for MockClient event subscribers
type mockEventSubscription struct {
	eventType string
	subID     int
	mock      *MockClient
}

func (s *mockEventSubscription) Unsubscribe() error {
	return s.mock.unsubscribeEvent(s.eventType, s.subID)
}

// NewMockClient creates a new mock HA client
func NewMockClient() *MockClient {
	return &MockClient{
		states:       make(map[string]*State),
		stateSubs:    make(map[string][]stateSubscriberEntry),
		eventSubs:    make(map[string][]eventSubscriberEntry),
		serviceCalls: make([]ServiceCall, 0),
		firedEvents:  make([]FiredEvent, 0),
		connected:    false,
	}
}

func (m *MockClient) clearSubscribers() {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	m.stateSubs = make(map[string][]stateSubscriberEntry)
	m.eventSubs = make(map[string][]eventSubscriberEntry)
}

// Connect simulates connecting to Home Assistant
func (m *MockClient) Connect() error {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	if m.connected {
		return fmt.Errorf("already connected")
	}

	m.connected = true
	return nil
}

// Disconnect simulates disconnecting
func (m *MockClient) Disconnect() error {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	m.connected = false
	m.clearSubscribers()
	return nil
}

// IsConnected returns connection status
func (m *MockClient) IsConnected() bool {
	m.connMu.RLock()
	defer m.connMu.RUnlock()
	return m.connected
}

// GetState retrieves a mock state
func (m *MockClient) GetState(entityID string) (*State, error) {
	m.statesMu.RLock()
	defer m.statesMu.RUnlock()

	state, ok := m.states[entityID]
	if !ok {
		return nil, fmt.Errorf("entity %s not found", entityID)
	}

	return state, nil
}

// GetAllStates retrieves all mock states
func (m *MockClient) GetAllStates() ([]*State, error) {
	m.statesMu.RLock()
	defer m.statesMu.RUnlock()

	states := make([]*State, 0, len(m.states))
	for _, state := range m.states {
		states = append(states, state)
	}

	return states, nil
}

// CallService records a service call
func (m *MockClient) CallService(domain, service string, data map[string]interface{}) error {
	m.callsMu.Lock()
	m.serviceCalls = append(m.serviceCalls, ServiceCall{
		Domain:  domain,
		Service: service,
		Data:    data,
		Time:    time.Now(),
	})
	m.callsMu.Unlock()

	// Reflect input helper service calls back into mock state
	if entityID, ok := data["entity_id"].(string); ok {
		switch {
		case domain == "input_boolean" && service == "turn_on":
			m.SetState(entityID, "on", m.attributesOf(entityID))
		case domain == "input_boolean" && service == "turn_off":
			m.SetState(entityID, "off", m.attributesOf(entityID))
		case domain == "input_select" && service == "select_option":
			if option, ok := data["option"].(string); ok {
				m.SetState(entityID, option, m.attributesOf(entityID))
			}
		}
	}

	return nil
}

// FireEvent records the event and dispatches it synchronously to subscribers
func (m *MockClient) FireEvent(eventType string, data map[string]interface{}) error {
	m.eventsMu.Lock()
	m.firedEvents = append(m.firedEvents, FiredEvent{
		EventType: eventType,
		Data:      data,
		Time:      time.Now(),
	})
	m.eventsMu.Unlock()

	m.subsMu.RLock()
	entries := append([]eventSubscriberEntry(nil), m.eventSubs[eventType]...)
	m.subsMu.RUnlock()

	for _, entry := range entries {
		entry.handler(eventType, data)
	}

	return nil
}

// SubscribeStateChanges subscribes to state changes for an entity
func (m *MockClient) SubscribeStateChanges(entityID string, handler StateChangeHandler) (Subscription, error) {
	m.nextSubIDMu.Lock()
	subID := m.nextSubID
	m.nextSubID++
	m.nextSubIDMu.Unlock()

	m.subsMu.Lock()
	m.stateSubs[entityID] = append(m.stateSubs[entityID], stateSubscriberEntry{
		subID:   subID,
		handler: handler,
	})
	m.subsMu.Unlock()

	return &mockStateSubscription{
		entityID: entityID,
		subID:    subID,
		mock:     m,
	}, nil
}

// SubscribeEvents subscribes to a custom event type
func (m *MockClient) SubscribeEvents(eventType string, handler EventHandler) (Subscription, error) {
	m.nextSubIDMu.Lock()
	subID := m.nextSubID
	m.nextSubID++
	m.nextSubIDMu.Unlock()

	m.subsMu.Lock()
	m.eventSubs[eventType] = append(m.eventSubs[eventType], eventSubscriberEntry{
		subID:   subID,
		handler: handler,
	})
	m.subsMu.Unlock()

	return &mockEventSubscription{
		eventType: eventType,
		subID:     subID,
		mock:      m,
	}, nil
}

// unsubscribeState removes a state subscription by entity ID and subscription ID
func (m *MockClient) unsubscribeState(entityID string, subID int) error {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	subscribers, ok := m.stateSubs[entityID]
	if !ok {
		return nil // Already unsubscribed
	}

	for i, entry := range subscribers {
		if entry.subID == subID {
			m.stateSubs[entityID] = append(subscribers[:i], subscribers[i+1:]...)
			if len(m.stateSubs[entityID]) == 0 {
				delete(m.stateSubs, entityID)
			}
			break
		}
	}

	return nil
}

// unsubscribeEvent removes an event subscription by event type and subscription ID
func (m *MockClient) unsubscribeEvent(eventType string, subID int) error {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	subscribers, ok := m.eventSubs[eventType]
	if !ok {
		return nil // Already unsubscribed
	}

	for i, entry := range subscribers {
		if entry.subID == subID {
			m.eventSubs[eventType] = append(subscribers[:i], subscribers[i+1:]...)
			if len(m.eventSubs[eventType]) == 0 {
				delete(m.eventSubs, eventType)
			}
			break
		}
	}

	return nil
}

// SetInputBoolean sets a mock input_boolean
func (m *MockClient) SetInputBoolean(entityID string, value bool) error {
	service := "turn_off"
	if value {
		service = "turn_on"
	}

	return m.CallService("input_boolean", service, map[string]interface{}{
		"entity_id": entityID,
	})
}

// SetInputSelect selects an option of a mock input_select
func (m *MockClient) SetInputSelect(entityID string, option string) error {
	return m.CallService("input_select", "select_option", map[string]interface{}{
		"entity_id": entityID,
		"option":    option,
	})
}

// attributesOf returns the current attributes of an entity, or an empty map
func (m *MockClient) attributesOf(entityID string) map[string]interface{} {
	m.statesMu.RLock()
	defer m.statesMu.RUnlock()

	if state, ok := m.states[entityID]; ok {
		return state.Attributes
	}
	return map[string]interface{}{}
}

// SetState sets a mock state and notifies subscribers
func (m *MockClient) SetState(entityID string, stateValue string, attributes map[string]interface{}) {
	if attributes == nil {
		attributes = map[string]interface{}{}
	}

	m.statesMu.Lock()
	now := time.Now()
	oldState := m.states[entityID]

	newState := &State{
		EntityID:    entityID,
		State:       stateValue,
		Attributes:  attributes,
		LastChanged: now,
		LastUpdated: now,
	}

	m.states[entityID] = newState
	m.statesMu.Unlock()

	m.notifyStateSubscribers(entityID, oldState, newState)
}

// SetAttribute updates a single attribute, keeping the state value,
// and notifies subscribers of the change.
func (m *MockClient) SetAttribute(entityID string, name string, value interface{}) {
	m.statesMu.Lock()
	oldState := m.states[entityID]

	attributes := map[string]interface{}{}
	stateValue := ""
	if oldState != nil {
		stateValue = oldState.State
		for k, v := range oldState.Attributes {
			attributes[k] = v
		}
	}
	attributes[name] = value

	now := time.Now()
	newState := &State{
		EntityID:    entityID,
		State:       stateValue,
		Attributes:  attributes,
		LastChanged: now,
		LastUpdated: now,
	}
	m.states[entityID] = newState
	m.statesMu.Unlock()

	m.notifyStateSubscribers(entityID, oldState, newState)
}

// SimulateStateChange simulates a state change event, keeping attributes
func (m *MockClient) SimulateStateChange(entityID string, newStateValue string) {
	m.statesMu.Lock()
	oldState := m.states[entityID]

	now := time.Now()
	newState := &State{
		EntityID:    entityID,
		State:       newStateValue,
		Attributes:  make(map[string]interface{}),
		LastChanged: now,
		LastUpdated: now,
	}

	if oldState != nil {
		newState.Attributes = oldState.Attributes
	}

	m.states[entityID] = newState
	m.statesMu.Unlock()

	m.notifyStateSubscribers(entityID, oldState, newState)
}

// GetServiceCalls returns all recorded service calls
func (m *MockClient) GetServiceCalls() []ServiceCall {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()

	calls := make([]ServiceCall, len(m.serviceCalls))
	copy(calls, m.serviceCalls)
	return calls
}

// ClearServiceCalls clears the service call history
func (m *MockClient) ClearServiceCalls() {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()
	m.serviceCalls = make([]ServiceCall, 0)
}

// GetFiredEvents returns all recorded fired events
func (m *MockClient) GetFiredEvents() []FiredEvent {
	m.eventsMu.Lock()
	defer m.eventsMu.Unlock()

	events := make([]FiredEvent, len(m.firedEvents))
	copy(events, m.firedEvents)
	return events
}

// ClearFiredEvents clears the fired event history
func (m *MockClient) ClearFiredEvents() {
	m.eventsMu.Lock()
	defer m.eventsMu.Unlock()
	m.firedEvents = make([]FiredEvent, 0)
}

// notifyStateSubscribers notifies all subscribers of a state change
func (m *MockClient) notifyStateSubscribers(entityID string, oldState, newState *State) {
	m.subsMu.RLock()
	entries := append([]stateSubscriberEntry(nil), m.stateSubs[entityID]...)
	m.subsMu.RUnlock()

	for _, entry := range entries {
		entry.handler(entityID, oldState, newState)
	}
}
