package ha

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Message represents a base WebSocket message to/from Home Assistant
type Message struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success *bool           `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	Event   *Event          `json:"event,omitempty"`
}

// Error represents an error response from Home Assistant
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AuthMessage represents authentication request
type AuthMessage struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token,omitempty"`
}

// Event represents an event message from Home Assistant
type Event struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	Origin    string          `json:"origin"`
	TimeFired time.Time       `json:"time_fired"`
}

// StateChangedEvent represents a state_changed event
type StateChangedEvent struct {
	EntityID string `json:"entity_id"`
	NewState *State `json:"new_state"`
	OldState *State `json:"old_state"`
}

// State represents an entity state
type State struct {
	EntityID    string                 `json:"entity_id"`
	State       string                 `json:"state"`
	Attributes  map[string]interface{} `json:"attributes"`
	LastChanged time.Time              `json:"last_changed"`
	LastUpdated time.Time              `json:"last_updated"`
}

// Float parses the state value as a number. Hub sensors report numbers as
// strings; "unknown"/"unavailable" and empty states are not numbers.
func (s *State) Float() (float64, error) {
	if s == nil {
		return 0, fmt.Errorf("state is nil")
	}
	return strconv.ParseFloat(s.State, 64)
}

// AttrString returns a string attribute, or "" if absent or not a string.
func (s *State) AttrString(name string) string {
	if s == nil {
		return ""
	}
	v, _ := s.Attributes[name].(string)
	return v
}

// AttrFloat returns a numeric attribute.
func (s *State) AttrFloat(name string) (float64, bool) {
	if s == nil {
		return 0, false
	}
	switch v := s.Attributes[name].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// AttrBool returns a boolean attribute, defaulting to false.
func (s *State) AttrBool(name string) bool {
	if s == nil {
		return false
	}
	v, _ := s.Attributes[name].(bool)
	return v
}

// AttrStrings returns a list attribute as strings, skipping non-string items.
func (s *State) AttrStrings(name string) []string {
	if s == nil {
		return nil
	}
	raw, ok := s.Attributes[name].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if str, ok := item.(string); ok {
			out = append(out, str)
		}
	}
	return out
}

// CallServiceRequest represents a call_service request
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

// StateChangeHandler is called when a state change event is received
type StateChangeHandler func(entityID string, oldState, newState *State)

// EventHandler is called when a subscribed hub event is received
type EventHandler func(eventType string, data map[string]interface{})

// Subscription represents an active subscription. Unsubscribing twice, or
// after the subscription already fired for the last time, is a no-op.
type Subscription interface {
	Unsubscribe() error
}
