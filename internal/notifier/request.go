package notifier

import (
	"fmt"
	"strings"
)

// Actions understood by the router. Anything else starting with "send_to_"
// addresses the named recipient directly.
const (
	ActionSendToAll       = "send_to_all"
	ActionSendToPresent   = "send_to_present"
	ActionSendToAbsent    = "send_to_absent"
	ActionSendToNearest   = "send_to_nearest"
	ActionSendWhenPresent = "send_when_present"

	actionPrefix = "send_to_"
)

// WatchCondition describes a state transition that clears all notifications
// sharing the request's tag. Empty OldState/NewState match any value.
type WatchCondition struct {
	EntityID string
	OldState string
	NewState string
}

// ActionButton is an action attached to a mobile notification. Clicking it
// fires the named event and clears the notification's tag.
type ActionButton struct {
	Title       string
	Event       string
	Icon        string
	Destructive bool
}

// Request is one notification routing request, constructed per incoming
// NOTIFIER event and not retained beyond dispatch.
type Request struct {
	Action            string
	Title             string
	Message           string
	Icon              string
	Color             string
	ImageURL          string
	ClickURL          string
	Timeout           int
	InterruptionLevel int
	Persistent        bool
	Tag               string
	SiriShortcut      string
	Until             []WatchCondition
	Callback          []ActionButton
}

// materialColors maps symbolic color names to their hex codes. Unrecognized
// names pass through unchanged (raw hex is already valid).
var materialColors = map[string]string{
	"red":         "#f44336",
	"pink":        "#e91e63",
	"purple":      "#9c27b0",
	"deep-purple": "#673ab7",
	"indigo":      "#3f51b5",
	"blue":        "#2196f3",
	"light-blue":  "#03a9f4",
	"cyan":        "#00bcd4",
	"teal":        "#009688",
	"green":       "#4caf50",
	"light-green": "#8bc34a",
	"lime":        "#cddc39",
	"yellow":      "#ffeb3b",
	"amber":       "#ffc107",
	"orange":      "#ff9800",
	"deep-orange": "#ff5722",
	"brown":       "#795548",
	"grey":        "#9e9e9e",
	"blue-grey":   "#607d8b",
}

// NormalizeColor resolves a symbolic color name to its hex code.
func NormalizeColor(color string) string {
	if hex, ok := materialColors[color]; ok {
		return hex
	}
	return color
}

// TargetName returns the recipient name for direct-addressing actions, and
// false for the catalogue actions handled elsewhere.
func (r *Request) TargetName() (string, bool) {
	switch r.Action {
	case ActionSendToAll, ActionSendToPresent, ActionSendToAbsent,
		ActionSendToNearest, ActionSendWhenPresent:
		return "", false
	}
	if name, ok := strings.CutPrefix(r.Action, actionPrefix); ok && name != "" {
		return name, true
	}
	return "", false
}

// Data assembles the notification payload for the mobile notify service.
// Fields absent from the request are omitted entirely, never sent as null.
func (r *Request) Data() map[string]interface{} {
	data := map[string]interface{}{}

	if r.ImageURL != "" {
		data["image"] = r.ImageURL
	}
	if r.ClickURL != "" {
		data["url"] = r.ClickURL
	}
	if r.Timeout > 0 {
		data["timeout"] = r.Timeout
	}
	if r.Icon != "" {
		data["notification_icon"] = r.Icon
	}
	if r.Color != "" {
		data["color"] = NormalizeColor(r.Color)
	}
	if r.Tag != "" {
		data["tag"] = r.Tag
	}
	if r.InterruptionLevel != 0 {
		data["push"] = map[string]interface{}{"interruption-level": r.InterruptionLevel}
	}
	if r.SiriShortcut != "" {
		data["shortcut"] = map[string]interface{}{"name": r.SiriShortcut}
	}
	if len(r.Callback) > 0 {
		actions := make([]map[string]interface{}, 0, len(r.Callback))
		for _, button := range r.Callback {
			actions = append(actions, map[string]interface{}{
				"action":      button.Event,
				"title":       button.Title,
				"icon":        "sfsymbols:" + button.Icon,
				"destructive": button.Destructive,
			})
		}
		data["actions"] = actions
	}

	return data
}

// ParseRequest builds a Request from a NOTIFIER event payload. Numeric
// payload values arrive as float64 after JSON decoding.
func ParseRequest(data map[string]interface{}) (*Request, error) {
	action := stringField(data, "action")
	if action == "" {
		return nil, fmt.Errorf("notification request has no action")
	}

	req := &Request{
		Action:            action,
		Title:             stringField(data, "title"),
		Message:           stringField(data, "message"),
		Icon:              stringField(data, "icon"),
		Color:             stringField(data, "color"),
		ImageURL:          stringField(data, "image_url"),
		ClickURL:          stringField(data, "click_url"),
		Timeout:           intField(data, "timeout"),
		InterruptionLevel: intField(data, "interuption_level"), // sic, wire name
		Persistent:        boolField(data, "persistent"),
		Tag:               stringField(data, "tag"),
		SiriShortcut:      stringField(data, "siri_shortcut_name"),
	}

	if rawUntil, ok := data["until"].([]interface{}); ok {
		for _, raw := range rawUntil {
			item, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			cond := WatchCondition{
				EntityID: stringField(item, "entity_id"),
				OldState: stringField(item, "old_state"),
				NewState: stringField(item, "new_state"),
			}
			if cond.EntityID == "" {
				return nil, fmt.Errorf("until condition has no entity_id")
			}
			req.Until = append(req.Until, cond)
		}
	}

	if rawCallback, ok := data["callback"].([]interface{}); ok {
		for _, raw := range rawCallback {
			item, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			req.Callback = append(req.Callback, ActionButton{
				Title:       stringField(item, "title"),
				Event:       stringField(item, "event"),
				Icon:        stringField(item, "icon"),
				Destructive: boolField(item, "destructive"),
			})
		}
	}

	return req, nil
}

func stringField(data map[string]interface{}, key string) string {
	v, _ := data[key].(string)
	return v
}

func boolField(data map[string]interface{}, key string) bool {
	v, _ := data[key].(bool)
	return v
}

func intField(data map[string]interface{}, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}
