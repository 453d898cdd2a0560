package automower

import (
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"homenotify/internal/config"
	"homenotify/internal/ha"
)

func testConfig() config.AutomowerConfig {
	return config.AutomowerConfig{
		Enabled:           true,
		ProblemSensor:     "sensor.nono_problem_sensor",
		RainSensor:        "sensor.rain_last_6h",
		SunEntity:         "sun.sun",
		NextStartSensor:   "sensor.nono_next_start",
		SessionCalendar:   "calendar.nono",
		ParkForEntity:     "number.nono_park_for",
		MowerEntity:       "vacuum.nono",
		RainFlagEntity:    "input_boolean.parked_because_of_rain",
		MessageRainPark:   "It starts raining, park until rain stops and lawn dries.",
		MessageSessionEnd: "End session is in less than 1 hour, stay parked.",
		MessageLawnDry:    "No rain during last 6h. Lawn should be dry now.",
		MessageActivated:  "Advanced automation is activated.",
		MessageDeactivate: "Advanced automation is deactivated.",
	}
}

func newTestManager(t *testing.T, mockHA *ha.MockClient) *Manager {
	t.Helper()
	manager := NewManager(mockHA, testConfig(), time.UTC, zap.NewNop())
	if err := manager.Start(); err != nil {
		t.Fatalf("Failed to start automower manager: %v", err)
	}
	return manager
}

// activeMower sets up a manager with watchers active and the rain flag off.
func activeMower(t *testing.T, mockHA *ha.MockClient) *Manager {
	t.Helper()
	mockHA.SetState("sensor.nono_problem_sensor", "week_schedule", nil)
	mockHA.SetState("sensor.rain_last_6h", "0", nil)
	mockHA.SetState("input_boolean.parked_because_of_rain", "off", nil)
	mockHA.SetState("number.nono_park_for", "0", map[string]interface{}{"max": float64(60480)})
	mockHA.SetState("sun.sun", "above_horizon", map[string]interface{}{"rising": true})
	mockHA.Connect()

	manager := newTestManager(t, mockHA)
	mockHA.ClearServiceCalls()
	mockHA.ClearFiredEvents()
	return manager
}

func notifierMessages(mockHA *ha.MockClient) []string {
	var messages []string
	for _, event := range mockHA.GetFiredEvents() {
		if event.EventType != "NOTIFIER" {
			continue
		}
		if message, ok := event.Data["message"].(string); ok {
			messages = append(messages, message)
		}
	}
	return messages
}

func hasMessage(mockHA *ha.MockClient, substr string) bool {
	for _, message := range notifierMessages(mockHA) {
		if strings.Contains(message, substr) {
			return true
		}
	}
	return false
}

func findCall(mockHA *ha.MockClient, domain, service string) (ha.ServiceCall, bool) {
	for _, call := range mockHA.GetServiceCalls() {
		if call.Domain == domain && call.Service == service {
			return call, true
		}
	}
	return ha.ServiceCall{}, false
}

func TestManager_ActivationGate(t *testing.T) {
	mockHA := ha.NewMockClient()
	mockHA.SetState("sensor.nono_problem_sensor", "parked_until_further_notice", nil)
	mockHA.SetState("sensor.rain_last_6h", "0", nil)
	mockHA.SetState("input_boolean.parked_because_of_rain", "off", nil)
	mockHA.Connect()

	newTestManager(t, mockHA)

	// Starting while parked_until_further_notice keeps watchers off
	mockHA.SimulateStateChange("sensor.rain_last_6h", "0.5")
	if _, ok := findCall(mockHA, "number", "set_value"); ok {
		t.Fatal("Expected rain watcher to be inactive while deactivated")
	}

	// Schedule resumes, automation activates
	mockHA.SimulateStateChange("sensor.nono_problem_sensor", "week_schedule")
	if !hasMessage(mockHA, "activated") {
		t.Error("Expected activation notification")
	}

	// Mowing state changes are ignored by the gate
	mockHA.ClearFiredEvents()
	mockHA.SimulateStateChange("sensor.nono_problem_sensor", "mowing")
	if len(notifierMessages(mockHA)) != 0 {
		t.Error("Expected no gate notification for mowing state")
	}

	// Manual park deactivates and notifies
	mockHA.SimulateStateChange("sensor.nono_problem_sensor", "parked_until_further_notice")
	if !hasMessage(mockHA, "deactivated") {
		t.Error("Expected deactivation notification")
	}

	// Watchers are gone again
	mockHA.ClearServiceCalls()
	mockHA.SimulateStateChange("sensor.rain_last_6h", "0.7")
	if _, ok := findCall(mockHA, "number", "set_value"); ok {
		t.Error("Expected rain watcher to be removed on deactivation")
	}
}

func TestManager_RainStartsParksMower(t *testing.T) {
	mockHA := ha.NewMockClient()
	activeMower(t, mockHA)

	mockHA.SimulateStateChange("sensor.rain_last_6h", "0.5")

	call, ok := findCall(mockHA, "number", "set_value")
	if !ok {
		t.Fatal("Expected number/set_value to park the mower")
	}
	if call.Data["entity_id"] != "number.nono_park_for" || call.Data["value"] != float64(60480) {
		t.Errorf("Unexpected park call: %v", call.Data)
	}

	flag, ok := findCall(mockHA, "input_boolean", "turn_on")
	if !ok || flag.Data["entity_id"] != "input_boolean.parked_because_of_rain" {
		t.Error("Expected rain flag to be raised")
	}

	if !hasMessage(mockHA, "park until rain stops") {
		t.Error("Expected rain park notification")
	}
}

func TestManager_RainStopsSunRisingWaitsForNoon(t *testing.T) {
	mockHA := ha.NewMockClient()
	activeMower(t, mockHA)
	mockHA.SimulateStateChange("sensor.rain_last_6h", "0.5")
	mockHA.ClearServiceCalls()
	mockHA.ClearFiredEvents()

	mockHA.SimulateStateChange("sensor.rain_last_6h", "0")

	if _, ok := findCall(mockHA, "vacuum", "start"); ok {
		t.Error("Expected no restart while sun is rising")
	}
	if !hasMessage(mockHA, "waiting for noon") {
		t.Error("Expected waiting-for-noon notification")
	}
}

func TestManager_RainStopsAfterSunsetWaitsForTomorrow(t *testing.T) {
	mockHA := ha.NewMockClient()
	activeMower(t, mockHA)
	mockHA.SimulateStateChange("sensor.rain_last_6h", "0.5")
	mockHA.SetState("sun.sun", "below_horizon", map[string]interface{}{"rising": false})
	mockHA.ClearServiceCalls()
	mockHA.ClearFiredEvents()

	mockHA.SimulateStateChange("sensor.rain_last_6h", "0")

	if _, ok := findCall(mockHA, "vacuum", "start"); ok {
		t.Error("Expected no restart after sunset")
	}
	if !hasMessage(mockHA, "waiting for tomorrow noon") {
		t.Error("Expected waiting-for-tomorrow notification")
	}
}

func TestManager_RainStopsAfternoonRestarts(t *testing.T) {
	mockHA := ha.NewMockClient()
	activeMower(t, mockHA)
	mockHA.SimulateStateChange("sensor.rain_last_6h", "0.5")
	mockHA.SetState("sun.sun", "above_horizon", map[string]interface{}{"rising": false})
	mockHA.ClearServiceCalls()
	mockHA.ClearFiredEvents()

	mockHA.SimulateStateChange("sensor.rain_last_6h", "0")

	call, ok := findCall(mockHA, "vacuum", "start")
	if !ok || call.Data["entity_id"] != "vacuum.nono" {
		t.Fatal("Expected vacuum/start to restart the mower")
	}
	if _, ok := findCall(mockHA, "input_boolean", "turn_off"); !ok {
		t.Error("Expected rain flag to be dropped")
	}
	if !hasMessage(mockHA, "Lawn should be dry now") {
		t.Error("Expected lawn-dry notification")
	}
}

func TestManager_SunPastZenithRestartsWhenDry(t *testing.T) {
	mockHA := ha.NewMockClient()
	activeMower(t, mockHA)
	mockHA.SimulateStateChange("sensor.rain_last_6h", "0.5")
	mockHA.SetState("sensor.rain_last_6h", "0", nil)
	mockHA.ClearServiceCalls()
	mockHA.ClearFiredEvents()

	// rising flips true -> false at solar noon
	mockHA.SetAttribute("sun.sun", "rising", false)

	if _, ok := findCall(mockHA, "vacuum", "start"); !ok {
		t.Error("Expected restart at solar noon after dry morning")
	}
}

func TestManager_SunPastZenithStaysParkedWhenWet(t *testing.T) {
	mockHA := ha.NewMockClient()
	activeMower(t, mockHA)
	mockHA.SimulateStateChange("sensor.rain_last_6h", "0.5")
	mockHA.ClearServiceCalls()
	mockHA.ClearFiredEvents()

	mockHA.SetAttribute("sun.sun", "rising", false)

	if _, ok := findCall(mockHA, "vacuum", "start"); ok {
		t.Error("Expected no restart while lawn is wet")
	}
	if !hasMessage(mockHA, "Staying parked") {
		t.Error("Expected staying-parked notification")
	}
}

func TestManager_NextStartSessionEndingSoonParks(t *testing.T) {
	mockHA := ha.NewMockClient()
	mockHA.SetState("calendar.nono", "on", map[string]interface{}{
		"end_time": "2025-06-01 19:00:00",
	})
	activeMower(t, mockHA)

	// 30 minutes before session end
	mockHA.SimulateStateChange("sensor.nono_next_start", "2025-06-01T18:30:00+00:00")

	call, ok := findCall(mockHA, "number", "set_value")
	if !ok || call.Data["value"] != float64(180) {
		t.Fatalf("Expected short park of 180 minutes, got %v", call.Data)
	}
	if !hasMessage(mockHA, "less than 1 hour") {
		t.Error("Expected end-of-session notification")
	}
}

func TestManager_NextStartAfterSessionEnd(t *testing.T) {
	mockHA := ha.NewMockClient()
	mockHA.SetState("calendar.nono", "on", map[string]interface{}{
		"end_time": "2025-06-01 19:00:00",
	})
	activeMower(t, mockHA)

	mockHA.SimulateStateChange("sensor.nono_next_start", "2025-06-01T20:00:00+00:00")

	if _, ok := findCall(mockHA, "number", "set_value"); ok {
		t.Error("Expected no park after session end")
	}
	if !hasMessage(mockHA, "Session completed") {
		t.Error("Expected session-completed notification")
	}
}

func TestManager_NextStartWithLongSessionIsInformational(t *testing.T) {
	mockHA := ha.NewMockClient()
	mockHA.SetState("calendar.nono", "on", map[string]interface{}{
		"end_time": "2025-06-01 19:00:00",
	})
	activeMower(t, mockHA)

	mockHA.SimulateStateChange("sensor.nono_next_start", "2025-06-01T12:00:00+00:00")

	if _, ok := findCall(mockHA, "number", "set_value"); ok {
		t.Error("Expected no park for a long remaining session")
	}
	if !hasMessage(mockHA, "Next start planned") {
		t.Error("Expected informational notification")
	}
}

func TestManager_NextStartUnknownWhileMowing(t *testing.T) {
	mockHA := ha.NewMockClient()
	activeMower(t, mockHA)

	mockHA.SimulateStateChange("sensor.nono_next_start", "unknown")

	if !hasMessage(mockHA, "currently mowing") {
		t.Error("Expected mowing-in-progress notification")
	}
}

func TestManager_NextStartIgnoredWhileRainParked(t *testing.T) {
	mockHA := ha.NewMockClient()
	activeMower(t, mockHA)
	mockHA.SimulateStateChange("sensor.rain_last_6h", "0.5")
	mockHA.ClearServiceCalls()
	mockHA.ClearFiredEvents()

	mockHA.SimulateStateChange("sensor.nono_next_start", "2025-06-01T18:30:00+00:00")

	if _, ok := findCall(mockHA, "number", "set_value"); ok {
		t.Error("Expected no session park while rain-parked")
	}
	if !hasMessage(mockHA, "Nothing to check") {
		t.Error("Expected nothing-to-check notification")
	}
}
