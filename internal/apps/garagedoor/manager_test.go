package garagedoor

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"homenotify/internal/clock"
	"homenotify/internal/config"
	"homenotify/internal/ha"
)

func testConfig() config.GarageDoorConfig {
	return config.GarageDoorConfig{
		Enabled:             true,
		SunEntity:           "sun.sun",
		DoorSensor:          "binary_sensor.garage_door",
		NotificationDelay:   600,
		NotificationTitle:   "Garage",
		NotificationMessage: "The garage door is open",
	}
}

func newTestManager(t *testing.T, mockHA *ha.MockClient, mockClock *clock.MockClock) *Manager {
	t.Helper()
	manager := NewManager(mockHA, testConfig(), mockClock, zap.NewNop())
	if err := manager.Start(); err != nil {
		t.Fatalf("Failed to start garage door manager: %v", err)
	}
	return manager
}

func alertEvents(mockHA *ha.MockClient) []ha.FiredEvent {
	var alerts []ha.FiredEvent
	for _, event := range mockHA.GetFiredEvents() {
		if event.EventType == "NOTIFIER" && event.Data["tag"] == "garage_open" {
			alerts = append(alerts, event)
		}
	}
	return alerts
}

func TestManager_DoorOpenAtSunsetAlertsImmediately(t *testing.T) {
	mockHA := ha.NewMockClient()
	mockHA.SetState("sun.sun", "above_horizon", nil)
	mockHA.SetState("binary_sensor.garage_door", "on", nil)
	mockHA.Connect()
	mockClock := clock.NewMockClock(time.Now())
	newTestManager(t, mockHA, mockClock)

	if len(alertEvents(mockHA)) != 0 {
		t.Fatal("Expected no alert while sun is up")
	}

	mockHA.SimulateStateChange("sun.sun", "below_horizon")

	alerts := alertEvents(mockHA)
	if len(alerts) != 1 {
		t.Fatalf("Expected one immediate alert, got %d", len(alerts))
	}
	if alerts[0].Data["action"] != "send_to_present" {
		t.Errorf("Expected send_to_present action, got %v", alerts[0].Data["action"])
	}
	until, ok := alerts[0].Data["until"].([]interface{})
	if !ok || len(until) != 2 {
		t.Errorf("Expected two clear conditions, got %v", alerts[0].Data["until"])
	}
}

func TestManager_DoorOpenedAtNightAlertsAfterDelay(t *testing.T) {
	mockHA := ha.NewMockClient()
	mockHA.SetState("sun.sun", "below_horizon", nil)
	mockHA.SetState("binary_sensor.garage_door", "off", nil)
	mockHA.Connect()
	mockClock := clock.NewMockClock(time.Now())
	newTestManager(t, mockHA, mockClock)

	mockHA.SimulateStateChange("binary_sensor.garage_door", "on")

	if len(alertEvents(mockHA)) != 0 {
		t.Fatal("Expected no alert before the delay elapses")
	}

	mockClock.Advance(9 * time.Minute)
	if len(alertEvents(mockHA)) != 0 {
		t.Fatal("Expected no alert one minute early")
	}

	mockClock.Advance(1 * time.Minute)
	if len(alertEvents(mockHA)) != 1 {
		t.Errorf("Expected one alert after the delay, got %d", len(alertEvents(mockHA)))
	}
}

func TestManager_ClosingDoorCancelsPendingAlert(t *testing.T) {
	mockHA := ha.NewMockClient()
	mockHA.SetState("sun.sun", "below_horizon", nil)
	mockHA.SetState("binary_sensor.garage_door", "off", nil)
	mockHA.Connect()
	mockClock := clock.NewMockClock(time.Now())
	newTestManager(t, mockHA, mockClock)

	mockHA.SimulateStateChange("binary_sensor.garage_door", "on")
	mockHA.SimulateStateChange("binary_sensor.garage_door", "off")

	mockClock.Advance(20 * time.Minute)
	if len(alertEvents(mockHA)) != 0 {
		t.Errorf("Expected canceled alert, got %d", len(alertEvents(mockHA)))
	}

	// Closing again with nothing pending is harmless
	mockHA.SimulateStateChange("binary_sensor.garage_door", "on")
	mockHA.SimulateStateChange("binary_sensor.garage_door", "off")
	mockHA.SimulateStateChange("binary_sensor.garage_door", "off")
}

func TestManager_SunriseStopsAutomation(t *testing.T) {
	mockHA := ha.NewMockClient()
	mockHA.SetState("sun.sun", "below_horizon", nil)
	mockHA.SetState("binary_sensor.garage_door", "off", nil)
	mockHA.Connect()
	mockClock := clock.NewMockClock(time.Now())
	newTestManager(t, mockHA, mockClock)

	// Door opens at night, then the sun comes up before the delay elapses
	mockHA.SimulateStateChange("binary_sensor.garage_door", "on")
	mockHA.SimulateStateChange("sun.sun", "above_horizon")

	mockClock.Advance(20 * time.Minute)
	if len(alertEvents(mockHA)) != 0 {
		t.Fatal("Expected pending alert to be canceled at sunrise")
	}

	// Door activity during the day is ignored entirely
	mockHA.SimulateStateChange("binary_sensor.garage_door", "off")
	mockHA.SimulateStateChange("binary_sensor.garage_door", "on")
	mockClock.Advance(20 * time.Minute)
	if len(alertEvents(mockHA)) != 0 {
		t.Errorf("Expected no alerts during the day, got %d", len(alertEvents(mockHA)))
	}
}

func TestManager_NightDoorAlreadyOpenOnStartup(t *testing.T) {
	mockHA := ha.NewMockClient()
	mockHA.SetState("sun.sun", "below_horizon", nil)
	mockHA.SetState("binary_sensor.garage_door", "on", nil)
	mockHA.Connect()
	mockClock := clock.NewMockClock(time.Now())
	newTestManager(t, mockHA, mockClock)

	if len(alertEvents(mockHA)) != 1 {
		t.Errorf("Expected immediate alert for door open at startup, got %d", len(alertEvents(mockHA)))
	}
}
