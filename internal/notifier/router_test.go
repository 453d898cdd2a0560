package notifier

import (
	"strconv"
	"testing"
	"time"

	"go.uber.org/zap"

	"homenotify/internal/clock"
	"homenotify/internal/ha"
)

func newTestRouter(t *testing.T, mockHA *ha.MockClient) (*Router, *Tracker) {
	t.Helper()
	logger := zap.NewNop()
	directory := NewDirectory(testRecipients(), 500, logger)
	tracker := NewTracker(mockHA, logger)
	mockClock := clock.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return NewRouter(mockHA, directory, tracker, mockClock, logger), tracker
}

func notifyCalls(mockHA *ha.MockClient) []ha.ServiceCall {
	var calls []ha.ServiceCall
	for _, call := range mockHA.GetServiceCalls() {
		if call.Domain == "notify" {
			calls = append(calls, call)
		}
	}
	return calls
}

func TestRouter_SendToAll(t *testing.T) {
	mockHA := ha.NewMockClient()
	mockHA.Connect()
	router, _ := newTestRouter(t, mockHA)

	req := &Request{Action: ActionSendToAll, Title: "Hello", Message: "Everyone"}
	if err := router.Route(req); err != nil {
		t.Fatalf("Route failed: %v", err)
	}

	calls := notifyCalls(mockHA)
	if len(calls) != 3 {
		t.Fatalf("Expected 3 notify calls, got %d", len(calls))
	}
	if calls[0].Service != "user1_mobile" {
		t.Errorf("Expected first call to user1_mobile, got %s", calls[0].Service)
	}
	if calls[0].Data["title"] != "Hello" || calls[0].Data["message"] != "Everyone" {
		t.Errorf("Unexpected payload: %v", calls[0].Data)
	}
	if _, ok := calls[0].Data["data"]; ok {
		t.Error("Expected no data block for a bare request")
	}
}

func TestRouter_SendToNamedRecipient(t *testing.T) {
	mockHA := ha.NewMockClient()
	mockHA.Connect()
	router, _ := newTestRouter(t, mockHA)

	req := &Request{Action: "send_to_user2", Title: "Direct", Message: "Just you"}
	if err := router.Route(req); err != nil {
		t.Fatalf("Route failed: %v", err)
	}

	calls := notifyCalls(mockHA)
	if len(calls) != 1 || calls[0].Service != "user2_mobile" {
		t.Fatalf("Expected one call to user2_mobile, got %v", calls)
	}
}

func TestRouter_UnknownRecipientDropped(t *testing.T) {
	mockHA := ha.NewMockClient()
	mockHA.Connect()
	router, _ := newTestRouter(t, mockHA)

	req := &Request{Action: "send_to_stranger", Title: "Lost"}
	if err := router.Route(req); err != nil {
		t.Fatalf("Expected unknown recipient to be dropped without error, got %v", err)
	}

	if calls := notifyCalls(mockHA); len(calls) != 0 {
		t.Errorf("Expected no notify calls, got %v", calls)
	}
}

func TestRouter_SendToPresent(t *testing.T) {
	mockHA := ha.NewMockClient()
	mockHA.SetState("proximity.user1_home", "0", nil)
	mockHA.SetState("proximity.user2_home", "8000", nil)
	mockHA.SetState("proximity.user3_home", "8000", nil)
	mockHA.Connect()
	router, _ := newTestRouter(t, mockHA)

	req := &Request{Action: ActionSendToPresent, Title: "Home only"}
	if err := router.Route(req); err != nil {
		t.Fatalf("Route failed: %v", err)
	}

	calls := notifyCalls(mockHA)
	if len(calls) != 1 || calls[0].Service != "user1_mobile" {
		t.Fatalf("Expected one call to user1_mobile, got %v", calls)
	}
}

func TestRouter_SendWhenPresentStagesWhenNobodyHome(t *testing.T) {
	mockHA := ha.NewMockClient()
	mockHA.SetState("proximity.user1_home", "8000", nil)
	mockHA.SetState("proximity.user2_home", "8000", nil)
	mockHA.SetState("proximity.user3_home", "8000", nil)
	mockHA.Connect()
	router, tracker := newTestRouter(t, mockHA)

	req := &Request{Action: ActionSendWhenPresent, Title: "Later"}
	if err := router.Route(req); err != nil {
		t.Fatalf("Route failed: %v", err)
	}

	if calls := notifyCalls(mockHA); len(calls) != 0 {
		t.Errorf("Expected no immediate delivery, got %v", calls)
	}
	if tracker.StagedCount() != 1 {
		t.Errorf("Expected 1 staged request, got %d", tracker.StagedCount())
	}
}

func TestRouter_SendWhenPresentDeliversImmediatelyWhenSomeoneHome(t *testing.T) {
	mockHA := ha.NewMockClient()
	mockHA.SetState("proximity.user1_home", "0", nil)
	mockHA.SetState("proximity.user2_home", "8000", nil)
	mockHA.SetState("proximity.user3_home", "8000", nil)
	mockHA.Connect()
	router, tracker := newTestRouter(t, mockHA)

	req := &Request{Action: ActionSendWhenPresent, Title: "Now"}
	if err := router.Route(req); err != nil {
		t.Fatalf("Route failed: %v", err)
	}

	if calls := notifyCalls(mockHA); len(calls) != 1 {
		t.Errorf("Expected immediate delivery, got %v", calls)
	}
	if tracker.StagedCount() != 0 {
		t.Errorf("Expected nothing staged, got %d", tracker.StagedCount())
	}
}

func TestRouter_TagWithoutConditionsIsTracked(t *testing.T) {
	mockHA := ha.NewMockClient()
	mockHA.Connect()
	router, tracker := newTestRouter(t, mockHA)

	req := &Request{
		Action:  ActionSendToAll,
		Title:   "Shopping",
		Message: "List is ready",
		Tag:     "shoppinglist",
	}
	if err := router.Route(req); err != nil {
		t.Fatalf("Route failed: %v", err)
	}

	if _, ok := tracker.OutstandingTags()["shoppinglist"]; !ok {
		t.Fatal("Expected tagged request to be tracked without watch conditions")
	}

	mockHA.ClearServiceCalls()
	tracker.Clear("shoppinglist")
	if calls := notifyCalls(mockHA); len(calls) != 3 {
		t.Errorf("Expected clears for all 3 recipients, got %d", len(calls))
	}
}

func TestRouter_PersistentUsesTagAsID(t *testing.T) {
	mockHA := ha.NewMockClient()
	mockHA.Connect()
	router, _ := newTestRouter(t, mockHA)

	req := &Request{Action: ActionSendToAll, Title: "Keep", Persistent: true, Tag: "mower"}
	if err := router.Route(req); err != nil {
		t.Fatalf("Route failed: %v", err)
	}

	found := false
	for _, call := range mockHA.GetServiceCalls() {
		if call.Domain == "persistent_notification" && call.Service == "create" {
			found = true
			if call.Data["notification_id"] != "mower" {
				t.Errorf("Expected notification_id mower, got %v", call.Data["notification_id"])
			}
		}
	}
	if !found {
		t.Error("Expected a persistent_notification/create call")
	}
}

func TestRouter_PersistentWithoutTagUsesTimestamp(t *testing.T) {
	mockHA := ha.NewMockClient()
	mockHA.Connect()
	router, _ := newTestRouter(t, mockHA)

	req := &Request{Action: ActionSendToAll, Title: "Keep", Persistent: true}
	if err := router.Route(req); err != nil {
		t.Fatalf("Route failed: %v", err)
	}

	want := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).Unix()
	for _, call := range mockHA.GetServiceCalls() {
		if call.Domain == "persistent_notification" && call.Service == "create" {
			id, _ := call.Data["notification_id"].(string)
			if id != strconv.FormatInt(want, 10) {
				t.Errorf("Expected timestamp id %d, got %q", want, id)
			}
			return
		}
	}
	t.Error("Expected a persistent_notification/create call")
}

func TestSplitService(t *testing.T) {
	domain, service, err := splitService("notify/user1_mobile")
	if err != nil || domain != "notify" || service != "user1_mobile" {
		t.Errorf("splitService = %q, %q, %v", domain, service, err)
	}

	if _, _, err := splitService("not_a_service"); err == nil {
		t.Error("Expected error for service without domain separator")
	}
}
