package notifier

import (
	"testing"

	"go.uber.org/zap"

	"homenotify/internal/ha"
)

func testRecipients() []Recipient {
	return []Recipient{
		{Name: "user1", NotifyService: "notify/user1_mobile", ProximityEntity: "proximity.user1_home"},
		{Name: "user2", NotifyService: "notify/user2_mobile", ProximityEntity: "proximity.user2_home"},
		{Name: "user3", NotifyService: "notify/user3_mobile", ProximityEntity: "proximity.user3_home"},
	}
}

func names(recipients []*Recipient) []string {
	out := make([]string, 0, len(recipients))
	for _, r := range recipients {
		out = append(out, r.Name)
	}
	return out
}

func TestDirectory_PresentAndAbsent(t *testing.T) {
	mockHA := ha.NewMockClient()
	mockHA.SetState("proximity.user1_home", "0", nil)
	mockHA.SetState("proximity.user2_home", "500", nil)
	mockHA.SetState("proximity.user3_home", "12000", nil)
	mockHA.Connect()

	directory := NewDirectory(testRecipients(), 500, zap.NewNop())

	present := names(directory.Present(mockHA))
	if len(present) != 2 || present[0] != "user1" || present[1] != "user2" {
		t.Errorf("Expected user1 and user2 present, got %v", present)
	}

	absent := names(directory.Absent(mockHA))
	if len(absent) != 1 || absent[0] != "user3" {
		t.Errorf("Expected user3 absent, got %v", absent)
	}
}

func TestDirectory_NearestTiesReturnedTogether(t *testing.T) {
	mockHA := ha.NewMockClient()
	mockHA.SetState("proximity.user1_home", "25", nil)
	mockHA.SetState("proximity.user2_home", "25", nil)
	mockHA.SetState("proximity.user3_home", "9000", nil)
	mockHA.Connect()

	directory := NewDirectory(testRecipients(), 500, zap.NewNop())

	nearest := names(directory.Nearest(mockHA))
	if len(nearest) != 2 || nearest[0] != "user1" || nearest[1] != "user2" {
		t.Errorf("Expected tied user1 and user2 nearest, got %v", nearest)
	}
}

func TestDirectory_UnreadableProximityExcluded(t *testing.T) {
	mockHA := ha.NewMockClient()
	mockHA.SetState("proximity.user1_home", "unknown", nil)
	// user2's sensor is missing entirely
	mockHA.SetState("proximity.user3_home", "100", nil)
	mockHA.Connect()

	directory := NewDirectory(testRecipients(), 500, zap.NewNop())

	present := names(directory.Present(mockHA))
	if len(present) != 1 || present[0] != "user3" {
		t.Errorf("Expected only user3 present, got %v", present)
	}

	nearest := names(directory.Nearest(mockHA))
	if len(nearest) != 1 || nearest[0] != "user3" {
		t.Errorf("Expected only user3 nearest, got %v", nearest)
	}
}

func TestDirectory_Lookup(t *testing.T) {
	directory := NewDirectory(testRecipients(), 500, zap.NewNop())

	recipient, ok := directory.Lookup("user2")
	if !ok || recipient.NotifyService != "notify/user2_mobile" {
		t.Errorf("Lookup(user2) = %+v, %v", recipient, ok)
	}

	if _, ok := directory.Lookup("nobody"); ok {
		t.Error("Expected lookup miss for unknown name")
	}
}
