package shoppinglist

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"homenotify/internal/clock"
	"homenotify/internal/config"
	"homenotify/internal/ha"
	"homenotify/internal/notifier"
)

// notificationTag groups shop notifications so entering the next shop
// replaces the previous one and leaving a shop discards it.
const notificationTag = "shoppinglist"

// guardRelease is how long the update guard stays up after a list swap,
// long enough for the burst of shopping_list_updated events caused by our
// own service calls to drain.
const guardRelease = time.Second

// listItem is one entry of the hub's shopping list file.
type listItem struct {
	Name     string `json:"name"`
	ID       string `json:"id,omitempty"`
	Complete bool   `json:"complete"`
}

// Manager keeps one shopping list per shop. The hub has a single live list;
// the manager swaps its content from per-shop backup files when the active
// shop changes, mirrors live edits back to the backup, and notifies a person
// entering a shop zone when that shop's list still has open items.
type Manager struct {
	client ha.HAClient
	cfg    config.ShoppingListConfig
	clock  clock.Clock
	logger *zap.Logger

	subs []ha.Subscription

	mu       sync.Mutex
	updating bool
}

// NewManager creates a shopping list manager.
func NewManager(client ha.HAClient, cfg config.ShoppingListConfig, clk clock.Clock, logger *zap.Logger) *Manager {
	return &Manager{
		client: client,
		cfg:    cfg,
		clock:  clk,
		logger: logger.Named("shoppinglist"),
	}
}

// Start watches the active-shop selector, live list edits and each
// configured person's zone.
func (m *Manager) Start() error {
	m.logger.Info("Starting shopping list manager")

	sub, err := m.client.SubscribeStateChanges(m.cfg.ShopsEntity, m.handleActiveShopChanged)
	if err != nil {
		return fmt.Errorf("failed to watch shop selector: %w", err)
	}
	m.subs = append(m.subs, sub)

	sub, err = m.client.SubscribeEvents("shopping_list_updated", m.handleListUpdated)
	if err != nil {
		return fmt.Errorf("failed to watch shopping list updates: %w", err)
	}
	m.subs = append(m.subs, sub)

	for _, person := range m.cfg.Persons {
		person := person
		sub, err = m.client.SubscribeStateChanges(person.TrackerEntity,
			func(entityID string, oldState, newState *ha.State) {
				m.handleZoneChanged(person.Name, oldState, newState)
			})
		if err != nil {
			return fmt.Errorf("failed to watch zone for %s: %w", person.Name, err)
		}
		m.subs = append(m.subs, sub)
	}

	return nil
}

// Stop removes all watchers.
func (m *Manager) Stop() {
	for _, sub := range m.subs {
		sub.Unsubscribe()
	}
	m.subs = nil
	m.logger.Info("Shopping list manager stopped")
}

func (m *Manager) backupPath(shop string) string {
	return filepath.Join(m.cfg.ListDir, fmt.Sprintf(".shopping_list_%s.json", shop))
}

func (m *Manager) livePath() string {
	return filepath.Join(m.cfg.ListDir, ".shopping_list.json")
}

// activateShop replaces the live list with the shop's backup. It reports
// whether the backup still holds incomplete items. While the swap runs, and
// for a short tail afterwards, live-edit mirroring is suppressed so the
// swap's own service calls do not overwrite the backup.
func (m *Manager) activateShop(shop string) (bool, error) {
	m.mu.Lock()
	if m.updating {
		m.mu.Unlock()
		return false, nil
	}
	m.updating = true
	m.mu.Unlock()

	m.logger.Info("Active shop changed", zap.String("shop", shop))

	if err := m.client.CallService("shopping_list", "complete_all", nil); err != nil {
		m.releaseGuardLater()
		return false, fmt.Errorf("failed to complete current list: %w", err)
	}
	if err := m.client.CallService("shopping_list", "clear_completed_items", nil); err != nil {
		m.releaseGuardLater()
		return false, fmt.Errorf("failed to clear current list: %w", err)
	}

	data, err := os.ReadFile(m.backupPath(shop))
	if err != nil {
		m.releaseGuardLater()
		return false, fmt.Errorf("failed to read list for %s: %w", shop, err)
	}
	var items []listItem
	if err := json.Unmarshal(data, &items); err != nil {
		m.releaseGuardLater()
		return false, fmt.Errorf("failed to parse list for %s: %w", shop, err)
	}

	for _, item := range items {
		if err := m.client.CallService("shopping_list", "add_item", map[string]interface{}{
			"name": item.Name,
		}); err != nil {
			m.logger.Error("Failed to add item", zap.String("item", item.Name), zap.Error(err))
		}
	}

	// Completion flags are set in a second pass after a pause; setting them
	// while the hub is still inserting items loses some of them.
	m.clock.Sleep(m.cfg.Tempo())

	hasIncomplete := false
	for _, item := range items {
		if !item.Complete {
			hasIncomplete = true
			continue
		}
		if err := m.client.CallService("shopping_list", "complete_item", map[string]interface{}{
			"name": item.Name,
		}); err != nil {
			m.logger.Error("Failed to complete item", zap.String("item", item.Name), zap.Error(err))
		}
	}

	m.releaseGuardLater()
	return hasIncomplete, nil
}

func (m *Manager) releaseGuardLater() {
	m.clock.AfterFunc(guardRelease, func() {
		m.mu.Lock()
		m.updating = false
		m.mu.Unlock()
		m.logger.Info("Shopping list updated")
	})
}

func (m *Manager) handleActiveShopChanged(entityID string, oldState, newState *ha.State) {
	if newState == nil || newState.State == "" {
		return
	}
	if _, err := m.activateShop(newState.State); err != nil {
		m.logger.Error("Failed to activate shop", zap.String("shop", newState.State), zap.Error(err))
	}
}

// handleListUpdated mirrors live list edits to the active shop's backup.
func (m *Manager) handleListUpdated(eventType string, data map[string]interface{}) {
	m.mu.Lock()
	updating := m.updating
	m.mu.Unlock()
	if updating {
		return
	}

	shopState, err := m.client.GetState(m.cfg.ShopsEntity)
	if err != nil {
		m.logger.Error("Failed to read active shop", zap.Error(err))
		return
	}
	shop := shopState.State

	content, err := os.ReadFile(m.livePath())
	if err != nil {
		m.logger.Error("Failed to read live shopping list", zap.Error(err))
		return
	}
	if err := os.WriteFile(m.backupPath(shop), content, 0o644); err != nil {
		m.logger.Error("Failed to write shop backup",
			zap.String("shop", shop), zap.Error(err))
		return
	}
	m.logger.Info("Shopping list saved", zap.String("shop", shop))
}

// handleZoneChanged reacts to a person moving between zones. Leaving a shop
// zone discards the shop notification; entering one selects the matching
// shop and notifies the person if the list has open items.
func (m *Manager) handleZoneChanged(personName string, oldState, newState *ha.State) {
	if newState == nil {
		return
	}
	m.logger.Info("Zone changed",
		zap.String("person", personName),
		zap.String("zone", newState.State))

	if oldState != nil && m.zoneName(oldState.State) != "" {
		m.logger.Info("Leaving zone", zap.String("zone", m.zoneName(oldState.State)))
		if err := m.client.FireEvent(notifier.EventDiscard, map[string]interface{}{
			"tag": notificationTag,
		}); err != nil {
			m.logger.Error("Failed to discard notification", zap.Error(err))
		}
	}

	zone := m.zoneName(newState.State)
	if zone == "" {
		return
	}
	m.logger.Info("Entering zone", zap.String("zone", zone))

	shops, err := m.client.GetState(m.cfg.ShopsEntity)
	if err != nil {
		m.logger.Error("Failed to read shop options", zap.Error(err))
		return
	}

	for _, shop := range shops.AttrStrings("options") {
		if !strings.HasPrefix(zone, shop) {
			continue
		}

		hasIncomplete, err := m.activateShop(shop)
		if err != nil {
			m.logger.Error("Failed to load shopping list",
				zap.String("shop", shop), zap.Error(err))
			return
		}

		if err := m.client.SetInputSelect(m.cfg.ShopsEntity, shop); err != nil {
			m.logger.Error("Failed to select shop", zap.String("shop", shop), zap.Error(err))
		}

		if hasIncomplete {
			m.notifyPerson(personName, zone)
		}
		return
	}
}

// zoneName resolves a tracker state to the zone's display name, or "" when
// the state does not correspond to a known zone.
func (m *Manager) zoneName(state string) string {
	if state == "" || state == "not_home" || state == "unknown" {
		return ""
	}
	zone, err := m.client.GetState("zone." + state)
	if err != nil {
		return ""
	}
	if name := zone.AttrString("friendly_name"); name != "" {
		return name
	}
	return state
}

func (m *Manager) notifyPerson(personName, zone string) {
	m.logger.Info("Sending shopping list notification",
		zap.String("person", personName))
	if err := m.client.FireEvent(notifier.EventNotifier, map[string]interface{}{
		"action":    "send_to_" + personName,
		"title":     fmt.Sprintf("%s: %s", zone, m.cfg.NotificationTitle),
		"message":   m.cfg.NotificationMessage,
		"icon":      "mdi-cart",
		"color":     "deep-orange",
		"tag":       notificationTag,
		"click_url": m.cfg.NotificationURL,
	}); err != nil {
		m.logger.Error("Failed to fire notification event", zap.Error(err))
	}
}
