package garagedoor

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"homenotify/internal/clock"
	"homenotify/internal/config"
	"homenotify/internal/ha"
	"homenotify/internal/notifier"
)

// Manager alerts on a garage door left open after dark. The automation only
// runs while the sun is below the horizon: a door already open at sunset
// alerts immediately, a door opened during the night alerts after a grace
// delay, and closing the door cancels the pending alert.
type Manager struct {
	client ha.HAClient
	cfg    config.GarageDoorConfig
	clock  clock.Clock
	logger *zap.Logger

	sunSub ha.Subscription

	mu           sync.Mutex
	doorSubs     []ha.Subscription
	pendingAlert clock.Timer
}

// NewManager creates a garage door manager.
func NewManager(client ha.HAClient, cfg config.GarageDoorConfig, clk clock.Clock, logger *zap.Logger) *Manager {
	return &Manager{
		client: client,
		cfg:    cfg,
		clock:  clk,
		logger: logger.Named("garagedoor"),
	}
}

// Start watches the sun and evaluates the current position immediately.
func (m *Manager) Start() error {
	m.logger.Info("Starting garage door manager")

	sub, err := m.client.SubscribeStateChanges(m.cfg.SunEntity,
		func(entityID string, oldState, newState *ha.State) {
			if newState == nil {
				return
			}
			m.applySun(newState.State)
		})
	if err != nil {
		return fmt.Errorf("failed to watch sun: %w", err)
	}
	m.sunSub = sub

	if state, err := m.client.GetState(m.cfg.SunEntity); err == nil {
		m.applySun(state.State)
	}

	return nil
}

// Stop removes all watchers and cancels any pending alert.
func (m *Manager) Stop() {
	if m.sunSub != nil {
		m.sunSub.Unsubscribe()
		m.sunSub = nil
	}
	m.deactivate()
	m.logger.Info("Garage door manager stopped")
}

func (m *Manager) applySun(sunState string) {
	switch sunState {
	case "below_horizon":
		m.activate()
	case "above_horizon":
		m.deactivate()
	}
}

// activate starts watching the door and alerts right away if it is already
// open at sunset. Re-activation while active is a no-op.
func (m *Manager) activate() {
	m.mu.Lock()
	if len(m.doorSubs) != 0 {
		m.mu.Unlock()
		return
	}

	sub, err := m.client.SubscribeStateChanges(m.cfg.DoorSensor, m.handleDoorChanged)
	if err != nil {
		m.logger.Error("Failed to watch garage door", zap.Error(err))
		m.mu.Unlock()
		return
	}
	m.doorSubs = append(m.doorSubs, sub)
	m.mu.Unlock()

	m.logger.Info("Garage door automation started")

	if state, err := m.client.GetState(m.cfg.DoorSensor); err == nil && state.State == "on" {
		m.logger.Info("Door is open during sunset, sending notification")
		m.sendAlert()
	}
}

// deactivate stops watching the door at sunrise.
func (m *Manager) deactivate() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.doorSubs) == 0 {
		return
	}
	for _, sub := range m.doorSubs {
		sub.Unsubscribe()
	}
	m.doorSubs = nil
	m.cancelPendingLocked()
	m.logger.Info("Garage door automation stopped")
}

func (m *Manager) handleDoorChanged(entityID string, oldState, newState *ha.State) {
	if newState == nil {
		return
	}

	switch newState.State {
	case "on":
		if oldState == nil || oldState.State == "on" || oldState.State == "unknown" {
			// Already open when the watcher came up
			m.logger.Info("Door is open during sunset, sending notification")
			m.sendAlert()
			return
		}
		m.logger.Info("Door opened after dark, scheduling delayed notification",
			zap.Duration("delay", m.cfg.Delay()))
		m.mu.Lock()
		m.cancelPendingLocked()
		m.pendingAlert = m.clock.AfterFunc(m.cfg.Delay(), func() {
			m.mu.Lock()
			m.pendingAlert = nil
			m.mu.Unlock()
			m.sendAlert()
		})
		m.mu.Unlock()
	case "off":
		m.mu.Lock()
		if m.pendingAlert != nil {
			m.logger.Info("Door closed, canceling delayed notification")
		}
		m.cancelPendingLocked()
		m.mu.Unlock()
	}
}

func (m *Manager) cancelPendingLocked() {
	if m.pendingAlert != nil {
		m.pendingAlert.Stop()
		m.pendingAlert = nil
	}
}

// sendAlert notifies everyone home that the door is open. The notification
// clears itself when the door closes or the sun comes back up.
func (m *Manager) sendAlert() {
	err := m.client.FireEvent(notifier.EventNotifier, map[string]interface{}{
		"action":  notifier.ActionSendToPresent,
		"title":   m.cfg.NotificationTitle,
		"message": m.cfg.NotificationMessage,
		"icon":    "mdi-garage-open",
		"color":   "deep-orange",
		"tag":     "garage_open",
		"until": []interface{}{
			map[string]interface{}{"entity_id": m.cfg.DoorSensor, "new_state": "off"},
			map[string]interface{}{"entity_id": m.cfg.SunEntity, "new_state": "above_horizon"},
		},
	})
	if err != nil {
		m.logger.Error("Failed to fire notification event", zap.Error(err))
	}
}
