package automower

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"homenotify/internal/config"
	"homenotify/internal/ha"
	"homenotify/internal/notifier"
)

// Park duration in minutes used when rain starts. Long enough that only an
// explicit restart resumes mowing.
const rainParkMinutes = 60480

// Park duration in minutes used when the mowing session ends within the hour.
const shortParkMinutes = 180

const notificationTitle = "Automower"

// Manager supervises the robot mower: it parks the mower when rain starts,
// restarts it once the lawn has had time to dry, and keeps it docked when
// the remaining mowing session is too short to be worth a trip.
//
// The whole automation is gated on the mower's problem sensor so a manual
// "park until further notice" is never overridden.
type Manager struct {
	client   ha.HAClient
	cfg      config.AutomowerConfig
	location *time.Location
	logger   *zap.Logger

	parkMaxDuration float64

	mu      sync.Mutex
	gateSub ha.Subscription
	subs    []ha.Subscription
}

// NewManager creates an automower manager. location is the hub's local
// timezone, used to interpret calendar session times.
func NewManager(client ha.HAClient, cfg config.AutomowerConfig, location *time.Location, logger *zap.Logger) *Manager {
	if location == nil {
		location = time.Local
	}
	return &Manager{
		client:   client,
		cfg:      cfg,
		location: location,
		logger:   logger.Named("automower"),
	}
}

// Start reads the maximum park duration and begins watching the activation
// gate. The gate is evaluated immediately against the current sensor value.
func (m *Manager) Start() error {
	m.logger.Info("Starting automower manager")

	m.parkMaxDuration = rainParkMinutes
	if state, err := m.client.GetState(m.cfg.ParkForEntity); err == nil {
		if max, ok := state.AttrFloat("max"); ok {
			m.parkMaxDuration = max
		}
	}
	m.logger.Info("Park max duration", zap.Float64("minutes", m.parkMaxDuration))

	sub, err := m.client.SubscribeStateChanges(m.cfg.ProblemSensor,
		func(entityID string, oldState, newState *ha.State) {
			if newState == nil {
				return
			}
			m.applyGate(newState.State)
		})
	if err != nil {
		return fmt.Errorf("failed to watch problem sensor: %w", err)
	}
	m.gateSub = sub

	if state, err := m.client.GetState(m.cfg.ProblemSensor); err == nil {
		m.applyGate(state.State)
	}

	return nil
}

// Stop removes the gate watcher and any active domain watchers.
func (m *Manager) Stop() {
	if m.gateSub != nil {
		m.gateSub.Unsubscribe()
		m.gateSub = nil
	}
	m.deactivate()
	m.logger.Info("Automower manager stopped")
}

// applyGate activates or deactivates the rain and session watchers based on
// the problem sensor. Values other than the three recognized ones mean the
// robot is mowing or in error and change nothing.
func (m *Manager) applyGate(value string) {
	switch value {
	case "parked_until_further_notice":
		if !m.deactivate() {
			return
		}
		m.logger.Info("Automation deactivated", zap.String("reason", value))
		m.notify(m.cfg.MessageDeactivate)
	case "week_schedule", "charging":
		if !m.activate() {
			return
		}
		m.logger.Info("Automation activated", zap.String("reason", value))
		m.notify(m.cfg.MessageActivated)
	}
}

// activate registers the domain watchers. Calling it while already active
// is a no-op so repeated charging states do not stack subscriptions.
func (m *Manager) activate() bool {
	m.mu.Lock()

	if len(m.subs) != 0 {
		m.mu.Unlock()
		return false
	}

	rainSub, err := m.client.SubscribeStateChanges(m.cfg.RainSensor, m.handleRainChanged)
	if err != nil {
		m.logger.Error("Failed to watch rain sensor", zap.Error(err))
		m.mu.Unlock()
		return false
	}
	m.subs = append(m.subs, rainSub)

	sunSub, err := m.client.SubscribeStateChanges(m.cfg.SunEntity, m.handleSunChanged)
	if err != nil {
		m.logger.Error("Failed to watch sun", zap.Error(err))
	} else {
		m.subs = append(m.subs, sunSub)
	}

	startSub, err := m.client.SubscribeStateChanges(m.cfg.NextStartSensor, m.handleNextStartChanged)
	if err != nil {
		m.logger.Error("Failed to watch next start sensor", zap.Error(err))
	} else {
		m.subs = append(m.subs, startSub)
	}
	m.mu.Unlock()

	// The next-start check also runs against the current value
	if state, err := m.client.GetState(m.cfg.NextStartSensor); err == nil {
		m.checkNextStart(state.State)
	}

	return true
}

// deactivate removes the domain watchers, reporting whether any were active.
func (m *Manager) deactivate() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.subs) == 0 {
		return false
	}
	for _, sub := range m.subs {
		sub.Unsubscribe()
	}
	m.subs = nil
	return true
}

// handleRainChanged reacts to the 6-hour rain accumulation sensor.
func (m *Manager) handleRainChanged(entityID string, oldState, newState *ha.State) {
	m.logger.Info("Rain event triggered")

	oldValue := 0.0
	if oldState != nil {
		if v, err := oldState.Float(); err == nil {
			oldValue = v
		}
	}

	if newState == nil {
		return
	}
	newValue, err := newState.Float()
	if err != nil {
		// Sensor went unavailable, nothing to decide on
		return
	}

	switch {
	case oldValue == 0 && newValue > 0:
		m.setRainFlag(true)
		m.forcePark(m.cfg.MessageRainPark, m.parkMaxDuration)
	case newValue == 0:
		if sun, err := m.client.GetState(m.cfg.SunEntity); err == nil {
			if sun.AttrBool("rising") {
				m.notify("No rain during last 6h, waiting for noon to restart.")
				return
			}
			if sun.State == "below_horizon" {
				m.notify("No rain during last 6h, sun is below horizon, waiting for tomorrow noon to restart.")
				return
			}
		}
		m.restartAfterRain()
	default:
		m.logger.Info("Rain occurred during last 6h, lawn should not be dry yet")
	}
}

// handleSunChanged restarts the mower at solar noon if the lawn had time to
// dry. It only acts on the rising attribute flipping from true to false.
func (m *Manager) handleSunChanged(entityID string, oldState, newState *ha.State) {
	if oldState == nil || newState == nil {
		return
	}
	if !oldState.AttrBool("rising") || newState.AttrBool("rising") {
		return
	}

	m.logger.Info("Sun past zenith")
	if !m.rainFlag() {
		m.logger.Info("Not parked because of rain, nothing to do")
		return
	}

	if m.rainValue() == 0 {
		m.restartAfterRain()
	} else {
		m.notify("Lawn shouldn't be dry yet. Staying parked.")
	}
}

// handleNextStartChanged re-evaluates the mowing session whenever the
// mower reports a new next-start time.
func (m *Manager) handleNextStartChanged(entityID string, oldState, newState *ha.State) {
	if newState == nil {
		return
	}
	m.checkNextStart(newState.State)
}

// checkNextStart compares the next scheduled start against the end of the
// mowing session and parks the mower when the remainder is under an hour.
func (m *Manager) checkNextStart(nextStart string) {
	m.logger.Info("Next start event triggered", zap.String("next_start", nextStart))

	if m.rainFlag() {
		m.notify("Robot is parked because of rain. Nothing to check.")
		return
	}

	if nextStart == "unknown" {
		m.notify("Robot is currently mowing, let it come back to base before checking.")
		return
	}

	calendar, err := m.client.GetState(m.cfg.SessionCalendar)
	if err != nil {
		m.logger.Error("Failed to read session calendar", zap.Error(err))
		return
	}
	sessionEnd, err := time.ParseInLocation("2006-01-02 15:04:05", calendar.AttrString("end_time"), m.location)
	if err != nil {
		m.logger.Error("Failed to parse session end time",
			zap.String("end_time", calendar.AttrString("end_time")),
			zap.Error(err))
		return
	}

	startUTC, err := time.Parse("2006-01-02T15:04:05Z07:00", nextStart)
	if err != nil {
		m.logger.Error("Failed to parse next start time",
			zap.String("next_start", nextStart),
			zap.Error(err))
		return
	}
	startLocal := startUTC.In(m.location)

	delta := sessionEnd.Sub(startUTC).Hours()
	m.logger.Info("Hours between next start and session end", zap.Float64("hours", delta))

	switch {
	case delta < 0:
		m.notify(fmt.Sprintf("Session completed. Lets restart tomorrow at %s", startLocal))
	case delta < 1:
		m.forcePark(m.cfg.MessageSessionEnd, shortParkMinutes)
	default:
		m.notify(fmt.Sprintf("Next start planned at %s", startLocal))
	}
}

// forcePark docks the mower for the given number of minutes.
func (m *Manager) forcePark(message string, minutes float64) {
	m.logger.Info("Forcing park", zap.Float64("minutes", minutes))
	if err := m.client.CallService("number", "set_value", map[string]interface{}{
		"entity_id": m.cfg.ParkForEntity,
		"value":     minutes,
	}); err != nil {
		m.logger.Error("Failed to park mower", zap.Error(err))
		return
	}
	m.notify(message)
}

// restartAfterRain resumes mowing and drops the rain flag.
func (m *Manager) restartAfterRain() {
	m.logger.Info("Restarting after rain")
	if err := m.client.CallService("vacuum", "start", map[string]interface{}{
		"entity_id": m.cfg.MowerEntity,
	}); err != nil {
		m.logger.Error("Failed to restart mower", zap.Error(err))
		return
	}
	m.setRainFlag(false)
	m.notify(m.cfg.MessageLawnDry)
}

// rainFlag reads whether the mower is parked because of rain.
func (m *Manager) rainFlag() bool {
	state, err := m.client.GetState(m.cfg.RainFlagEntity)
	return err == nil && state.State == "on"
}

// rainValue reads the current 6-hour rain accumulation; unreadable counts
// as still wet so the mower stays parked.
func (m *Manager) rainValue() float64 {
	state, err := m.client.GetState(m.cfg.RainSensor)
	if err != nil {
		return 1
	}
	value, err := state.Float()
	if err != nil {
		return 1
	}
	return value
}

func (m *Manager) setRainFlag(value bool) {
	if err := m.client.SetInputBoolean(m.cfg.RainFlagEntity, value); err != nil {
		m.logger.Error("Failed to set rain flag", zap.Error(err))
	}
}

// notify routes a status message to everyone through the notification bus.
func (m *Manager) notify(message string) {
	if message == "" {
		return
	}
	if err := m.client.FireEvent(notifier.EventNotifier, map[string]interface{}{
		"action":  notifier.ActionSendToAll,
		"title":   notificationTitle,
		"message": message,
	}); err != nil {
		m.logger.Error("Failed to fire notification event", zap.Error(err))
	}
}
