// Package testutil provides testing utilities for the notification and
// automation controllers. This file provides a TestEnv for integration tests
// that drive the real WebSocket client against the mock server.
package testutil

import (
	"fmt"

	"homenotify/internal/clock"
	"homenotify/internal/config"
	"homenotify/internal/ha"
	"homenotify/internal/notifier"

	"go.uber.org/zap"
)

// TestEnv provides a complete test environment: a mock hub server with a
// real connected WebSocket client, plus helpers to stand up the notifier
// stack on top of it.
type TestEnv struct {
	Server *MockHAServer
	Client *ha.Client
	Clock  clock.Clock
	Logger *zap.Logger

	engine *notifier.Engine
}

// NewTestEnv creates a fully configured test environment with a mock HA
// server and a connected client.
//
// Example usage:
//
//	env, err := testutil.NewTestEnv("localhost:8123", "test_token")
//	if err != nil {
//	    t.Fatal(err)
//	}
//	defer env.Cleanup()
func NewTestEnv(addr, token string) (*TestEnv, error) {
	logger, _ := zap.NewDevelopment()

	server := NewMockHAServer(addr, token)
	if err := server.Start(); err != nil {
		return nil, fmt.Errorf("failed to start mock server: %w", err)
	}

	client := ha.NewClient(fmt.Sprintf("ws://%s/api/websocket", addr), token, logger)
	if err := client.Connect(); err != nil {
		server.Stop()
		return nil, fmt.Errorf("failed to connect client: %w", err)
	}

	return &TestEnv{
		Server: server,
		Client: client,
		Clock:  clock.NewRealClock(),
		Logger: logger,
	}, nil
}

// StartNotifier builds and starts the full notification stack (directory,
// tracker, router, engine) over the environment's client. Controllers under
// test fire notification events through the same event bus the engine
// listens on.
func (e *TestEnv) StartNotifier(cfg config.NotifierConfig) (*notifier.Router, *notifier.Tracker, error) {
	recipients := make([]notifier.Recipient, 0, len(cfg.Persons))
	for _, p := range cfg.Persons {
		recipients = append(recipients, notifier.Recipient{
			Name:            p.Name,
			NotifyService:   p.NotifyService,
			ProximityEntity: p.ProximityEntity,
			PresenceEntity:  p.PresenceEntity,
		})
	}

	directory := notifier.NewDirectory(recipients, cfg.ProximityThreshold, e.Logger)
	tracker := notifier.NewTracker(e.Client, e.Logger)
	router := notifier.NewRouter(e.Client, directory, tracker, e.Clock, e.Logger)
	engine := notifier.NewEngine(e.Client, router, tracker, cfg.HomeOccupancySensor, e.Logger)

	if err := engine.Start(); err != nil {
		return nil, nil, fmt.Errorf("failed to start notifier engine: %w", err)
	}

	e.engine = engine
	return router, tracker, nil
}

// InitializeStates seeds the entities the notifier stack and controllers
// read at startup. Individual tests override what they need.
func (e *TestEnv) InitializeStates() {
	e.Server.SetState("binary_sensor.home_occupied", "on", nil)
	e.Server.SetState("proximity.user1_home", "0", nil)
	e.Server.SetState("proximity.user2_home", "12000", nil)
	e.Server.SetState("sun.sun", "above_horizon", map[string]interface{}{"rising": true})
}

// Cleanup stops all components in the correct order.
// Always call this in a defer after creating the TestEnv.
func (e *TestEnv) Cleanup() {
	if e.engine != nil {
		e.engine.Stop()
	}
	if e.Client != nil {
		e.Client.Disconnect()
	}
	if e.Server != nil {
		e.Server.Stop()
	}
}

// GetServiceCalls returns all service calls made to the mock server.
func (e *TestEnv) GetServiceCalls() []ServiceCall {
	return e.Server.GetServiceCalls()
}

// ClearServiceCalls clears the recorded service calls.
func (e *TestEnv) ClearServiceCalls() {
	e.Server.ClearServiceCalls()
}
