// Package integration provides end-to-end tests that run the notification
// stack and controllers against a mock hub over a real WebSocket connection.
// This file re-exports types from pkg/testutil for convenience.
package integration

import (
	"homenotify/pkg/testutil"
)

// Type aliases so scenario tests read without the package qualifier
type MockHAServer = testutil.MockHAServer
type EntityState = testutil.EntityState
type ServiceCall = testutil.ServiceCall
type EventRecord = testutil.EventRecord

// NewMockHAServer creates a new mock HA server
var NewMockHAServer = testutil.NewMockHAServer

// Helper function aliases
var FilterServiceCalls = testutil.FilterServiceCalls
var FindServiceCallWithData = testutil.FindServiceCallWithData
var FindServiceCallWithEntityID = testutil.FindServiceCallWithEntityID
