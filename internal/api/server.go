package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"homenotify/internal/notifier"
	"homenotify/internal/sun"
)

// Server exposes a small read-only HTTP surface for inspecting the
// notification system.
type Server struct {
	directory *notifier.Directory
	tracker   *notifier.Tracker
	sunCalc   *sun.Calculator
	logger    *zap.Logger
	server    *http.Server
}

// NewServer creates the API server. sunCalc may be nil when no coordinates
// are configured; the sun endpoint then reports 404.
func NewServer(directory *notifier.Directory, tracker *notifier.Tracker, sunCalc *sun.Calculator, logger *zap.Logger, port int) *Server {
	s := &Server{
		directory: directory,
		tracker:   tracker,
		sunCalc:   sunCalc,
		logger:    logger.Named("api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/notifications", s.handleNotifications)
	mux.HandleFunc("/api/recipients", s.handleRecipients)
	mux.HandleFunc("/api/sun", s.handleSun)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// handleHealth returns a simple health check response
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
	})
}

// NotificationsResponse reports outstanding tagged notifications and the
// number of requests staged until someone is home.
type NotificationsResponse struct {
	Outstanding map[string][]string `json:"outstanding"`
	StagedCount int                 `json:"staged_count"`
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := NotificationsResponse{
		Outstanding: s.tracker.OutstandingTags(),
		StagedCount: s.tracker.StagedCount(),
	}

	s.writeJSON(w, r, response)
}

// RecipientResponse is one configured notification recipient.
type RecipientResponse struct {
	Name            string `json:"name"`
	NotifyService   string `json:"notify_service"`
	ProximityEntity string `json:"proximity_entity,omitempty"`
}

func (s *Server) handleRecipients(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	recipients := make([]RecipientResponse, 0)
	for _, recipient := range s.directory.All() {
		recipients = append(recipients, RecipientResponse{
			Name:            recipient.Name,
			NotifyService:   recipient.NotifyService,
			ProximityEntity: recipient.ProximityEntity,
		})
	}

	s.writeJSON(w, r, map[string]interface{}{
		"recipients":          recipients,
		"proximity_threshold": s.directory.Threshold(),
	})
}

// SunResponse reports the computed sun position.
type SunResponse struct {
	State       string    `json:"state"`
	Rising      bool      `json:"rising"`
	NextSunrise time.Time `json:"next_sunrise"`
	NextSunset  time.Time `json:"next_sunset"`
}

func (s *Server) handleSun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.sunCalc == nil {
		http.NotFound(w, r)
		return
	}

	reading := s.sunCalc.Now()
	s.writeJSON(w, r, SunResponse{
		State:       reading.State,
		Rising:      reading.Rising,
		NextSunrise: reading.NextSunrise,
		NextSunset:  reading.NextSunset,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, response interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.logger.Debug("Request served",
		zap.String("path", r.URL.Path),
		zap.String("remote_addr", r.RemoteAddr))
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP API server", zap.String("addr", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop() error {
	s.logger.Info("Stopping HTTP API server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	return nil
}
