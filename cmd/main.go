package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"homenotify/internal/api"
	"homenotify/internal/apps/automower"
	"homenotify/internal/apps/garagedoor"
	"homenotify/internal/apps/shoppinglist"
	"homenotify/internal/clock"
	"homenotify/internal/config"
	"homenotify/internal/ha"
	"homenotify/internal/notifier"
	"homenotify/internal/sun"
)

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logger.Warn("No .env file found, using environment variables")
	}

	haURL := os.Getenv("HA_URL")
	haToken := os.Getenv("HA_TOKEN")
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	if haURL == "" || haToken == "" {
		logger.Fatal("HA_URL and HA_TOKEN environment variables must be set")
	}

	cfg, err := config.Load(configPath, logger)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	logger.Info("Starting home notification service", zap.String("url", haURL))

	// Connect to Home Assistant
	client := ha.NewClient(haURL, haToken, logger)
	if err := client.Connect(); err != nil {
		logger.Fatal("Failed to connect to Home Assistant", zap.Error(err))
	}
	defer client.Disconnect()

	logger.Info("Connected to Home Assistant")

	realClock := clock.NewRealClock()

	// Notification core
	recipients := make([]notifier.Recipient, 0, len(cfg.Notifier.Persons))
	for _, person := range cfg.Notifier.Persons {
		recipients = append(recipients, notifier.Recipient{
			Name:            person.Name,
			NotifyService:   person.NotifyService,
			ProximityEntity: person.ProximityEntity,
			PresenceEntity:  person.PresenceEntity,
		})
	}
	directory := notifier.NewDirectory(recipients, cfg.Notifier.ProximityThreshold, logger)
	tracker := notifier.NewTracker(client, logger)
	router := notifier.NewRouter(client, directory, tracker, realClock, logger)
	engine := notifier.NewEngine(client, router, tracker, cfg.Notifier.HomeOccupancySensor, logger)
	if err := engine.Start(); err != nil {
		logger.Fatal("Failed to start notification engine", zap.Error(err))
	}
	defer engine.Stop()

	// Peripheral controllers
	if cfg.Automower.Enabled {
		mower := automower.NewManager(client, cfg.Automower, time.Local, logger)
		if err := mower.Start(); err != nil {
			logger.Fatal("Failed to start automower manager", zap.Error(err))
		}
		defer mower.Stop()
	}

	if cfg.GarageDoor.Enabled {
		garage := garagedoor.NewManager(client, cfg.GarageDoor, realClock, logger)
		if err := garage.Start(); err != nil {
			logger.Fatal("Failed to start garage door manager", zap.Error(err))
		}
		defer garage.Stop()
	}

	if cfg.ShoppingList.Enabled {
		shopping := shoppinglist.NewManager(client, cfg.ShoppingList, realClock, logger)
		if err := shopping.Start(); err != nil {
			logger.Fatal("Failed to start shopping list manager", zap.Error(err))
		}
		defer shopping.Stop()
	}

	// Computed sun position for the status API
	var sunCalc *sun.Calculator
	if cfg.Latitude != 0 || cfg.Longitude != 0 {
		sunCalc = sun.NewCalculator(cfg.Latitude, cfg.Longitude, realClock, logger)
		reading := sunCalc.Now()
		logger.Info("Sun position computed",
			zap.String("state", reading.State),
			zap.Bool("rising", reading.Rising),
			zap.Time("next_sunrise", reading.NextSunrise),
			zap.Time("next_sunset", reading.NextSunset))
	}

	// Status API
	apiServer := api.NewServer(directory, tracker, sunCalc, logger, cfg.APIPort)
	if err := apiServer.Start(); err != nil {
		logger.Fatal("Failed to start API server", zap.Error(err))
	}
	defer apiServer.Stop()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Application running. Press Ctrl+C to exit.")
	<-sigChan

	logger.Info("Shutting down gracefully...")
}
