package config

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Person maps a household member to their notification channel and
// presence-tracking entities.
type Person struct {
	Name            string `yaml:"name"`
	NotifyService   string `yaml:"notify_service"`
	ProximityEntity string `yaml:"proximity_entity"`
	PresenceEntity  string `yaml:"presence_entity"`
}

// NotifierConfig configures the notification router and tracker.
type NotifierConfig struct {
	HomeOccupancySensor string   `yaml:"home_occupancy_sensor"`
	ProximityThreshold  float64  `yaml:"proximity_threshold"`
	Persons             []Person `yaml:"persons"`
}

// AutomowerConfig configures the mower controller.
type AutomowerConfig struct {
	Enabled           bool   `yaml:"enabled"`
	ProblemSensor     string `yaml:"problem_sensor"`
	RainSensor        string `yaml:"rain_sensor"`
	SunEntity         string `yaml:"sun_entity"`
	NextStartSensor   string `yaml:"next_start_sensor"`
	SessionCalendar   string `yaml:"session_calendar"`
	ParkForEntity     string `yaml:"park_for_entity"`
	MowerEntity       string `yaml:"mower_entity"`
	RainFlagEntity    string `yaml:"rain_flag_entity"`
	MessageRainPark   string `yaml:"message_park_because_of_rain"`
	MessageSessionEnd string `yaml:"message_end_of_session_soon"`
	MessageLawnDry    string `yaml:"message_lawn_is_dry"`
	MessageActivated  string `yaml:"message_activated"`
	MessageDeactivate string `yaml:"message_deactivated"`
}

// GarageDoorConfig configures the garage door controller.
type GarageDoorConfig struct {
	Enabled             bool   `yaml:"enabled"`
	SunEntity           string `yaml:"sun_entity"`
	DoorSensor          string `yaml:"door_sensor"`
	NotificationDelay   int    `yaml:"notification_delay"`
	NotificationTitle   string `yaml:"notification_title"`
	NotificationMessage string `yaml:"notification_message"`
}

// ShoppingListPerson names a person to notify on shop-zone entry. The name
// must match a notifier person; the tracker entity reports the zone.
type ShoppingListPerson struct {
	Name          string `yaml:"name"`
	TrackerEntity string `yaml:"tracker_entity"`
}

// ShoppingListConfig configures the shopping list synchronizer.
type ShoppingListConfig struct {
	Enabled             bool                 `yaml:"enabled"`
	ShopsEntity         string               `yaml:"shops_entity"`
	ListDir             string               `yaml:"list_dir"`
	TempoSeconds        float64              `yaml:"tempo"`
	NotificationURL     string               `yaml:"notification_url"`
	NotificationTitle   string               `yaml:"notification_title"`
	NotificationMessage string               `yaml:"notification_message"`
	Persons             []ShoppingListPerson `yaml:"persons"`
}

// Config is the root configuration document.
type Config struct {
	Latitude     float64            `yaml:"latitude"`
	Longitude    float64            `yaml:"longitude"`
	APIPort      int                `yaml:"api_port"`
	Notifier     NotifierConfig     `yaml:"notifier"`
	Automower    AutomowerConfig    `yaml:"automower"`
	GarageDoor   GarageDoorConfig   `yaml:"garage_door"`
	ShoppingList ShoppingListConfig `yaml:"shopping_list"`
}

// Tempo returns the shopping list update pause as a duration.
func (c *ShoppingListConfig) Tempo() time.Duration {
	return time.Duration(c.TempoSeconds * float64(time.Second))
}

// Delay returns the garage door notification delay as a duration.
func (c *GarageDoorConfig) Delay() time.Duration {
	return time.Duration(c.NotificationDelay) * time.Second
}

// Load reads and validates the configuration file.
func Load(path string, logger *zap.Logger) (*Config, error) {
	logger.Info("Loading configuration", zap.String("path", path))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	logger.Info("Configuration loaded",
		zap.Int("persons", len(cfg.Notifier.Persons)),
		zap.Float64("proximity_threshold", cfg.Notifier.ProximityThreshold))
	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.Notifier.Persons) == 0 {
		return fmt.Errorf("notifier: at least one person must be configured")
	}

	seen := make(map[string]bool)
	for i, p := range c.Notifier.Persons {
		if p.Name == "" {
			return fmt.Errorf("notifier: person %d has no name", i)
		}
		if p.NotifyService == "" {
			return fmt.Errorf("notifier: person %q has no notify_service", p.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("notifier: duplicate person %q", p.Name)
		}
		seen[p.Name] = true
	}

	if c.Notifier.HomeOccupancySensor == "" {
		return fmt.Errorf("notifier: home_occupancy_sensor is required")
	}

	if c.ShoppingList.Enabled {
		if c.ShoppingList.ShopsEntity == "" {
			return fmt.Errorf("shopping_list: shops_entity is required")
		}
		for _, p := range c.ShoppingList.Persons {
			if !seen[p.Name] {
				return fmt.Errorf("shopping_list: person %q is not a notifier person", p.Name)
			}
		}
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.Notifier.ProximityThreshold == 0 {
		c.Notifier.ProximityThreshold = 500
	}
	if c.GarageDoor.SunEntity == "" {
		c.GarageDoor.SunEntity = "sun.sun"
	}
	if c.Automower.SunEntity == "" {
		c.Automower.SunEntity = "sun.sun"
	}
	if c.GarageDoor.NotificationDelay == 0 {
		c.GarageDoor.NotificationDelay = 600
	}
	if c.ShoppingList.TempoSeconds == 0 {
		c.ShoppingList.TempoSeconds = 0.1
	}
	if c.ShoppingList.ListDir == "" {
		c.ShoppingList.ListDir = "."
	}
	if c.APIPort == 0 {
		c.APIPort = 8099
	}
}
