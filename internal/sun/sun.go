// Package sun computes sun position readings from coordinates, for
// installations whose hub does not expose a sun entity.
package sun

import (
	"time"

	"github.com/nathan-osman/go-sunrise"
	"go.uber.org/zap"

	"homenotify/internal/clock"
)

// Reading is a snapshot of the sun's position in the same vocabulary the
// hub's sun entity uses.
type Reading struct {
	State       string // above_horizon or below_horizon
	Rising      bool
	NextSunrise time.Time
	NextSunset  time.Time
}

// Calculator derives sun readings for a fixed location.
type Calculator struct {
	latitude  float64
	longitude float64
	clock     clock.Clock
	logger    *zap.Logger
}

// NewCalculator creates a calculator for the given coordinates.
func NewCalculator(latitude, longitude float64, clk clock.Clock, logger *zap.Logger) *Calculator {
	return &Calculator{
		latitude:  latitude,
		longitude: longitude,
		clock:     clk,
		logger:    logger.Named("sun"),
	}
}

// sunriseSunset returns the sunrise and sunset bracketing the given day.
func (c *Calculator) sunriseSunset(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	return sunrise.SunriseSunset(c.latitude, c.longitude, t.Year(), t.Month(), t.Day())
}

// At computes the sun reading for an arbitrary instant. Rising means the
// sun has not yet passed its highest point of the day.
func (c *Calculator) At(t time.Time) Reading {
	t = t.UTC()
	rise, set := c.sunriseSunset(t)

	var reading Reading
	if t.After(rise) && t.Before(set) {
		reading.State = "above_horizon"
	} else {
		reading.State = "below_horizon"
	}

	// Solar noon is the midpoint of the day's sunrise and sunset
	noon := rise.Add(set.Sub(rise) / 2)
	reading.Rising = t.Before(noon)

	reading.NextSunrise = rise
	if !t.Before(rise) {
		nextRise, _ := c.sunriseSunset(t.AddDate(0, 0, 1))
		reading.NextSunrise = nextRise
	}
	reading.NextSunset = set
	if !t.Before(set) {
		_, nextSet := c.sunriseSunset(t.AddDate(0, 0, 1))
		reading.NextSunset = nextSet
	}

	return reading
}

// Now computes the reading for the current time.
func (c *Calculator) Now() Reading {
	return c.At(c.clock.Now())
}
