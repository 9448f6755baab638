// Package session decides whether an exchange is open at a wall-clock
// instant. Trading days are Mon-Fri in venue-local time; the open interval
// is half-open [open, close). Holiday calendars are pluggable but empty by
// default.
package session

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

type hours struct {
	timezone  string
	openHour  int
	openMin   int
	closeHour int
	closeMin  int
}

// Session classes. NASDAQ and NYSE share the US session.
var marketHours = map[string]hours{
	"US":  {"America/New_York", 9, 30, 16, 0},
	"ASX": {"Australia/Sydney", 10, 0, 16, 0},
	"TSX": {"America/Toronto", 9, 30, 16, 0},
}

// Status describes a market's session state at one instant.
type Status struct {
	Market           string
	IsOpen           bool
	LocalTime        time.Time
	Timezone         string
	SecondsUntilOpen float64 // 0 while open
}

// Gate checks market hours. Zero value is usable; holidays are optional.
type Gate struct {
	holidays map[string]map[string]bool // class -> local date "2006-01-02"
	zones    map[string]*time.Location
}

// NewGate returns a gate with no holiday calendar.
func NewGate() *Gate {
	return &Gate{
		holidays: make(map[string]map[string]bool),
		zones:    make(map[string]*time.Location),
	}
}

// WithHolidays registers closed dates (venue-local, "2006-01-02") for a
// market class and returns the gate for chaining.
func (g *Gate) WithHolidays(market string, dates []string) *Gate {
	set := g.holidays[market]
	if set == nil {
		set = make(map[string]bool)
		g.holidays[market] = set
	}
	for _, d := range dates {
		set[d] = true
	}
	return g
}

func (g *Gate) location(market string) (*time.Location, error) {
	h, ok := marketHours[market]
	if !ok {
		return nil, fmt.Errorf("unknown market: %q", market)
	}
	if loc, ok := g.zones[market]; ok {
		return loc, nil
	}
	loc, err := time.LoadLocation(h.timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %s: %w", h.timezone, err)
	}
	g.zones[market] = loc
	return loc, nil
}

func (g *Gate) tradingDay(market string, local time.Time) bool {
	wd := local.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return false
	}
	if set, ok := g.holidays[market]; ok && set[local.Format("2006-01-02")] {
		return false
	}
	return true
}

// IsOpen reports whether the market is open at the given UTC instant.
func (g *Gate) IsOpen(market string, now time.Time) bool {
	loc, err := g.location(market)
	if err != nil {
		log.Error().Err(err).Str("market", market).Msg("Session check failed")
		return false
	}

	h := marketHours[market]
	local := now.In(loc)

	if !g.tradingDay(market, local) {
		return false
	}

	open := time.Date(local.Year(), local.Month(), local.Day(), h.openHour, h.openMin, 0, 0, loc)
	close := time.Date(local.Year(), local.Month(), local.Day(), h.closeHour, h.closeMin, 0, 0, loc)

	return !local.Before(open) && local.Before(close)
}

// SecondsUntilOpen returns how long until the market next opens, or 0 when
// it is currently open. Date arithmetic is calendar-correct across month
// and year boundaries.
func (g *Gate) SecondsUntilOpen(market string, now time.Time) (float64, error) {
	loc, err := g.location(market)
	if err != nil {
		return 0, err
	}
	if g.IsOpen(market, now) {
		return 0, nil
	}

	h := marketHours[market]
	local := now.In(loc)

	candidate := time.Date(local.Year(), local.Month(), local.Day(), h.openHour, h.openMin, 0, 0, loc)
	if !local.Before(candidate) || !g.tradingDay(market, local) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	for !g.tradingDay(market, candidate) {
		candidate = candidate.AddDate(0, 0, 1)
	}

	return candidate.Sub(local).Seconds(), nil
}

// GetStatus returns the full session report for a market.
func (g *Gate) GetStatus(market string, now time.Time) (*Status, error) {
	loc, err := g.location(market)
	if err != nil {
		return nil, err
	}
	seconds, err := g.SecondsUntilOpen(market, now)
	if err != nil {
		return nil, err
	}
	return &Status{
		Market:           market,
		IsOpen:           g.IsOpen(market, now),
		LocalTime:        now.In(loc),
		Timezone:         marketHours[market].timezone,
		SecondsUntilOpen: seconds,
	}, nil
}
