// Package config loads service settings from defaults, an optional TOML
// file and environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // TIMEZONE must resolve on hosts without a zoneinfo database.

	"github.com/BurntSushi/toml"

	"github.com/neomorfeo/pitlane/internal/app"
	"github.com/neomorfeo/pitlane/internal/domain"
)

// Config is the resolved service configuration.
type Config struct {
	Port         string
	DatabasePath string
	Location     *time.Location
	Schedule     app.Schedule
	Pricing      domain.PricingPolicy
	Limits       domain.ParticipantLimits
	RateLimit    RateLimit
}

// RateLimit bounds booking mutations per client IP.
type RateLimit struct {
	RPS   float64
	Burst int
}

// Enabled reports whether requests should be limited at all.
func (r RateLimit) Enabled() bool {
	return r.RPS > 0 && r.Burst > 0
}

// file mirrors the TOML layout. Clock times are "HH:MM" and durations use
// time.ParseDuration syntax.
type file struct {
	Port         string `toml:"port"`
	DatabasePath string `toml:"database_path"`
	Timezone     string `toml:"timezone"`

	Schedule struct {
		Opening  string `toml:"opening"`
		Closing  string `toml:"closing"`
		Interval string `toml:"interval"`
		Duration string `toml:"duration"`
		Capacity int    `toml:"capacity"`
	} `toml:"schedule"`

	Pricing struct {
		PricePerPersonCents int64   `toml:"price_per_person_cents"`
		DiscountRate        float64 `toml:"discount_rate"`
	} `toml:"pricing"`

	Participants struct {
		OpenMin   int `toml:"open_min"`
		OpenMax   int `toml:"open_max"`
		ClosedMin int `toml:"closed_min"`
		ClosedMax int `toml:"closed_max"`
	} `toml:"participants"`

	RateLimit struct {
		RPS   float64 `toml:"rps"`
		Burst int     `toml:"burst"`
	} `toml:"rate_limit"`
}

func defaults() file {
	var f file
	f.Port = "8080"
	f.DatabasePath = "pitlane.db"
	f.Timezone = "America/Sao_Paulo"

	f.Schedule.Opening = "10:00"
	f.Schedule.Closing = "22:00"
	f.Schedule.Interval = app.DefaultSchedule.Interval.String()
	f.Schedule.Duration = app.DefaultSchedule.Duration.String()
	f.Schedule.Capacity = app.DefaultSchedule.Capacity

	f.Pricing.PricePerPersonCents = domain.DefaultPricing.PricePerPersonCents
	f.Pricing.DiscountRate = domain.DefaultPricing.DiscountRate

	f.Participants.OpenMin = domain.DefaultLimits.OpenMin
	f.Participants.OpenMax = domain.DefaultLimits.OpenMax
	f.Participants.ClosedMin = domain.DefaultLimits.ClosedMin
	f.Participants.ClosedMax = domain.DefaultLimits.ClosedMax

	f.RateLimit.RPS = 5
	f.RateLimit.Burst = 10
	return f
}

// Load reads the file named by CONFIG_PATH, if set, then applies
// environment overrides.
func Load() (Config, error) {
	return LoadFile(os.Getenv("CONFIG_PATH"))
}

// LoadFile reads path, if not empty, then applies environment overrides.
// Keys missing from the file keep their defaults; unknown keys are an error.
func LoadFile(path string) (Config, error) {
	f := defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &f)
		if err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return Config{}, fmt.Errorf("config %s: unknown keys %s", path, strings.Join(keys, ", "))
		}
	}

	if err := f.applyEnv(); err != nil {
		return Config{}, err
	}
	return f.resolve()
}

func (f *file) applyEnv() error {
	f.Port = envOrDefault("PORT", f.Port)
	f.DatabasePath = envOrDefault("DATABASE_PATH", f.DatabasePath)
	f.Timezone = envOrDefault("TIMEZONE", f.Timezone)

	var errs []error
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("RATE_LIMIT_RPS: %w", err))
		}
		f.RateLimit.RPS = rps
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		burst, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("RATE_LIMIT_BURST: %w", err))
		}
		f.RateLimit.Burst = burst
	}
	return errors.Join(errs...)
}

func (f file) resolve() (Config, error) {
	loc, err := time.LoadLocation(f.Timezone)
	if err != nil {
		return Config{}, fmt.Errorf("timezone %q: %w", f.Timezone, err)
	}

	opening, err := parseClock(f.Schedule.Opening)
	if err != nil {
		return Config{}, fmt.Errorf("schedule.opening: %w", err)
	}
	closing, err := parseClock(f.Schedule.Closing)
	if err != nil {
		return Config{}, fmt.Errorf("schedule.closing: %w", err)
	}
	interval, err := time.ParseDuration(f.Schedule.Interval)
	if err != nil {
		return Config{}, fmt.Errorf("schedule.interval: %w", err)
	}
	duration, err := time.ParseDuration(f.Schedule.Duration)
	if err != nil {
		return Config{}, fmt.Errorf("schedule.duration: %w", err)
	}

	schedule := app.Schedule{
		Opening:  opening,
		Closing:  closing,
		Interval: interval,
		Duration: duration,
		Capacity: f.Schedule.Capacity,
	}
	if err := schedule.Validate(); err != nil {
		return Config{}, fmt.Errorf("schedule: %w", err)
	}

	if f.Pricing.PricePerPersonCents < 0 || f.Pricing.DiscountRate < 0 || f.Pricing.DiscountRate >= 1 {
		return Config{}, errors.New("pricing: price must be positive and discount_rate in [0, 1)")
	}

	return Config{
		Port:         f.Port,
		DatabasePath: f.DatabasePath,
		Location:     loc,
		Schedule:     schedule,
		Pricing: domain.PricingPolicy{
			PricePerPersonCents: f.Pricing.PricePerPersonCents,
			DiscountRate:        f.Pricing.DiscountRate,
		},
		Limits: domain.ParticipantLimits{
			OpenMin:   f.Participants.OpenMin,
			OpenMax:   f.Participants.OpenMax,
			ClosedMin: f.Participants.ClosedMin,
			ClosedMax: f.Participants.ClosedMax,
		}.CapTo(schedule.Capacity),
		RateLimit: RateLimit{RPS: f.RateLimit.RPS, Burst: f.RateLimit.Burst},
	}, nil
}

// parseClock turns "HH:MM" into an offset from midnight. "24:00" is allowed
// as a closing time.
func parseClock(s string) (time.Duration, error) {
	if s == "24:00" {
		return 24 * time.Hour, nil
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("want HH:MM, got %q", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
