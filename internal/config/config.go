/**
 * @description
 * This package handles the configuration management for the raffle-service. It
 * uses the Viper library to read configuration from environment variables,
 * providing a centralized and straightforward way to manage application
 * settings. Raffle math knobs configured here are only the boot-time seed:
 * once the service has persisted settings, those win on every later start.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/bestwai/raffle-service/internal/domain"
)

// Config holds all the configuration variables for the raffle-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort          string  `mapstructure:"SERVER_PORT"`
	DatabaseURL         string  `mapstructure:"DATABASE_URL"`
	RabbitMQURL         string  `mapstructure:"RABBITMQ_URL"`
	AdminAPIKey         string  `mapstructure:"ADMIN_API_KEY"`
	BaseURL             string  `mapstructure:"BASE_URL"`
	DrawPollSchedule    string  `mapstructure:"DRAW_POLL_SCHEDULE"`
	EntryCost           int64   `mapstructure:"ENTRY_COST"`
	DrawIntervalMinutes int     `mapstructure:"DRAW_INTERVAL_MINUTES"`
	WinnerCount         int     `mapstructure:"WINNER_COUNT"`
	HouseEdge           float64 `mapstructure:"HOUSE_EDGE"`
	StartingBalance     int64   `mapstructure:"STARTING_BALANCE"`
	PositionShares      string  `mapstructure:"POSITION_SHARES"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	defaults := domain.DefaultSettings()

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("BASE_URL", "http://localhost:8080")
	viper.SetDefault("DRAW_POLL_SCHEDULE", "@every 10s")
	viper.SetDefault("ENTRY_COST", defaults.EntryCost)
	viper.SetDefault("DRAW_INTERVAL_MINUTES", defaults.DrawIntervalMinutes)
	viper.SetDefault("WINNER_COUNT", defaults.WinnerCount)
	viper.SetDefault("HOUSE_EDGE", defaults.HouseEdge)
	viper.SetDefault("STARTING_BALANCE", defaults.StartingBalance)
	viper.SetDefault("POSITION_SHARES", formatShares(defaults.PositionShares))

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("ADMIN_API_KEY")
	_ = viper.BindEnv("BASE_URL")
	_ = viper.BindEnv("DRAW_POLL_SCHEDULE")
	_ = viper.BindEnv("ENTRY_COST")
	_ = viper.BindEnv("DRAW_INTERVAL_MINUTES")
	_ = viper.BindEnv("WINNER_COUNT")
	_ = viper.BindEnv("HOUSE_EDGE")
	_ = viper.BindEnv("STARTING_BALANCE")
	_ = viper.BindEnv("POSITION_SHARES")

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Platform-provided PORT takes precedence over SERVER_PORT.
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.AdminAPIKey = strings.TrimSpace(config.AdminAPIKey)
	config.BaseURL = strings.TrimSpace(config.BaseURL)

	if strings.TrimSpace(config.DatabaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return &config, nil
}

// RaffleSettings converts the flat environment view into validated raffle
// settings used to seed the lifecycle on first boot.
func (c *Config) RaffleSettings() (domain.Settings, error) {
	shares, err := parseShares(c.PositionShares)
	if err != nil {
		return domain.Settings{}, err
	}
	settings := domain.Settings{
		EntryCost:           c.EntryCost,
		DrawIntervalMinutes: c.DrawIntervalMinutes,
		WinnerCount:         c.WinnerCount,
		PositionShares:      shares,
		HouseEdge:           c.HouseEdge,
		StartingBalance:     c.StartingBalance,
	}
	if err := settings.Validate(); err != nil {
		return domain.Settings{}, err
	}
	return settings, nil
}

// parseShares parses a comma-separated share list such as
// "0.40,0.25,0.18,0.10,0.07".
func parseShares(raw string) ([]float64, error) {
	parts := strings.Split(raw, ",")
	shares := make([]float64, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		share, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid position share %q", domain.ErrInvalidConfiguration, part)
		}
		shares = append(shares, share)
	}
	if len(shares) == 0 {
		return nil, fmt.Errorf("%w: POSITION_SHARES is empty", domain.ErrInvalidConfiguration)
	}
	return shares, nil
}

func formatShares(shares []float64) string {
	parts := make([]string, len(shares))
	for i, share := range shares {
		parts[i] = strconv.FormatFloat(share, 'f', -1, 64)
	}
	return strings.Join(parts, ",")
}
