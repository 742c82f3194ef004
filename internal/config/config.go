// Package config loads service configuration from YAML files and environment
// variables, layered over built-in defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"updatehub/internal/models"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from file and environment variables.
// Precedence: defaults < file < environment.
func Load(configPath string) (*models.Config, error) {
	config := models.NewDefaultConfig()

	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	loadFromEnvironment(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(config *models.Config, filePath string) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", filePath)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

// loadFromEnvironment overrides configuration from UPDATEHUB_* environment
// variables. Only a deployment-relevant subset is exposed; everything else
// belongs in the config file.
func loadFromEnvironment(config *models.Config) {
	if v := os.Getenv("UPDATEHUB_SERVER_HOST"); v != "" {
		config.Server.Host = v
	}
	if v := os.Getenv("UPDATEHUB_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			config.Server.Port = port
		}
	}
	if v := os.Getenv("UPDATEHUB_STORAGE_TYPE"); v != "" {
		config.Storage.Type = strings.ToLower(v)
	}
	if v := os.Getenv("UPDATEHUB_STORAGE_DSN"); v != "" {
		config.Storage.Database.DSN = v
	}
	if v := os.Getenv("UPDATEHUB_ARTIFACT_ROOT"); v != "" {
		config.Artifacts.Root = v
	}
	if v := os.Getenv("UPDATEHUB_LOG_LEVEL"); v != "" {
		config.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("UPDATEHUB_LOG_FORMAT"); v != "" {
		config.Logging.Format = strings.ToLower(v)
	}
	if v := os.Getenv("UPDATEHUB_METRICS_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			config.Metrics.Enabled = enabled
		}
	}
	if v := os.Getenv("UPDATEHUB_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			config.Metrics.Port = port
		}
	}
	if v := os.Getenv("UPDATEHUB_AUTH_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			config.Security.EnableAuth = enabled
		}
	}
	if v := os.Getenv("UPDATEHUB_ADMIN_TOKEN"); v != "" {
		// Bootstrap token with full admin rights, for container deployments
		// that cannot ship a config file with secrets baked in.
		config.Security.Tokens = append(config.Security.Tokens, models.AuthToken{
			Token:   v,
			Subject: "bootstrap-admin",
			Roles:   []string{"ADMIN"},
		})
	}
	if v := os.Getenv("UPDATEHUB_TRACING_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			config.Observability.Tracing.Enabled = enabled
		}
	}
	if v := os.Getenv("UPDATEHUB_OTLP_ENDPOINT"); v != "" {
		config.Observability.Tracing.OTLPEndpoint = v
		config.Observability.Tracing.Exporter = "otlp"
	}
}
