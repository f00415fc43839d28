package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/petr-muller/bzreport/internal/history"
)

const envPrefix = "BZREPORT"

// Settings tune the reports. They are read from config.yaml in the config
// directory and can be overridden by BZREPORT_* environment variables.
type Settings struct {
	Products     []string
	Severities   []string
	OpenStatuses []string

	NeedinfoBot      string
	FollowupLimit    time.Duration
	CommentTolerance time.Duration

	// Concurrency bounds the number of bugs reconstructed in parallel, zero means one per CPU
	Concurrency int

	Fields history.Schema
}

// DefaultFields are the fields known without any configuration
func DefaultFields() history.Schema {
	return history.Schema{
		"product":        history.Scalar,
		"component":      history.Scalar,
		"status":         history.Scalar,
		"resolution":     history.Scalar,
		"severity":       history.Scalar,
		"priority":       history.Scalar,
		"type":           history.Scalar,
		"keywords":       history.Set,
		"flagtypes.name": history.Set,
		"regressed_by":   history.Set,
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("products", []string{"Core", "DevTools", "Firefox", "Firefox Build System", "Testing", "Toolkit", "WebExtensions"})
	v.SetDefault("severities", []string{"S1", "S2", "S3", "S4", "N/A", "--"})
	v.SetDefault("open_statuses", []string{"UNCONFIRMED", "NEW", "ASSIGNED", "REOPENED"})
	v.SetDefault("needinfo.bot", "release-mgmt-account-bot@mozilla.tld")
	v.SetDefault("needinfo.followup_limit", time.Hour)
	v.SetDefault("needinfo.comment_tolerance", 5*time.Second)
	v.SetDefault("concurrency", 0)
}

// LoadSettings reads settings from config.yaml in dir. A missing file is not an
// error, the defaults and environment are used then.
func LoadSettings(dir string) (Settings, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Settings{}, fmt.Errorf("failed to read settings: %w", err)
		}
		logrus.Debugf("No config.yaml found in %s, using defaults", dir)
	} else {
		logrus.Debugf("Loaded settings from %s", v.ConfigFileUsed())
	}

	fields, err := parseFields(v.GetStringMapString("fields"))
	if err != nil {
		return Settings{}, err
	}

	settings := Settings{
		Products:         v.GetStringSlice("products"),
		Severities:       v.GetStringSlice("severities"),
		OpenStatuses:     v.GetStringSlice("open_statuses"),
		NeedinfoBot:      v.GetString("needinfo.bot"),
		FollowupLimit:    v.GetDuration("needinfo.followup_limit"),
		CommentTolerance: v.GetDuration("needinfo.comment_tolerance"),
		Concurrency:      v.GetInt("concurrency"),
		Fields:           fields,
	}
	return settings, settings.Validate()
}

// parseFields merges the configured field kinds into the default schema
func parseFields(configured map[string]string) (history.Schema, error) {
	schema := DefaultFields()
	for field, kind := range configured {
		parsed, err := history.ParseFieldKind(kind)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", field, err)
		}
		schema[field] = parsed
	}
	return schema, nil
}

// Validate checks settings that cannot be used
func (s Settings) Validate() error {
	if len(s.Products) == 0 {
		return errors.New("at least one product must be configured")
	}
	if len(s.OpenStatuses) == 0 {
		return errors.New("at least one open status must be configured")
	}
	if s.FollowupLimit < 0 || s.CommentTolerance < 0 {
		return errors.New("needinfo durations must not be negative")
	}
	if s.Concurrency < 0 {
		return errors.New("concurrency must not be negative")
	}
	return nil
}
