// Package settings provides a viper-backed implementation of the settings
// port. Values live under the "settings." key space, so they can be seeded
// from the main config file and overridden at runtime.
package settings

import (
	"context"
	"sync"

	"github.com/spf13/viper"

	"github.com/formsentry/formsentry/api/schemas"
	"github.com/formsentry/formsentry/internal/config"
	"github.com/formsentry/formsentry/internal/domainutil"
)

const (
	KeyAIAnalysisEnabled    = "settings.ai_analysis_enabled"
	KeyNotificationsEnabled = "settings.notifications_enabled"
	KeyAutoBlockEnabled     = "settings.auto_block_enabled"
	KeyDebugMode            = "settings.debug_mode"
	KeyDataRetentionHours   = "settings.data_retention_hours"
	KeyShowUnknownWarnings  = "settings.show_unknown_warnings"
	KeyWhitelistedDomains   = "settings.whitelisted_domains"
)

// Store implements schemas.SettingsStore on top of a viper instance. Writes
// are serialized; reads take a snapshot under the same lock, so a concurrent
// whitelist update never yields a torn view.
type Store struct {
	mu sync.RWMutex
	v  *viper.Viper
}

// New creates a store over the given viper instance, applying defaults for
// any key not already set.
func New(v *viper.Viper) *Store {
	if v == nil {
		v = viper.New()
	}
	config.SetDefaults(v)
	return &Store{v: v}
}

// NewFromConfig seeds a standalone store from a parsed config.
func NewFromConfig(cfg config.SettingsConfig) *Store {
	v := viper.New()
	config.SetDefaults(v)
	v.Set(KeyAIAnalysisEnabled, cfg.AIAnalysisEnabled)
	v.Set(KeyNotificationsEnabled, cfg.NotificationsEnabled)
	v.Set(KeyAutoBlockEnabled, cfg.AutoBlockEnabled)
	v.Set(KeyDebugMode, cfg.DebugMode)
	v.Set(KeyDataRetentionHours, cfg.DataRetentionHours)
	v.Set(KeyShowUnknownWarnings, cfg.ShowUnknownWarnings)
	v.Set(KeyWhitelistedDomains, cfg.WhitelistedDomains)
	return &Store{v: v}
}

// All returns a snapshot of every setting.
func (s *Store) All(_ context.Context) (schemas.SettingsSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return schemas.SettingsSnapshot{
		AIAnalysisEnabled:    s.v.GetBool(KeyAIAnalysisEnabled),
		NotificationsEnabled: s.v.GetBool(KeyNotificationsEnabled),
		AutoBlockEnabled:     s.v.GetBool(KeyAutoBlockEnabled),
		DebugMode:            s.v.GetBool(KeyDebugMode),
		DataRetentionHours:   s.v.GetInt(KeyDataRetentionHours),
		ShowUnknownWarnings:  s.v.GetBool(KeyShowUnknownWarnings),
		WhitelistedDomains:   s.v.GetStringSlice(KeyWhitelistedDomains),
	}, nil
}

// Get returns a single setting by its short or fully qualified key.
func (s *Store) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.v.IsSet(key) {
		return s.v.Get(key), true
	}
	qualified := "settings." + key
	if s.v.IsSet(qualified) {
		return s.v.Get(qualified), true
	}
	return nil, false
}

// Set updates a single setting.
func (s *Store) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v.Set(key, value)
}

// IsWhitelisted applies the same-site test against the whitelist, so
// api.example.com is covered by a whitelist entry for example.com.
func (s *Store) IsWhitelisted(domain string) bool {
	s.mu.RLock()
	whitelist := s.v.GetStringSlice(KeyWhitelistedDomains)
	s.mu.RUnlock()
	for _, entry := range whitelist {
		if domainutil.SameSite(domain, entry) {
			return true
		}
	}
	return false
}

var _ schemas.SettingsStore = (*Store)(nil)
