package admin

import (
	"context"
	"fmt"

	"github.com/haukened/mxbl/internal/mxbl/domain"
)

// Settings returns the current settings snapshot.
func (s *Service) Settings() domain.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Setting returns one setting from the snapshot.
func (s *Service) Setting(name string) (string, bool) {
	return s.Settings().Get(name)
}

// SetSetting persists a setting and then swaps it into the snapshot.
func (s *Service) SetSetting(ctx context.Context, name, value string) error {
	if !domain.ValidSettingName(name) {
		return invalid("bad setting name %q", name)
	}
	if err := s.store.SetSetting(ctx, name, value); err != nil {
		return fmt.Errorf("set %s: %w", name, err)
	}
	s.mu.Lock()
	s.settings = s.settings.With(name, value)
	s.mu.Unlock()
	s.logger.Info(map[string]any{"name": name, "value": value}, "setting changed")
	return nil
}

// ReloadSettings replaces the snapshot with the stored settings.
func (s *Service) ReloadSettings(ctx context.Context) error {
	values, err := s.store.Settings(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	snap := domain.NewSettings(values)
	s.mu.Lock()
	s.settings = snap
	s.mu.Unlock()
	s.logger.Debug(map[string]any{"count": len(values), "paused": snap.Paused()}, "settings loaded")
	return nil
}
