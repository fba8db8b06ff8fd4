// Package prefs persists the user profile: display name and bearer tokens.
package prefs

import (
	"context"
	"fmt"
	"strings"

	"github.com/matheus3301/chatline/internal/bus"
	"github.com/matheus3301/chatline/internal/live"
	"github.com/matheus3301/chatline/internal/store"
)

const (
	keyDisplayName  = "display_name"
	keyAccessToken  = "access_token"
	keyRefreshToken = "refresh_token"
)

// Profile is the persisted identity of the local user.
type Profile struct {
	DisplayName  string
	AccessToken  string
	RefreshToken string
}

// Store reads and writes the profile and keeps an in-memory copy that
// subscribers can watch.
type Store struct {
	db      *store.DB
	bus     *bus.Bus
	profile *live.Value[Profile]
}

// Open loads the stored profile.
func Open(db *store.DB, b *bus.Bus) (*Store, error) {
	values, err := db.Preferences()
	if err != nil {
		return nil, fmt.Errorf("load preferences: %w", err)
	}
	p := Profile{
		DisplayName:  values[keyDisplayName],
		AccessToken:  values[keyAccessToken],
		RefreshToken: values[keyRefreshToken],
	}
	return &Store{
		db:      db,
		bus:     b,
		profile: live.NewValue(p, func(a, b Profile) bool { return a == b }),
	}, nil
}

// Profile returns the current profile.
func (s *Store) Profile() Profile {
	return s.profile.Get()
}

// Author returns the display name used for outbound messages.
func (s *Store) Author() string {
	return s.profile.Get().DisplayName
}

// AccessToken returns the bearer token for gateway requests.
func (s *Store) AccessToken() string {
	return s.profile.Get().AccessToken
}

// SetDisplayName stores name. An empty name makes the user anonymous.
func (s *Store) SetDisplayName(name string) error {
	name = strings.TrimSpace(name)
	return s.write(map[string]string{keyDisplayName: name}, func(p *Profile) {
		p.DisplayName = name
	})
}

// SetTokens stores both tokens in one transaction.
func (s *Store) SetTokens(access, refresh string) error {
	return s.write(map[string]string{
		keyAccessToken:  access,
		keyRefreshToken: refresh,
	}, func(p *Profile) {
		p.AccessToken = access
		p.RefreshToken = refresh
	})
}

// ClearTokens removes both tokens.
func (s *Store) ClearTokens() error {
	return s.SetTokens("", "")
}

// Watch yields the current profile and then every change until ctx is done.
func (s *Store) Watch(ctx context.Context) <-chan Profile {
	return s.profile.Subscribe(ctx)
}

func (s *Store) write(values map[string]string, apply func(*Profile)) error {
	if err := s.db.SetPreferences(values); err != nil {
		return err
	}
	p := s.profile.Get()
	apply(&p)
	if s.profile.Set(p) {
		s.bus.Emit(bus.PrefsChanged, p.DisplayName)
	}
	return nil
}
