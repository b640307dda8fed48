package identity

import (
	"context"
	"errors"
	"log/slog"

	"github.com/filipexyz/beacon/internal/event"
	"github.com/filipexyz/beacon/internal/storage"
)

// PropertyStore keeps the free-form user property map in durable storage.
type PropertyStore struct {
	store  storage.Store
	logger *slog.Logger
}

// NewPropertyStore creates a PropertyStore over the durable area.
func NewPropertyStore(durable storage.Store, logger *slog.Logger) *PropertyStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PropertyStore{store: durable, logger: logger.With("component", "user_properties")}
}

// All returns the stored properties, or an empty map if none are stored
// or storage fails.
func (p *PropertyStore) All(ctx context.Context) map[string]any {
	props := map[string]any{}
	err := storage.GetJSON(ctx, p.store, storage.KeyUserProperties, &props)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		p.logger.Warn("failed to load user properties", "error", err)
		return map[string]any{}
	}
	return props
}

// Set stores one property. A nil value removes it. Invalid names are
// rejected.
func (p *PropertyStore) Set(ctx context.Context, name string, value any) bool {
	if !event.IsValidUserPropertyName(name) {
		p.logger.Warn("invalid user property name", "name", name)
		return false
	}
	props := p.All(ctx)
	if value == nil {
		delete(props, name)
	} else {
		props[name] = value
	}
	if err := storage.SetJSON(ctx, p.store, storage.KeyUserProperties, props); err != nil {
		p.logger.Warn("failed to persist user properties", "error", err)
		return false
	}
	return true
}

// Clear removes every user property.
func (p *PropertyStore) Clear(ctx context.Context) {
	if err := p.store.Remove(ctx, storage.KeyUserProperties); err != nil {
		p.logger.Warn("failed to clear user properties", "error", err)
	}
}

// UserProperties returns the properties in wire form.
func (p *PropertyStore) UserProperties(ctx context.Context) map[string]event.UserProperty {
	return event.SanitizeUserProperties(p.All(ctx))
}
