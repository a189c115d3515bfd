// Package events fans out "products imported" notifications to other open views.
//
// Delivery is best-effort: publishers never block an import and subscribers
// that fall behind lose messages.
package events

import (
	"context"
	"encoding/json"
	"fmt"
)

// DefaultChannel is the shared channel name.
const DefaultChannel = "products_imported"

// ProductsImported is the refresh hint sent after a successful import.
type ProductsImported struct {
	NewCount    int `json:"newCount"`
	UpdateCount int `json:"updateCount"`
}

// Publisher emits import notifications.
type Publisher interface {
	PublishProductsImported(ctx context.Context, evt ProductsImported) error
}

// Decode parses a payload received from the channel.
func Decode(payload string) (ProductsImported, error) {
	var evt ProductsImported
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		return ProductsImported{}, fmt.Errorf("events: decode: %w", err)
	}
	return evt, nil
}

// HubPublisher delivers straight to a local hub, used when Redis is not configured.
type HubPublisher struct {
	hub *Hub
}

// NewHubPublisher wraps hub.
func NewHubPublisher(hub *Hub) *HubPublisher {
	return &HubPublisher{hub: hub}
}

// PublishProductsImported broadcasts evt to connected clients.
func (p *HubPublisher) PublishProductsImported(_ context.Context, evt ProductsImported) error {
	if p == nil || p.hub == nil {
		return nil
	}
	p.hub.Broadcast(evt)
	return nil
}
