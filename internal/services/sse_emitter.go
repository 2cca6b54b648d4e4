package services

import (
	"context"

	"github.com/montignypatrik/facnet-validator-sub009/internal/sse"
)

// SSEEmitter is one delivery leg for job events. The notifier fans out to
// every configured leg; origin tagging on the bus keeps the local hub from
// receiving its own transitions twice.
type SSEEmitter interface {
	Emit(ctx context.Context, msg sse.SSEMessage)
}

// HubEmitter delivers to subscribers connected to this process.
type HubEmitter struct{ Hub *sse.SSEHub }

func (e *HubEmitter) Emit(ctx context.Context, msg sse.SSEMessage) {
	e.Hub.Broadcast(msg)
}

// BusEmitter publishes for hubs in other processes. Publish failures are
// dropped; polling remains the authoritative cross-process contract.
type BusEmitter struct{ Bus SSEBus }

func (e *BusEmitter) Emit(ctx context.Context, msg sse.SSEMessage) {
	_ = e.Bus.Publish(ctx, msg)
}
