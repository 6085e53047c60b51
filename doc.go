// Package courier provides an intelligent message-dispatch engine for Go.
// It schedules delivery requests (one-time codes, alerts, notifications)
// by priority and time, selects a delivery channel under per-channel rate
// limits, executes delivery with bounded retry-and-fallback, tracks
// terminal state durably, and manages a short-lived verification-code
// lifecycle.
//
// Courier is designed as a library, not a service. Import it, configure a
// store and a send capability, and submit requests:
//
//	eng, err := engine.New(engine.DefaultConfig(), store, sender)
//	if err != nil { ... }
//	eng.Start(ctx)
//	defer eng.Stop(ctx)
//
//	msgID, err := eng.SendOTP(ctx, "+447700900123")
//
// The actual transport to a telecom or email provider is never
// implemented here: callers inject a message.Sender. Persistence follows
// a composable store pattern — the message package defines the contract,
// and the store/memory, store/sqlite, store/postgres, and store/redis
// packages implement it.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package courier
