// Package session implements the market session slices and the session
// registry built on top of them.
//
// Slices:
//   - stock: single slot
//   - coin: single slot
//   - kiwoom: ordered multi slot; the legacy single-slot view is a projection
//
// All mutation goes through Store (Track, ApplyEvent, ResolveApproval,
// RemoveSession, Reset, Hydrate). The active view is recomputed under the
// same lock as the mutation, so readers never observe a stale aggregate.
package session
