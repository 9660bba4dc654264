// Package capcache is a short-lived object cache with a hard global limit on
// live entries.
//
// Clients store opaque payloads under UUID identifiers; each entry lives for
// a bounded TTL and is then removed by a background reaper. The number of
// live entries never exceeds the configured maximum, even under unbounded
// concurrent writers or when several engine instances share one backend.
//
// Components:
//   - ident.Service: mints/validates identifiers and derives storage keys.
//   - capacity.Guard: atomic slot accounting (Local or Redis).
//   - backend.Backend: entry store (memory, ristretto, bigcache, redis).
//   - Engine: orchestrates the three; owns the reaper.
//
// Keys:
//
//	<prefix><uuid>     - entry payload
//	<ns>capacity:held  - redis guard slot set
//	<ns>expiry         - redis backend expiry index
//
// Entry lifecycle:
//
//	nonexistent -> reserved -> stored -> expired|deleted -> nonexistent
//
// A reservation never outlives the Store call that took it: either the
// backend write succeeds or the slot is released before Store returns.
package capcache
