package capcache

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The engine calls them on hot paths, sometimes while holding a key lock.
type Hooks interface {
	// Store was refused because every slot is taken.
	CapacityRejected(key string, max int64)

	// Backend write failed after a fresh reservation; the slot was released.
	// err is the release error, nil when the rollback itself succeeded.
	StoreRolledBack(key string, err error)

	// Guard and backend disagree (backend ceiling hit, release of a slot
	// that was not held).
	InternalFault(key string, err error)

	// Reaper could not remove an expired entry; it is retried next cycle.
	ReapFailed(key string, err error)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) CapacityRejected(string, int64) {}
func (NopHooks) StoreRolledBack(string, error)  {}
func (NopHooks) InternalFault(string, error)    {}
func (NopHooks) ReapFailed(string, error)       {}
