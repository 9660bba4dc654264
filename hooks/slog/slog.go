// Package sloghook logs engine hooks through log/slog with sampling and key
// redaction.
package sloghook

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/capcache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	RejectEvery   uint64
	ReapFailEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	rejectCtr   atomic.Uint64
	reapFailCtr atomic.Uint64
}

var _ capcache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) CapacityRejected(key string, max int64) {
	if h.l == nil || !sample(h.opts.RejectEvery, &h.rejectCtr) {
		return
	}
	h.l.Info("capcache.capacity_rejected",
		"key", h.redact(key),
		"max", max)
}

func (h *Hooks) StoreRolledBack(key string, err error) {
	if h.l == nil {
		return
	}
	if err != nil {
		h.l.Error("capcache.rollback_failed",
			"key", h.redact(key),
			"err", err)
		return
	}
	h.l.Warn("capcache.store_rolled_back",
		"key", h.redact(key))
}

func (h *Hooks) InternalFault(key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("capcache.internal_fault",
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) ReapFailed(key string, err error) {
	if h.l == nil || !sample(h.opts.ReapFailEvery, &h.reapFailCtr) {
		return
	}
	h.l.Warn("capcache.reap_failed",
		"key", h.redact(key),
		"err", err)
}
