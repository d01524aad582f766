// Package cctld decides which two-label suffixes (co.uk, com.au, ...) need
// a third label to reach the registrable domain of a host.
package cctld

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrWhitelistUnavailable is logged when the source cannot be loaded
var ErrWhitelistUnavailable = errors.New("ccTLD whitelist unavailable")

const loadTimeout = time.Minute

// Whitelist loads its source on first use and keeps the result for its
// lifetime. A failed load leaves it empty.
type Whitelist struct {
	source Source
	log    *zap.SugaredLogger

	once sync.Once
	set  map[string]struct{}
}

// Option configures a Whitelist
type Option func(*Whitelist)

// WithLogger sets the logger used to report load failures
func WithLogger(log *zap.SugaredLogger) Option {
	return func(w *Whitelist) {
		if log != nil {
			w.log = log
		}
	}
}

// New creates a whitelist backed by source. A nil source yields an empty list.
func New(source Source, opts ...Option) *Whitelist {
	w := &Whitelist{
		source: source,
		log:    zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// IsSecondLevel reports whether suffix is listed. Matching is exact and
// case-sensitive.
func (w *Whitelist) IsSecondLevel(ctx context.Context, suffix string) bool {
	w.load(ctx)
	_, ok := w.set[suffix]
	return ok
}

// Len returns the number of loaded suffixes, loading them if needed
func (w *Whitelist) Len(ctx context.Context) int {
	w.load(ctx)
	return len(w.set)
}

func (w *Whitelist) load(ctx context.Context) {
	w.once.Do(func() {
		w.set = map[string]struct{}{}
		if w.source == nil {
			return
		}

		// Loaded once for all callers; the first caller's cancellation does not apply
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()

		set, err := w.source.Load(ctx)
		if err != nil {
			w.log.Warnw("using empty ccTLD whitelist", "error", errors.Join(ErrWhitelistUnavailable, err))
			return
		}
		w.set = set
		w.log.Debugw("loaded ccTLD whitelist", "entries", len(set))
	})
}
