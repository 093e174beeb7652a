// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package callback provides the scoped cancellable completion handle used by
// the transition machine. A handle fires its wrapped function at most once
// and can be made permanently inert before it fires. Each handle carries a
// monotonically increasing generation id so an owner can tell a stale
// completion from the current one.
package callback

import (
	"sync"
	"sync/atomic"
)

var generation atomic.Uint64

// Handle wraps a completion function with at-most-once and cancellation
// semantics. The zero value is not usable; create handles with New.
//
// Arming a new handle does not cancel a previously armed one. The owner must
// cancel the old handle first; that ordering is a correctness requirement of
// the transition machine, not something the handle enforces.
type Handle struct {
	mu        sync.Mutex
	fn        func()
	id        uint64
	fired     bool
	cancelled bool
}

// New creates an armed handle around fn.
func New(fn func()) *Handle {
	return &Handle{
		fn: fn,
		id: generation.Add(1),
	}
}

// ID returns the handle's generation id.
func (h *Handle) ID() uint64 {
	return h.id
}

// Fire invokes the wrapped function unless the handle already fired or was
// cancelled. Subsequent calls are no-ops. The function runs outside the
// handle lock so it may cancel or inspect the handle itself.
func (h *Handle) Fire() {
	h.mu.Lock()
	if h.fired || h.cancelled {
		h.mu.Unlock()
		return
	}
	h.fired = true
	fn := h.fn
	h.fn = nil
	h.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Cancel marks the handle permanently inert without firing it. Cancelling an
// already-fired or already-cancelled handle is a no-op.
func (h *Handle) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.fired || h.cancelled {
		return
	}
	h.cancelled = true
	h.fn = nil
}

// Fired reports whether the handle has fired.
func (h *Handle) Fired() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.fired
}

// Cancelled reports whether the handle was cancelled before firing.
func (h *Handle) Cancelled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.cancelled
}
