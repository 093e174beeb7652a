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

// Package completion arranges for a transition's completion handle to fire
// exactly once via whichever end-of-transition signal is available: a
// caller-supplied end listener, a timer ceiling, or a deferred immediate
// fire when neither applies. The handle's own at-most-once guarantee makes
// it harmless when both the listener and the timer fire.
package completion

import (
	"time"

	"github.com/united-manufacturing-hub/transition/pkg/callback"
	"github.com/united-manufacturing-hub/transition/pkg/config"
)

// Schedule arms h according to the available completion signals:
//
//   - no node, or neither timeout nor listener: h fires on the next timer
//     tick, never synchronously in the calling frame, so the owner keeps a
//     cancellation window between arming and firing;
//   - listener present: the listener receives the node and h.Fire as done;
//   - timeout present: a timer fires h after the duration as a fallback
//     ceiling, possibly alongside the listener.
//
// The listener runs in the calling frame and may invoke done before Schedule
// returns, so callers must not hold locks that the fired completion path
// acquires.
//
// The returned stop function stops any armed timer. It does not cancel h;
// cancelling the handle is the owner's job and also neutralizes the
// listener path.
func Schedule(timeout *time.Duration, listener config.EndListener, node any, h *callback.Handle) (stop func()) {
	if node == nil || (timeout == nil && listener == nil) {
		t := time.AfterFunc(0, h.Fire)
		return func() { t.Stop() }
	}

	if listener != nil {
		listener(node, h.Fire)
	}

	if timeout != nil {
		t := time.AfterFunc(*timeout, h.Fire)
		return func() { t.Stop() }
	}

	return func() {}
}
