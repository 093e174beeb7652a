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

package transition

import (
	"sync"
	"time"

	"go.uber.org/zap"

	internal_fsm "github.com/united-manufacturing-hub/transition/internal/fsm"
	"github.com/united-manufacturing-hub/transition/pkg/callback"
	"github.com/united-manufacturing-hub/transition/pkg/config"
)

// Phase constants re-exported for callers; the values are the FSM states.
const (
	PhaseUnmounted = internal_fsm.PhaseUnmounted
	PhaseExited    = internal_fsm.PhaseExited
	PhaseEntering  = internal_fsm.PhaseEntering
	PhaseEntered   = internal_fsm.PhaseEntered
	PhaseExiting   = internal_fsm.PhaseExiting
)

// Coordinator is the group coordination read. A machine created inside a
// coordinating container reads IsMounting exactly once, at creation, to
// decide whether its first activation counts as "appear" (the container is
// batch-mounting its initial children) or "enter" (the child was added
// later).
type Coordinator interface {
	IsMounting() bool
}

// Machine drives one component instance through the phase lifecycle in
// response to intent changes and completion signals.
//
// All mutations happen under the machine lock; at most one completion handle
// is pending at any time, and arming a new one always cancels its
// predecessor first. A completion only applies if its handle is still the
// pending one, so a stale timer or listener firing late can never corrupt a
// newer transition.
//
// The machine is not reentrant: lifecycle callbacks and Project functions
// must not call back into the machine.
type Machine struct {
	base *internal_fsm.BasePhaseInstance

	// mu serializes intent changes, completions and destruction
	mu sync.Mutex

	// config is the machine's own deep copy of the latest supplied config
	config config.TransitionConfig

	group Coordinator
	// groupMounting is the one-time IsMounting read taken at creation
	groupMounting bool

	// appearIntent holds the first transition to run on activation, set at
	// creation when an appear sequence is warranted
	appearIntent string

	// pending is the single in-flight completion handle, non-nil only while
	// the phase is entering or exiting
	pending     *callback.Handle
	pendingStop func()

	// arm holds a completion arming request stashed by the sequences while
	// the machine lock is held. The listener registration itself runs after
	// the lock is released, so a listener invoking done synchronously in its
	// registration frame cannot deadlock the machine.
	arm *armRequest

	sequenceStart time.Time

	logger *zap.SugaredLogger
}

// armRequest carries the parameters for arming a completion signal from the
// locked sequence step to the unlocked arming step.
type armRequest struct {
	timeout  *time.Duration
	listener config.EndListener
	node     any
	handle   *callback.Handle
}

// Option configures a Machine at creation.
type Option func(*Machine)

// WithGroup attaches the machine to a coordinating container.
func WithGroup(group Coordinator) Option {
	return func(m *Machine) {
		m.group = group
	}
}

// WithLogger overrides the component logger, mainly for tests.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(m *Machine) {
		m.logger = logger
	}
}
