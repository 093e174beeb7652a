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
	"context"

	"github.com/google/uuid"

	internal_fsm "github.com/united-manufacturing-hub/transition/internal/fsm"
	"github.com/united-manufacturing-hub/transition/pkg/config"
	"github.com/united-manufacturing-hub/transition/pkg/logger"
	"github.com/united-manufacturing-hub/transition/pkg/metrics"
)

// NewMachine creates a machine from the initial config and computes its
// starting phase synchronously, before any observer can read it:
//
//   - In and no appear warranted: entered
//   - In with an appear sequence warranted: exited, with the enter recorded
//     as the appear intent for Activate
//   - not In: exited, or unmounted when MountOnEnter or UnmountOnExit ask
//     for physical absence
//
// Inside a coordinating container the appear decision follows the container:
// children added after the initial batch mount use the Enter flag as their
// appear flag, children present during the batch mount use Appear.
func NewMachine(cfg config.TransitionConfig, opts ...Option) *Machine {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}

	m := &Machine{
		config: cfg.Clone(),
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.logger == nil {
		m.logger = logger.For(cfg.ID)
	}

	appearFlag := cfg.Appear
	if m.group != nil {
		m.groupMounting = m.group.IsMounting()
		if !m.groupMounting {
			appearFlag = cfg.Enter
		}
	}

	var initialPhase string

	switch {
	case cfg.In && appearFlag:
		initialPhase = PhaseExited
		m.appearIntent = PhaseEntering
	case cfg.In:
		initialPhase = PhaseEntered
	case cfg.MountOnEnter || cfg.UnmountOnExit:
		initialPhase = PhaseUnmounted
	default:
		initialPhase = PhaseExited
	}

	m.base = internal_fsm.NewBasePhaseInstance(internal_fsm.BasePhaseInstanceConfig{
		ID:           cfg.ID,
		InitialPhase: initialPhase,
	}, m.logger)

	metrics.InitPhaseMetrics(metrics.ComponentTransitionMachine, cfg.ID, initialPhase)

	m.logger.Debugf("Created transition machine %s in phase %s", cfg.ID, initialPhase)

	return m
}

// Activate runs the initial activation step, once, after the owning
// component has mounted. If creation recorded an appear intent, the enter
// sequence runs now with mounting semantics; otherwise Activate is a no-op.
func (m *Machine) Activate(ctx context.Context) error {
	m.mu.Lock()
	defer m.armPending()
	defer m.mu.Unlock()

	if m.appearIntent != PhaseEntering {
		return nil
	}
	m.appearIntent = ""

	return m.performEnter(ctx, true)
}

// Update reacts to an intent or config change. The decision table:
//
//   - In and phase is neither entering nor entered: start the enter sequence
//   - not In and phase is entering or entered: start the exit sequence
//   - no transition triggered, UnmountOnExit set and phase is exited: lazily
//     unmount
//
// A triggered transition always cancels the pending completion handle before
// arming a new one. A re-entry wins over the lazy unmount when both would
// apply to the same update.
func (m *Machine) Update(ctx context.Context, next config.TransitionConfig) error {
	m.mu.Lock()
	defer m.armPending()
	defer m.mu.Unlock()

	next.ID = m.base.GetID()

	// A lazily unmounted instance mounts back into exited before entering.
	if next.In && m.base.GetCurrentPhase() == PhaseUnmounted {
		if err := m.sendEvent(ctx, internal_fsm.EventMount); err != nil {
			return err
		}
	}

	m.config = next.Clone()
	phase := m.base.GetCurrentPhase()

	switch {
	case next.In && phase != PhaseEntering && phase != PhaseEntered:
		m.cancelPending()

		if next.MountOnEnter || next.UnmountOnExit {
			m.flushNode()
		}

		return m.performEnter(ctx, false)

	case !next.In && (phase == PhaseEntering || phase == PhaseEntered):
		m.cancelPending()

		return m.performExit(ctx)

	case next.UnmountOnExit && phase == PhaseExited:
		return m.maybeUnmount(ctx)
	}

	return nil
}

// Destroy cancels any pending completion handle and performs no further
// phase changes. Destroying mid-transition is not an error; the stale
// completion simply never applies.
func (m *Machine) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancelPending()
	m.appearIntent = ""

	m.logger.Debugf("Destroyed transition machine %s", m.base.GetID())
}

// Phase returns the current phase as a render-time read.
func (m *Machine) Phase() string {
	return m.base.GetCurrentPhase()
}

// ID returns the machine's instance ID.
func (m *Machine) ID() string {
	return m.base.GetID()
}

// Config returns a deep copy of the machine's current config.
func (m *Machine) Config() config.TransitionConfig {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.config.Clone()
}

// Project calls fn with the current phase and a config snapshot, returning
// true. When the phase is unmounted the component is not rendered, fn is not
// called and Project returns false.
func (m *Machine) Project(fn func(phase string, cfg config.TransitionConfig)) bool {
	phase := m.base.GetCurrentPhase()
	if phase == PhaseUnmounted {
		return false
	}

	m.mu.Lock()
	cfg := m.config.Clone()
	m.mu.Unlock()

	fn(phase, cfg)

	return true
}
