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
	"time"

	internal_fsm "github.com/united-manufacturing-hub/transition/internal/fsm"
	"github.com/united-manufacturing-hub/transition/pkg/callback"
	"github.com/united-manufacturing-hub/transition/pkg/completion"
	"github.com/united-manufacturing-hub/transition/pkg/metrics"
)

const (
	directionEnter  = "enter"
	directionAppear = "appear"
	directionExit   = "exit"
)

// performEnter runs the enter sequence. Caller holds m.mu.
//
// The mounting flag marks the initial activation step. An enter that is
// neither the initial activation nor animated (Enter false), or any enter in
// disabled mode, jumps straight to entered, still invoking OnEntered.
func (m *Machine) performEnter(ctx context.Context, mounting bool) error {
	cfg := m.config
	node := m.node()

	appearing := mounting
	if m.group != nil {
		appearing = mounting && m.groupMounting
	}

	if (!mounting && !cfg.Enter) || Disabled() {
		if err := m.sendEvent(ctx, internal_fsm.EventEnterSkip); err != nil {
			return err
		}
		invokeEnterCallback(cfg.OnEntered, node, appearing)

		return nil
	}

	direction := directionEnter
	if appearing {
		direction = directionAppear
	}

	invokeEnterCallback(cfg.OnEnter, node, appearing)

	if err := m.sendEvent(ctx, internal_fsm.EventEnter); err != nil {
		return err
	}

	invokeEnterCallback(cfg.OnEntering, node, appearing)

	m.sequenceStart = time.Now()
	timeout := cfg.Timeouts.EnterTimeout(appearing)

	var h *callback.Handle
	h = callback.New(func() {
		m.applyCompletion(h, internal_fsm.EventEnterDone, direction, func() {
			invokeEnterCallback(m.config.OnEntered, m.node(), appearing)
		})
	})

	m.pending = h
	m.arm = &armRequest{timeout: timeout, listener: cfg.AddEndListener, node: node, handle: h}

	return nil
}

// performExit runs the exit sequence, symmetric to performEnter. Caller
// holds m.mu.
func (m *Machine) performExit(ctx context.Context) error {
	cfg := m.config
	node := m.node()

	if !cfg.Exit || Disabled() {
		if err := m.sendEvent(ctx, internal_fsm.EventExitSkip); err != nil {
			return err
		}
		invokeExitCallback(cfg.OnExited, node)

		return m.maybeUnmount(ctx)
	}

	invokeExitCallback(cfg.OnExit, node)

	if err := m.sendEvent(ctx, internal_fsm.EventExit); err != nil {
		return err
	}

	invokeExitCallback(cfg.OnExiting, node)

	m.sequenceStart = time.Now()
	timeout := cfg.Timeouts.ExitTimeout()

	var h *callback.Handle
	h = callback.New(func() {
		m.applyCompletion(h, internal_fsm.EventExitDone, directionExit, func() {
			invokeExitCallback(m.config.OnExited, m.node())

			if err := m.maybeUnmount(context.Background()); err != nil {
				m.logger.Warnf("Failed to unmount machine %s after exit: %v", m.base.GetID(), err)
			}
		})
	})

	m.pending = h
	m.arm = &armRequest{timeout: timeout, listener: cfg.AddEndListener, node: node, handle: h}

	return nil
}

// armPending registers the stashed completion signals. It runs without m.mu
// held, so an end listener that invokes done synchronously in its
// registration frame re-enters the machine through applyCompletion like any
// other completion instead of deadlocking on the lock.
//
// Because the lock is dropped between stashing and arming, the handle may
// have been superseded in the meantime; a stale request is skipped and a
// timer armed for a handle that lost the race is stopped again.
func (m *Machine) armPending() {
	m.mu.Lock()
	req := m.arm
	m.arm = nil
	current := req != nil && m.pending != nil && m.pending.ID() == req.handle.ID()
	m.mu.Unlock()

	if !current {
		return
	}

	stop := completion.Schedule(req.timeout, req.listener, req.node, req.handle)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending != nil && m.pending.ID() == req.handle.ID() {
		m.pendingStop = stop
	} else {
		stop()
	}
}

// applyCompletion applies a fired completion handle: it moves the phase to
// its terminal value and invokes the terminal callback, but only if the
// handle is still the machine's pending one. A handle superseded between
// firing and acquiring the lock is stale and applies nothing.
func (m *Machine) applyCompletion(h *callback.Handle, doneEvent, direction string, onDone func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending == nil || m.pending.ID() != h.ID() {
		m.logger.Debugf("Discarding stale completion %d for machine %s", h.ID(), m.base.GetID())

		return
	}
	m.pending = nil
	m.pendingStop = nil

	if err := m.sendEvent(context.Background(), doneEvent); err != nil {
		m.logger.Warnf("Failed to complete %s sequence for machine %s: %v", direction, m.base.GetID(), err)

		return
	}

	metrics.ObserveSequenceDuration(metrics.ComponentTransitionMachine, m.base.GetID(), direction, time.Since(m.sequenceStart))

	onDone()
}

// maybeUnmount lazily unmounts an instance that has settled in exited with
// UnmountOnExit set. Caller holds m.mu.
func (m *Machine) maybeUnmount(ctx context.Context) error {
	if !m.config.UnmountOnExit || m.base.GetCurrentPhase() != PhaseExited {
		return nil
	}

	return m.sendEvent(ctx, internal_fsm.EventUnmount)
}

// cancelPending disarms the in-flight completion, if any. Caller holds m.mu.
// This must always happen before arming a new handle and before destruction.
func (m *Machine) cancelPending() {
	if m.pending == nil {
		return
	}

	m.pending.Cancel()
	if m.pendingStop != nil {
		m.pendingStop()
	}
	m.pending = nil
	m.pendingStop = nil
	m.arm = nil

	metrics.IncInterruptions(metrics.ComponentTransitionMachine, m.base.GetID())
	m.logger.Debugf("Cancelled pending completion for machine %s", m.base.GetID())
}

// sendEvent delivers an event to the base FSM and records the phase change.
// Caller holds m.mu.
func (m *Machine) sendEvent(ctx context.Context, eventName string) error {
	if err := m.base.SendEvent(ctx, eventName); err != nil {
		return err
	}

	phase := m.base.GetCurrentPhase()
	metrics.RecordPhaseChange(metrics.ComponentTransitionMachine, m.base.GetID(), phase)
	m.logger.Debugf("Machine %s moved to phase %s", m.base.GetID(), phase)

	return nil
}

// node resolves the rendered node reference, tolerating both a missing
// accessor and an accessor returning nil. Caller holds m.mu.
func (m *Machine) node() any {
	if m.config.GetNode == nil {
		return nil
	}

	return m.config.GetNode()
}

// flushNode forces a layout flush before an enter that follows a mount, so
// the resting state is committed before the active state is applied and the
// two cannot be coalesced into one paint. Caller holds m.mu.
func (m *Machine) flushNode() {
	if m.config.FlushNode == nil {
		return
	}

	if node := m.node(); node != nil {
		m.config.FlushNode(node)
	}
}

func invokeEnterCallback(cb func(node any, appearing bool), node any, appearing bool) {
	if cb != nil {
		cb(node, appearing)
	}
}

func invokeExitCallback(cb func(node any), node any) {
	if cb != nil {
		cb(node)
	}
}
