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

package fsm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"
)

// ExpectedMaxExecutionTimePerEvent is the minimum context lifetime required
// to start a phase transition. Transitions interrupted by an expiring context
// leave the underlying FSM mid-transition, so it is better to refuse late
// events than to start them.
const ExpectedMaxExecutionTimePerEvent = 10 * time.Millisecond

// BasePhaseInstance implements the shared phase bookkeeping for a transition
// machine: the phase graph, per-phase enter callbacks and guarded event
// delivery. The machine wraps this to add sequencing, completion arming and
// user callbacks.
type BasePhaseInstance struct {
	cfg BasePhaseInstanceConfig

	// mu protects concurrent access to the underlying FSM
	mu sync.RWMutex

	// fsm is the finite state machine holding the current phase
	fsm *fsm.FSM

	// Registered "enter_state" callbacks, purely for logging or minor side-effects.
	callbacks map[string]fsm.Callback

	// logger is the logger for the phase instance
	logger *zap.SugaredLogger
}

// BasePhaseInstanceConfig holds parameters for setting up the base phase instance.
type BasePhaseInstanceConfig struct {
	ID string

	// InitialPhase is the phase the instance starts in, decided by the
	// machine from the initial intent and mount flags.
	InitialPhase string
}

// NewBasePhaseInstance sets up a new phase FSM with the full transition
// graph. Which edges are actually taken is decided by the owning machine;
// the graph itself admits every legal phase change and nothing else.
func NewBasePhaseInstance(cfg BasePhaseInstanceConfig, logger *zap.SugaredLogger) *BasePhaseInstance {
	instance := &BasePhaseInstance{
		cfg:       cfg,
		callbacks: make(map[string]fsm.Callback),
		logger:    logger,
	}

	events := []fsm.EventDesc{
		{Name: EventMount, Src: []string{PhaseUnmounted}, Dst: PhaseExited},
		{Name: EventUnmount, Src: []string{PhaseExited}, Dst: PhaseUnmounted},

		// An enter may interrupt an in-flight exit, and vice versa. The
		// skip edges additionally admit jumps out of the in-flight phase
		// of the same direction for the disabled mode.
		{Name: EventEnter, Src: []string{PhaseExited, PhaseExiting}, Dst: PhaseEntering},
		{Name: EventEnterDone, Src: []string{PhaseEntering}, Dst: PhaseEntered},
		{Name: EventEnterSkip, Src: []string{PhaseExited, PhaseExiting, PhaseEntering}, Dst: PhaseEntered},

		{Name: EventExit, Src: []string{PhaseEntering, PhaseEntered}, Dst: PhaseExiting},
		{Name: EventExitDone, Src: []string{PhaseExiting}, Dst: PhaseExited},
		{Name: EventExitSkip, Src: []string{PhaseEntering, PhaseEntered}, Dst: PhaseExited},
	}

	instance.fsm = fsm.NewFSM(
		cfg.InitialPhase,
		fsm.Events(events),
		fsm.Callbacks{
			"enter_state": func(ctx context.Context, e *fsm.Event) {
				if cb, ok := instance.callbacks["enter_"+e.Dst]; ok {
					cb(ctx, e)
				}
			},
		},
	)

	instance.AddCallback("enter_"+PhaseEntering, func(ctx context.Context, e *fsm.Event) {
		instance.logger.Debugf("Entering phase entering for instance %s", instance.cfg.ID)
	})

	instance.AddCallback("enter_"+PhaseExiting, func(ctx context.Context, e *fsm.Event) {
		instance.logger.Debugf("Entering phase exiting for instance %s", instance.cfg.ID)
	})

	instance.AddCallback("enter_"+PhaseUnmounted, func(ctx context.Context, e *fsm.Event) {
		instance.logger.Debugf("Entering phase unmounted for instance %s", instance.cfg.ID)
	})

	return instance
}

// AddCallback adds a callback for a given event name
func (s *BasePhaseInstance) AddCallback(eventName string, callback fsm.Callback) {
	s.callbacks[eventName] = callback
}

// GetCurrentPhase returns the current phase of the instance
func (s *BasePhaseInstance) GetCurrentPhase() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.fsm.Current()
}

// SetCurrentPhase sets the current phase directly, bypassing the graph.
// This should only be called in tests.
func (s *BasePhaseInstance) SetCurrentPhase(phase string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fsm.SetState(phase)
}

// Is returns true if the current phase equals the given phase
func (s *BasePhaseInstance) Is(phase string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.fsm.Is(phase)
}

// SendEvent sends an event to the FSM and returns whether it was processed.
//
// A context that expires mid-transition leaves the FSM's internal transition
// state set, making every later event fail with "previous transition did not
// complete". To avoid that, events are rejected up front when the context is
// already cancelled or too close to its deadline to finish a transition.
func (s *BasePhaseInstance) SendEvent(ctx context.Context, eventName string, args ...interface{}) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if deadline, ok := ctx.Deadline(); ok {
		if time.Until(deadline) < ExpectedMaxExecutionTimePerEvent {
			return fmt.Errorf("context deadline exceeded")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.fsm.Event(ctx, eventName, args...)
}

// GetID returns the instance ID
func (s *BasePhaseInstance) GetID() string {
	return s.cfg.ID
}

// GetLogger returns the instance logger
func (s *BasePhaseInstance) GetLogger() *zap.SugaredLogger {
	return s.logger
}

// IsInvalidTransition checks if the error reports an event that is not legal
// from the current phase. The machine treats these as a degraded no-op: the
// phase stays where it is and the failure is logged, never propagated as a
// stuck state.
func IsInvalidTransition(err error) bool {
	if err == nil {
		return false
	}

	var invalidEvent fsm.InvalidEventError
	if errors.As(err, &invalidEvent) {
		return true
	}

	var noTransition fsm.NoTransitionError

	return errors.As(err, &noTransition)
}
