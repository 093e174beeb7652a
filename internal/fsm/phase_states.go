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

const (
	// EventMount is triggered to bring a lazily mounted instance into exited
	EventMount = "mount"
	// EventUnmount is triggered to unmount an instance settled in exited
	EventUnmount = "unmount"
	// EventEnter is triggered to start the enter sequence
	EventEnter = "enter"
	// EventEnterDone is triggered when the enter sequence has completed
	EventEnterDone = "enter_done"
	// EventEnterSkip jumps directly to entered, bypassing the animated sequence
	EventEnterSkip = "enter_skip"
	// EventExit is triggered to start the exit sequence
	EventExit = "exit"
	// EventExitDone is triggered when the exit sequence has completed
	EventExitDone = "exit_done"
	// EventExitSkip jumps directly to exited, bypassing the animated sequence
	EventExitSkip = "exit_skip"
)

// Phase constants represent the lifecycle phases a transition instance can be in
const (
	// PhaseUnmounted indicates the component is not rendered at all
	PhaseUnmounted = "unmounted"
	// PhaseExited indicates the component is rendered but at rest in its hidden state
	PhaseExited = "exited"
	// PhaseEntering indicates the enter sequence is in flight
	PhaseEntering = "entering"
	// PhaseEntered indicates the component is at rest in its shown state
	PhaseEntered = "entered"
	// PhaseExiting indicates the exit sequence is in flight
	PhaseExiting = "exiting"
)

// IsTransitionPhase returns true for the two in-flight phases, the only
// phases during which a completion handle may be pending.
func IsTransitionPhase(phase string) bool {
	switch phase {
	case PhaseEntering, PhaseExiting:
		return true
	default:
		return false
	}
}

// IsValidPhase returns true if the given string is one of the five phases.
func IsValidPhase(phase string) bool {
	switch phase {
	case PhaseUnmounted, PhaseExited, PhaseEntering, PhaseEntered, PhaseExiting:
		return true
	default:
		return false
	}
}
