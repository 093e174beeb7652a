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

// Package group implements the coordinating container for transition
// machines. A group is "mounting" between its creation and FinishMounting;
// machines created in that window treat their first activation as an appear
// sequence, machines added afterwards follow their Enter flag.
package group

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/transition/pkg/logger"
	"github.com/united-manufacturing-hub/transition/pkg/transition"
)

// Group coordinates a set of transition machines. It implements
// transition.Coordinator.
type Group struct {
	name string

	// mu protects the machine registry and the mounting flag
	mu sync.RWMutex

	mounting bool

	machines map[string]*transition.Machine

	logger *zap.SugaredLogger
}

// New creates a group in its initial-population phase. Callers add the
// initial children and then call FinishMounting.
func New(name string) *Group {
	if name == "" {
		name = uuid.NewString()
	}

	return &Group{
		name:     name,
		mounting: true,
		machines: make(map[string]*transition.Machine),
		logger:   logger.For(name),
	}
}

// IsMounting reports whether the group is still batch-mounting its initial
// children. Machines read this exactly once, at creation.
func (g *Group) IsMounting() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.mounting
}

// FinishMounting ends the initial-population phase. Machines added from now
// on treat their first activation per their Enter flag.
func (g *Group) FinishMounting() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.mounting {
		return
	}
	g.mounting = false

	g.logger.Debugf("Group %s finished mounting with %d machines", g.name, len(g.machines))
}

// Add registers a machine under its own ID.
func (g *Group) Add(m *transition.Machine) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := m.ID()
	if _, exists := g.machines[id]; exists {
		return fmt.Errorf("machine %s already registered in group %s", id, g.name)
	}
	g.machines[id] = m

	g.logger.Debugf("Added machine %s to group %s", id, g.name)

	return nil
}

// Remove destroys and unregisters a machine. Removing an unknown ID is a
// no-op, mirroring idempotent removal elsewhere in the lifecycle.
func (g *Group) Remove(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	m, ok := g.machines[id]
	if !ok {
		return
	}
	m.Destroy()
	delete(g.machines, id)

	g.logger.Debugf("Removed machine %s from group %s", id, g.name)
}

// Get returns the machine registered under id.
func (g *Group) Get(id string) (*transition.Machine, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	m, ok := g.machines[id]

	return m, ok
}

// Len returns the number of registered machines.
func (g *Group) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return len(g.machines)
}

// ForEach calls fn for every registered machine. The registry lock is held
// during iteration; fn must not add or remove machines.
func (g *Group) ForEach(fn func(id string, m *transition.Machine)) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for id, m := range g.machines {
		fn(id, m)
	}
}

// SetIn flips the presence intent of every registered machine. Staggering is
// the caller's concern; this applies one shared intent. The first error is
// returned but the fan-out continues, so one failing child does not leave
// its siblings with a stale intent.
func (g *Group) SetIn(ctx context.Context, in bool) error {
	g.mu.RLock()
	machines := make([]*transition.Machine, 0, len(g.machines))
	for _, m := range g.machines {
		machines = append(machines, m)
	}
	g.mu.RUnlock()

	var firstErr error

	for _, m := range machines {
		cfg := m.Config()
		cfg.In = in

		if err := m.Update(ctx, cfg); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// DestroyAll destroys every machine and empties the registry.
func (g *Group) DestroyAll() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for id, m := range g.machines {
		m.Destroy()
		delete(g.machines, id)
	}

	g.logger.Debugf("Destroyed all machines in group %s", g.name)
}
