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

package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/tiendc/go-deepcopy"
	"gopkg.in/yaml.v3"
)

// EndListener is a caller-supplied completion hook. When present, the caller
// is responsible for eventually invoking done; the configured timeout (if any)
// acts as a ceiling.
type EndListener func(node any, done func())

// EnterCallback is invoked on the enter side of a transition. The appearing
// flag is true when the transition is the instance's initial appear sequence.
type EnterCallback func(node any, appearing bool)

// ExitCallback is invoked on the exit side of a transition.
type ExitCallback func(node any)

// TransitionConfig holds the per-update inputs that drive a transition
// machine. It is treated as immutable once handed to the machine; the machine
// keeps its own deep copy.
type TransitionConfig struct {
	// ID identifies the machine instance in logs and metrics.
	// Generated if empty.
	ID string `yaml:"id"`

	// In is the desired presence of the component.
	In bool `yaml:"in"`

	// Appear, Enter and Exit control whether the respective transition is
	// animated. When false the machine jumps directly to the resting phase.
	Appear bool `yaml:"appear"`
	Enter  bool `yaml:"enter"`
	Exit   bool `yaml:"exit"`

	// MountOnEnter keeps the component unmounted until its first enter.
	MountOnEnter bool `yaml:"mountOnEnter"`
	// UnmountOnExit unmounts the component once it has settled in exited.
	UnmountOnExit bool `yaml:"unmountOnExit"`

	// Timeouts bounds how long the machine waits for completion. Nil means
	// the end listener is solely responsible for signalling completion.
	Timeouts *Timeout `yaml:"timeout"`

	// AddEndListener delegates completion detection to the caller.
	AddEndListener EndListener `yaml:"-"`

	// GetNode resolves the rendered node reference. May be nil or return nil;
	// the machine then degrades to timer-only or deferred completion.
	GetNode func() any `yaml:"-"`

	// FlushNode forces a layout flush on the node before an enter sequence
	// that follows a mount, so the resting state is committed before the
	// active state is applied.
	FlushNode func(node any) `yaml:"-"`

	OnEnter    EnterCallback `yaml:"-"`
	OnEntering EnterCallback `yaml:"-"`
	OnEntered  EnterCallback `yaml:"-"`
	OnExit     ExitCallback  `yaml:"-"`
	OnExiting  ExitCallback  `yaml:"-"`
	OnExited   ExitCallback  `yaml:"-"`
}

// Clone returns a deep copy of the config. Function fields are carried over
// as-is since deep-copying a closure is meaningless.
func (c TransitionConfig) Clone() TransitionConfig {
	out := c

	if c.Timeouts != nil {
		out.Timeouts = &Timeout{}
		if err := deepcopy.Copy(out.Timeouts, c.Timeouts); err != nil {
			// The timeout struct is plain data; a copy failure indicates a
			// programming error, not an input error.
			panic(fmt.Sprintf("failed to clone transition timeouts: %v", err))
		}
	}

	return out
}

// Timeout bounds the enter, exit and appear sequences independently. Appear
// falls back to Enter when not set.
type Timeout struct {
	Enter  *time.Duration `yaml:"enter"`
	Exit   *time.Duration `yaml:"exit"`
	Appear *time.Duration `yaml:"appear"`
}

// Uniform returns a Timeout applying d to every sequence.
func Uniform(d time.Duration) *Timeout {
	return &Timeout{Enter: &d, Exit: &d}
}

// EnterTimeout resolves the duration for an enter sequence. The appearing
// flag selects the appear duration, defaulting to the enter duration.
// Invalid (negative) durations resolve to nil, meaning the end listener or
// the deferred-fire path takes over.
func (t *Timeout) EnterTimeout(appearing bool) *time.Duration {
	if t == nil {
		return nil
	}
	if appearing && t.Appear != nil {
		return sanitize(t.Appear)
	}

	return sanitize(t.Enter)
}

// ExitTimeout resolves the duration for an exit sequence.
func (t *Timeout) ExitTimeout() *time.Duration {
	if t == nil {
		return nil
	}

	return sanitize(t.Exit)
}

func sanitize(d *time.Duration) *time.Duration {
	if d == nil || *d < 0 {
		return nil
	}

	return d
}

// UnmarshalYAML accepts either a scalar duration applied uniformly to enter
// and exit, or a mapping with enter/exit/appear keys. Bare integers are
// interpreted as milliseconds; strings use Go duration syntax.
func (t *Timeout) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		d, err := parseDuration(value.Value)
		if err != nil {
			return fmt.Errorf("invalid timeout %q: %w", value.Value, err)
		}
		t.Enter = &d
		exit := d
		t.Exit = &exit

		return nil
	}

	type plain struct {
		Enter  *string `yaml:"enter"`
		Exit   *string `yaml:"exit"`
		Appear *string `yaml:"appear"`
	}

	var p plain
	if err := value.Decode(&p); err != nil {
		return fmt.Errorf("invalid timeout mapping: %w", err)
	}

	var err error
	if t.Enter, err = parseOptional(p.Enter); err != nil {
		return fmt.Errorf("invalid enter timeout: %w", err)
	}
	if t.Exit, err = parseOptional(p.Exit); err != nil {
		return fmt.Errorf("invalid exit timeout: %w", err)
	}
	if t.Appear, err = parseOptional(p.Appear); err != nil {
		return fmt.Errorf("invalid appear timeout: %w", err)
	}

	return nil
}

func parseOptional(s *string) (*time.Duration, error) {
	if s == nil {
		return nil, nil
	}

	d, err := parseDuration(*s)
	if err != nil {
		return nil, err
	}

	return &d, nil
}

func parseDuration(s string) (time.Duration, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}

	return time.ParseDuration(s)
}

// ParseTransitionConfig decodes a YAML document into a TransitionConfig.
// Callback and node accessor fields cannot be expressed in YAML and stay nil.
func ParseTransitionConfig(data []byte) (TransitionConfig, error) {
	var cfg TransitionConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return TransitionConfig{}, fmt.Errorf("failed to parse transition config: %w", err)
	}

	return cfg, nil
}
