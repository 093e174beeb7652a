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
	"fmt"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap/zaptest"

	"github.com/united-manufacturing-hub/transition/pkg/config"
)

func TestMachine(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Machine Suite")
}

// recorder collects lifecycle callback invocations. Callbacks fire from
// timer goroutines, so access is locked.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.calls...)
}

func (r *recorder) Has(call string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.calls {
		if c == call {
			return true
		}
	}

	return false
}

// recordedConfig wires all six lifecycle callbacks into the recorder.
func recordedConfig(rec *recorder, cfg config.TransitionConfig) config.TransitionConfig {
	cfg.OnEnter = func(node any, appearing bool) { rec.add(fmt.Sprintf("onEnter:%t", appearing)) }
	cfg.OnEntering = func(node any, appearing bool) { rec.add(fmt.Sprintf("onEntering:%t", appearing)) }
	cfg.OnEntered = func(node any, appearing bool) { rec.add(fmt.Sprintf("onEntered:%t", appearing)) }
	cfg.OnExit = func(node any) { rec.add("onExit") }
	cfg.OnExiting = func(node any) { rec.add("onExiting") }
	cfg.OnExited = func(node any) { rec.add("onExited") }

	return cfg
}

var _ = Describe("Machine", func() {
	var (
		rec *recorder
		ctx context.Context
	)

	shortTimeout := 20 * time.Millisecond

	newMachine := func(cfg config.TransitionConfig, opts ...Option) *Machine {
		opts = append(opts, WithLogger(zaptest.NewLogger(GinkgoT()).Sugar()))

		return NewMachine(recordedConfig(rec, cfg), opts...)
	}

	BeforeEach(func() {
		rec = &recorder{}
		ctx = context.Background()
	})

	Context("when computing the initial phase", func() {
		It("should start entered when in without an appear animation", func() {
			m := newMachine(config.TransitionConfig{In: true, Enter: true})
			Expect(m.Phase()).To(Equal(PhaseEntered))
			Expect(rec.Calls()).To(BeEmpty())
		})

		It("should start exited when in with an appear animation pending", func() {
			m := newMachine(config.TransitionConfig{In: true, Appear: true, Enter: true})
			Expect(m.Phase()).To(Equal(PhaseExited))
		})

		It("should start exited when not in", func() {
			m := newMachine(config.TransitionConfig{Enter: true})
			Expect(m.Phase()).To(Equal(PhaseExited))
		})

		It("should start unmounted when not in and mount is lazy", func() {
			Expect(newMachine(config.TransitionConfig{MountOnEnter: true}).Phase()).To(Equal(PhaseUnmounted))
			Expect(newMachine(config.TransitionConfig{UnmountOnExit: true}).Phase()).To(Equal(PhaseUnmounted))
		})
	})

	Context("when running the appear sequence", func() {
		It("should run the enter sequence with the appearing flag set", func() {
			m := newMachine(config.TransitionConfig{
				In:       true,
				Appear:   true,
				Enter:    true,
				Timeouts: config.Uniform(shortTimeout),
			})

			Expect(m.Activate(ctx)).To(Succeed())
			Expect(m.Phase()).To(Equal(PhaseEntering))
			Expect(rec.Calls()).To(Equal([]string{"onEnter:true", "onEntering:true"}))

			Eventually(m.Phase).Should(Equal(PhaseEntered))
			Expect(rec.Calls()).To(Equal([]string{"onEnter:true", "onEntering:true", "onEntered:true"}))
		})

		It("should be a no-op without a recorded appear intent", func() {
			m := newMachine(config.TransitionConfig{In: true, Enter: true})

			Expect(m.Activate(ctx)).To(Succeed())
			Expect(m.Phase()).To(Equal(PhaseEntered))
			Expect(rec.Calls()).To(BeEmpty())
		})
	})

	Context("when the intent flips to in", func() {
		It("should walk exited, entering, entered and fire the callbacks in order", func() {
			cfg := config.TransitionConfig{Enter: true, Exit: true, Timeouts: config.Uniform(shortTimeout)}
			m := newMachine(cfg)
			Expect(m.Phase()).To(Equal(PhaseExited))

			cfg.In = true
			Expect(m.Update(ctx, recordedConfig(rec, cfg))).To(Succeed())

			// onEnter and onEntering fire synchronously at the two immediate steps.
			Expect(m.Phase()).To(Equal(PhaseEntering))
			Expect(rec.Calls()).To(Equal([]string{"onEnter:false", "onEntering:false"}))

			Eventually(m.Phase).Should(Equal(PhaseEntered))
			Expect(rec.Calls()).To(Equal([]string{"onEnter:false", "onEntering:false", "onEntered:false"}))
		})

		It("should jump directly to entered when enter is not animated", func() {
			cfg := config.TransitionConfig{Exit: true, Timeouts: config.Uniform(shortTimeout)}
			m := newMachine(cfg)

			cfg.In = true
			Expect(m.Update(ctx, recordedConfig(rec, cfg))).To(Succeed())

			Expect(m.Phase()).To(Equal(PhaseEntered))
			Expect(rec.Calls()).To(Equal([]string{"onEntered:false"}))
		})
	})

	Context("when the intent flips away mid-enter", func() {
		It("should cancel the enter and never invoke the superseded onEntered", func() {
			cfg := config.TransitionConfig{Enter: true, Exit: true, Timeouts: config.Uniform(50 * time.Millisecond)}
			m := newMachine(cfg)

			cfg.In = true
			Expect(m.Update(ctx, recordedConfig(rec, cfg))).To(Succeed())
			Expect(m.Phase()).To(Equal(PhaseEntering))

			cfg.In = false
			Expect(m.Update(ctx, recordedConfig(rec, cfg))).To(Succeed())
			Expect(m.Phase()).To(Equal(PhaseExiting))

			Eventually(m.Phase).Should(Equal(PhaseExited))

			Expect(rec.Calls()).To(Equal([]string{
				"onEnter:false", "onEntering:false",
				"onExit", "onExiting", "onExited",
			}))

			// The superseded enter completion must stay dead even after its
			// original timeout would have elapsed.
			Consistently(func() bool { return rec.Has("onEntered:false") }, 100*time.Millisecond).Should(BeFalse())
			Expect(m.Phase()).To(Equal(PhaseExited))
		})
	})

	Context("when unmountOnExit is set", func() {
		It("should unmount once the exit has settled", func() {
			cfg := config.TransitionConfig{In: true, Enter: true, Exit: true, UnmountOnExit: true, Timeouts: config.Uniform(shortTimeout)}
			m := newMachine(cfg)
			Expect(m.Phase()).To(Equal(PhaseEntered))

			cfg.In = false
			Expect(m.Update(ctx, recordedConfig(rec, cfg))).To(Succeed())
			Expect(m.Phase()).To(Equal(PhaseExiting))

			Eventually(m.Phase).Should(Equal(PhaseUnmounted))
			Expect(rec.Has("onExited")).To(BeTrue())

			rendered := m.Project(func(phase string, cfg config.TransitionConfig) {
				Fail("unmounted machine must not render")
			})
			Expect(rendered).To(BeFalse())
		})

		It("should let a re-entry in the same update win over the lazy unmount", func() {
			cfg := config.TransitionConfig{Enter: true, Exit: true, Timeouts: config.Uniform(shortTimeout)}
			m := newMachine(cfg)
			Expect(m.Phase()).To(Equal(PhaseExited))

			cfg.UnmountOnExit = true
			cfg.In = true
			Expect(m.Update(ctx, recordedConfig(rec, cfg))).To(Succeed())

			Expect(m.Phase()).To(Equal(PhaseEntering))
		})

		It("should lazily unmount on an update that triggers no transition", func() {
			cfg := config.TransitionConfig{Enter: true, Exit: true}
			m := newMachine(cfg)
			Expect(m.Phase()).To(Equal(PhaseExited))

			cfg.UnmountOnExit = true
			Expect(m.Update(ctx, recordedConfig(rec, cfg))).To(Succeed())

			Expect(m.Phase()).To(Equal(PhaseUnmounted))
		})
	})

	Context("when mountOnEnter is set", func() {
		It("should mount through exited before entering and flush the node first", func() {
			node := "node"
			cfg := config.TransitionConfig{
				MountOnEnter: true,
				Enter:        true,
				Timeouts:     config.Uniform(shortTimeout),
				GetNode:      func() any { return node },
			}
			cfg.FlushNode = func(n any) {
				Expect(n).To(Equal(node))
				rec.add("flush")
			}

			m := newMachine(cfg)
			Expect(m.Phase()).To(Equal(PhaseUnmounted))

			cfg.In = true
			Expect(m.Update(ctx, recordedConfig(rec, cfg))).To(Succeed())

			Expect(m.Phase()).To(Equal(PhaseEntering))
			Expect(rec.Calls()).To(Equal([]string{"flush", "onEnter:false", "onEntering:false"}))
		})
	})

	Context("when transitions are globally disabled", func() {
		BeforeEach(func() {
			SetDisabled(true)
			DeferCleanup(func() { SetDisabled(false) })
		})

		It("should skip the in-flight phases regardless of the configured timeout", func() {
			cfg := config.TransitionConfig{Enter: true, Exit: true, Timeouts: config.Uniform(time.Hour)}
			m := newMachine(cfg)

			cfg.In = true
			Expect(m.Update(ctx, recordedConfig(rec, cfg))).To(Succeed())
			Expect(m.Phase()).To(Equal(PhaseEntered))

			cfg.In = false
			Expect(m.Update(ctx, recordedConfig(rec, cfg))).To(Succeed())
			Expect(m.Phase()).To(Equal(PhaseExited))

			Expect(rec.Calls()).To(Equal([]string{"onEntered:false", "onExited"}))
		})
	})

	Context("when completion is driven by an end listener", func() {
		It("should wait for the listener when no timeout is set", func() {
			var done func()

			cfg := config.TransitionConfig{Enter: true, GetNode: func() any { return "node" }}
			cfg.AddEndListener = func(node any, d func()) { done = d }

			m := newMachine(cfg)
			cfg.In = true
			Expect(m.Update(ctx, recordedConfig(rec, cfg))).To(Succeed())
			Expect(m.Phase()).To(Equal(PhaseEntering))

			Consistently(m.Phase, 50*time.Millisecond).Should(Equal(PhaseEntering))

			done()

			Eventually(m.Phase).Should(Equal(PhaseEntered))
			Expect(rec.Has("onEntered:false")).To(BeTrue())
		})

		It("should settle within the update when the listener completes synchronously", func() {
			cfg := config.TransitionConfig{Enter: true, Exit: true, GetNode: func() any { return "node" }}
			// A listener may report completion in its registration frame,
			// e.g. when the platform sees the element already at its final
			// style. Update must return and settle, not block.
			cfg.AddEndListener = func(node any, done func()) { done() }

			m := newMachine(cfg)
			cfg.In = true
			Expect(m.Update(ctx, recordedConfig(rec, cfg))).To(Succeed())
			Expect(m.Phase()).To(Equal(PhaseEntered))

			cfg.In = false
			Expect(m.Update(ctx, recordedConfig(rec, cfg))).To(Succeed())
			Expect(m.Phase()).To(Equal(PhaseExited))

			Expect(rec.Calls()).To(Equal([]string{
				"onEnter:false", "onEntering:false", "onEntered:false",
				"onExit", "onExiting", "onExited",
			}))
		})

		It("should wait for the exit listener before settling exited", func() {
			var done func()

			cfg := config.TransitionConfig{In: true, Enter: true, Exit: true, GetNode: func() any { return "node" }}
			cfg.AddEndListener = func(node any, d func()) { done = d }

			m := newMachine(cfg)
			Expect(m.Phase()).To(Equal(PhaseEntered))

			cfg.In = false
			Expect(m.Update(ctx, recordedConfig(rec, cfg))).To(Succeed())
			Expect(m.Phase()).To(Equal(PhaseExiting))

			Consistently(m.Phase, 50*time.Millisecond).Should(Equal(PhaseExiting))

			done()

			Eventually(m.Phase).Should(Equal(PhaseExited))
			Expect(rec.Has("onExited")).To(BeTrue())
		})

		It("should complete via deferred fire when the node is unavailable", func() {
			cfg := config.TransitionConfig{Enter: true, Timeouts: config.Uniform(time.Hour)}
			m := newMachine(cfg)

			cfg.In = true
			Expect(m.Update(ctx, recordedConfig(rec, cfg))).To(Succeed())

			// Headless instance: no node to observe, so the sequence must not
			// hang on the one-hour ceiling.
			Eventually(m.Phase).Should(Equal(PhaseEntered))
		})
	})

	Context("when the machine is destroyed mid-transition", func() {
		It("should cancel the pending completion and stop changing phase", func() {
			cfg := config.TransitionConfig{Enter: true, Timeouts: config.Uniform(shortTimeout), GetNode: func() any { return "node" }}
			m := newMachine(cfg)

			cfg.In = true
			Expect(m.Update(ctx, recordedConfig(rec, cfg))).To(Succeed())
			Expect(m.Phase()).To(Equal(PhaseEntering))

			m.Destroy()

			Consistently(m.Phase, 60*time.Millisecond).Should(Equal(PhaseEntering))
			Expect(rec.Has("onEntered:false")).To(BeFalse())
		})
	})

	Context("when projecting for rendering", func() {
		It("should expose the phase and a config snapshot", func() {
			m := newMachine(config.TransitionConfig{In: true, ID: "projector"})

			var seenPhase string
			var seenID string
			rendered := m.Project(func(phase string, cfg config.TransitionConfig) {
				seenPhase = phase
				seenID = cfg.ID
			})

			Expect(rendered).To(BeTrue())
			Expect(seenPhase).To(Equal(PhaseEntered))
			Expect(seenID).To(Equal("projector"))
		})
	})

	Context("when no ID is supplied", func() {
		It("should generate one", func() {
			m := newMachine(config.TransitionConfig{})
			Expect(m.ID()).ToNot(BeEmpty())
		})
	})
})
