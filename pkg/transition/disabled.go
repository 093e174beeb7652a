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

import "sync/atomic"

// disabled is the process-wide switch forcing every transition to resolve
// immediately to its terminal phase, skipping the animated sequences. Used
// for test determinism.
var disabled atomic.Bool

// SetDisabled toggles the process-wide disabled mode.
func SetDisabled(v bool) {
	disabled.Store(v)
}

// Disabled reports whether transitions are globally disabled.
func Disabled() bool {
	return disabled.Load()
}
