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

// Package choke implements the tit-for-tat upload-slot allocator, per
// a single 10-second tick loop that ranks interested peers
// by observed transfer rate, unchokes the top few, and rotates one
// additional "optimistic" slot every third tick to keep discovering new
// reciprocal partners.
package choke

import "time"

// Config parameterizes a Controller's tick cadence and slot allocation.
type Config struct {
	// TickInterval is how often the controller re-evaluates choking
	// decisions.
	TickInterval time.Duration `yaml:"tick_interval"`

	// NumSlots is the number of regular (non-optimistic) unchoke slots,
	// filled by rate-descending rank. The original BitTorrent tit-for-tat
	// design prescribes four.
	NumSlots int `yaml:"num_slots"`

	// OptimisticRotationTicks is how many ticks elapse between optimistic
	// unchoke rotations. The original design prescribes every third tick
	// of a 10s cadence, i.e. every 30s.
	OptimisticRotationTicks int `yaml:"optimistic_rotation_ticks"`

	// SnubTimeout is how long a peer may go without sending us data before
	// it is excluded from regular and optimistic candidacy, unless we are
	// seeding.
	SnubTimeout time.Duration `yaml:"snub_timeout"`
}

// applyDefaults fills the zero-valued fields of c with the values
// prescribed by the original tit-for-tat design.
func (c *Config) applyDefaults() {
	if c.TickInterval == 0 {
		c.TickInterval = 10 * time.Second
	}
	if c.NumSlots == 0 {
		c.NumSlots = 4
	}
	if c.OptimisticRotationTicks == 0 {
		c.OptimisticRotationTicks = 3
	}
	if c.SnubTimeout == 0 {
		c.SnubTimeout = 60 * time.Second
	}
}
