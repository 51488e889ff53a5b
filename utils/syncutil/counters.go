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

// Package syncutil provides small thread-safe primitives shared across the
// swarm engine, such as a fixed-size array of independently synchronized
// counters used to track how many peers have offered each piece.
package syncutil

import "go.uber.org/atomic"

// Counters is a fixed-size array of independently synchronized int
// counters, used here to track the number of peers known to have each
// piece index. Each slot is its own atomic, so concurrent updates to
// different indices never contend.
type Counters struct {
	values []atomic.Int64
}

// NewCounters creates a Counters of length n, all initialized to zero.
func NewCounters(n int) *Counters {
	return &Counters{values: make([]atomic.Int64, n)}
}

// Len returns the number of counters.
func (c *Counters) Len() int {
	return len(c.values)
}

// Increment adds one to the counter at k.
func (c *Counters) Increment(k int) {
	c.values[k].Inc()
}

// Decrement subtracts one from the counter at k.
func (c *Counters) Decrement(k int) {
	c.values[k].Dec()
}

// Set assigns v to the counter at k.
func (c *Counters) Set(k, v int) {
	c.values[k].Store(int64(v))
}

// Get returns the current value of the counter at k.
func (c *Counters) Get(k int) int {
	return int(c.values[k].Load())
}
