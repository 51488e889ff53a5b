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

// Package metrics wires the swarm engine's counters, gauges, and timers
// through a tally.Scope, tagged per-module exactly the way
// scheduler.New tags its own stats ("module": "scheduler") before handing
// them down to sub-components.
package metrics

import (
	"time"

	"github.com/uber-go/tally"
)

// Module returns a child scope tagged with the given module name, for a
// component (swarm, choke, peer, tracker) to record its own stats under.
func Module(scope tally.Scope, name string) tally.Scope {
	return scope.Tagged(map[string]string{"module": name})
}

// NewTestScope returns a scope with no backing reporter, for use in tests.
func NewTestScope() tally.Scope {
	scope, _ := tally.NewRootScope(tally.ScopeOptions{}, 0)
	return scope
}

// RecordDownload records a completed piece/block download's size and
// duration, mirroring recordDownloadTime's role in scheduler.Scheduler.
func RecordDownload(scope tally.Scope, size int64, d time.Duration) {
	scope.Counter("bytes_downloaded").Inc(size)
	scope.Timer("download_time").Record(d)
}

// RecordUpload records a completed piece/block upload's size and duration.
func RecordUpload(scope tally.Scope, size int64, d time.Duration) {
	scope.Counter("bytes_uploaded").Inc(size)
	scope.Timer("upload_time").Record(d)
}

// IncPeerConnected increments the peer_connections counter tagged by outcome.
func IncPeerConnected(scope tally.Scope, outcome string) {
	scope.Tagged(map[string]string{"outcome": outcome}).Counter("peer_connections").Inc(1)
}
