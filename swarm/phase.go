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
package swarm

import "sync"

// Phase is a torrent's position in its magnet-to-seed lifecycle.
type Phase int

const (
	// PhaseMagnet: the info dictionary is still unknown; sessions run in
	// peer.ModeMetadata, fetching it over ut_metadata.
	PhaseMagnet Phase = iota
	// PhaseTransition: the info dictionary just arrived and storage is
	// being opened; no new sessions are dialed until it completes.
	PhaseTransition
	// PhaseDownload: storage is open and at least one piece is missing;
	// sessions run in peer.ModeBlocks requesting pieces.
	PhaseDownload
	// PhaseSeed: every piece is complete; sessions run in peer.ModeBlocks
	// serving requests only.
	PhaseSeed
)

func (p Phase) String() string {
	switch p {
	case PhaseMagnet:
		return "magnet"
	case PhaseTransition:
		return "transition"
	case PhaseDownload:
		return "download"
	case PhaseSeed:
		return "seed"
	default:
		return "unknown"
	}
}

// phaseMachine is the orchestrator's mutex-guarded current phase, safe to
// read from dial workers and the choke controller's seeding callback
// concurrently with the single goroutine that drives transitions.
type phaseMachine struct {
	mu    sync.RWMutex
	phase Phase
}

func newPhaseMachine(initial Phase) *phaseMachine {
	return &phaseMachine{phase: initial}
}

func (m *phaseMachine) Phase() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.phase
}

func (m *phaseMachine) SetPhase(p Phase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.phase = p
}

// Seeding reports whether the swarm has completed its download, for the
// choke controller's rate-ranking direction.
func (m *phaseMachine) Seeding() bool {
	return m.Phase() == PhaseSeed
}
