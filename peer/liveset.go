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
package peer

import (
	"net"
	"sync"

	"github.com/SkyPlay-Code/btswarm/core"
)

// LiveSet is the address-book a swarm of sessions shares so ut_pex has
// something to advertise: every Session registers its remote address on
// entering RUN and deregisters it on reaching DEAD, the same register/
// deregister discipline the choke controller's own live-session set
// follows.
// Reads and writes all happen off the owning session's own goroutine, so a
// LiveSet is plain mutex-guarded shared state rather than something routed
// through a single owning loop.
type LiveSet struct {
	mu   sync.Mutex
	byID map[core.PeerID]net.TCPAddr
}

// NewLiveSet creates an empty LiveSet.
func NewLiveSet() *LiveSet {
	return &LiveSet{byID: make(map[core.PeerID]net.TCPAddr)}
}

// Register records addr as peerID's live address.
func (s *LiveSet) Register(peerID core.PeerID, addr net.TCPAddr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[peerID] = addr
}

// Deregister forgets peerID.
func (s *LiveSet) Deregister(peerID core.PeerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, peerID)
}

// Snapshot returns every registered address except exclude's own, in no
// particular order.
func (s *LiveSet) Snapshot(exclude core.PeerID) []net.TCPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	addrs := make([]net.TCPAddr, 0, len(s.byID))
	for id, addr := range s.byID {
		if id == exclude {
			continue
		}
		addrs = append(addrs, addr)
	}
	return addrs
}
