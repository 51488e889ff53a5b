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

import (
	"context"
	"net"
)

// StaticPeerSource is a fixed, operator-supplied list of peer addresses,
// handed out once and then exhausted -- a fallback for a private swarm
// with no reachable tracker or DHT, e.g. two hosts on a LAN exchanging a
// torrent file directly.
type StaticPeerSource struct {
	addrs []net.TCPAddr
	sent  bool
}

// NewStaticPeerSource creates a PeerSource that offers addrs exactly once.
func NewStaticPeerSource(addrs []net.TCPAddr) *StaticPeerSource {
	return &StaticPeerSource{addrs: addrs}
}

// NextPeers returns the configured address list on its first call and an
// empty slice on every call thereafter.
func (s *StaticPeerSource) NextPeers(ctx context.Context) ([]net.TCPAddr, error) {
	if s.sent {
		return nil, nil
	}
	s.sent = true
	return s.addrs, nil
}
