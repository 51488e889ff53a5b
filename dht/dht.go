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

// Package dht specifies the contract a BEP-5 distributed hash table
// lookup would satisfy to contribute peers for an info hash. BEP-5 itself
// is an explicit non-goal: Client is an external collaborator specified
// only through its contract, with a stub implementation that never
// contributes any peers.
package dht

import (
	"context"
	"net"

	"github.com/SkyPlay-Code/btswarm/core"
)

// Client looks up peers for an info hash via the DHT.
type Client interface {
	// FindPeers returns addresses of peers known to hold infoHash.
	FindPeers(ctx context.Context, infoHash core.InfoHash) ([]net.TCPAddr, error)
}

// NoOpClient is a Client that never finds any peers, standing in for a
// real BEP-5 implementation.
type NoOpClient struct{}

// FindPeers always returns an empty result.
func (NoOpClient) FindPeers(ctx context.Context, infoHash core.InfoHash) ([]net.TCPAddr, error) {
	return nil, nil
}
