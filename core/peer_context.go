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
package core

import "errors"

// PeerContext defines the context a local peer runs within: the address and
// identity it announces itself as.
type PeerContext struct {

	// IP and Port specify the address the peer will announce itself as on
	// the wire and to trackers. This may differ from the address the local
	// listener is bound to, e.g. behind NAT.
	IP   string `json:"ip"`
	Port int    `json:"port"`

	// PeerID the peer will identify itself as in handshakes and announces.
	PeerID PeerID `json:"peer_id"`

	// Origin indicates whether the peer only seeds and never downloads. The
	// choke controller does not read it; it takes the seeding state from a
	// callback.
	Origin bool `json:"origin"`
}

// NewPeerContext creates a new PeerContext, generating a peer id per f.
func NewPeerContext(f PeerIDFactory, ip string, port int, origin bool) (PeerContext, error) {
	if ip == "" {
		return PeerContext{}, errors.New("no ip supplied")
	}
	if port == 0 {
		return PeerContext{}, errors.New("no port supplied")
	}
	peerID, err := f.GeneratePeerID()
	if err != nil {
		return PeerContext{}, err
	}
	return PeerContext{
		IP:     ip,
		Port:   port,
		PeerID: peerID,
		Origin: origin,
	}, nil
}
