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

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

// PeerIDFactory defines the method used to generate a peer id.
type PeerIDFactory string

// RandomPeerIDFactory generates a cryptographically random peer id.
const RandomPeerIDFactory PeerIDFactory = "random"

// AzureusPeerIDFactory generates a peer id prefixed with a client
// signature ("-BS0001-" for this engine) followed by random bytes, per the
// conventional Azureus-style peer id encoding most clients use.
const AzureusPeerIDFactory PeerIDFactory = "azureus"

// clientSignature is the Azureus-style client tag embedded in generated
// peer ids.
const clientSignature = "-BS0001-"

// ErrInvalidPeerIDLength is returned when a string peer id does not decode
// into exactly 20 bytes.
var ErrInvalidPeerIDLength = errors.New("peer id has invalid length")

// PeerID represents a fixed-size 20-byte peer identifier, as sent in the
// handshake and tracker announces.
type PeerID [20]byte

// GeneratePeerID creates a new peer id per the factory policy.
func (f PeerIDFactory) GeneratePeerID() (PeerID, error) {
	switch f {
	case RandomPeerIDFactory:
		return RandomPeerID()
	case AzureusPeerIDFactory:
		return AzureusPeerID()
	default:
		return PeerID{}, fmt.Errorf("invalid peer id factory: %q", string(f))
	}
}

// NewPeerID parses a PeerID from the given string. Must be in hexadecimal
// notation, encoding exactly 20 bytes.
func NewPeerID(s string) (PeerID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return PeerID{}, err
	}
	if len(b) != 20 {
		return PeerID{}, ErrInvalidPeerIDLength
	}
	var p PeerID
	copy(p[:], b)
	return p, nil
}

// NewPeerIDFromBytes copies exactly 20 bytes, as read off the wire during a
// handshake, into a PeerID.
func NewPeerIDFromBytes(b []byte) (PeerID, error) {
	if len(b) != 20 {
		return PeerID{}, ErrInvalidPeerIDLength
	}
	var p PeerID
	copy(p[:], b)
	return p, nil
}

// Bytes returns the raw 20 bytes of p.
func (p PeerID) Bytes() []byte {
	return p[:]
}

// String encodes the PeerID in hexadecimal notation.
func (p PeerID) String() string {
	return hex.EncodeToString(p[:])
}

// LessThan returns whether p is less than o, comparing byte by byte.
func (p PeerID) LessThan(o PeerID) bool {
	return bytes.Compare(p[:], o[:]) == -1
}

// RandomPeerID returns a randomly generated PeerID.
func RandomPeerID() (PeerID, error) {
	var p PeerID
	_, err := rand.Read(p[:])
	return p, err
}

// AzureusPeerID returns a PeerID with the engine's client signature prefix
// followed by random bytes.
func AzureusPeerID() (PeerID, error) {
	var p PeerID
	copy(p[:], clientSignature)
	if _, err := rand.Read(p[len(clientSignature):]); err != nil {
		return PeerID{}, err
	}
	return p, nil
}
