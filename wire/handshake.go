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
package wire

import (
	"fmt"
	"io"

	"github.com/SkyPlay-Code/btswarm/core"
)

// ProtocolString is the fixed protocol identifier sent as the first byte
// of the handshake's length-prefixed label, per BEP-3.
const ProtocolString = "BitTorrent protocol"

// HandshakeLen is the fixed length in bytes of a handshake message:
// 1 (pstrlen) + 19 (pstr) + 8 (reserved) + 20 (info_hash) + 20 (peer_id).
const HandshakeLen = 1 + len(ProtocolString) + 8 + 20 + 20

// ExtensionProtocolBit is bit 0x10 of reserved byte 5, which advertises
// BEP-10 extension protocol support.
const ExtensionProtocolBit = 0x10

// Handshake is the decoded 68-byte handshake message.
type Handshake struct {
	Reserved [8]byte
	InfoHash core.InfoHash
	PeerID   core.PeerID
}

// SupportsExtensionProtocol reports whether h's reserved bytes advertise
// BEP-10 support.
func (h Handshake) SupportsExtensionProtocol() bool {
	return h.Reserved[5]&ExtensionProtocolBit != 0
}

// BuildHandshake encodes a handshake for infoHash/peerID, setting the
// BEP-10 extension bit since this engine always advertises support for it.
func BuildHandshake(infoHash core.InfoHash, peerID core.PeerID) []byte {
	buf := make([]byte, HandshakeLen)
	buf[0] = byte(len(ProtocolString))
	copy(buf[1:1+len(ProtocolString)], ProtocolString)
	reservedOff := 1 + len(ProtocolString)
	buf[reservedOff+5] |= ExtensionProtocolBit
	copy(buf[reservedOff+8:reservedOff+8+20], infoHash.Bytes())
	copy(buf[reservedOff+28:reservedOff+28+20], peerID.Bytes())
	return buf
}

// ParseHandshake decodes a raw 68-byte handshake message.
func ParseHandshake(b []byte) (Handshake, error) {
	if len(b) != HandshakeLen {
		return Handshake{}, fmt.Errorf("wire: handshake must be %d bytes, got %d", HandshakeLen, len(b))
	}
	if int(b[0]) != len(ProtocolString) {
		return Handshake{}, fmt.Errorf("wire: unexpected pstrlen %d", b[0])
	}
	pstr := string(b[1 : 1+len(ProtocolString)])
	if pstr != ProtocolString {
		return Handshake{}, fmt.Errorf("wire: unknown protocol string %q", pstr)
	}
	reservedOff := 1 + len(ProtocolString)
	var h Handshake
	copy(h.Reserved[:], b[reservedOff:reservedOff+8])
	copy(h.InfoHash[:], b[reservedOff+8:reservedOff+28])
	peerID, err := core.NewPeerIDFromBytes(b[reservedOff+28 : reservedOff+48])
	if err != nil {
		return Handshake{}, err
	}
	h.PeerID = peerID
	return h, nil
}

// WriteHandshake writes the handshake for infoHash/peerID to w.
func WriteHandshake(w io.Writer, infoHash core.InfoHash, peerID core.PeerID) error {
	_, err := w.Write(BuildHandshake(infoHash, peerID))
	return err
}

// ReadHandshake reads and parses exactly HandshakeLen bytes from r.
func ReadHandshake(r io.Reader) (Handshake, error) {
	buf := make([]byte, HandshakeLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Handshake{}, err
	}
	return ParseHandshake(buf)
}
