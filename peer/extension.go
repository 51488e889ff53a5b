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
	"bytes"
	"encoding/binary"
	"fmt"
	"net"

	"github.com/SkyPlay-Code/btswarm/bencode"
	"github.com/SkyPlay-Code/btswarm/wire"
)

// Local extension ids, advertised in our own handshake's "m" dictionary
// and never renegotiated mid-session.
const (
	localExtIDHandshake = 0
	localExtIDUTPex     = 1
	localExtIDUTMetadata = 2
)

const (
	extNameUTPex      = "ut_pex"
	extNameUTMetadata = "ut_metadata"
)

// extHandshake is the bencoded payload of ext_id=0, BEP-10's handshake.
type extHandshake struct {
	M            map[string]int `bencode:"m"`
	MetadataSize int64          `bencode:"metadata_size,omitempty"`
	Port         int            `bencode:"p,omitempty"`
	Version      string         `bencode:"v,omitempty"`
}

// buildExtHandshake encodes our own extension handshake, always
// advertising ut_pex and ut_metadata.
func buildExtHandshake() []byte {
	h := extHandshake{M: map[string]int{
		extNameUTPex:      localExtIDUTPex,
		extNameUTMetadata: localExtIDUTMetadata,
	}}
	body, err := bencode.Marshal(h)
	if err != nil {
		// Marshaling a fixed, well-formed literal cannot fail.
		panic(err)
	}
	return body
}

// extensionState tracks the remote peer's extension id map, resolved
// against our own id→name map to answer "what does local id N mean" and
// "what remote id should I send ut_pex/ut_metadata under".
type extensionState struct {
	remoteByName map[string]int
	metadataSize int64
}

func newExtensionState() *extensionState {
	return &extensionState{remoteByName: make(map[string]int)}
}

// applyHandshake decodes an incoming ext_id=0 payload and records the
// remote's id map and metadata size.
func (e *extensionState) applyHandshake(body []byte) error {
	var h extHandshake
	if err := bencode.Unmarshal(body, &h); err != nil {
		return fmt.Errorf("peer: decode extension handshake: %s", err)
	}
	e.remoteByName = h.M
	e.metadataSize = h.MetadataSize
	return nil
}

func (e *extensionState) remoteSupportsUTPex() bool {
	_, ok := e.remoteByName[extNameUTPex]
	return ok
}

func (e *extensionState) remoteSupportsUTMetadata() bool {
	_, ok := e.remoteByName[extNameUTMetadata]
	return ok
}

func (e *extensionState) remoteUTPexID() (int, bool) {
	id, ok := e.remoteByName[extNameUTPex]
	return id, ok
}

func (e *extensionState) remoteUTMetadataID() (int, bool) {
	id, ok := e.remoteByName[extNameUTMetadata]
	return id, ok
}

// ut_metadata request/reply, wire frame:
// <ext_id=20><our local id for ut_metadata><bencoded header>[raw bytes if msg_type=1].
const (
	utMetadataMsgTypeRequest = 0
	utMetadataMsgTypeData    = 1
	utMetadataMsgTypeReject  = 2
)

type utMetadataHeader struct {
	MsgType   int `bencode:"msg_type"`
	Piece     int `bencode:"piece"`
	TotalSize int `bencode:"total_size,omitempty"`
}

func buildUTMetadataRequest(remoteID uint8, piece int) []byte {
	header, _ := bencode.Marshal(utMetadataHeader{MsgType: utMetadataMsgTypeRequest, Piece: piece})
	return wire.ExtendedMessage(remoteID, header, nil)
}

func buildUTMetadataData(remoteID uint8, piece, totalSize int, data []byte) []byte {
	header, _ := bencode.Marshal(utMetadataHeader{MsgType: utMetadataMsgTypeData, Piece: piece, TotalSize: totalSize})
	return wire.ExtendedMessage(remoteID, header, data)
}

func buildUTMetadataReject(remoteID uint8, piece int) []byte {
	header, _ := bencode.Marshal(utMetadataHeader{MsgType: utMetadataMsgTypeReject, Piece: piece})
	return wire.ExtendedMessage(remoteID, header, nil)
}

// decodeUTMetadataMessage splits rest (the bytes following the extended
// message's leading ext-id byte) into its bencoded header and, for
// msg_type=1, the raw metadata bytes that follow it -- using the
// bencoding decoder's cursor, since the header's own
// framing gives no other way to find where it ends.
func decodeUTMetadataMessage(rest []byte) (utMetadataHeader, []byte, error) {
	dec := bencode.NewDecoder(bytes.NewReader(rest))
	var h utMetadataHeader
	if err := dec.Decode(&h); err != nil {
		return utMetadataHeader{}, nil, fmt.Errorf("peer: decode ut_metadata header: %s", err)
	}
	tail := rest[dec.Offset():]
	return h, tail, nil
}

// ut_pex payload: "added" is a packed IPv4+port list in the
// same 6-byte-per-peer layout as a tracker's compact peer list; "added.f"
// is a per-peer flags byte we never consume and emit as all zero;
// "dropped" is never consumed.
type utPexPayload struct {
	Added   []byte `bencode:"added"`
	AddedF  []byte `bencode:"added.f,omitempty"`
	Dropped []byte `bencode:"dropped,omitempty"`
}

func buildUTPexMessage(remoteID uint8, peers []net.TCPAddr) []byte {
	added := make([]byte, 0, 6*len(peers))
	for _, p := range peers {
		ip4 := p.IP.To4()
		if ip4 == nil {
			continue
		}
		added = append(added, ip4...)
		added = append(added, byte(p.Port>>8), byte(p.Port))
	}
	addedF := make([]byte, len(added)/6)
	body, _ := bencode.Marshal(utPexPayload{Added: added, AddedF: addedF})
	return wire.ExtendedMessage(remoteID, body, nil)
}

func decodeUTPexMessage(body []byte) ([]net.TCPAddr, error) {
	var p utPexPayload
	if err := bencode.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("peer: decode ut_pex message: %s", err)
	}
	if len(p.Added)%6 != 0 {
		return nil, fmt.Errorf("peer: ut_pex added field length %d not a multiple of 6", len(p.Added))
	}
	peers := make([]net.TCPAddr, 0, len(p.Added)/6)
	for i := 0; i < len(p.Added); i += 6 {
		ip := net.IPv4(p.Added[i], p.Added[i+1], p.Added[i+2], p.Added[i+3])
		port := int(binary.BigEndian.Uint16(p.Added[i+4 : i+6]))
		peers = append(peers, net.TCPAddr{IP: ip, Port: port})
	}
	return peers, nil
}
