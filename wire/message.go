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

// Package wire implements the literal BEP-3 byte layout of the BitTorrent
// peer wire protocol: the fixed handshake, the length-prefixed message
// frame, and the BEP-10 extension sub-frame layered inside message id 20.
//
// Every integer on the wire is big-endian, per the protocol spec; this
// package is the only place in the engine that deals in raw wire bytes,
// everything above it works in typed Go values.
package wire

import (
	"encoding/binary"
	"fmt"
)

// MessageID identifies the kind of a length-prefixed peer message.
type MessageID uint8

// The peer wire protocol's message ids, per BEP-3, plus Extended (BEP-10).
const (
	Choke         MessageID = 0
	Unchoke       MessageID = 1
	Interested    MessageID = 2
	NotInterested MessageID = 3
	Have          MessageID = 4
	Bitfield      MessageID = 5
	Request       MessageID = 6
	Piece         MessageID = 7
	Cancel        MessageID = 8
	Extended      MessageID = 20
)

func (id MessageID) String() string {
	switch id {
	case Choke:
		return "choke"
	case Unchoke:
		return "unchoke"
	case Interested:
		return "interested"
	case NotInterested:
		return "not_interested"
	case Have:
		return "have"
	case Bitfield:
		return "bitfield"
	case Request:
		return "request"
	case Piece:
		return "piece"
	case Cancel:
		return "cancel"
	case Extended:
		return "extended"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(id))
	}
}

// MaxRequestLength is the largest block length this engine will honor in an
// incoming request message; anything larger is dropped as a likely
// denial-of-service attempt rather than a legitimate block-sized request.
const MaxRequestLength = 32 * 1024

// Encode frames payload behind id and a u32 big-endian length prefix
// covering both id and payload, as every non-keep-alive message on the wire
// is framed.
func Encode(id MessageID, payload []byte) []byte {
	buf := make([]byte, 4+1+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(1+len(payload)))
	buf[4] = byte(id)
	copy(buf[5:], payload)
	return buf
}

// KeepAlive encodes the zero-length keep-alive message: a bare u32 zero
// length prefix with no id and no payload.
func KeepAlive() []byte {
	return []byte{0, 0, 0, 0}
}

// HaveMessage encodes a "have" message announcing piece index.
func HaveMessage(index int) []byte {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(index))
	return Encode(Have, payload)
}

// DecodeHave decodes a "have" message's payload.
func DecodeHave(payload []byte) (index int, err error) {
	if len(payload) != 4 {
		return 0, fmt.Errorf("wire: have payload must be 4 bytes, got %d", len(payload))
	}
	return int(binary.BigEndian.Uint32(payload)), nil
}

// BitfieldMessage encodes a "bitfield" message from a packed, MSB-first
// bit array.
func BitfieldMessage(bits []byte) []byte {
	return Encode(Bitfield, bits)
}

// RequestMessage encodes a "request" message for the given block.
func RequestMessage(index, begin, length int) []byte {
	return Encode(Request, blockHeader(index, begin, length))
}

// CancelMessage encodes a "cancel" message for the given block.
func CancelMessage(index, begin, length int) []byte {
	return Encode(Cancel, blockHeader(index, begin, length))
}

func blockHeader(index, begin, length int) []byte {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], uint32(index))
	binary.BigEndian.PutUint32(payload[4:8], uint32(begin))
	binary.BigEndian.PutUint32(payload[8:12], uint32(length))
	return payload
}

// BlockRequest is the decoded payload of a "request" or "cancel" message.
type BlockRequest struct {
	Index  int
	Begin  int
	Length int
}

// DecodeBlockRequest decodes a "request" or "cancel" message's payload.
func DecodeBlockRequest(payload []byte) (BlockRequest, error) {
	if len(payload) != 12 {
		return BlockRequest{}, fmt.Errorf("wire: request payload must be 12 bytes, got %d", len(payload))
	}
	return BlockRequest{
		Index:  int(binary.BigEndian.Uint32(payload[0:4])),
		Begin:  int(binary.BigEndian.Uint32(payload[4:8])),
		Length: int(binary.BigEndian.Uint32(payload[8:12])),
	}, nil
}

// PieceMessage encodes a "piece" message carrying data for the block at
// (index, begin).
func PieceMessage(index, begin int, data []byte) []byte {
	payload := make([]byte, 8+len(data))
	binary.BigEndian.PutUint32(payload[0:4], uint32(index))
	binary.BigEndian.PutUint32(payload[4:8], uint32(begin))
	copy(payload[8:], data)
	return Encode(Piece, payload)
}

// PieceBlock is the decoded payload of a "piece" message.
type PieceBlock struct {
	Index int
	Begin int
	Data  []byte
}

// DecodePieceMessage decodes a "piece" message's payload.
func DecodePieceMessage(payload []byte) (PieceBlock, error) {
	if len(payload) < 8 {
		return PieceBlock{}, fmt.Errorf("wire: piece payload must be at least 8 bytes, got %d", len(payload))
	}
	return PieceBlock{
		Index: int(binary.BigEndian.Uint32(payload[0:4])),
		Begin: int(binary.BigEndian.Uint32(payload[4:8])),
		Data:  payload[8:],
	}, nil
}

// ExtendedMessage encodes a BEP-10 extended message: the local extension
// id followed by a bencoded header and an optional raw byte tail (used by
// ut_metadata piece data, which follows immediately after the bencoded
// header ends).
func ExtendedMessage(extID uint8, bencodedHeader []byte, rawTail []byte) []byte {
	payload := make([]byte, 1+len(bencodedHeader)+len(rawTail))
	payload[0] = extID
	n := copy(payload[1:], bencodedHeader)
	copy(payload[1+n:], rawTail)
	return Encode(Extended, payload)
}

// ExtendedPayload is the decoded payload of an "extended" message: the
// local or remote extension id it names (interpretation depends on
// direction, see package peer) and everything after it, which the caller
// further splits into a bencoded header and raw tail using a bencode
// decoder's cursor.
type ExtendedPayload struct {
	ExtID uint8
	Rest  []byte
}

// DecodeExtended splits an "extended" message's payload into its extension
// id and the remaining bytes.
func DecodeExtended(payload []byte) (ExtendedPayload, error) {
	if len(payload) < 1 {
		return ExtendedPayload{}, fmt.Errorf("wire: extended payload must be at least 1 byte")
	}
	return ExtendedPayload{ExtID: payload[0], Rest: payload[1:]}, nil
}
