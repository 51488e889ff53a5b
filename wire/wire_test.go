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
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/SkyPlay-Code/btswarm/core"
)

func TestHandshakeRoundTrip(t *testing.T) {
	require := require.New(t)

	infoHash := core.NewInfoHashFromBytes([]byte("some info dict"))
	peerID, err := core.RandomPeerID()
	require.NoError(err)

	b := BuildHandshake(infoHash, peerID)
	require.Len(b, HandshakeLen)
	require.Equal(68, HandshakeLen)

	h, err := ParseHandshake(b)
	require.NoError(err)
	require.Equal(infoHash, h.InfoHash)
	require.Equal(peerID, h.PeerID)
	require.True(h.SupportsExtensionProtocol())
}

func TestParseHandshakeRejectsUnknownProtocol(t *testing.T) {
	require := require.New(t)

	b := BuildHandshake(core.InfoHash{}, core.PeerID{})
	b[1] = 'X' // corrupt the protocol string
	_, err := ParseHandshake(b)
	require.Error(err)
}

func TestReadWriteHandshake(t *testing.T) {
	require := require.New(t)

	infoHash := core.NewInfoHashFromBytes([]byte("x"))
	peerID, err := core.RandomPeerID()
	require.NoError(err)

	var buf bytes.Buffer
	require.NoError(WriteHandshake(&buf, infoHash, peerID))

	h, err := ReadHandshake(&buf)
	require.NoError(err)
	require.Equal(infoHash, h.InfoHash)
	require.Equal(peerID, h.PeerID)
}

func TestFrameRoundTripHave(t *testing.T) {
	require := require.New(t)

	var buf bytes.Buffer
	require.NoError(WriteFrame(&buf, Have, func() []byte {
		msg := HaveMessage(42)
		// HaveMessage returns a fully framed message; extract the payload
		// for WriteFrame, which frames it again.
		return msg[5:]
	}()))

	f, err := ReadFrame(&buf)
	require.NoError(err)
	require.False(f.KeepAlive)
	require.Equal(Have, f.ID)
	idx, err := DecodeHave(f.Payload)
	require.NoError(err)
	require.Equal(42, idx)
}

func TestFrameKeepAlive(t *testing.T) {
	require := require.New(t)

	var buf bytes.Buffer
	require.NoError(WriteKeepAlive(&buf))

	f, err := ReadFrame(&buf)
	require.NoError(err)
	require.True(f.KeepAlive)
}

func TestRequestCancelPieceRoundTrip(t *testing.T) {
	require := require.New(t)

	reqMsg := RequestMessage(1, 16384, 16384)
	var buf bytes.Buffer
	buf.Write(reqMsg)
	f, err := ReadFrame(&buf)
	require.NoError(err)
	require.Equal(Request, f.ID)
	br, err := DecodeBlockRequest(f.Payload)
	require.NoError(err)
	require.Equal(BlockRequest{Index: 1, Begin: 16384, Length: 16384}, br)

	data := bytes.Repeat([]byte{0xAB}, 16384)
	pieceMsg := PieceMessage(1, 16384, data)
	buf.Reset()
	buf.Write(pieceMsg)
	f, err = ReadFrame(&buf)
	require.NoError(err)
	require.Equal(Piece, f.ID)
	pb, err := DecodePieceMessage(f.Payload)
	require.NoError(err)
	require.Equal(1, pb.Index)
	require.Equal(16384, pb.Begin)
	require.Equal(data, pb.Data)
}

func TestExtendedMessageRoundTripWithRawTail(t *testing.T) {
	require := require.New(t)

	header := []byte("d8:msg_typei1e5:piecei0e10:total_sizei100ee")
	tail := bytes.Repeat([]byte{0xCD}, 16384)
	msg := ExtendedMessage(2, header, tail)

	var buf bytes.Buffer
	buf.Write(msg)
	f, err := ReadFrame(&buf)
	require.NoError(err)
	require.Equal(Extended, f.ID)

	ext, err := DecodeExtended(f.Payload)
	require.NoError(err)
	require.Equal(uint8(2), ext.ExtID)
	require.Equal(len(header)+len(tail), len(ext.Rest))
	require.Equal(header, ext.Rest[:len(header)])
	require.Equal(tail, ext.Rest[len(header):])
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	require := require.New(t)

	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	_, err := ReadFrame(&buf)
	require.Equal(ErrFrameTooLarge, err)
}
