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
package metadatafetcher

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/SkyPlay-Code/btswarm/core"
)

func newTestPeerID(t *testing.T) core.PeerID {
	p, err := core.RandomPeerID()
	require.NoError(t, err)
	return p
}

func TestFetcherSequentialScanAndCompletion(t *testing.T) {
	require := require.New(t)

	metadata := make([]byte, MetadataBlockSize*2+100)
	for i := range metadata {
		metadata[i] = byte(i)
	}
	infoHash := core.NewInfoHashFromBytes(metadata)

	f := New(infoHash)
	require.False(f.Ready())
	f.SetSize(int64(len(metadata)))
	require.True(f.Ready())

	peer := newTestPeerID(t)
	f.AddPeer(peer)

	idx, ok, err := f.NextRequest(peer)
	require.NoError(err)
	require.True(ok)
	require.Equal(0, idx)

	length, err := f.BlockLength(idx)
	require.NoError(err)
	require.Equal(MetadataBlockSize, length)

	complete, _, err := f.BlockReceived(peer, idx, metadata[:length])
	require.NoError(err)
	require.False(complete)

	idx, ok, err = f.NextRequest(peer)
	require.NoError(err)
	require.True(ok)
	require.Equal(1, idx)

	length, err = f.BlockLength(idx)
	require.NoError(err)
	complete, _, err = f.BlockReceived(peer, idx, metadata[MetadataBlockSize:MetadataBlockSize+length])
	require.NoError(err)
	require.False(complete)

	idx, ok, err = f.NextRequest(peer)
	require.NoError(err)
	require.True(ok)
	require.Equal(2, idx)

	length, err = f.BlockLength(idx)
	require.NoError(err)
	require.Equal(100, length)

	complete, assembled, err := f.BlockReceived(peer, idx, metadata[2*MetadataBlockSize:2*MetadataBlockSize+length])
	require.NoError(err)
	require.True(complete)
	require.Equal(metadata, assembled)
	require.True(f.Complete())
}

func TestFetcherDigestMismatchWipesAndRetries(t *testing.T) {
	require := require.New(t)

	size := int64(10)
	infoHash := core.NewInfoHashFromBytes(make([]byte, size)) // hash of all-zero metadata

	f := New(infoHash)
	f.SetSize(size)
	peer := newTestPeerID(t)
	f.AddPeer(peer)

	idx, ok, err := f.NextRequest(peer)
	require.NoError(err)
	require.True(ok)
	require.Equal(0, idx)

	garbage := []byte("9876543210")
	complete, assembled, err := f.BlockReceived(peer, idx, garbage)
	require.Equal(ErrDigestMismatch, err)
	require.False(complete)
	require.Nil(assembled)
	require.False(f.Complete())

	// Retries from scratch: block 0 reservable again.
	idx, ok, err = f.NextRequest(peer)
	require.NoError(err)
	require.True(ok)
	require.Equal(0, idx)
}

func TestFetcherNextRequestBeforeSetSize(t *testing.T) {
	require := require.New(t)

	f := New(core.InfoHash{})
	peer := newTestPeerID(t)
	f.AddPeer(peer)

	_, _, err := f.NextRequest(peer)
	require.Equal(ErrSizeUnknown, err)
}

func TestFetcherDoesNotDoubleAssignSameBlock(t *testing.T) {
	require := require.New(t)

	metadata := make([]byte, MetadataBlockSize*2)
	infoHash := core.NewInfoHashFromBytes(metadata)

	f := New(infoHash)
	f.SetSize(int64(len(metadata)))

	peerA := newTestPeerID(t)
	peerB := newTestPeerID(t)
	f.AddPeer(peerA)
	f.AddPeer(peerB)

	idxA, ok, err := f.NextRequest(peerA)
	require.NoError(err)
	require.True(ok)

	idxB, ok, err := f.NextRequest(peerB)
	require.NoError(err)
	require.True(ok)

	require.NotEqual(idxA, idxB)
}
