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
	"errors"

	"github.com/willf/bitset"

	"github.com/SkyPlay-Code/btswarm/core"
	"github.com/SkyPlay-Code/btswarm/metadatafetcher"
	"github.com/SkyPlay-Code/btswarm/storage/piecestore"
)

// Manager is the capability every Session drives its request loop against,
// satisfied by both the piece store (normal mode) and the metadata fetcher
// (magnet mode) -- the two "manager" roles a session cannot otherwise tell
// apart.
type Manager interface {
	AddPeer(peerID core.PeerID, bits *bitset.BitSet)
	UpdatePeer(peerID core.PeerID, i int)
	RemovePeer(peerID core.PeerID)
	GetActivePeers() []core.PeerID
	NextRequest(peerID core.PeerID) (core.BlockSpec, bool, error)
	BlockReceived(peerID core.PeerID, block core.BlockSpec, data []byte) (bool, error)
	ReadBlock(block core.BlockSpec) ([]byte, error)

	// ExpiredRequests returns the piece (or metadata block) indices whose
	// outstanding request from peerID is no longer pending at the
	// scheduler level -- timed out, or otherwise marked unsent or invalid
	// -- so a session can drop its own pipeline bookkeeping for them and
	// let NextRequest reissue a fresh request.
	ExpiredRequests(peerID core.PeerID) []int
}

// ErrMetadataUploadUnsupported is returned by a metadataManager's ReadBlock:
// this engine only leeches metadata over ut_metadata, it never re-serves it
// to other peers, so an incoming metadata request is always refused.
var ErrMetadataUploadUnsupported = errors.New("peer: metadata upload is not supported")

// PieceManager adapts *piecestore.Scheduler to Manager; it already matches
// the interface exactly.
type PieceManager struct {
	*piecestore.Scheduler
}

// NewPieceManager wraps scheduler as a Manager.
func NewPieceManager(scheduler *piecestore.Scheduler) Manager {
	return PieceManager{scheduler}
}

// MetadataManager adapts *metadatafetcher.Fetcher to Manager, translating
// its sequential-block-index contract into core.BlockSpec terms (one
// "piece" per 16 KiB metadata block, offset always 0) and invoking
// onComplete with the assembled info dictionary bytes once every block has
// arrived and passed its digest check.
type MetadataManager struct {
	fetcher    *metadatafetcher.Fetcher
	onComplete func(data []byte)
}

// NewMetadataManager wraps fetcher as a Manager. onComplete is invoked
// exactly once, from whichever session's BlockReceived call completes the
// assembly, with the verified info dictionary bytes.
func NewMetadataManager(fetcher *metadatafetcher.Fetcher, onComplete func(data []byte)) Manager {
	return &MetadataManager{fetcher: fetcher, onComplete: onComplete}
}

// AddPeer registers peerID; the initial bitfield is ignored since every
// ut_metadata-capable peer can serve every block.
func (m *MetadataManager) AddPeer(peerID core.PeerID, bits *bitset.BitSet) {
	m.fetcher.AddPeer(peerID)
}

// SetSize records the metadata's total byte size, once learned from a
// peer's extension handshake metadata_size field. It satisfies the
// interface{ SetSize(int64) } a Session type-asserts for after decoding
// ext_id=0.
func (m *MetadataManager) SetSize(size int64) {
	m.fetcher.SetSize(size)
}

// UpdatePeer is a no-op: metadata has no per-piece "have" announcements.
func (m *MetadataManager) UpdatePeer(peerID core.PeerID, i int) {}

func (m *MetadataManager) RemovePeer(peerID core.PeerID) {
	m.fetcher.RemovePeer(peerID)
}

func (m *MetadataManager) GetActivePeers() []core.PeerID {
	return m.fetcher.GetActivePeers()
}

func (m *MetadataManager) NextRequest(peerID core.PeerID) (core.BlockSpec, bool, error) {
	i, ok, err := m.fetcher.NextRequest(peerID)
	if err != nil || !ok {
		return core.BlockSpec{}, ok, err
	}
	length, err := m.fetcher.BlockLength(i)
	if err != nil {
		return core.BlockSpec{}, false, err
	}
	return core.BlockSpec{PieceIndex: i, Offset: 0, Length: length}, true, nil
}

func (m *MetadataManager) BlockReceived(peerID core.PeerID, block core.BlockSpec, data []byte) (bool, error) {
	complete, assembled, err := m.fetcher.BlockReceived(peerID, block.PieceIndex, data)
	if err != nil {
		return false, err
	}
	if complete && m.onComplete != nil {
		m.onComplete(assembled)
	}
	return complete, nil
}

// ReadBlock always fails: this engine never re-serves metadata it fetched.
func (m *MetadataManager) ReadBlock(block core.BlockSpec) ([]byte, error) {
	return nil, ErrMetadataUploadUnsupported
}

// ExpiredRequests always returns nil: the metadata fetcher assigns at most
// one block per peer and never marks an assignment as having timed out
// (a magnet's info dictionary is small enough that BEP-9 defines no
// per-request retry timer); a stalled peer here is instead cleared out by
// the session's own inactivity timeout.
func (m *MetadataManager) ExpiredRequests(peerID core.PeerID) []int {
	return nil
}
