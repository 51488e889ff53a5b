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

// Package metadatafetcher retrieves a magnet-source torrent's info
// dictionary over the BEP-9 ut_metadata extension before any piece of
// torrent data can be requested. It exposes the same narrow "give me the
// next missing index" capability piecestore.Scheduler does, so a peer
// session can drive either one without caring which mode the torrent is in.
package metadatafetcher

import (
	"crypto/sha1"
	"errors"
	"fmt"
	"sync"

	"github.com/willf/bitset"

	"github.com/SkyPlay-Code/btswarm/core"
)

// MetadataBlockSize is the fixed block size ut_metadata transfers pieces
// of the info dictionary in, per BEP-9.
const MetadataBlockSize = 16 * 1024

// ErrSizeUnknown is returned by NextRequest/BlockReceived before SetSize
// has been called, e.g. before any peer's extension handshake has arrived.
var ErrSizeUnknown = errors.New("metadatafetcher: metadata size not yet known")

// ErrDigestMismatch is returned when the fully assembled metadata's SHA-1
// does not match the torrent's info hash.
var ErrDigestMismatch = errors.New("metadatafetcher: assembled metadata does not match info hash")

// Fetcher assembles a torrent's info dictionary out of sequentially
// requested 16 KiB blocks, verifying the result against the magnet link's
// info hash before handing it to a Descriptor.
type Fetcher struct {
	infoHash core.InfoHash

	mu       sync.Mutex
	size     int64
	numBlocks int
	have     *bitset.BitSet
	data     []byte

	claimed   map[core.PeerID]*bitset.BitSet
	assigned  map[core.PeerID]int
}

// New creates a Fetcher for the given info hash. SetSize must be called
// once the metadata size becomes known (from a peer's extension
// handshake) before any request can be served.
func New(infoHash core.InfoHash) *Fetcher {
	return &Fetcher{
		infoHash: infoHash,
		claimed:  make(map[core.PeerID]*bitset.BitSet),
		assigned: make(map[core.PeerID]int),
	}
}

// SetSize records the metadata's total byte size, as announced by a peer's
// extension handshake metadata_size field. A Fetcher only accepts the
// first size it is given; later calls with a different size are ignored,
// since all peers in a swarm must agree on the same torrent.
func (f *Fetcher) SetSize(size int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.size != 0 {
		return
	}
	f.size = size
	f.numBlocks = int((size + MetadataBlockSize - 1) / MetadataBlockSize)
	f.have = bitset.New(uint(f.numBlocks))
	f.data = make([]byte, size)
}

// Ready reports whether SetSize has been called.
func (f *Fetcher) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.size != 0
}

// Complete reports whether every metadata block has been received.
func (f *Fetcher) Complete() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.have != nil && f.have.All()
}

// AddPeer registers peerID as a source of metadata; every peer that speaks
// ut_metadata can serve every block, unlike piece data, since the full
// metadata is small and every peer holding it holds all of it.
func (f *Fetcher) AddPeer(peerID core.PeerID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.claimed[peerID]; !ok {
		f.claimed[peerID] = nil
	}
}

// RemovePeer forgets peerID.
func (f *Fetcher) RemovePeer(peerID core.PeerID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.claimed, peerID)
	delete(f.assigned, peerID)
}

// GetActivePeers returns the ids of every peer currently registered.
func (f *Fetcher) GetActivePeers() []core.PeerID {
	f.mu.Lock()
	defer f.mu.Unlock()
	peers := make([]core.PeerID, 0, len(f.claimed))
	for id := range f.claimed {
		peers = append(peers, id)
	}
	return peers
}

// NextRequest selects the next missing metadata block index for peerID to
// request, scanning sequentially by ascending index -- no rarity or
// pipelining is warranted for a transfer this small.
func (f *Fetcher) NextRequest(peerID core.PeerID) (index int, ok bool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.size == 0 {
		return 0, false, ErrSizeUnknown
	}
	if _, registered := f.claimed[peerID]; !registered {
		return 0, false, nil
	}
	if i, ok := f.assigned[peerID]; ok {
		return i, true, nil
	}
	for i := 0; i < f.numBlocks; i++ {
		if !f.have.Test(uint(i)) && !f.alreadyAssignedLocked(i) {
			f.assigned[peerID] = i
			return i, true, nil
		}
	}
	return 0, false, nil
}

func (f *Fetcher) alreadyAssignedLocked(i int) bool {
	for _, assigned := range f.assigned {
		if assigned == i {
			return true
		}
	}
	return false
}

// blockLength returns the length of block i, which is shorter than
// MetadataBlockSize only for the final block.
func (f *Fetcher) blockLength(i int) int {
	start := int64(i) * MetadataBlockSize
	length := int64(MetadataBlockSize)
	if start+length > f.size {
		length = f.size - start
	}
	return int(length)
}

// BlockLength returns the length of block i, as sent in a msg_type=1 reply.
func (f *Fetcher) BlockLength(i int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.size == 0 {
		return 0, ErrSizeUnknown
	}
	if i < 0 || i >= f.numBlocks {
		return 0, fmt.Errorf("metadatafetcher: block index %d out of range [0, %d)", i, f.numBlocks)
	}
	return f.blockLength(i), nil
}

// Size returns the total metadata byte size, once known.
func (f *Fetcher) Size() (int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.size, f.size != 0
}

// BlockReceived stores the raw bytes of metadata block i. It reports
// whether every block has now arrived and the assembled metadata passed
// its SHA-1 check against the torrent's info hash: on success, assembled
// holds a copy of the bytes to pass to Descriptor.LoadMetadata; on
// mismatch, every received block is wiped so the fetch restarts from
// scratch.
func (f *Fetcher) BlockReceived(peerID core.PeerID, i int, data []byte) (complete bool, assembled []byte, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.size == 0 {
		return false, nil, ErrSizeUnknown
	}
	if i < 0 || i >= f.numBlocks {
		return false, nil, fmt.Errorf("metadatafetcher: block index %d out of range [0, %d)", i, f.numBlocks)
	}
	want := f.blockLength(i)
	if len(data) != want {
		return false, nil, fmt.Errorf("metadatafetcher: block %d expected %d bytes, got %d", i, want, len(data))
	}

	delete(f.assigned, peerID)
	copy(f.data[int64(i)*MetadataBlockSize:], data)
	f.have.Set(uint(i))

	if !f.have.All() {
		return false, nil, nil
	}

	if core.InfoHash(sha1.Sum(f.data)) != f.infoHash {
		f.have = bitset.New(uint(f.numBlocks))
		f.data = make([]byte, f.size)
		f.assigned = make(map[core.PeerID]int)
		return false, nil, ErrDigestMismatch
	}

	out := make([]byte, len(f.data))
	copy(out, f.data)
	return true, out, nil
}
