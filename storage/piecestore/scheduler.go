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
package piecestore

import (
	"sync"

	"github.com/willf/bitset"

	"github.com/SkyPlay-Code/btswarm/core"
	"github.com/SkyPlay-Code/btswarm/utils/syncutil"
)

// Scheduler decomposes piece-granularity reservations into the
// block-granularity request stream a peer session drives: it tracks which
// pieces each peer claims (for rarity and candidacy), reserves pieces from
// PendingManager on the peer's behalf,
// and hands out that piece's blocks one at a time as the peer asks for
// them. It is the capability every peer session depends on -- see
// metadatafetcher.Fetcher for the sibling implementation used before a
// torrent's info dictionary is known.
type Scheduler struct {
	store   *Store
	pending *PendingManager

	mu              sync.Mutex
	peerPieces      map[core.PeerID]*bitset.BitSet
	numPeersByPiece *syncutil.Counters
	assigned        map[core.PeerID]int      // peer -> piece currently being pulled
	received        map[int]*bitset.BitSet   // piece -> block indices already written
}

// NewScheduler creates a Scheduler driving requests against store, using
// pending for piece reservation and timeout bookkeeping.
func NewScheduler(store *Store, pending *PendingManager) *Scheduler {
	return &Scheduler{
		store:           store,
		pending:         pending,
		peerPieces:      make(map[core.PeerID]*bitset.BitSet),
		numPeersByPiece: syncutil.NewCounters(store.NumPieces()),
		assigned:        make(map[core.PeerID]int),
		received:        make(map[int]*bitset.BitSet),
	}
}

// AddPeer registers peerID with its initial claimed-piece bitfield, as
// announced by a "bitfield" message. A peer may also be registered lazily
// by UpdatePeer alone, in which case its claimed set starts empty.
func (s *Scheduler) AddPeer(peerID core.PeerID, bits *bitset.BitSet) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensurePeerLocked(peerID)
	if bits == nil {
		return
	}
	for i, ok := bits.NextSet(0); ok; i, ok = bits.NextSet(i + 1) {
		s.claimLocked(peerID, int(i))
	}
}

// UpdatePeer records that peerID claims piece i, as announced by a "have"
// message or a bitfield bit. Idempotent: claiming an already-claimed piece
// is a no-op.
func (s *Scheduler) UpdatePeer(peerID core.PeerID, i int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensurePeerLocked(peerID)
	s.claimLocked(peerID, i)
}

func (s *Scheduler) ensurePeerLocked(peerID core.PeerID) {
	if _, ok := s.peerPieces[peerID]; !ok {
		s.peerPieces[peerID] = bitset.New(uint(s.store.NumPieces()))
	}
}

func (s *Scheduler) claimLocked(peerID core.PeerID, i int) {
	pieces := s.peerPieces[peerID]
	if pieces.Test(uint(i)) {
		return
	}
	pieces.Set(uint(i))
	s.numPeersByPiece.Increment(i)
}

// RemovePeer forgets peerID entirely: its rarity contribution to every
// piece it claimed, its in-flight reservations, and its current block
// assignment.
func (s *Scheduler) RemovePeer(peerID core.PeerID) {
	s.mu.Lock()
	pieces := s.peerPieces[peerID]
	delete(s.peerPieces, peerID)
	delete(s.assigned, peerID)
	s.mu.Unlock()

	if pieces != nil {
		for i, ok := pieces.NextSet(0); ok; i, ok = pieces.NextSet(i + 1) {
			s.numPeersByPiece.Decrement(int(i))
		}
	}
	s.pending.ClearPeer(peerID)
}

// GetActivePeers returns the ids of every peer currently registered.
func (s *Scheduler) GetActivePeers() []core.PeerID {
	s.mu.Lock()
	defer s.mu.Unlock()

	peers := make([]core.PeerID, 0, len(s.peerPieces))
	for id := range s.peerPieces {
		peers = append(peers, id)
	}
	return peers
}

// ReadBlock reads a block of already-verified piece data, forwarding to the
// underlying Store.
func (s *Scheduler) ReadBlock(b core.BlockSpec) ([]byte, error) {
	return s.store.ReadBlock(b)
}

// DownloadedBytes reports the total length of every verified piece.
func (s *Scheduler) DownloadedBytes() int64 {
	return s.store.DownloadedBytes()
}

// ExpiredRequests returns the piece indices whose reservation for peerID is
// no longer pending at the PendingManager -- timed out past its 5s
// Timeout, or otherwise marked unsent or invalid -- so a peer session can
// drop its own outstanding wire request for that piece and let
// NextRequest reissue it (PendingManager hands the same piece back with a
// fresh issuance timestamp).
func (s *Scheduler) ExpiredRequests(peerID core.PeerID) []int {
	var out []int
	for _, r := range s.pending.FailedRequests() {
		if r.PeerID == peerID {
			out = append(out, r.Piece)
		}
	}
	return out
}

// NextRequest selects the next block peerID should request, or reports
// false if the peer currently has nothing useful to offer. Priority:
//
//  1. Continue the piece already assigned to this peer, if it still has
//     blocks not yet received. The block returned is the first one not yet
//     received, so repeated calls return the same block until it arrives;
//     this also covers re-requesting a block whose request timed out.
//  2. Otherwise, reserve a new piece: rarest-first among the peer's
//     claimed, incomplete pieces, or -- once in endgame -- allowing a
//     duplicate of a piece already reserved to another peer.
func (s *Scheduler) NextRequest(peerID core.PeerID) (core.BlockSpec, bool, error) {
	if piece, ok := s.currentAssignment(peerID); ok {
		if block, ok := s.nextBlockOf(piece); ok {
			return block, true, nil
		}
	}

	candidates := s.candidatesFor(peerID)
	if candidates.None() {
		return core.BlockSpec{}, false, nil
	}

	allowDuplicates := s.pending.Endgame(len(s.store.MissingPieces()))
	reserved, err := s.pending.ReservePieces(peerID, candidates, s.numPeersByPiece, allowDuplicates)
	if err != nil {
		return core.BlockSpec{}, false, err
	}
	if len(reserved) == 0 {
		return core.BlockSpec{}, false, nil
	}

	piece := reserved[0]
	s.mu.Lock()
	s.assigned[peerID] = piece
	s.mu.Unlock()

	block, ok := s.nextBlockOf(piece)
	if !ok {
		// Every block of this piece has already been seen from this
		// peer's point of view (an endgame duplicate reservation);
		// request from the start, since this peer has sent us none of
		// them yet.
		length, err := s.store.PieceLength(piece)
		if err != nil {
			return core.BlockSpec{}, false, err
		}
		blockLen := core.BlockSize
		if blockLen > length {
			blockLen = length
		}
		block = core.BlockSpec{PieceIndex: piece, Offset: 0, Length: blockLen}
	}
	return block, true, nil
}

func (s *Scheduler) currentAssignment(peerID core.PeerID) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	piece, ok := s.assigned[peerID]
	if ok && s.store.HasPiece(piece) {
		delete(s.assigned, peerID)
		return 0, false
	}
	return piece, ok
}

func (s *Scheduler) candidatesFor(peerID core.PeerID) *bitset.BitSet {
	s.mu.Lock()
	claimed, ok := s.peerPieces[peerID]
	s.mu.Unlock()

	candidates := bitset.New(uint(s.store.NumPieces()))
	if !ok {
		return candidates
	}
	for i, more := claimed.NextSet(0); more; i, more = claimed.NextSet(i + 1) {
		if !s.store.HasPiece(int(i)) {
			candidates.Set(i)
		}
	}
	return candidates
}

// nextBlockOf returns the first block of piece not yet marked received.
func (s *Scheduler) nextBlockOf(piece int) (core.BlockSpec, bool) {
	length, err := s.store.PieceLength(piece)
	if err != nil {
		return core.BlockSpec{}, false
	}
	spec := core.PieceSpec{Index: piece, Length: length}

	s.mu.Lock()
	defer s.mu.Unlock()
	rcvd := s.received[piece]
	for _, b := range spec.Blocks() {
		blockIdx := uint(b.Offset / core.BlockSize)
		if rcvd != nil && rcvd.Test(blockIdx) {
			continue
		}
		return b, true
	}
	return core.BlockSpec{}, false
}

// BlockReceived stores data for block at the piece store, and reports
// whether the write completed (and verified) the piece. A block for a
// piece already complete is dropped silently as a late or duplicate
// delivery, since completion moves a piece out of ongoing.
func (s *Scheduler) BlockReceived(peerID core.PeerID, block core.BlockSpec, data []byte) (bool, error) {
	if s.store.HasPiece(block.PieceIndex) {
		return false, nil
	}

	completed, err := s.store.WriteBlock(block, data)
	if err != nil {
		if err == ErrInvalidPieceHash {
			s.resetPiece(block.PieceIndex)
		}
		if err == ErrAlreadyComplete {
			return false, nil
		}
		return false, err
	}

	if completed {
		s.pending.Clear(block.PieceIndex)
		s.mu.Lock()
		delete(s.received, block.PieceIndex)
		for id, p := range s.assigned {
			if p == block.PieceIndex {
				delete(s.assigned, id)
			}
		}
		s.mu.Unlock()
		return true, nil
	}

	s.markReceived(block)
	return false, nil
}

func (s *Scheduler) markReceived(block core.BlockSpec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rcvd, ok := s.received[block.PieceIndex]
	if !ok {
		length, err := s.store.PieceLength(block.PieceIndex)
		if err != nil {
			return
		}
		numBlocks := (length + core.BlockSize - 1) / core.BlockSize
		rcvd = bitset.New(uint(numBlocks))
		s.received[block.PieceIndex] = rcvd
	}
	rcvd.Set(uint(block.Offset / core.BlockSize))
}

// resetPiece discards all bookkeeping for a piece that failed hash
// verification, so it is immediately reservable again: a hash mismatch
// resets every block to Missing.
func (s *Scheduler) resetPiece(piece int) {
	s.mu.Lock()
	delete(s.received, piece)
	for id, p := range s.assigned {
		if p == piece {
			delete(s.assigned, id)
		}
	}
	s.mu.Unlock()
	s.pending.Clear(piece)
}
