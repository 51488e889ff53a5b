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

// Package piecestore tracks which pieces of a torrent are missing, in
// flight, or complete, verifies each piece's hash on arrival, and selects
// which piece to request next.
package piecestore

import (
	"crypto/sha1"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/willf/bitset"

	"github.com/SkyPlay-Code/btswarm/core"
	"github.com/SkyPlay-Code/btswarm/meta"
)

// ReaderWriterAt is the storage backend a Store reads and writes piece data
// through, satisfied by both filemapper.Mapper and filemapper.Cache.
type ReaderWriterAt interface {
	io.ReaderAt
	io.WriterAt
}

// ErrInvalidPieceHash is returned when a fully received piece's SHA-1
// digest does not match the one recorded in the torrent's info dictionary.
var ErrInvalidPieceHash = errors.New("piecestore: piece hash mismatch")

// ErrAlreadyComplete is returned when WriteBlock is called for a piece
// already marked complete.
var ErrAlreadyComplete = errors.New("piecestore: piece already complete")

// Store holds the verified-completion state of every piece in a torrent
// and proxies reads/writes of piece data to the underlying storage.
type Store struct {
	infoHash core.InfoHash
	info     *meta.Info
	backend  ReaderWriterAt

	mu         sync.RWMutex
	completed  *bitset.BitSet
	downloaded int64
}

// Open creates a Store for the torrent described by info, verifying
// previously-downloaded data via resume if a non-nil bitfield is supplied,
// or by hash-checking every piece against backend if resume is nil.
func Open(infoHash core.InfoHash, info *meta.Info, backend ReaderWriterAt, resume *bitset.BitSet) (*Store, error) {
	s := &Store{
		infoHash:  infoHash,
		info:      info,
		backend:   backend,
		completed: bitset.New(uint(info.NumPieces())),
	}
	if resume != nil {
		s.completed = resume.Clone()
	} else if err := s.populateCompleted(); err != nil {
		return nil, err
	}
	if err := s.recomputeDownloaded(); err != nil {
		return nil, err
	}
	return s, nil
}

// recomputeDownloaded sums the lengths of every completed piece, so the
// downloaded-bytes counter is correct after a resume or hash-check load.
func (s *Store) recomputeDownloaded() error {
	var total int64
	for i, ok := s.completed.NextSet(0); ok; i, ok = s.completed.NextSet(i + 1) {
		length, err := s.info.PieceLengthAt(int(i))
		if err != nil {
			return err
		}
		total += length
	}
	s.downloaded = total
	return nil
}

// populateCompleted hash-checks every piece against the backend, used when
// no resume bitfield is available (e.g. its file is missing or corrupt).
func (s *Store) populateCompleted() error {
	for i := 0; i < s.info.NumPieces(); i++ {
		ok, err := s.verify(i)
		if err != nil {
			return fmt.Errorf("verify piece %d: %s", i, err)
		}
		if ok {
			s.completed.Set(uint(i))
		}
	}
	return nil
}

func (s *Store) verify(i int) (bool, error) {
	length, err := s.info.PieceLengthAt(i)
	if err != nil {
		return false, err
	}
	want, err := s.info.PieceHash(i)
	if err != nil {
		return false, err
	}
	buf := make([]byte, length)
	offset := int64(i) * s.info.PieceLength
	if _, err := s.backend.ReadAt(buf, offset); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return false, nil
		}
		return false, err
	}
	got := sha1.Sum(buf)
	return got == want, nil
}

// NumPieces returns the total number of pieces in the torrent.
func (s *Store) NumPieces() int {
	return s.info.NumPieces()
}

// InfoHash returns the info hash of the torrent this Store tracks.
func (s *Store) InfoHash() core.InfoHash {
	return s.infoHash
}

// PieceLength returns the length of piece i, which is shorter than the
// torrent's nominal piece length only for the final piece.
func (s *Store) PieceLength(i int) (int, error) {
	length, err := s.info.PieceLengthAt(i)
	if err != nil {
		return 0, err
	}
	return int(length), nil
}

// HasPiece reports whether piece i has been verified complete.
func (s *Store) HasPiece(i int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.completed.Test(uint(i))
}

// Bitfield returns a snapshot of the completion state of every piece, one
// bit per piece index.
func (s *Store) Bitfield() *bitset.BitSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.completed.Clone()
}

// DownloadedBytes returns the total length of every verified piece. A
// piece only counts once it has passed hash verification, so a piece whose
// blocks arrived but failed its digest contributes nothing.
func (s *Store) DownloadedBytes() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.downloaded
}

// Complete reports whether every piece has been verified complete.
func (s *Store) Complete() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.completed.All()
}

// MissingPieces returns the indices of every piece not yet complete.
func (s *Store) MissingPieces() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var missing []int
	for i := 0; i < s.info.NumPieces(); i++ {
		if !s.completed.Test(uint(i)) {
			missing = append(missing, i)
		}
	}
	return missing
}

// ReadBlock reads a block of piece data. The piece need not be complete.
func (s *Store) ReadBlock(b core.BlockSpec) ([]byte, error) {
	length, err := s.info.PieceLengthAt(b.PieceIndex)
	if err != nil {
		return nil, err
	}
	if b.Offset < 0 || int64(b.Offset+b.Length) > length {
		return nil, fmt.Errorf("block %s out of bounds for piece of length %d", b, length)
	}
	buf := make([]byte, b.Length)
	offset := int64(b.PieceIndex)*s.info.PieceLength + int64(b.Offset)
	if _, err := s.backend.ReadAt(buf, offset); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteBlock writes a block of piece data. If the write completes the
// piece, the piece's hash is verified: on success the piece is marked
// complete and true is returned; on mismatch the piece is left incomplete
// (discarding no already-written bytes, matching BEP-3's tolerance of
// redundant re-requests) and ErrInvalidPieceHash is returned.
func (s *Store) WriteBlock(b core.BlockSpec, data []byte) (completed bool, err error) {
	if len(data) != b.Length {
		return false, fmt.Errorf("block %s: data length %d does not match", b, len(data))
	}
	if s.HasPiece(b.PieceIndex) {
		return false, ErrAlreadyComplete
	}
	length, err := s.info.PieceLengthAt(b.PieceIndex)
	if err != nil {
		return false, err
	}
	if b.Offset < 0 || int64(b.Offset+b.Length) > length {
		return false, fmt.Errorf("block %s out of bounds for piece of length %d", b, length)
	}
	offset := int64(b.PieceIndex)*s.info.PieceLength + int64(b.Offset)
	if _, err := s.backend.WriteAt(data, offset); err != nil {
		return false, err
	}

	if int64(b.Offset+b.Length) < length {
		// Piece not yet fully written; nothing to verify yet.
		return false, nil
	}

	ok, err := s.verify(b.PieceIndex)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, ErrInvalidPieceHash
	}
	s.mu.Lock()
	if !s.completed.Test(uint(b.PieceIndex)) {
		s.completed.Set(uint(b.PieceIndex))
		s.downloaded += length
	}
	s.mu.Unlock()
	return true, nil
}
