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
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/willf/bitset"

	"github.com/SkyPlay-Code/btswarm/core"
)

// ResumeFileName returns the filename a resume bitfield for infoHash is
// stored under, to be joined with a torrent's working directory.
func ResumeFileName(infoHash core.InfoHash) string {
	return infoHash.Hex() + ".resume"
}

// LoadResume reads a previously-saved completion bitfield for numPieces
// pieces from dir. A missing file is not an error: it reports ok=false so
// the caller falls back to a full hash check.
func LoadResume(dir string, infoHash core.InfoHash, numPieces int) (bits *bitset.BitSet, ok bool, err error) {
	path := filepath.Join(dir, ResumeFileName(infoHash))
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read resume file: %s", err)
	}
	bits, err = unpackBitfield(raw, numPieces)
	if err != nil {
		// A corrupt resume file is treated the same as a missing one: fall
		// back to hash-checking every piece rather than failing the open.
		return nil, false, nil
	}
	return bits, true, nil
}

// SaveResume persists bits, the current completion state for infoHash, to
// dir, overwriting any previous resume file.
func SaveResume(dir string, infoHash core.InfoHash, bits *bitset.BitSet) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create resume dir: %s", err)
	}
	path := filepath.Join(dir, ResumeFileName(infoHash))
	tmp := path + ".tmp"
	raw := packBitfield(bits)
	if err := ioutil.WriteFile(tmp, raw, 0644); err != nil {
		return fmt.Errorf("write resume file: %s", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename resume file: %s", err)
	}
	return nil
}

// packBitfield encodes bits into the wire bitfield byte layout: one bit
// per piece, index 0 in the most significant bit of byte 0, the unused
// low-order bits of the final byte left zero.
func packBitfield(bits *bitset.BitSet) []byte {
	n := int(bits.Len())
	buf := make([]byte, (n+7)/8)
	for i, ok := bits.NextSet(0); ok; i, ok = bits.NextSet(i + 1) {
		idx := int(i)
		buf[idx/8] |= 1 << uint(7-idx%8)
	}
	return buf
}

// unpackBitfield is the inverse of packBitfield, validating that raw is
// exactly the length required for numPieces and that any padding bits are
// zero.
func unpackBitfield(raw []byte, numPieces int) (*bitset.BitSet, error) {
	want := (numPieces + 7) / 8
	if len(raw) != want {
		return nil, fmt.Errorf("resume bitfield: expected %d bytes, got %d", want, len(raw))
	}
	bits := bitset.New(uint(numPieces))
	for idx := 0; idx < numPieces; idx++ {
		if raw[idx/8]&(1<<uint(7-idx%8)) != 0 {
			bits.Set(uint(idx))
		}
	}
	for idx := numPieces; idx < want*8; idx++ {
		if raw[idx/8]&(1<<uint(7-idx%8)) != 0 {
			return nil, fmt.Errorf("resume bitfield: non-zero padding bit at index %d", idx)
		}
	}
	return bits, nil
}

// SaveResume persists the Store's own completion state to dir.
func (s *Store) SaveResume(dir string) error {
	return SaveResume(dir, s.infoHash, s.Bitfield())
}
