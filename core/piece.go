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
package core

import "fmt"

// BlockSize is the conventional block granularity most clients request
// pieces in, 16 KiB. Pieces larger than this are fetched as a sequence of
// blocks rather than a single request.
const BlockSize = 16 * 1024

// BlockSpec addresses a contiguous byte range within a single piece.
type BlockSpec struct {
	PieceIndex int
	Offset     int
	Length     int
}

// String renders b the way it appears in request/piece/cancel log lines.
func (b BlockSpec) String() string {
	return fmt.Sprintf("piece=%d offset=%d length=%d", b.PieceIndex, b.Offset, b.Length)
}

// PieceSpec describes the static geometry of a single piece within a
// torrent: its index, the global byte offset it begins at, and its length
// (which is shorter than the nominal piece length for the final piece of a
// torrent whose total length is not an exact multiple of it).
type PieceSpec struct {
	Index        int
	GlobalOffset int64
	Length       int
}

// NumBlocks returns how many BlockSize-aligned blocks p decomposes into.
func (p PieceSpec) NumBlocks() int {
	n := p.Length / BlockSize
	if p.Length%BlockSize != 0 {
		n++
	}
	return n
}

// Blocks enumerates the BlockSpecs composing p in ascending offset order.
func (p PieceSpec) Blocks() []BlockSpec {
	blocks := make([]BlockSpec, 0, p.NumBlocks())
	for off := 0; off < p.Length; off += BlockSize {
		length := BlockSize
		if off+length > p.Length {
			length = p.Length - off
		}
		blocks = append(blocks, BlockSpec{PieceIndex: p.Index, Offset: off, Length: length})
	}
	return blocks
}
