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

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPieceSpecBlocksExactMultiple(t *testing.T) {
	require := require.New(t)

	p := PieceSpec{Index: 0, GlobalOffset: 0, Length: BlockSize * 3}
	blocks := p.Blocks()
	require.Len(blocks, 3)
	require.Equal(p.NumBlocks(), len(blocks))
	for i, b := range blocks {
		require.Equal(i*BlockSize, b.Offset)
		require.Equal(BlockSize, b.Length)
		require.Equal(0, b.PieceIndex)
	}
}

func TestPieceSpecBlocksTrailingRemainder(t *testing.T) {
	require := require.New(t)

	p := PieceSpec{Index: 4, GlobalOffset: 1 << 20, Length: BlockSize*2 + 100}
	blocks := p.Blocks()
	require.Len(blocks, 3)
	require.Equal(BlockSize, blocks[0].Length)
	require.Equal(BlockSize, blocks[1].Length)
	require.Equal(100, blocks[2].Length)
	require.Equal(BlockSize*2, blocks[2].Offset)
}

func TestPieceSpecNumBlocksUndersizedPiece(t *testing.T) {
	require := require.New(t)

	p := PieceSpec{Index: 1, Length: 100}
	require.Equal(1, p.NumBlocks())
}
