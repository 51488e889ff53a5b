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
	"math/rand"

	"github.com/willf/bitset"

	"github.com/SkyPlay-Code/btswarm/utils/heap"
	"github.com/SkyPlay-Code/btswarm/utils/syncutil"
)

// SelectionPolicy chooses which pieces to request next out of candidates,
// up to limit, skipping any piece for which valid returns false.
type SelectionPolicy interface {
	SelectPieces(
		limit int,
		valid func(pieceIdx int) bool,
		candidates *bitset.BitSet,
		numPeersByPiece *syncutil.Counters,
	) ([]int, error)
}

// RarestFirstPolicy is the name of the rarest-first SelectionPolicy.
const RarestFirstPolicy = "rarest_first"

// DefaultPolicy is the name of the reservoir-sampling SelectionPolicy.
const DefaultPolicy = "default"

// NewSelectionPolicy constructs the named SelectionPolicy. Unrecognized
// names fall back to DefaultPolicy.
func NewSelectionPolicy(name string) SelectionPolicy {
	if name == RarestFirstPolicy {
		return &rarestFirstPolicy{}
	}
	return &defaultPolicy{}
}

// rarestFirstPolicy requests the pieces held by the fewest known peers
// first, so a scarce piece doesn't disappear from the swarm entirely if its
// one holder departs. Ties are broken by ascending piece index, so that
// selection is deterministic and low-index pieces (needed first to start
// sequential playback of some file formats) are preferred among equally
// rare candidates.
type rarestFirstPolicy struct{}

func (p *rarestFirstPolicy) SelectPieces(
	limit int,
	valid func(pieceIdx int) bool,
	candidates *bitset.BitSet,
	numPeersByPiece *syncutil.Counters,
) ([]int, error) {
	queue := heap.NewPriorityQueue()
	for i, ok := candidates.NextSet(0); ok; i, ok = candidates.NextSet(i + 1) {
		idx := int(i)
		queue.Push(&heap.Item{
			Value:    idx,
			Priority: numPeersByPiece.Get(idx)*int(candidates.Len()) + idx,
		})
	}

	pieces := make([]int, 0, limit)
	for len(pieces) < limit && queue.Len() > 0 {
		item, err := queue.Pop()
		if err != nil {
			return nil, err
		}
		candidate, ok := item.Value.(int)
		if !ok {
			return nil, fmt.Errorf("piecestore: expected int, got %T", item.Value)
		}
		if valid(candidate) {
			pieces = append(pieces, candidate)
		}
	}
	return pieces, nil
}

// defaultPolicy selects pieces uniformly at random via reservoir sampling,
// giving a decent spread of pieces across the swarm without any rarity
// bookkeeping.
type defaultPolicy struct{}

func (p *defaultPolicy) SelectPieces(
	limit int,
	valid func(pieceIdx int) bool,
	candidates *bitset.BitSet,
	numPeersByPiece *syncutil.Counters,
) ([]int, error) {
	pieces := make([]int, 0, limit)
	if limit == 0 {
		return pieces, nil
	}

	var k int
	for i, ok := candidates.NextSet(0); ok; i, ok = candidates.NextSet(i + 1) {
		idx := int(i)
		if !valid(idx) {
			continue
		}
		if len(pieces) < limit {
			pieces = append(pieces, idx)
		} else {
			j := rand.Intn(k + 1)
			if j < limit {
				pieces[j] = idx
			}
		}
		k++
	}
	return pieces, nil
}
