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
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"
	"github.com/willf/bitset"

	"github.com/SkyPlay-Code/btswarm/core"
	"github.com/SkyPlay-Code/btswarm/utils/syncutil"
)

func allSet(n int) *bitset.BitSet {
	b := bitset.New(uint(n))
	for i := 0; i < n; i++ {
		b.Set(uint(i))
	}
	return b
}

func newTestPeerID(t *testing.T) core.PeerID {
	p, err := core.RandomPeerID()
	require.NoError(t, err)
	return p
}

func TestPendingManagerReservePiecesRespectsQuota(t *testing.T) {
	require := require.New(t)

	clk := clock.NewMock()
	m := NewPendingManager(clk, 10, NewSelectionPolicy(DefaultPolicy), PendingConfig{PipelineLimit: 3})

	peer := newTestPeerID(t)
	counters := syncutil.NewCounters(10)

	pieces, err := m.ReservePieces(peer, allSet(10), counters, false)
	require.NoError(err)
	require.Len(pieces, 3)
	require.Len(m.PendingPieces(peer), 3)
}

func TestPendingManagerDoesNotDoubleReserveSamePiece(t *testing.T) {
	require := require.New(t)

	clk := clock.NewMock()
	m := NewPendingManager(clk, 1, NewSelectionPolicy(DefaultPolicy), PendingConfig{PipelineLimit: 1})

	peerA := newTestPeerID(t)
	peerB := newTestPeerID(t)
	counters := syncutil.NewCounters(1)

	_, err := m.ReservePieces(peerA, allSet(1), counters, false)
	require.NoError(err)

	pieces, err := m.ReservePieces(peerB, allSet(1), counters, false)
	require.NoError(err)
	require.Empty(pieces)
}

func TestPendingManagerAllowsDuplicatesInEndgame(t *testing.T) {
	require := require.New(t)

	clk := clock.NewMock()
	m := NewPendingManager(clk, 1, NewSelectionPolicy(DefaultPolicy), PendingConfig{PipelineLimit: 1})

	peerA := newTestPeerID(t)
	peerB := newTestPeerID(t)
	counters := syncutil.NewCounters(1)

	_, err := m.ReservePieces(peerA, allSet(1), counters, false)
	require.NoError(err)

	pieces, err := m.ReservePieces(peerB, allSet(1), counters, true)
	require.NoError(err)
	require.Equal([]int{0}, pieces)
}

func TestPendingManagerExpiredRequestBecomesReservableAgain(t *testing.T) {
	require := require.New(t)

	clk := clock.NewMock()
	m := NewPendingManager(clk, 1, NewSelectionPolicy(DefaultPolicy), PendingConfig{
		PipelineLimit: 1,
		Timeout:       5 * time.Second,
	})

	peerA := newTestPeerID(t)
	peerB := newTestPeerID(t)
	counters := syncutil.NewCounters(1)

	_, err := m.ReservePieces(peerA, allSet(1), counters, false)
	require.NoError(err)

	clk.Add(6 * time.Second)

	pieces, err := m.ReservePieces(peerB, allSet(1), counters, false)
	require.NoError(err)
	require.Equal([]int{0}, pieces)
}

func TestPendingManagerClearRemovesBookkeeping(t *testing.T) {
	require := require.New(t)

	clk := clock.NewMock()
	m := NewPendingManager(clk, 1, NewSelectionPolicy(DefaultPolicy), PendingConfig{PipelineLimit: 1})

	peer := newTestPeerID(t)
	counters := syncutil.NewCounters(1)

	_, err := m.ReservePieces(peer, allSet(1), counters, false)
	require.NoError(err)
	require.Len(m.PendingPieces(peer), 1)

	m.Clear(0)
	require.Empty(m.PendingPieces(peer))
}

func TestPendingManagerClearPeerRemovesAllItsRequests(t *testing.T) {
	require := require.New(t)

	clk := clock.NewMock()
	m := NewPendingManager(clk, 2, NewSelectionPolicy(DefaultPolicy), PendingConfig{PipelineLimit: 2})

	peer := newTestPeerID(t)
	counters := syncutil.NewCounters(2)

	_, err := m.ReservePieces(peer, allSet(2), counters, false)
	require.NoError(err)
	require.Len(m.PendingPieces(peer), 2)

	m.ClearPeer(peer)
	require.Empty(m.PendingPieces(peer))
}

func TestPendingManagerEndgameThreshold(t *testing.T) {
	require := require.New(t)

	clk := clock.NewMock()
	m := NewPendingManager(clk, 1000, NewSelectionPolicy(DefaultPolicy), PendingConfig{})

	require.True(m.Endgame(5))
	require.False(m.Endgame(50))
}

func TestPendingManagerMarkUnsentAllowsImmediateRetry(t *testing.T) {
	require := require.New(t)

	clk := clock.NewMock()
	m := NewPendingManager(clk, 1, NewSelectionPolicy(DefaultPolicy), PendingConfig{PipelineLimit: 1})

	peer := newTestPeerID(t)
	counters := syncutil.NewCounters(1)

	_, err := m.ReservePieces(peer, allSet(1), counters, false)
	require.NoError(err)

	m.MarkUnsent(peer, 0)

	failed := m.FailedRequests()
	require.Len(failed, 1)
	require.Equal(StatusUnsent, failed[0].Status)
}
