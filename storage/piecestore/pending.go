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
	"sort"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/willf/bitset"

	"github.com/SkyPlay-Code/btswarm/core"
	"github.com/SkyPlay-Code/btswarm/utils/syncutil"
)

// RequestStatus enumerates the lifecycle of a single piece request.
type RequestStatus int

const (
	// StatusPending denotes a valid request still in flight.
	StatusPending RequestStatus = iota
	// StatusExpired denotes an in-flight request that timed out.
	StatusExpired
	// StatusUnsent denotes an unsent request safe to retry to the same peer.
	StatusUnsent
	// StatusInvalid denotes a completed request whose payload failed
	// verification.
	StatusInvalid
)

// Request records a single outstanding piece request to a peer.
type Request struct {
	Piece  int
	PeerID core.PeerID
	Status RequestStatus

	sentAt time.Time
}

// DefaultRequestTimeout is how long a request may remain unanswered before
// it is considered expired and its piece becomes reservable again.
const DefaultRequestTimeout = 5 * time.Second

// PendingManager tracks outstanding piece requests across peers: which
// pieces are reserved by which peer, when a reservation expires, and when
// endgame mode permits reserving an already-reserved piece from a second
// peer. It does not send or receive any wire messages itself.
type PendingManager struct {
	mu sync.RWMutex

	requests       map[int][]*Request
	requestsByPeer map[core.PeerID]map[int]*Request

	clock   clock.Clock
	timeout time.Duration

	policy        SelectionPolicy
	pipelineLimit int

	totalPieces      int
	endgameMinPieces int
	endgameFraction  float64
}

// PendingConfig configures a PendingManager.
type PendingConfig struct {
	Timeout          time.Duration `yaml:"timeout"`
	PipelineLimit    int           `yaml:"pipeline_limit"`
	EndgameMinPieces int           `yaml:"endgame_min_pieces"`
	EndgameFraction  float64       `yaml:"endgame_fraction"`
}

func (c *PendingConfig) applyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = DefaultRequestTimeout
	}
	if c.PipelineLimit == 0 {
		c.PipelineLimit = 1
	}
	if c.EndgameMinPieces == 0 {
		c.EndgameMinPieces = 5
	}
	if c.EndgameFraction == 0 {
		c.EndgameFraction = 0.01
	}
}

// NewPendingManager creates a PendingManager for a torrent with the given
// total piece count, using clk as its source of time.
func NewPendingManager(clk clock.Clock, totalPieces int, policy SelectionPolicy, config PendingConfig) *PendingManager {
	config.applyDefaults()
	return &PendingManager{
		requests:         make(map[int][]*Request),
		requestsByPeer:   make(map[core.PeerID]map[int]*Request),
		clock:            clk,
		timeout:          config.Timeout,
		policy:           policy,
		pipelineLimit:    config.PipelineLimit,
		totalPieces:      totalPieces,
		endgameMinPieces: config.EndgameMinPieces,
		endgameFraction:  config.EndgameFraction,
	}
}

// Endgame reports whether the swarm has few enough pieces left outstanding
// that duplicate requests to multiple peers are worthwhile.
func (m *PendingManager) Endgame(remaining int) bool {
	threshold := int(float64(m.totalPieces) * m.endgameFraction)
	if threshold < m.endgameMinPieces {
		threshold = m.endgameMinPieces
	}
	return remaining <= threshold
}

// ReservePieces selects up to the peer's pipeline quota of pieces to
// request next from candidates, using numPeersByPiece for rarity. When
// allowDuplicates is true (endgame), pieces already reserved under another
// peer remain eligible.
func (m *PendingManager) ReservePieces(
	peerID core.PeerID,
	candidates *bitset.BitSet,
	numPeersByPiece *syncutil.Counters,
	allowDuplicates bool,
) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	quota := m.requestQuota(peerID)
	if quota <= 0 {
		return nil, nil
	}

	valid := func(i int) bool { return m.validRequest(peerID, i, allowDuplicates) }
	pieces, err := m.policy.SelectPieces(quota, valid, candidates, numPeersByPiece)
	if err != nil {
		return nil, err
	}

	for _, i := range pieces {
		r := &Request{Piece: i, PeerID: peerID, Status: StatusPending, sentAt: m.clock.Now()}
		m.requests[i] = append(m.requests[i], r)
		if _, ok := m.requestsByPeer[peerID]; !ok {
			m.requestsByPeer[peerID] = make(map[int]*Request)
		}
		m.requestsByPeer[peerID][i] = r
	}
	return pieces, nil
}

// MarkUnsent marks the request for piece i from peerID as unsent.
func (m *PendingManager) MarkUnsent(peerID core.PeerID, i int) {
	m.markStatus(peerID, i, StatusUnsent)
}

// MarkInvalid marks the request for piece i from peerID as invalid.
func (m *PendingManager) MarkInvalid(peerID core.PeerID, i int) {
	m.markStatus(peerID, i, StatusInvalid)
}

// Clear removes all bookkeeping for piece i, once it is either verified
// complete or abandoned entirely.
func (m *PendingManager) Clear(i int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.requests, i)
	for peerID, pm := range m.requestsByPeer {
		delete(pm, i)
		if len(pm) == 0 {
			delete(m.requestsByPeer, peerID)
		}
	}
}

// ClearPeer removes all bookkeeping associated with peerID, e.g. on
// disconnect.
func (m *PendingManager) ClearPeer(peerID core.PeerID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.requestsByPeer, peerID)
	for i, rs := range m.requests {
		kept := rs[:0]
		for _, r := range rs {
			if r.PeerID != peerID {
				kept = append(kept, r)
			}
		}
		m.requests[i] = kept
	}
}

// PendingPieces returns, in ascending order, the pieces currently pending
// against peerID.
func (m *PendingManager) PendingPieces(peerID core.PeerID) []int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var pieces []int
	for i, r := range m.requestsByPeer[peerID] {
		if r.Status == StatusPending {
			pieces = append(pieces, i)
		}
	}
	sort.Ints(pieces)
	return pieces
}

// FailedRequests returns a snapshot of every request that is no longer
// pending: expired, explicitly marked unsent, or invalid.
func (m *PendingManager) FailedRequests() []Request {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var failed []Request
	for _, rs := range m.requests {
		for _, r := range rs {
			status := r.Status
			if status == StatusPending && m.expired(r) {
				status = StatusExpired
			}
			if status != StatusPending {
				failed = append(failed, Request{Piece: r.Piece, PeerID: r.PeerID, Status: status})
			}
		}
	}
	return failed
}

func (m *PendingManager) validRequest(peerID core.PeerID, i int, allowDuplicates bool) bool {
	for _, r := range m.requests[i] {
		if r.Status == StatusPending && !m.expired(r) {
			if r.PeerID == peerID {
				return false
			}
			if !allowDuplicates {
				return false
			}
		}
	}
	return true
}

func (m *PendingManager) requestQuota(peerID core.PeerID) int {
	quota := m.pipelineLimit
	pm, ok := m.requestsByPeer[peerID]
	if !ok {
		return quota
	}
	for _, r := range pm {
		if r.Status == StatusPending && !m.expired(r) {
			quota--
			if quota == 0 {
				break
			}
		}
	}
	return quota
}

func (m *PendingManager) expired(r *Request) bool {
	return m.clock.Now().After(r.sentAt.Add(m.timeout))
}

func (m *PendingManager) markStatus(peerID core.PeerID, i int, s RequestStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.requests[i] {
		if r.PeerID == peerID {
			r.Status = s
		}
	}
}
