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
package choke

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"go.uber.org/zap"

	"github.com/SkyPlay-Code/btswarm/core"
	"github.com/SkyPlay-Code/btswarm/metrics"

	"github.com/uber-go/tally"
)

// Session is the narrow view of a live peer.Session the Controller needs:
// enough to rank it, to learn whether it has sent us anything recently,
// and to flip its am_choking flag. *peer.Session satisfies this interface
// structurally -- the controller never imports package peer, matching
// The controller only mutates session flags; it never owns the session's
// socket.
type Session interface {
	ID() core.PeerID
	PeerInterested() bool
	LastDataReceivedAt() time.Time
	// Tick reports the bytes downloaded from and uploaded to this peer
	// since the last call to Tick, and resets both counters to zero.
	Tick() (downloaded, uploaded int64)
	AmChoking() bool
	SetChoking(choke bool) error
}

// Controller runs the one background tick loop that decides which
// sessions are unchoked. It holds only weak references
// (a map keyed by peer id) to live sessions; a session deregisters itself
// when its socket closes.
type Controller struct {
	config Config
	clock  clock.Clock
	seeding func() bool
	logger  *zap.SugaredLogger
	scope   tally.Scope

	mu            sync.Mutex
	sessions      map[core.PeerID]Session
	ticks         int
	optimistic    core.PeerID
	hasOptimistic bool

	done      chan struct{}
	closeOnce sync.Once
}

// NewController creates a Controller. seeding is consulted on every tick
// to decide whether candidates rank by upload rate (seeding) or download
// rate (leeching) and whether snubbed peers are excluded; a nil seeding
// always reports false.
func NewController(config Config, clk clock.Clock, seeding func() bool, logger *zap.SugaredLogger, scope tally.Scope) *Controller {
	config.applyDefaults()
	if clk == nil {
		clk = clock.New()
	}
	if seeding == nil {
		seeding = func() bool { return false }
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if scope == nil {
		scope = metrics.NewTestScope()
	}
	return &Controller{
		config:   config,
		clock:    clk,
		seeding:  seeding,
		logger:   logger,
		scope:    metrics.Module(scope, "choke"),
		sessions: make(map[core.PeerID]Session),
		done:     make(chan struct{}),
	}
}

// Register adds s to the live set the next tick will evaluate.
func (c *Controller) Register(s Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[s.ID()] = s
}

// Deregister removes the session identified by id, e.g. once its socket
// has closed.
func (c *Controller) Deregister(id core.PeerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, id)
	if c.hasOptimistic && c.optimistic == id {
		c.hasOptimistic = false
	}
}

// Run drives the tick loop until ctx is cancelled or Stop is called.
func (c *Controller) Run(ctx context.Context) {
	ticker := c.clock.Ticker(c.config.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.tick()
		case <-ctx.Done():
			return
		case <-c.done:
			return
		}
	}
}

// Stop ends a running Run loop. Idempotent.
func (c *Controller) Stop() {
	c.closeOnce.Do(func() { close(c.done) })
}

type ratedSession struct {
	session Session
	dlRate  float64
	ulRate  float64
	snubbed bool
}

// tick performs one evaluation round: rate every session, rank the
// interested and non-snubbed ones, unchoke the top slots plus one
// rotating optimistic pick, and choke everyone else.
func (c *Controller) tick() {
	c.mu.Lock()
	sessions := make([]Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.ticks++
	tickNum := c.ticks
	c.mu.Unlock()

	seeding := c.seeding()
	now := c.clock.Now()
	interval := c.config.TickInterval.Seconds()

	rated := make([]ratedSession, 0, len(sessions))
	for _, s := range sessions {
		dl, ul := s.Tick()
		c.scope.Counter("bytes_downloaded").Inc(dl)
		c.scope.Counter("bytes_uploaded").Inc(ul)
		snubbed := !seeding && now.Sub(s.LastDataReceivedAt()) > c.config.SnubTimeout
		rated = append(rated, ratedSession{
			session: s,
			dlRate:  float64(dl) / interval,
			ulRate:  float64(ul) / interval,
			snubbed: snubbed,
		})
	}

	candidates := make([]ratedSession, 0, len(rated))
	for _, r := range rated {
		if r.session.PeerInterested() && !r.snubbed {
			candidates = append(candidates, r)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if seeding {
			return candidates[i].ulRate > candidates[j].ulRate
		}
		return candidates[i].dlRate > candidates[j].dlRate
	})

	n := c.config.NumSlots
	if n > len(candidates) {
		n = len(candidates)
	}
	regular := candidates[:n]
	regularSet := make(map[core.PeerID]bool, n)
	for _, r := range regular {
		regularSet[r.session.ID()] = true
	}

	optimisticID, hasOpt := c.pickOptimistic(tickNum, candidates, regularSet)

	allowed := make(map[core.PeerID]bool, n+1)
	for id := range regularSet {
		allowed[id] = true
	}
	if hasOpt {
		allowed[optimisticID] = true
	}

	for _, r := range rated {
		s := r.session
		want := allowed[s.ID()]
		switch {
		case want && s.AmChoking():
			if err := s.SetChoking(false); err != nil {
				c.logger.Debugw("failed to unchoke peer", "peer", s.ID(), "error", err)
			}
		case !want && !s.AmChoking():
			if err := s.SetChoking(true); err != nil {
				c.logger.Debugw("failed to choke peer", "peer", s.ID(), "error", err)
			}
		}
	}
}

// pickOptimistic decides the optimistic-unchoke candidate for this tick:
// re-picked every OptimisticRotationTicks ticks (or whenever the previous
// pick has disconnected, lost interest, or been promoted into the regular
// set), otherwise carried over unchanged.
func (c *Controller) pickOptimistic(tickNum int, candidates []ratedSession, regularSet map[core.PeerID]bool) (core.PeerID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rotate := tickNum%c.config.OptimisticRotationTicks == 0
	needNew := rotate || !c.hasOptimistic
	if !needNew {
		if s, ok := c.sessions[c.optimistic]; !ok || !s.PeerInterested() || regularSet[c.optimistic] {
			needNew = true
		}
	}
	if needNew {
		pool := make([]core.PeerID, 0, len(candidates))
		for _, r := range candidates {
			if !regularSet[r.session.ID()] {
				pool = append(pool, r.session.ID())
			}
		}
		if len(pool) == 0 {
			c.hasOptimistic = false
		} else {
			c.optimistic = pool[rand.Intn(len(pool))]
			c.hasOptimistic = true
		}
	}
	return c.optimistic, c.hasOptimistic
}
