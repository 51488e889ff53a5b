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
	"sync"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"

	"github.com/SkyPlay-Code/btswarm/core"
)

type fakeSession struct {
	id core.PeerID

	mu          sync.Mutex
	interested  bool
	lastData    time.Time
	dl, ul      int64
	choking     bool
	unchokedAt  []time.Time
}

func newFakeSession(t *testing.T, interested bool, dl, ul int64) *fakeSession {
	id, err := core.RandomPeerID()
	require.NoError(t, err)
	return &fakeSession{id: id, interested: interested, dl: dl, ul: ul, choking: true}
}

func (f *fakeSession) ID() core.PeerID { return f.id }

func (f *fakeSession) PeerInterested() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.interested
}

func (f *fakeSession) LastDataReceivedAt() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastData
}

func (f *fakeSession) Tick() (int64, int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dl, f.ul
}

func (f *fakeSession) AmChoking() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.choking
}

func (f *fakeSession) SetChoking(chokeIt bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.choking = chokeIt
	if !chokeIt {
		f.unchokedAt = append(f.unchokedAt, time.Now())
	}
	return nil
}

func (f *fakeSession) unchoked() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.choking
}

func (f *fakeSession) unchokeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.unchokedAt)
}

func TestControllerUnchokesTopRatedAndRotatesOptimistic(t *testing.T) {
	clk := clock.NewMock()
	c := NewController(Config{
		TickInterval:            time.Second,
		NumSlots:                4,
		OptimisticRotationTicks: 3,
		SnubTimeout:             time.Minute,
	}, clk, nil, nil, nil)

	rates := []int64{100, 80, 60, 40, 0}
	sessions := make([]*fakeSession, len(rates))
	for i, r := range rates {
		sessions[i] = newFakeSession(t, true, r, 0)
		sessions[i].lastData = clk.Now()
		c.Register(sessions[i])
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)
	defer c.Stop()

	advance := func() {
		clk.Add(time.Second)
		time.Sleep(10 * time.Millisecond)
	}

	advance()
	for i := 0; i < 4; i++ {
		require.Truef(t, sessions[i].unchoked(), "session %d should be in the top-4 regular slots", i)
	}

	sawOptimisticUnchoke := sessions[4].unchoked()
	for i := 0; i < 2; i++ {
		advance()
		if sessions[4].unchoked() {
			sawOptimisticUnchoke = true
		}
	}
	require.True(t, sawOptimisticUnchoke, "the fifth session should receive an optimistic unchoke within three ticks")
}

func TestControllerExcludesSnubbedPeers(t *testing.T) {
	clk := clock.NewMock()
	c := NewController(Config{
		TickInterval: time.Second,
		NumSlots:     4,
		SnubTimeout:  30 * time.Second,
	}, clk, nil, nil, nil)

	snubbed := newFakeSession(t, true, 1000, 0)
	snubbed.lastData = clk.Now().Add(-time.Hour)
	c.Register(snubbed)

	active := newFakeSession(t, true, 10, 0)
	active.lastData = clk.Now()
	c.Register(active)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)
	defer c.Stop()

	clk.Add(time.Second)
	time.Sleep(10 * time.Millisecond)

	require.False(t, snubbed.unchoked(), "a peer that hasn't sent data recently should be excluded from regular slots")
	require.True(t, active.unchoked())
}

func TestControllerChokesUninterestedPeers(t *testing.T) {
	clk := clock.NewMock()
	c := NewController(Config{TickInterval: time.Second, NumSlots: 4}, clk, nil, nil, nil)

	s := newFakeSession(t, false, 100, 0)
	c.Register(s)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)
	defer c.Stop()

	clk.Add(time.Second)
	time.Sleep(10 * time.Millisecond)

	require.False(t, s.unchoked(), "an uninterested peer should never be unchoked")
}

func TestControllerDeregisterClearsOptimisticPick(t *testing.T) {
	clk := clock.NewMock()
	c := NewController(Config{TickInterval: time.Second, NumSlots: 0, OptimisticRotationTicks: 1}, clk, nil, nil, nil)

	s := newFakeSession(t, true, 0, 0)
	c.Register(s)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)
	defer c.Stop()

	clk.Add(time.Second)
	time.Sleep(10 * time.Millisecond)

	c.Deregister(s.id)

	c.mu.Lock()
	hasOpt := c.hasOptimistic
	c.mu.Unlock()
	require.False(t, hasOpt)
}
