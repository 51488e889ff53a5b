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

// Package tracker announces a torrent's progress to an HTTP tracker and
// parses its compact peer list, one of the two external peer sources
// (alongside dht.Client) the swarm orchestrator polls to fill its peer
// queue.
package tracker

import (
	"context"
	"net"

	"github.com/SkyPlay-Code/btswarm/core"
)

// Event announces the announce-request's event field.
type Event string

const (
	EventNone      Event = ""
	EventStarted   Event = "started"
	EventCompleted Event = "completed"
	EventStopped   Event = "stopped"
)

// AnnounceRequest is the set of parameters an announce sends to a tracker.
type AnnounceRequest struct {
	InfoHash   core.InfoHash
	PeerID     core.PeerID
	Port       int
	Uploaded   int64
	Downloaded int64
	Left       int64
	Event      Event
	NumWant    int
}

// AnnounceResponse is a tracker's reply to an announce.
type AnnounceResponse struct {
	Interval int
	Peers    []net.TCPAddr
}

// Client announces to a tracker and parses its peer list.
type Client interface {
	Announce(ctx context.Context, req AnnounceRequest) (AnnounceResponse, error)
}

// PeerSource adapts a Client into the NextPeers(ctx) ([]net.TCPAddr, error)
// contract the swarm orchestrator's peer queue polls, holding the
// announce parameters that do not change between polls.
type PeerSource struct {
	client   Client
	infoHash core.InfoHash
	peerID   core.PeerID
	port     int
	numWant  int

	left func() int64
}

// NewPeerSource creates a PeerSource that announces for infoHash/peerID on
// port, calling left to learn the current bytes-remaining at each poll.
func NewPeerSource(client Client, infoHash core.InfoHash, peerID core.PeerID, port, numWant int, left func() int64) *PeerSource {
	if numWant == 0 {
		numWant = 50
	}
	return &PeerSource{
		client:   client,
		infoHash: infoHash,
		peerID:   peerID,
		port:     port,
		numWant:  numWant,
		left:     left,
	}
}

// NextPeers polls the tracker once and returns the peers it reports.
func (s *PeerSource) NextPeers(ctx context.Context) ([]net.TCPAddr, error) {
	resp, err := s.client.Announce(ctx, AnnounceRequest{
		InfoHash: s.infoHash,
		PeerID:   s.peerID,
		Port:     s.port,
		Left:     s.left(),
		NumWant:  s.numWant,
	})
	if err != nil {
		return nil, err
	}
	return resp.Peers, nil
}
