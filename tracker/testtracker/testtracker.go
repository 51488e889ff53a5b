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

// Package testtracker is an in-memory HTTP tracker used only by
// tracker's own tests, exercising tracker.HTTPClient against a real
// listening socket rather than a mocked transport.
package testtracker

import (
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/gorilla/mux"

	"github.com/SkyPlay-Code/btswarm/bencode"
)

// Tracker is an in-process HTTP tracker, tracking one swarm of peers per
// info hash.
type Tracker struct {
	mu     sync.Mutex
	swarms map[string][]net.TCPAddr
	server *httptest.Server
}

// New starts a Tracker listening on a local, ephemeral port.
func New() *Tracker {
	t := &Tracker{swarms: make(map[string][]net.TCPAddr)}
	router := mux.NewRouter()
	router.HandleFunc("/announce", t.announce).Methods("GET")
	t.server = httptest.NewServer(router)
	return t
}

// URL returns the base announce URL for this tracker, e.g.
// "http://127.0.0.1:PORT/announce".
func (t *Tracker) URL() string {
	return t.server.URL + "/announce"
}

// Close shuts down the tracker's listener.
func (t *Tracker) Close() {
	t.server.Close()
}

// Seed registers addr as a peer for infoHash without requiring it to
// announce itself, for tests that want to seed a known peer list.
func (t *Tracker) Seed(infoHash string, addr net.TCPAddr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.swarms[infoHash] = append(t.swarms[infoHash], addr)
}

type announceReply struct {
	Interval int    `bencode:"interval"`
	Peers    []byte `bencode:"peers"`
}

func (t *Tracker) announce(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	infoHash := q.Get("info_hash")
	port := q.Get("port")

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	t.mu.Lock()
	peers := append([]net.TCPAddr{}, t.swarms[infoHash]...)
	if port != "" {
		var p int
		fmt.Sscanf(port, "%d", &p)
		addr := net.TCPAddr{IP: net.ParseIP(host), Port: p}
		t.swarms[infoHash] = append(t.swarms[infoHash], addr)
	}
	t.mu.Unlock()

	compact := make([]byte, 0, 6*len(peers))
	for _, p := range peers {
		ip4 := p.IP.To4()
		if ip4 == nil {
			continue
		}
		compact = append(compact, ip4...)
		compact = append(compact, byte(p.Port>>8), byte(p.Port))
	}

	body, err := bencode.Marshal(announceReply{Interval: 1800, Peers: compact})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}
