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

// Package swarm supervises a single torrent's full lifecycle: polling its
// peer sources, dialing and accepting peer connections, running the choke
// controller, and transitioning between magnet and full-metadata phases.
package swarm

import "time"

// Config parameterizes an Orchestrator. Every other component's own
// Config (peer.Config, choke.Config, piecestore.PendingConfig,
// filemapper.CacheConfig) is supplied alongside this one at construction
// rather than embedded here, mirroring the top-level config package's
// composition-of-Configs idiom.
type Config struct {
	// ListenAddr is the address an incoming peer listener binds, e.g.
	// ":6881". Empty disables incoming connections.
	ListenAddr string `yaml:"listen_addr"`

	// BaseDir is the root directory piece data and resume files are
	// written under.
	BaseDir string `yaml:"base_dir"`

	// MaxPeers bounds the number of simultaneously RUN peer sessions.
	MaxPeers int `yaml:"max_peers"`

	// MaxHalfOpenDials bounds concurrently in-flight outbound dials.
	MaxHalfOpenDials int64 `yaml:"max_half_open_dials"`

	// QueueCapacity bounds the number of not-yet-dialed candidate peer
	// addresses the orchestrator holds at once.
	QueueCapacity int `yaml:"queue_capacity"`

	// PeerSourcePollInterval is how often each configured PeerSource
	// (tracker, DHT, static) is polled for fresh candidates.
	PeerSourcePollInterval time.Duration `yaml:"peer_source_poll_interval"`

	// SelectionPolicy names the piece-selection policy a torrent's
	// PendingManager uses once its info dictionary is known: "rarest_first"
	// or "default".
	SelectionPolicy string `yaml:"selection_policy"`
}

// applyDefaults fills the zero-valued fields of c.
func (c *Config) applyDefaults() {
	if c.BaseDir == "" {
		c.BaseDir = "."
	}
	if c.MaxPeers == 0 {
		c.MaxPeers = 50
	}
	if c.MaxHalfOpenDials == 0 {
		c.MaxHalfOpenDials = 10
	}
	if c.QueueCapacity == 0 {
		c.QueueCapacity = 200
	}
	if c.PeerSourcePollInterval == 0 {
		c.PeerSourcePollInterval = 30 * time.Second
	}
	if c.SelectionPolicy == "" {
		c.SelectionPolicy = "rarest_first"
	}
}
