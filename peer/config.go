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

// Package peer drives a single peer connection through its lifecycle --
// dial, handshake, optional extension handshake, and the steady-state
// request/response loop -- against whichever capability manager (piece
// store or metadata fetcher) the swarm's current phase has selected.
package peer

import "time"

// Config parameterizes every timeout and limit a Session enforces.
type Config struct {
	DialTimeout       time.Duration `yaml:"dial_timeout"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
	InactivityTimeout time.Duration `yaml:"inactivity_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`

	// MaxIncomingRequestLength bounds a "request" message's declared block
	// length; a peer asking for more is dropped silently as a likely
	// denial-of-service attempt rather than served.
	MaxIncomingRequestLength int `yaml:"max_incoming_request_length"`

	// PEXInterval is how often an established session re-broadcasts newly
	// seen live peers over ut_pex.
	PEXInterval time.Duration `yaml:"pex_interval"`

	// PEXMaxPeersPerMessage bounds how many never-previously-sent peers a
	// single ut_pex message carries.
	PEXMaxPeersPerMessage int `yaml:"pex_max_peers_per_message"`

	SenderBufferSize   int `yaml:"sender_buffer_size"`
	ReceiverBufferSize int `yaml:"receiver_buffer_size"`

	// PipelineDepth bounds how many block/metadata requests a session
	// keeps outstanding against a single peer at once.
	PipelineDepth int `yaml:"pipeline_depth"`

	// RequestRetryInterval is how often a session polls its manager for
	// requests that timed out at the scheduler level (see
	// piecestore.PendingManager's Timeout), so it can drop them from its
	// own pipeline bookkeeping and let NextRequest reissue them.
	RequestRetryInterval time.Duration `yaml:"request_retry_interval"`
}

// ApplyDefaults fills in the zero-valued fields of c with the values
// prescribed for the session's timeouts and PEX heartbeat.
func (c *Config) ApplyDefaults() {
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.InactivityTimeout == 0 {
		c.InactivityTimeout = 120 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.MaxIncomingRequestLength == 0 {
		c.MaxIncomingRequestLength = 32 * 1024
	}
	if c.PEXInterval == 0 {
		c.PEXInterval = 60 * time.Second
	}
	if c.PEXMaxPeersPerMessage == 0 {
		c.PEXMaxPeersPerMessage = 50
	}
	if c.SenderBufferSize == 0 {
		c.SenderBufferSize = 64
	}
	if c.ReceiverBufferSize == 0 {
		c.ReceiverBufferSize = 64
	}
	if c.PipelineDepth == 0 {
		c.PipelineDepth = 5
	}
	if c.RequestRetryInterval == 0 {
		c.RequestRetryInterval = time.Second
	}
}
