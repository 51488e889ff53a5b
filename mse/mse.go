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

// Package mse specifies the pluggable dial-time stream wrapping hook
// Message Stream Encryption would occupy. MSE itself is an explicit
// non-goal; StreamWrapper lets a peer session's dial path be generalized
// over an encrypted transport without that transport ever being
// implemented here.
package mse

import "net"

// StreamWrapper transforms a freshly dialed or accepted connection before
// the BitTorrent handshake is written to or read from it.
type StreamWrapper func(net.Conn) (net.Conn, error)

// Identity is the default StreamWrapper: it returns conn unchanged.
func Identity(conn net.Conn) (net.Conn, error) {
	return conn, nil
}
