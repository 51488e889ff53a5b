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
package peer

import (
	"context"
	"net"

	"golang.org/x/sync/semaphore"

	"github.com/SkyPlay-Code/btswarm/mse"
)

// Dialer bounds the number of concurrently half-open outbound sockets, per
// a dial semaphore (default 10 permits), and runs every dialed
// connection through a StreamWrapper -- the pluggable hook a future MSE
// implementation occupies (see mse.StreamWrapper) -- before handing it back
// to the caller.
type Dialer struct {
	sem  *semaphore.Weighted
	d    net.Dialer
	wrap mse.StreamWrapper
}

// DefaultMaxHalfOpen is the default dial semaphore's permit count.
const DefaultMaxHalfOpen = 10

// NewDialer creates a Dialer allowing at most maxHalfOpen concurrent dials,
// wrapping every dialed connection with wrap. A non-positive maxHalfOpen
// falls back to DefaultMaxHalfOpen; a nil wrap falls back to
// mse.Identity.
func NewDialer(maxHalfOpen int64, wrap mse.StreamWrapper) *Dialer {
	if maxHalfOpen <= 0 {
		maxHalfOpen = DefaultMaxHalfOpen
	}
	if wrap == nil {
		wrap = mse.Identity
	}
	return &Dialer{sem: semaphore.NewWeighted(maxHalfOpen), wrap: wrap}
}

// Dial acquires a semaphore permit, dials addr, and releases the permit
// once the dial resolves (successfully or not) -- the permit only bounds
// the handshake's half-open window, not the connection's subsequent
// lifetime. The returned conn has already passed through the Dialer's
// StreamWrapper.
func (d *Dialer) Dial(ctx context.Context, addr net.Addr) (net.Conn, error) {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer d.sem.Release(1)

	conn, err := d.d.DialContext(ctx, addr.Network(), addr.String())
	if err != nil {
		return nil, err
	}
	wrapped, err := d.wrap(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return wrapped, nil
}
