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
package swarm

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStaticPeerSourceOffersOnce(t *testing.T) {
	require := require.New(t)

	addrs := []net.TCPAddr{addr(1), addr(2)}
	src := NewStaticPeerSource(addrs)

	got, err := src.NextPeers(context.Background())
	require.NoError(err)
	require.Equal(addrs, got)

	got, err = src.NextPeers(context.Background())
	require.NoError(err)
	require.Empty(got)
}
