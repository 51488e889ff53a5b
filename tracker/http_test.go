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
package tracker

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/SkyPlay-Code/btswarm/core"
	"github.com/SkyPlay-Code/btswarm/tracker/testtracker"
)

func TestHTTPClientAnnounceParsesCompactPeers(t *testing.T) {
	require := require.New(t)

	tt := testtracker.New()
	defer tt.Close()

	infoHash := core.NewInfoHashFromBytes([]byte("seeded"))
	tt.Seed(string(infoHash.Bytes()), net.TCPAddr{IP: net.ParseIP("10.0.0.1"), Port: 6881})

	client := NewHTTPClient(HTTPConfig{AnnounceURL: tt.URL()})

	peerID, err := core.RandomPeerID()
	require.NoError(err)

	resp, err := client.Announce(context.Background(), AnnounceRequest{
		InfoHash: infoHash,
		PeerID:   peerID,
		Port:     6882,
		Left:     1000,
	})
	require.NoError(err)
	require.Equal(1800, resp.Interval)
	require.NotEmpty(resp.Peers)
}

func TestDecodeCompactPeersRejectsShortRecord(t *testing.T) {
	require := require.New(t)
	_, err := decodeCompactPeers([]byte{1, 2, 3})
	require.Error(err)
}
