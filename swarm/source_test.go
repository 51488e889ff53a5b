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

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"

	"github.com/SkyPlay-Code/btswarm/core"
	mockdht "github.com/SkyPlay-Code/btswarm/mocks/dht"
)

func TestDHTSourceBindsInfoHash(t *testing.T) {
	require := require.New(t)

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	infoHash := core.NewInfoHashFromBytes([]byte("dht source test"))
	wantPeers := []net.TCPAddr{{IP: net.ParseIP("10.0.0.3"), Port: 6881}}

	client := mockdht.NewMockClient(ctrl)
	client.EXPECT().
		FindPeers(gomock.Any(), infoHash).
		Return(wantPeers, nil)

	src := dhtSource{client: client, infoHash: infoHash}
	got, err := src.NextPeers(context.Background())
	require.NoError(err)
	require.Equal(wantPeers, got)
}
