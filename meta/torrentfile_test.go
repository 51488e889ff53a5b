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
package meta

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/SkyPlay-Code/btswarm/bencode"
)

func TestTorrentFileLoadWriteRoundTrip(t *testing.T) {
	require := require.New(t)

	info := Info{PieceLength: 8, Pieces: make([]byte, 20), Name: "a", Length: 8}
	infoBytes, err := bencode.Marshal(info)
	require.NoError(err)

	tf := TorrentFile{
		InfoBytes: bencode.RawMessage(infoBytes),
		Announce:  "http://tracker.example/announce",
	}

	var buf bytes.Buffer
	require.NoError(tf.Write(&buf))

	loaded, err := Load(&buf)
	require.NoError(err)
	require.Equal(tf.Announce, loaded.Announce)

	gotInfo, err := loaded.Info()
	require.NoError(err)
	require.Equal(info.Name, gotInfo.Name)
	require.Equal(info.PieceLength, gotInfo.PieceLength)
}

func TestTorrentFileInfoHashStable(t *testing.T) {
	require := require.New(t)

	info := Info{PieceLength: 8, Pieces: make([]byte, 20), Name: "a", Length: 8}
	infoBytes, err := bencode.Marshal(info)
	require.NoError(err)

	tf := TorrentFile{InfoBytes: bencode.RawMessage(infoBytes)}
	h1 := tf.InfoHash()
	h2 := tf.InfoHash()
	require.Equal(h1, h2)
}

func TestUpvertedAnnounceListFallsBackToAnnounce(t *testing.T) {
	require := require.New(t)

	tf := TorrentFile{Announce: "http://tracker.example/announce"}
	al := tf.UpvertedAnnounceList()
	require.Equal(AnnounceList{{"http://tracker.example/announce"}}, al)
}
