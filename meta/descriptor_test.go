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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/SkyPlay-Code/btswarm/bencode"
	"github.com/SkyPlay-Code/btswarm/core"
)

func multiFileInfo() Info {
	info := Info{
		PieceLength: 4,
		Name:        "root",
		Files: []FileInfo{
			{Length: 10, Path: []string{"a.txt"}},
			{Length: 5, Path: []string{"sub", "b.txt"}},
		},
	}
	total := info.TotalLength()
	numPieces := (total + info.PieceLength - 1) / info.PieceLength
	info.Pieces = make([]byte, numPieces*20)
	return info
}

func TestDescriptorFromMagnetUnloadedThenLoadMetadata(t *testing.T) {
	require := require.New(t)

	info := multiFileInfo()
	raw, err := bencode.Marshal(info)
	require.NoError(err)

	m := &Magnet{InfoHash: core.NewInfoHashFromBytes(raw), DisplayName: "root", Trackers: []string{"udp://tracker.example"}}
	d := NewDescriptorFromMagnet(m)
	require.False(d.Loaded())
	require.Nil(d.Info())
	require.Nil(d.Files())

	require.NoError(d.LoadMetadata(raw))
	require.True(d.Loaded())
	require.Equal(int64(15), d.TotalLength())

	files := d.Files()
	require.Len(files, 2)
	require.Equal(int64(0), files[0].GlobalStart)
	require.Equal(int64(10), files[0].GlobalEnd)
	require.Equal(int64(10), files[1].GlobalStart)
	require.Equal(int64(15), files[1].GlobalEnd)
}

func TestDescriptorLoadMetadataRejectsMismatchedDigest(t *testing.T) {
	require := require.New(t)

	info := multiFileInfo()
	raw, err := bencode.Marshal(info)
	require.NoError(err)

	other := multiFileInfo()
	other.Name = "different"
	otherRaw, err := bencode.Marshal(other)
	require.NoError(err)

	d := NewDescriptorFromMagnet(&Magnet{InfoHash: core.NewInfoHashFromBytes(raw)})
	err = d.LoadMetadata(otherRaw)
	require.Error(err)
	require.False(d.Loaded())
}

func TestDescriptorFromTorrentFileIsImmediatelyLoaded(t *testing.T) {
	require := require.New(t)

	info := multiFileInfo()
	infoBytes, err := bencode.Marshal(info)
	require.NoError(err)

	tf := &TorrentFile{
		InfoBytes: bencode.RawMessage(infoBytes),
		Announce:  "http://tracker.example/announce",
	}
	d, err := NewDescriptorFromTorrentFile(tf)
	require.NoError(err)
	require.True(d.Loaded())
	require.Equal([]string{"http://tracker.example/announce"}, d.Trackers)
	require.Equal(tf.InfoHash(), d.InfoHash)
}
