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
	"io"
	"os"

	"github.com/SkyPlay-Code/btswarm/bencode"
	"github.com/SkyPlay-Code/btswarm/core"
)

// TorrentFile is the top-level structure of a .torrent file.
type TorrentFile struct {
	// InfoBytes holds the info dictionary's exact encoded bytes, not a
	// re-encoding of its fields, so that its SHA-1 digest always matches
	// the info hash the torrent was published under.
	InfoBytes    bencode.RawMessage `bencode:"info"`
	Announce     string             `bencode:"announce,omitempty"`
	AnnounceList AnnounceList       `bencode:"announce-list,omitempty"`
	CreationDate int64              `bencode:"creation date,omitempty"`
	Comment      string             `bencode:"comment,omitempty"`
	CreatedBy    string             `bencode:"created by,omitempty"`
	Encoding     string             `bencode:"encoding,omitempty"`
	URLList      []string           `bencode:"url-list,omitempty"`
}

// AnnounceList is a tiered list of tracker URLs, per BEP-12.
type AnnounceList [][]string

// OverridesAnnounce reports whether the announce-list should be preferred
// over the single Announce field.
func (al AnnounceList) OverridesAnnounce(announce string) bool {
	for _, tier := range al {
		for _, url := range tier {
			if url != "" || announce == "" {
				return true
			}
		}
	}
	return false
}

// Load parses a TorrentFile from r.
func Load(r io.Reader) (*TorrentFile, error) {
	var tf TorrentFile
	if err := bencode.NewDecoder(r).Decode(&tf); err != nil {
		return nil, err
	}
	return &tf, nil
}

// LoadFromFile parses a TorrentFile from the file at filename.
func LoadFromFile(filename string) (*TorrentFile, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

// Info decodes and returns the info dictionary.
func (tf *TorrentFile) Info() (Info, error) {
	var info Info
	err := bencode.Unmarshal(tf.InfoBytes, &info)
	return info, err
}

// InfoHash computes the torrent's info hash from the raw info bytes.
func (tf *TorrentFile) InfoHash() core.InfoHash {
	return core.NewInfoHashFromBytes(tf.InfoBytes)
}

// Write encodes tf in bencoded form.
func (tf *TorrentFile) Write(w io.Writer) error {
	return bencode.NewEncoder(w).Encode(tf)
}

// UpvertedAnnounceList returns AnnounceList, or a single-tier list built
// from Announce if the announce-list is absent or empty.
func (tf *TorrentFile) UpvertedAnnounceList() AnnounceList {
	if tf.AnnounceList.OverridesAnnounce(tf.Announce) {
		return tf.AnnounceList
	}
	if tf.Announce != "" {
		return AnnounceList{{tf.Announce}}
	}
	return nil
}
