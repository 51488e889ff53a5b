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
	"fmt"

	"github.com/SkyPlay-Code/btswarm/bencode"
	"github.com/SkyPlay-Code/btswarm/core"
)

// FileRange is a single file's position within a torrent's flat, global
// byte address space, normalized from either the single-file or
// multi-file .torrent layout.
type FileRange struct {
	Path        []string
	Length      int64
	GlobalStart int64 // inclusive
	GlobalEnd   int64 // exclusive
}

// Descriptor is the normalized torrent descriptor every other component
// consumes: an info-hash, a tracker URL list, and -- once the info
// dictionary is known -- piece geometry and a file list addressed by
// global offset. A Descriptor constructed from a magnet URI starts with
// Loaded() false; LoadMetadata populates it once the info dictionary has
// been fetched out of band.
type Descriptor struct {
	InfoHash core.InfoHash
	Name     string
	Trackers []string

	info  *Info
	files []FileRange
}

// NewDescriptorFromTorrentFile builds a fully-loaded Descriptor from a
// parsed .torrent file.
func NewDescriptorFromTorrentFile(tf *TorrentFile) (*Descriptor, error) {
	info, err := tf.Info()
	if err != nil {
		return nil, fmt.Errorf("decode info dictionary: %s", err)
	}
	if err := info.Validate(); err != nil {
		return nil, fmt.Errorf("invalid info dictionary: %s", err)
	}
	d := &Descriptor{
		InfoHash: tf.InfoHash(),
		Name:     info.Name,
		Trackers: flattenAnnounceList(tf.UpvertedAnnounceList()),
	}
	d.setInfo(&info)
	return d, nil
}

// NewDescriptorFromMagnet builds an unloaded Descriptor from a parsed
// magnet URI; Loaded() is false until LoadMetadata succeeds.
func NewDescriptorFromMagnet(m *Magnet) *Descriptor {
	return &Descriptor{
		InfoHash: m.InfoHash,
		Name:     m.DisplayName,
		Trackers: append([]string(nil), m.Trackers...),
	}
}

func flattenAnnounceList(al AnnounceList) []string {
	var urls []string
	seen := make(map[string]bool)
	for _, tier := range al {
		for _, url := range tier {
			if url == "" || seen[url] {
				continue
			}
			seen[url] = true
			urls = append(urls, url)
		}
	}
	return urls
}

// Loaded reports whether the info dictionary has been fetched: false for a
// Descriptor built from a bare magnet URI until LoadMetadata succeeds.
func (d *Descriptor) Loaded() bool {
	return d.info != nil
}

// Info returns the torrent's info dictionary. It is nil until Loaded.
func (d *Descriptor) Info() *Info {
	return d.info
}

// Files returns the torrent's file list normalized to the global byte
// address space, in declaration order. It is nil until Loaded.
func (d *Descriptor) Files() []FileRange {
	return d.files
}

// TotalLength returns the torrent's total content length. It is zero until
// Loaded.
func (d *Descriptor) TotalLength() int64 {
	if d.info == nil {
		return 0
	}
	return d.info.TotalLength()
}

// LoadMetadata validates that raw's SHA-1 digest equals the descriptor's
// info-hash, decodes it as a bencoded info dictionary on success, and
// populates the descriptor. Per BEP-9, a mismatched digest is rejected
// without mutating the descriptor, so a caller may retry with different
// bytes.
func (d *Descriptor) LoadMetadata(raw []byte) error {
	got := core.NewInfoHashFromBytes(raw)
	if got != d.InfoHash {
		return fmt.Errorf("meta: metadata digest %s does not match info hash %s", got, d.InfoHash)
	}
	var info Info
	if err := bencode.Unmarshal(raw, &info); err != nil {
		return fmt.Errorf("decode metadata: %s", err)
	}
	if err := info.Validate(); err != nil {
		return fmt.Errorf("invalid metadata: %s", err)
	}
	d.setInfo(&info)
	return nil
}

func (d *Descriptor) setInfo(info *Info) {
	d.info = info
	if d.Name == "" {
		d.Name = info.Name
	}
	var offset int64
	files := make([]FileRange, 0, len(info.UpvertedFiles()))
	for _, fi := range info.UpvertedFiles() {
		files = append(files, FileRange{
			Path:        fi.Path,
			Length:      fi.Length,
			GlobalStart: offset,
			GlobalEnd:   offset + fi.Length,
		})
		offset += fi.Length
	}
	d.files = files
}
