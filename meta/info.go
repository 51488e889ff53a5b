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

// Package meta parses and constructs torrent descriptors: .torrent files
// and magnet URIs, normalizing single- and multi-file layouts into one
// shape the rest of the engine consumes.
package meta

import (
	"crypto/sha1"
	"errors"
	"fmt"
)

// Info is a torrent's info dictionary: piece geometry and the file layout
// it covers.
type Info struct {
	PieceLength int64      `bencode:"piece length"`
	Pieces      []byte     `bencode:"pieces"`
	Name        string     `bencode:"name"`
	Length      int64      `bencode:"length,omitempty"`
	Private     *bool      `bencode:"private,omitempty"`
	Source      string     `bencode:"source,omitempty"`
	Files       []FileInfo `bencode:"files,omitempty"`
}

// FileInfo describes a single file within a multi-file torrent.
type FileInfo struct {
	Length int64    `bencode:"length"`
	Path   []string `bencode:"path"`
}

// IsDir reports whether the torrent describes a directory of files rather
// than a single file.
func (info *Info) IsDir() bool {
	return len(info.Files) != 0
}

// TotalLength returns the sum of the lengths of every file in the torrent.
func (info *Info) TotalLength() int64 {
	if info.IsDir() {
		var total int64
		for _, fi := range info.Files {
			total += fi.Length
		}
		return total
	}
	return info.Length
}

// NumPieces returns the number of pieces the torrent is divided into.
func (info *Info) NumPieces() int {
	if len(info.Pieces)%sha1.Size != 0 {
		return 0
	}
	return len(info.Pieces) / sha1.Size
}

// PieceHash returns the expected SHA-1 digest of piece i.
func (info *Info) PieceHash(i int) ([sha1.Size]byte, error) {
	var h [sha1.Size]byte
	if i < 0 || i >= info.NumPieces() {
		return h, fmt.Errorf("piece index %d out of range [0, %d)", i, info.NumPieces())
	}
	copy(h[:], info.Pieces[i*sha1.Size:(i+1)*sha1.Size])
	return h, nil
}

// PieceLengthAt returns the length of piece i, which is shorter than
// PieceLength for the final piece when TotalLength is not an exact
// multiple of it.
func (info *Info) PieceLengthAt(i int) (int64, error) {
	n := info.NumPieces()
	if i < 0 || i >= n {
		return 0, fmt.Errorf("piece index %d out of range [0, %d)", i, n)
	}
	if i < n-1 {
		return info.PieceLength, nil
	}
	last := info.TotalLength() - int64(i)*info.PieceLength
	if last <= 0 {
		return 0, fmt.Errorf("invariant violation: non-positive final piece length %d", last)
	}
	return last, nil
}

// UpvertedFiles returns Files, normalized up from the single-file case so
// callers never need to special-case it: a single-file torrent is treated
// as a one-element file list whose Path is nil. Callers that build file
// paths (storage/filemapper) put the torrent's Name in front of every Path.
func (info *Info) UpvertedFiles() []FileInfo {
	if len(info.Files) == 0 {
		return []FileInfo{{
			Length: info.Length,
			Path:   nil,
		}}
	}
	return info.Files
}

// Validate checks the internal consistency of the info dictionary.
func (info *Info) Validate() error {
	if info.PieceLength <= 0 {
		return errors.New("piece length must be positive")
	}
	if len(info.Pieces)%sha1.Size != 0 {
		return fmt.Errorf("pieces field length %d is not a multiple of %d", len(info.Pieces), sha1.Size)
	}
	if info.Name == "" {
		return errors.New("name must be non-empty")
	}
	if info.TotalLength() <= 0 {
		return errors.New("total length must be positive")
	}
	expectedPieces := (info.TotalLength() + info.PieceLength - 1) / info.PieceLength
	if int64(info.NumPieces()) != expectedPieces {
		return fmt.Errorf("pieces field encodes %d pieces, expected %d for a %d byte torrent",
			info.NumPieces(), expectedPieces, info.TotalLength())
	}
	for _, fi := range info.Files {
		if fi.Length < 0 {
			return fmt.Errorf("file %v has negative length", fi.Path)
		}
		if len(fi.Path) == 0 {
			return errors.New("multi-file entry has empty path")
		}
	}
	return nil
}
