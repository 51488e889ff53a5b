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

// Package filemapper translates a torrent's flat, global byte address space
// into reads and writes against the individual files a multi-file torrent
// is made of.
package filemapper

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/SkyPlay-Code/btswarm/meta"
)

// entry is a single file's position within the global address space.
type entry struct {
	info  meta.FileInfo
	start int64 // inclusive global offset
	end   int64 // exclusive global offset
}

// Mapper performs ReadAt/WriteAt against a torrent's on-disk files given a
// global offset, walking file boundaries transparently to the caller.
type Mapper struct {
	dir     string
	name    string
	entries []entry
	total   int64
}

// New constructs a Mapper rooted at dir for the given info. dir is created
// if it does not already exist; the subdirectories a multi-file torrent's
// path entries imply are created later, by Preallocate or WriteAt.
func New(dir string, info *meta.Info) (*Mapper, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %s", dir, err)
	}
	m := &Mapper{dir: dir, name: info.Name}
	var offset int64
	for _, fi := range info.UpvertedFiles() {
		m.entries = append(m.entries, entry{info: fi, start: offset, end: offset + fi.Length})
		offset += fi.Length
	}
	m.total = offset
	return m, nil
}

// Preallocate creates every file at its final size up front (sparse on
// filesystems that support it), so that later WriteAt calls never need to
// extend a file mid-transfer.
func (m *Mapper) Preallocate() error {
	for _, e := range m.entries {
		path := m.path(e.info)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return err
		}
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
		if err != nil {
			return fmt.Errorf("create %s: %s", path, err)
		}
		err = f.Truncate(e.info.Length)
		f.Close()
		if err != nil {
			return fmt.Errorf("truncate %s: %s", path, err)
		}
	}
	return nil
}

func (m *Mapper) path(fi meta.FileInfo) string {
	parts := append([]string{m.dir, m.name}, fi.Path...)
	return filepath.Join(parts...)
}

// TotalLength returns the sum of every file's length.
func (m *Mapper) TotalLength() int64 {
	return m.total
}

// ReadAt reads len(b) bytes starting at the global offset off, spanning
// file boundaries as needed. It returns io.EOF only once the end of the
// torrent is reached; a gap caused by a missing file surfaces as
// io.ErrUnexpectedEOF, matching the semantics of io.ReaderAt.
func (m *Mapper) ReadAt(b []byte, off int64) (int, error) {
	if off < 0 || off >= m.total {
		return 0, io.EOF
	}
	var n int
	for _, e := range m.entries {
		if len(b) == 0 {
			break
		}
		if off >= e.end {
			continue
		}
		localOff := off - e.start
		if localOff < 0 {
			localOff = 0
		}
		want := b
		if max := e.end - e.start - localOff; int64(len(want)) > max {
			want = want[:max]
		}
		got, err := m.readFileAt(e.info, want, localOff)
		n += got
		b = b[got:]
		off += int64(got)
		if err != nil && err != io.EOF {
			return n, err
		}
		if got < len(want) {
			return n, io.ErrUnexpectedEOF
		}
	}
	if len(b) > 0 {
		return n, io.EOF
	}
	return n, nil
}

func (m *Mapper) readFileAt(fi meta.FileInfo, b []byte, off int64) (int, error) {
	f, err := os.Open(m.path(fi))
	if os.IsNotExist(err) {
		return 0, io.EOF
	}
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n, err := f.ReadAt(b, off)
	if err == io.EOF && n == len(b) {
		err = nil
	}
	return n, err
}

// WriteAt writes len(b) bytes starting at the global offset off, spanning
// file boundaries as needed, creating files and parent directories as
// necessary.
func (m *Mapper) WriteAt(b []byte, off int64) (int, error) {
	var n int
	for _, e := range m.entries {
		if len(b) == 0 {
			break
		}
		if off >= e.end {
			continue
		}
		localOff := off - e.start
		if localOff < 0 {
			localOff = 0
		}
		want := b
		if max := e.end - e.start - localOff; int64(len(want)) > max {
			want = want[:max]
		}
		got, err := m.writeFileAt(e.info, want, localOff)
		n += got
		b = b[got:]
		off += int64(got)
		if err != nil {
			return n, err
		}
	}
	if len(b) > 0 {
		return n, fmt.Errorf("write extends past torrent length %d", m.total)
	}
	return n, nil
}

func (m *Mapper) writeFileAt(fi meta.FileInfo, b []byte, off int64) (int, error) {
	path := m.path(fi)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, err
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return f.WriteAt(b, off)
}
