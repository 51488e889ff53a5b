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
package filemapper

import (
	"io/ioutil"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/SkyPlay-Code/btswarm/meta"
)

func multiFileInfo() *meta.Info {
	return &meta.Info{
		Name: "album",
		Files: []meta.FileInfo{
			{Length: 5, Path: []string{"a.txt"}},
			{Length: 7, Path: []string{"sub", "b.txt"}},
		},
	}
}

func TestMapperWriteAtSpansFileBoundary(t *testing.T) {
	require := require.New(t)

	dir, err := ioutil.TempDir("", "filemapper_test")
	require.NoError(err)
	defer os.RemoveAll(dir)

	m, err := New(dir, multiFileInfo())
	require.NoError(err)

	// "hello" ends file a.txt (5 bytes); "world!!" begins file b.txt.
	n, err := m.WriteAt([]byte("helloworld!!"), 0)
	require.NoError(err)
	require.Equal(12, n)

	buf := make([]byte, 12)
	n, err = m.ReadAt(buf, 0)
	require.NoError(err)
	require.Equal(12, n)
	require.Equal("helloworld!!", string(buf))
}

func TestMapperReadAtPastEndReturnsEOF(t *testing.T) {
	require := require.New(t)

	dir, err := ioutil.TempDir("", "filemapper_test")
	require.NoError(err)
	defer os.RemoveAll(dir)

	m, err := New(dir, multiFileInfo())
	require.NoError(err)

	buf := make([]byte, 4)
	_, err = m.ReadAt(buf, 12)
	require.Error(err)
}

func TestMapperPreallocateCreatesFullSizeFiles(t *testing.T) {
	require := require.New(t)

	dir, err := ioutil.TempDir("", "filemapper_test")
	require.NoError(err)
	defer os.RemoveAll(dir)

	info := multiFileInfo()
	m, err := New(dir, info)
	require.NoError(err)
	require.NoError(m.Preallocate())

	fi, err := os.Stat(m.path(info.Files[0]))
	require.NoError(err)
	require.Equal(int64(5), fi.Size())
}
