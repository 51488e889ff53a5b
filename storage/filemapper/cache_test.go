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

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/require"

	"github.com/SkyPlay-Code/btswarm/meta"
)

func TestCacheWriteThenFlushPersists(t *testing.T) {
	require := require.New(t)

	dir, err := ioutil.TempDir("", "filemapper_cache_test")
	require.NoError(err)
	defer os.RemoveAll(dir)

	info := &meta.Info{Name: "single", Length: 5}
	m, err := New(dir, info)
	require.NoError(err)

	c := NewCache(m, CacheConfig{HighWaterMark: 1 * datasize.MB})
	_, err = c.WriteAt([]byte("hello"), 0)
	require.NoError(err)

	require.NoError(c.Flush())

	buf := make([]byte, 5)
	_, err = m.ReadAt(buf, 0)
	require.NoError(err)
	require.Equal("hello", string(buf))
	require.NoError(c.Close())
}

func TestCacheReadAtServesFromBufferBeforeFlush(t *testing.T) {
	require := require.New(t)

	dir, err := ioutil.TempDir("", "filemapper_cache_test")
	require.NoError(err)
	defer os.RemoveAll(dir)

	info := &meta.Info{Name: "single", Length: 5}
	m, err := New(dir, info)
	require.NoError(err)

	c := NewCache(m, CacheConfig{HighWaterMark: 1 * datasize.MB})
	defer c.Close()

	_, err = c.WriteAt([]byte("hello"), 0)
	require.NoError(err)

	buf := make([]byte, 5)
	_, err = c.ReadAt(buf, 0)
	require.NoError(err)
	require.Equal("hello", string(buf))
}

func TestCacheReadAtAssemblesMultipleUnflushedBlocks(t *testing.T) {
	require := require.New(t)

	dir, err := ioutil.TempDir("", "filemapper_cache_test")
	require.NoError(err)
	defer os.RemoveAll(dir)

	info := &meta.Info{Name: "single", Length: 32 * 1024}
	m, err := New(dir, info)
	require.NoError(err)

	c := NewCache(m, CacheConfig{HighWaterMark: 1 * datasize.MB})
	defer c.Close()

	first := make([]byte, 16*1024)
	for i := range first {
		first[i] = 0xAA
	}
	second := make([]byte, 16*1024)
	for i := range second {
		second[i] = 0xBB
	}

	_, err = c.WriteAt(first, 0)
	require.NoError(err)
	_, err = c.WriteAt(second, 16*1024)
	require.NoError(err)

	whole := make([]byte, 32*1024)
	_, err = c.ReadAt(whole, 0)
	require.NoError(err)
	require.Equal(first, whole[:16*1024])
	require.Equal(second, whole[16*1024:])
}

func TestCacheReadAtFillsGapFromDiskAroundPartialBuffer(t *testing.T) {
	require := require.New(t)

	dir, err := ioutil.TempDir("", "filemapper_cache_test")
	require.NoError(err)
	defer os.RemoveAll(dir)

	info := &meta.Info{Name: "single", Length: 16}
	m, err := New(dir, info)
	require.NoError(err)

	c := NewCache(m, CacheConfig{HighWaterMark: 1 * datasize.MB})
	defer c.Close()

	_, err = c.WriteAt([]byte("0123456789ABCDEF"), 0)
	require.NoError(err)
	require.NoError(c.Flush())

	_, err = c.WriteAt([]byte("XXXX"), 4)
	require.NoError(err)

	whole := make([]byte, 16)
	_, err = c.ReadAt(whole, 0)
	require.NoError(err)
	require.Equal("0123XXXX89ABCDEF", string(whole))
}

func TestCacheConfigDefaults(t *testing.T) {
	require := require.New(t)

	var cfg CacheConfig
	cfg.applyDefaults()
	require.Equal(64*datasize.MB, cfg.HighWaterMark)
}
