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
	"sort"
	"sync"

	"github.com/c2h5oh/datasize"
)

// CacheConfig configures Cache's write-back behavior.
type CacheConfig struct {
	// HighWaterMark is how much dirty data Cache buffers in memory before
	// it flushes the whole buffer to disk in one offset-sorted batch.
	HighWaterMark datasize.ByteSize `yaml:"high_water_mark"`
}

func (c *CacheConfig) applyDefaults() {
	if c.HighWaterMark == 0 {
		c.HighWaterMark = 64 * datasize.MB
	}
}

// block is one buffered, not-yet-flushed write.
type block struct {
	offset int64
	data   []byte
}

// Cache wraps a Mapper with a write-back buffer: writes land in memory and
// are acknowledged immediately. Once the buffer crosses HighWaterMark the
// whole buffer is drained in one batch, sorted by ascending offset so the
// OS sees sequential I/O, written by a single background worker. Reads are
// served from the buffer first, falling back to the underlying Mapper for
// anything not currently buffered.
//
// A single worker is sufficient here: disk writes for one torrent are
// strictly serialized by the underlying files anyway, so a worker pool
// would add coordination overhead without added throughput. One batch is
// in flight at a time; a writer arriving while the buffer is full and a
// batch is still flushing blocks until the worker catches up, so a slow
// disk applies backpressure to fast peers rather than growing memory use
// without bound.
type Cache struct {
	mapper *Mapper
	config CacheConfig

	mu       sync.Mutex
	pending  map[int64]*block // buffered writes, keyed by offset
	inflight []*block         // the batch currently being written, offset-sorted
	dirty    datasize.ByteSize
	flushed  *sync.Cond

	flushes chan []*block
	done    chan struct{}
	wg      sync.WaitGroup

	flushErrMu sync.Mutex
	flushErr   error
}

// NewCache creates a Cache over mapper.
func NewCache(mapper *Mapper, config CacheConfig) *Cache {
	config.applyDefaults()
	c := &Cache{
		mapper:  mapper,
		config:  config,
		pending: make(map[int64]*block),
		flushes: make(chan []*block, 1),
		done:    make(chan struct{}),
	}
	c.flushed = sync.NewCond(&c.mu)
	c.wg.Add(1)
	go c.offloadLoop()
	return c
}

// WriteAt buffers p for offset off and returns immediately; durability is
// only guaranteed after a Flush or Close. Crossing HighWaterMark hands the
// whole buffer to the flush worker as one offset-sorted batch.
func (c *Cache) WriteAt(p []byte, off int64) (int, error) {
	buf := make([]byte, len(p))
	copy(buf, p)
	b := &block{offset: off, data: buf}

	c.mu.Lock()
	for c.dirty >= c.config.HighWaterMark && len(c.inflight) > 0 {
		c.flushed.Wait()
	}
	if old, ok := c.pending[off]; ok {
		c.dirty -= datasize.ByteSize(len(old.data))
	}
	c.pending[off] = b
	c.dirty += datasize.ByteSize(len(buf))
	var batch []*block
	if c.dirty >= c.config.HighWaterMark && len(c.inflight) == 0 {
		batch = c.takeBatchLocked()
	}
	c.mu.Unlock()

	if batch != nil {
		select {
		case c.flushes <- batch:
		case <-c.done:
			return 0, errClosed
		}
	}
	return len(p), nil
}

// takeBatchLocked moves every pending write into a single offset-sorted
// in-flight batch. Callers hold c.mu and have checked that no batch is
// already in flight.
func (c *Cache) takeBatchLocked() []*block {
	if len(c.pending) == 0 {
		return nil
	}
	batch := make([]*block, 0, len(c.pending))
	for _, b := range c.pending {
		batch = append(batch, b)
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].offset < batch[j].offset })
	c.pending = make(map[int64]*block)
	c.inflight = batch
	return batch
}

// ReadAt serves p from the write-back buffer wherever it overlaps
// [off, off+len(p)), falling back to the underlying Mapper for any part of
// the range not currently buffered. A read spanning several blocks of a
// piece therefore sees every block that has been written but not yet
// flushed, not only an exact single-entry match -- a verify() read of a
// whole multi-block piece (storage/piecestore's usual case) would
// otherwise fall straight through to a stale or still-sparse on-disk read
// with no happens-before guarantee that the just-received blocks landed.
func (c *Cache) ReadAt(p []byte, off int64) (int, error) {
	length := int64(len(p))

	c.mu.Lock()
	var older, newer []*block
	for _, b := range c.inflight {
		bEnd := b.offset + int64(len(b.data))
		if b.offset < off+length && bEnd > off {
			older = append(older, b)
		}
	}
	for _, b := range c.pending {
		bEnd := b.offset + int64(len(b.data))
		if b.offset < off+length && bEnd > off {
			newer = append(newer, b)
		}
	}
	c.mu.Unlock()

	if len(older) == 0 && len(newer) == 0 {
		return c.mapper.ReadAt(p, off)
	}

	if !coversRange(append(append([]*block(nil), older...), newer...), off, length) {
		if _, err := c.mapper.ReadAt(p, off); err != nil {
			return 0, err
		}
	}
	// Overlay in-flight blocks first, then still-pending ones, so a
	// rewrite of an offset whose earlier write is mid-flush wins.
	for _, b := range older {
		overlayBlock(p, off, b)
	}
	for _, b := range newer {
		overlayBlock(p, off, b)
	}
	return len(p), nil
}

// coversRange reports whether blocks, restricted to [off, off+length),
// leave no gap uncovered.
func coversRange(blocks []*block, off, length int64) bool {
	if length <= 0 {
		return true
	}
	end := off + length

	type interval struct{ start, stop int64 }
	ivs := make([]interval, 0, len(blocks))
	for _, b := range blocks {
		start, stop := b.offset, b.offset+int64(len(b.data))
		if start < off {
			start = off
		}
		if stop > end {
			stop = end
		}
		if start < stop {
			ivs = append(ivs, interval{start, stop})
		}
	}
	sort.Slice(ivs, func(i, j int) bool { return ivs[i].start < ivs[j].start })

	cur := off
	for _, iv := range ivs {
		if iv.start > cur {
			return false
		}
		if iv.stop > cur {
			cur = iv.stop
		}
	}
	return cur >= end
}

// overlayBlock copies the portion of b that falls within
// [off, off+len(p)) into p, overwriting whatever baseline was there.
func overlayBlock(p []byte, off int64, b *block) {
	reqEnd := off + int64(len(p))
	start, stop := b.offset, b.offset+int64(len(b.data))
	if start < off {
		start = off
	}
	if stop > reqEnd {
		stop = reqEnd
	}
	if start >= stop {
		return
	}
	copy(p[start-off:stop-off], b.data[start-b.offset:stop-b.offset])
}

// Flush blocks until every buffered write has been written to disk,
// regardless of how far below HighWaterMark the buffer is.
func (c *Cache) Flush() error {
	c.mu.Lock()
	for {
		if len(c.inflight) > 0 {
			c.flushed.Wait()
			continue
		}
		batch := c.takeBatchLocked()
		if batch == nil {
			break
		}
		c.mu.Unlock()
		select {
		case c.flushes <- batch:
		case <-c.done:
			return errClosed
		}
		c.mu.Lock()
	}
	c.mu.Unlock()
	return c.FlushErr()
}

// FlushErr returns the first error the flush worker encountered, if any.
func (c *Cache) FlushErr() error {
	c.flushErrMu.Lock()
	defer c.flushErrMu.Unlock()
	return c.flushErr
}

// Close stops the flush worker after draining buffered writes.
func (c *Cache) Close() error {
	if err := c.Flush(); err != nil {
		return err
	}
	close(c.done)
	c.wg.Wait()
	return nil
}

func (c *Cache) offloadLoop() {
	defer c.wg.Done()
	for {
		select {
		case batch := <-c.flushes:
			c.flushBatch(batch)
		case <-c.done:
			// Drain whatever is left without blocking on new submissions.
			for {
				select {
				case batch := <-c.flushes:
					c.flushBatch(batch)
				default:
					return
				}
			}
		}
	}
}

// flushBatch writes one offset-sorted batch in increasing order, so the OS
// sees a single sequential pass over each file.
func (c *Cache) flushBatch(batch []*block) {
	var firstErr error
	for _, b := range batch {
		if _, err := c.mapper.WriteAt(b.data, b.offset); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	c.mu.Lock()
	for _, b := range batch {
		c.dirty -= datasize.ByteSize(len(b.data))
	}
	c.inflight = nil
	c.flushed.Broadcast()
	c.mu.Unlock()

	if firstErr != nil {
		c.flushErrMu.Lock()
		if c.flushErr == nil {
			c.flushErr = firstErr
		}
		c.flushErrMu.Unlock()
	}
}
