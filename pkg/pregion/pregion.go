// Package pregion implements the persistent region: an mmap'd, append-only
// arena that records' NVM mirror slots are allocated from. The redo log is
// not stored here; pkg/txlog writes it to its own file.
//
// Grounded on two corpus sources: pkg/heap/heap.go's segment model (fixed
// max segment size, rotation into a new segment on overflow, an append-only
// next-offset counter) generalized from disk segments into mmap'd chunks,
// and calvinalkan-agent-task/cache_binary.go's direct mmap-via-syscall
// idiom, upgraded here to golang.org/x/sys/unix (already present,
// indirect, in the teacher's own go.mod) for the wider flag surface
// (MAP_SHARED, Msync, Munmap) a read-write persistent arena needs versus a
// read-only cache file.
package pregion

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/bobboyms/storage-engine/pkg/xerrors"
)

// Offset addresses a byte within the region's logical address space: the
// high 32 bits select a chunk, the low 32 bits are the byte offset within
// it. Chunks double in size the way pnvm's PmemFac grows its backing file
// (original_source/pnvm_lib/src/txn.rs PmemFac::alloc_inner).
type Offset uint64

func makeOffset(chunk uint32, within uint32) Offset {
	return Offset(uint64(chunk)<<32 | uint64(within))
}

func (o Offset) chunk() uint32  { return uint32(o >> 32) }
func (o Offset) within() uint32 { return uint32(o) }

// Add returns an offset n bytes past o within the same chunk. Valid only
// while n keeps the result inside the chunk's allocated span - true for any
// field offset within a single record, since a row never spans chunks.
func (o Offset) Add(n int) Offset { return o + Offset(n) }

type chunk struct {
	file   *os.File
	data   []byte // mmap'd
	cap    int64
	next   int64
}

// DefaultInitialChunkSize is the size of the first mapped chunk. Subsequent
// chunks double, matching PmemFac's 1<<30-doubling growth policy scaled
// down for a test-sized default.
const DefaultInitialChunkSize = 4 << 20 // 4MiB

// Region is an append-only persistent arena backed by one or more mmap'd
// files under a directory.
type Region struct {
	dir    string
	chunks []*chunk
}

// Map opens (creating if absent) the region directory and maps its first
// chunk, sized initialSize (DefaultInitialChunkSize if zero).
func Map(dir string, initialSize int64) (*Region, error) {
	if initialSize <= 0 {
		initialSize = DefaultInitialChunkSize
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	r := &Region{dir: dir}
	c, err := r.newChunk(0, initialSize)
	if err != nil {
		return nil, err
	}
	r.chunks = append(r.chunks, c)
	return r, nil
}

func (r *Region) newChunk(idx int, size int64) (*chunk, error) {
	path := r.chunkPath(idx)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, err
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &chunk{file: f, data: data, cap: size}, nil
}

func (r *Region) chunkPath(idx int) string {
	return r.dir + "/region_" + itoa(idx) + ".pmem"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// Alloc bump-allocates n bytes, growing into a fresh chunk (double the
// previous chunk's size) when the active chunk is exhausted. Growth is not
// internally synchronized: callers that may race on the same region (e.g.
// two transactions pushing into the same bucket) must serialize Alloc calls
// through that bucket's own version word, resolving the spec's Open
// Question about the losing side of a chunk-growth race - there is no
// losing side here, because only the bucket's write-locker ever calls Alloc.
func (r *Region) Alloc(n int) (Offset, error) {
	idx := len(r.chunks) - 1
	c := r.chunks[idx]
	if c.next+int64(n) > c.cap {
		newSize := c.cap * 2
		nc, err := r.newChunk(idx+1, newSize)
		if err != nil {
			return 0, err
		}
		r.chunks = append(r.chunks, nc)
		idx++
		c = nc
	}
	off := makeOffset(uint32(idx), uint32(c.next))
	c.next += int64(n)
	return off, nil
}

func (r *Region) at(o Offset) []byte {
	c := r.chunks[o.chunk()]
	return c.data[o.within():]
}

// NodrainCopy copies src into the region starting at off, without any
// flush/fence - matching the spec's nodrain_copy: a plain store the caller
// must separately Flush or Drain to make durable.
func (r *Region) NodrainCopy(off Offset, src []byte) {
	copy(r.at(off), src)
}

// Read returns a slice view of n bytes starting at off. The slice aliases
// the mmap'd region directly; callers must not retain it past an Unmap.
func (r *Region) Read(off Offset, n int) []byte {
	return r.at(off)[:n]
}

// Flush synchronizes n bytes starting at off to the backing file (msync).
func (r *Region) Flush(off Offset, n int) error {
	c := r.chunks[off.chunk()]
	start := int(off.within())
	end := start + n
	if end > len(c.data) {
		end = len(c.data)
	}
	return unix.Msync(c.data[start:end], unix.MS_SYNC)
}

// Drain synchronizes every chunk, serializing all prior Flush/NodrainCopy
// calls against the backing files - the barrier a transaction issues right
// before writing its TXN_COMMIT marker.
func (r *Region) Drain() error {
	for _, c := range r.chunks {
		if err := unix.Msync(c.data, unix.MS_SYNC); err != nil {
			return err
		}
	}
	return nil
}

// Unmap releases every mapped chunk and closes its backing file.
func (r *Region) Unmap() error {
	for _, c := range r.chunks {
		if err := unix.Munmap(c.data); err != nil {
			return err
		}
		if err := c.file.Close(); err != nil {
			return err
		}
	}
	return nil
}

// Size returns the region's total addressable capacity across all chunks,
// used by tests asserting growth actually happened.
func (r *Region) Size() int64 {
	var total int64
	for _, c := range r.chunks {
		total += c.cap
	}
	return total
}

// ChunkCount reports how many chunks have been allocated so far.
func (r *Region) ChunkCount() int { return len(r.chunks) }

// MustAlloc is a convenience wrapper for call sites where an allocation
// failure is a fatal engine condition (out of disk/address space), not a
// retryable transaction error.
func (r *Region) MustAlloc(n int) Offset {
	off, err := r.Alloc(n)
	if err != nil {
		xerrors.Fatal("pregion: alloc %d bytes failed: %v", n, err)
	}
	return off
}
