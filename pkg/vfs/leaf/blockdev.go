package leaf

import (
	"github.com/sgielen/cosixgo/pkg/abi/cloudabi"
	"github.com/sgielen/cosixgo/pkg/context"
	"github.com/sgielen/cosixgo/pkg/sync"
	"github.com/sgielen/cosixgo/pkg/vfs"
)

// sectorSize is hard-coded per original_source/blockdev/blockdev.hpp's
// "TODO: make this configurable" sector_size constant; spec §5 Open
// Question 3 settles that a partition inherits it unchanged from its
// backing device rather than declaring its own.
const sectorSize = 512

// SectorReader reads sectorCount sectors starting at lba into buf (which is
// exactly sectorCount*sectorSize bytes), the primitive every concrete block
// device (or the host-backed device that will eventually implement one)
// supplies (original: blockdev::read_sectors).
type SectorReader func(buf []byte, lba, sectorCount uint64) cloudabi.Errno

// BlockDevice is a read-only block device FD (spec §6's block-device
// store). Grounded on original_source/blockdev/blockdev.cpp: pread converts
// a byte offset/count into a sector range and rejects non-sector-aligned
// requests; pwrite is a declared-but-unimplemented path that always fails
// no-device (spec §5 Open Question 1).
type BlockDevice struct {
	vfs.BaseFD

	read SectorReader

	mu     sync.Mutex
	offset int64
}

// NewBlockDevice wraps read as a block device FD named name.
func NewBlockDevice(name string, read SectorReader) *BlockDevice {
	b := &BlockDevice{read: read}
	b.InitBaseFD(cloudabi.FiletypeBlockDevice, name)
	return b
}

// ReadSectors exposes the raw sector-addressed primitive directly, for
// Partition to delegate onto after translating lba (original: partition
// holds its backing blockdev and calls bdev->read_sectors, not pread).
func (b *BlockDevice) ReadSectors(buf []byte, lba, sectorCount uint64) cloudabi.Errno {
	return b.read(buf, lba, sectorCount)
}

func (b *BlockDevice) PRead(ctx context.Context, iov [][]byte, offset int64) (int, cloudabi.Errno) {
	length := 0
	for _, v := range iov {
		length += len(v)
	}
	if length == 0 {
		return 0, cloudabi.ESuccess
	}
	if length%sectorSize != 0 || offset%sectorSize != 0 {
		return 0, cloudabi.EInval
	}
	lba := uint64(offset) / sectorSize
	sectorCount := uint64(length) / sectorSize

	buf := make([]byte, length)
	if errno := b.read(buf, lba, sectorCount); errno != cloudabi.ESuccess {
		return 0, errno
	}
	n, _ := vfs.CopyOut(iov, buf)
	return n, cloudabi.ESuccess
}

// PWrite always fails no-device: the write path is declared but
// unimplemented (original: blockdev::pwrite, "// TODO").
func (b *BlockDevice) PWrite(context.Context, [][]byte, int64) (int, cloudabi.Errno) {
	return 0, cloudabi.ENoDev
}

func (b *BlockDevice) Read(ctx context.Context, iov [][]byte) (int, cloudabi.Errno) {
	b.mu.Lock()
	off := b.offset
	b.mu.Unlock()
	n, errno := b.PRead(ctx, iov, off)
	if errno == cloudabi.ESuccess {
		b.mu.Lock()
		b.offset += int64(n)
		b.mu.Unlock()
	}
	return n, errno
}

func (b *BlockDevice) Write(ctx context.Context, iov [][]byte) (int, cloudabi.Errno) {
	b.mu.Lock()
	off := b.offset
	b.mu.Unlock()
	return b.PWrite(ctx, iov, off)
}

func (b *BlockDevice) Seek(ctx context.Context, delta int64, whence cloudabi.Whence) (int64, cloudabi.Errno) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var base int64
	switch whence {
	case cloudabi.WhenceSet:
		base = 0
	case cloudabi.WhenceCur:
		base = b.offset
	default:
		return 0, cloudabi.ENotSup
	}
	newOff := base + delta
	if newOff < 0 {
		return 0, cloudabi.EInvalSeek
	}
	b.offset = newOff
	return newOff, cloudabi.ESuccess
}

// Partition is a block device that addresses a sub-range of sectors on a
// backing BlockDevice (spec §6's block-device store composes these from
// host partition tables). Grounded on
// original_source/blockdev/partition.cpp: reads translate lba by lbaOffset
// and are bounds-checked against sectorCount; writes are unimplemented,
// same as any other BlockDevice (spec §5 Open Question 1).
type Partition struct {
	*BlockDevice
	lbaOffset   uint64
	sectorCount uint64
}

// NewPartition creates a partition of sectorCount sectors starting at
// lbaOffset on backing.
func NewPartition(name string, backing *BlockDevice, lbaOffset, sectorCount uint64) *Partition {
	read := func(buf []byte, lba, sc uint64) cloudabi.Errno {
		if lba+sc > sectorCount {
			return cloudabi.EInval
		}
		return backing.ReadSectors(buf, lba+lbaOffset, sc)
	}
	return &Partition{
		BlockDevice: NewBlockDevice(name, read),
		lbaOffset:   lbaOffset,
		sectorCount: sectorCount,
	}
}
