package blockio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	pkgerrors "github.com/pkg/errors"

	"github.com/keiichishima/ukai/cmn"
)

// readLocal reads length bytes at offset from blkIdx's on-disk block file.
func readLocal(cfg *cmn.Config, name string, blkIdx int, offset, length int64) ([]byte, error) {
	path := cfg.BlockPath(name, blkIdx)
	f, err := os.Open(path)
	if err != nil {
		return nil, wrapLocalErr(err, "open %s", path)
	}
	defer f.Close()

	buf := make([]byte, length)
	n, err := f.ReadAt(buf, offset)
	if err != nil && n < int(length) {
		return nil, wrapLocalErr(err, "read %s at %d", path, offset)
	}
	return buf[:n], nil
}

// writeLocal writes data at offset into blkIdx's on-disk block file,
// creating the image's directory and the block file itself if absent.
func writeLocal(cfg *cmn.Config, name string, blkIdx int, offset int64, data []byte) (int, error) {
	path := cfg.BlockPath(name, blkIdx)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, wrapLocalErr(err, "mkdir for %s", path)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, wrapLocalErr(err, "open %s", path)
	}
	defer f.Close()

	n, err := f.WriteAt(data, offset)
	if err != nil {
		return n, wrapLocalErr(err, "write %s at %d", path, offset)
	}
	return n, nil
}

// allocateLocal creates blkIdx's on-disk block file as a sparse file of
// exactly blockSize bytes, the way spec §5's allocate_dataspace calls for:
// seek to the last byte and write it, rather than writing blockSize zero
// bytes, so the filesystem keeps the block sparse until something actually
// touches it.
func allocateLocal(cfg *cmn.Config, name string, blkIdx int, blockSize int64) error {
	path := cfg.BlockPath(name, blkIdx)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return wrapLocalErr(err, "mkdir for %s", path)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return wrapLocalErr(err, "open %s", path)
	}
	defer f.Close()

	if blockSize == 0 {
		return nil
	}
	if _, err := f.WriteAt([]byte{0}, blockSize-1); err != nil {
		return wrapLocalErr(err, "allocate %s", path)
	}
	return nil
}

// wrapLocalErr classifies a failure from a local block-file operation: the
// errnos below are the ones that can actually come back from os.File's
// Open/WriteAt/ReadAt against a regular file on a mounted filesystem (as
// opposed to, say, ENXIO or ENODEV, which only apply to device files the
// block store never opens). Any of them means the replica itself is
// unusable, not just this one call, so it's reported as DiskBroken instead
// of a plain wrapped error.
func wrapLocalErr(err error, format string, a ...interface{}) error {
	if isLocalDiskError(err) {
		msg := fmt.Sprintf(format, a...)
		return cmn.NewDiskBroken("%s: %v", msg, err)
	}
	return pkgerrors.Wrapf(err, format, a...)
}

func isLocalDiskError(err error) bool {
	diskErrs := []error{
		io.ErrShortWrite,

		syscall.EIO,     // I/O error
		syscall.ENOTDIR, // a path component collides with an existing file
		syscall.EBUSY,   // device or resource is busy
		syscall.EROFS,   // read-only filesystem
		syscall.EDQUOT,  // quota exceeded
		syscall.ESTALE,  // stale file handle (network filesystem)
		syscall.ENOSPC,  // no space left
	}
	for _, diskErr := range diskErrs {
		if errors.Is(err, diskErr) {
			return true
		}
	}
	return false
}
