package storage

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"sync/atomic"
)

// ReadHasher computes MD5 and SHA256 digests of everything read through it.
// The pipeline wraps the source download with one so the checksums come for
// free with the staging copy.
type ReadHasher struct {
	r      io.Reader
	md5    hash.Hash
	sha256 hash.Hash
}

func NewReadHasher(r io.Reader) *ReadHasher {
	return &ReadHasher{
		r:      r,
		md5:    md5.New(),
		sha256: sha256.New(),
	}
}

func (h *ReadHasher) Read(p []byte) (int, error) {
	n, err := h.r.Read(p)
	if n > 0 {
		// hashers never return errors
		h.md5.Write(p[:n])
		h.sha256.Write(p[:n])
	}
	return n, err
}

func (h *ReadHasher) MD5() string {
	return hex.EncodeToString(h.md5.Sum(nil))
}

func (h *ReadHasher) SHA256() string {
	return hex.EncodeToString(h.sha256.Sum(nil))
}

// ReadCounter counts bytes read through it. Safe for concurrent Count calls
// while a copy is still running.
type ReadCounter struct {
	r     io.Reader
	count atomic.Int64
}

func NewReadCounter(r io.Reader) *ReadCounter {
	return &ReadCounter{r: r}
}

func (c *ReadCounter) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.count.Add(int64(n))
	}
	return n, err
}

func (c *ReadCounter) Count() int64 {
	return c.count.Load()
}
