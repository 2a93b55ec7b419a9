// Package attachment serves approval item attachments: it resolves blobs
// from the local upload store or the domain's system of record, enforces
// size and content-type limits, and hands the bytes out as leases that are
// released exactly once.
package attachment

import (
	"io"
	"sync"
)

// BlobLease is an open attachment blob. It implements io.ReadCloser; Close
// releases the underlying resource and is safe to call more than once, but
// releases only on the first call.
type BlobLease struct {
	body        io.ReadCloser
	contentType string
	size        int64

	once     sync.Once
	released bool
	mu       sync.Mutex
}

// NewBlobLease wraps an open blob stream in a lease.
func NewBlobLease(body io.ReadCloser, contentType string, size int64) *BlobLease {
	return &BlobLease{
		body:        body,
		contentType: contentType,
		size:        size,
	}
}

// ContentType returns the blob's content type.
func (l *BlobLease) ContentType() string { return l.contentType }

// Size returns the blob size in bytes, or -1 if unknown.
func (l *BlobLease) Size() int64 { return l.size }

// Read reads from the underlying blob stream.
func (l *BlobLease) Read(p []byte) (int, error) {
	return l.body.Read(p)
}

// Close releases the lease. Only the first call closes the underlying
// stream; subsequent calls are no-ops returning nil.
func (l *BlobLease) Close() error {
	var err error
	l.once.Do(func() {
		l.mu.Lock()
		l.released = true
		l.mu.Unlock()
		err = l.body.Close()
	})
	return err
}

// Released reports whether the lease has been released.
func (l *BlobLease) Released() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.released
}

// Holder keeps at most one active lease, releasing the previous one when a
// replacement is set. A preview pane holds one of these: opening the next
// attachment frees the last.
type Holder struct {
	mu    sync.Mutex
	lease *BlobLease
}

// NewHolder creates an empty holder.
func NewHolder() *Holder {
	return &Holder{}
}

// Set installs a new lease, releasing any previous one.
func (h *Holder) Set(lease *BlobLease) {
	h.mu.Lock()
	prev := h.lease
	h.lease = lease
	h.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
}

// Current returns the active lease, or nil.
func (h *Holder) Current() *BlobLease {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lease
}

// Release frees the active lease, if any.
func (h *Holder) Release() {
	h.Set(nil)
}
