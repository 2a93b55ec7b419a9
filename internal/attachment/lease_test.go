package attachment

import (
	"io"
	"strings"
	"sync/atomic"
	"testing"
)

// countingCloser counts Close calls on a wrapped reader.
type countingCloser struct {
	io.Reader
	closes atomic.Int32
}

func (c *countingCloser) Close() error {
	c.closes.Add(1)
	return nil
}

func TestBlobLeaseReleasesExactlyOnce(t *testing.T) {
	cc := &countingCloser{Reader: strings.NewReader("blob")}
	lease := NewBlobLease(cc, "application/pdf", 4)

	if lease.Released() {
		t.Fatal("fresh lease reports released")
	}

	if err := lease.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	lease.Close()
	lease.Close()

	if got := cc.closes.Load(); got != 1 {
		t.Errorf("underlying closes = %d, want 1", got)
	}
	if !lease.Released() {
		t.Error("Released() = false after Close")
	}
}

func TestBlobLeaseReads(t *testing.T) {
	cc := &countingCloser{Reader: strings.NewReader("attachment bytes")}
	lease := NewBlobLease(cc, "application/pdf", 16)
	defer lease.Close()

	got, err := io.ReadAll(lease)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if string(got) != "attachment bytes" {
		t.Errorf("read %q, want attachment bytes", got)
	}
	if lease.ContentType() != "application/pdf" || lease.Size() != 16 {
		t.Errorf("metadata = %q/%d, want application/pdf/16", lease.ContentType(), lease.Size())
	}
}

func TestHolderReplacementReleasesPrevious(t *testing.T) {
	first := &countingCloser{Reader: strings.NewReader("a")}
	second := &countingCloser{Reader: strings.NewReader("b")}

	h := NewHolder()
	h.Set(NewBlobLease(first, "application/pdf", 1))
	h.Set(NewBlobLease(second, "application/pdf", 1))

	if got := first.closes.Load(); got != 1 {
		t.Errorf("first blob closes = %d, want 1 after replacement", got)
	}
	if got := second.closes.Load(); got != 0 {
		t.Errorf("second blob closes = %d, want 0 while held", got)
	}

	h.Release()
	if got := second.closes.Load(); got != 1 {
		t.Errorf("second blob closes = %d, want 1 after Release", got)
	}
	if h.Current() != nil {
		t.Error("Current() after Release should be nil")
	}

	// Releasing an empty holder is a no-op.
	h.Release()
	if got := second.closes.Load(); got != 1 {
		t.Errorf("second blob closes = %d, want still 1", got)
	}
}
