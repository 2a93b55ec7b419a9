package attachment

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/verdictlabs/verdict/internal/backend"
	"github.com/verdictlabs/verdict/model"
)

const defaultMaxSizeBytes = 10 << 20

// documentTypes are the content types accepted for general form
// attachments.
var documentTypes = []string{
	"application/pdf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"image/jpeg",
	"image/png",
}

// pdfOnly restricts an attachment slot to PDF documents.
var pdfOnly = []string{"application/pdf"}

// allowedTypesByKind maps an attachment kind to its accepted content
// types. Finalized attainment documents must be PDF; everything else takes
// the general document set.
var allowedTypesByKind = map[string][]string{
	"attainment":         pdfOnly,
	"attainment-pending": documentTypes,
}

// AllowedTypes returns the accepted content types for an attachment kind.
func AllowedTypes(kind string) []string {
	if types, ok := allowedTypesByKind[kind]; ok {
		return types
	}
	return documentTypes
}

func typeAllowed(contentType string, allowed []string) bool {
	// Strip parameters such as charset.
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = contentType[:i]
	}
	contentType = strings.TrimSpace(strings.ToLower(contentType))
	for _, t := range allowed {
		if contentType == t {
			return true
		}
	}
	return false
}

// LocalBlob is an attachment uploaded in the current session that has not
// yet been persisted to a system of record.
type LocalBlob struct {
	ID          string
	ContentType string
	Data        []byte
}

// LocalStore holds uploaded blobs in memory so they can be previewed
// before the owning form is submitted.
type LocalStore struct {
	mu    sync.Mutex
	blobs map[string]LocalBlob
}

// NewLocalStore creates an empty local blob store.
func NewLocalStore() *LocalStore {
	return &LocalStore{blobs: make(map[string]LocalBlob)}
}

// Put validates and stores an uploaded blob, returning its id.
func (s *LocalStore) Put(kind, contentType string, data []byte, maxSize int64) (string, error) {
	if maxSize <= 0 {
		maxSize = defaultMaxSizeBytes
	}
	if int64(len(data)) > maxSize {
		return "", model.NewAttachmentTooLargeError(maxSize)
	}
	if !typeAllowed(contentType, AllowedTypes(kind)) {
		return "", model.NewAttachmentBadTypeError(contentType)
	}

	id := uuid.New().String()
	s.mu.Lock()
	s.blobs[id] = LocalBlob{ID: id, ContentType: contentType, Data: data}
	s.mu.Unlock()
	return id, nil
}

// Get returns a stored blob.
func (s *LocalStore) Get(id string) (LocalBlob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	blob, ok := s.blobs[id]
	return blob, ok
}

// Delete removes a stored blob.
func (s *LocalStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, id)
}

// Resolver opens attachment blobs as leases. Locally uploaded blobs are
// served synchronously from memory; everything else streams from the
// domain's system of record.
type Resolver struct {
	local   *LocalStore
	client  *backend.Client
	maxSize int64
}

// NewResolver creates an attachment resolver.
func NewResolver(local *LocalStore, client *backend.Client, maxSize int64) *Resolver {
	if maxSize <= 0 {
		maxSize = defaultMaxSizeBytes
	}
	return &Resolver{
		local:   local,
		client:  client,
		maxSize: maxSize,
	}
}

// ResolveLocal opens a lease on a locally uploaded blob.
func (r *Resolver) ResolveLocal(id string) (*BlobLease, error) {
	blob, ok := r.local.Get(id)
	if !ok {
		return nil, model.NewNotFoundError("attachment not found")
	}
	body := io.NopCloser(bytes.NewReader(blob.Data))
	return NewBlobLease(body, blob.ContentType, int64(len(blob.Data))), nil
}

// Resolve opens a lease on an item attachment, streaming it from the
// domain's backend. The stream is capped at the configured size limit and
// its content type must be acceptable for the attachment kind.
func (r *Resolver) Resolve(
	ctx context.Context,
	rctx *model.RequestContext,
	domain model.ApprovalDomain,
	itemID, attachmentID, kind string,
) (*BlobLease, error) {
	stream, err := r.client.FetchAttachment(ctx, rctx, domain, itemID, attachmentID)
	if err != nil {
		return nil, err
	}

	if !typeAllowed(stream.ContentType, AllowedTypes(kind)) {
		stream.Body.Close()
		return nil, model.NewAttachmentBadTypeError(stream.ContentType)
	}
	if stream.Size > r.maxSize {
		stream.Body.Close()
		return nil, model.NewAttachmentTooLargeError(r.maxSize)
	}

	// The declared size can lie or be absent; cap the stream itself too.
	capped := &cappedReadCloser{rc: stream.Body, limit: r.maxSize, remaining: r.maxSize}
	return NewBlobLease(capped, stream.ContentType, stream.Size), nil
}

// cappedReadCloser fails the read once more than the limit has been
// consumed.
type cappedReadCloser struct {
	rc        io.ReadCloser
	limit     int64
	remaining int64
}

func (c *cappedReadCloser) Read(p []byte) (int, error) {
	if c.remaining < 0 {
		return 0, model.NewAttachmentTooLargeError(c.limit)
	}
	if int64(len(p)) > c.remaining+1 {
		p = p[:c.remaining+1]
	}
	n, err := c.rc.Read(p)
	c.remaining -= int64(n)
	if c.remaining < 0 {
		return n, model.NewAttachmentTooLargeError(c.limit)
	}
	return n, err
}

func (c *cappedReadCloser) Close() error {
	return c.rc.Close()
}
