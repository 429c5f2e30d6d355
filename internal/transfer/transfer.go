// Package transfer moves file bodies between the request handlers and the
// backing object store. Every backend call is blocking and runs on a bounded
// worker pool.
package transfer

import (
	"context"
	"log/slog"
	"os"

	"github.com/zeebo/errs"
)

// Error is the error class for transfer backend failures.
var Error = errs.Class("transfer")

// StorageObject identifies one stored blob. It is a request and response
// envelope and is never persisted.
type StorageObject struct {
	Prefix string
	Path   string

	// ETag is the version token of the object. On Retrieve it carries the
	// client's If-None-Match value.
	ETag string

	// LocalFile is a path on the local filesystem holding the body. On Store
	// it is the uploaded temp file; on Retrieve it is the file to stream.
	LocalFile string

	Size int64

	temporary bool
}

// Key is the backend-independent name of the object.
func (o StorageObject) Key() string {
	return o.Prefix + "/" + o.Path
}

// NotModified reports whether o is the sentinel returned by Retrieve when the
// requested ETag matches the stored one.
func (o *StorageObject) NotModified() bool {
	return o != nil && o.LocalFile == "" && o.ETag != ""
}

// Release removes the local file if it was created only for this object.
func (o *StorageObject) Release() {
	if o == nil || !o.temporary || o.LocalFile == "" {
		return
	}
	if err := os.Remove(o.LocalFile); err != nil && !os.IsNotExist(err) {
		slog.Debug("Failed to remove retrieved temp file", "path", o.LocalFile, "err", err)
	}
	o.temporary = false
}

// Backend is a blocking object store.
type Backend interface {
	// Store persists the body at obj.LocalFile under obj's key. It returns
	// the stored object and the size delta against any previous object at
	// the same key.
	Store(ctx context.Context, obj StorageObject) (StorageObject, int64, error)

	// Retrieve returns the object at obj's key, nil if there is none, or the
	// not-modified sentinel if obj.ETag matches the stored ETag.
	Retrieve(ctx context.Context, obj StorageObject) (*StorageObject, error)

	// Delete removes the object at obj's key and returns the bytes freed.
	// Deleting a missing object frees nothing.
	Delete(ctx context.Context, obj StorageObject) (int64, error)

	// Size returns the size of the object at obj's key, and false if there is
	// none.
	Size(ctx context.Context, obj StorageObject) (int64, bool, error)
}
