package transfer

import (
	"context"

	"blockserver/internal/workerpool"
)

// Dispatcher runs Backend calls on a bounded worker pool. Callers block until
// a slot is free and their call has finished, or their context ends.
type Dispatcher struct {
	backend Backend
	pool    *workerpool.Pool
}

// NewDispatcher creates a Dispatcher running backend calls on pool.
func NewDispatcher(backend Backend, pool *workerpool.Pool) *Dispatcher {
	return &Dispatcher{
		backend: backend,
		pool:    pool,
	}
}

type stored struct {
	obj   StorageObject
	delta int64
}

// Store persists obj and returns the stored object and the size delta.
func (d *Dispatcher) Store(ctx context.Context, obj StorageObject) (StorageObject, int64, error) {
	res, err := workerpool.Do(ctx, d.pool, func(ctx context.Context) (stored, error) {
		out, delta, err := d.backend.Store(ctx, obj)
		return stored{obj: out, delta: delta}, err
	})
	if err != nil {
		return StorageObject{}, 0, Error.Wrap(err)
	}
	return res.obj, res.delta, nil
}

// Retrieve fetches obj. It returns nil if the object does not exist and the
// not-modified sentinel if obj.ETag matches. The caller must Release a
// non-nil result.
func (d *Dispatcher) Retrieve(ctx context.Context, obj StorageObject) (*StorageObject, error) {
	found, err := workerpool.Do(ctx, d.pool, func(ctx context.Context) (*StorageObject, error) {
		return d.backend.Retrieve(ctx, obj)
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return found, nil
}

// Delete removes obj and returns the bytes freed.
func (d *Dispatcher) Delete(ctx context.Context, obj StorageObject) (int64, error) {
	freed, err := workerpool.Do(ctx, d.pool, func(ctx context.Context) (int64, error) {
		return d.backend.Delete(ctx, obj)
	})
	if err != nil {
		return 0, Error.Wrap(err)
	}
	return freed, nil
}

type sized struct {
	size   int64
	exists bool
}

// Size looks up the size of the object at prefix/path.
func (d *Dispatcher) Size(ctx context.Context, prefix string, path string) (int64, bool, error) {
	res, err := workerpool.Do(ctx, d.pool, func(ctx context.Context) (sized, error) {
		size, exists, err := d.backend.Size(ctx, StorageObject{Prefix: prefix, Path: path})
		return sized{size: size, exists: exists}, err
	})
	if err != nil {
		return 0, false, Error.Wrap(err)
	}
	return res.size, res.exists, nil
}
