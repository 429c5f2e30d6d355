// Package quota decides whether a transfer may proceed. The decision itself
// is a pure Policy; Gate gathers the inputs for it.
package quota

import (
	"context"
	"strings"
)

// BlockPathPrefix marks paths belonging to the block namespace, which are
// accounted as a class of their own.
const BlockPathPrefix = "block/"

// Policy is a pure quota decision function.
type Policy interface {
	// Download reports whether a user that has downloaded traffic bytes so
	// far may download more.
	Download(traffic int64) bool

	// Upload reports whether a write may proceed.
	Upload(quotaReached bool, delta int64, isBlock bool, isOverwrite bool) bool
}

// DefaultPolicy limits download traffic and stored size.
type DefaultPolicy struct {
	// DownloadLimit is the maximum cumulative download traffic in bytes.
	// Zero means unlimited.
	DownloadLimit int64
}

func (p DefaultPolicy) Download(traffic int64) bool {
	return p.DownloadLimit <= 0 || traffic < p.DownloadLimit
}

// Upload permits writes while the quota holds. Past the quota, writes that do
// not grow usage and overwrites of existing blocks are still permitted.
func (p DefaultPolicy) Upload(quotaReached bool, delta int64, isBlock bool, isOverwrite bool) bool {
	switch {
	case !quotaReached:
		return true
	case delta <= 0:
		return true
	case isBlock && isOverwrite:
		return true
	default:
		return false
	}
}

// Accounting is the part of the user database the gate reads.
type Accounting interface {
	QuotaReached(ctx context.Context, userID string, additional int64) (bool, error)
	TrafficByPrefix(ctx context.Context, prefix string) (int64, error)
}

// Sizer looks up the current size of an object. It reports false when the
// object does not exist.
type Sizer interface {
	Size(ctx context.Context, prefix string, path string) (int64, bool, error)
}

// Gate evaluates a Policy against current accounting data.
type Gate struct {
	Policy Policy
	Sizer  Sizer
}

// NewGate creates a Gate.
func NewGate(policy Policy, sizer Sizer) *Gate {
	return &Gate{Policy: policy, Sizer: sizer}
}

// Upload is the outcome of an upload evaluation.
type Upload struct {
	Permitted bool
	Delta     int64
	Overwrite bool
	OldSize   int64
}

// PermitUpload evaluates a write of size bytes to prefix/path by userID. The
// size of any existing object is looked up first to derive the delta.
func (g *Gate) PermitUpload(ctx context.Context, db Accounting, userID string, prefix string, path string, size int64) (Upload, error) {
	oldSize, exists, err := g.Sizer.Size(ctx, prefix, path)
	if err != nil {
		return Upload{}, err
	}

	reached, err := db.QuotaReached(ctx, userID, size)
	if err != nil {
		return Upload{}, err
	}

	u := Upload{
		Delta:     size,
		Overwrite: exists,
	}
	if exists {
		u.OldSize = oldSize
		u.Delta = size - oldSize
	}

	u.Permitted = g.Policy.Upload(reached, u.Delta, IsBlockPath(path), u.Overwrite)
	return u, nil
}

// PermitDownload evaluates a read from prefix.
func (g *Gate) PermitDownload(ctx context.Context, db Accounting, prefix string) (bool, error) {
	traffic, err := db.TrafficByPrefix(ctx, prefix)
	if err != nil {
		return false, err
	}
	return g.Policy.Download(traffic), nil
}

// IsBlockPath reports whether path lies in the block namespace.
func IsBlockPath(path string) bool {
	return strings.HasPrefix(path, BlockPathPrefix)
}
