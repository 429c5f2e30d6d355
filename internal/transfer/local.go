package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// snapshotDir holds the hard links handed out by Retrieve. Its name cannot
// be a valid prefix.
const snapshotDir = ".snapshots"

// Local is a Backend storing objects as plain files under a root directory,
// one subdirectory per prefix. ETags are the quoted SHA-256 of the content.
type Local struct {
	root string
}

// NewLocal creates a Local backend rooted at root, creating it if necessary.
func NewLocal(root string) (*Local, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}

	// Snapshots left by a previous process are unreferenced.
	snapshots := filepath.Join(abs, snapshotDir)
	if err := os.RemoveAll(snapshots); err != nil {
		return nil, fmt.Errorf("clear snapshots: %w", err)
	}
	if err := os.MkdirAll(snapshots, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}
	return &Local{root: abs}, nil
}

// objectPath computes the filesystem path of obj, refusing keys that would
// escape the root.
func (s *Local) objectPath(obj StorageObject) (string, error) {
	if obj.Prefix == "" || obj.Path == "" || obj.Prefix == snapshotDir {
		return "", fmt.Errorf("invalid object key %q", obj.Key())
	}
	p := filepath.Join(s.root, obj.Prefix, filepath.FromSlash(obj.Path))
	if !strings.HasPrefix(p, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("object key %q escapes storage root", obj.Key())
	}
	return p, nil
}

func (s *Local) Store(ctx context.Context, obj StorageObject) (StorageObject, int64, error) {
	objPath, err := s.objectPath(obj)
	if err != nil {
		return StorageObject{}, 0, err
	}

	oldSize, _, err := s.Size(ctx, obj)
	if err != nil {
		return StorageObject{}, 0, err
	}

	info, err := os.Stat(obj.LocalFile)
	if err != nil {
		return StorageObject{}, 0, fmt.Errorf("stat upload: %w", err)
	}

	etag, err := hashFile(obj.LocalFile)
	if err != nil {
		return StorageObject{}, 0, fmt.Errorf("hash upload: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(objPath), 0o755); err != nil {
		return StorageObject{}, 0, err
	}
	if err := moveFile(obj.LocalFile, objPath); err != nil {
		return StorageObject{}, 0, fmt.Errorf("move upload into place: %w", err)
	}

	stored := StorageObject{
		Prefix: obj.Prefix,
		Path:   obj.Path,
		ETag:   etag,
		Size:   info.Size(),
	}
	return stored, stored.Size - oldSize, nil
}

// Retrieve hands out a snapshot of the stored file, so a concurrent Store
// replacing it cannot change the body behind the returned ETag and size.
func (s *Local) Retrieve(ctx context.Context, obj StorageObject) (*StorageObject, error) {
	objPath, err := s.objectPath(obj)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(objPath)
	if notExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, nil
	}

	snapshot, err := s.snapshot(objPath)
	if notExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", obj.Key(), err)
	}

	found := &StorageObject{
		Prefix:    obj.Prefix,
		Path:      obj.Path,
		LocalFile: snapshot,
		temporary: true,
	}

	info, err = os.Stat(snapshot)
	if err == nil {
		found.Size = info.Size()
		found.ETag, err = hashFile(snapshot)
	}
	if err != nil {
		found.Release()
		return nil, err
	}

	if obj.ETag == found.ETag {
		found.Release()
		return &StorageObject{Prefix: obj.Prefix, Path: obj.Path, ETag: found.ETag}, nil
	}
	return found, nil
}

// snapshot hard-links objPath into the snapshot directory. Store replaces
// files by rename, so the link keeps the current content alive. Filesystems
// without hard links get a copy.
func (s *Local) snapshot(objPath string) (string, error) {
	f, err := os.CreateTemp(filepath.Join(s.root, snapshotDir), "retrieve-*")
	if err != nil {
		return "", err
	}
	name := f.Name()
	_ = f.Close()
	if err := os.Remove(name); err != nil {
		return "", err
	}

	if err := os.Link(objPath, name); err != nil {
		if notExist(err) {
			return "", err
		}
		if err := copyFile(objPath, name); err != nil {
			return "", err
		}
	}
	return name, nil
}

func (s *Local) Delete(ctx context.Context, obj StorageObject) (int64, error) {
	objPath, err := s.objectPath(obj)
	if err != nil {
		return 0, err
	}

	size, exists, err := s.Size(ctx, obj)
	if err != nil || !exists {
		return 0, err
	}

	if err := os.Remove(objPath); err != nil && !os.IsNotExist(err) {
		return 0, err
	}
	return size, nil
}

func (s *Local) Size(ctx context.Context, obj StorageObject) (int64, bool, error) {
	objPath, err := s.objectPath(obj)
	if err != nil {
		return 0, false, err
	}

	info, err := os.Stat(objPath)
	if notExist(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if !info.Mode().IsRegular() {
		return 0, false, nil
	}
	return info.Size(), true, nil
}

// notExist also treats a file in place of a parent directory as absence.
func notExist(err error) bool {
	return errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ENOTDIR)
}
