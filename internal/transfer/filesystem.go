package transfer

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"syscall"
)

// copyFile copies srcPath to a fresh file next to destPath and renames it
// into place, so readers never observe a partially written destination.
func copyFile(srcPath string, destPath string) error {
	srcFile, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	destFile, err := os.CreateTemp(filepath.Dir(destPath), ".copy-*")
	if err != nil {
		return err
	}

	if _, err := destFile.ReadFrom(srcFile); err != nil {
		_ = destFile.Close()
		_ = os.Remove(destFile.Name())
		return err
	}
	if err := destFile.Close(); err != nil {
		_ = os.Remove(destFile.Name())
		return err
	}

	return os.Rename(destFile.Name(), destPath)
}

// moveFile renames srcPath to destPath, replacing any existing file.
func moveFile(srcPath string, destPath string) error {
	if err := os.Rename(srcPath, destPath); err != nil {

		// If the source file lives on a different filesystem, fall back to
		// copying its contents into place instead of renaming.
		var linkErr *os.LinkError
		if errors.As(err, &linkErr) && linkErr.Err == syscall.EXDEV {
			if copyErr := copyFile(srcPath, destPath); copyErr != nil {
				return copyErr
			}

			// Best-effort cleanup of the source file; ignore ENOENT in case
			// it was moved or removed.
			if rmErr := os.Remove(srcPath); rmErr != nil && !os.IsNotExist(rmErr) {
				return rmErr
			}
			return nil
		}
		return err
	}

	return nil
}

// hashFile returns the quoted hex SHA-256 of the file at path, the form used
// as an ETag.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return QuoteETag(hex.EncodeToString(h.Sum(nil))), nil
}

// QuoteETag wraps a raw hash in double quotes unless it already is.
func QuoteETag(tag string) string {
	if len(tag) >= 2 && tag[0] == '"' && tag[len(tag)-1] == '"' {
		return tag
	}
	return `"` + tag + `"`
}
