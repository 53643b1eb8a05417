package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	apperrors "github.com/xuecangming/transfer-queue/internal/common/errors"
	"github.com/xuecangming/transfer-queue/internal/core/retry"
)

// PathNormalizer resolves platform-specific path quirks (long paths, etc.)
// before any filesystem call.
type PathNormalizer interface {
	Normalize(path string) string
}

// NormalizerFunc adapts a function to PathNormalizer
type NormalizerFunc func(string) string

// Normalize implements PathNormalizer
func (f NormalizerFunc) Normalize(path string) string { return f(path) }

// CleanNormalizer only cleans the path lexically
var CleanNormalizer = NormalizerFunc(filepath.Clean)

// DefaultTrashDir returns the freedesktop trash directory under XDG_DATA_HOME
func DefaultTrashDir() string {
	return filepath.Join(xdg.DataHome, "Trash", "files")
}

// CopyItem is one regular file to transfer
type CopyItem struct {
	Source      string
	Destination string
	Size        int64
	Mode        fs.FileMode
	ModTime     time.Time
}

// LocalStorage performs the filesystem side of transfers
type LocalStorage struct {
	normalizer PathNormalizer
	trashDir   string
}

// NewLocalStorage creates a new local storage instance. A nil normalizer
// falls back to CleanNormalizer and an empty trashDir to DefaultTrashDir.
func NewLocalStorage(normalizer PathNormalizer, trashDir string) *LocalStorage {
	if normalizer == nil {
		normalizer = CleanNormalizer
	}
	if trashDir == "" {
		trashDir = DefaultTrashDir()
	}
	return &LocalStorage{normalizer: normalizer, trashDir: trashDir}
}

// Normalize applies the configured path normalizer
func (s *LocalStorage) Normalize(path string) string {
	return s.normalizer.Normalize(path)
}

// TrashDir returns the directory used for recycle-bin deletes
func (s *LocalStorage) TrashDir() string {
	return s.trashDir
}

// Measure counts bytes and files below the given inputs. It is best-effort:
// entries that cannot be read still count as one file of zero bytes.
func (s *LocalStorage) Measure(inputs []string) (int64, int) {
	var totalBytes int64
	var totalFiles int
	for _, input := range inputs {
		path := s.Normalize(input)
		info, err := os.Stat(path)
		if err != nil {
			totalFiles++
			continue
		}
		if !info.IsDir() {
			totalFiles++
			totalBytes += regularSize(info)
			continue
		}
		_ = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				if p != path {
					totalFiles++
				}
				return nil
			}
			if d.IsDir() || !d.Type().IsRegular() {
				return nil
			}
			totalFiles++
			if info, err := d.Info(); err == nil {
				totalBytes += regularSize(info)
			}
			return nil
		})
	}
	return totalBytes, totalFiles
}

// Plan expands input into the regular files to copy into targetDir. A file
// lands at targetDir/<base>; a directory is mirrored under targetDir/<base>.
// A destination that is the source, or lies inside it, is a permanent error.
func (s *LocalStorage) Plan(input, targetDir string) ([]CopyItem, error) {
	src := s.Normalize(input)
	dstRoot := filepath.Join(s.Normalize(targetDir), filepath.Base(src))

	info, err := os.Stat(src)
	if err != nil {
		return nil, fmt.Errorf("failed to stat source: %w", err)
	}
	if err := checkOverlap(resolve(src), filepath.Join(resolve(s.Normalize(targetDir)), filepath.Base(src))); err != nil {
		return nil, err
	}
	if dstInfo, err := os.Stat(dstRoot); err == nil && os.SameFile(info, dstInfo) {
		return nil, retry.Permanent(apperrors.InvalidRequest("Destination is the source itself").
			WithDetails("path", src))
	}
	if !info.IsDir() {
		return []CopyItem{{Source: src, Destination: dstRoot, Size: info.Size(), Mode: info.Mode(), ModTime: info.ModTime()}}, nil
	}

	var items []CopyItem
	err = filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		items = append(items, CopyItem{
			Source:      p,
			Destination: filepath.Join(dstRoot, rel),
			Size:        info.Size(),
			Mode:        info.Mode(),
			ModTime:     info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk source directory: %w", err)
	}
	return items, nil
}

// CheckTarget rejects a copy of input into targetDir whose destination is
// the input itself or lies inside the input's directory tree. It is purely
// lexical; Plan repeats the check against the resolved filesystem.
func CheckTarget(input, targetDir string) error {
	src := filepath.Clean(input)
	return checkOverlap(src, filepath.Join(targetDir, filepath.Base(src)))
}

func checkOverlap(src, dst string) error {
	absSrc, err := filepath.Abs(src)
	if err != nil {
		return fmt.Errorf("failed to resolve source: %w", err)
	}
	absDst, err := filepath.Abs(dst)
	if err != nil {
		return fmt.Errorf("failed to resolve destination: %w", err)
	}

	if absDst == absSrc {
		return retry.Permanent(apperrors.InvalidRequest("Destination is the source itself").
			WithDetails("path", absSrc))
	}
	rel, err := filepath.Rel(absSrc, absDst)
	if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return retry.Permanent(apperrors.InvalidRequest("Destination is inside the source tree").
			WithDetails("source", absSrc).
			WithDetails("destination", absDst))
	}
	return nil
}

// resolve follows symlinks when path exists, otherwise returns it unchanged
func resolve(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	return path
}

// OpenSource opens a file for reading
func (s *LocalStorage) OpenSource(path string) (io.ReadCloser, error) {
	f, err := os.Open(s.Normalize(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open source: %w", err)
	}
	return f, nil
}

// CreateTarget creates parent directories and opens path for writing. With
// failIfExists an existing file is reported as a permanent error.
func (s *LocalStorage) CreateTarget(path string, failIfExists bool) (io.WriteCloser, error) {
	path = s.Normalize(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create target directory: %w", err)
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if failIfExists {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, retry.Permanent(apperrors.TargetExists(path))
		}
		return nil, fmt.Errorf("failed to create target: %w", err)
	}
	return f, nil
}

// CopyMetadata copies permission bits and/or timestamps onto dst
func (s *LocalStorage) CopyMetadata(item CopyItem, attributes, timestamps bool) error {
	dst := s.Normalize(item.Destination)
	if attributes {
		if err := os.Chmod(dst, item.Mode.Perm()); err != nil {
			return fmt.Errorf("failed to copy attributes: %w", err)
		}
	}
	if timestamps {
		if err := os.Chtimes(dst, item.ModTime, item.ModTime); err != nil {
			return fmt.Errorf("failed to copy timestamps: %w", err)
		}
	}
	return nil
}

// Delete removes a file or directory tree, optionally via the recycle bin.
// Missing paths are not an error.
func (s *LocalStorage) Delete(path string, useRecycleBin bool) error {
	path = s.Normalize(path)
	if useRecycleBin {
		return s.moveToTrash(path)
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to delete: %w", err)
	}
	return nil
}

func (s *LocalStorage) moveToTrash(path string) error {
	if _, err := os.Lstat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil // Already deleted
		}
		return fmt.Errorf("failed to stat: %w", err)
	}
	if err := os.MkdirAll(s.trashDir, 0o700); err != nil {
		return fmt.Errorf("failed to create trash directory: %w", err)
	}

	dst := uniquePath(filepath.Join(s.trashDir, filepath.Base(path)))
	if err := os.Rename(path, dst); err == nil {
		return nil
	}

	// Rename fails across filesystems; fall back to copy + remove.
	if err := copyTree(path, dst); err != nil {
		return fmt.Errorf("failed to move to trash: %w", err)
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to delete after trashing: %w", err)
	}
	return nil
}

func uniquePath(path string) string {
	if _, err := os.Lstat(path); errors.Is(err, fs.ErrNotExist) {
		return path
	}
	ext := filepath.Ext(path)
	base := path[:len(path)-len(ext)]
	for i := 1; ; i++ {
		candidate := base + "." + strconv.Itoa(i) + ext
		if _, err := os.Lstat(candidate); errors.Is(err, fs.ErrNotExist) {
			return candidate
		}
	}
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		in, err := os.Open(p)
		if err != nil {
			return err
		}
		defer in.Close()
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		out, err := os.Create(target)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, in); err != nil {
			out.Close()
			return err
		}
		return out.Close()
	})
}

func regularSize(info fs.FileInfo) int64 {
	if info.Mode().IsRegular() {
		return info.Size()
	}
	return 0
}
