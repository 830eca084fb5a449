package cntx

import (
	"errors"
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
)

// Glob returns the names of files in the partition whose name matches
// pattern (doublestar glob syntax: "*", "**", "?", character classes).
//
// Grounded on github.com/elliotnunn/BeHierarchic's path.go, which walks
// a filesystem tree matching entries against doublestar patterns;
// simplified here to a single-pass scan over PFS0's flat file list
// rather than a concurrent directory-walk pipeline, since a partition
// has no directory structure to walk.
func (p *PFS0) Glob(pattern string) ([]string, error) {
	var matches []string
	for _, name := range p.ListFiles() {
		ok, err := doublestar.Match(pattern, name)
		if err != nil {
			return nil, fmt.Errorf("cntx: pfs0: glob: %w", err)
		}
		if ok {
			matches = append(matches, name)
		}
	}
	return matches, nil
}

// Glob returns the slash-separated paths of files under the RomFS tree
// whose path matches pattern (doublestar glob syntax, including "**" for
// recursive matching). Traversal starts at the root and walks the full
// tree, since RomFS directory records carry no independent path index.
func (r *RomFs) Glob(pattern string) ([]string, error) {
	var matches []string
	if err := r.globWalk("", pattern, &matches); err != nil {
		return nil, err
	}
	return matches, nil
}

func (r *RomFs) globWalk(dirPath, pattern string, matches *[]string) error {
	it, err := r.OpenDirIterator(dirPath)
	if err != nil {
		return err
	}

	files := it.Files()
	for i := 0; i < files.Count(); i++ {
		name, _, err := files.Next()
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				break
			}
			return err
		}
		filePath := joinRomFsPath(dirPath, name)
		ok, err := doublestar.Match(pattern, filePath)
		if err != nil {
			return fmt.Errorf("cntx: romfs: glob: %w", err)
		}
		if ok {
			*matches = append(*matches, filePath)
		}
	}

	dirs := it.Dirs()
	for i := 0; i < dirs.Count(); i++ {
		name, err := dirs.Next()
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				break
			}
			return err
		}
		childPath := joinRomFsPath(dirPath, name)
		if err := r.globWalk(childPath, pattern, matches); err != nil {
			return err
		}
	}

	return nil
}

func joinRomFsPath(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}
