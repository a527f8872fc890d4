// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zeebo/blake3"
)

// Directory entries never included in the image content hash.
var hashExcludedDirs = map[string]bool{
	".git": true, ".hg": true, ".svn": true,
	".venv": true, ".mypy_cache": true, ".pytest_cache": true,
	".ruff_cache": true, "__pycache__": true, "node_modules": true,
}

var hashExcludedFiles = map[string]bool{
	".DS_Store": true,
}

// ImageContentHash computes a deterministic digest of the build
// context plus the Dockerfile (when the Dockerfile lives outside the
// context). The digest keys the image tag: identical inputs reuse the
// cached image, any content change forces a rebuild.
//
// Files are framed as "file\0<relpath>\0<content>\0" in sorted path
// order so renames and reorderings change the digest.
func ImageContentHash(contextDir, dockerfile string) (string, error) {
	hasher := blake3.New()

	files, err := contextFiles(contextDir)
	if err != nil {
		return "", err
	}
	for _, relative := range files {
		hasher.WriteString("file\x00")
		hasher.WriteString(relative)
		hasher.WriteString("\x00")
		if err := hashFileInto(hasher, filepath.Join(contextDir, relative)); err != nil {
			return "", err
		}
		hasher.WriteString("\x00")
	}

	inContext, err := pathWithin(contextDir, dockerfile)
	if err != nil {
		return "", err
	}
	if !inContext {
		hasher.WriteString("dockerfile\x00")
		if err := hashFileInto(hasher, dockerfile); err != nil {
			return "", err
		}
		hasher.WriteString("\x00")
	}

	return fmt.Sprintf("%x", hasher.Sum(nil)), nil
}

// contextFiles lists the hashable files under contextDir as sorted
// slash-separated relative paths.
func contextFiles(contextDir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(contextDir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			if path != contextDir && hashExcludedDirs[entry.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if hashExcludedFiles[entry.Name()] {
			return nil
		}
		relative, err := filepath.Rel(contextDir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(relative))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking build context %s: %w", contextDir, err)
	}
	sort.Strings(files)
	return files, nil
}

func hashFileInto(hasher *blake3.Hasher, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	if _, err := io.Copy(hasher, file); err != nil {
		return fmt.Errorf("hashing %s: %w", path, err)
	}
	return nil
}

// pathWithin reports whether candidate resolves inside root.
func pathWithin(root, candidate string) (bool, error) {
	absoluteRoot, err := filepath.Abs(root)
	if err != nil {
		return false, err
	}
	absoluteCandidate, err := filepath.Abs(candidate)
	if err != nil {
		return false, err
	}
	relative, err := filepath.Rel(absoluteRoot, absoluteCandidate)
	if err != nil {
		return false, nil
	}
	return relative != ".." && !strings.HasPrefix(relative, ".."+string(filepath.Separator)), nil
}
