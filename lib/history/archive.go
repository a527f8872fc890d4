// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// Archive packs a run directory into <runDir>.tar.zst and removes the
// directory. The archive is written next to the directory first and
// the directory is removed only after the archive is fully flushed,
// so a failure partway through never loses the run.
func Archive(runDir string) (string, error) {
	info, err := os.Stat(runDir)
	if err != nil {
		return "", fmt.Errorf("archive: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("archive: %s is not a directory", runDir)
	}

	archivePath := filepath.Clean(runDir) + ".tar.zst"
	if err := writeArchive(archivePath, runDir); err != nil {
		os.Remove(archivePath)
		return "", err
	}
	if err := os.RemoveAll(runDir); err != nil {
		return "", fmt.Errorf("archive: removing %s: %w", runDir, err)
	}
	return archivePath, nil
}

func writeArchive(archivePath, runDir string) error {
	out, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	defer out.Close()

	compressor, err := zstd.NewWriter(out)
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	writer := tar.NewWriter(compressor)

	base := filepath.Base(filepath.Clean(runDir))
	err = filepath.WalkDir(runDir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		relative, err := filepath.Rel(runDir, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(filepath.Join(base, relative))

		info, err := entry.Info()
		if err != nil {
			return err
		}
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = name
		if entry.IsDir() {
			header.Name += "/"
		}
		if err := writer.WriteHeader(header); err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}

		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()
		_, err = io.Copy(writer, file)
		return err
	})
	if err != nil {
		return fmt.Errorf("archive: packing %s: %w", runDir, err)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	if err := compressor.Close(); err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	return out.Close()
}

// Extract unpacks an archive produced by Archive into destDir.
func Extract(archivePath, destDir string) error {
	in, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	defer in.Close()

	decompressor, err := zstd.NewReader(in)
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	defer decompressor.Close()

	reader := tar.NewReader(decompressor)
	for {
		header, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("extract: %w", err)
		}

		target, err := securePath(destDir, header.Name)
		if err != nil {
			return err
		}
		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("extract: %w", err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("extract: %w", err)
			}
			if err := extractFile(target, reader, header.FileInfo().Mode()); err != nil {
				return err
			}
		}
	}
}

func extractFile(target string, reader io.Reader, mode fs.FileMode) error {
	file, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm())
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	if _, err := io.Copy(file, reader); err != nil {
		file.Close()
		return fmt.Errorf("extract: %w", err)
	}
	return file.Close()
}

// securePath rejects entry names that would escape destDir.
func securePath(destDir, name string) (string, error) {
	target := filepath.Join(destDir, filepath.FromSlash(name))
	relative, err := filepath.Rel(destDir, target)
	if err != nil || relative == ".." || len(relative) >= 3 && relative[:3] == ".."+string(filepath.Separator) {
		return "", fmt.Errorf("extract: entry %q escapes destination", name)
	}
	return target, nil
}
