package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// AtomicWriteFile writes data to a file atomically using temp-file-then-rename pattern.
// This prevents partial writes if the process crashes mid-write.
func AtomicWriteFile(filename string, data []byte, perm os.FileMode) error {
	// Ensure parent directory exists
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Create temp file in same directory (same filesystem for atomic rename)
	tmpFile, err := os.CreateTemp(dir, ".meshbazaar-tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	// Cleanup temp file on error
	defer func() {
		if tmpFile != nil {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	// Write data
	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}

	// Sync to disk (critical for USB storage)
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync to disk: %w", err)
	}

	// Set permissions before closing
	if err := tmpFile.Chmod(perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}

	// Close temp file before rename
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	tmpFile = nil // Prevent defer from trying to close again

	// Atomic rename (works on same filesystem)
	if err := os.Rename(tmpPath, filename); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// MoveFile relocates a file between data-folder buckets (e.g. "purchases/in
// progress" -> "purchases/trade receipts") without ever leaving neither copy
// nor both copies in an inconsistent state: the destination is written first
// via AtomicWriteFile, and only once that succeeds is the source removed.
// A crash between those two steps leaves the record readable at its new
// location and, at worst, duplicated at the old one - never lost.
func MoveFile(oldPath, newPath string, perm os.FileMode) error {
	data, err := os.ReadFile(oldPath)
	if err != nil {
		return fmt.Errorf("failed to read source file: %w", err)
	}

	if err := AtomicWriteFile(newPath, data, perm); err != nil {
		return fmt.Errorf("failed to write destination file: %w", err)
	}

	if err := os.Remove(oldPath); err != nil {
		return fmt.Errorf("failed to remove source file: %w", err)
	}

	return nil
}
