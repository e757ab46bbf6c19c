package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func validateDocumentPath(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("pipeline document is required")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve document path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("pipeline document does not exist: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("document path %s is a directory", abs)
	}

	return nil
}
