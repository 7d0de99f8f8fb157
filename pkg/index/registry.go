package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"igarchive/pkg/archive"
)

// ScanAccounts lists the immediate subdirectories of baseDir holding a
// parseable posts-index.json, sorted by name.
func ScanAccounts(baseDir string) ([]string, error) {
	entries, err := os.ReadDir(baseDir)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read archive root: %w", err)
	}

	accounts := []string{}
	for _, e := range entries {
		if !e.IsDir() || !archive.ValidUsername(e.Name()) {
			continue
		}
		if hasValidIndex(filepath.Join(baseDir, e.Name())) {
			accounts = append(accounts, e.Name())
		}
	}
	sort.Strings(accounts)
	return accounts, nil
}

func hasValidIndex(accountDir string) bool {
	data, err := os.ReadFile(filepath.Join(accountDir, archive.IndexFile))
	if err != nil {
		return false
	}
	// null decodes without error but leaves entries nil
	var entries []json.RawMessage
	return json.Unmarshal(data, &entries) == nil && entries != nil
}

// WriteRegistry replaces accounts.json under baseDir
func WriteRegistry(baseDir string, accounts []string) error {
	if accounts == nil {
		accounts = []string{}
	}
	return archive.WriteJSONAtomic(filepath.Join(baseDir, archive.RegistryFile), accounts)
}

// RebuildRegistry scans and writes accounts.json
func RebuildRegistry(baseDir string) ([]string, error) {
	accounts, err := ScanAccounts(baseDir)
	if err != nil {
		return nil, err
	}
	if err := WriteRegistry(baseDir, accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

// LoadRegistry reads accounts.json; a missing file is an empty registry
func LoadRegistry(baseDir string) ([]string, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, archive.RegistryFile))
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read account registry: %w", err)
	}
	var accounts []string
	if err := json.Unmarshal(data, &accounts); err != nil {
		return nil, fmt.Errorf("failed to parse account registry: %w", err)
	}
	return accounts, nil
}
