// Package dotdir manages the .mnemo/ and ~/.mnemo directories.
//
// The directory holds config.toml and, unless storage.dir says otherwise, the
// data directory with the message partitions, the fact document, the audit
// trail and lock files.
package dotdir

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// dirName is the name of the mnemo directory.
	dirName = ".mnemo"

	// dataDirName is the default storage directory inside the mnemo directory.
	dataDirName = "data"
)

type Manager struct{}

func NewManager() *Manager {
	return &Manager{}
}

// Target returns the target absolute path to a .mnemo/ directory.
// Order of precedence is as follows:
//  1. Provided override
//  2. Local ./.mnemo/ dir
//  3. Home ~/.mnemo/ dir
//  4. If none found, attempt to create ~/.mnemo/ dir
func (m *Manager) Target(overrideDir string) (string, error) {
	var dir string

	switch {
	case overrideDir != "":
		dir = overrideDir

	case m.localDirExists():
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("getting current directory: %w", err)
		}
		dir = filepath.Join(cwd, dirName)

	default:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting home directory: %w", err)
		}
		dir = filepath.Join(home, dirName)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating mnemo directory %s: %w", dir, err)
	}

	return filepath.Abs(dir)
}

// DataDir returns the default storage directory inside the resolved .mnemo/
// directory, creating it if needed.
func (m *Manager) DataDir(overrideDir string) (string, error) {
	target, err := m.Target(overrideDir)
	if err != nil {
		return "", err
	}

	dir := filepath.Join(target, dataDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating data directory %s: %w", dir, err)
	}
	return dir, nil
}

// localDirExists checks whether a .mnemo/ directory exists in the current
// working directory.
func (m *Manager) localDirExists() bool {
	cwd, err := os.Getwd()
	if err != nil {
		return false
	}

	info, err := os.Stat(filepath.Join(cwd, dirName))
	return err == nil && info.IsDir()
}
