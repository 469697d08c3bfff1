package updater

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PackageExt is the extension of DFU package archives.
const PackageExt = ".zip"

// Package is a firmware package on disk and the version it installs.
type Package struct {
	Path    string
	Version string
}

// ParsePackageName derives the package version from a file name of the form
// <name>_<version>.zip.
func ParsePackageName(path string) (Package, error) {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, PackageExt) {
		return Package{}, fmt.Errorf("package %s: not a %s archive", base, PackageExt)
	}
	stem := strings.TrimSuffix(base, PackageExt)
	i := strings.LastIndexByte(stem, '_')
	if i < 0 || i == len(stem)-1 {
		return Package{}, fmt.Errorf("package %s: no version in file name", base)
	}
	return Package{Path: path, Version: stem[i+1:]}, nil
}

// FindPackage returns the first package in dir whose name starts with
// prefix and carries a version.
func FindPackage(dir, prefix string) (Package, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Package{}, fmt.Errorf("read package directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		pkg, err := ParsePackageName(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		return pkg, nil
	}
	return Package{}, fmt.Errorf("no %s*_<version>%s package in %s", prefix, PackageExt, dir)
}
