package firmware

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

// Default archive entries used when the package has no manifest.
const (
	DefaultInitFile     = "helios_app.dat"
	DefaultFirmwareFile = "helios_app.bin"
	ManifestFile        = "manifest.json"
)

// MaxEntrySize bounds a single decompressed archive entry.
const MaxEntrySize = 16 << 20

// ErrEmptyImage is returned when the package contains an empty init packet
// or firmware image.
var ErrEmptyImage = errors.New("empty image")

// Load reads a DFU package (.zip) from the given file path.
//
// Example:
//
//	pkg, err := firmware.Load("app_dfu_package.zip")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("init: %d bytes, firmware: %d bytes\n", len(pkg.InitPacket), len(pkg.Firmware))
func Load(path string) (*Package, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open package: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat package: %w", err)
	}

	return LoadReader(f, info.Size())
}

// LoadReader reads a DFU package from any io.ReaderAt.
// If the archive has a manifest.json its application entry names the files,
// otherwise DefaultInitFile and DefaultFirmwareFile are used.
func LoadReader(r io.ReaderAt, size int64) (*Package, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	initName, fwName := DefaultInitFile, DefaultFirmwareFile
	if raw, err := readEntry(zr, ManifestFile); err == nil {
		var m manifest
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", ManifestFile, err)
		}
		if m.Manifest.Application == nil {
			return nil, fmt.Errorf("%s has no application image", ManifestFile)
		}
		initName, fwName = m.Manifest.Application.DatFile, m.Manifest.Application.BinFile
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	pkg := &Package{InitFile: initName, FirmwareFile: fwName}

	if pkg.InitPacket, err = readEntry(zr, initName); err != nil {
		return nil, err
	}
	if pkg.Firmware, err = readEntry(zr, fwName); err != nil {
		return nil, err
	}

	if len(pkg.InitPacket) == 0 {
		return nil, fmt.Errorf("%s: %w", initName, ErrEmptyImage)
	}
	if len(pkg.Firmware) == 0 {
		return nil, fmt.Errorf("%s: %w", fwName, ErrEmptyImage)
	}

	return pkg, nil
}

func readEntry(zr *zip.Reader, name string) ([]byte, error) {
	f, err := zr.Open(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer func() { _ = f.Close() }()

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(f, MaxEntrySize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if n > MaxEntrySize {
		return nil, fmt.Errorf("%s exceeds %d bytes", name, MaxEntrySize)
	}
	return buf.Bytes(), nil
}
