package firmware

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
)

// Write encodes pkg as a DFU package archive with a manifest.json.
// Empty file names fall back to the defaults.
func Write(w io.Writer, pkg *Package) error {
	initName := pkg.InitFile
	if initName == "" {
		initName = DefaultInitFile
	}
	fwName := pkg.FirmwareFile
	if fwName == "" {
		fwName = DefaultFirmwareFile
	}

	var m manifest
	m.Manifest.Application = &manifestImage{BinFile: fwName, DatFile: initName}
	raw, err := json.MarshalIndent(m, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}

	zw := zip.NewWriter(w)
	entries := []struct {
		name string
		data []byte
	}{
		{ManifestFile, raw},
		{initName, pkg.InitPacket},
		{fwName, pkg.Firmware},
	}
	for _, e := range entries {
		fw, err := zw.Create(e.name)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", e.name, err)
		}
		if _, err := fw.Write(e.data); err != nil {
			return fmt.Errorf("failed to write %s: %w", e.name, err)
		}
	}
	return zw.Close()
}
