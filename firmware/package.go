package firmware

// Package is a loaded DFU package: the signed init packet and the
// application image it describes.
type Package struct {
	// InitPacket is the signed init command (.dat)
	InitPacket []byte

	// Firmware is the application image (.bin)
	Firmware []byte

	// InitFile is the archive entry the init packet was read from
	InitFile string

	// FirmwareFile is the archive entry the image was read from
	FirmwareFile string
}

// manifest mirrors the manifest.json written by nrfutil. Only the
// application image is supported.
type manifest struct {
	Manifest struct {
		Application *manifestImage `json:"application,omitempty"`
	} `json:"manifest"`
}

type manifestImage struct {
	BinFile string `json:"bin_file"`
	DatFile string `json:"dat_file"`
}
