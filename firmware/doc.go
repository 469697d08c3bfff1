// Package firmware loads Nordic DFU packages.
//
// A DFU package is a zip archive holding a signed init packet (.dat) and an
// application image (.bin). Archives produced by nrfutil carry a manifest.json
// naming both entries; archives without one are expected to contain
// helios_app.dat and helios_app.bin.
//
// Basic usage:
//
//	pkg, err := firmware.Load("app_dfu_package.zip")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Write builds an archive, which is handy for tests and tooling:
//
//	var buf bytes.Buffer
//	err := firmware.Write(&buf, &firmware.Package{InitPacket: dat, Firmware: bin})
package firmware
