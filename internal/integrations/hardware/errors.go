package hardware

import "errors"

var (
	// ErrChecksumMismatch means the downloaded firmware image failed
	// sha256 verification.
	ErrChecksumMismatch = errors.New("hardware: firmware checksum mismatch")

	// ErrFlasherFailed means the external flasher tool exited with an error.
	ErrFlasherFailed = errors.New("hardware: flasher failed")

	// ErrPortBusy means a port owner refused to release the serial port.
	ErrPortBusy = errors.New("hardware: serial port busy")

	// ErrNoManifest means no firmware manifest has been fetched yet.
	ErrNoManifest = errors.New("hardware: no firmware manifest available")
)
