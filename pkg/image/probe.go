package image

import (
	"errors"
	"fmt"

	"github.com/saferwall/pe"
)

var (
	// ErrManagedPE is returned for .NET assemblies in PE form. They must
	// be converted to a module image first.
	ErrManagedPE = errors.New("managed PE file: convert it to a module image first")
	// ErrNotManaged is returned for PE files without a CLR header.
	ErrNotManaged = errors.New("PE file has no CLR header")
)

// PEInfo describes a probed PE file.
type PEInfo struct {
	Managed      bool
	RuntimeMajor uint16
	RuntimeMinor uint16
}

// InspectPE parses data as a PE file and reports whether it carries a CLR
// header.
func InspectPE(data []byte) (*PEInfo, error) {
	f, err := pe.NewBytes(data, &pe.Options{})
	if err != nil {
		return nil, fmt.Errorf("unable to open PE file: %w", err)
	}
	defer f.Close()
	if err := f.Parse(); err != nil {
		return nil, fmt.Errorf("unable to parse PE file: %w", err)
	}
	info := &PEInfo{Managed: f.HasCLR}
	if f.HasCLR {
		info.RuntimeMajor = f.CLR.CLRHeader.MajorRuntimeVersion
		info.RuntimeMinor = f.CLR.CLRHeader.MinorRuntimeVersion
	}
	return info, nil
}

// Probe explains why data, which starts like a PE file, cannot be loaded.
// It always returns a non-nil error.
func Probe(data []byte) error {
	info, err := InspectPE(data)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBadMagic, err)
	}
	if !info.Managed {
		return ErrNotManaged
	}
	log.Infof("managed PE, runtime %d.%d", info.RuntimeMajor, info.RuntimeMinor)
	return fmt.Errorf("%w (runtime %d.%d)", ErrManagedPE, info.RuntimeMajor, info.RuntimeMinor)
}
