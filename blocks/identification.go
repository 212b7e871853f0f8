package blocks

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/INLOpen/nexusmdf/core"
)

// Identification is the 64-byte block at file offset 0, common to every
// version family.
type Identification struct {
	Version     core.FormatVersion
	Program     string
	Unfinalized bool
}

// ReadIdentification probes the file magic and version string.
func ReadIdentification(r *Reader) (*Identification, error) {
	raw, err := r.ReadAt(0, IDBlockSize)
	if err != nil {
		return nil, err
	}
	magic := string(raw[:8])
	unfinalized := false
	switch strings.TrimSpace(magic) {
	case "MDF":
	case "UnFinMF":
		unfinalized = true
	default:
		return nil, &core.FormatError{Message: fmt.Sprintf(
			"not a valid ASAM MDF file: magic header is %q", magic)}
	}

	versionStr := cstring(raw[8:16])
	if versionStr == "" {
		// some writers only fill the numeric version field
		versionStr = fmt.Sprintf("%d", binary.LittleEndian.Uint16(raw[28:30]))
	}
	version, err := core.ParseVersion(versionStr)
	if err != nil {
		return nil, err
	}
	return &Identification{
		Version:     version,
		Program:     cstring(raw[16:24]),
		Unfinalized: unfinalized,
	}, nil
}

// Encode renders the 64-byte identification block.
func (id *Identification) Encode() []byte {
	raw := make([]byte, IDBlockSize)
	magic := core.FileMagic
	if id.Unfinalized {
		magic = core.UnfinalizedMagic
	}
	copy(raw[:8], magic)

	// version strings are space padded on disk
	version := id.Version.String()
	fixedText(raw[8:16], version)
	for i := 8 + len(version); i < 16; i++ {
		raw[i] = ' '
	}
	fixedText(raw[16:24], id.Program)
	binary.LittleEndian.PutUint16(raw[28:30], uint16(id.Version))
	return raw
}
