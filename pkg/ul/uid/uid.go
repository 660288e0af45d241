// Package uid validates DICOM unique identifiers and names the ones the
// Upper Layer deals with.
package uid

import (
	"encoding/binary"

	"github.com/marmos91/dicomul/pkg/ul/cond"
)

// MaxLength is the longest UID the standard allows.
const MaxLength = 64

// Symbolic transfer syntax names resolved against the host byte order.
const (
	LocalEndianExplicit    = "local-endian-explicit"
	OppositeEndianExplicit = "opposite-endian-explicit"
)

const (
	ApplicationContext = "1.2.840.10008.3.1.1.1"

	ImplicitVRLittleEndian     = "1.2.840.10008.1.2"
	ExplicitVRLittleEndian     = "1.2.840.10008.1.2.1"
	DeflatedExplicitVRLittle   = "1.2.840.10008.1.2.1.99"
	ExplicitVRBigEndian        = "1.2.840.10008.1.2.2"
	JPEGBaseline               = "1.2.840.10008.1.2.4.50"
	JPEGLossless               = "1.2.840.10008.1.2.4.70"
	JPEG2000Lossless           = "1.2.840.10008.1.2.4.90"
	RLELossless                = "1.2.840.10008.1.2.5"
	Verification               = "1.2.840.10008.1.1"
	CTImageStorage             = "1.2.840.10008.5.1.4.1.1.2"
	MRImageStorage             = "1.2.840.10008.5.1.4.1.1.4"
	SecondaryCaptureStorage    = "1.2.840.10008.5.1.4.1.1.7"
	PatientRootQueryFind       = "1.2.840.10008.5.1.4.1.2.1.1"
	PatientRootQueryMove       = "1.2.840.10008.5.1.4.1.2.1.2"
	PatientRootQueryGet        = "1.2.840.10008.5.1.4.1.2.1.3"
	StudyRootQueryFind         = "1.2.840.10008.5.1.4.1.2.2.1"
	StorageCommitmentPushModel = "1.2.840.10008.1.20.1"
)

var names = map[string]string{
	ApplicationContext:         "DICOM Application Context",
	ImplicitVRLittleEndian:     "Implicit VR Little Endian",
	ExplicitVRLittleEndian:     "Explicit VR Little Endian",
	DeflatedExplicitVRLittle:   "Deflated Explicit VR Little Endian",
	ExplicitVRBigEndian:        "Explicit VR Big Endian",
	JPEGBaseline:               "JPEG Baseline (Process 1)",
	JPEGLossless:               "JPEG Lossless, First-Order Prediction",
	JPEG2000Lossless:           "JPEG 2000 (Lossless Only)",
	RLELossless:                "RLE Lossless",
	Verification:               "Verification SOP Class",
	CTImageStorage:             "CT Image Storage",
	MRImageStorage:             "MR Image Storage",
	SecondaryCaptureStorage:    "Secondary Capture Image Storage",
	PatientRootQueryFind:       "Patient Root Query/Retrieve - FIND",
	PatientRootQueryMove:       "Patient Root Query/Retrieve - MOVE",
	PatientRootQueryGet:        "Patient Root Query/Retrieve - GET",
	StudyRootQueryFind:         "Study Root Query/Retrieve - FIND",
	StorageCommitmentPushModel: "Storage Commitment Push Model",
}

// Name returns a display name for well-known UIDs and the UID itself otherwise.
func Name(u string) string {
	if n, ok := names[u]; ok {
		return n
	}
	return u
}

func hostIsLittleEndian() bool {
	return binary.NativeEndian.Uint16([]byte{1, 0}) == 1
}

// Resolve maps the symbolic transfer syntax names to concrete UIDs and
// returns any other input unchanged.
func Resolve(s string) string {
	switch s {
	case LocalEndianExplicit:
		if hostIsLittleEndian() {
			return ExplicitVRLittleEndian
		}
		return ExplicitVRBigEndian
	case OppositeEndianExplicit:
		if hostIsLittleEndian() {
			return ExplicitVRBigEndian
		}
		return ExplicitVRLittleEndian
	default:
		return s
	}
}

// Validate checks the ISO 8824 form: dot separated numeric components, no
// empty component, no leading zero in multi-digit components, at most 64
// characters.
func Validate(s string) error {
	if s == "" {
		return cond.InvalidUID.Errorf("empty UID")
	}
	if len(s) > MaxLength {
		return cond.InvalidUID.Errorf("%q is %d characters, limit %d", s, len(s), MaxLength)
	}
	start := 0
	for i := 0; i <= len(s); i++ {
		if i < len(s) && s[i] != '.' {
			if s[i] < '0' || s[i] > '9' {
				return cond.InvalidUID.Errorf("%q contains %q at offset %d", s, s[i], i)
			}
			continue
		}
		comp := s[start:i]
		if comp == "" {
			return cond.InvalidUID.Errorf("%q has an empty component at offset %d", s, start)
		}
		if len(comp) > 1 && comp[0] == '0' {
			return cond.InvalidUID.Errorf("%q has a leading zero at offset %d", s, start)
		}
		start = i + 1
	}
	return nil
}

// Parse resolves symbolic names and validates the result.
func Parse(s string) (string, error) {
	r := Resolve(s)
	if err := Validate(r); err != nil {
		return "", err
	}
	return r, nil
}
