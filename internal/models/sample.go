package models

import (
	"errors"
	"fmt"
	"image"
	"path"
	"strconv"
	"strings"
	"unicode"
)

// SampleExt is the extension of newly written samples. Samples are stored
// lossless so training sees exactly the crop that was captured.
const SampleExt = ".png"

var legacySampleExts = []string{".jpg", ".jpeg"}

var ErrInvalidIdentity = errors.New("invalid identity")

// FaceSample is one grayscale face crop labelled with its identity.
type FaceSample struct {
	Identity string
	Index    int
	Image    *image.Gray
}

// Name is the storage name of the sample.
func (s FaceSample) Name() string {
	return SampleName(s.Identity, s.Index)
}

// SampleRef locates a stored sample without loading its pixels.
type SampleRef struct {
	Name     string `json:"name"`
	Identity string `json:"identity"`
	Index    int    `json:"index"`
}

// SampleName derives the file name of the sample for (identity, index).
func SampleName(identity string, index int) string {
	return fmt.Sprintf("%s_%d%s", identity, index, SampleExt)
}

// ParseSampleName recovers (identity, index) from a sample file name. The
// identity may itself contain underscores; the index follows the last one.
func ParseSampleName(name string) (SampleRef, bool) {
	base := path.Base(name)
	ext := strings.ToLower(path.Ext(base))
	if !isSampleExt(ext) {
		return SampleRef{}, false
	}
	stem := strings.TrimSuffix(base, base[len(base)-len(ext):])

	sep := strings.LastIndexByte(stem, '_')
	if sep <= 0 || sep == len(stem)-1 {
		return SampleRef{}, false
	}
	idx, err := strconv.Atoi(stem[sep+1:])
	if err != nil || idx < 0 {
		return SampleRef{}, false
	}
	identity := stem[:sep]
	if ValidateIdentity(identity) != nil {
		return SampleRef{}, false
	}
	return SampleRef{Name: base, Identity: identity, Index: idx}, true
}

func isSampleExt(ext string) bool {
	if ext == SampleExt {
		return true
	}
	for _, e := range legacySampleExts {
		if ext == e {
			return true
		}
	}
	return false
}

// ValidateIdentity rejects identities that cannot be encoded in a sample name.
func ValidateIdentity(identity string) error {
	if identity == "" {
		return fmt.Errorf("%w: empty", ErrInvalidIdentity)
	}
	if strings.TrimSpace(identity) != identity {
		return fmt.Errorf("%w: surrounding whitespace", ErrInvalidIdentity)
	}
	for _, r := range identity {
		if r == '/' || r == '\\' || unicode.IsControl(r) {
			return fmt.Errorf("%w: %q contains %q", ErrInvalidIdentity, identity, r)
		}
	}
	if identity == "." || identity == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidIdentity, identity)
	}
	return nil
}
