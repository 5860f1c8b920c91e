// Package fingerprint derives content identity for uploaded screenshots.
package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"image"
	"math/bits"
	"net/http"
	"strconv"
	"time"

	"github.com/disintegration/imaging"

	"github.com/joseph-ayodele/trade-ingest/constants"
	"github.com/joseph-ayodele/trade-ingest/internal/common"
	"github.com/joseph-ayodele/trade-ingest/internal/entity"
)

const (
	hashW = 9
	hashH = 8
)

// Fingerprinter computes exact and perceptual hashes. It holds no state besides the clock.
type Fingerprinter struct {
	now func() time.Time
}

func New() *Fingerprinter {
	return &Fingerprinter{now: time.Now}
}

// Compute returns the fingerprint of data or ErrInvalidImage when data is not a decodable screenshot.
func (f *Fingerprinter) Compute(data []byte) (entity.ImageFingerprint, error) {
	if len(data) == 0 {
		return entity.ImageFingerprint{}, fmt.Errorf("%w: empty payload", common.ErrInvalidImage)
	}
	ct := http.DetectContentType(data)
	if _, ok := constants.AllowedContentTypes[ct]; !ok {
		return entity.ImageFingerprint{}, fmt.Errorf("%w: unsupported content type %q", common.ErrInvalidImage, ct)
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return entity.ImageFingerprint{}, fmt.Errorf("%w: decode: %v", common.ErrInvalidImage, err)
	}
	b := img.Bounds()
	if b.Dx() < hashW || b.Dy() < hashH {
		return entity.ImageFingerprint{}, fmt.Errorf("%w: image too small (%dx%d)", common.ErrInvalidImage, b.Dx(), b.Dy())
	}

	return entity.ImageFingerprint{
		ExactHash:      sha256.Sum256(data),
		PerceptualHash: DHash(img),
		SizeBytes:      len(data),
		CapturedAt:     f.now().UTC(),
	}, nil
}

// DHash is a 64-bit difference hash: each bit says whether a cell of the 9x8 grayscale
// thumbnail is brighter than its right neighbour.
func DHash(img image.Image) string {
	small := imaging.Resize(imaging.Grayscale(img), hashW, hashH, imaging.Box)
	var h uint64
	for y := 0; y < hashH; y++ {
		row := small.Pix[y*small.Stride:]
		for x := 0; x < hashW-1; x++ {
			h <<= 1
			if row[x*4] > row[(x+1)*4] {
				h |= 1
			}
		}
	}
	return fmt.Sprintf("%016x", h)
}

// Distance is the Hamming distance between two perceptual hashes, or -1 if either is malformed.
func Distance(a, b string) int {
	x, err := strconv.ParseUint(a, 16, 64)
	if err != nil {
		return -1
	}
	y, err := strconv.ParseUint(b, 16, 64)
	if err != nil {
		return -1
	}
	return bits.OnesCount64(x ^ y)
}
