package fingerprint

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/disintegration/imaging"

	"github.com/joseph-ayodele/trade-ingest/internal/common"
)

// gradient draws a left-to-right darkening ramp with a dark box, roughly screenshot-like.
func gradient(w, h int, reverse bool) *image.NRGBA {
	img := imaging.New(w, h, color.White)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(255 - x*255/(w-1))
			if reverse {
				v = 255 - v
			}
			img.Set(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

func encode(t *testing.T, img image.Image, format imaging.Format, opts ...imaging.EncodeOption) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format, opts...); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func TestComputeDeterministic(t *testing.T) {
	data := encode(t, gradient(180, 90, false), imaging.PNG)
	f := New()

	first, err := f.Compute(data)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := f.Compute(append([]byte(nil), data...))
		if err != nil {
			t.Fatalf("Compute #%d: %v", i, err)
		}
		if again.ExactHash != first.ExactHash {
			t.Fatalf("exact hash changed between runs: %x vs %x", again.ExactHash, first.ExactHash)
		}
		if again.PerceptualHash != first.PerceptualHash {
			t.Fatalf("perceptual hash changed between runs: %s vs %s", again.PerceptualHash, first.PerceptualHash)
		}
	}
	if first.SizeBytes != len(data) {
		t.Errorf("SizeBytes = %d, want %d", first.SizeBytes, len(data))
	}
}

func TestPerceptualHashStableUnderReencoding(t *testing.T) {
	img := gradient(240, 120, false)
	fast := encode(t, img, imaging.PNG, imaging.PNGCompressionLevel(png.NoCompression))
	best := encode(t, img, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression))
	jpg := encode(t, img, imaging.JPEG, imaging.JPEGQuality(90))

	f := New()
	a, err := f.Compute(fast)
	if err != nil {
		t.Fatalf("Compute fast: %v", err)
	}
	b, err := f.Compute(best)
	if err != nil {
		t.Fatalf("Compute best: %v", err)
	}
	c, err := f.Compute(jpg)
	if err != nil {
		t.Fatalf("Compute jpeg: %v", err)
	}

	if bytes.Equal(fast, best) {
		t.Fatalf("test setup: encodings should differ byte-wise")
	}
	if a.ExactHash == b.ExactHash {
		t.Errorf("different bytes produced the same exact hash")
	}
	if a.PerceptualHash != b.PerceptualHash {
		t.Errorf("lossless re-encode changed perceptual hash: %s vs %s", a.PerceptualHash, b.PerceptualHash)
	}
	if d := Distance(a.PerceptualHash, c.PerceptualHash); d < 0 || d > 4 {
		t.Errorf("jpeg re-encode distance = %d, want <= 4", d)
	}
}

func TestDistinctImagesDiffer(t *testing.T) {
	f := New()
	a, err := f.Compute(encode(t, gradient(180, 90, false), imaging.PNG))
	if err != nil {
		t.Fatal(err)
	}
	b, err := f.Compute(encode(t, gradient(180, 90, true), imaging.PNG))
	if err != nil {
		t.Fatal(err)
	}
	if d := Distance(a.PerceptualHash, b.PerceptualHash); d < 32 {
		t.Errorf("Distance = %d, want a large distance for mirrored ramps", d)
	}
}

func TestComputeInvalidImage(t *testing.T) {
	valid := encode(t, gradient(64, 64, false), imaging.PNG)
	tiny := encode(t, imaging.New(4, 4, color.Black), imaging.PNG)

	cases := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"text", []byte("definitely not an image")},
		{"truncated png", valid[:len(valid)/3]},
		{"too small", tiny},
	}
	f := New()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.Compute(tc.data)
			if !errors.Is(err, common.ErrInvalidImage) {
				t.Fatalf("Compute error = %v, want ErrInvalidImage", err)
			}
		})
	}
}

func TestDistanceMalformed(t *testing.T) {
	if got := Distance("zz", "00"); got != -1 {
		t.Errorf("Distance = %d, want -1", got)
	}
	if got := Distance("00000000000000ff", "0000000000000000"); got != 8 {
		t.Errorf("Distance = %d, want 8", got)
	}
}
