package ocr

import (
	"context"
	"errors"
	"math"
	"os"
	"slices"
	"strings"
	"testing"
	"time"
)

const sampleTSV = "level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n" +
	"1\t1\t0\t0\t0\t0\t0\t0\t800\t600\t-1\t\n" +
	"5\t1\t1\t1\t1\t1\t10\t10\t60\t20\t96.5\tBTCUSDT\n" +
	"5\t1\t1\t1\t1\t2\t80\t10\t40\t20\t91.5\tLong\n" +
	"5\t1\t1\t1\t2\t1\t10\t40\t50\t20\t88\tEntry\n" +
	"5\t1\t1\t1\t2\t2\t70\t40\t70\t20\t84\t42000.5\n" +
	"4\t1\t2\t1\t1\t0\t10\t90\t300\t20\t-1\t\n" +
	"5\t1\t2\t1\t1\t1\t10\t90\t40\t20\t90\tPnL\n" +
	"5\t1\t2\t1\t1\t2\t60\t90\t40\t20\t-1\t \n"

type fakeRunner struct {
	stdout []byte
	err    error
	block  bool
	name   string
	args   []string
	seen   []byte
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.name, f.args = name, args
	if len(args) > 0 {
		f.seen, _ = os.ReadFile(args[0])
	}
	if f.block {
		<-ctx.Done()
		return nil, []byte("killed"), errors.New("signal: killed")
	}
	return f.stdout, nil, f.err
}

func TestParseTSV(t *testing.T) {
	page := parseTSV([]byte(sampleTSV))
	want := "BTCUSDT Long\nEntry 42000.5\n\nPnL"
	if page.Text != want {
		t.Errorf("Text = %q, want %q", page.Text, want)
	}
	if page.Words != 5 {
		t.Errorf("Words = %d, want 5", page.Words)
	}
	if math.Abs(page.MeanConf-90) > 1e-9 {
		t.Errorf("MeanConf = %v, want 90", page.MeanConf)
	}
}

func TestParseTSVEmpty(t *testing.T) {
	page := parseTSV([]byte("level\tpage_num\n"))
	if page.Text != "" || page.MeanConf != 0 || page.Words != 0 {
		t.Errorf("parseTSV(header only) = %+v, want zero value", page)
	}
}

func TestTesseractRecognize(t *testing.T) {
	r := &fakeRunner{stdout: []byte(sampleTSV)}
	tess := newTesseract(Config{PSM: 6, TessdataDir: "/td", TempDir: t.TempDir()}, r, testLogger())

	rec, err := tess.Recognize(context.Background(), []byte("png-bytes"))
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if math.Abs(rec.Confidence-0.90) > 1e-9 {
		t.Errorf("Confidence = %v, want 0.90", rec.Confidence)
	}
	if !strings.HasPrefix(rec.Text, "BTCUSDT Long") {
		t.Errorf("Text = %q", rec.Text)
	}
	if r.name != "tesseract" {
		t.Errorf("binary = %q, want tesseract", r.name)
	}
	for _, want := range []string{"--psm", "6", "--tessdata-dir", "/td", "tsv", "eng"} {
		if !slices.Contains(r.args, want) {
			t.Errorf("args %v missing %q", r.args, want)
		}
	}
	if string(r.seen) != "png-bytes" {
		t.Errorf("temp image content = %q, want png-bytes", r.seen)
	}
	if _, err := os.Stat(r.args[0]); !os.IsNotExist(err) {
		t.Errorf("temp image %s not removed", r.args[0])
	}
}

func TestTesseractRunnerError(t *testing.T) {
	r := &fakeRunner{err: errors.New("exit status 1")}
	tess := newTesseract(Config{TempDir: t.TempDir()}, r, testLogger())
	if _, err := tess.Recognize(context.Background(), []byte("x")); err == nil {
		t.Fatal("Recognize succeeded, want error")
	}
}

func TestTesseractCancelled(t *testing.T) {
	r := &fakeRunner{block: true}
	tess := newTesseract(Config{TempDir: t.TempDir()}, r, testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := tess.Recognize(ctx, []byte("x"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}
}
