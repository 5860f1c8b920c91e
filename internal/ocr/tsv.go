package ocr

import (
	"strconv"
	"strings"
)

// tesseract TSV columns:
// level page_num block_num par_num line_num word_num left top width height conf text
const (
	colLevel = 0
	colBlock = 2
	colPar   = 3
	colLine  = 4
	colConf  = 10
	colText  = 11
	numCols  = 12

	levelWord = "5"
)

// tsvPage is the text and mean word confidence (0..100) rebuilt from a TSV dump.
type tsvPage struct {
	Text     string
	MeanConf float64
	Words    int
}

// parseTSV rebuilds line-oriented text from word rows. Words on the same
// (block, paragraph, line) are joined with a space; a new block starts a new paragraph.
func parseTSV(out []byte) tsvPage {
	var (
		b         strings.Builder
		sum       float64
		n         int
		words     int
		lastBlock string
		lastLine  string
	)
	for i, ln := range strings.Split(string(out), "\n") {
		if i == 0 || ln == "" {
			continue // header
		}
		cols := strings.SplitN(strings.TrimRight(ln, "\r"), "\t", numCols)
		if len(cols) < numCols || cols[colLevel] != levelWord {
			continue
		}
		word := strings.TrimSpace(cols[colText])
		if word == "" {
			continue
		}
		line := cols[colBlock] + "/" + cols[colPar] + "/" + cols[colLine]
		switch {
		case words == 0:
		case cols[colBlock] != lastBlock:
			b.WriteString("\n\n")
		case line != lastLine:
			b.WriteByte('\n')
		default:
			b.WriteByte(' ')
		}
		b.WriteString(word)
		words++
		lastBlock, lastLine = cols[colBlock], line

		if conf, err := strconv.ParseFloat(cols[colConf], 64); err == nil && conf >= 0 {
			sum += conf
			n++
		}
	}
	page := tsvPage{Text: b.String(), Words: words}
	if n > 0 {
		page.MeanConf = sum / float64(n)
	}
	return page
}
