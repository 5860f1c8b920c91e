package ingest

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/trade-ingest/constants"
)

// AllowedExt checks if a file extension is an accepted screenshot type.
func AllowedExt(ext string) bool {
	return constants.IsImageExt(ext)
}

// IsHidden checks if a file or directory is hidden (starts with '.').
func IsHidden(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".")
}

// LooksLikeImage sniffs the leading bytes so renamed non-images are not submitted.
func LooksLikeImage(data []byte) bool {
	ct := http.DetectContentType(data)
	_, ok := constants.AllowedContentTypes[ct]
	return ok
}
