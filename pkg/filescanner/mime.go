package filescanner

import (
	"mime"
	"path/filepath"
	"strings"
)

// extension fallbacks for types the platform mime table may not know
var extraContentTypes = map[string]string{
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".yaml":     "application/yaml",
	".yml":      "application/yaml",
}

// contentTypeOf derives a content type from the file extension. Unknown
// extensions map to application/octet-stream.
func contentTypeOf(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if contentType, ok := extraContentTypes[ext]; ok {
		return contentType
	}
	contentType := mime.TypeByExtension(ext)
	if contentType == "" {
		return "application/octet-stream"
	}
	// strip parameters such as charset
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	return contentType
}
