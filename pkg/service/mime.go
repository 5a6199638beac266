package service

import (
	"path"
	"strings"
)

var mimeTypes = map[string]string{
	".fits": "image/fits",
	".fit":  "image/fits",
	".jpeg": "image/jpeg",
	".jpg":  "image/jpeg",
	".png":  "image/png",
	".xml":  "text/xml",
}

// MIMEType guesses the content type of a file served under name.
// Compressed FITS files are still FITS.
func MIMEType(name string) string {
	name = strings.TrimSuffix(strings.ToLower(name), ".fz")
	if t, ok := mimeTypes[path.Ext(name)]; ok {
		return t
	}
	return "text/plain"
}

// extension is the HDU holding the image of a source file: the first
// extension for tile-compressed files, the primary otherwise.
func extension(imageRef string) int {
	if strings.HasSuffix(strings.ToLower(imageRef), ".fz") {
		return 1
	}
	return 0
}

// baseName is the last path element of a reference, which may be a
// URL.
func baseName(ref string) string {
	if i := strings.IndexAny(ref, "?#"); i >= 0 && strings.Contains(ref, "://") {
		ref = ref[:i]
	}
	return path.Base(ref)
}
