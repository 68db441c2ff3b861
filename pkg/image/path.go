package image

import (
	"path/filepath"
	"strings"
)

// DefaultSuffix is inserted before the extension of derived output paths.
const DefaultSuffix = "-decoded"

// OutputPath returns where the patched module is written: input itself
// when inPlace is set, otherwise input with suffix inserted before its
// extension ("app.cili" becomes "app-decoded.cili").
func OutputPath(input string, inPlace bool, suffix string) string {
	if inPlace {
		return input
	}
	if suffix == "" {
		suffix = DefaultSuffix
	}
	dir, file := filepath.Split(input)
	ext := filepath.Ext(file)
	if ext == file {
		// dotfile such as ".module": no extension to preserve
		ext = ""
	}
	return dir + strings.TrimSuffix(file, ext) + suffix + ext
}
