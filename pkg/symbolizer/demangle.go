package symbolizer

import "github.com/ianlancetaylor/demangle"

// Demangle decodes a producer-mangled symbol name (Rust legacy and v0
// schemes, Itanium C++) into readable form. Names in no recognized
// scheme come back unchanged; demangling never fails resolution.
func Demangle(name string) string {
	out, err := demangle.ToString(name)
	if err != nil {
		return name
	}
	return out
}
