package locspec

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-wasmsym/wasmsym/pkg/symbolizer"
)

const maxFindLocationCandidates = 5

// Location is a resolved code location inside a wasm module.
type Location struct {
	PC       uint64
	File     string
	Line     int
	Function string
}

// LocationSpec is an interface that represents a parsed location spec string.
type LocationSpec interface {
	// Find returns all locations that match the location spec.
	Find(sym *symbolizer.Symbolizer, locStr string) ([]Location, error)
}

// NormalLocationSpec represents a basic location spec.
// This can be a file:line or a function name.
type NormalLocationSpec struct {
	Base       string
	LineOffset int
}

// RegexLocationSpec represents a regular expression
// location expression such as /^myfunc$/.
type RegexLocationSpec struct {
	FuncRegex string
}

// AddrLocationSpec represents an address when used
// as a location spec.
type AddrLocationSpec struct {
	AddrExpr string
}

// Parse will turn locStr into a parsed LocationSpec.
func Parse(locStr string) (LocationSpec, error) {
	rest := locStr

	malformed := func(reason string) error {
		return fmt.Errorf("malformed location %q at %d: %s", locStr, len(locStr)-len(rest), reason)
	}

	if len(rest) == 0 {
		return nil, malformed("empty string")
	}

	switch rest[0] {
	case '/':
		if rest[len(rest)-1] == '/' {
			rx, rest := readRegex(rest[1:])
			if len(rest) == 0 {
				return nil, malformed("non-terminated regular expression")
			}
			if len(rest) > 1 {
				return nil, malformed("no line offset can be specified for regular expression locations")
			}
			return &RegexLocationSpec{rx}, nil
		}
		return parseLocationSpecDefault(locStr, rest)

	case '*':
		return &AddrLocationSpec{AddrExpr: rest[1:]}, nil

	default:
		return parseLocationSpecDefault(locStr, rest)
	}
}

func parseLocationSpecDefault(locStr, rest string) (LocationSpec, error) {
	malformed := func(reason string) error {
		return fmt.Errorf("malformed location %q at %d: %s", locStr, len(locStr)-len(rest), reason)
	}

	v := strings.Split(rest, ":")
	if len(v) > 2 {
		// A path may contain ":", so split only on the last ":".
		v = []string{strings.Join(v[0:len(v)-1], ":"), v[len(v)-1]}
	}

	spec := &NormalLocationSpec{Base: v[0], LineOffset: -1}

	if len(v) < 2 {
		return spec, nil
	}

	rest = v[1]

	var err error
	spec.LineOffset, err = strconv.Atoi(rest)
	if err != nil || spec.LineOffset < 0 {
		return nil, malformed("line offset negative or not a number")
	}

	return spec, nil
}

func readRegex(in string) (rx string, rest string) {
	out := make([]rune, 0, len(in))
	escaped := false
	for i, ch := range in {
		if escaped {
			if ch == '/' {
				out = append(out, '/')
			} else {
				out = append(out, '\\', ch)
			}
			escaped = false
		} else {
			switch ch {
			case '\\':
				escaped = true
			case '/':
				return string(out), in[i:]
			default:
				out = append(out, ch)
			}
		}
	}
	return string(out), ""
}

// Find will search all functions in the module and filter them via the
// regex location spec. Only functions matching the regex will be returned.
func (loc *RegexLocationSpec) Find(sym *symbolizer.Symbolizer, locStr string) ([]Location, error) {
	rx, err := regexp.Compile(loc.FuncRegex)
	if err != nil {
		return nil, err
	}
	var r []Location
	for _, name := range sym.FuncsWithPrefix("") {
		if !rx.MatchString(name) {
			continue
		}
		if pc, ok := sym.FuncEntry(name); ok {
			r = append(r, locationAt(sym, pc))
		}
		if len(r) >= maxFindLocationCandidates {
			break
		}
	}
	if len(r) == 0 {
		return nil, fmt.Errorf("location %q not found", locStr)
	}
	return r, nil
}

// Find returns the location specified via the address location spec.
func (loc *AddrLocationSpec) Find(sym *symbolizer.Symbolizer, locStr string) ([]Location, error) {
	addr, err := strconv.ParseUint(loc.AddrExpr, 0, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed address %q: %v", loc.AddrExpr, err)
	}
	return []Location{locationAt(sym, addr)}, nil
}

// FileMatch is true if the path matches the location spec.
func (loc *NormalLocationSpec) FileMatch(path string) bool {
	return partialPathMatch(loc.Base, path)
}

func partialPathMatch(expr, path string) bool {
	if len(expr) < len(path)-1 {
		return strings.HasSuffix(path, expr) && (path[len(path)-len(expr)-1] == '/')
	}
	return expr == path
}

// AmbiguousLocationError is returned when the location spec
// should only return one location but returns multiple instead.
type AmbiguousLocationError struct {
	Location   string
	Candidates []string
}

func (ale AmbiguousLocationError) Error() string {
	return fmt.Sprintf("location %q ambiguous: %s", ale.Location, strings.Join(ale.Candidates, ", "))
}

// Find will return a list of locations that match the given location
// spec. This matches each location spec that does not already have its
// own spec implemented (such as regex, or addr).
func (loc *NormalLocationSpec) Find(sym *symbolizer.Symbolizer, locStr string) ([]Location, error) {
	limit := maxFindLocationCandidates
	var candidateFiles []string
	for _, sourceFile := range sym.Files() {
		if loc.FileMatch(sourceFile) {
			candidateFiles = append(candidateFiles, sourceFile)
			if len(candidateFiles) >= limit {
				break
			}
		}
	}

	var candidateFuncs []string
	if loc.LineOffset < 0 && len(candidateFiles) < limit {
		if _, ok := sym.FuncEntry(loc.Base); ok {
			candidateFuncs = append(candidateFuncs, loc.Base)
		}
	}

	matching := len(candidateFiles) + len(candidateFuncs)
	if matching == 0 {
		// The string could be an address the user forgot to prefix
		// with '*', try treating it as such.
		addrSpec := &AddrLocationSpec{AddrExpr: locStr}
		locs, err := addrSpec.Find(sym, locStr)
		if err != nil {
			return nil, fmt.Errorf("location %q not found", locStr)
		}
		return locs, nil
	}
	if matching > 1 {
		return nil, AmbiguousLocationError{Location: locStr, Candidates: append(candidateFiles, candidateFuncs...)}
	}

	if len(candidateFiles) == 1 {
		if loc.LineOffset < 0 {
			return nil, fmt.Errorf("location %q: expression must specify a line number for a file", locStr)
		}
		pc := sym.FileLineToPC(candidateFiles[0], loc.LineOffset)
		if pc == 0 {
			return nil, fmt.Errorf("could not find statement at %s:%d", candidateFiles[0], loc.LineOffset)
		}
		return []Location{locationAt(sym, pc)}, nil
	}

	pc, _ := sym.FuncEntry(candidateFuncs[0])
	return []Location{locationAt(sym, pc)}, nil
}

func locationAt(sym *symbolizer.Symbolizer, pc uint64) Location {
	l := Location{PC: pc}
	if frame, ok := sym.Resolve(pc); ok {
		l.File = frame.File
		l.Line = frame.Line
		l.Function = frame.Function
	}
	return l
}
