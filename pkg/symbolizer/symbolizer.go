// Package symbolizer resolves code addresses inside a WebAssembly
// module to source positions and function names, using the DWARF
// debug information carried in the module's custom sections.
package symbolizer

import (
	"errors"
	"sort"

	lru "github.com/hashicorp/golang-lru"

	"github.com/derekparker/trie"
	"github.com/go-wasmsym/wasmsym/pkg/dwarf/info"
	"github.com/go-wasmsym/wasmsym/pkg/dwarf/line"
	"github.com/go-wasmsym/wasmsym/pkg/wasm"
)

// ErrNoDebugInfo is returned by New when the module carries neither a
// usable .debug_info nor a usable .debug_line section.
var ErrNoDebugInfo = errors.New("no debug information available")

// Sections are the DWARF sections extracted from a module. Absent
// sections are nil.
type Sections struct {
	Info       []byte
	Abbrev     []byte
	Line       []byte
	Str        []byte
	StrOffsets []byte
	LineStr    []byte
	Ranges     []byte
	Addr       []byte
}

// SectionsFromMap picks the known DWARF sections out of a name→bytes
// map, as returned by wasm.Module.DebugSections.
func SectionsFromMap(m map[string][]byte) Sections {
	return Sections{
		Info:       m[".debug_info"],
		Abbrev:     m[".debug_abbrev"],
		Line:       m[".debug_line"],
		Str:        m[".debug_str"],
		StrOffsets: m[".debug_str_offsets"],
		LineStr:    m[".debug_line_str"],
		Ranges:     m[".debug_ranges"],
		Addr:       m[".debug_addr"],
	}
}

// Frame is one resolved stack frame. Zero-valued halves mean that half
// could not be resolved.
type Frame struct {
	File     string
	Line     int
	Column   int
	Function string
	Inlined  bool
}

// Stats describes what the build pass found.
type Stats struct {
	Units    int
	BadUnits int
	Rows     int
	Funcs    int
}

type row struct {
	addr   uint64
	file   string
	line   int
	col    int
	endSeq bool
}

type fn struct {
	name    string
	low     uint64
	high    uint64
	inlined bool
}

// unitLines pairs a compilation unit with its materialized line
// program output.
type unitLines struct {
	unit *info.Unit
	dbl  *line.DebugLineInfo
	seqs []line.Sequence
}

// Symbolizer answers address→source queries. Immutable once built;
// safe for concurrent use.
type Symbolizer struct {
	rows  []row
	funcs []fn
	// maxExtent is the largest function range length, bounding how far
	// back of a query address a containing range can start.
	maxExtent uint64

	units []unitLines
	stats Stats

	fnNames *trie.Trie
	cache   *lru.Cache

	demangleNames bool
	codeOffset    uint64
	subRules      [][2]string
	logf          func(string, ...interface{})
}

// Option configures a Symbolizer.
type Option func(*Symbolizer)

// WithLogf routes recoverable decode diagnostics to logfn.
func WithLogf(logfn func(string, ...interface{})) Option {
	return func(s *Symbolizer) { s.logf = logfn }
}

// WithCacheSize sets the resolve cache capacity. Zero disables the
// cache.
func WithCacheSize(n int) Option {
	return func(s *Symbolizer) {
		s.cache = nil
		if n > 0 {
			s.cache, _ = lru.New(n)
		}
	}
}

// WithDemangle controls whether resolved function names are demangled.
func WithDemangle(on bool) Option {
	return func(s *Symbolizer) { s.demangleNames = on }
}

// WithCodeOffset sets the file offset of the code section payload.
// Exported addresses are reported relative to the module file, which
// is how wasm runtimes report trap addresses.
func WithCodeOffset(off uint64) Option {
	return func(s *Symbolizer) { s.codeOffset = off }
}

// WithSubstitutePath rewrites reported file paths: a path starting
// with rule[0] has that prefix replaced by rule[1]. Rules apply in
// order, first match wins.
func WithSubstitutePath(rules [][2]string) Option {
	return func(s *Symbolizer) { s.subRules = rules }
}

const defaultCacheSize = 256

// NewEmpty returns a symbolizer with no debug information; every
// query is absent. Hosts use it to keep trap formatting total when a
// module has no symbols.
func NewEmpty() *Symbolizer {
	s := &Symbolizer{logf: func(string, ...interface{}) {}}
	s.fnNames = trie.New()
	return s
}

// FromModule parses a wasm binary and builds a symbolizer from its
// debug sections, with the code section offset wired in.
func FromModule(data []byte, opts ...Option) (*Symbolizer, error) {
	var logf func(string, ...interface{})
	probe := &Symbolizer{}
	for _, o := range opts {
		o(probe)
	}
	logf = probe.logf

	mod, err := wasm.ParseModule(data, logf)
	if err != nil {
		return nil, err
	}
	opts = append(opts, WithCodeOffset(mod.CodeSectionOffset))
	return New(SectionsFromMap(mod.DebugSections()), opts...)
}

// New builds a symbolizer from raw DWARF sections. It fails only when
// neither .debug_info nor .debug_line yields anything usable;
// corruption local to a unit degrades that unit and is counted in
// Stats.
func New(sec Sections, opts ...Option) (*Symbolizer, error) {
	s := &Symbolizer{
		demangleNames: true,
		logf:          func(string, ...interface{}) {},
	}
	s.cache, _ = lru.New(defaultCacheSize)
	for _, o := range opts {
		o(s)
	}
	s.fnNames = trie.New()

	if len(sec.Info) == 0 && len(sec.Line) == 0 {
		return nil, ErrNoDebugInfo
	}

	data, err := info.Parse(info.Sections{
		Info:       sec.Info,
		Abbrev:     sec.Abbrev,
		Str:        sec.Str,
		StrOffsets: sec.StrOffsets,
		LineStr:    sec.LineStr,
		Ranges:     sec.Ranges,
		Addr:       sec.Addr,
	}, s.logf)
	if err != nil {
		if len(sec.Line) == 0 {
			return nil, err
		}
		s.logf("debug info unusable, falling back to bare line programs: %v", err)
		data = &info.Data{}
	}
	s.stats.Units = data.Stats.Units
	s.stats.BadUnits = data.Stats.BadUnits

	for _, u := range data.Units {
		ul := unitLines{unit: u}
		if u.HasStmtList && len(sec.Line) > 0 {
			ul.dbl = line.ParseAt(sec.Line, u.StmtList, u.CompDir, sec.LineStr, s.logf, false, u.AddrSize)
			ul.seqs = ul.dbl.Sequences()
		}
		s.units = append(s.units, ul)

		for _, f := range u.Funcs {
			s.funcs = append(s.funcs, fn{name: f.Name, low: f.LowPC, high: f.HighPC, inlined: f.Inlined})
		}
	}

	if len(s.units) == 0 && len(sec.Line) > 0 {
		// No compile units reference the line section; run every
		// program it contains.
		for _, dbl := range line.ParseAll(sec.Line, sec.LineStr, s.logf, false, 8) {
			s.units = append(s.units, unitLines{dbl: dbl, seqs: dbl.Sequences()})
		}
	}

	s.buildIndex()

	if len(s.rows) == 0 && len(s.funcs) == 0 {
		return nil, ErrNoDebugInfo
	}
	return s, nil
}

// buildIndex merges every unit's sequences and function ranges into
// the two sorted lookup tables.
func (s *Symbolizer) buildIndex() {
	for _, ul := range s.units {
		for _, seq := range ul.seqs {
			for _, r := range seq.Rows {
				s.rows = append(s.rows, row{
					addr: r.Address,
					file: s.substitutePath(r.File),
					line: r.Line,
					col:  r.Column,
				})
			}
			s.rows = append(s.rows, row{addr: seq.EndAddr, endSeq: true})
		}
	}

	// End-sequence rows sort before real rows at equal addresses: a
	// query at a boundary shared by the end of one sequence and the
	// start of the next must see the next sequence's row last.
	sort.SliceStable(s.rows, func(i, j int) bool {
		if s.rows[i].addr != s.rows[j].addr {
			return s.rows[i].addr < s.rows[j].addr
		}
		return s.rows[i].endSeq && !s.rows[j].endSeq
	})

	sort.SliceStable(s.funcs, func(i, j int) bool {
		return s.funcs[i].low < s.funcs[j].low
	})
	for i := range s.funcs {
		if ext := s.funcs[i].high - s.funcs[i].low; ext > s.maxExtent {
			s.maxExtent = ext
		}
		name := s.funcs[i].name
		if s.demangleNames {
			name = Demangle(name)
		}
		if name != "" {
			s.fnNames.Add(name, s.funcs[i])
		}
	}

	s.stats.Rows = len(s.rows)
	s.stats.Funcs = len(s.funcs)
}

func (s *Symbolizer) substitutePath(p string) string {
	for _, rule := range s.subRules {
		if len(p) >= len(rule[0]) && p[:len(rule[0])] == rule[0] {
			return rule[1] + p[len(rule[0]):]
		}
	}
	return p
}

// Stats returns build statistics.
func (s *Symbolizer) Stats() Stats { return s.stats }

// FuncsWithPrefix returns the sorted names of all known functions
// starting with prefix; an empty prefix lists every function.
func (s *Symbolizer) FuncsWithPrefix(prefix string) []string {
	var names []string
	if prefix == "" {
		names = s.fnNames.Keys()
	} else {
		names = s.fnNames.PrefixSearch(prefix)
	}
	sort.Strings(names)
	return names
}

// FuncEntry returns the lowest code address covered by the named
// function.
func (s *Symbolizer) FuncEntry(name string) (uint64, bool) {
	node, ok := s.fnNames.Find(name)
	if !ok {
		return 0, false
	}
	f, ok := node.Meta().(fn)
	if !ok {
		return 0, false
	}
	return f.low, true
}

// Files returns the sorted unique source file names appearing in the
// module's line tables.
func (s *Symbolizer) Files() []string {
	seen := make(map[string]struct{})
	for _, r := range s.rows {
		if r.endSeq || r.file == "" {
			continue
		}
		seen[r.file] = struct{}{}
	}
	files := make([]string, 0, len(seen))
	for f := range seen {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// FileLineToPC returns the first address associated with file:line, or
// 0 if the position has no code.
func (s *Symbolizer) FileLineToPC(file string, lineno int) uint64 {
	for _, ul := range s.units {
		if pc := ul.dbl.LineToPC(file, lineno); pc != 0 {
			return pc
		}
	}
	return 0
}
