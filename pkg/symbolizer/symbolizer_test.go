package symbolizer

import (
	"errors"
	"testing"

	"github.com/go-wasmsym/wasmsym/pkg/dwarf/abbrev"
	"github.com/go-wasmsym/wasmsym/pkg/dwarf/dwarfbuilder"
)

// buildUnit synthesizes one compilation unit and its line program:
// rows {0x10 line 5}, {0x20 line 7}, end at 0x30, and a function
// "foo" covering [0x10, 0x30).
func buildUnit(t *testing.T, stmtOff uint64) (infoSec, abbrevSec, lineSec []byte) {
	t.Helper()

	b := dwarfbuilder.New("main.rs", "/src")
	b.Attr(abbrev.AttrLanguage, uint8(langRust))
	b.Attr(abbrev.AttrStmtList, dwarfbuilder.SecOff(stmtOff))
	b.AddSubprogram("foo", 0x10, 0x30)
	infoSec, abbrevSec, _, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}

	lb := dwarfbuilder.NewLineBuilder()
	f := lb.AddFile("main.rs", 0)
	lb.AddSequence([]dwarfbuilder.LineRow{
		{Address: 0x10, File: f, Line: 5},
		{Address: 0x20, File: f, Line: 7},
	}, 0x30)
	lineSec = lb.Build()

	return infoSec, abbrevSec, lineSec
}

func TestResolveScenario(t *testing.T) {
	infoSec, abbrevSec, lineSec := buildUnit(t, 0)
	s, err := New(Sections{Info: infoSec, Abbrev: abbrevSec, Line: lineSec}, WithLogf(t.Logf))
	if err != nil {
		t.Fatal(err)
	}

	frame, ok := s.Resolve(0x10)
	if !ok {
		t.Fatal("0x10 did not resolve")
	}
	if frame.File != "/src/main.rs" || frame.Line != 5 || frame.Function != "foo" {
		t.Errorf("0x10 = %+v", frame)
	}

	// last-row-wins inside a contiguous run
	frame, ok = s.Resolve(0x25)
	if !ok || frame.Line != 7 || frame.Function != "foo" {
		t.Errorf("0x25 = %+v ok=%v", frame, ok)
	}

	// end_sequence bounds the run exclusively
	if frame, ok = s.Resolve(0x30); ok {
		t.Errorf("0x30 resolved to %+v", frame)
	}
	if frame, ok = s.Resolve(0x05); ok {
		t.Errorf("0x05 resolved to %+v", frame)
	}
}

func TestResolveExactHits(t *testing.T) {
	infoSec, abbrevSec, lineSec := buildUnit(t, 0)
	s, err := New(Sections{Info: infoSec, Abbrev: abbrevSec, Line: lineSec})
	if err != nil {
		t.Fatal(err)
	}

	for _, want := range []struct {
		addr uint64
		line int
	}{{0x10, 5}, {0x20, 7}} {
		frame, ok := s.Resolve(want.addr)
		if !ok || frame.Line != want.line {
			t.Errorf("%#x = %+v ok=%v, want line %d", want.addr, frame, ok, want.line)
		}
	}
}

func TestResolveGapBetweenSequences(t *testing.T) {
	lb := dwarfbuilder.NewLineBuilder()
	f := lb.AddFile("a.rs", 0)
	lb.AddSequence([]dwarfbuilder.LineRow{{Address: 0x10, File: f, Line: 1}}, 0x30)
	lb.AddSequence([]dwarfbuilder.LineRow{{Address: 0x50, File: f, Line: 9}}, 0x70)

	s, err := New(Sections{Line: lb.Build()}, WithLogf(t.Logf))
	if err != nil {
		t.Fatal(err)
	}

	if frame, ok := s.Resolve(0x40); ok {
		t.Errorf("gap address resolved to %+v", frame)
	}
	// A boundary shared by one sequence's end and the next one's start
	// belongs to the next sequence.
	lb2 := dwarfbuilder.NewLineBuilder()
	f = lb2.AddFile("a.rs", 0)
	lb2.AddSequence([]dwarfbuilder.LineRow{{Address: 0x10, File: f, Line: 1}}, 0x50)
	lb2.AddSequence([]dwarfbuilder.LineRow{{Address: 0x50, File: f, Line: 9}}, 0x70)
	s, err = New(Sections{Line: lb2.Build()})
	if err != nil {
		t.Fatal(err)
	}
	frame, ok := s.Resolve(0x50)
	if !ok || frame.Line != 9 {
		t.Errorf("boundary = %+v ok=%v, want line 9", frame, ok)
	}
}

func TestResolveInnermostFunction(t *testing.T) {
	b := dwarfbuilder.New("nest.rs", "/src")
	b.TagOpen(abbrev.TagSubprogram, "outer")
	b.Attr(abbrev.AttrLowPC, dwarfbuilder.Address(0))
	b.Attr(abbrev.AttrHighPC, dwarfbuilder.Address(100))
	b.AddSubprogram("inner", 20, 40)
	b.TagClose()
	infoSec, abbrevSec, _, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}

	s, err := New(Sections{Info: infoSec, Abbrev: abbrevSec})
	if err != nil {
		t.Fatal(err)
	}

	frame, ok := s.Resolve(30)
	if !ok || frame.Function != "inner" {
		t.Errorf("30 = %+v ok=%v, want inner", frame, ok)
	}
	frame, ok = s.Resolve(50)
	if !ok || frame.Function != "outer" {
		t.Errorf("50 = %+v ok=%v, want outer", frame, ok)
	}
	if _, ok = s.Resolve(100); ok {
		t.Error("100 resolved, ranges are exclusive at high_pc")
	}
}

func TestDemangleFallback(t *testing.T) {
	const raw = "not_a_known_mangling_scheme"
	if got := Demangle(raw); got != raw {
		t.Errorf("Demangle(%q) = %q", raw, got)
	}
}

func TestGracefulDegradation(t *testing.T) {
	info1, abbrevSec, line1 := buildUnit(t, 0)

	b := dwarfbuilder.New("broken.rs", "/src")
	b.Attr(abbrev.AttrLanguage, uint8(langRust))
	b.Attr(abbrev.AttrStmtList, dwarfbuilder.SecOff(uint64(len(line1))))
	b.AddSubprogram("broken_fn", 0x100, 0x140)
	info2, _, _, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}

	lb := dwarfbuilder.NewLineBuilder()
	f := lb.AddFile("broken.rs", 0)
	lb.AddSequence([]dwarfbuilder.LineRow{{Address: 0x100, File: f, Line: 3}}, 0x140)
	line2 := lb.Build()
	line2 = line2[:len(line2)-3] // cut the end_sequence opcode

	s, err := New(Sections{
		Info:   append(append([]byte{}, info1...), info2...),
		Abbrev: abbrevSec,
		Line:   append(append([]byte{}, line1...), line2...),
	}, WithLogf(t.Logf))
	if err != nil {
		t.Fatalf("build failed instead of degrading: %v", err)
	}

	// the intact unit still resolves
	frame, ok := s.Resolve(0x10)
	if !ok || frame.Line != 5 {
		t.Errorf("0x10 = %+v ok=%v", frame, ok)
	}
	// the truncated unit's rows are gone; its function range survives
	frame, _ = s.Resolve(0x110)
	if frame.File != "" {
		t.Errorf("0x110 has location %+v from a truncated program", frame)
	}
	if frame.Function != "broken_fn" {
		t.Errorf("0x110 function = %q", frame.Function)
	}
	if st := s.Stats(); st.Units != 2 {
		t.Errorf("stats = %+v", st)
	}
}

func TestNoDebugInfo(t *testing.T) {
	if _, err := New(Sections{}); !errors.Is(err, ErrNoDebugInfo) {
		t.Errorf("err = %v", err)
	}

	mod := dwarfbuilder.WrapWasm([]byte{0x0})
	if _, err := FromModule(mod); !errors.Is(err, ErrNoDebugInfo) {
		t.Errorf("FromModule err = %v", err)
	}

	s := NewEmpty()
	if _, ok := s.Resolve(0x10); ok {
		t.Error("empty symbolizer resolved an address")
	}
}

func TestFuncsWithPrefix(t *testing.T) {
	b := dwarfbuilder.New("p.rs", "/src")
	b.AddSubprogram("foo", 0x10, 0x20)
	b.AddSubprogram("foobar", 0x20, 0x30)
	b.AddSubprogram("baz", 0x30, 0x40)
	infoSec, abbrevSec, _, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	s, err := New(Sections{Info: infoSec, Abbrev: abbrevSec})
	if err != nil {
		t.Fatal(err)
	}

	got := s.FuncsWithPrefix("foo")
	if len(got) != 2 || got[0] != "foo" || got[1] != "foobar" {
		t.Errorf("FuncsWithPrefix(foo) = %v", got)
	}
	if got = s.FuncsWithPrefix(""); len(got) != 3 {
		t.Errorf("FuncsWithPrefix() = %v", got)
	}
	if got = s.FuncsWithPrefix("nope"); len(got) != 0 {
		t.Errorf("FuncsWithPrefix(nope) = %v", got)
	}
}

func TestFileLineToPC(t *testing.T) {
	infoSec, abbrevSec, lineSec := buildUnit(t, 0)
	s, err := New(Sections{Info: infoSec, Abbrev: abbrevSec, Line: lineSec})
	if err != nil {
		t.Fatal(err)
	}

	if pc := s.FileLineToPC("/src/main.rs", 7); pc != 0x20 {
		t.Errorf("pc = %#x, want 0x20", pc)
	}
	if pc := s.FileLineToPC("/src/main.rs", 99); pc != 0 {
		t.Errorf("pc = %#x, want 0", pc)
	}
}

func TestSubstitutePath(t *testing.T) {
	infoSec, abbrevSec, lineSec := buildUnit(t, 0)
	s, err := New(Sections{Info: infoSec, Abbrev: abbrevSec, Line: lineSec},
		WithSubstitutePath([][2]string{{"/src", "/home/me/checkout"}}))
	if err != nil {
		t.Fatal(err)
	}

	frame, ok := s.Resolve(0x10)
	if !ok || frame.File != "/home/me/checkout/main.rs" {
		t.Errorf("frame = %+v ok=%v", frame, ok)
	}
}
