package symbolizer

import "sort"

type cachedFrame struct {
	frame Frame
	ok    bool
}

// Resolve maps an address inside the code section to a source
// position and function name. Either half of the frame may be absent
// on its own; ok is false only when both are. Resolve never fails:
// addresses outside any debug-carrying code are simply absent.
func (s *Symbolizer) Resolve(addr uint64) (Frame, bool) {
	if s.cache != nil {
		if v, hit := s.cache.Get(addr); hit {
			cf := v.(cachedFrame)
			return cf.frame, cf.ok
		}
	}

	var frame Frame
	var ok bool

	if file, ln, col, found := s.lookupRow(addr); found {
		frame.File, frame.Line, frame.Column = file, ln, col
		ok = true
	}
	if f, found := s.lookupFunc(addr); found {
		frame.Function = f.name
		if s.demangleNames {
			frame.Function = Demangle(f.name)
		}
		frame.Inlined = f.inlined
		ok = true
	}

	if s.cache != nil {
		s.cache.Add(addr, cachedFrame{frame, ok})
	}
	return frame, ok
}

// lookupRow finds the greatest line row at or before addr within its
// sequence. Addresses in the gap between two sequences, or at and
// past a sequence end, have no location.
func (s *Symbolizer) lookupRow(addr uint64) (string, int, int, bool) {
	i := sort.Search(len(s.rows), func(i int) bool {
		return s.rows[i].addr > addr
	})
	if i == 0 {
		return "", 0, 0, false
	}
	r := s.rows[i-1]
	if r.endSeq {
		return "", 0, 0, false
	}
	return r.file, r.line, r.col, true
}

// lookupFunc finds the innermost function range containing addr:
// among containing ranges the one with the smallest extent wins, so
// inlined subroutines shadow their callers.
func (s *Symbolizer) lookupFunc(addr uint64) (fn, bool) {
	i := sort.Search(len(s.funcs), func(i int) bool {
		return s.funcs[i].low > addr
	})

	var best fn
	found := false
	for i--; i >= 0; i-- {
		f := s.funcs[i]
		if addr-f.low >= s.maxExtent {
			// No range starting this far back can reach addr.
			break
		}
		if f.high <= addr {
			continue
		}
		if !found || f.high-f.low < best.high-best.low {
			best = f
			found = true
		}
	}
	return best, found
}
