package info

import (
	"github.com/go-wasmsym/wasmsym/pkg/dwarf/abbrev"
	"github.com/go-wasmsym/wasmsym/pkg/dwarf/util"
)

// harvest extracts the unit metadata and function list the resolver
// needs from a decoded tree. Missing attributes leave fields at their
// zero value; debug info is frequently partial.
func (p *parser) harvest(root *DIE, cu *unitCtx) *Unit {
	unit := &Unit{
		Offset:   cu.offset,
		Version:  cu.version,
		AddrSize: cu.addrSize,
		Root:     root,
	}

	if s, ok := root.Val(abbrev.AttrName).(string); ok {
		unit.Name = s
	}
	if s, ok := root.Val(abbrev.AttrCompDir).(string); ok {
		unit.CompDir = s
	}
	switch v := root.Val(abbrev.AttrLanguage).(type) {
	case uint64:
		unit.Language = v
	case int64:
		unit.Language = uint64(v)
	}
	if off, ok := root.Val(abbrev.AttrStmtList).(Offset); ok {
		unit.StmtList = uint64(off)
		unit.HasStmtList = true
	}
	if a, ok := root.Val(abbrev.AttrLowPC).(Address); ok {
		unit.LowPC = uint64(a)
	}

	// Walk the tree with an explicit stack; subprogram bodies nest
	// lexical blocks and inlined subroutines arbitrarily deep.
	stack := []*DIE{root}
	for len(stack) > 0 {
		die := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for i := len(die.Children) - 1; i >= 0; i-- {
			stack = append(stack, die.Children[i])
		}

		var inlined bool
		switch die.Tag {
		case abbrev.TagSubprogram:
		case abbrev.TagInlinedSubroutine:
			inlined = true
		default:
			continue
		}

		name := p.nameOf(die)
		for _, rng := range p.pcRanges(die, cu, unit.LowPC) {
			unit.Funcs = append(unit.Funcs, Func{
				Name:    name,
				LowPC:   rng[0],
				HighPC:  rng[1],
				Inlined: inlined,
			})
		}
	}

	return unit
}

const maxOriginDepth = 16

// nameOf returns the best name for a DIE: its own name attribute, its
// linkage name, or the name found by chasing abstract origin and
// specification references (inlined subroutines carry their identity
// on the abstract instance).
func (p *parser) nameOf(die *DIE) string {
	seen := 0
	for die != nil && seen < maxOriginDepth {
		seen++
		if s, ok := die.Val(abbrev.AttrName).(string); ok && s != "" {
			return s
		}
		if s, ok := die.Val(abbrev.AttrLinkageName).(string); ok && s != "" {
			return s
		}
		if s, ok := die.Val(abbrev.AttrMIPSLinkageName).(string); ok && s != "" {
			return s
		}

		next, ok := die.Val(abbrev.AttrAbstractOrigin).(Offset)
		if !ok {
			next, ok = die.Val(abbrev.AttrSpecification).(Offset)
		}
		if !ok {
			return ""
		}
		die = p.byOff[next]
	}
	return ""
}

// pcRanges returns the [low, high) address ranges covered by a DIE,
// from either low/high pc attributes or a .debug_ranges list.
func (p *parser) pcRanges(die *DIE, cu *unitCtx, unitBase uint64) [][2]uint64 {
	if low, ok := die.Val(abbrev.AttrLowPC).(Address); ok {
		var high uint64
		switch h := die.Val(abbrev.AttrHighPC).(type) {
		case Address:
			high = uint64(h)
		case uint64:
			high = uint64(low) + h
		case int64:
			high = uint64(low) + uint64(h)
		default:
			return nil
		}
		if high <= uint64(low) {
			return nil
		}
		return [][2]uint64{{uint64(low), high}}
	}

	off, ok := die.Val(abbrev.AttrRanges).(Offset)
	if !ok {
		return nil
	}
	return p.rangeList(uint64(off), cu, unitBase)
}

// rangeList decodes a .debug_ranges list: address pairs terminated by
// (0, 0), with base address selection entries whose first value has
// every bit set.
func (p *parser) rangeList(off uint64, cu *unitCtx, base uint64) [][2]uint64 {
	if len(p.sec.Ranges) == 0 {
		return nil
	}
	buf := util.NewBuf("ranges", p.sec.Ranges)
	buf.Seek(off)

	baseSelector := ^uint64(0)
	if cu.addrSize == 4 {
		baseSelector = 0xffffffff
	}

	var out [][2]uint64
	for {
		low := buf.Addr(cu.addrSize)
		high := buf.Addr(cu.addrSize)
		if buf.Err() != nil {
			p.logf("range list at %#x: %v", off, buf.Err())
			return out
		}
		if low == baseSelector {
			base = high
			continue
		}
		if low == 0 && high == 0 {
			return out
		}
		if high > low {
			out = append(out, [2]uint64{base + low, base + high})
		}
	}
}
