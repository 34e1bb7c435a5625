package symbolizer

import "sort"

// DW_LANG_Rust
const langRust = 0x1c

// SourceFile is one source file's locations in the source-map export.
// Each entry of Lines is [module file offset, line, column], lines
// and columns zero-based.
type SourceFile struct {
	File     string      `json:"file"`
	Language uint64      `json:"language"`
	Lines    [][3]uint64 `json:"lines"`
}

// SourceUnit is one compilation unit in the source-map export.
type SourceUnit struct {
	Name      string       `json:"name"`
	Directory string       `json:"directory"`
	Files     []SourceFile `json:"files"`
}

// SourceResult is the top-level source-map export document.
type SourceResult struct {
	Units []SourceUnit `json:"units,omitempty"`
	Error string       `json:"error,omitempty"`
}

// Sources exports every unit's line table as a source map: units,
// their files, and per file the [address, line, column] triples,
// sorted and deduplicated by address. Addresses include the code
// section offset, matching how runtimes report trap locations.
func (s *Symbolizer) Sources() SourceResult {
	var res SourceResult

	for _, ul := range s.units {
		var unit SourceUnit
		var lang uint64
		if ul.unit != nil {
			unit.Name = ul.unit.Name
			unit.Directory = ul.unit.CompDir
			lang = ul.unit.Language
		}

		byFile := make(map[string]int)
		for _, seq := range ul.seqs {
			for _, r := range seq.Rows {
				if r.Line <= 0 {
					// couldn't attribute the instruction to any line
					continue
				}

				col := uint64(0)
				if r.Column > 0 {
					// DWARF columns are 1-based, source maps 0-based,
					// except rustc already emits 0-based columns
					// (rust-lang/rust#65437).
					col = uint64(r.Column) - 1
					if lang == langRust {
						col++
					}
				}

				i, ok := byFile[r.File]
				if !ok {
					i = len(unit.Files)
					byFile[r.File] = i
					unit.Files = append(unit.Files, SourceFile{File: r.File, Language: lang})
				}
				unit.Files[i].Lines = append(unit.Files[i].Lines, [3]uint64{
					s.codeOffset + r.Address,
					uint64(r.Line) - 1,
					col,
				})
			}
		}

		for i := range unit.Files {
			lines := unit.Files[i].Lines
			sort.SliceStable(lines, func(a, b int) bool { return lines[a][0] < lines[b][0] })
			out := lines[:0]
			for _, loc := range lines {
				if len(out) > 0 && out[len(out)-1][0] == loc[0] {
					continue
				}
				out = append(out, loc)
			}
			unit.Files[i].Lines = out
		}

		if len(unit.Files) > 0 {
			res.Units = append(res.Units, unit)
		}
	}

	return res
}
