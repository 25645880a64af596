package chunker

import (
	"path/filepath"
	"strings"

	"github.com/dshills/codelocal/internal/parser"
	"github.com/dshills/codelocal/pkg/types"
)

// DefaultMaxChars is the maximum chunk length used when none is configured
const DefaultMaxChars = 8192

// Chunker splits file content into bounded, order-preserving fragments.
// Go files are cut at declaration boundaries; everything else is cut at blank lines.
type Chunker struct {
	parser   *parser.Parser
	maxChars int
}

// New creates a Chunker. A non-positive maxChars selects DefaultMaxChars.
func New(maxChars int) *Chunker {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Chunker{
		parser:   parser.New(),
		maxChars: maxChars,
	}
}

// MaxChars returns the configured chunk length bound
func (c *Chunker) MaxChars() int {
	return c.maxChars
}

// Chunk returns the chunk texts for a file, in order
func (c *Chunker) Chunk(path string, content []byte) []string {
	fragments := c.Fragments(path, content)
	texts := make([]string, len(fragments))
	for i := range fragments {
		texts[i] = fragments[i].Text
	}
	return texts
}

// Fragments returns the chunk fragments for a file with their line ranges.
// Whitespace-only fragments are dropped and repeated texts are emitted once.
func (c *Chunker) Fragments(path string, content []byte) []types.Fragment {
	if len(content) == 0 {
		return nil
	}

	lines := strings.Split(string(content), "\n")

	var raw []types.Fragment
	if strings.EqualFold(filepath.Ext(path), ".go") {
		raw = c.goFragments(path, content, lines)
	}
	if len(raw) == 0 {
		raw = blockFragments(lines)
	}

	seen := make(map[string]struct{}, len(raw))
	out := make([]types.Fragment, 0, len(raw))
	for _, f := range raw {
		for _, w := range c.split(f) {
			if strings.TrimSpace(w.Text) == "" {
				continue
			}
			if _, dup := seen[w.Text]; dup {
				continue
			}
			seen[w.Text] = struct{}{}
			out = append(out, w)
		}
	}
	return out
}

// goFragments creates one fragment per top-level declaration, doc comment
// included. Text between declarations (package clause, imports) is dropped.
func (c *Chunker) goFragments(path string, content []byte, lines []string) []types.Fragment {
	result := c.parser.ParseSource(path, content)

	fragments := make([]types.Fragment, 0, len(result.Decls))
	for _, d := range result.Decls {
		if d.StartLine <= 0 || d.StartLine > len(lines) || d.EndLine < d.StartLine {
			continue
		}
		end := min(d.EndLine, len(lines))
		fragments = append(fragments, types.Fragment{
			Text:      strings.Join(lines[d.StartLine-1:end], "\n"),
			Type:      chunkType(d.Kind),
			StartLine: d.StartLine,
			EndLine:   end,
		})
	}
	return fragments
}

// blockFragments cuts text at runs of blank lines
func blockFragments(lines []string) []types.Fragment {
	var fragments []types.Fragment
	start := -1
	flush := func(end int) {
		if start < 0 {
			return
		}
		fragments = append(fragments, types.Fragment{
			Text:      strings.Join(lines[start:end], "\n"),
			Type:      types.ChunkBlock,
			StartLine: start + 1,
			EndLine:   end,
		})
		start = -1
	}

	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			flush(i)
			continue
		}
		if start < 0 {
			start = i
		}
	}
	flush(len(lines))
	return fragments
}

// split enforces maxChars, breaking on line boundaries and hard-cutting
// lines that are longer than the bound on their own
func (c *Chunker) split(f types.Fragment) []types.Fragment {
	if len(f.Text) <= c.maxChars {
		return []types.Fragment{f}
	}

	var out []types.Fragment
	var buf strings.Builder
	bufStart := f.StartLine

	emit := func(endLine int) {
		if buf.Len() == 0 {
			return
		}
		out = append(out, types.Fragment{
			Text:      buf.String(),
			Type:      f.Type,
			StartLine: bufStart,
			EndLine:   endLine,
		})
		buf.Reset()
	}

	for i, line := range strings.Split(f.Text, "\n") {
		lineNo := f.StartLine + i

		for len(line) > c.maxChars {
			emit(lineNo - 1)
			cut := cutPoint(line, c.maxChars)
			out = append(out, types.Fragment{
				Text:      line[:cut],
				Type:      f.Type,
				StartLine: lineNo,
				EndLine:   lineNo,
			})
			line = line[cut:]
			bufStart = lineNo
		}

		extra := len(line)
		if buf.Len() > 0 {
			extra++
		}
		if buf.Len()+extra > c.maxChars {
			emit(lineNo - 1)
		}
		if buf.Len() == 0 {
			bufStart = lineNo
		} else {
			buf.WriteByte('\n')
		}
		buf.WriteString(line)
	}
	emit(f.EndLine)
	return out
}

// cutPoint returns the largest index <= limit that does not split a UTF-8 sequence
func cutPoint(s string, limit int) int {
	cut := limit
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	if cut == 0 {
		return limit
	}
	return cut
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// chunkType maps declaration kinds to chunk types
func chunkType(kind types.DeclKind) types.ChunkType {
	switch kind {
	case types.DeclFunction:
		return types.ChunkFunction
	case types.DeclMethod:
		return types.ChunkMethod
	case types.DeclStruct, types.DeclInterface, types.DeclType:
		return types.ChunkTypeDecl
	default:
		return types.ChunkBlock
	}
}
