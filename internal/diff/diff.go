// internal/diff/diff.go
package diff

import (
	"bytes"
)

// maxLCSCells bounds the LCS matrix. Larger middles are reported as one
// replace block instead of a minimal edit script.
const maxLCSCells = 16 << 20

// Line represents a single line in a diff with its type and content
type Line struct {
	Type    LineType
	Content string
	OldNum  int // 1-based, 0 for additions
	NewNum  int // 1-based, 0 for deletions
}

// LineType indicates whether a line was added, removed, or is context
type LineType int

const (
	Context LineType = iota
	Addition
	Deletion
)

// DiffResult contains the complete diff information
type DiffResult struct {
	Hunks []Hunk
	Stats Stats
}

type Stats struct {
	Additions int `json:"additions"`
	Deletions int `json:"deletions"`
	Changes   int `json:"changes"`
}

// Hunk represents a continuous section of changes. Start lines are
// 1-based; for an empty side they name the line the hunk follows.
type Hunk struct {
	OldStart int
	OldLines int
	NewStart int
	NewLines int
	Lines    []Line
}

// Engine provides diffing capabilities
type Engine struct {
	contextLines int
}

// NewEngine creates a new diff engine with specified context lines
func NewEngine(contextLines int) *Engine {
	if contextLines < 0 {
		contextLines = 0
	}
	return &Engine{
		contextLines: contextLines,
	}
}

func (e *Engine) ContextLines() int {
	return e.contextLines
}

// Diff generates a line-by-line diff between two contents using the
// engine's context width.
func (e *Engine) Diff(oldContent, newContent []byte) *DiffResult {
	return e.diff(oldContent, newContent, e.contextLines)
}

// DiffNoContext is Diff with zero context lines.
func (e *Engine) DiffNoContext(oldContent, newContent []byte) *DiffResult {
	return e.diff(oldContent, newContent, 0)
}

func (e *Engine) diff(oldContent, newContent []byte, context int) *DiffResult {
	oldLines := splitLines(oldContent)
	newLines := splitLines(newContent)

	script := editScript(oldLines, newLines)

	result := &DiffResult{Hunks: groupHunks(script, context)}
	for _, l := range script {
		switch l.Type {
		case Addition:
			result.Stats.Additions++
		case Deletion:
			result.Stats.Deletions++
		}
	}
	result.Stats.Changes = result.Stats.Additions + result.Stats.Deletions
	return result
}

// splitLines splits on '\n'. A trailing newline does not start a line,
// and empty content has no lines.
func splitLines(content []byte) [][]byte {
	if len(content) == 0 {
		return nil
	}
	return bytes.Split(bytes.TrimSuffix(content, []byte{'\n'}), []byte{'\n'})
}

// editScript returns the full line sequence turning oldLines into
// newLines: common lines as Context, the rest as Deletion/Addition, with
// deletions ahead of additions inside each change block.
func editScript(oldLines, newLines [][]byte) []Line {
	// Common prefix and suffix never need the matrix.
	prefix := 0
	for prefix < len(oldLines) && prefix < len(newLines) && bytes.Equal(oldLines[prefix], newLines[prefix]) {
		prefix++
	}
	suffix := 0
	for suffix < len(oldLines)-prefix && suffix < len(newLines)-prefix &&
		bytes.Equal(oldLines[len(oldLines)-1-suffix], newLines[len(newLines)-1-suffix]) {
		suffix++
	}

	script := make([]Line, 0, len(oldLines)+len(newLines))
	for k := 0; k < prefix; k++ {
		script = append(script, Line{Type: Context, Content: string(oldLines[k]), OldNum: k + 1, NewNum: k + 1})
	}

	oldMid := oldLines[prefix : len(oldLines)-suffix]
	newMid := newLines[prefix : len(newLines)-suffix]
	script = append(script, middleScript(oldMid, newMid, prefix)...)

	for k := suffix; k > 0; k-- {
		i, j := len(oldLines)-k, len(newLines)-k
		script = append(script, Line{Type: Context, Content: string(oldLines[i]), OldNum: i + 1, NewNum: j + 1})
	}
	return script
}

func middleScript(oldLines, newLines [][]byte, offset int) []Line {
	n, m := len(oldLines), len(newLines)
	var script []Line

	if n*m > maxLCSCells {
		for i := 0; i < n; i++ {
			script = append(script, Line{Type: Deletion, Content: string(oldLines[i]), OldNum: offset + i + 1})
		}
		for j := 0; j < m; j++ {
			script = append(script, Line{Type: Addition, Content: string(newLines[j]), NewNum: offset + j + 1})
		}
		return script
	}

	lcs := computeLCS(oldLines, newLines)

	i, j := 0, 0
	for i < n || j < m {
		switch {
		case i < n && j < m && bytes.Equal(oldLines[i], newLines[j]):
			script = append(script, Line{Type: Context, Content: string(oldLines[i]), OldNum: offset + i + 1, NewNum: offset + j + 1})
			i++
			j++
		case i < n && (j == m || lcs[i+1][j] >= lcs[i][j+1]):
			script = append(script, Line{Type: Deletion, Content: string(oldLines[i]), OldNum: offset + i + 1})
			i++
		default:
			script = append(script, Line{Type: Addition, Content: string(newLines[j]), NewNum: offset + j + 1})
			j++
		}
	}
	return script
}

// computeLCS returns the suffix LCS matrix: lcs[i][j] is the length of
// the longest common subsequence of oldLines[i:] and newLines[j:].
func computeLCS(oldLines, newLines [][]byte) [][]int {
	matrix := make([][]int, len(oldLines)+1)
	for i := range matrix {
		matrix[i] = make([]int, len(newLines)+1)
	}

	for i := len(oldLines) - 1; i >= 0; i-- {
		for j := len(newLines) - 1; j >= 0; j-- {
			if bytes.Equal(oldLines[i], newLines[j]) {
				matrix[i][j] = matrix[i+1][j+1] + 1
			} else {
				matrix[i][j] = max(matrix[i+1][j], matrix[i][j+1])
			}
		}
	}

	return matrix
}

// groupHunks cuts the edit script into hunks, keeping up to context
// unchanged lines around each change. Changes separated by no more than
// twice the context share a hunk.
func groupHunks(script []Line, context int) []Hunk {
	var hunks []Hunk

	// oldPos/newPos[k] count the old/new lines before script[k].
	oldPos := make([]int, len(script)+1)
	newPos := make([]int, len(script)+1)
	for k, l := range script {
		oldPos[k+1], newPos[k+1] = oldPos[k], newPos[k]
		if l.Type != Addition {
			oldPos[k+1]++
		}
		if l.Type != Deletion {
			newPos[k+1]++
		}
	}

	k := 0
	for k < len(script) {
		if script[k].Type == Context {
			k++
			continue
		}

		start := max(0, k-context)
		end := k
		for end < len(script) {
			if script[end].Type != Context {
				end++
				continue
			}
			run := end
			for run < len(script) && script[run].Type == Context {
				run++
			}
			if run == len(script) || run-end > 2*context {
				end = min(run, end+context)
				break
			}
			end = run
		}

		h := Hunk{Lines: append([]Line(nil), script[start:end]...)}
		h.OldLines = oldPos[end] - oldPos[start]
		h.NewLines = newPos[end] - newPos[start]
		h.OldStart = oldPos[start]
		if h.OldLines > 0 {
			h.OldStart++
		}
		h.NewStart = newPos[start]
		if h.NewLines > 0 {
			h.NewStart++
		}
		hunks = append(hunks, h)
		k = end
	}

	return hunks
}

// IsBinary reports whether content looks binary (contains a NUL byte in
// its first 8000 bytes, as git does).
func IsBinary(content []byte) bool {
	if len(content) > 8000 {
		content = content[:8000]
	}
	return bytes.IndexByte(content, 0) >= 0
}
