package diff

import (
	"bytes"
	"fmt"
)

// Format returns the hunks of r in unified notation.
func (r *DiffResult) Format() string {
	var buf bytes.Buffer
	r.writeHunks(&buf)
	return buf.String()
}

func (r *DiffResult) writeHunks(buf *bytes.Buffer) {
	for _, hunk := range r.Hunks {
		fmt.Fprintf(buf, "@@ -%d,%d +%d,%d @@\n",
			hunk.OldStart, hunk.OldLines,
			hunk.NewStart, hunk.NewLines)

		for _, line := range hunk.Lines {
			switch line.Type {
			case Addition:
				buf.WriteByte('+')
			case Deletion:
				buf.WriteByte('-')
			case Context:
				buf.WriteByte(' ')
			}
			buf.WriteString(line.Content)
			buf.WriteByte('\n')
		}
	}
}

// Unified renders files as one unified diff.
func Unified(files []FileDiff) string {
	var buf bytes.Buffer

	for _, fd := range files {
		oldName, newName := "a/"+fd.Path, "b/"+fd.Path
		if fd.OldPath != "" {
			oldName = "a/" + fd.OldPath
		}
		switch fd.Status {
		case StatusAdded:
			oldName = "/dev/null"
		case StatusRemoved:
			newName = "/dev/null"
		case StatusRenamed:
			fmt.Fprintf(&buf, "rename from %s\nrename to %s\n", fd.OldPath, fd.Path)
		}

		switch {
		case fd.Binary:
			fmt.Fprintf(&buf, "Binary files %s and %s differ\n", oldName, newName)
		case fd.Unrecorded:
			fmt.Fprintf(&buf, "--- %s\n+++ %s\n(content not recorded)\n", oldName, newName)
		case fd.Result != nil && len(fd.Result.Hunks) > 0:
			fmt.Fprintf(&buf, "--- %s\n+++ %s\n", oldName, newName)
			fd.Result.writeHunks(&buf)
		case fd.Status != StatusRenamed:
			// Empty file added or removed.
			fmt.Fprintf(&buf, "--- %s\n+++ %s\n", oldName, newName)
		}
	}

	return buf.String()
}

// StructuredHunk is a context-free hunk.
type StructuredHunk struct {
	OldStart int      `json:"old_start"`
	OldLines int      `json:"old_lines"`
	NewStart int      `json:"new_start"`
	NewLines int      `json:"new_lines"`
	Removed  []string `json:"removed"`
	Added    []string `json:"added"`
}

// StructuredFile is the structured rendering of one FileDiff.
type StructuredFile struct {
	Path       string           `json:"path"`
	OldPath    string           `json:"old_path,omitempty"`
	Status     Status           `json:"status"`
	OldHash    string           `json:"old_hash,omitempty"`
	NewHash    string           `json:"new_hash,omitempty"`
	Binary     bool             `json:"binary,omitempty"`
	Unrecorded bool             `json:"unrecorded,omitempty"`
	Stats      *Stats           `json:"stats,omitempty"`
	Hunks      []StructuredHunk `json:"hunks"`
}

// Structured renders files as per-path hunk lists.
func Structured(files []FileDiff) []StructuredFile {
	out := make([]StructuredFile, 0, len(files))
	for _, fd := range files {
		sf := StructuredFile{
			Path:       fd.Path,
			OldPath:    fd.OldPath,
			Status:     fd.Status,
			OldHash:    fd.OldHash,
			NewHash:    fd.NewHash,
			Binary:     fd.Binary,
			Unrecorded: fd.Unrecorded,
			Hunks:      []StructuredHunk{},
		}
		if fd.Structured != nil {
			stats := fd.Structured.Stats
			sf.Stats = &stats
			for _, h := range fd.Structured.Hunks {
				sh := StructuredHunk{
					OldStart: h.OldStart,
					OldLines: h.OldLines,
					NewStart: h.NewStart,
					NewLines: h.NewLines,
					Removed:  []string{},
					Added:    []string{},
				}
				for _, l := range h.Lines {
					switch l.Type {
					case Deletion:
						sh.Removed = append(sh.Removed, l.Content)
					case Addition:
						sh.Added = append(sh.Added, l.Content)
					case Context:
					}
				}
				sf.Hunks = append(sf.Hunks, sh)
			}
		}
		out = append(out, sf)
	}
	return out
}
