// Package chunk splits long model output into platform-sized pieces while
// keeping markdown code fences balanced across the split.
package chunk

import "strings"

// Split breaks text into pieces no longer than maxLen, preferring to break
// at a paragraph boundary, then a line boundary, then a space, and falling
// back to a hard cut. A second pass then repairs any ``` code fence that a
// pass-1 cut opened or closed mid-block, so every returned chunk contains an
// even number of fence markers.
func Split(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}

	raw := splitNaive(text, maxLen)
	return repairFences(raw)
}

// splitNaive is pass 1: size control only, no fence awareness. It always
// makes progress — findSplitPoint never returns 0 on a non-empty search
// area, so the buffer strictly shrinks on every iteration.
func splitNaive(text string, maxLen int) []string {
	var chunks []string
	buf := text

	for len(buf) > 0 {
		if len(buf) <= maxLen {
			chunks = append(chunks, buf)
			break
		}

		searchArea := buf[:maxLen]
		splitAt := findSplitPoint(searchArea)

		chunks = append(chunks, buf[:splitAt])
		buf = strings.TrimLeft(buf[splitAt:], "\n")
	}

	return chunks
}

// findSplitPoint searches backwards through text for the best place to cut,
// in priority order: paragraph break, line break, space, hard cut at the
// end. A candidate at position 0 is rejected at every level so a chunk is
// never emitted empty.
func findSplitPoint(text string) int {
	if pos := strings.LastIndex(text, "\n\n"); pos > 0 {
		return pos + 1
	}
	if pos := strings.LastIndex(text, "\n"); pos > 0 {
		return pos + 1
	}
	if pos := strings.LastIndex(text, " "); pos > 0 {
		return pos + 1
	}
	return len(text)
}

// repairFences is pass 2: walk the raw chunks carrying in_code_block state
// across chunk boundaries, reopening a fence at the start of a chunk that
// begins inside a code block and closing one at the end of a chunk that
// ends inside a code block.
func repairFences(raw []string) []string {
	chunks := make([]string, 0, len(raw))
	inCodeBlock := false
	codeFence := ""

	for _, r := range raw {
		var b strings.Builder

		if inCodeBlock {
			b.WriteString(codeFence)
			b.WriteByte('\n')
		}

		b.WriteString(r)

		for _, line := range strings.Split(r, "\n") {
			trimmed := strings.TrimSpace(line)
			if strings.HasPrefix(trimmed, "```") {
				if inCodeBlock {
					inCodeBlock = false
					codeFence = ""
				} else {
					inCodeBlock = true
					codeFence = trimmed
				}
			}
		}

		if inCodeBlock {
			b.WriteString("\n```")
		}

		chunks = append(chunks, b.String())
	}

	return chunks
}
