// Package chunker splits raw document text into a deterministic section
// tree and a chunk sequence, grounded on the teacher's sentence-boundary
// splitting idiom and extended with heading detection.
package chunker

import (
	"regexp"
	"strings"
	"unicode"
)

const (
	// MinChunkSize and MaxChunkSize bound the target chunk size in characters.
	MinChunkSize = 700
	MaxChunkSize = 1200
)

var (
	hashHeaderRe  = regexp.MustCompile(`^(#{1,6})\s+(\S.*)$`)
	underlineRe   = regexp.MustCompile(`^[=\-]{3,}\s*$`)
)

// Section is one node in the document's detected heading tree.
type Section struct {
	Path            string
	Depth           int
	Title           string
	ChunkIndexStart int
	ChunkIndexEnd   int
}

// Chunk is one fixed-size slice of a leaf section's text.
type Chunk struct {
	Index       int
	Text        string
	SectionPath string
}

// Parse splits text into a section list and chunk list. Output is
// deterministic for identical input and restartable: re-running on the
// same text yields the same section paths and chunk indices.
func Parse(text string) ([]Section, []Chunk) {
	lines := strings.Split(text, "\n")
	blocks := detectHeadings(lines)

	var sections []Section
	var chunks []Chunk
	chunkIdx := 0

	firstSeenAtDepth1 := 0
	pathStack := []string{}

	for _, b := range blocks {
		path := sectionPath(&pathStack, &firstSeenAtDepth1, b)
		sectionChunks := chunkText(b.body, MinChunkSize, MaxChunkSize)
		startIdx := chunkIdx
		for _, text := range sectionChunks {
			chunks = append(chunks, Chunk{Index: chunkIdx, Text: text, SectionPath: path})
			chunkIdx++
		}
		endIdx := chunkIdx - 1
		if len(sectionChunks) == 0 {
			endIdx = startIdx - 1
		}
		sections = append(sections, Section{
			Path:            path,
			Depth:           b.depth,
			Title:           b.title,
			ChunkIndexStart: startIdx,
			ChunkIndexEnd:   endIdx,
		})
	}
	return sections, chunks
}

type headingBlock struct {
	depth int
	title string
	body  string
}

// detectHeadings walks lines and groups text under detected headings. A
// line is a heading if it matches one of three forms: a leading run of
// 1-6 '#' plus a space plus non-empty text; a non-blank line immediately
// followed by a line of 3+ '=' or '-'; or a short (<=80 char) title-cased
// line followed by a blank line. Depth nests by '#' count when present,
// else by first-seen order at depth 1.
func detectHeadings(lines []string) []headingBlock {
	var blocks []headingBlock
	var bodyBuf strings.Builder
	curTitle := ""
	curDepth := 0
	flush := func() {
		blocks = append(blocks, headingBlock{depth: curDepth, title: curTitle, body: strings.TrimSpace(bodyBuf.String())})
		bodyBuf.Reset()
	}
	hasHeading := false

	i := 0
	for i < len(lines) {
		line := lines[i]

		if m := hashHeaderRe.FindStringSubmatch(line); m != nil {
			if hasHeading || bodyBuf.Len() > 0 {
				flush()
			}
			hasHeading = true
			curDepth = len(m[1])
			curTitle = strings.TrimSpace(m[2])
			i++
			continue
		}

		if i+1 < len(lines) && strings.TrimSpace(line) != "" && underlineRe.MatchString(lines[i+1]) {
			if hasHeading || bodyBuf.Len() > 0 {
				flush()
			}
			hasHeading = true
			curDepth = 1
			curTitle = strings.TrimSpace(line)
			i += 2
			continue
		}

		if isTitleCaseHeading(lines, i) {
			if hasHeading || bodyBuf.Len() > 0 {
				flush()
			}
			hasHeading = true
			curDepth = 1
			curTitle = strings.TrimSpace(line)
			i += 2
			continue
		}

		bodyBuf.WriteString(line)
		bodyBuf.WriteRune('\n')
		i++
	}
	if hasHeading || bodyBuf.Len() > 0 {
		flush()
	}
	if len(blocks) == 0 {
		blocks = append(blocks, headingBlock{depth: 1, title: "", body: strings.TrimSpace(bodyBuf.String())})
	}
	return blocks
}

func isTitleCaseHeading(lines []string, i int) bool {
	line := strings.TrimSpace(lines[i])
	if line == "" || len(line) > 80 {
		return false
	}
	if i+1 >= len(lines) || strings.TrimSpace(lines[i+1]) != "" {
		return false
	}
	words := strings.Fields(line)
	if len(words) == 0 {
		return false
	}
	for _, w := range words {
		r := []rune(w)
		if !unicode.IsUpper(r[0]) && unicode.IsLetter(r[0]) {
			return false
		}
	}
	return true
}

func sectionPath(stack *[]string, seenCounter *int, b headingBlock) string {
	if b.title == "" {
		if len(*stack) == 0 {
			return "root"
		}
		return strings.Join(*stack, "/")
	}
	depth := b.depth
	if depth < 1 {
		depth = 1
	}
	if depth > len(*stack) {
		*stack = append(*stack, b.title)
	} else {
		*stack = (*stack)[:depth-1]
		*stack = append(*stack, b.title)
	}
	return strings.Join(*stack, "/")
}

// chunkText splits body into sentence-respecting chunks targeting
// [minSize, maxSize] characters, preferring paragraph boundaries.
func chunkText(body string, minSize, maxSize int) []string {
	if strings.TrimSpace(body) == "" {
		return nil
	}
	paragraphs := strings.Split(body, "\n\n")
	var sentences []string
	paraBoundaryAfter := map[int]bool{}
	for _, p := range paragraphs {
		ps := splitSentences(p)
		sentences = append(sentences, ps...)
		if len(sentences) > 0 {
			paraBoundaryAfter[len(sentences)-1] = true
		}
	}
	if len(sentences) == 0 {
		return nil
	}

	var chunks []string
	var buf strings.Builder
	lastParaBoundary := -1

	flush := func() {
		s := strings.TrimSpace(buf.String())
		if s != "" {
			chunks = append(chunks, s)
		}
		buf.Reset()
		lastParaBoundary = -1
	}

	for i, sent := range sentences {
		if buf.Len() > 0 {
			buf.WriteRune(' ')
		}
		buf.WriteString(sent)
		if paraBoundaryAfter[i] {
			lastParaBoundary = buf.Len()
		}

		if buf.Len() >= maxSize {
			// Prefer to cut at the last paragraph boundary if it keeps us above min.
			if lastParaBoundary >= minSize {
				rest := strings.TrimSpace(buf.String()[lastParaBoundary:])
				chunks = append(chunks, strings.TrimSpace(buf.String()[:lastParaBoundary]))
				buf.Reset()
				buf.WriteString(rest)
				lastParaBoundary = -1
				continue
			}
			flush()
		} else if buf.Len() >= minSize && paraBoundaryAfter[i] {
			flush()
		}
	}
	flush()
	return chunks
}

// splitSentences splits text into sentences on terminal punctuation or
// newline boundaries, never breaking mid-sentence.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i, r := range runes {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			if r == '\n' || i == len(runes)-1 || (i+1 < len(runes) && unicode.IsSpace(runes[i+1])) {
				s := strings.TrimSpace(current.String())
				if s != "" {
					sentences = append(sentences, s)
				}
				current.Reset()
			}
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}
