// Package selector assembles the bounded context window for a request: every
// corpus file is scored against the conversation, sorted deterministically,
// and admitted greedily under a byte budget.
package selector

import (
	"context"
	"fmt"
	"math"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/weft-dev/weft/internal/models"
)

// Signal weights for the linear score combination.
const (
	weightKeyword    = 0.4
	weightRecency    = 0.2
	weightTypeMatch  = 0.3
	weightDependency = 0.1
)

// recencyHalfLife controls the exponential decay of the modification-time
// signal: a file touched one half-life ago scores 0.5.
const recencyHalfLife = 24 * time.Hour

// minTruncateBytes is the smallest leading region worth admitting when the
// next candidate does not fit the remaining budget.
const minTruncateBytes = 256

// recentMessageWindow bounds how many trailing messages feed the keyword and
// task-type signals.
const recentMessageWindow = 6

// CorpusFile is one candidate file supplied by the caller.
type CorpusFile struct {
	Path    string
	Content string
	ModTime time.Time
}

// Summarizer derives a bounded textual summary of prior turns. It is an
// external collaborator; the selector only forwards to it.
type Summarizer interface {
	Summarize(ctx context.Context, messages []models.Message) (string, error)
}

// Selection is the assembled context window.
type Selection struct {
	Summary string
	Files   []models.ScoredFile
}

// Selector scores and selects corpus files. Construct with New; the zero
// value uses no summarizer.
type Selector struct {
	summarizer Summarizer
	now        func() time.Time
}

// New creates a selector. summarizer may be nil, in which case the summary is
// empty.
func New(summarizer Summarizer) *Selector {
	return &Selector{summarizer: summarizer, now: time.Now}
}

// Select scores the corpus against the conversation and greedily admits files
// under budget bytes. The result is deterministic for fixed inputs: identical
// (messages, corpus, budget) always produce the same ordered file list.
func (s *Selector) Select(ctx context.Context, messages []models.Message, corpus []CorpusFile, budget int) (Selection, error) {
	var sel Selection

	if s.summarizer != nil && len(messages) > 0 {
		summary, err := s.summarizer.Summarize(ctx, messages)
		if err != nil {
			return Selection{}, fmt.Errorf("summarize conversation: %w", err)
		}
		sel.Summary = summary
	}

	recent := recentText(messages)
	terms := termSet(recent)
	taskExts := inferTaskExtensions(recent)
	referenced := referencedPaths(recent, corpus)
	now := s.now()

	scored := make([]models.ScoredFile, 0, len(corpus))
	for _, f := range corpus {
		signals := models.ScoreSignals{
			Keyword:    keywordScore(f, terms),
			Recency:    recencyScore(f.ModTime, now),
			TypeMatch:  typeMatchScore(f.Path, taskExts),
			Dependency: dependencyScore(f, referenced),
		}
		scored = append(scored, models.ScoredFile{
			Path:    f.Path,
			Content: f.Content,
			Score: weightKeyword*signals.Keyword +
				weightRecency*signals.Recency +
				weightTypeMatch*signals.TypeMatch +
				weightDependency*signals.Dependency,
			Signals: signals,
		})
	}

	// Ties break toward shallower paths, then lexicographic order, so the
	// window is reproducible run to run.
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		di, dj := pathDepth(scored[i].Path), pathDepth(scored[j].Path)
		if di != dj {
			return di < dj
		}
		return scored[i].Path < scored[j].Path
	})

	used := 0
	for _, f := range scored {
		remaining := budget - used
		if remaining <= 0 {
			break
		}
		if len(f.Content) <= remaining {
			sel.Files = append(sel.Files, f)
			used += len(f.Content)
			continue
		}
		// The next candidate does not fit whole. Keep its leading region if
		// enough room remains for it to be useful, then stop either way.
		if remaining >= minTruncateBytes {
			f.Content = f.Content[:remaining]
			f.Truncated = true
			sel.Files = append(sel.Files, f)
		}
		break
	}
	return sel, nil
}

var wordRe = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]{2,}`)

// recentText concatenates the trailing message window.
func recentText(messages []models.Message) string {
	start := 0
	if len(messages) > recentMessageWindow {
		start = len(messages) - recentMessageWindow
	}
	var b strings.Builder
	for _, m := range messages[start:] {
		b.WriteString(m.Content)
		b.WriteByte('\n')
	}
	return b.String()
}

func termSet(text string) map[string]bool {
	terms := make(map[string]bool)
	for _, w := range wordRe.FindAllString(strings.ToLower(text), -1) {
		terms[w] = true
	}
	return terms
}

// keywordScore is the fraction of message terms that occur in the file,
// weighted toward hits in the path itself.
func keywordScore(f CorpusFile, terms map[string]bool) float64 {
	if len(terms) == 0 {
		return 0
	}
	content := strings.ToLower(f.Content)
	pathLower := strings.ToLower(f.Path)
	hits := 0.0
	for term := range terms {
		switch {
		case strings.Contains(pathLower, term):
			hits += 2
		case strings.Contains(content, term):
			hits++
		}
	}
	score := hits / float64(len(terms))
	if score > 1 {
		score = 1
	}
	return score
}

func recencyScore(mod time.Time, now time.Time) float64 {
	if mod.IsZero() {
		return 0
	}
	age := now.Sub(mod)
	if age < 0 {
		age = 0
	}
	return math.Exp2(-float64(age) / float64(recencyHalfLife))
}

// extensionGroups maps a file extension mentioned in the conversation to the
// set of extensions considered relevant to the same kind of task.
var extensionGroups = map[string][]string{
	".go":   {".go", ".mod"},
	".ts":   {".ts", ".tsx", ".js", ".jsx", ".json"},
	".tsx":  {".ts", ".tsx", ".js", ".jsx", ".css"},
	".js":   {".js", ".jsx", ".ts", ".json"},
	".py":   {".py", ".toml"},
	".rs":   {".rs", ".toml"},
	".css":  {".css", ".html", ".tsx", ".jsx"},
	".html": {".html", ".css", ".js"},
	".sql":  {".sql", ".go", ".py"},
	".md":   {".md"},
}

// inferTaskExtensions derives the task's file-type profile from extensions
// mentioned in recent messages.
func inferTaskExtensions(text string) map[string]bool {
	exts := make(map[string]bool)
	for ext, group := range extensionGroups {
		if strings.Contains(text, ext) {
			for _, g := range group {
				exts[g] = true
			}
		}
	}
	return exts
}

func typeMatchScore(p string, taskExts map[string]bool) float64 {
	if len(taskExts) == 0 {
		return 0
	}
	if taskExts[strings.ToLower(path.Ext(p))] {
		return 1
	}
	return 0
}

// referencedPaths collects corpus paths mentioned verbatim in the recent
// conversation.
func referencedPaths(text string, corpus []CorpusFile) map[string]bool {
	refs := make(map[string]bool)
	for _, f := range corpus {
		if strings.Contains(text, f.Path) || strings.Contains(text, path.Base(f.Path)) {
			refs[f.Path] = true
		}
	}
	return refs
}

// dependencyScore measures static-import proximity to files already
// referenced in the conversation: 1 for a referenced file itself, otherwise
// the fraction-style boost for files importing or imported by one.
func dependencyScore(f CorpusFile, referenced map[string]bool) float64 {
	if len(referenced) == 0 {
		return 0
	}
	if referenced[f.Path] {
		return 1
	}
	for ref := range referenced {
		base := strings.TrimSuffix(path.Base(ref), path.Ext(ref))
		if base != "" && containsImportOf(f.Content, base) {
			return 0.5
		}
	}
	return 0
}

// containsImportOf looks for an import-like mention of the referenced file's
// base name. Deliberately language-agnostic: a line-level heuristic, not a
// real dependency graph.
func containsImportOf(content, base string) bool {
	for _, line := range strings.SplitN(content, "\n", 200) {
		trimmed := strings.TrimSpace(line)
		if !strings.Contains(trimmed, base) {
			continue
		}
		if strings.HasPrefix(trimmed, "import") ||
			strings.HasPrefix(trimmed, "from ") ||
			strings.Contains(trimmed, "require(") ||
			strings.HasPrefix(trimmed, "#include") {
			return true
		}
	}
	return false
}

func pathDepth(p string) int {
	return strings.Count(clean(p), "/")
}

func clean(p string) string {
	return strings.TrimPrefix(path.Clean(p), "./")
}
