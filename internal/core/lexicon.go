package core

import (
	"encoding/json"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Severity levels.
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
	SeverityLow    = "low"
	SeverityNone   = "none"
)

var highPriorityCategories = map[string]bool{
	"suicidal": true,
	"selfHarm": true,
	"violence": true,
}

var defaultLexicon = map[string][]string{
	"suicidal": {
		"suicide", "kill myself", "end my life", "take my life",
		"want to die", "don't want to live", "no reason to live", "better off dead",
	},
	"selfHarm": {
		"cut myself", "hurt myself", "self harm", "harming myself",
		"injure myself", "burn myself", "self-injury", "self-mutilation",
	},
	"violence": {
		"want to hurt", "kill someone", "attack", "revenge",
		"violent thoughts", "harm others", "murder", "assault",
	},
	"depression": {
		"hopeless", "worthless", "empty", "never get better",
		"can't go on", "giving up", "overwhelmed", "darkness",
	},
	"anxiety": {
		"panic attack", "can't breathe", "heart racing", "terrified",
		"constant worry", "fear everything", "nowhere safe",
	},
	"substance": {
		"overdose", "too many pills", "mixing drugs", "alcohol blackout",
		"relapse", "withdrawal", "addiction",
	},
}

type phrase struct {
	original string
	lower    string
}

// Lexicon maps sensitive categories to trigger phrases. Immutable after
// construction.
type Lexicon struct {
	categories []string
	phrases    map[string][]phrase
}

// DefaultLexicon returns the built-in fallback lexicon.
func DefaultLexicon() *Lexicon {
	return NewLexicon(defaultLexicon)
}

// NewLexicon builds a Lexicon. Blank phrases and categories without phrases
// are dropped.
func NewLexicon(words map[string][]string) *Lexicon {
	l := &Lexicon{phrases: make(map[string][]phrase, len(words))}
	for category, list := range words {
		var ps []phrase
		for _, w := range list {
			if strings.TrimSpace(w) == "" {
				continue
			}
			ps = append(ps, phrase{original: w, lower: strings.ToLower(w)})
		}
		if len(ps) == 0 {
			continue
		}
		l.phrases[category] = ps
		l.categories = append(l.categories, category)
	}
	sort.Strings(l.categories)
	return l
}

// LoadLexicon reads a {"category": ["phrase", ...]} JSON file. A missing,
// malformed or empty file falls back to DefaultLexicon.
func LoadLexicon(path string, logger *zap.Logger) *Lexicon {
	raw, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("sensitive words file unavailable, using built-in lexicon", zap.String("path", path), zap.Error(err))
		return DefaultLexicon()
	}
	var words map[string][]string
	if err := json.Unmarshal(raw, &words); err != nil {
		logger.Warn("sensitive words file malformed, using built-in lexicon", zap.String("path", path), zap.Error(err))
		return DefaultLexicon()
	}
	l := NewLexicon(words)
	if l.Empty() {
		logger.Warn("sensitive words file empty, using built-in lexicon", zap.String("path", path))
		return DefaultLexicon()
	}
	logger.Info("loaded sensitive words", zap.String("path", path), zap.Strings("categories", l.categories))
	return l
}

func (l *Lexicon) Empty() bool { return len(l.categories) == 0 }

// Categories returns the category names in sorted order.
func (l *Lexicon) Categories() []string {
	return append([]string(nil), l.categories...)
}

// Match returns, per category, the phrases that occur in text
// (case-insensitive substring match).
func (l *Lexicon) Match(text string) map[string][]string {
	lower := strings.ToLower(text)
	matches := make(map[string][]string)
	for _, category := range l.categories {
		for _, p := range l.phrases[category] {
			if strings.Contains(lower, p.lower) {
				matches[category] = append(matches[category], p.original)
			}
		}
	}
	return matches
}

// Severity classifies a set of matched categories.
func Severity(categories []string) string {
	for _, c := range categories {
		if highPriorityCategories[c] {
			return SeverityHigh
		}
	}
	switch {
	case len(categories) > 1:
		return SeverityMedium
	case len(categories) == 1:
		return SeverityLow
	default:
		return SeverityNone
	}
}
