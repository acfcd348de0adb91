// Package commands recognises spoken control phrases such as "say it again"
// or "hold on" in short user transcripts.
package commands

import (
	_ "embed"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	Repeat   = "repeat"
	Pause    = "pause"
	Resume   = "resume"
	Stop     = "stop"
	Next     = "next"
	Previous = "previous"
	Help     = "help"
)

//go:embed patterns.yaml
var defaultTable []byte

type Pattern struct {
	Name          string   `yaml:"name" json:"name"`
	MinConfidence float64  `yaml:"min_confidence" json:"min_confidence"`
	Description   string   `yaml:"description" json:"description"`
	Patterns      []string `yaml:"patterns" json:"patterns"`

	res []*regexp.Regexp
}

type table struct {
	Commands []Pattern `yaml:"commands"`
}

// Match is a recognised command.
type Match struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
	Phrase     string  `json:"phrase"`
	Raw        string  `json:"raw"`
}

// Matcher holds a compiled command table. It is immutable and safe for
// concurrent use.
type Matcher struct {
	patterns []Pattern
	maxWords int
}

// Default returns the built-in command table.
func Default() *Matcher {
	m, err := Parse(defaultTable, 0)
	if err != nil {
		panic(err)
	}
	return m
}

// Parse compiles a YAML command table. Utterances longer than maxWords are
// never treated as commands; zero means 6.
func Parse(raw []byte, maxWords int) (*Matcher, error) {
	var t table
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return nil, errors.Wrap(err, "commands: parse table")
	}
	if maxWords <= 0 {
		maxWords = 6
	}
	for i := range t.Commands {
		p := &t.Commands[i]
		if p.Name == "" {
			return nil, errors.Errorf("commands: entry %d has no name", i)
		}
		for _, phrase := range p.Patterns {
			re, err := regexp.Compile(`\b` + regexp.QuoteMeta(strings.ToLower(phrase)) + `\b`)
			if err != nil {
				return nil, errors.Wrapf(err, "commands: pattern %q", phrase)
			}
			p.res = append(p.res, re)
		}
	}
	return &Matcher{patterns: t.Commands, maxWords: maxWords}, nil
}

// Match returns the first command whose phrase occurs in text with enough
// confidence.
func (m *Matcher) Match(text string) (Match, bool) {
	norm := strings.ToLower(strings.TrimSpace(text))
	norm = strings.Trim(norm, ".!?,;: ")
	if norm == "" {
		return Match{}, false
	}
	words := strings.Fields(norm)
	if len(words) > m.maxWords {
		return Match{}, false
	}
	for _, p := range m.patterns {
		for i, re := range p.res {
			if !re.MatchString(norm) {
				continue
			}
			conf := confidence(words, p.Patterns[i])
			if conf >= p.MinConfidence {
				return Match{Name: p.Name, Confidence: conf, Phrase: p.Patterns[i], Raw: text}, true
			}
		}
	}
	return Match{}, false
}

// MatchUtterance reports a command only when the whole utterance is a
// command phrase, optionally wrapped in "please". Answers that merely
// contain a phrase ("I will stop smoking") are not commands.
func (m *Matcher) MatchUtterance(text string) (Match, bool) {
	norm := normalize(text)
	if norm == "" {
		return Match{}, false
	}
	norm = strings.TrimSpace(strings.TrimPrefix(norm+" ", "please "))
	norm = strings.TrimSpace(strings.TrimSuffix(" "+norm, " please"))
	if norm == "" {
		return Match{}, false
	}
	for _, p := range m.patterns {
		for _, phrase := range p.Patterns {
			if normalize(phrase) == norm {
				return Match{Name: p.Name, Confidence: 1, Phrase: phrase, Raw: text}, true
			}
		}
	}
	return Match{}, false
}

func normalize(text string) string {
	words := strings.Fields(strings.ToLower(text))
	for i, w := range words {
		words[i] = strings.Trim(w, ".!?,;:")
	}
	return strings.Join(strings.Fields(strings.Join(words, " ")), " ")
}

// Lookup resolves a canonical command name or a spoken phrase.
func (m *Matcher) Lookup(command string) (Match, bool) {
	name := strings.ToLower(strings.TrimSpace(command))
	for _, p := range m.patterns {
		if p.Name == name {
			return Match{Name: p.Name, Confidence: 1, Phrase: name, Raw: command}, true
		}
	}
	return m.Match(command)
}

// Available lists the command table.
func (m *Matcher) Available() []Pattern {
	out := make([]Pattern, len(m.patterns))
	copy(out, m.patterns)
	return out
}

func confidence(words []string, phrase string) float64 {
	pw := strings.Fields(strings.ToLower(phrase))
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[strings.Trim(w, ".!?,;:")] = struct{}{}
	}
	hit := 0
	for _, w := range pw {
		if _, ok := set[w]; ok {
			hit++
		}
	}
	n := len(pw)
	if n == 0 {
		n = 1
	}
	base := float64(hit) / float64(n)
	boost := float64(10-len(words)) / 10
	if boost < 0 {
		boost = 0
	}
	c := base + boost*0.2
	if c > 1 {
		c = 1
	}
	return c
}
