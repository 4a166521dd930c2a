// Package classify decides how an exclude list is parsed and which reason its rows carry.
//
// Rules are matched against the file's base name, or against its whole slash-separated
// path when MatchPath is set, never its contents. A pattern containing
// glob metacharacters is matched with path.Match. Any other pattern matches as a substring.
// Reason rules are evaluated in order and the first match wins.
package classify

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/thiago-r-goveia/exclude-builder/internal/models"
)

// ErrUnsupportedRulesFormat is returned for rules files that are neither YAML nor TOML.
var ErrUnsupportedRulesFormat = errors.New("unsupported rules file format")

// Rule assigns Reason to files whose name matches Pattern.
type Rule struct {
	Pattern string `yaml:"pattern" toml:"pattern"`
	Reason  string `yaml:"reason" toml:"reason"`
}

// Rules is the complete file-name dispatch table.
type Rules struct {
	// ProblemPatterns select files that list whole exposures. A nil slice in a rules file
	// falls back to the default; an explicit empty list disables problem files.
	ProblemPatterns []string `yaml:"problem_patterns" toml:"problem_patterns"`
	Reasons         []Rule   `yaml:"reasons" toml:"reasons"`
	DefaultReason   string   `yaml:"default_reason" toml:"default_reason"`
	// MatchPath tests patterns against the whole input path, so a directory such as
	// excludes/streaks/ classifies the files below it. Globs must then match the full path.
	MatchPath bool `yaml:"match_path" toml:"match_path"`
}

// DefaultRules reproduces the naming convention of the survey's exclude directories.
func DefaultRules() Rules {
	return Rules{
		ProblemPatterns: []string{"problem"},
		Reasons: []Rule{
			{Pattern: "ghost-scatter", Reason: models.ReasonGhostScatter},
			{Pattern: "streak", Reason: models.ReasonStreak},
			{Pattern: "noise", Reason: models.ReasonNoise},
			{Pattern: "readout", Reason: models.ReasonReadout},
			{Pattern: "ccd", Reason: models.ReasonBadCCD},
			{Pattern: "processing", Reason: models.ReasonProcessing},
			{Pattern: "comet", Reason: models.ReasonComet},
		},
		DefaultReason: models.ReasonUnknown,
	}
}

// LoadRules reads a rules file, choosing YAML or TOML by extension.
func LoadRules(filePath string) (Rules, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return Rules{}, fmt.Errorf("failed to read rules file %s: %w", filePath, err)
	}

	rules, err := ParseRules(data, filepath.Ext(filePath))
	if err != nil {
		return Rules{}, fmt.Errorf("failed to load rules file %s: %w", filePath, err)
	}
	return rules, nil
}

// ParseRules decodes rules in the format named by ext (".yaml", ".yml" or ".toml").
func ParseRules(data []byte, ext string) (Rules, error) {
	var rules Rules
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &rules); err != nil {
			return Rules{}, fmt.Errorf("invalid YAML rules: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &rules); err != nil {
			return Rules{}, fmt.Errorf("invalid TOML rules: %w", err)
		}
	default:
		return Rules{}, fmt.Errorf("%w: %q", ErrUnsupportedRulesFormat, ext)
	}

	if rules.ProblemPatterns == nil {
		rules.ProblemPatterns = DefaultRules().ProblemPatterns
	}
	if rules.DefaultReason == "" {
		rules.DefaultReason = models.ReasonUnknown
	}
	if len(rules.Reasons) == 0 {
		return Rules{}, errors.New("rules define no reasons")
	}
	return rules, nil
}

// Validate reports empty fields and malformed glob patterns.
func (r Rules) Validate() error {
	for _, p := range r.ProblemPatterns {
		if err := validatePattern(p); err != nil {
			return fmt.Errorf("problem pattern %q: %w", p, err)
		}
	}
	for i, rule := range r.Reasons {
		if err := validatePattern(rule.Pattern); err != nil {
			return fmt.Errorf("reason rule %d (%q): %w", i+1, rule.Pattern, err)
		}
		if strings.TrimSpace(rule.Reason) == "" {
			return fmt.Errorf("reason rule %d (%q): empty reason", i+1, rule.Pattern)
		}
	}
	if strings.TrimSpace(r.DefaultReason) == "" {
		return errors.New("empty default reason")
	}
	return nil
}

func validatePattern(pattern string) error {
	if pattern == "" {
		return errors.New("empty pattern")
	}
	if isGlob(pattern) {
		if _, err := path.Match(pattern, ""); err != nil {
			return err
		}
	}
	return nil
}

func isGlob(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[")
}

func matches(pattern, name string) bool {
	if isGlob(pattern) {
		ok, _ := path.Match(pattern, name)
		return ok
	}
	return strings.Contains(name, pattern)
}

// Classifier applies Rules and per-file overrides to input paths.
type Classifier struct {
	rules     Rules
	overrides map[string]string
}

// New builds a Classifier. Overrides map an input path, or a bare file name, to an explicit
// reason and take precedence over the reason rules for that file.
func New(rules Rules, overrides map[string]string) (*Classifier, error) {
	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("invalid classification rules: %w", err)
	}

	cleaned := make(map[string]string, len(overrides))
	for p, reason := range overrides {
		if strings.TrimSpace(reason) == "" {
			return nil, fmt.Errorf("empty reason override for %s", p)
		}
		cleaned[filepath.Clean(p)] = reason
	}

	return &Classifier{rules: rules, overrides: cleaned}, nil
}

// Classify returns the layout of the file and the reason for its rows. The reason is empty
// for a problem file without an override, since each of its rows names its own problem.
func (c *Classifier) Classify(filePath string) (models.Layout, string) {
	name := filepath.Base(filePath)
	target := name
	if c.rules.MatchPath {
		target = filepath.ToSlash(filepath.Clean(filePath))
	}

	layout := models.LayoutTable
	for _, p := range c.rules.ProblemPatterns {
		if matches(p, target) {
			layout = models.LayoutProblem
			break
		}
	}

	if reason, ok := c.overrides[filepath.Clean(filePath)]; ok {
		return layout, reason
	}
	if reason, ok := c.overrides[name]; ok {
		return layout, reason
	}
	if layout == models.LayoutProblem {
		return layout, ""
	}

	return layout, c.Reason(target)
}

// Reason returns the reason of the first rule matching name, or the default reason. Callers
// pass a base name, or a slash-separated path when the rules match paths.
func (c *Classifier) Reason(name string) string {
	for _, rule := range c.rules.Reasons {
		if matches(rule.Pattern, name) {
			return rule.Reason
		}
	}
	return c.rules.DefaultReason
}
