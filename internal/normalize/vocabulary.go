package normalize

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed vocabulary.yaml
var defaultVocabulary []byte

// UnitConvention maps spellings found in documents to one canonical unit.
type UnitConvention struct {
	Canonical string   `yaml:"canonical"`
	Aliases   []string `yaml:"aliases"`
}

// Standard is a material standard or grade naming pattern.
type Standard struct {
	Pattern string `yaml:"pattern"`
	Meaning string `yaml:"meaning"`
}

// Vocabulary is the business-domain vocabulary given to the model.
type Vocabulary struct {
	Units           []UnitConvention `yaml:"units"`
	Standards       []Standard       `yaml:"standards"`
	SizeConventions []string         `yaml:"size_conventions"`
	ItemTypes       []string         `yaml:"item_types"`
}

// DefaultVocabulary returns the embedded vocabulary.
func DefaultVocabulary() *Vocabulary {
	v, err := parseVocabulary(defaultVocabulary)
	if err != nil {
		panic(fmt.Sprintf("normalize: embedded vocabulary is invalid: %v", err))
	}
	return v
}

// LoadVocabulary reads a vocabulary file. An empty path returns the embedded
// default.
func LoadVocabulary(path string) (*Vocabulary, error) {
	if path == "" {
		return DefaultVocabulary(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading vocabulary %s: %w", path, err)
	}
	v, err := parseVocabulary(data)
	if err != nil {
		return nil, fmt.Errorf("parsing vocabulary %s: %w", path, err)
	}
	return v, nil
}

func parseVocabulary(data []byte) (*Vocabulary, error) {
	var v Vocabulary
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	if len(v.Units) == 0 {
		return nil, fmt.Errorf("vocabulary defines no units")
	}
	return &v, nil
}

// Render formats the vocabulary as prompt text.
func (v *Vocabulary) Render() string {
	var sb strings.Builder
	sb.WriteString("UNIT CONVENTIONS (write the canonical form):\n")
	for _, u := range v.Units {
		fmt.Fprintf(&sb, "- %s: %s\n", u.Canonical, strings.Join(u.Aliases, ", "))
	}
	if len(v.Standards) > 0 {
		sb.WriteString("\nSTANDARD AND GRADE NAMING (keep in specification):\n")
		for _, s := range v.Standards {
			fmt.Fprintf(&sb, "- %s: %s\n", s.Pattern, s.Meaning)
		}
	}
	if len(v.SizeConventions) > 0 {
		sb.WriteString("\nSIZES:\n")
		for _, c := range v.SizeConventions {
			fmt.Fprintf(&sb, "- %s\n", c)
		}
	}
	if len(v.ItemTypes) > 0 {
		fmt.Fprintf(&sb, "\nITEM TYPES (item_type must be one of): %s\n", strings.Join(v.ItemTypes, ", "))
	}
	return sb.String()
}
