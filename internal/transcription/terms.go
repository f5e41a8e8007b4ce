package transcription

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type termsFile struct {
	Terms []string `yaml:"terms"`
}

// LoadTerms reads domain terms from a YAML file holding either a plain list
// or a mapping with a terms key. An empty path or missing file yields no terms.
func LoadTerms(path string) ([]string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read terms file: %w", err)
	}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("parse terms file %s: %w", path, err)
	}
	if len(node.Content) == 0 {
		return nil, nil
	}
	var raw []string
	switch node.Content[0].Kind {
	case yaml.SequenceNode:
		if err := node.Content[0].Decode(&raw); err != nil {
			return nil, fmt.Errorf("parse terms file %s: %w", path, err)
		}
	case yaml.MappingNode:
		var doc termsFile
		if err := node.Content[0].Decode(&doc); err != nil {
			return nil, fmt.Errorf("parse terms file %s: %w", path, err)
		}
		raw = doc.Terms
	default:
		return nil, fmt.Errorf("parse terms file %s: expected a list or a terms mapping", path)
	}

	seen := make(map[string]struct{}, len(raw))
	terms := make([]string, 0, len(raw))
	for _, term := range raw {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		key := strings.ToLower(term)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		terms = append(terms, term)
	}
	return terms, nil
}
