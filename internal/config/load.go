package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/xtxerr/perfkit/internal/errors"
)

// includeKey is the top-level key listing further files to load.
const includeKey = "include"

// Load reads a YAML configuration file, expands environment variables and
// merges included files. Included files override values of the including
// file; includes of includes are not followed.
func Load(path string) (*Store, error) {
	s := New()
	includes, err := s.loadFile(path)
	if err != nil {
		return nil, err
	}

	baseDir := filepath.Dir(path)
	for _, pattern := range includes {
		if !filepath.IsAbs(pattern) {
			pattern = filepath.Join(baseDir, pattern)
		}

		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid include pattern %q: %w", pattern, err)
		}

		for _, match := range matches {
			if _, err := s.loadFile(match); err != nil {
				return nil, fmt.Errorf("load include %q: %w", match, err)
			}
		}
	}

	return s, nil
}

func (s *Store) loadFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	includes, err := s.parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	s.mu.Lock()
	s.files = append(s.files, path)
	s.mu.Unlock()
	return includes, nil
}

// Parse parses a YAML document into a new store. Include directives are
// recorded but not followed; see Includes.
func Parse(data []byte) (*Store, error) {
	s := New()
	if _, err := s.parse(data); err != nil {
		return nil, err
	}
	return s, nil
}

// Includes returns the include patterns seen while loading, in order.
func (s *Store) Includes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.includes...)
}

func (s *Store) parse(data []byte) ([]string, error) {
	expanded := os.ExpandEnv(string(data))

	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(expanded), &doc); err != nil {
		return nil, fmt.Errorf("%v: %w", err, errors.ErrInvalidConfig)
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return nil, nil // empty document
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("top level must be a mapping of sections: %w", errors.ErrInvalidConfig)
	}

	var includes []string
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := 0; i+1 < len(root.Content); i += 2 {
		name, value := root.Content[i].Value, root.Content[i+1]

		if name == includeKey {
			inc, err := scalars(value)
			if err != nil {
				return nil, fmt.Errorf("include: %w", err)
			}
			includes = append(includes, inc...)
			s.includes = append(s.includes, inc...)
			continue
		}

		switch value.Kind {
		case yaml.MappingNode:
			if err := s.parseSection(name, value); err != nil {
				return nil, err
			}
		case yaml.ScalarNode:
			if value.Tag != "!!null" {
				return nil, fmt.Errorf("section %q: expected a mapping, got scalar: %w", name, errors.ErrInvalidConfig)
			}
		default:
			return nil, fmt.Errorf("section %q: expected a mapping: %w", name, errors.ErrInvalidConfig)
		}
	}
	return includes, nil
}

// parseSection stores the keys of a mapping node. Caller holds s.mu.
func (s *Store) parseSection(section string, node *yaml.Node) error {
	if _, ok := s.sections[section]; !ok {
		s.sections[section] = make(map[string]string)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i].Value, node.Content[i+1]

		if value.Kind == yaml.MappingNode {
			if err := s.parseSection(section+"."+key, value); err != nil {
				return err
			}
			continue
		}

		vals, err := scalars(value)
		if err != nil {
			return fmt.Errorf("%s.%s: %w", section, key, err)
		}
		s.setLocked(section, key, strings.Join(vals, ","))
	}
	return nil
}

// scalars returns the value of a scalar node, or the items of a sequence of
// scalars.
func scalars(node *yaml.Node) ([]string, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			return nil, nil
		}
		return []string{node.Value}, nil
	case yaml.SequenceNode:
		out := make([]string, 0, len(node.Content))
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("line %d: expected a list of scalars: %w", item.Line, errors.ErrInvalidConfig)
			}
			out = append(out, item.Value)
		}
		return out, nil
	case yaml.AliasNode:
		return scalars(node.Alias)
	default:
		return nil, fmt.Errorf("line %d: expected a scalar or list: %w", node.Line, errors.ErrInvalidConfig)
	}
}
