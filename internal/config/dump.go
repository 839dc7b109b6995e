package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Dump writes the effective configuration as YAML: every value that was set
// or looked up, with the lookup's description as a comment. Values that were
// only looked up are shown at their default.
func (s *Store) Dump(w io.Writer) error {
	s.mu.RLock()
	root := &yaml.Node{Kind: yaml.MappingNode}

	for _, section := range s.sectionNamesLocked() {
		body := &yaml.Node{Kind: yaml.MappingNode}
		for _, key := range s.keyNamesLocked(section) {
			k := &yaml.Node{Kind: yaml.ScalarNode, Value: key}
			v := &yaml.Node{Kind: yaml.ScalarNode}

			known, isKnown := s.known[section][key]
			if val, ok := s.sections[section][key]; ok {
				v.Value = val
			} else {
				v.Value = known.def
				v.LineComment = "default"
			}
			if isKnown && known.description != "" {
				k.HeadComment = known.description
			}
			body.Content = append(body.Content, k, v)
		}
		root.Content = append(root.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: section}, body)
	}
	s.mu.RUnlock()

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return err
	}
	return enc.Close()
}

// DumpFile writes Dump to path, replacing it atomically.
func (s *Store) DumpFile(path string) error {
	var buf bytes.Buffer
	if err := s.Dump(&buf); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("write config dump: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write config dump: %w", err)
	}
	return nil
}

// DumpString returns Dump as a string.
func (s *Store) DumpString() string {
	var buf bytes.Buffer
	if err := s.Dump(&buf); err != nil {
		return "# " + err.Error() + "\n"
	}
	return buf.String()
}

func (s *Store) sectionNamesLocked() []string {
	seen := make(map[string]struct{}, len(s.sections)+len(s.known))
	for name := range s.sections {
		seen[name] = struct{}{}
	}
	for name := range s.known {
		seen[name] = struct{}{}
	}
	return sortedKeys(seen)
}

func (s *Store) keyNamesLocked(section string) []string {
	seen := make(map[string]struct{})
	for k := range s.sections[section] {
		seen[k] = struct{}{}
	}
	for k := range s.known[section] {
		seen[k] = struct{}{}
	}
	return sortedKeys(seen)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
