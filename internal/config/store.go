// Package config is the sectioned configuration store.
//
// Configuration is a YAML document whose top-level keys are sections. Each
// section maps keys to scalar values; a nested mapping becomes its own
// section named "parent.child". Components read values through typed
// getters that take a default and a description:
//
//	window := cfg.GetDuration("counter", "rate_window", 10*time.Second, "rate counter window")
//
// Every lookup records its default and description so Dump can print the
// effective configuration with documentation.
package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/xtxerr/perfkit/internal/errors"
)

// Store holds configuration values by section and key.
// It is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	sections map[string]map[string]string
	known    map[string]map[string]lookup
	files    []string
	includes []string
	errs     *errors.ValidationErrors
}

type lookup struct {
	def         string
	description string
}

// New creates an empty store.
func New() *Store {
	return &Store{
		sections: make(map[string]map[string]string),
		known:    make(map[string]map[string]lookup),
		errs:     errors.NewValidationErrors(),
	}
}

// Set stores a value.
func (s *Store) Set(section, key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(section, key, value)
}

func (s *Store) setLocked(section, key, value string) {
	sec, ok := s.sections[section]
	if !ok {
		sec = make(map[string]string)
		s.sections[section] = sec
	}
	sec[key] = value
}

// Has reports whether section/key is set.
func (s *Store) Has(section, key string) bool {
	_, ok := s.raw(section, key)
	return ok
}

func (s *Store) raw(section, key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.sections[section][key]
	return v, ok
}

// Sections returns all section names, sorted.
func (s *Store) Sections() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.sections))
	for name := range s.sections {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// SectionsWithPrefix returns the sections whose name starts with prefix, sorted.
func (s *Store) SectionsWithPrefix(prefix string) []string {
	var out []string
	for _, name := range s.Sections() {
		if strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	return out
}

// Keys returns the keys set in section, sorted.
func (s *Store) Keys(section string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.sections[section]))
	for k := range s.sections[section] {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Files returns the files loaded into the store, in load order.
func (s *Store) Files() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.files...)
}

// Err returns the values that could not be parsed by typed getters, or nil.
func (s *Store) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.errs.Err()
}

func (s *Store) remember(section, key, def, description string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sec, ok := s.known[section]
	if !ok {
		sec = make(map[string]lookup)
		s.known[section] = sec
	}
	sec[key] = lookup{def: def, description: description}
}

func (s *Store) invalid(section, key, value, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs.Add(errors.NewInvalidValue(section+"."+key, value, reason))
}

// =============================================================================
// Typed getters
// =============================================================================

// GetString returns section/key or def.
func (s *Store) GetString(section, key, def, description string) string {
	s.remember(section, key, def, description)
	if v, ok := s.raw(section, key); ok {
		return v
	}
	return def
}

// GetBool returns section/key parsed as a boolean, or def.
// Accepts true/false, yes/no, on/off and 1/0.
func (s *Store) GetBool(section, key string, def bool, description string) bool {
	s.remember(section, key, strconv.FormatBool(def), description)
	v, ok := s.raw(section, key)
	if !ok {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "yes", "on", "1":
		return true
	case "false", "no", "off", "0":
		return false
	}
	s.invalid(section, key, v, "expected a boolean")
	return def
}

// GetUint64 returns section/key parsed as an unsigned integer, or def.
// Decimal, 0x hex and size suffixes (KiB, MiB, GiB) are accepted.
func (s *Store) GetUint64(section, key string, def uint64, description string) uint64 {
	s.remember(section, key, strconv.FormatUint(def, 10), description)
	v, ok := s.raw(section, key)
	if !ok {
		return def
	}
	n, err := parseSize(v)
	if err != nil {
		s.invalid(section, key, v, err.Error())
		return def
	}
	return n
}

// GetInt returns section/key parsed as an int, or def.
func (s *Store) GetInt(section, key string, def int, description string) int {
	s.remember(section, key, strconv.Itoa(def), description)
	v, ok := s.raw(section, key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		s.invalid(section, key, v, "expected an integer")
		return def
	}
	return n
}

// GetDouble returns section/key parsed as a float, or def.
func (s *Store) GetDouble(section, key string, def float64, description string) float64 {
	s.remember(section, key, strconv.FormatFloat(def, 'g', -1, 64), description)
	v, ok := s.raw(section, key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		s.invalid(section, key, v, "expected a number")
		return def
	}
	return f
}

// GetDuration returns section/key parsed as a duration, or def.
// A bare number is taken as seconds.
func (s *Store) GetDuration(section, key string, def time.Duration, description string) time.Duration {
	s.remember(section, key, def.String(), description)
	v, ok := s.raw(section, key)
	if !ok {
		return def
	}
	v = strings.TrimSpace(v)
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		s.invalid(section, key, v, "expected a duration")
		return def
	}
	return d
}

// GetStrings returns section/key split on commas, or def.
func (s *Store) GetStrings(section, key string, def []string, description string) []string {
	s.remember(section, key, strings.Join(def, ","), description)
	v, ok := s.raw(section, key)
	if !ok {
		return def
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var sizeSuffixes = []struct {
	suffix string
	mult   uint64
}{
	{"kib", 1 << 10},
	{"mib", 1 << 20},
	{"gib", 1 << 30},
	{"kb", 1000},
	{"mb", 1000 * 1000},
	{"gb", 1000 * 1000 * 1000},
}

func parseSize(v string) (uint64, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	mult := uint64(1)
	for _, s := range sizeSuffixes {
		if strings.HasSuffix(v, s.suffix) {
			mult = s.mult
			v = strings.TrimSpace(strings.TrimSuffix(v, s.suffix))
			break
		}
	}
	n, err := strconv.ParseUint(v, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("expected an unsigned integer")
	}
	if mult > 1 && n > (^uint64(0))/mult {
		return 0, fmt.Errorf("value overflows 64 bits")
	}
	return n * mult, nil
}
