package strategyconfig

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/crajarshi/SwingTrading/pkg/apperr"
)

// DefaultPath is the strategy file used when --config is not given
const DefaultPath = "config/swing.yaml"

// Load reads a YAML file on top of Default(), applies dotted overrides and validates
// KnownFields(true) makes typos and unused keys fail immediately.
// Every failure is a configuration error.
func Load(path string, overrides ...string) (*Config, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, apperr.Configuration("strategyconfig.Load", err)
	}

	cfg := Default()
	if err := decodeStrict(data, cfg); err != nil {
		return nil, nil, apperr.Configuration("strategyconfig.Load", fmt.Errorf("%s: %w", path, err))
	}

	cfg, err = finish(cfg, overrides)
	if err != nil {
		return nil, data, err
	}
	return cfg, data, nil
}

// LoadOrDefault loads path, falling back to Default() when the file does not exist
func LoadOrDefault(path string, overrides ...string) (*Config, []byte, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg, err := finish(Default(), overrides)
		if err != nil {
			return nil, nil, err
		}
		data, _ := yaml.Marshal(cfg)
		return cfg, data, nil
	}
	return Load(path, overrides...)
}

func finish(cfg *Config, overrides []string) (*Config, error) {
	if len(overrides) > 0 {
		next, err := ApplyOverrides(cfg, overrides)
		if err != nil {
			return nil, apperr.Configuration("strategyconfig.overrides", err)
		}
		cfg = next
	}
	normalizeTickers(&cfg.Scanner)
	if err := Validate(cfg); err != nil {
		return nil, apperr.Configuration("strategyconfig.Validate", err)
	}
	return cfg, nil
}

func decodeStrict(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	// an empty document keeps the defaults
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyOverrides sets dotted keys (paper_trading.entry.min_score=50) and re-decodes strictly
// Values are parsed as YAML scalars, so numbers, booleans and [lists] work.
func ApplyOverrides(cfg *Config, overrides []string) (*Config, error) {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	tree := map[string]interface{}{}
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil, err
	}

	for _, o := range overrides {
		key, value, ok := strings.Cut(o, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("override %q must be key=value", o)
		}
		var parsed interface{}
		if err := yaml.Unmarshal([]byte(value), &parsed); err != nil {
			return nil, fmt.Errorf("override %q: %w", o, err)
		}
		if err := setPath(tree, strings.Split(strings.TrimSpace(key), "."), parsed); err != nil {
			return nil, fmt.Errorf("override %q: %w", o, err)
		}
	}

	merged, err := yaml.Marshal(tree)
	if err != nil {
		return nil, err
	}
	out := &Config{}
	if err := decodeStrict(merged, out); err != nil {
		return nil, err
	}
	return out, nil
}

func setPath(tree map[string]interface{}, parts []string, value interface{}) error {
	node := tree
	for i, part := range parts[:len(parts)-1] {
		next, ok := node[part].(map[string]interface{})
		if !ok {
			return fmt.Errorf("unknown section %q", strings.Join(parts[:i+1], "."))
		}
		node = next
	}
	leaf := parts[len(parts)-1]
	if _, ok := node[leaf]; !ok {
		return fmt.Errorf("unknown key %q", strings.Join(parts, "."))
	}
	node[leaf] = value
	return nil
}

// Symbols returns the normalized universe: inline tickers, else the universe file
// Symbols are upper-cased and de-duplicated preserving order.
func (s Scanner) Symbols() ([]string, error) {
	tickers := s.Tickers
	if len(tickers) == 0 {
		f, err := os.Open(s.UniverseFile)
		if err != nil {
			return nil, apperr.Configuration("universe", err)
		}
		defer f.Close()

		sc := bufio.NewScanner(f)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			tickers = append(tickers, line)
		}
		if err := sc.Err(); err != nil {
			return nil, apperr.Configuration("universe", err)
		}
	}

	out := dedupeUpper(tickers)
	if len(out) == 0 {
		return nil, apperr.Configf("universe", "universe is empty")
	}
	return out, nil
}

func normalizeTickers(s *Scanner) {
	if len(s.Tickers) > 0 {
		s.Tickers = dedupeUpper(s.Tickers)
	}
}

func dedupeUpper(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, t := range in {
		u := strings.ToUpper(strings.TrimSpace(t))
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}

// Hash generates SHA256 hash from Config (canonical JSON)
// Structs (not maps) keep the field order and the hash reproducible.
func Hash(cfg *Config) (string, error) {
	jsonBytes, err := json.Marshal(cfg)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(jsonBytes)
	return hex.EncodeToString(sum[:]), nil
}

// NewDecisionSnapshot creates a snapshot for audit
func NewDecisionSnapshot(cfg *Config, yamlData []byte, runID string) (*DecisionSnapshot, error) {
	hash, err := Hash(cfg)
	if err != nil {
		return nil, err
	}

	return &DecisionSnapshot{
		ConfigHash: hash,
		ConfigYAML: string(yamlData),
		StrategyID: cfg.Meta.StrategyID,
		RunID:      runID,
		CreatedAt:  time.Now(),
	}, nil
}
