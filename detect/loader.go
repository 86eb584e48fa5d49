package detect

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"vigilanteye/core"
)

// ErrNoRules is returned when a rules file parses but holds no rules.
var ErrNoRules = errors.New("rules file contains no rules")

var ruleValidator = validator.New()

// LoadRulesFile reads an ordered rule list from a YAML or JSON file.
func LoadRulesFile(path string) ([]core.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	var rules core.Rules
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &rules)
	default:
		err = yaml.Unmarshal(data, &rules)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal rules: %w", err)
	}
	if len(rules.Rules) == 0 {
		return nil, ErrNoRules
	}

	if err := ruleValidator.Struct(rules); err != nil {
		return nil, fmt.Errorf("rules validation failed: %w", err)
	}

	seen := make(map[string]bool, len(rules.Rules))
	for _, r := range rules.Rules {
		if seen[r.Name] {
			return nil, fmt.Errorf("duplicate rule name %q", r.Name)
		}
		seen[r.Name] = true
	}
	return rules.Rules, nil
}

// LoadRulesOrDefault loads path, or returns DefaultRules when path is empty.
func LoadRulesOrDefault(path string) ([]core.Rule, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	return LoadRulesFile(path)
}
