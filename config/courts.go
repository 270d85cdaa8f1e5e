package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"
)

// CityConfig describes how to scrape one High Court seat
type CityConfig struct {
	HighCourt      string                       `yaml:"high_court"`
	Endpoint       string                       `yaml:"endpoint"`
	DefaultBench   string                       `yaml:"default_bench"`
	ForcedBench    string                       `yaml:"forced_bench"`
	RequiresBench  bool                         `yaml:"requires_bench"`
	CaseTypes      map[string]string            `yaml:"case_types"`
	BenchCaseTypes map[string]map[string]string `yaml:"bench_case_types"`
}

// CourtsConfig is the per-city scraper table
type CourtsConfig struct {
	Cities map[string]CityConfig `yaml:"cities"`
}

// LoadCourts reads the court table from a YAML file
func LoadCourts(path string) (*CourtsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read courts config: %w", err)
	}
	return ParseCourts(data)
}

// ParseCourts parses and sanity-checks a YAML court table
func ParseCourts(data []byte) (*CourtsConfig, error) {
	var cfg CourtsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse courts config: %w", err)
	}
	for name, city := range cfg.Cities {
		if city.Endpoint == "" {
			return nil, fmt.Errorf("courts config: city %q has no endpoint", name)
		}
	}
	return &cfg, nil
}

// City looks a city up case-insensitively
func (c *CourtsConfig) City(name string) (CityConfig, bool) {
	if c == nil {
		return CityConfig{}, false
	}
	name = strings.TrimSpace(name)
	if city, ok := c.Cities[name]; ok {
		return city, true
	}
	for k, city := range c.Cities {
		if strings.EqualFold(k, name) {
			return city, true
		}
	}
	return CityConfig{}, false
}

// CaseTypeCode resolves the court's numeric code for a case type label.
// A bench-specific table takes precedence over the city-wide one.
func (c CityConfig) CaseTypeCode(bench, caseType string) (string, bool) {
	if bench != "" {
		for b, table := range c.BenchCaseTypes {
			if strings.EqualFold(b, bench) {
				if code, ok := lookupFold(table, caseType); ok {
					return code, true
				}
			}
		}
	}
	return lookupFold(c.CaseTypes, caseType)
}

func lookupFold(table map[string]string, key string) (string, bool) {
	key = strings.TrimSpace(key)
	if v, ok := table[key]; ok {
		return v, true
	}
	for k, v := range table {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}
