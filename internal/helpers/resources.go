package helpers

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ResourceConfig points at the reference data used by helpers.
type ResourceConfig struct {
	SynonymsPath string `yaml:"synonyms_path"`
}

// ResourceProvider serves cached reference data to compute rules. One value
// is built per process and shared by every worker; each resource is loaded
// on first use.
type ResourceProvider struct {
	cfg    ResourceConfig
	logger *zap.Logger

	synOnce  sync.Once
	synonyms map[string]map[string]string
	synErr   error
}

// NewResourceProvider returns a provider reading from cfg.
func NewResourceProvider(cfg ResourceConfig, logger *zap.Logger) *ResourceProvider {
	return &ResourceProvider{cfg: cfg, logger: logger.Named("resources")}
}

// NewStaticResourceProvider returns a provider over an in-memory synonym
// table, keyed like the file form.
func NewStaticResourceProvider(synonyms map[string]map[string]string) *ResourceProvider {
	p := &ResourceProvider{logger: zap.NewNop()}
	p.synOnce.Do(func() { p.synonyms = normalizeSynonyms(synonyms) })
	return p
}

// Synonyms returns the synonym table for "category.attribute". Lookups
// fall back to the "*" table. Keys are matched case-insensitively.
//
// File layout:
//
//	"*":
//	  h2o: water
//	entity.type:
//	  protein: polymer
func (p *ResourceProvider) Synonyms(category, attribute string) (map[string]string, error) {
	p.synOnce.Do(p.loadSynonyms)
	if p.synErr != nil {
		return nil, p.synErr
	}
	out := map[string]string{}
	for k, v := range p.synonyms["*"] {
		out[k] = v
	}
	for k, v := range p.synonyms[category+"."+attribute] {
		out[k] = v
	}
	return out, nil
}

func (p *ResourceProvider) loadSynonyms() {
	if p.cfg.SynonymsPath == "" {
		p.synonyms = map[string]map[string]string{}
		return
	}
	data, err := os.ReadFile(p.cfg.SynonymsPath)
	if err != nil {
		p.synErr = fmt.Errorf("read synonyms: %w", err)
		return
	}
	var raw map[string]map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		p.synErr = fmt.Errorf("parse synonyms: %w", err)
		return
	}
	p.synonyms = normalizeSynonyms(raw)
	p.logger.Info("synonyms loaded", zap.String("path", p.cfg.SynonymsPath), zap.Int("tables", len(raw)))
}

func normalizeSynonyms(raw map[string]map[string]string) map[string]map[string]string {
	out := make(map[string]map[string]string, len(raw))
	for table, m := range raw {
		t := make(map[string]string, len(m))
		for from, to := range m {
			t[strings.ToLower(strings.TrimSpace(from))] = to
		}
		out[table] = t
	}
	return out
}
