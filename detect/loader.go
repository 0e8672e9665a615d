package detect

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// KeywordFile overrides detector keyword lists. Empty lists keep the defaults.
type KeywordFile struct {
	AuthFailureTerms  []string `json:"auth_failure_terms" yaml:"auth_failure_terms"`
	MalwareKeywords   []string `json:"malware_keywords" yaml:"malware_keywords"`
	PortSignalTerm    string   `json:"port_signal_term" yaml:"port_signal_term"`
	TrustedDomains    []string `json:"trusted_domains" yaml:"trusted_domains"`
	SensitiveKeywords []string `json:"sensitive_keywords" yaml:"sensitive_keywords"`
}

const keywordFileSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "auth_failure_terms": {"$ref": "#/definitions/terms"},
    "malware_keywords":   {"$ref": "#/definitions/terms"},
    "trusted_domains":    {"$ref": "#/definitions/terms"},
    "sensitive_keywords": {"$ref": "#/definitions/terms"},
    "port_signal_term":   {"type": "string", "minLength": 1}
  },
  "definitions": {
    "terms": {
      "type": "array",
      "items": {"type": "string", "minLength": 1},
      "uniqueItems": true
    }
  }
}`

// LoadKeywordFile reads a YAML or JSON keyword file and validates it against the keyword schema
func LoadKeywordFile(filename string, logger *zap.SugaredLogger) (*KeywordFile, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read keyword file: %w", err)
	}

	isYAML := strings.HasSuffix(filename, ".yaml") || strings.HasSuffix(filename, ".yml")

	var doc interface{}
	if isYAML {
		err = yaml.Unmarshal(data, &doc)
	} else {
		err = json.Unmarshal(data, &doc)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse keyword file: %w", err)
	}
	if doc == nil {
		doc = map[string]interface{}{}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(keywordFileSchema),
		gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("failed to validate keyword file against schema: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("keyword file validation failed: %s", strings.Join(msgs, "; "))
	}

	var kf KeywordFile
	if isYAML {
		err = yaml.Unmarshal(data, &kf)
	} else {
		err = json.Unmarshal(data, &kf)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal keyword file: %w", err)
	}

	logger.Infof("Loaded keyword overrides from %s", filename)
	return &kf, nil
}

// Apply returns s with every non-empty list of kf substituted
func (kf *KeywordFile) Apply(s Settings) Settings {
	if kf == nil {
		return s
	}
	if len(kf.AuthFailureTerms) > 0 {
		s.AuthFailureTerms = kf.AuthFailureTerms
	}
	if len(kf.MalwareKeywords) > 0 {
		s.MalwareKeywords = kf.MalwareKeywords
	}
	if kf.PortSignalTerm != "" {
		s.PortSignalTerm = kf.PortSignalTerm
	}
	if len(kf.TrustedDomains) > 0 {
		s.TrustedDomains = kf.TrustedDomains
	}
	if len(kf.SensitiveKeywords) > 0 {
		s.SensitiveKeywords = kf.SensitiveKeywords
	}
	return s
}
