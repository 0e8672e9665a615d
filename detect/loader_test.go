package detect

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadKeywordFile_YAML(t *testing.T) {
	path := writeFile(t, "keywords.yaml", `
malware_keywords:
  - cryptominer
  - webshell
trusted_domains:
  - corp.example
port_signal_term: dport
`)
	kf, err := LoadKeywordFile(path, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	s := kf.Apply(DefaultSettings())
	assert.Equal(t, []string{"cryptominer", "webshell"}, s.MalwareKeywords)
	assert.Equal(t, []string{"corp.example"}, s.TrustedDomains)
	assert.Equal(t, "dport", s.PortSignalTerm)
	// untouched lists keep defaults
	assert.Equal(t, DefaultSettings().AuthFailureTerms, s.AuthFailureTerms)
	assert.NoError(t, s.Validate())
}

func TestLoadKeywordFile_JSON(t *testing.T) {
	path := writeFile(t, "keywords.json", `{"sensitive_keywords": ["payroll"]}`)
	kf, err := LoadKeywordFile(path, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"payroll"}, kf.Apply(DefaultSettings()).SensitiveKeywords)
}

func TestLoadKeywordFile_SchemaViolations(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown key", "malware: [x]\n"},
		{"empty term", "malware_keywords: ['']\n"},
		{"duplicate terms", "malware_keywords: [a, a]\n"},
		{"wrong type", "trusted_domains: corp.example\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "bad.yml", tt.content)
			_, err := LoadKeywordFile(path, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "keyword file validation failed")
		})
	}
}

func TestLoadKeywordFile_Errors(t *testing.T) {
	_, err := LoadKeywordFile(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.ErrorContains(t, err, "failed to read keyword file")

	path := writeFile(t, "broken.json", "{not json")
	_, err = LoadKeywordFile(path, nil)
	assert.ErrorContains(t, err, "failed to parse keyword file")
}

func TestKeywordFile_ApplyNil(t *testing.T) {
	var kf *KeywordFile
	assert.Equal(t, DefaultSettings(), kf.Apply(DefaultSettings()))
}
