package detect

import (
	"errors"
	"fmt"
)

// Settings holds the tunable thresholds and keyword lists of the built-in detectors
type Settings struct {
	AuthFailureThreshold int
	AuthFailureTerms     []string

	MalwareKeywords []string

	PortScanThreshold int
	PortSignalTerm    string

	LargeTransferBytes    int64
	OffHoursTransferBytes int64
	OffHoursStart         int
	OffHoursEnd           int
	TrustedDomains        []string
	SensitiveKeywords     []string
}

// DefaultSettings returns the stock thresholds and keyword lists
func DefaultSettings() Settings {
	return Settings{
		AuthFailureThreshold: 3,
		AuthFailureTerms:     []string{"fail", "invalid", "bad password", "incorrect", "denied"},
		MalwareKeywords: []string{
			"malware", "virus", "trojan", "ransomware", "backdoor",
			"suspicious process", "unauthorized execution", "known bad file",
		},
		PortScanThreshold:     5,
		PortSignalTerm:        "port",
		LargeTransferBytes:    10000000,
		OffHoursTransferBytes: 1000000,
		OffHoursStart:         22,
		OffHoursEnd:           6,
		TrustedDomains:        []string{"company.com", "partner.org", "vendor.net"},
		SensitiveKeywords: []string{
			"confidential", "secret", "classified", "restricted", "personal",
			"password", "credit card", "ssn", "social security", "database dump",
			"export", "download", "backup", "extract",
		},
	}
}

// Validate checks thresholds and that every keyword list is populated
func (s Settings) Validate() error {
	var errs []error
	if s.AuthFailureThreshold < 1 {
		errs = append(errs, fmt.Errorf("auth failure threshold must be at least 1, got %d", s.AuthFailureThreshold))
	}
	if s.PortScanThreshold < 1 {
		errs = append(errs, fmt.Errorf("port scan threshold must be at least 1, got %d", s.PortScanThreshold))
	}
	if s.LargeTransferBytes < 0 || s.OffHoursTransferBytes < 0 {
		errs = append(errs, errors.New("transfer thresholds must not be negative"))
	}
	if s.OffHoursStart < 0 || s.OffHoursStart > 23 || s.OffHoursEnd < 0 || s.OffHoursEnd > 23 {
		errs = append(errs, fmt.Errorf("off-hours window %d-%d is outside 0-23", s.OffHoursStart, s.OffHoursEnd))
	}
	if s.PortSignalTerm == "" {
		errs = append(errs, errors.New("port signal term must not be empty"))
	}
	for name, list := range map[string][]string{
		"auth failure terms": s.AuthFailureTerms,
		"malware keywords":   s.MalwareKeywords,
		"sensitive keywords": s.SensitiveKeywords,
	} {
		if len(list) == 0 {
			errs = append(errs, fmt.Errorf("%s must not be empty", name))
		}
	}
	return errors.Join(errs...)
}

// inOffHours reports whether hour lies in the window [start, end], which may wrap midnight
func (s Settings) inOffHours(hour int) bool {
	if s.OffHoursStart <= s.OffHoursEnd {
		return hour >= s.OffHoursStart && hour <= s.OffHoursEnd
	}
	return hour >= s.OffHoursStart || hour <= s.OffHoursEnd
}
