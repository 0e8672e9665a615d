package ingest

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/drake-forum/technoshield/core"

	"github.com/dlclark/regexp2"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

const (
	// DefaultRegexTimeout bounds one line match against a configured pattern
	DefaultRegexTimeout = 500 * time.Millisecond
	// RawMessageField holds the original line of a parsed log record
	RawMessageField = "raw_message"

	patternCacheSize = 128
	maxLogLineBytes  = 1 << 20
)

// ErrMissingPattern is returned for log sources without a regex
var ErrMissingPattern = errors.New("no regex pattern configured for log parsing")

// LogParser turns text lines into records using a capture-group pattern.
// Compiled patterns are cached so repeated collections do not recompile.
type LogParser struct {
	cache   *lru.Cache[string, *regexp2.Regexp]
	timeout time.Duration
	logger  *zap.SugaredLogger
}

// NewLogParser creates a parser with its own pattern cache
func NewLogParser(logger *zap.SugaredLogger) *LogParser {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	cache, err := lru.New[string, *regexp2.Regexp](patternCacheSize)
	if err != nil {
		// only fails for a non-positive size
		panic(err)
	}
	return &LogParser{cache: cache, timeout: DefaultRegexTimeout, logger: logger}
}

func (p *LogParser) compile(pattern string) (*regexp2.Regexp, error) {
	if re, ok := p.cache.Get(pattern); ok {
		return re, nil
	}
	re, err := regexp2.Compile(pattern, regexp2.None)
	if err != nil {
		return nil, fmt.Errorf("invalid regex pattern: %w", err)
	}
	re.MatchTimeout = p.timeout
	p.cache.Add(pattern, re)
	return re, nil
}

// Parse reads r line by line. Blank and non-matching lines are skipped.
// Capture groups are named by fieldNames in order, or field_0, field_1, ...
// when fieldNames is empty; groups beyond fieldNames are dropped and groups
// that did not participate are nil.
func (p *LogParser) Parse(r io.Reader, pattern string, fieldNames []string) ([]core.RawRecord, error) {
	if pattern == "" {
		return nil, ErrMissingPattern
	}
	re, err := p.compile(pattern)
	if err != nil {
		return nil, err
	}

	var out []core.RawRecord
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLogLineBytes)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		m, err := re.FindStringMatch(line)
		if err != nil {
			p.logger.Warnw("Skipping log line", "line", lineNo, "error", err)
			continue
		}
		if m == nil {
			continue
		}

		rec := make(core.RawRecord)
		for i, g := range m.Groups()[1:] {
			var value interface{}
			if len(g.Captures) > 0 {
				value = g.String()
			}
			switch {
			case len(fieldNames) == 0:
				rec["field_"+strconv.Itoa(i)] = value
			case i < len(fieldNames):
				rec[fieldNames[i]] = value
			}
		}
		rec[RawMessageField] = line
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		return out, fmt.Errorf("failed to read log input: %w", err)
	}
	return out, nil
}
