package ingest

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/drake-forum/technoshield/config"
	"github.com/drake-forum/technoshield/core"

	"go.uber.org/zap"
)

// DefaultSyslogPattern matches "<pri>timestamp host process[pid]: message"
const DefaultSyslogPattern = `<(\d+)>([\w\s:]+)\s+([\w\.-]+)\s+([\w\.-]+)(?:\[(\d+)\])?:\s+(.+)`

// DefaultSyslogFields names the groups of DefaultSyslogPattern
var DefaultSyslogFields = []string{"priority", "timestamp", "hostname", "process", "pid", "message"}

// SyslogCollector reads a syslog-formatted file and derives facility and
// severity from the PRI value
type SyslogCollector struct {
	logger *zap.SugaredLogger
	parser *LogParser
}

// NewSyslogCollector creates a syslog file collector
func NewSyslogCollector(logger *zap.SugaredLogger) *SyslogCollector {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &SyslogCollector{logger: logger, parser: NewLogParser(logger)}
}

// Collect parses src.Path with src.Pattern and src.FieldNames, falling back
// to the default syslog layout for either
func (s *SyslogCollector) Collect(ctx context.Context, src config.DataSource) ([]core.RawRecord, error) {
	if src.Path == "" {
		return nil, ErrMissingPath
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pattern := src.Pattern
	if pattern == "" {
		pattern = DefaultSyslogPattern
	}
	fields := src.FieldNames
	if len(fields) == 0 {
		fields = DefaultSyslogFields
	}

	f, err := os.Open(src.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open syslog file %s: %w", src.Path, err)
	}
	defer f.Close()

	recs, err := s.parser.Parse(f, pattern, fields)
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		applyPriority(rec)
	}
	return recs, nil
}

// applyPriority sets facility (pri >> 3) and severity (pri & 7) when the
// record carries a numeric priority
func applyPriority(rec core.RawRecord) {
	raw, ok := rec["priority"].(string)
	if !ok {
		return
	}
	pri, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || pri < 0 {
		return
	}
	rec["facility"] = pri >> 3
	rec["severity"] = pri & 0x7
}
