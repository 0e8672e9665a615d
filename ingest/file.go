package ingest

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/drake-forum/technoshield/config"
	"github.com/drake-forum/technoshield/core"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// FileCollector reads json, csv, log and msgpack files
type FileCollector struct {
	logger *zap.SugaredLogger
	parser *LogParser
}

// NewFileCollector creates a file collector
func NewFileCollector(logger *zap.SugaredLogger) *FileCollector {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &FileCollector{logger: logger, parser: NewLogParser(logger)}
}

// Collect reads the whole file named by src.Path in src.Format
func (c *FileCollector) Collect(ctx context.Context, src config.DataSource) ([]core.RawRecord, error) {
	if src.Path == "" {
		return nil, ErrMissingPath
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(src.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", src.Path, err)
	}
	defer f.Close()

	var recs []core.RawRecord
	switch src.Format {
	case "json":
		recs, err = c.readJSON(f, src.EventsPath)
	case "csv":
		recs, err = readCSV(f)
	case "log":
		recs, err = c.parser.Parse(f, src.Pattern, src.FieldNames)
	case "msgpack":
		recs, err = readMsgpack(bufio.NewReader(f))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, src.Format)
	}
	if err != nil {
		return nil, fmt.Errorf("error collecting from file %s: %w", src.Path, err)
	}

	c.logger.Debugw("Read file", "path", src.Path, "format", src.Format, "count", len(recs))
	return recs, nil
}

func (c *FileCollector) readJSON(r io.Reader, eventsPath string) ([]core.RawRecord, error) {
	var data interface{}
	if err := json.NewDecoder(r).Decode(&data); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return extractEvents(data, eventsPath, c.logger)
}

// readCSV maps every row onto the header; empty cells become nil
func readCSV(r io.Reader) ([]core.RawRecord, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return []core.RawRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("invalid CSV header: %w", err)
	}

	var out []core.RawRecord
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("invalid CSV row: %w", err)
		}
		rec := make(core.RawRecord, len(header))
		for i, name := range header {
			if i >= len(row) || row[i] == "" {
				rec[name] = nil
				continue
			}
			rec[name] = row[i]
		}
		out = append(out, rec)
	}
	return out, nil
}

// readMsgpack decodes a stream of concatenated maps, the layout fluent-bit
// and fluentd produce for file outputs
func readMsgpack(r io.Reader) ([]core.RawRecord, error) {
	dec := msgpack.NewDecoder(r)
	dec.UseLooseInterfaceDecoding(true)

	var out []core.RawRecord
	for {
		m, err := dec.DecodeMap()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("invalid msgpack record %d: %w", len(out), err)
		}
		out = append(out, core.RawRecord(m))
	}
	return out, nil
}
