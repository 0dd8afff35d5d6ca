package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/nandsim/nandsim/sim/trace"
)

const (
	formatJSONL = "jsonl"
	formatYAML  = "yaml"
)

// writeRecords encodes records one JSON object per line, or as a single YAML list.
func writeRecords(w io.Writer, format string, records []trace.OperationRecord) error {
	switch format {
	case formatJSONL:
		enc := json.NewEncoder(w)
		for i := range records {
			if err := enc.Encode(&records[i]); err != nil {
				return fmt.Errorf("encoding record %d: %w", records[i].ID, err)
			}
		}
		return nil
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(records); err != nil {
			return fmt.Errorf("encoding records: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q (valid: %s, %s)", format, formatJSONL, formatYAML)
	}
}

func writeRecordsFile(path, format string, records []trace.OperationRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	bw := bufio.NewWriter(f)
	if err := writeRecords(bw, format, records); err != nil {
		_ = f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing output file: %w", err)
	}
	return f.Close()
}

// readRecords decodes JSONL records. Blank lines are skipped.
func readRecords(r io.Reader) ([]trace.OperationRecord, error) {
	var out []trace.OperationRecord
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var rec trace.OperationRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading records: %w", err)
	}
	return out, nil
}

func readRecordsFile(path string) ([]trace.OperationRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening records: %w", err)
	}
	defer f.Close()
	return readRecords(f)
}

func sortedTokens(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
