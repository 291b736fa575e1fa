// Package source reads the JSON Lines files written by the field mapper. Each
// line is one record: {"source_system", "source_pk", "entity_type", "fields"}.
package source

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bgross0/data-migrator-sub001/pkg/errs"
	"github.com/bgross0/data-migrator-sub001/pkg/models"
)

// maxLine bounds a single record. Mapper output with large text fields fits
// comfortably.
const maxLine = 16 << 20

// LineError locates a malformed line.
type LineError struct {
	File string
	Line int
	Err  error
}

func (e *LineError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s:%d: %v", e.File, e.Line, e.Err)
	}
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// ReadFiles reads every path in order and concatenates the records.
func ReadFiles(paths ...string) ([]models.SourceRecord, error) {
	var all []models.SourceRecord
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, &errs.ConfigError{Message: "failed to open input " + path, Err: err}
		}
		records, err := read(f, path)
		_ = f.Close()
		if err != nil {
			return nil, err
		}
		all = append(all, records...)
	}
	return all, nil
}

// Read decodes records from r. Blank lines are skipped; numbers keep their
// literal text so decimals and long identifiers survive unchanged.
func Read(r io.Reader) ([]models.SourceRecord, error) {
	return read(r, "")
}

func read(r io.Reader, file string) ([]models.SourceRecord, error) {
	br := stripUTF8BOM(bufio.NewReader(r))
	scanner := bufio.NewScanner(br)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)

	var records []models.SourceRecord
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		rec, err := decode(text)
		if err != nil {
			return nil, &errs.ConfigError{Message: "malformed input", Err: &LineError{File: file, Line: line, Err: err}}
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, &errs.ConfigError{Message: "failed to read input", Err: &LineError{File: file, Line: line + 1, Err: err}}
	}
	return records, nil
}

func decode(text []byte) (models.SourceRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(text))
	dec.UseNumber()
	dec.DisallowUnknownFields()

	var rec models.SourceRecord
	if err := dec.Decode(&rec); err != nil {
		return rec, err
	}
	if dec.More() {
		return rec, fmt.Errorf("more than one JSON value on the line")
	}

	rec.SourceSystem = strings.TrimSpace(rec.SourceSystem)
	rec.SourcePK = strings.TrimSpace(rec.SourcePK)
	rec.EntityType = strings.TrimSpace(rec.EntityType)
	switch {
	case rec.SourceSystem == "":
		return rec, fmt.Errorf("source_system is required")
	case rec.SourcePK == "":
		return rec, fmt.Errorf("source_pk is required")
	case rec.EntityType == "":
		return rec, fmt.Errorf("entity_type is required")
	}
	if rec.Fields == nil {
		rec.Fields = map[string]any{}
	}
	return rec, nil
}

func stripUTF8BOM(r *bufio.Reader) *bufio.Reader {
	b, err := r.Peek(3)
	if err == nil && len(b) == 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		_, _ = r.Discard(3)
	}
	return r
}
