// Package source reads source-record streams for the CLI. Real producers
// (CRM exporters, spreadsheet importers) live outside this repository;
// the CSV reader here is the minimal collaborator for batch runs.
package source

import (
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/resolve-cli/internal/model"
)

// Reserved column names; everything else lands in Attributes.
const (
	colSourceID        = "source_id"
	colSourceSystem    = "source_system"
	colRawName         = "raw_name"
	colReferenceNumber = "reference_number"
)

// ReadCSV parses source records from a CSV file with a header row.
// Required columns: source_id, raw_name. Optional: source_system,
// reference_number. Remaining columns are carried as attributes.
func ReadCSV(path string) ([]model.SourceRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "source: open %s", path)
	}
	defer f.Close()

	records, err := parse(f)
	if err != nil {
		return nil, eris.Wrapf(err, "source: parse %s", path)
	}
	return records, nil
}

func parse(r io.Reader) ([]model.SourceRecord, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, eris.New("empty file")
	}
	if err != nil {
		return nil, eris.Wrap(err, "read header")
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := cols[colSourceID]; !ok {
		return nil, eris.New("missing source_id column")
	}
	if _, ok := cols[colRawName]; !ok {
		return nil, eris.New("missing raw_name column")
	}

	var out []model.SourceRecord
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "line %d", line)
		}

		rec := model.SourceRecord{}
		for name, idx := range cols {
			if idx >= len(row) {
				continue
			}
			val := strings.TrimSpace(row[idx])
			switch name {
			case colSourceID:
				rec.SourceID = val
			case colSourceSystem:
				rec.SourceSystem = val
			case colRawName:
				rec.RawName = val
			case colReferenceNumber:
				rec.ReferenceNumber = val
			default:
				if val != "" {
					if rec.Attributes == nil {
						rec.Attributes = make(map[string]string)
					}
					rec.Attributes[name] = val
				}
			}
		}

		if rec.SourceID == "" {
			return nil, eris.Errorf("line %d: empty source_id", line)
		}
		out = append(out, rec)
	}

	return out, nil
}
