// Package csvdrop parses bulk CSV item drops. The expected header is
// externalRef,senderId,categoryId,weightKg,volumeM3; unknown columns are
// ignored.
package csvdrop

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"ecollect/internal/integrations"
)

type Adapter struct{}

func (a Adapter) Name() string { return "csv-drop" }

// FetchItems is a no-op for the push-style CSV source; callers hand the
// file to Parse instead.
func (a Adapter) FetchItems(since, cursor string) (integrations.ItemBatch, error) {
	return integrations.ItemBatch{}, nil
}

func (a Adapter) AckItems(refs []string) error { return nil }

// Parse reads a CSV stream into item records. Rows missing a sender or
// category are rejected with their line number.
func (a Adapter) Parse(r io.Reader) ([]integrations.ItemRecord, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := map[string]int{}
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"senderid", "categoryid"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("missing column %s", required)
		}
	}

	var out []integrations.ItemRecord
	line := 1
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rec := integrations.ItemRecord{
			ExternalRef: field(row, col, "externalref"),
			SenderID:    field(row, col, "senderid"),
			CategoryID:  field(row, col, "categoryid"),
		}
		if rec.SenderID == "" || rec.CategoryID == "" {
			return nil, fmt.Errorf("line %d: senderId and categoryId required", line)
		}
		rec.WeightKg, _ = strconv.ParseFloat(field(row, col, "weightkg"), 64)
		rec.VolumeM3, _ = strconv.ParseFloat(field(row, col, "volumem3"), 64)
		out = append(out, rec)
	}
	return out, nil
}

func field(row []string, col map[string]int, name string) string {
	i, ok := col[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
