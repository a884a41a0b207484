package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/nvandessel/meccsim/internal/engine"
	"github.com/nvandessel/meccsim/internal/metrics"
	"github.com/nvandessel/meccsim/internal/scenario"
)

func simulate(t *testing.T, cfg scenario.Config, steps int) *metrics.Table {
	t.Helper()
	table, err := engine.Simulate(context.Background(), cfg, steps, nil, nil)
	if err != nil {
		t.Fatalf("Simulate() error = %v", err)
	}
	return table
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"csv", FormatCSV, false},
		{"JSON", FormatJSON, false},
		{" arrow ", FormatArrow, false},
		{"xlsx", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFormatFromPath(t *testing.T) {
	tests := []struct {
		path    string
		want    Format
		wantErr bool
	}{
		{"out.csv", FormatCSV, false},
		{"dir/run.JSON", FormatJSON, false},
		{"run.arrow", FormatArrow, false},
		{"run.ipc", FormatArrow, false},
		{"run", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := FormatFromPath(tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("FormatFromPath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("FormatFromPath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestWriteCSV(t *testing.T) {
	table := simulate(t, scenario.Alcohol(), 3)

	var buf bytes.Buffer
	if err := WriteCSV(&buf, table); err != nil {
		t.Fatalf("WriteCSV() error = %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("reading csv: %v", err)
	}
	if len(records) != table.Len()+1 {
		t.Fatalf("csv has %d records, want %d", len(records), table.Len()+1)
	}

	header := records[0]
	if header[0] != metrics.ColStep {
		t.Errorf("first column = %q, want %q", header[0], metrics.ColStep)
	}
	if header[len(header)-1] != ColFinal {
		t.Errorf("last column = %q, want %q", header[len(header)-1], ColFinal)
	}
	if !strings.Contains(strings.Join(header, ","), "Job Centre Contacts") {
		t.Errorf("header missing category column: %v", header)
	}

	first := records[1]
	if first[0] != "0" || first[len(first)-1] != "false" {
		t.Errorf("first row = %v, want step 0 and not final", first)
	}
	last := records[len(records)-1]
	if last[len(last)-1] != "true" {
		t.Errorf("last row Final = %q, want true", last[len(last)-1])
	}
}

func TestWriteJSON(t *testing.T) {
	table := simulate(t, scenario.Smoking(), 4)

	var buf bytes.Buffer
	if err := WriteJSON(&buf, table); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}

	var got metrics.Table
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("decoding json: %v", err)
	}
	if !reflect.DeepEqual(got.Stages, table.Stages) || len(got.Rows) != table.Len() {
		t.Errorf("decoded table = %+v, want %+v", got, table)
	}
}

func TestArrow_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		cfg  scenario.Config
	}{
		{"binary", scenario.Smoking()},
		{"categories", scenario.Alcohol()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := simulate(t, tt.cfg, 6)

			var buf bytes.Buffer
			if err := WriteArrow(&buf, table); err != nil {
				t.Fatalf("WriteArrow() error = %v", err)
			}
			got, err := ReadArrow(&buf)
			if err != nil {
				t.Fatalf("ReadArrow() error = %v", err)
			}
			if !reflect.DeepEqual(got.Stages, table.Stages) {
				t.Errorf("stages = %v, want %v", got.Stages, table.Stages)
			}
			if !reflect.DeepEqual(got.Categories, table.Categories) {
				t.Errorf("categories = %v, want %v", got.Categories, table.Categories)
			}
			if !reflect.DeepEqual(got.Rows, table.Rows) {
				t.Errorf("rows differ after round trip\n got: %+v\nwant: %+v", got.Rows, table.Rows)
			}
		})
	}
}

func TestArrowSchema_Fields(t *testing.T) {
	table := simulate(t, scenario.Smoking(), 1)
	schema, err := ArrowSchema(table)
	if err != nil {
		t.Fatal(err)
	}
	if schema.NumFields() != len(table.Columns())+1 {
		t.Errorf("schema has %d fields, want %d", schema.NumFields(), len(table.Columns())+1)
	}
	if idx := schema.FieldIndices(metrics.ColMeanFinalStageTime); len(idx) != 1 {
		t.Errorf("schema missing %q", metrics.ColMeanFinalStageTime)
	}
}

func TestReadArrow_Garbage(t *testing.T) {
	if _, err := ReadArrow(strings.NewReader("not arrow")); err == nil {
		t.Error("ReadArrow() on garbage should fail")
	}
}

func TestWriteFile(t *testing.T) {
	table := simulate(t, scenario.Smoking(), 2)
	dir := t.TempDir()
	for _, f := range Formats() {
		path := filepath.Join(dir, "nested", "out."+string(f))
		if err := WriteFile(path, f, table); err != nil {
			t.Fatalf("WriteFile(%s) error = %v", f, err)
		}
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("stat %s: %v", path, err)
		}
		if info.Size() == 0 {
			t.Errorf("%s export is empty", f)
		}
	}

	if err := Write(&bytes.Buffer{}, Format("xml"), table); err == nil {
		t.Error("Write() with unknown format should fail")
	}
	if err := Write(&bytes.Buffer{}, FormatCSV, nil); err == nil {
		t.Error("Write() with nil table should fail")
	}
}
