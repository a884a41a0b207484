package export

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"

	"github.com/nvandessel/meccsim/internal/metrics"
)

// Schema metadata keys carrying the table's stage and category names.
const (
	MetaStages     = "meccsim.stages"
	MetaCategories = "meccsim.categories"
)

// ArrowSchema returns the Arrow schema for t: one int64 or float64 field per
// metrics column plus a boolean Final field.
func ArrowSchema(t *metrics.Table) (*arrow.Schema, error) {
	stages, err := json.Marshal(t.Stages)
	if err != nil {
		return nil, err
	}
	categories, err := json.Marshal(t.Categories)
	if err != nil {
		return nil, err
	}

	cols := t.Columns()
	fields := make([]arrow.Field, 0, len(cols)+1)
	for _, c := range cols {
		typ := arrow.DataType(arrow.PrimitiveTypes.Float64)
		if c.Integer {
			typ = arrow.PrimitiveTypes.Int64
		}
		fields = append(fields, arrow.Field{Name: c.Name, Type: typ})
	}
	fields = append(fields, arrow.Field{Name: ColFinal, Type: arrow.FixedWidthTypes.Boolean})

	md := arrow.NewMetadata(
		[]string{MetaStages, MetaCategories},
		[]string{string(stages), string(categories)},
	)
	return arrow.NewSchema(fields, &md), nil
}

// WriteArrow writes t as a single-record Arrow IPC stream.
func WriteArrow(w io.Writer, t *metrics.Table) error {
	schema, err := ArrowSchema(t)
	if err != nil {
		return fmt.Errorf("building arrow schema: %w", err)
	}

	mem := memory.NewGoAllocator()
	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	cols := t.Columns()
	for _, r := range t.Rows {
		for i, c := range cols {
			v := c.Value(r)
			if c.Integer {
				b.Field(i).(*array.Int64Builder).Append(int64(v))
			} else {
				b.Field(i).(*array.Float64Builder).Append(v)
			}
		}
		b.Field(len(cols)).(*array.BooleanBuilder).Append(r.Final)
	}

	rec := b.NewRecord()
	defer rec.Release()

	iw := ipc.NewWriter(w, ipc.WithSchema(schema), ipc.WithAllocator(mem))
	if err := iw.Write(rec); err != nil {
		iw.Close()
		return fmt.Errorf("writing arrow record: %w", err)
	}
	if err := iw.Close(); err != nil {
		return fmt.Errorf("closing arrow writer: %w", err)
	}
	return nil
}

// ReadArrow reads a stream written by WriteArrow back into a table.
func ReadArrow(r io.Reader) (*metrics.Table, error) {
	rdr, err := ipc.NewReader(r, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return nil, fmt.Errorf("opening arrow stream: %w", err)
	}
	defer rdr.Release()

	schema := rdr.Schema()
	t, err := tableFromMetadata(schema.Metadata())
	if err != nil {
		return nil, err
	}

	stages, categories := len(t.Stages), len(t.Categories)
	want := t.Columns()
	if schema.NumFields() != len(want)+1 {
		return nil, fmt.Errorf("arrow schema has %d fields, want %d", schema.NumFields(), len(want)+1)
	}
	for i, c := range want {
		if name := schema.Field(i).Name; name != c.Name {
			return nil, fmt.Errorf("arrow field %d is %q, want %q", i, name, c.Name)
		}
	}

	for rdr.Next() {
		rec := rdr.Record()
		ints := func(col int) *array.Int64 { return rec.Column(col).(*array.Int64) }
		for j := 0; j < int(rec.NumRows()); j++ {
			row := metrics.Row{
				Step:        int(ints(0).Value(j)),
				StageCounts: make([]int, stages),
			}
			col := 1
			for s := 0; s < stages; s++ {
				row.StageCounts[s] = int(ints(col).Value(j))
				col++
			}
			row.TransitionAttempts = int(ints(col).Value(j))
			row.SuccessfulTransitions = int(ints(col + 1).Value(j))
			row.Contacts = int(ints(col + 2).Value(j))
			row.Interventions = int(ints(col + 3).Value(j))
			row.PeopleWithIntervention = int(ints(col + 4).Value(j))
			row.ImprovedThroughChange = int(ints(col + 5).Value(j))
			row.MeanFinalStageTime = rec.Column(col + 6).(*array.Float64).Value(j)
			col += 7
			if categories > 0 {
				row.CategoryContacts = make([]int, categories)
				row.CategoryInterventions = make([]int, categories)
				for c := 0; c < categories; c++ {
					row.CategoryContacts[c] = int(ints(col).Value(j))
					row.CategoryInterventions[c] = int(ints(col + 1).Value(j))
					col += 2
				}
			}
			row.Final = rec.Column(col).(*array.Boolean).Value(j)
			t.Append(row)
		}
	}
	if err := rdr.Err(); err != nil {
		return nil, fmt.Errorf("reading arrow records: %w", err)
	}
	return t, nil
}

func tableFromMetadata(md arrow.Metadata) (*metrics.Table, error) {
	var stages, categories []string
	idx := md.FindKey(MetaStages)
	if idx < 0 {
		return nil, fmt.Errorf("arrow schema is missing %s metadata", MetaStages)
	}
	if err := json.Unmarshal([]byte(md.Values()[idx]), &stages); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", MetaStages, err)
	}
	if idx := md.FindKey(MetaCategories); idx >= 0 {
		if err := json.Unmarshal([]byte(md.Values()[idx]), &categories); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", MetaCategories, err)
		}
	}
	return metrics.NewTable(stages, categories), nil
}
