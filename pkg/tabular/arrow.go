package tabular

import (
	"fmt"
	"io"
	"os"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// storeKeyMetadata is the schema metadata entry that names the table inside a store
const storeKeyMetadata = "toxichem.key"

// ArrowCodec backs the keyed h5 store with an Arrow IPC file. The key is
// recorded in the schema metadata and must match on read.
type ArrowCodec struct {
	mem memory.Allocator
}

// NewArrowCodec creates an h5 store codec
func NewArrowCodec() *ArrowCodec {
	return &ArrowCodec{mem: memory.NewGoAllocator()}
}

func (c *ArrowCodec) Format() Format { return FormatH5 }

func storeKey(opts Options) string {
	if opts.Key != "" {
		return opts.Key
	}
	return defaultStoreKey
}

func (c *ArrowCodec) Read(path string, opts Options) (*Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	reader, err := ipc.NewFileReader(file, ipc.WithAllocator(c.mem))
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	defer reader.Close()

	schema := reader.Schema()
	key := storeKey(opts)
	md := schema.Metadata()
	stored := ""
	if idx := md.FindKey(storeKeyMetadata); idx >= 0 {
		stored = md.Values()[idx]
	}
	if stored != key {
		return nil, fmt.Errorf("key %q not found in store (available: %q)", key, stored)
	}

	ds := &Dataset{Columns: make([]string, schema.NumFields())}
	for i, field := range schema.Fields() {
		ds.Columns[i] = field.Name
	}

	for r := 0; r < reader.NumRecords(); r++ {
		rec, err := reader.Record(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read record batch %d: %w", r, err)
		}
		rows := make([][]any, rec.NumRows())
		for k := range rows {
			rows[k] = make([]any, len(ds.Columns))
		}
		for j := range ds.Columns {
			if err := readArrowColumn(rec.Column(j), j, rows); err != nil {
				return nil, fmt.Errorf("column %q: %w", ds.Columns[j], err)
			}
		}
		ds.Rows = append(ds.Rows, rows...)
	}
	return ds, nil
}

func readArrowColumn(col arrow.Array, j int, rows [][]any) error {
	for k := range rows {
		if col.IsNull(k) {
			continue
		}
		switch a := col.(type) {
		case *array.Int64:
			rows[k][j] = a.Value(k)
		case *array.Float64:
			rows[k][j] = a.Value(k)
		case *array.Boolean:
			rows[k][j] = a.Value(k)
		case *array.String:
			rows[k][j] = a.Value(k)
		default:
			return fmt.Errorf("unsupported arrow type %s", col.DataType())
		}
	}
	return nil
}

func (c *ArrowCodec) Write(ds *Dataset, path string, opts Options) error {
	kinds := make([]columnKind, len(ds.Columns))
	fields := make([]arrow.Field, len(ds.Columns))
	for j, name := range ds.Columns {
		kinds[j] = inferColumnKind(ds, j)
		var dt arrow.DataType
		switch kinds[j] {
		case kindInt:
			dt = arrow.PrimitiveTypes.Int64
		case kindFloat:
			dt = arrow.PrimitiveTypes.Float64
		case kindBool:
			dt = arrow.FixedWidthTypes.Boolean
		default:
			dt = arrow.BinaryTypes.String
		}
		fields[j] = arrow.Field{Name: name, Type: dt, Nullable: true}
	}

	md := arrow.NewMetadata([]string{storeKeyMetadata}, []string{storeKey(opts)})
	schema := arrow.NewSchema(fields, &md)

	builder := array.NewRecordBuilder(c.mem, schema)
	defer builder.Release()

	for j := range ds.Columns {
		for _, row := range ds.Rows {
			appendArrowValue(builder.Field(j), kinds[j], row[j])
		}
	}

	rec := builder.NewRecord()
	defer rec.Release()

	return writeAtomic(path, func(w io.Writer) error {
		writer, err := ipc.NewFileWriter(w, ipc.WithSchema(schema), ipc.WithAllocator(c.mem))
		if err != nil {
			return fmt.Errorf("failed to create store writer: %w", err)
		}
		if err := writer.Write(rec); err != nil {
			writer.Close()
			return fmt.Errorf("failed to write record batch: %w", err)
		}
		if err := writer.Close(); err != nil {
			return fmt.Errorf("failed to close store: %w", err)
		}
		return nil
	})
}

func appendArrowValue(b array.Builder, kind columnKind, v any) {
	if v == nil {
		b.AppendNull()
		return
	}
	switch kind {
	case kindInt:
		b.(*array.Int64Builder).Append(v.(int64))
	case kindFloat:
		switch x := v.(type) {
		case int64:
			b.(*array.Float64Builder).Append(float64(x))
		case float64:
			b.(*array.Float64Builder).Append(x)
		}
	case kindBool:
		b.(*array.BooleanBuilder).Append(v.(bool))
	default:
		b.(*array.StringBuilder).Append(CellString(v))
	}
}
