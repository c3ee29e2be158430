package sqlite

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/jmoiron/sqlx/reflectx"

	"optionsmetrics/internal/domain/options"
)

// Column is one column of a table definition
type Column struct {
	Name     string
	Type     string // INTEGER, REAL or TEXT
	Nullable bool
}

// Definition renders the column for CREATE TABLE and ADD COLUMN.
// NOT NULL columns carry a constant default so they can be added to populated tables.
func (c Column) Definition() string {
	if c.Nullable {
		return c.Name + " " + c.Type
	}
	return fmt.Sprintf("%s %s NOT NULL DEFAULT %s", c.Name, c.Type, c.zero())
}

func (c Column) zero() string {
	if c.Type == "TEXT" {
		return "''"
	}
	return "0"
}

// Index is a secondary index created after the table
type Index struct {
	Name    string
	Columns []string
}

// TableSpec is the versioned target shape of one table.
// Bump Version whenever Columns change so the migrator re-checks the live table.
type TableSpec struct {
	Name    string
	Version int
	Columns []Column

	// Key columns form the PRIMARY KEY, or a UNIQUE constraint when Unique is set
	Key     []string
	Unique  bool
	Indexes []Index
}

// CreateSQL renders CREATE TABLE for the spec under the given table name
func (s TableSpec) CreateSQL(name string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", name)
	for _, c := range s.Columns {
		fmt.Fprintf(&b, "\t%s,\n", c.Definition())
	}
	constraint := "PRIMARY KEY"
	if s.Unique {
		constraint = "UNIQUE"
	}
	fmt.Fprintf(&b, "\t%s (%s)\n)", constraint, strings.Join(s.Key, ", "))
	return b.String()
}

// IndexSQL renders idempotent CREATE INDEX statements
func (s TableSpec) IndexSQL() []string {
	out := make([]string, 0, len(s.Indexes))
	for _, idx := range s.Indexes {
		out = append(out, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			idx.Name, s.Name, strings.Join(idx.Columns, ", ")))
	}
	return out
}

// ColumnNames lists the columns in declaration order
func (s TableSpec) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// SelectList is the explicit projection used by reads, so columns left
// behind by an additive migration never reach the scanner.
func (s TableSpec) SelectList() string {
	return strings.Join(s.ColumnNames(), ", ")
}

// InsertSQL renders a named insert; verb is "INSERT", "INSERT OR IGNORE" or "INSERT OR REPLACE"
func (s TableSpec) InsertSQL(verb string) string {
	names := s.ColumnNames()
	return fmt.Sprintf("%s INTO %s (%s) VALUES (:%s)",
		verb, s.Name, strings.Join(names, ", "), strings.Join(names, ", :"))
}

// Column returns the named column
func (s TableSpec) Column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

var mapper = reflectx.NewMapperFunc("db", strings.ToLower)

// ColumnsOf derives columns from the db tags of a struct, including embedded structs.
// Pointer fields become nullable columns.
func ColumnsOf(v any) []Column {
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	var cols []Column
	for _, fi := range mapper.TypeMap(t).Index {
		if fi.Embedded {
			continue
		}
		ft := fi.Field.Type
		nullable := false
		if ft.Kind() == reflect.Pointer {
			nullable = true
			ft = ft.Elem()
		}
		typ, ok := sqlType(ft.Kind())
		if !ok {
			continue
		}
		cols = append(cols, Column{Name: fi.Path, Type: typ, Nullable: nullable})
	}
	return cols
}

func sqlType(k reflect.Kind) (string, bool) {
	switch k {
	case reflect.Float32, reflect.Float64:
		return "REAL", true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Bool:
		return "INTEGER", true
	case reflect.String:
		return "TEXT", true
	default:
		return "", false
	}
}

// Analytics store tables
var (
	ContractAnalyticsTable = TableSpec{
		Name:    "contract_analytics",
		Version: 1,
		Columns: ColumnsOf(options.ContractAnalytics{}),
		Key:     []string{"batch_id", "symbol"},
		Indexes: []Index{
			{Name: "idx_contract_analytics_date", Columns: []string{"asset", "collection_date", "collection_time"}},
			{Name: "idx_contract_analytics_symbol", Columns: []string{"symbol"}},
			{Name: "idx_contract_analytics_expiry", Columns: []string{"expiry_date"}},
		},
	}

	AggregateSnapshotsTable = TableSpec{
		Name:    "aggregate_snapshots",
		Version: 1,
		Columns: ColumnsOf(options.AggregateSnapshot{}),
		Key:     []string{"asset", "collection_date", "collection_time"},
		Unique:  true,
		Indexes: []Index{
			{Name: "idx_aggregate_snapshots_batch", Columns: []string{"batch_id"}},
			{Name: "idx_aggregate_snapshots_enriched", Columns: []string{"asset", "enriched_at"}},
		},
	}

	StrikeAggregatesTable = TableSpec{
		Name:    "strike_aggregates",
		Version: 1,
		Columns: ColumnsOf(options.StrikeAggregate{}),
		Key:     []string{"asset", "date", "strike"},
		Indexes: []Index{
			{Name: "idx_strike_aggregates_strike", Columns: []string{"asset", "strike"}},
		},
	}

	ExpiryAggregatesTable = TableSpec{
		Name:    "expiry_aggregates",
		Version: 1,
		Columns: ColumnsOf(options.ExpiryAggregate{}),
		Key:     []string{"asset", "expiry_date"},
	}

	VolatilitySurfaceTable = TableSpec{
		Name:    "volatility_surface",
		Version: 1,
		Columns: ColumnsOf(options.VolatilityPoint{}),
		Key:     []string{"asset", "expiry_date", "strike", "option_type"},
	}

	ContractExposuresTable = TableSpec{
		Name:    "contract_gex_dex",
		Version: 1,
		Columns: ColumnsOf(options.ContractExposure{}),
		Key:     []string{"batch_id", "symbol"},
		Indexes: []Index{
			{Name: "idx_contract_gex_dex_date", Columns: []string{"asset", "collection_date", "collection_time"}},
		},
	}
)

// Market store tables
var (
	BatchesTable = TableSpec{
		Name:    "batches",
		Version: 1,
		Columns: ColumnsOf(options.CollectionBatch{}),
		Key:     []string{"batch_id"},
		Indexes: []Index{
			{Name: "idx_batches_clock", Columns: []string{"asset", "collection_date", "collection_time"}},
		},
	}

	ContractsTable = TableSpec{
		Name:    "contracts",
		Version: 1,
		Columns: ColumnsOf(options.ContractSnapshot{}),
		Key:     []string{"batch_id", "symbol"},
	}

	InstrumentsTable = TableSpec{
		Name:    "instruments",
		Version: 1,
		Columns: ColumnsOf(options.Instrument{}),
		Key:     []string{"symbol"},
	}
)

// AnalyticsTables is the migration set of an analytics store
func AnalyticsTables() []TableSpec {
	return []TableSpec{
		ContractAnalyticsTable,
		AggregateSnapshotsTable,
		StrikeAggregatesTable,
		ExpiryAggregatesTable,
		VolatilitySurfaceTable,
		ContractExposuresTable,
	}
}

// MarketTables is the migration set of a market store
func MarketTables() []TableSpec {
	return []TableSpec{BatchesTable, ContractsTable, InstrumentsTable}
}
