package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"optionsmetrics/internal/domain/options"
	"optionsmetrics/pkg/errors"
)

// Compile-time check
var _ options.AnalyticsRepository = (*AnalyticsRepository)(nil)

// AnalyticsRepository implements options.AnalyticsRepository on the per-asset analytics stores
type AnalyticsRepository struct {
	stores *Stores
}

// NewAnalyticsRepository creates a new analytics repository
func NewAnalyticsRepository(stores *Stores) *AnalyticsRepository {
	return &AnalyticsRepository{stores: stores}
}

var enrichmentSet = func() string {
	cols := ColumnsOf(options.AggregateEnrichment{})
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprintf("%s = :%s", c.Name, c.Name)
	}
	return strings.Join(parts, ", ")
}()

type enrichmentUpdate struct {
	Asset   string `db:"asset"`
	BatchID string `db:"batch_id"`
	options.AggregateEnrichment
}

// SaveContractAnalytics stores the rows of one batch in a single transaction.
// Rerunning a batch replaces its rows.
func (r *AnalyticsRepository) SaveContractAnalytics(ctx context.Context, asset string, rows []options.ContractAnalytics) error {
	if len(rows) == 0 {
		return nil
	}
	db, err := r.stores.Analytics(ctx, asset)
	if err != nil {
		return err
	}

	return r.stores.write(ctx, storeAnalytics, "save_contract_analytics", func(ctx context.Context) error {
		return inTx(ctx, db, func(tx *sqlx.Tx) error {
			return insertAll(ctx, tx, ContractAnalyticsTable.InsertSQL("INSERT OR REPLACE"), rows)
		})
	})
}

// GetContractAnalytics returns the rows of one batch ordered by symbol
func (r *AnalyticsRepository) GetContractAnalytics(ctx context.Context, asset, batchID string) ([]options.ContractAnalytics, error) {
	db, err := r.stores.Analytics(ctx, asset)
	if err != nil {
		return nil, err
	}

	var rows []options.ContractAnalytics
	query := fmt.Sprintf(`SELECT %s FROM contract_analytics WHERE batch_id = ? ORDER BY symbol`,
		ContractAnalyticsTable.SelectList())

	err = r.stores.read(ctx, storeAnalytics, "get_contract_analytics", func(ctx context.Context) error {
		return db.SelectContext(ctx, &rows, query, batchID)
	})
	return rows, err
}

// AggregateExists reports whether a snapshot for the collection clock is already stored
func (r *AnalyticsRepository) AggregateExists(ctx context.Context, asset, date, clock string) (bool, error) {
	db, err := r.stores.Analytics(ctx, asset)
	if err != nil {
		return false, err
	}

	var exists bool
	err = r.stores.read(ctx, storeAnalytics, "aggregate_exists", func(ctx context.Context) error {
		return db.GetContext(ctx, &exists, `
			SELECT EXISTS (
				SELECT 1 FROM aggregate_snapshots
				WHERE asset = ? AND collection_date = ? AND collection_time = ?
			)`, asset, date, clock)
	})
	return exists, err
}

// InsertAggregate stores snap unless a row for its (asset, date, time) exists.
// It reports whether a row was written.
func (r *AnalyticsRepository) InsertAggregate(ctx context.Context, snap *options.AggregateSnapshot) (bool, error) {
	exists, err := r.AggregateExists(ctx, snap.Asset, snap.CollectionDate, snap.CollectionTime)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	db, err := r.stores.Analytics(ctx, snap.Asset)
	if err != nil {
		return false, err
	}

	var inserted bool
	err = r.stores.write(ctx, storeAnalytics, "insert_aggregate", func(ctx context.Context) error {
		// the unique key still guards against a concurrent writer between the check and here
		res, err := db.NamedExecContext(ctx, AggregateSnapshotsTable.InsertSQL("INSERT OR IGNORE"), snap)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		inserted = n > 0
		return err
	})
	return inserted, err
}

// UpdateAggregateEnrichment writes the enrichment columns of one snapshot
func (r *AnalyticsRepository) UpdateAggregateEnrichment(ctx context.Context, asset, batchID string, e options.AggregateEnrichment) error {
	db, err := r.stores.Analytics(ctx, asset)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`UPDATE aggregate_snapshots SET %s WHERE asset = :asset AND batch_id = :batch_id`, enrichmentSet)
	arg := enrichmentUpdate{Asset: asset, BatchID: batchID, AggregateEnrichment: e}

	return r.stores.write(ctx, storeAnalytics, "update_enrichment", func(ctx context.Context) error {
		res, err := db.NamedExecContext(ctx, query, arg)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return errors.Wrapf(errors.ErrNotFound, "aggregate %s/%s", asset, batchID)
		}
		return nil
	})
}

// GetAggregate returns the snapshot of one batch
func (r *AnalyticsRepository) GetAggregate(ctx context.Context, asset, batchID string) (*options.AggregateSnapshot, error) {
	db, err := r.stores.Analytics(ctx, asset)
	if err != nil {
		return nil, err
	}

	var snap options.AggregateSnapshot
	query := fmt.Sprintf(`SELECT %s FROM aggregate_snapshots WHERE asset = ? AND batch_id = ?`,
		AggregateSnapshotsTable.SelectList())

	err = r.stores.read(ctx, storeAnalytics, "get_aggregate", func(ctx context.Context) error {
		return db.GetContext(ctx, &snap, query, asset, batchID)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "aggregate %s/%s", asset, batchID)
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// GetAggregatesBetween returns snapshots with fromDate <= collection_date <= toDate in collection order
func (r *AnalyticsRepository) GetAggregatesBetween(ctx context.Context, asset, fromDate, toDate string) ([]options.AggregateSnapshot, error) {
	db, err := r.stores.Analytics(ctx, asset)
	if err != nil {
		return nil, err
	}

	var rows []options.AggregateSnapshot
	query := fmt.Sprintf(`
		SELECT %s FROM aggregate_snapshots
		WHERE asset = ? AND collection_date BETWEEN ? AND ?
		ORDER BY collection_date, collection_time`, AggregateSnapshotsTable.SelectList())

	err = r.stores.read(ctx, storeAnalytics, "get_aggregates_between", func(ctx context.Context) error {
		return db.SelectContext(ctx, &rows, query, asset, fromDate, toDate)
	})
	return rows, err
}

// VolatilityHistory returns the reference window of q.BeforeBatchID, most recent first.
// An empty BeforeBatchID selects the latest rows.
func (r *AnalyticsRepository) VolatilityHistory(ctx context.Context, q options.HistoryQuery) ([]options.VolatilityObservation, error) {
	if q.Limit <= 0 {
		return nil, errors.Wrap(errors.ErrInvalidInput, "history limit must be positive")
	}
	db, err := r.stores.Analytics(ctx, q.Asset)
	if err != nil {
		return nil, err
	}

	var out []options.VolatilityObservation
	err = r.stores.read(ctx, storeAnalytics, "volatility_history", func(ctx context.Context) error {
		where := []string{"asset = ?", "avg_iv > 0"}
		args := []interface{}{q.Asset}

		if q.BeforeBatchID != "" {
			var clock struct {
				Date string `db:"collection_date"`
				Time string `db:"collection_time"`
			}
			err := db.GetContext(ctx, &clock, `
				SELECT collection_date, collection_time FROM aggregate_snapshots
				WHERE asset = ? AND batch_id = ?`, q.Asset, q.BeforeBatchID)
			if errors.Is(err, sql.ErrNoRows) {
				return errors.Wrapf(errors.ErrNotFound, "aggregate %s/%s", q.Asset, q.BeforeBatchID)
			}
			if err != nil {
				return err
			}
			where = append(where, "(collection_date, collection_time) < (?, ?)")
			args = append(args, clock.Date, clock.Time)
		}
		if q.RequireRealized {
			where = append(where, "realized_volatility IS NOT NULL", "historical_volatility IS NOT NULL")
		}
		args = append(args, q.Limit)

		query := fmt.Sprintf(`
			SELECT batch_id, collection_date, collection_time, avg_iv, realized_volatility, historical_volatility
			FROM aggregate_snapshots
			WHERE %s
			ORDER BY collection_date DESC, collection_time DESC
			LIMIT ?`, strings.Join(where, " AND "))
		return db.SelectContext(ctx, &out, query, args...)
	})
	return out, err
}

// ReplaceStrikeAggregates swaps all strike rows of asset, per-expiry and cumulative alike
func (r *AnalyticsRepository) ReplaceStrikeAggregates(ctx context.Context, asset string, rows []options.StrikeAggregate) error {
	return r.replace(ctx, asset, "replace_strike_aggregates", StrikeAggregatesTable, rows)
}

// ReplaceExpiryAggregates swaps all expiry rows of asset
func (r *AnalyticsRepository) ReplaceExpiryAggregates(ctx context.Context, asset string, rows []options.ExpiryAggregate) error {
	return r.replace(ctx, asset, "replace_expiry_aggregates", ExpiryAggregatesTable, rows)
}

// ReplaceVolatilitySurface swaps the surface of asset
func (r *AnalyticsRepository) ReplaceVolatilitySurface(ctx context.Context, asset string, rows []options.VolatilityPoint) error {
	return r.replace(ctx, asset, "replace_volatility_surface", VolatilitySurfaceTable, rows)
}

func (r *AnalyticsRepository) replace(ctx context.Context, asset, op string, spec TableSpec, rows any) error {
	db, err := r.stores.Analytics(ctx, asset)
	if err != nil {
		return err
	}

	return r.stores.write(ctx, storeAnalytics, op, func(ctx context.Context) error {
		return inTx(ctx, db, func(tx *sqlx.Tx) error {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE asset = ?", spec.Name), asset); err != nil {
				return errors.Wrapf(err, "clear %s", spec.Name)
			}
			query := spec.InsertSQL("INSERT OR REPLACE")
			switch v := rows.(type) {
			case []options.StrikeAggregate:
				return insertAll(ctx, tx, query, v)
			case []options.ExpiryAggregate:
				return insertAll(ctx, tx, query, v)
			case []options.VolatilityPoint:
				return insertAll(ctx, tx, query, v)
			default:
				return errors.Wrapf(errors.ErrInvalidInput, "unsupported rows %T", rows)
			}
		})
	})
}

// GetStrikeAggregates returns the strike rows of one expiry date, or options.CumulativeDate
func (r *AnalyticsRepository) GetStrikeAggregates(ctx context.Context, asset, date string) ([]options.StrikeAggregate, error) {
	db, err := r.stores.Analytics(ctx, asset)
	if err != nil {
		return nil, err
	}

	var rows []options.StrikeAggregate
	query := fmt.Sprintf(`SELECT %s FROM strike_aggregates WHERE asset = ? AND date = ? ORDER BY strike`,
		StrikeAggregatesTable.SelectList())

	err = r.stores.read(ctx, storeAnalytics, "get_strike_aggregates", func(ctx context.Context) error {
		return db.SelectContext(ctx, &rows, query, asset, date)
	})
	return rows, err
}

// GetStrikeHistory returns every row of one strike across expiry dates
func (r *AnalyticsRepository) GetStrikeHistory(ctx context.Context, asset string, strike float64) ([]options.StrikeAggregate, error) {
	db, err := r.stores.Analytics(ctx, asset)
	if err != nil {
		return nil, err
	}

	var rows []options.StrikeAggregate
	query := fmt.Sprintf(`SELECT %s FROM strike_aggregates WHERE asset = ? AND strike = ? ORDER BY date`,
		StrikeAggregatesTable.SelectList())

	err = r.stores.read(ctx, storeAnalytics, "get_strike_history", func(ctx context.Context) error {
		return db.SelectContext(ctx, &rows, query, asset, strike)
	})
	return rows, err
}

// GetExpiryAggregates returns the expiry rows of asset, nearest first
func (r *AnalyticsRepository) GetExpiryAggregates(ctx context.Context, asset string) ([]options.ExpiryAggregate, error) {
	db, err := r.stores.Analytics(ctx, asset)
	if err != nil {
		return nil, err
	}

	var rows []options.ExpiryAggregate
	query := fmt.Sprintf(`SELECT %s FROM expiry_aggregates WHERE asset = ? ORDER BY expiry_date`,
		ExpiryAggregatesTable.SelectList())

	err = r.stores.read(ctx, storeAnalytics, "get_expiry_aggregates", func(ctx context.Context) error {
		return db.SelectContext(ctx, &rows, query, asset)
	})
	return rows, err
}

// GetVolatilitySurface returns the surface of asset ordered by expiry, strike and type
func (r *AnalyticsRepository) GetVolatilitySurface(ctx context.Context, asset string) ([]options.VolatilityPoint, error) {
	db, err := r.stores.Analytics(ctx, asset)
	if err != nil {
		return nil, err
	}

	var rows []options.VolatilityPoint
	query := fmt.Sprintf(`SELECT %s FROM volatility_surface WHERE asset = ? ORDER BY expiry_date, strike, option_type`,
		VolatilitySurfaceTable.SelectList())

	err = r.stores.read(ctx, storeAnalytics, "get_volatility_surface", func(ctx context.Context) error {
		return db.SelectContext(ctx, &rows, query, asset)
	})
	return rows, err
}

// SaveContractExposures replaces the exposure audit rows of one batch
func (r *AnalyticsRepository) SaveContractExposures(ctx context.Context, asset, batchID string, rows []options.ContractExposure) error {
	db, err := r.stores.Analytics(ctx, asset)
	if err != nil {
		return err
	}

	return r.stores.write(ctx, storeAnalytics, "save_contract_exposures", func(ctx context.Context) error {
		return inTx(ctx, db, func(tx *sqlx.Tx) error {
			if _, err := tx.ExecContext(ctx, `DELETE FROM contract_gex_dex WHERE batch_id = ?`, batchID); err != nil {
				return errors.Wrap(err, "clear contract_gex_dex")
			}
			return insertAll(ctx, tx, ContractExposuresTable.InsertSQL("INSERT OR REPLACE"), rows)
		})
	})
}

// GetContractExposures returns the exposure audit rows of one batch
func (r *AnalyticsRepository) GetContractExposures(ctx context.Context, asset, batchID string) ([]options.ContractExposure, error) {
	db, err := r.stores.Analytics(ctx, asset)
	if err != nil {
		return nil, err
	}

	var rows []options.ContractExposure
	query := fmt.Sprintf(`SELECT %s FROM contract_gex_dex WHERE batch_id = ? ORDER BY symbol`,
		ContractExposuresTable.SelectList())

	err = r.stores.read(ctx, storeAnalytics, "get_contract_exposures", func(ctx context.Context) error {
		return db.SelectContext(ctx, &rows, query, batchID)
	})
	return rows, err
}
