package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"optionsmetrics/internal/domain/options"
	"optionsmetrics/pkg/errors"
)

// Compile-time check
var _ options.MarketRepository = (*MarketRepository)(nil)

// MarketRepository implements options.MarketRepository on the per-asset market stores
type MarketRepository struct {
	stores *Stores
}

// NewMarketRepository creates a new market repository
func NewMarketRepository(stores *Stores) *MarketRepository {
	return &MarketRepository{stores: stores}
}

// SaveBatch stores a batch with its contracts and instrument metadata.
// A batch without an ID gets a fresh one; an empty clock is stamped with the current UTC time.
func (r *MarketRepository) SaveBatch(ctx context.Context, batch *options.CollectionBatch) error {
	if batch.Asset == "" {
		return errors.Wrap(errors.ErrInvalidInput, "batch asset is required")
	}
	batch.Asset = strings.ToUpper(batch.Asset)
	if batch.ID == "" {
		batch.ID = uuid.NewString()
	}
	if batch.CollectionDate == "" || batch.CollectionTime == "" {
		now := time.Now().UTC()
		batch.CollectionDate = now.Format(options.DateLayout)
		batch.CollectionTime = now.Format(options.TimeLayout)
	}

	contracts := make([]options.ContractSnapshot, len(batch.Contracts))
	for i, c := range batch.Contracts {
		c.BatchID = batch.ID
		contracts[i] = c
	}
	instruments := make([]options.Instrument, 0, len(batch.Instruments))
	for sym, inst := range batch.Instruments {
		if inst.Symbol == "" {
			inst.Symbol = sym
		}
		instruments = append(instruments, inst)
	}

	db, err := r.stores.Market(ctx, batch.Asset)
	if err != nil {
		return err
	}

	return r.stores.write(ctx, storeMarket, "save_batch", func(ctx context.Context) error {
		return inTx(ctx, db, func(tx *sqlx.Tx) error {
			if _, err := tx.NamedExecContext(ctx, BatchesTable.InsertSQL("INSERT OR REPLACE"), batch); err != nil {
				return errors.Wrap(err, "insert batch")
			}
			if err := insertAll(ctx, tx, ContractsTable.InsertSQL("INSERT OR REPLACE"), contracts); err != nil {
				return errors.Wrap(err, "insert contracts")
			}
			return errors.Wrap(insertAll(ctx, tx, InstrumentsTable.InsertSQL("INSERT OR REPLACE"), instruments), "insert instruments")
		})
	})
}

// LatestBatch returns the most recent batch of asset with its contracts and
// the instrument metadata of those contracts.
func (r *MarketRepository) LatestBatch(ctx context.Context, asset string) (*options.CollectionBatch, error) {
	asset = strings.ToUpper(asset)
	db, err := r.stores.Market(ctx, asset)
	if err != nil {
		return nil, err
	}

	var batch options.CollectionBatch
	err = r.stores.read(ctx, storeMarket, "latest_batch", func(ctx context.Context) error {
		query := fmt.Sprintf(`
			SELECT %s FROM batches
			WHERE asset = ?
			ORDER BY collection_date DESC, collection_time DESC
			LIMIT 1`, BatchesTable.SelectList())
		if err := db.GetContext(ctx, &batch, query, asset); err != nil {
			return err
		}

		query = fmt.Sprintf(`SELECT %s FROM contracts WHERE batch_id = ? ORDER BY symbol`, ContractsTable.SelectList())
		if err := db.SelectContext(ctx, &batch.Contracts, query, batch.ID); err != nil {
			return errors.Wrap(err, "load contracts")
		}

		var instruments []options.Instrument
		query = fmt.Sprintf(`
			SELECT %s FROM instruments
			WHERE symbol IN (SELECT symbol FROM contracts WHERE batch_id = ?)`, InstrumentsTable.SelectList())
		if err := db.SelectContext(ctx, &instruments, query, batch.ID); err != nil {
			return errors.Wrap(err, "load instruments")
		}
		batch.Instruments = make(map[string]options.Instrument, len(instruments))
		for _, inst := range instruments {
			batch.Instruments[inst.Symbol] = inst
		}
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "no batch for %s", asset)
	}
	if err != nil {
		return nil, err
	}
	return &batch, nil
}
