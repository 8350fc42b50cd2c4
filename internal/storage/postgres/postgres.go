package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/Kenny427/vault-sub003/pkg/models"
)

// Store is the durable home of fills, positions, theses and feed archives.
// Methods return raw errors; callers translate them into the API taxonomy.
type Store struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func New(db *pgxpool.Pool, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// NewPool dials Postgres and verifies the connection before returning.
func NewPool(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *Store) GetPosition(ctx context.Context, userID string, itemID int) (models.Position, bool, error) {
	query := `
		SELECT user_id, item_id, item_name, quantity, avg_buy_price,
		       realized_profit, last_price, updated_at
		FROM positions
		WHERE user_id = $1 AND item_id = $2
	`

	var pos models.Position
	err := s.db.QueryRow(ctx, query, userID, itemID).Scan(
		&pos.UserID,
		&pos.ItemID,
		&pos.ItemName,
		&pos.Quantity,
		&pos.AvgBuyPrice,
		&pos.RealizedProfit,
		&pos.LastPrice,
		&pos.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Position{}, false, nil
	}
	if err != nil {
		return models.Position{}, false, err
	}
	return pos, true, nil
}

func (s *Store) ListPositions(ctx context.Context, userID string) ([]models.Position, error) {
	query := `
		SELECT user_id, item_id, item_name, quantity, avg_buy_price,
		       realized_profit, last_price, updated_at
		FROM positions
		WHERE user_id = $1
		ORDER BY item_id
	`

	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []models.Position
	for rows.Next() {
		var pos models.Position
		err := rows.Scan(
			&pos.UserID,
			&pos.ItemID,
			&pos.ItemName,
			&pos.Quantity,
			&pos.AvgBuyPrice,
			&pos.RealizedProfit,
			&pos.LastPrice,
			&pos.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}

// SaveFill records the fill and the position it produced in one transaction,
// so the fill log and the position table cannot drift apart.
func (s *Store) SaveFill(ctx context.Context, fill models.Fill, pos models.Position) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO fills (user_id, item_id, item_name, side, quantity, price, filled_at, seq_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		fill.UserID,
		fill.ItemID,
		fill.ItemName,
		fill.Side,
		fill.Quantity,
		fill.Price,
		time.UnixMicro(fill.Timestamp),
		fill.SeqID,
	)
	if err != nil {
		return fmt.Errorf("insert fill: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO positions (user_id, item_id, item_name, quantity, avg_buy_price,
		                       realized_profit, last_price, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, item_id) DO UPDATE SET
			item_name = EXCLUDED.item_name,
			quantity = EXCLUDED.quantity,
			avg_buy_price = EXCLUDED.avg_buy_price,
			realized_profit = EXCLUDED.realized_profit,
			last_price = EXCLUDED.last_price,
			updated_at = EXCLUDED.updated_at`,
		pos.UserID,
		pos.ItemID,
		pos.ItemName,
		pos.Quantity,
		pos.AvgBuyPrice,
		pos.RealizedProfit,
		pos.LastPrice,
		pos.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert position: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *Store) InsertArchive(ctx context.Context, rec models.ArchiveRecord) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO price_archives (source, payload, fetched_at)
		VALUES ($1, $2, $3)
		RETURNING id`,
		rec.Source, rec.Payload, rec.FetchedAt,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) ListEnabledPoolItems(ctx context.Context) ([]models.PoolItem, error) {
	query := `
		SELECT item_id, item_name, priority, enabled
		FROM pool_items
		WHERE enabled
		ORDER BY priority DESC
	`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.PoolItem
	for rows.Next() {
		var item models.PoolItem
		if err := rows.Scan(&item.ItemID, &item.ItemName, &item.Priority, &item.Enabled); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) ListThesisItemIDs(ctx context.Context, userID string) (map[int]bool, error) {
	rows, err := s.db.Query(ctx, `SELECT item_id FROM theses WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[int]bool)
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// InsertTheses writes the given theses, skipping any (user, item) pair that
// already exists, and reports how many rows were actually created.
func (s *Store) InsertTheses(ctx context.Context, theses []models.Thesis) (int, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	inserted := 0
	for _, th := range theses {
		tag, err := tx.Exec(ctx, `
			INSERT INTO theses (user_id, item_id, item_name, priority, target_buy, target_sell, notes, active)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (user_id, item_id) DO NOTHING`,
			th.UserID,
			th.ItemID,
			th.ItemName,
			th.Priority,
			th.TargetBuy,
			th.TargetSell,
			th.Notes,
			th.Active,
		)
		if err != nil {
			return 0, fmt.Errorf("insert thesis for item %d: %w", th.ItemID, err)
		}
		inserted += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}

	s.logger.Debug("Theses inserted", zap.Int("count", inserted))
	return inserted, nil
}
