package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vietddude/gamelink/internal/core/domain"
)

// Store implements storage.BlockStore on the blocks table. The full block
// (moves included) is kept as one JSON document per height.
type Store struct {
	db *DB
}

func NewStore(db *DB) *Store {
	return &Store{db: db}
}

func (s *Store) GetRange(
	ctx context.Context,
	start, count uint64,
) ([]domain.Block, error) {
	query := `
		SELECT data FROM blocks
		WHERE height >= $1 AND height < $2
		ORDER BY height
	`
	rows, err := s.db.QueryContext(ctx, query, int64(start), int64(start+count))
	if err != nil {
		return nil, fmt.Errorf("failed to query blocks: %w", err)
	}
	defer rows.Close()

	blocks := make([]domain.Block, 0, count)
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan block: %w", err)
		}
		var blk domain.Block
		if err := json.Unmarshal(data, &blk); err != nil {
			return nil, fmt.Errorf("corrupt cached block: %w", err)
		}
		blocks = append(blocks, blk)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if uint64(len(blocks)) != count {
		return nil, nil
	}
	return blocks, nil
}

func (s *Store) PutRange(ctx context.Context, blocks []domain.Block) error {
	if len(blocks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO blocks (height, hash, data)
		VALUES ($1, $2, $3)
		ON CONFLICT (height) DO UPDATE SET
			hash = EXCLUDED.hash,
			data = EXCLUDED.data
	`
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, blk := range blocks {
		data, err := json.Marshal(blk)
		if err != nil {
			return fmt.Errorf("failed to marshal block %s: %w", blk.Hash, err)
		}
		if _, err := stmt.ExecContext(ctx, int64(blk.Height), blk.Hash, data); err != nil {
			return fmt.Errorf("failed to save block %s: %w", blk.Hash, err)
		}
	}
	return tx.Commit()
}

func (s *Store) Close() error {
	return s.db.Close()
}
