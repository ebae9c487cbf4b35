package sink

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	model "github.com/DexterZero/Spyro-API/internal/domain/model"
)

// PostgresSchema creates the entity tables. Every row is keyed by the
// entity key and remembers the block of its last write.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS provider (
	key        TEXT PRIMARY KEY,
	id         TEXT NOT NULL,
	network    TEXT NOT NULL,
	stake      NUMERIC(39, 0),
	reputation NUMERIC,
	block      BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS model (
	key             TEXT PRIMARY KEY,
	id              TEXT NOT NULL,
	provider        TEXT NOT NULL,
	current_version TEXT,
	params          BIGINT,
	license         TEXT,
	block           BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS inference_job (
	key             TEXT PRIMARY KEY,
	id              BYTEA NOT NULL,
	model           TEXT,
	requester       BYTEA,
	input_hash      BYTEA,
	latency         INTEGER,
	cost            NUMERIC(39, 0),
	block_timestamp BIGINT,
	block           BIGINT NOT NULL
);`

// columns maps schema field names to column names.
var columns = map[string]string{
	model.FieldID:             "id",
	model.FieldNetwork:        "network",
	model.FieldStake:          "stake",
	model.FieldReputation:     "reputation",
	model.FieldProvider:       "provider",
	model.FieldCurrentVersion: "current_version",
	model.FieldParams:         "params",
	model.FieldLicense:        "license",
	model.FieldModel:          "model",
	model.FieldRequester:      "requester",
	model.FieldInputHash:      "input_hash",
	model.FieldLatency:        "latency",
	model.FieldCost:           "cost",
	model.FieldBlockTimestamp: "block_timestamp",
}

// PostgresSink writes each batch in one transaction through a pgx pool.
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to url and creates the tables if needed.
func NewPostgres(ctx context.Context, url string) (*PostgresSink, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: postgres sink needs a url", ErrConfig)
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("postgres sink: connect: %w", err)
	}
	if _, err := pool.Exec(ctx, PostgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres sink: init schema: %w", err)
	}
	return &PostgresSink{pool: pool}, nil
}

// Apply writes mods in one transaction.
func (s *PostgresSink) Apply(ctx context.Context, mods []model.EntityModification) error {
	if len(mods) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, m := range mods {
		sql, args, err := postgresStatement(m)
		if err != nil {
			return err
		}
		batch.Queue(sql, args...)
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
}

// postgresStatement renders one modification. Columns follow schema order
// so equal modifications produce equal statements.
func postgresStatement(m model.EntityModification) (string, []any, error) {
	tbl, err := table(m.EntityType)
	if err != nil {
		return "", nil, err
	}
	if m.Kind == model.ModRemove {
		return "DELETE FROM " + tbl + " WHERE key = $1", []any{m.Key}, nil
	}

	cols := []string{"key"}
	args := []any{m.Key}
	for _, f := range model.Schema[m.EntityType] {
		v, ok := m.Data[f.Name]
		if !ok {
			continue
		}
		arg, err := pgValue(v)
		if err != nil {
			return "", nil, fmt.Errorf("%s.%s: %w", tbl, f.Name, err)
		}
		cols = append(cols, columns[f.Name])
		args = append(args, arg)
	}
	if m.Position.Number > math.MaxInt64 {
		return "", nil, fmt.Errorf("%w: %s %s at #%d", ErrBlockRange, tbl, m.Key, m.Position.Number)
	}
	cols = append(cols, "block")
	args = append(args, int64(m.Position.Number))

	params := make([]string, len(cols))
	for i := range cols {
		params[i] = "$" + strconv.Itoa(i+1)
	}
	sets := make([]string, 0, len(cols)-1)
	for _, c := range cols[1:] {
		sets = append(sets, c+" = EXCLUDED."+c)
	}
	insert := "INSERT INTO " + tbl + " (" + strings.Join(cols, ", ") + ") VALUES (" + strings.Join(params, ", ") + ")"

	switch {
	case m.Kind == model.ModInsert:
		return insert + " ON CONFLICT (key) DO NOTHING", args, nil
	case m.Kind == model.ModUpsert, m.Kind == model.ModUpdate && m.EntityType == model.EntityProvider:
		return insert + " ON CONFLICT (key) DO UPDATE SET " + strings.Join(sets, ", "), args, nil
	case m.Kind == model.ModUpdate:
		assign := make([]string, 0, len(cols)-1)
		for i, c := range cols[1:] {
			assign = append(assign, c+" = $"+strconv.Itoa(i+2))
		}
		return "UPDATE " + tbl + " SET " + strings.Join(assign, ", ") + " WHERE key = $1", args, nil
	}
	return "", nil, fmt.Errorf("%w: %q", ErrUnsupportedOp, m.Kind)
}

func pgValue(v any) (any, error) {
	switch x := v.(type) {
	case model.Int128:
		var n pgtype.Numeric
		if err := n.Scan(x.String()); err != nil {
			return nil, err
		}
		return n, nil
	case model.Decimal:
		var n pgtype.Numeric
		if err := n.Scan(string(x)); err != nil {
			return nil, err
		}
		return n, nil
	case model.Bytes:
		return []byte(x), nil
	}
	return v, nil
}

// Close closes the pool.
func (s *PostgresSink) Close() error {
	s.pool.Close()
	return nil
}
