package sink

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/contrib/rews"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/connection/gorillaws"
	sdklog "github.com/surrealdb/surrealdb.go/pkg/logger"
	"github.com/surrealdb/surrealdb.go/surrealcbor"

	model "github.com/DexterZero/Spyro-API/internal/domain/model"
)

func init() {
	// WebSocket upgrades need HTTP/1.1; keep ALPN from negotiating h2.
	gorillaws.DefaultDialer.TLSClientConfig = &tls.Config{
		NextProtos: []string{"http/1.1"},
	}
}

// SurrealConfig holds SurrealDB connection settings.
type SurrealConfig struct {
	URL       string
	Namespace string
	Database  string
	Username  string
	Password  string
	AuthLevel string // "root" or "database"
}

// SurrealSink writes each batch to SurrealDB as one transaction. Records
// live at type::record(<table>, <key>); every write stores the block
// number it came from in _block.
type SurrealSink struct {
	conn *rews.Connection[*gorillaws.Connection]
	db   *surrealdb.DB
	log  sdklog.Logger
}

// NewSurreal connects and selects the namespace and database. The
// connection reconnects on its own with exponential backoff.
func NewSurreal(ctx context.Context, cfg SurrealConfig, handler slog.Handler) (*SurrealSink, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: surreal sink needs a url", ErrConfig)
	}
	if handler == nil {
		handler = slog.Default().Handler()
	}
	log := sdklog.New(handler)
	cdc := surrealcbor.New()

	// gorillaws appends /rpc itself.
	baseURL := strings.TrimSuffix(cfg.URL, "/rpc")

	conn := rews.New(
		func(ctx context.Context) (*gorillaws.Connection, error) {
			return gorillaws.New(&connection.Config{
				BaseURL:     baseURL,
				Marshaler:   cdc,
				Unmarshaler: cdc,
				Logger:      log,
			}), nil
		},
		5*time.Second,
		cdc,
		log,
	)
	retryer := rews.NewExponentialBackoffRetryer()
	retryer.InitialDelay = time.Second
	retryer.MaxDelay = 30 * time.Second
	retryer.Multiplier = 2.0
	retryer.MaxRetries = 10
	conn.Retryer = retryer

	if err := conn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("surreal sink: connect: %w", err)
	}
	db, err := surrealdb.FromConnection(ctx, conn)
	if err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("surreal sink: from connection: %w", err)
	}

	auth := surrealdb.Auth{Username: cfg.Username, Password: cfg.Password}
	if cfg.AuthLevel == "database" {
		auth.Namespace = cfg.Namespace
		auth.Database = cfg.Database
	}
	if cfg.Username != "" {
		if _, err := db.SignIn(ctx, auth); err != nil {
			_ = conn.Close(ctx)
			return nil, fmt.Errorf("surreal sink: signin: %w", err)
		}
	}
	if err := db.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("surreal sink: use: %w", err)
	}

	log.Info("surreal sink connected", "url", cfg.URL, "namespace", cfg.Namespace, "database", cfg.Database)
	return &SurrealSink{conn: conn, db: db, log: log}, nil
}

// Apply writes mods in one transaction. Database errors are returned as
// the driver reports them.
func (s *SurrealSink) Apply(ctx context.Context, mods []model.EntityModification) error {
	if len(mods) == 0 {
		return nil
	}
	sql, vars, err := surrealBatch(mods)
	if err != nil {
		return err
	}
	_, err = surrealdb.Query[any](ctx, s.db, sql, vars)
	return err
}

// surrealBatch renders mods as a parameterized transaction.
func surrealBatch(mods []model.EntityModification) (string, map[string]any, error) {
	var b strings.Builder
	vars := make(map[string]any, 3*len(mods))
	b.WriteString("BEGIN TRANSACTION;\n")
	for i, m := range mods {
		tbl, err := table(m.EntityType)
		if err != nil {
			return "", nil, err
		}
		n := strconv.Itoa(i)
		vars["t"+n] = tbl
		vars["k"+n] = m.Key
		rec := "type::record($t" + n + ", $k" + n + ")"

		if m.Kind != model.ModRemove {
			data := plain(m.Data)
			data["_block"] = m.Position.Number
			vars["d"+n] = data
		}

		switch m.Kind {
		case model.ModInsert:
			// Jobs are content-addressed, so a replayed insert rewrites the same record.
			b.WriteString("UPSERT " + rec + " CONTENT $d" + n + ";\n")
		case model.ModUpsert:
			b.WriteString("UPSERT " + rec + " MERGE $d" + n + ";\n")
		case model.ModUpdate:
			if m.EntityType == model.EntityProvider {
				b.WriteString("UPSERT " + rec + " MERGE $d" + n + ";\n")
			} else {
				b.WriteString("UPDATE " + rec + " MERGE $d" + n + ";\n")
			}
		case model.ModRemove:
			b.WriteString("DELETE " + rec + ";\n")
		default:
			return "", nil, fmt.Errorf("%w: %q", ErrUnsupportedOp, m.Kind)
		}
	}
	b.WriteString("COMMIT TRANSACTION;")
	return b.String(), vars, nil
}

// Get reads one record's fields, for inspection and tests.
func (s *SurrealSink) Get(ctx context.Context, t model.EntityType, key string) (map[string]any, error) {
	tbl, err := table(t)
	if err != nil {
		return nil, err
	}
	res, err := surrealdb.Query[[]map[string]any](ctx, s.db,
		"SELECT * FROM type::record($t, $k)", map[string]any{"t": tbl, "k": key})
	if err != nil {
		return nil, err
	}
	if res == nil || len(*res) == 0 || len((*res)[0].Result) == 0 {
		return nil, nil
	}
	return (*res)[0].Result[0], nil
}

// Close closes the connection.
func (s *SurrealSink) Close() error {
	s.log.Info("closing surreal sink")
	return s.conn.Close(context.Background())
}
