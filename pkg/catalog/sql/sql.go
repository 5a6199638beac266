// Package sql keeps the observation catalog in a SQL database:
// PostgreSQL in production, ql for single-node deployments and tests.
package sql

import (
	"context"
	"database/sql"
	"net/url"
	"os"

	"github.com/Masterminds/squirrel"
	_ "github.com/cznic/ql/driver"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/small-bodies-node/sbnsis/pkg/catalog"
	siserr "github.com/small-bodies-node/sbnsis/pkg/errors"
)

var (
	ErrNoSchemaDefinedForDriver = errors.New("schema not defined for driver")

	qlSchema = `
      CREATE TABLE IF NOT EXISTS observations
        (obs_id            string NOT NULL,
         collection        string NOT NULL,
         facility          string NOT NULL,
         instrument        string NOT NULL,
         data_product_type string NOT NULL,
         calibration_level int64 NOT NULL,
         target            string NOT NULL,
         pixel_scale       float64,
         image_url         string NOT NULL,
         label_url         string NOT NULL);
      CREATE UNIQUE INDEX IF NOT EXISTS observations_obs_id ON observations (obs_id);
    `

	pgSchema = `
      CREATE TABLE IF NOT EXISTS observations
        (obs_id            text PRIMARY KEY,
         collection        text NOT NULL,
         facility          text NOT NULL,
         instrument        text NOT NULL,
         data_product_type text NOT NULL,
         calibration_level integer NOT NULL,
         target            text NOT NULL,
         pixel_scale       double precision,
         image_url         text NOT NULL,
         label_url         text NOT NULL);
      CREATE INDEX IF NOT EXISTS observations_collection ON observations (collection, facility, instrument);
    `

	schemaByDriver = map[string]string{
		"ql":       qlSchema,
		"ql-mem":   qlSchema,
		"postgres": pgSchema,
	}

	columns = []string{
		"obs_id", "collection", "facility", "instrument", "data_product_type",
		"calibration_level", "target", "pixel_scale", "image_url", "label_url",
	}
)

// DriverForScheme maps a database URL scheme to a driver name.
func DriverForScheme(scheme string) string {
	switch scheme {
	case "file":
		return "ql"
	case "memory":
		return "ql-mem"
	case "postgresql":
		return "postgres"
	default:
		return scheme
	}
}

// DB is a catalog.ReadWriter over database/sql.
type DB struct {
	conn   *sql.DB
	schema string
	squirrel.StatementBuilderType
}

func New(driver, datasource string) (*DB, error) {
	conn, err := sql.Open(driver, datasource)
	if err != nil {
		return nil, err
	}
	db := &DB{
		conn:                 conn,
		schema:               schemaByDriver[driver],
		StatementBuilderType: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
	if db.schema == "" {
		return nil, ErrNoSchemaDefinedForDriver
	}
	return db, db.ensureTables()
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) ensureTables() error {
	// ql driver needs this to work correctly in a container
	os.MkdirAll(os.TempDir(), 0777)
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	if _, err = tx.Exec(db.schema); err != nil {
		tx.Rollback()
		return errors.Wrap(err, "creating catalog tables")
	}
	return tx.Commit()
}

func (db *DB) where(q squirrel.SelectBuilder, opts catalog.QueryOptions) squirrel.SelectBuilder {
	for col, v := range map[string]string{
		"collection":        opts.Collection,
		"facility":          opts.Facility,
		"instrument":        opts.Instrument,
		"data_product_type": opts.DataProductType,
	} {
		if v != "" {
			q = q.Where(squirrel.Eq{col: v})
		}
	}
	return q
}

func (db *DB) scanObservations(ctx context.Context, q squirrel.Sqlizer) ([]catalog.Observation, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	obs := []catalog.Observation{}
	for rows.Next() {
		var (
			o     catalog.Observation
			level int64
			scale sql.NullFloat64
		)
		if err := rows.Scan(
			&o.ObsID,
			&o.Collection,
			&o.Facility,
			&o.Instrument,
			&o.DataProductType,
			&level,
			&o.Target,
			&scale,
			&o.ImageURL,
			&o.LabelURL,
		); err != nil {
			return nil, err
		}
		o.CalibrationLevel = int(level)
		if scale.Valid {
			v := scale.Float64
			o.PixelScale = &v
		}
		obs = append(obs, o)
	}
	return obs, rows.Err()
}

func (db *DB) Find(ctx context.Context, obsID string) (catalog.Observation, error) {
	obs, err := db.scanObservations(ctx, db.Select(columns...).
		From("observations").
		Where(squirrel.Eq{"obs_id": obsID}))
	if err != nil {
		return catalog.Observation{}, siserr.Processing(errors.Wrap(err, "querying catalog"), "The catalog could not be read.")
	}
	if len(obs) == 0 {
		return catalog.Observation{}, catalog.ErrNotFound(obsID)
	}
	return obs[0], nil
}

func (db *DB) Query(ctx context.Context, opts catalog.QueryOptions) (int, []catalog.Observation, error) {
	count := db.where(db.Select("count(*)").From("observations"), opts)
	query, args, err := count.ToSql()
	if err != nil {
		return 0, nil, err
	}
	var total int64
	if err := db.conn.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, nil, siserr.Processing(errors.Wrap(err, "counting matches"), "The catalog could not be read.")
	}

	page := db.where(db.Select(columns...).From("observations"), opts).
		OrderBy("obs_id").
		Offset(uint64(opts.Offset))
	if opts.MaxRec > 0 {
		page = page.Limit(uint64(opts.MaxRec))
	}
	obs, err := db.scanObservations(ctx, page)
	if err != nil {
		return 0, nil, siserr.Processing(errors.Wrap(err, "querying catalog"), "The catalog could not be read.")
	}
	return int(total), obs, nil
}

func (db *DB) Summary(ctx context.Context) ([]catalog.Summary, error) {
	query, args, err := db.Select("collection", "facility", "instrument", "count(*)").
		From("observations").
		GroupBy("collection", "facility", "instrument").
		OrderBy("collection", "facility", "instrument").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, siserr.Processing(errors.Wrap(err, "summarising catalog"), "The catalog could not be read.")
	}
	defer rows.Close()
	out := []catalog.Summary{}
	for rows.Next() {
		var (
			s     catalog.Summary
			count int64
		)
		if err := rows.Scan(&s.Collection, &s.Facility, &s.Instrument, &count); err != nil {
			return nil, err
		}
		s.Count = int(count)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (db *DB) Add(ctx context.Context, obs ...catalog.Observation) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, o := range obs {
		if o.ObsID == "" || o.ImageURL == "" {
			tx.Rollback()
			return siserr.Invalid("observation %q is missing its id or image URL", o.ObsID)
		}
		var scale interface{}
		if o.PixelScale != nil {
			scale = *o.PixelScale
		}
		del, args, err := db.Delete("observations").Where(squirrel.Eq{"obs_id": o.ObsID}).ToSql()
		if err == nil {
			_, err = tx.ExecContext(ctx, del, args...)
		}
		if err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "replacing %s", o.ObsID)
		}
		ins, args, err := db.Insert("observations").Columns(columns...).Values(
			o.ObsID, o.Collection, o.Facility, o.Instrument, o.DataProductType,
			int64(o.CalibrationLevel), o.Target, scale, o.ImageURL, o.LabelURL,
		).ToSql()
		if err == nil {
			_, err = tx.ExecContext(ctx, ins, args...)
		}
		if err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "inserting %s", o.ObsID)
		}
	}
	return tx.Commit()
}

func init() {
	catalog.Register(func(u *url.URL, raw string) (catalog.ReadWriter, error) {
		return New(DriverForScheme(u.Scheme), raw)
	}, "file", "memory", "postgres", "postgresql")
}
