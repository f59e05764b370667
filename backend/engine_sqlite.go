package backend

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/golang/glog"
	_ "modernc.org/sqlite"

	"github.com/bringyour/social/social"
)

// Document engine over a single sqlite table.
// Fields are stored as json in the tagged value encoding of the live frames,
// so times survive a round trip.
type SqliteEngine struct {
	db *sql.DB
}

func NewSqliteEngine(ctx context.Context, path string) (*SqliteEngine, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// sqlite allows one writer. One connection also keeps `:memory:` databases shared.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	engine := &SqliteEngine{
		db: db,
	}
	if err := engine.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	glog.Infof("[sqlite]opened %s\n", path)
	return engine, nil
}

func (self *SqliteEngine) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS documents(
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			path TEXT UNIQUE NOT NULL,
			collection TEXT NOT NULL,
			fields TEXT NOT NULL,
			create_time INTEGER NOT NULL,
			update_time INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS documents_collection ON documents(collection, seq);`,
		// one row. The last commit time.
		`CREATE TABLE IF NOT EXISTS clock(
			id INTEGER PRIMARY KEY CHECK (id = 0),
			last_commit INTEGER NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := self.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (self *SqliteEngine) Close() error {
	return self.db.Close()
}

type sqliteQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func sqliteGet(ctx context.Context, q sqliteQuerier, doc social.Path) (*social.Document, error) {
	var fieldsJson string
	var createTime int64
	var updateTime int64
	err := q.QueryRowContext(
		ctx,
		`SELECT fields, create_time, update_time FROM documents WHERE path = ?`,
		string(doc),
	).Scan(&fieldsJson, &createTime, &updateTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, social.NewNotFoundError("Document does not exist: %s", doc)
	}
	if err != nil {
		return nil, social.NewNetworkError(err)
	}
	return sqliteDocument(doc, fieldsJson, createTime, updateTime)
}

func sqliteDocument(path social.Path, fieldsJson string, createTime int64, updateTime int64) (*social.Document, error) {
	var encodedFields map[string]any
	if err := json.Unmarshal([]byte(fieldsJson), &encodedFields); err != nil {
		return nil, social.WrapError(social.ErrorKindValidation, err, "Bad stored fields: %s", path)
	}
	return &social.Document{
		Id:         path.Id(),
		Path:       path,
		Fields:     social.DecodeFields(encodedFields),
		CreateTime: time.Unix(0, createTime).UTC(),
		UpdateTime: time.Unix(0, updateTime).UTC(),
	}, nil
}

func (self *SqliteEngine) Get(ctx context.Context, doc social.Path) (*social.Document, error) {
	return sqliteGet(ctx, self.db, doc)
}

func (self *SqliteEngine) Scan(ctx context.Context, collection social.Path) ([]*social.Document, error) {
	rows, err := self.db.QueryContext(
		ctx,
		`SELECT path, fields, create_time, update_time FROM documents WHERE collection = ? ORDER BY seq`,
		string(collection),
	)
	if err != nil {
		return nil, social.NewNetworkError(err)
	}
	defer rows.Close()

	docs := []*social.Document{}
	for rows.Next() {
		var path string
		var fieldsJson string
		var createTime int64
		var updateTime int64
		if err := rows.Scan(&path, &fieldsJson, &createTime, &updateTime); err != nil {
			return nil, social.NewNetworkError(err)
		}
		doc, err := sqliteDocument(social.Path(path), fieldsJson, createTime, updateTime)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, social.NewNetworkError(err)
	}
	return docs, nil
}

func (self *SqliteEngine) Apply(ctx context.Context, writes []*social.EngineWrite, now time.Time) ([]*social.Document, error) {
	tx, err := self.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, social.NewNetworkError(err)
	}
	success := false
	defer func() {
		if !success {
			tx.Rollback()
		}
	}()

	now, err = sqliteCommitTime(ctx, tx, now)
	if err != nil {
		return nil, err
	}
	docs, err := social.StageWrites(writes, now, func(doc social.Path) (*social.Document, error) {
		return sqliteGet(ctx, tx, doc)
	})
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		fieldsJson, err := json.Marshal(social.EncodeFields(doc.Fields))
		if err != nil {
			return nil, social.WrapError(social.ErrorKindValidation, err, "Fields cannot be stored: %s", doc.Path)
		}
		// an upsert keeps the `seq` of an existing row
		_, err = tx.ExecContext(
			ctx,
			`INSERT INTO documents(path, collection, fields, create_time, update_time)
			VALUES(?, ?, ?, ?, ?)
			ON CONFLICT(path) DO UPDATE SET fields = excluded.fields, update_time = excluded.update_time`,
			string(doc.Path),
			string(doc.Path.Parent()),
			string(fieldsJson),
			doc.CreateTime.UnixNano(),
			doc.UpdateTime.UnixNano(),
		)
		if err != nil {
			return nil, social.NewNetworkError(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, social.NewNetworkError(err)
	}
	success = true
	return docs, nil
}

// advances the stored clock inside the transaction and returns the commit time
func sqliteCommitTime(ctx context.Context, tx *sql.Tx, now time.Time) (time.Time, error) {
	var last time.Time
	var lastCommit int64
	err := tx.QueryRowContext(ctx, `SELECT last_commit FROM clock WHERE id = 0`).Scan(&lastCommit)
	switch {
	case err == nil:
		last = time.Unix(0, lastCommit).UTC()
	case errors.Is(err, sql.ErrNoRows):
	default:
		return time.Time{}, social.NewNetworkError(err)
	}
	next := social.NextCommitTime(now, last)
	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO clock(id, last_commit) VALUES(0, ?)
		ON CONFLICT(id) DO UPDATE SET last_commit = excluded.last_commit`,
		next.UnixNano(),
	)
	if err != nil {
		return time.Time{}, social.NewNetworkError(err)
	}
	return next, nil
}
