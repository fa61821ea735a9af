package logger

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"gitlab.com/linkinlog/rxprefs/store"
)

const Table = "preferences"

func NewPostgresTransactionLogger(config PostgresDBParams) (*PostgresTransactionLogger, error) {
	connStr := fmt.Sprintf("host=%s dbname=%s user=%s password=%s sslmode=disable",
		config.host, config.dbName, config.user, config.password)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	return newPostgresTransactionLogger(db, config.namespace)
}

func newPostgresTransactionLogger(db *sql.DB, namespace string) (*PostgresTransactionLogger, error) {
	logger := &PostgresTransactionLogger{db: db, namespace: namespace}

	exists, err := logger.verifyTableExists(Table)
	if err != nil {
		return nil, fmt.Errorf("failed to verify table: %w", err)
	}
	if !exists {
		if err := logger.createTxTable(); err != nil {
			return nil, fmt.Errorf("failed to create table: %w", err)
		}
	}

	return logger, nil
}

type PostgresDBParams struct {
	dbName, host, user, password string
	namespace                    string
}

// PostgresTransactionLogger keeps the events of every namespace in one
// table, each batch in its own transaction.
type PostgresTransactionLogger struct {
	queue
	db        *sql.DB
	namespace string
}

func (l *PostgresTransactionLogger) Close() error {
	l.stop()
	return l.db.Close()
}

func (l *PostgresTransactionLogger) Persist(events []store.Event) <-chan error {
	return l.persist(events)
}

func (l *PostgresTransactionLogger) Err() <-chan error {
	return l.err()
}

func (l *PostgresTransactionLogger) ReadEvents() (<-chan store.Event, <-chan error) {
	outEvent := make(chan store.Event)
	outError := make(chan error, 1)

	go func() {
		defer close(outEvent)
		defer close(outError)

		query := `select sequence, event_type, kind, key, value from preferences where namespace = $1 order by sequence`

		rows, err := l.db.Query(query, l.namespace)
		if err != nil {
			outError <- fmt.Errorf("sql query error: %w", err)
			return
		}

		defer rows.Close()

		for rows.Next() {
			var (
				e    store.Event
				kind store.Kind
				raw  string
			)
			err = rows.Scan(
				&e.Sequence,
				&e.EventType,
				&kind,
				&e.Key,
				&raw,
			)
			if err != nil {
				outError <- fmt.Errorf("error reading row: %w", err)
				return
			}

			if e.EventType == store.EventPut {
				if e.Value, err = store.ParseValue(kind, raw); err != nil {
					outError <- fmt.Errorf("error decoding %q: %w", e.Key, err)
					return
				}
			}

			outEvent <- e
		}

		if err := rows.Err(); err != nil {
			outError <- fmt.Errorf("error reading rows: %w", err)
			return
		}
	}()

	return outEvent, outError
}

func (l *PostgresTransactionLogger) Run() {
	l.start(l.write)
}

func (l *PostgresTransactionLogger) write(events []store.Event) error {
	tx, err := l.db.Begin()
	if err != nil {
		return err
	}

	query := `insert into preferences (namespace, event_type, kind, key, value) values ($1, $2, $3, $4, $5)`

	for _, e := range events {
		if _, err := tx.Exec(
			query,
			l.namespace,
			e.EventType,
			e.Value.Kind(),
			e.Key,
			e.Value.Encode(),
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

func (l *PostgresTransactionLogger) verifyTableExists(table string) (bool, error) {
	var exists bool

	row := l.db.QueryRow(`SELECT EXISTS (
						   SELECT FROM information_schema.tables
						   WHERE  table_schema = 'public'
						   AND    table_name   = $1
						   );`,
		table)

	if err := row.Scan(&exists); err != nil {
		return false, err
	}

	return exists, nil
}

func (l *PostgresTransactionLogger) createTxTable() error {
	tx, err := l.db.Begin()
	if err != nil {
		return err
	}

	createTableQuery := `
create table if not exists preferences (
  sequence serial primary key,
  namespace text not null,
  event_type int,
  kind int,
  key text,
  value text
)
`
	if _, err = tx.Exec(createTableQuery); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}
