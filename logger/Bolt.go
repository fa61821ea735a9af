package logger

import (
	"fmt"

	"gitlab.com/linkinlog/rxprefs/store"
	bolt "go.etcd.io/bbolt"
)

// BoltTransactionLogger keeps the current entries of each namespace in its
// own bucket rather than the full history, so replay yields one put per key.
type BoltTransactionLogger struct {
	queue
	db     *bolt.DB
	bucket []byte
}

func NewBoltTransactionLogger(path, namespace string) (*BoltTransactionLogger, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening bolt db: %w", err)
	}

	return &BoltTransactionLogger{db: db, bucket: []byte(namespace)}, nil
}

func (l *BoltTransactionLogger) Close() error {
	l.stop()
	return l.db.Close()
}

func (l *BoltTransactionLogger) Persist(events []store.Event) <-chan error {
	return l.persist(events)
}

func (l *BoltTransactionLogger) Err() <-chan error {
	return l.err()
}

func (l *BoltTransactionLogger) Run() {
	l.start(l.write)
}

func (l *BoltTransactionLogger) write(events []store.Event) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(l.bucket)
		if err != nil {
			return fmt.Errorf("creating bucket: %w", err)
		}

		for _, e := range events {
			switch e.EventType {
			case store.EventPut:
				err = b.Put([]byte(e.Key), encodeEntry(e.Value))
			case store.EventDelete:
				err = b.Delete([]byte(e.Key))
			case store.EventClear:
				if err = tx.DeleteBucket(l.bucket); err != nil {
					return err
				}
				b, err = tx.CreateBucket(l.bucket)
			}
			if err != nil {
				return err
			}
		}

		return nil
	})
}

func (l *BoltTransactionLogger) ReadEvents() (<-chan store.Event, <-chan error) {
	outEvent := make(chan store.Event)
	outError := make(chan error, 1)

	go func() {
		defer close(outEvent)
		defer close(outError)

		var events []store.Event
		err := l.db.View(func(tx *bolt.Tx) error {
			b := tx.Bucket(l.bucket)
			if b == nil {
				return nil
			}
			return b.ForEach(func(k, v []byte) error {
				value, err := decodeEntry(v)
				if err != nil {
					return fmt.Errorf("decoding %q: %w", k, err)
				}
				events = append(events, store.Event{
					Sequence:  store.Sequence(len(events) + 1),
					EventType: store.EventPut,
					Key:       string(k),
					Value:     value,
				})
				return nil
			})
		})
		if err != nil {
			outError <- err
			return
		}

		for _, e := range events {
			outEvent <- e
		}
	}()

	return outEvent, outError
}

// entries are stored as one kind byte followed by the encoded payload
func encodeEntry(v store.Value) []byte {
	return append([]byte{byte(v.Kind())}, v.Encode()...)
}

func decodeEntry(raw []byte) (store.Value, error) {
	if len(raw) == 0 {
		return store.Value{}, fmt.Errorf("empty entry")
	}
	return store.ParseValue(store.Kind(raw[0]), string(raw[1:]))
}
