package store

type Sequence uint64

type EventType byte

const (
	_ EventType = iota
	EventDelete
	EventPut
	EventClear
)

type Event struct {
	Sequence  Sequence
	EventType EventType
	Key       string
	Value     Value
}

// Persister durably stores committed events. The returned channel receives
// exactly one result once the events are written, in the order Persist was
// called.
type Persister interface {
	Persist(events []Event) <-chan error
}

// Listener is told which key changed after a commit or apply.
type Listener interface {
	OnPreferenceChanged(s *Store, key string)
}
