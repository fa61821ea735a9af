package logger

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gitlab.com/linkinlog/rxprefs/store"
)

func NewFileTransactionLogger(filename string) (*FileTransactionLogger, error) {
	file, err := os.OpenFile(filename, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}

	return &FileTransactionLogger{file: file}, nil
}

// FileTransactionLogger appends one line per event:
//
//	sequence \t event type \t kind \t quoted key \t quoted value
type FileTransactionLogger struct {
	queue
	last store.Sequence
	file *os.File
}

func (ftl *FileTransactionLogger) Close() error {
	ftl.stop()
	return ftl.file.Close()
}

func (ftl *FileTransactionLogger) Persist(events []store.Event) <-chan error {
	return ftl.persist(events)
}

func (ftl *FileTransactionLogger) Err() <-chan error {
	return ftl.err()
}

func (ftl *FileTransactionLogger) Run() {
	ftl.start(ftl.write)
}

func (ftl *FileTransactionLogger) write(events []store.Event) error {
	w := bufio.NewWriter(ftl.file)

	for _, e := range events {
		ftl.last++

		_, err := fmt.Fprintf(
			w,
			"%d\t%d\t%d\t%s\t%s\n",
			ftl.last, e.EventType, e.Value.Kind(),
			strconv.Quote(e.Key), strconv.Quote(e.Value.Encode()),
		)
		if err != nil {
			return err
		}
	}

	if err := w.Flush(); err != nil {
		return err
	}

	return ftl.file.Sync()
}

func (ftl *FileTransactionLogger) ReadEvents() (<-chan store.Event, <-chan error) {
	r := bufio.NewReader(ftl.file)
	outEvent := make(chan store.Event)
	outError := make(chan error, 1)

	go func() {
		defer close(outEvent)
		defer close(outError)

		// Lines are read whole so values of any size replay.
		for {
			line, readErr := r.ReadString('\n')
			if readErr != nil && !errors.Is(readErr, io.EOF) {
				outError <- fmt.Errorf("transaction log read failure: %w", readErr)
				return
			}

			line = strings.TrimSuffix(line, "\n")
			if line != "" {
				e, err := parseLine(line)
				if err != nil {
					outError <- fmt.Errorf("input parse error: %w", err)
					return
				}

				if ftl.last >= e.Sequence {
					outError <- fmt.Errorf("sequence number error: %d >= %d", ftl.last, e.Sequence)
					return
				}

				ftl.last = e.Sequence

				outEvent <- e
			}

			if readErr != nil {
				return
			}
		}
	}()

	return outEvent, outError
}

func parseLine(line string) (store.Event, error) {
	var e store.Event

	fields := strings.Split(line, "\t")
	if len(fields) != 5 {
		return e, fmt.Errorf("expected 5 fields, got %d", len(fields))
	}

	seq, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return e, err
	}
	eventType, err := strconv.ParseUint(fields[1], 10, 8)
	if err != nil {
		return e, err
	}
	kind, err := strconv.ParseUint(fields[2], 10, 8)
	if err != nil {
		return e, err
	}
	key, err := strconv.Unquote(fields[3])
	if err != nil {
		return e, err
	}
	raw, err := strconv.Unquote(fields[4])
	if err != nil {
		return e, err
	}

	e.Sequence = store.Sequence(seq)
	e.EventType = store.EventType(eventType)
	e.Key = key

	if e.EventType == store.EventPut {
		if e.Value, err = store.ParseValue(store.Kind(kind), raw); err != nil {
			return e, err
		}
	}

	return e, nil
}
