package runs

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"

	"github.com/nats-io/nats.go"
)

// Subject is the NATS subject for one snapshot of a run.
func Subject(prefix, runID, node string) string {
	return prefix + "." + runID + "." + node
}

// RunSubjects matches every snapshot subject of a run.
func RunSubjects(prefix, runID string) string {
	return prefix + "." + runID + ".*"
}

// Follow subscribes to a run's snapshots and yields them until the terminal
// one arrives, ctx ends, or the consumer stops. Decode failures are yielded
// as errors and do not end the stream.
func Follow(ctx context.Context, nc *nats.Conn, prefix, runID string) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		msgs := make(chan *nats.Msg, 64)
		sub, err := nc.ChanSubscribe(RunSubjects(prefix, runID), msgs)
		if err != nil {
			yield(Event{}, fmt.Errorf("subscribe: %w", err))
			return
		}
		defer func() {
			_ = sub.Unsubscribe()
		}()

		for {
			select {
			case <-ctx.Done():
				yield(Event{}, ctx.Err())
				return
			case msg := <-msgs:
				var ev Event
				if err := json.Unmarshal(msg.Data, &ev); err != nil {
					if !yield(Event{}, fmt.Errorf("decode %s: %w", msg.Subject, err)) {
						return
					}
					continue
				}
				if !yield(ev, nil) || ev.Snapshot.Terminal() {
					return
				}
			}
		}
	}
}
