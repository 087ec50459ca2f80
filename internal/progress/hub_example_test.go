package progress

import (
	"context"
	"fmt"
	"time"
)

type sinkFunc func(context.Context, []Event) error

func (f sinkFunc) Consume(ctx context.Context, batch []Event) error {
	return f(ctx, batch)
}

func (sinkFunc) Close(context.Context) error {
	return nil
}

// ExampleHub_Emit totals new records reported by finished units.
func ExampleHub_Emit() {
	var total int
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 1, MaxBatchWait: time.Second},
		sinkFunc(func(_ context.Context, batch []Event) error {
			for _, evt := range batch {
				total += evt.New
			}
			return nil
		}))

	hub.Emit(Event{RunID: "r1", TS: time.Unix(0, 0), Stage: StageUnitDone, Source: "bge", State: "succeeded", New: 3})
	hub.Emit(Event{RunID: "r1", TS: time.Unix(1, 0), Stage: StageUnitDone, Source: "ewn", State: "failed"})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("new records: %d\n", total)
	// Output:
	// new records: 3
}
