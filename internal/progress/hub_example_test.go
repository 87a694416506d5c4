package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ExampleHub_Emit counts windows as they finish.
func ExampleHub_Emit() {
	windows := 0
	hub := NewHub(Config{MaxBatchEvents: 1, MaxBatchWait: time.Second}, SinkFunc(func(_ context.Context, batch []Event) error {
		for _, evt := range batch {
			if evt.Stage == StageWindowDone {
				windows++
			}
		}
		return nil
	}))

	id := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	hub.Emit(Event{SessionID: id, TS: time.Unix(0, 0), Stage: StageSessionStart})
	hub.Emit(Event{SessionID: id, TS: time.Unix(1, 0), Stage: StageWindowDone, EntityID: "E1", WindowKey: "2025-03"})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("windows finished: %d\n", windows)
	// Output:
	// windows finished: 1
}
