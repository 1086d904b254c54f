package live

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Every event published to a channel reaches every subscriber of that
// channel exactly once, regardless of subscriber count or publish volume.
func TestMemoryBus_DeliveryCountProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("each subscriber sees each event exactly once", prop.ForAll(
		func(subscribers, events int) bool {
			bus := NewMemoryBus(nil)
			defer bus.Close()

			counts := make([]int, subscribers)
			for i := 0; i < subscribers; i++ {
				i := i
				if _, err := bus.Subscribe(context.Background(), "p", "e", func(Event) {
					counts[i]++
				}); err != nil {
					return false
				}
			}

			for n := 0; n < events; n++ {
				if err := bus.Publish(context.Background(), "p", "e", Event{ID: fmt.Sprintf("evt_%d", n)}); err != nil {
					return false
				}
			}

			for _, c := range counts {
				if c != events {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 10),
		gen.IntRange(0, 50),
	))

	properties.TestingRun(t)
}

// selectNewer keeps exactly the events at or after the watermark and
// returns them oldest first.
func TestSelectNewerProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	properties.Property("keeps the watermark boundary and sorts ascending", prop.ForAll(
		func(offsets []int, watermarkOffset int) bool {
			events := make([]Event, len(offsets))
			for i, off := range offsets {
				events[i] = Event{
					ID:        fmt.Sprintf("evt_%d", i),
					Timestamp: base.Add(time.Duration(off) * time.Second),
				}
			}
			watermark := base.Add(time.Duration(watermarkOffset) * time.Second)

			got := selectNewer(events, watermark)

			for i, evt := range got {
				if evt.Timestamp.Before(watermark) {
					return false
				}
				if i > 0 && got[i-1].Timestamp.After(evt.Timestamp) {
					return false
				}
			}

			want := 0
			for _, evt := range events {
				if !evt.Timestamp.Before(watermark) {
					want++
				}
			}
			return len(got) == want
		},
		gen.SliceOf(gen.IntRange(0, 100)),
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}
