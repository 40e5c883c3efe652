package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/bovink/sa-sdk-android/internal/gateway"
)

// TestProperty_ExtractPreservesOrderAndTrimDrains checks that any sequence of
// events comes back in enqueue order across windows of any size, and that
// trimming each boundary drains the queue exactly.
func TestProperty_ExtractPreservesOrderAndTrimDrains(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 25
	properties := gopter.NewProperties(parameters)

	run := 0
	properties.Property("windows concatenate to the enqueue sequence", prop.ForAll(
		func(count, window int) bool {
			run++
			gw, err := gateway.Open(filepath.Join(t.TempDir(), fmt.Sprintf("p%d.db", run)), gateway.Options{})
			if err != nil {
				return false
			}
			defer gw.Close()

			ctx := context.Background()
			s := New(gw, Options{})
			for i := 0; i < count; i++ {
				if _, err := s.Enqueue(ctx, []byte(fmt.Sprintf(`{"seq":%d}`, i))); err != nil {
					return false
				}
			}

			next := 0
			for {
				b, err := s.Extract(ctx, window)
				if err != nil {
					return false
				}
				if b == nil {
					break
				}
				var events []struct {
					Seq       int   `json:"seq"`
					FlushTime int64 `json:"_flush_time"`
				}
				if err := json.Unmarshal([]byte(b.Data), &events); err != nil {
					return false
				}
				if len(events) != b.Count || b.Count > window {
					return false
				}
				for _, e := range events {
					if e.Seq != next || e.FlushTime != b.FlushTime {
						return false
					}
					next++
				}
				if _, err := s.Trim(ctx, b.BoundaryID); err != nil {
					return false
				}
			}

			remaining, err := s.Count(ctx)
			return err == nil && remaining == 0 && next == count
		},
		gen.IntRange(0, 40),
		gen.IntRange(1, 15),
	))

	properties.TestingRun(t)
}
