package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	dedupe "github.com/DexterZero/Spyro-API/internal/domain/dedupe"
	model "github.com/DexterZero/Spyro-API/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestReplayWindow(t *testing.T) {
	ctx := context.Background()

	Convey("Given a default window", t, func() {
		d := dedupe.NewInMemoryDeduper()
		So(d.Size(), ShouldEqual, 0)

		Convey("When a digest is recorded twice", func() {
			first := d.SeenAndRecord(ctx, "a")
			second := d.SeenAndRecord(ctx, "a")

			Convey("Then only the second call reports a replay", func() {
				So(first, ShouldBeFalse)
				So(second, ShouldBeTrue)
				So(d.Size(), ShouldEqual, 1)
			})
		})

		Convey("When a re-delivered envelope arrives", func() {
			ev := model.ProviderStats{Provider: "render", NodeID: "n1", Score: 9000, Timestamp: 10}
			env := model.MustEnvelope(ev, model.Position{Number: 7, Cursor: "c7"})
			replay := model.MustEnvelope(ev, model.Position{Number: 7, Cursor: "c6"})

			So(d.SeenAndRecord(ctx, env.Digest()), ShouldBeFalse)

			Convey("Then its digest is recognized even with a different cursor", func() {
				So(d.SeenAndRecord(ctx, replay.Digest()), ShouldBeTrue)
			})
		})

		Convey("When a digest is unrecorded", func() {
			d.SeenAndRecord(ctx, "a")
			d.Unrecord(ctx, "a")
			d.Unrecord(ctx, "missing")

			Convey("Then it may be processed again", func() {
				So(d.Size(), ShouldEqual, 0)
				So(d.SeenAndRecord(ctx, "a"), ShouldBeFalse)
			})
		})
	})

	Convey("Given a window of three", t, func() {
		evictions := 0
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(3), dedupe.WithEvictHook(func() { evictions++ }))
		for _, id := range []string{"a", "b", "c", "d"} {
			So(d.SeenAndRecord(ctx, id), ShouldBeFalse)
		}

		Convey("Then the oldest digest is forgotten first", func() {
			So(d.Size(), ShouldEqual, 3)
			So(evictions, ShouldEqual, 1)
			So(d.SeenAndRecord(ctx, "d"), ShouldBeTrue)
			So(d.SeenAndRecord(ctx, "c"), ShouldBeTrue)
			So(d.SeenAndRecord(ctx, "a"), ShouldBeFalse)
		})

		Convey("Then an unrecorded and re-recorded digest survives its stale slot", func() {
			// b owns the next slot to be overwritten; re-recording it lands
			// on its own stale slot, so e evicts c instead.
			d.Unrecord(ctx, "b")
			So(d.SeenAndRecord(ctx, "b"), ShouldBeFalse)
			So(d.SeenAndRecord(ctx, "e"), ShouldBeFalse)
			So(d.SeenAndRecord(ctx, "b"), ShouldBeTrue)
			So(d.SeenAndRecord(ctx, "c"), ShouldBeFalse)
		})
	})

	Convey("Given an unbounded window", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(0))
		for i := 0; i < 5000; i++ {
			d.SeenAndRecord(ctx, fmt.Sprintf("id-%d", i))
		}

		Convey("Then nothing is evicted", func() {
			So(d.Size(), ShouldEqual, 5000)
			So(d.SeenAndRecord(ctx, "id-0"), ShouldBeTrue)
		})
	})
}

func TestReplayWindowConcurrency(t *testing.T) {
	Convey("Given goroutines racing on the same digests", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(1000))
		const workers = 10
		const ids = 100

		var (
			wg    sync.WaitGroup
			mu    sync.Mutex
			fresh int
		)
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < ids; i++ {
					if !d.SeenAndRecord(context.Background(), fmt.Sprintf("id-%d", i)) {
						mu.Lock()
						fresh++
						mu.Unlock()
					}
				}
			}()
		}
		wg.Wait()

		Convey("Then each digest is reported new exactly once", func() {
			So(fresh, ShouldEqual, ids)
			So(d.Size(), ShouldEqual, ids)
		})
	})
}
