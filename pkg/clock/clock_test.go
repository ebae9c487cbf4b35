package clock

import (
	"context"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestFakeClock(t *testing.T) {
	Convey("Given a fake clock", t, func() {
		start := time.Unix(1_700_000_000, 0)
		c := Fake(start)

		Convey("After does not fire until the deadline passes", func() {
			ch := c.After(2 * time.Second)
			c.Advance(time.Second)
			select {
			case <-ch:
				t.Fatal("fired early")
			default:
			}
			c.Advance(time.Second)
			fired := <-ch
			So(fired, ShouldEqual, start.Add(2*time.Second))
			So(c.Pending(), ShouldEqual, 0)
		})

		Convey("NextDeadline reports the earliest waiter", func() {
			c.After(5 * time.Second)
			c.After(3 * time.Second)
			d, ok := c.NextDeadline()
			So(ok, ShouldBeTrue)
			So(d, ShouldEqual, 3*time.Second)
		})

		Convey("Sleep returns once advanced", func() {
			done := make(chan error, 1)
			go func() { done <- Sleep(context.Background(), c, time.Second) }()
			c.WaitForTimers(1)
			c.Advance(time.Second)
			So(<-done, ShouldBeNil)
		})

		Convey("Sleep is interrupted by cancellation", func() {
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- Sleep(ctx, c, time.Hour) }()
			c.WaitForTimers(1)
			cancel()
			So(<-done, ShouldEqual, context.Canceled)
		})
	})
}
