package checkpoint

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	model "github.com/DexterZero/Spyro-API/internal/domain/model"
	"github.com/DexterZero/Spyro-API/pkg/clock"
	. "github.com/smartystreets/goconvey/convey"
)

func TestFileStore(t *testing.T) {
	ctx := context.Background()

	Convey("Given a checkpoint path", t, func() {
		path := filepath.Join(t.TempDir(), "cursors.json")
		fake := clock.Fake(time.Unix(1000, 0))

		s, err := Open(path, WithClock(fake), WithFlushInterval(10*time.Second))
		So(err, ShouldBeNil)

		Convey("When positions are committed", func() {
			So(s.Commit(ctx, "render", model.Position{Number: 7, Cursor: "c7"}), ShouldBeNil)
			So(s.Commit(ctx, "render", model.Position{Number: 8, Cursor: "c8"}), ShouldBeNil)

			Convey("Then the first commit is flushed and later ones wait for the interval", func() {
				f, err := readFile(path)
				So(err, ShouldBeNil)
				So(f.Providers["render"].Number, ShouldEqual, 7)

				pos, ok := s.Position("render")
				So(ok, ShouldBeTrue)
				So(pos.Cursor, ShouldEqual, "c8")
			})

			Convey("Then a later commit past the interval reaches the disk", func() {
				fake.Advance(10 * time.Second)
				So(s.Commit(ctx, "tao", model.Position{Number: 3}), ShouldBeNil)
				f, _ := readFile(path)
				So(f.Providers["render"].Number, ShouldEqual, 8)
				So(f.Providers["tao"].Number, ShouldEqual, 3)
			})

			Convey("Then Close flushes and a reopened store resumes", func() {
				So(s.Close(), ShouldBeNil)
				again, err := Open(path)
				So(err, ShouldBeNil)
				pos, ok := again.Position("render")
				So(ok, ShouldBeTrue)
				So(pos, ShouldResemble, model.Position{Number: 8, Cursor: "c8"})
				So(again.Providers(), ShouldResemble, []string{"render"})

				_, err = os.Stat(path + ".tmp")
				So(os.IsNotExist(err), ShouldBeTrue)
			})
		})
	})

	Convey("Given a corrupt checkpoint file", t, func() {
		path := filepath.Join(t.TempDir(), "cursors.json")
		So(os.WriteFile(path, []byte("{not json"), 0o600), ShouldBeNil)

		_, err := Open(path)
		So(errors.Is(err, ErrCorrupt), ShouldBeTrue)
	})

	Convey("Given no path", t, func() {
		s, err := Open("")
		So(err, ShouldBeNil)
		So(s.Commit(ctx, "render", model.Position{Number: 1}), ShouldBeNil)
		So(s.Close(), ShouldBeNil)
		pos, _ := s.Position("render")
		So(pos.Number, ShouldEqual, 1)
	})
}
