package codec

import (
	"bytes"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestDeterministicEncoding(t *testing.T) {
	Convey("Given maps with the same content built in different orders", t, func() {
		a := map[string]any{"id": "render:sd-v1", "params": int64(800000000), "provider": "render"}
		b := map[string]any{}
		b["provider"] = "render"
		b["params"] = int64(800000000)
		b["id"] = "render:sd-v1"

		Convey("Then both encode to identical bytes", func() {
			ea, err := Marshal(a)
			So(err, ShouldBeNil)
			eb, err := Marshal(b)
			So(err, ShouldBeNil)
			So(bytes.Equal(ea, eb), ShouldBeTrue)
		})

		Convey("And the encoding round-trips", func() {
			data, err := Marshal(a)
			So(err, ShouldBeNil)
			var out map[string]any
			So(Unmarshal(data, &out), ShouldBeNil)
			So(out["id"], ShouldEqual, "render:sd-v1")
			So(out["params"], ShouldEqual, uint64(800000000))
		})

		Convey("And diagnostic notation is readable", func() {
			data, _ := Marshal(map[string]any{"k": "v"})
			diag, err := Diagnose(data)
			So(err, ShouldBeNil)
			So(diag, ShouldEqual, `{"k": "v"}`)
		})
	})
}
