package keys

import (
	"bytes"
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestEntityKeys(t *testing.T) {
	Convey("Given provider and model identities", t, func() {
		Convey("Provider keys join network and node", func() {
			k, err := Provider("render", "node-42")
			So(err, ShouldBeNil)
			So(k, ShouldEqual, "render:node-42")
		})

		Convey("Model keys join provider and model", func() {
			k, err := Model("render", "sd-v1")
			So(err, ShouldBeNil)
			So(k, ShouldEqual, "render:sd-v1")
		})

		Convey("Blank components are rejected", func() {
			_, err := Provider("", "node-42")
			So(errors.Is(err, ErrEmptyComponent), ShouldBeTrue)
			_, err = Model("render", "  ")
			So(errors.Is(err, ErrEmptyComponent), ShouldBeTrue)
		})
	})

	Convey("Given job identities", t, func() {
		Convey("A plain id is used verbatim", func() {
			id, err := JobID("jobA")
			So(err, ShouldBeNil)
			So(string(id), ShouldEqual, "jobA")
			k, _ := Job("jobA")
			So(k, ShouldEqual, "6a6f6241")
		})

		Convey("A hex hash decodes to its bytes", func() {
			id, err := JobID("0xABcd")
			So(err, ShouldBeNil)
			So(id, ShouldResemble, []byte{0xab, 0xcd})
			k, _ := Job("0xABCD")
			So(k, ShouldEqual, "0xabcd")
		})

		Convey("A plain id never shares a key with the hash of its bytes", func() {
			plain, err := Job("ab")
			So(err, ShouldBeNil)
			hash, err := Job("0x6162")
			So(err, ShouldBeNil)
			So(plain, ShouldEqual, "6162")
			So(hash, ShouldEqual, "0x6162")
		})

		Convey("A bare 0x prefix is an empty id", func() {
			for _, id := range []string{"0x", "0X"} {
				_, err := JobID(id)
				So(errors.Is(err, ErrEmptyComponent), ShouldBeTrue)
				_, err = Job(id)
				So(errors.Is(err, ErrEmptyComponent), ShouldBeTrue)
			}
		})

		Convey("Odd-length hex is left padded", func() {
			id, err := DecodeHex("0xabc")
			So(err, ShouldBeNil)
			So(id, ShouldResemble, []byte{0x0a, 0xbc})
		})

		Convey("Malformed hex is rejected", func() {
			_, err := JobID("0xzz")
			So(errors.Is(err, ErrInvalidHex), ShouldBeTrue)
		})

		Convey("Empty ids are rejected", func() {
			_, err := JobID("")
			So(errors.Is(err, ErrEmptyComponent), ShouldBeTrue)
		})
	})

	Convey("Given content hashes", t, func() {
		Convey("They are stable and 32 bytes", func() {
			a := JobContentHash("render", "sd-v1", "42")
			b := JobContentHash("render", "sd-v1", "42")
			So(len(a), ShouldEqual, 32)
			So(bytes.Equal(a, b), ShouldBeTrue)
		})

		Convey("Length prefixing separates ambiguous splits", func() {
			So(bytes.Equal(JobContentHash("ab", "c"), JobContentHash("a", "bc")), ShouldBeFalse)
		})

		Convey("Domains separate identical input", func() {
			So(bytes.Equal(ModificationDigest([]byte("x")), JobContentHash("x")), ShouldBeFalse)
			So(EnvelopeDigest("x"), ShouldHaveLength, 64)
		})
	})
}
