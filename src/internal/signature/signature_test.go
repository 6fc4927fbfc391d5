package signature

import (
	"testing"

	"github.com/smartystreets/goconvey/convey"
)

func TestSignature(t *testing.T) {
	convey.Convey("test sign and unsign", t, func() {
		body := []byte("backend: noop\n")

		convey.Convey("round trip", func() {
			out, err := UnSign(Sign(body, "test"), "test")
			convey.So(err, convey.ShouldBeNil)
			convey.So(string(out), convey.ShouldEqual, string(body))
		})

		convey.Convey("no key keeps the content", func() {
			out, err := UnSign(body, "")
			convey.So(err, convey.ShouldBeNil)
			convey.So(string(out), convey.ShouldEqual, string(body))
		})

		convey.Convey("wrong key", func() {
			_, err := UnSign(Sign(body, "test"), "other")
			convey.So(err, convey.ShouldEqual, ErrInvalidSignature)
		})

		convey.Convey("unsigned content", func() {
			_, err := UnSign(body, "test")
			convey.So(err, convey.ShouldEqual, ErrMissingSignature)
		})

		convey.Convey("signature without body", func() {
			_, err := UnSign([]byte("sign=abcd\n"), "test")
			convey.So(err, convey.ShouldEqual, ErrEmptyConfig)
		})
	})
}
