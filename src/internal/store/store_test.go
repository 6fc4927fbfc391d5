package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/assert"
)

func TestStoreRoundTrip(t *testing.T) {
	convey.Convey("test credential store", t, func() {
		dir := t.TempDir()

		convey.Convey("bolt store round trip", func() {
			s, err := New(DriverBolt, filepath.Join(dir, "vpnbook.db"))
			convey.So(err, convey.ShouldBeNil)
			defer s.Close()

			credential, err := s.Load()
			convey.So(err, convey.ShouldBeNil)
			convey.So(credential, convey.ShouldEqual, "")

			convey.So(s.Save("abc123xyz"), convey.ShouldBeNil)
			credential, err = s.Load()
			convey.So(err, convey.ShouldBeNil)
			convey.So(credential, convey.ShouldEqual, "abc123xyz")
		})

		convey.Convey("file store round trip", func() {
			s, err := New(DriverFile, filepath.Join(dir, "mdp.json"))
			convey.So(err, convey.ShouldBeNil)

			credential, err := s.Load()
			convey.So(err, convey.ShouldBeNil)
			convey.So(credential, convey.ShouldEqual, "")

			convey.So(s.Save("abc123xyz"), convey.ShouldBeNil)
			credential, err = s.Load()
			convey.So(err, convey.ShouldBeNil)
			convey.So(credential, convey.ShouldEqual, "abc123xyz")
		})

		convey.Convey("last write wins", func() {
			s := NewFileStore(filepath.Join(dir, "last.json"))
			convey.So(s.Save("first1"), convey.ShouldBeNil)
			convey.So(s.Save("second2"), convey.ShouldBeNil)
			credential, err := s.Load()
			convey.So(err, convey.ShouldBeNil)
			convey.So(credential, convey.ShouldEqual, "second2")
		})

		convey.Convey("unknown driver", func() {
			_, err := New("redis", filepath.Join(dir, "x"))
			convey.So(err, convey.ShouldNotBeNil)
		})
	})
}

func TestFileStoreCorrupted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mdp.json")
	assert.Nil(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, err := NewFileStore(path).Load()
	assert.NotNil(t, err)
}
