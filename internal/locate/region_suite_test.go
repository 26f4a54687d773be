package locate

import (
	"testing"

	"github.com/pingcap/check"
)

func TestLocate(t *testing.T) { check.TestingT(t) }

type testRegionSuite struct{}

var _ = check.Suite(&testRegionSuite{})

func (s *testRegionSuite) TestRegionVerIDString(c *check.C) {
	v := RegionVerID{ID: 1, ConfVer: 2, Ver: 3}
	c.Assert(v.String(), check.Equals, "{id=1,confVer=2,ver=3}")
}

func (s *testRegionSuite) TestKeyLocationContains(c *check.C) {
	loc := &KeyLocation{StartKey: []byte("a"), EndKey: []byte("m")}
	c.Assert(loc.Contains([]byte("b")), check.Equals, true)
	c.Assert(loc.Contains([]byte("z")), check.Equals, false)
}
