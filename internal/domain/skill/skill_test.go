package skill_test

import (
	"errors"
	"testing"

	"github.com/aidenrawles/synergy/internal/domain/skill"
	. "github.com/smartystreets/goconvey/convey"
)

func TestCategories(t *testing.T) {
	Convey("Given the category set", t, func() {
		Convey("There are exactly six categories", func() {
			So(skill.All(), ShouldHaveLength, 6)
		})

		Convey("Wire names parse back to their category", func() {
			for _, c := range skill.All() {
				got, err := skill.Parse(c.String())
				So(err, ShouldBeNil)
				So(got, ShouldEqual, c)
				So(c.Valid(), ShouldBeTrue)
			}
		})

		Convey("Names are case sensitive", func() {
			_, err := skill.Parse("backend")
			So(errors.Is(err, skill.ErrUnknownCategory), ShouldBeTrue)
			So(skill.Category("Mobile").Valid(), ShouldBeFalse)
		})

		Convey("All returns a copy", func() {
			a := skill.All()
			a[0] = "Mobile"
			So(skill.All()[0], ShouldEqual, skill.Backend)
		})
	})
}

func TestCatalogue(t *testing.T) {
	Convey("Given the course catalogue", t, func() {
		Convey("Each category has the expected course count", func() {
			So(skill.CoursesFor(skill.Backend), ShouldHaveLength, 6)
			So(skill.CoursesFor(skill.FrontendUI), ShouldHaveLength, 2)
			So(skill.CoursesFor(skill.Database), ShouldHaveLength, 2)
			So(skill.CoursesFor(skill.CyberSecurity), ShouldHaveLength, 5)
			So(skill.CoursesFor(skill.AI), ShouldHaveLength, 8)
			So(skill.CoursesFor(skill.DSA), ShouldHaveLength, 7)
		})

		Convey("Unknown categories have no courses", func() {
			So(skill.CoursesFor("Mobile"), ShouldBeNil)
		})

		Convey("Catalogued courses are recognised", func() {
			So(skill.IsCatalogued("COMP6080"), ShouldBeTrue)
			So(skill.IsCatalogued("COMP1511"), ShouldBeFalse)
			So(skill.Catalogue(), ShouldHaveLength, 30)
			So(skill.Catalogue()[0], ShouldEqual, "COMP1531")
		})
	})
}
