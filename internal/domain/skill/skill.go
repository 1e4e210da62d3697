// Package skill holds the closed set of skill categories and the course
// catalogue that feeds each of them.
package skill

import (
	"fmt"
	"sort"
)

// Category is a skill area used both for student scores and project tags.
type Category string

// The six categories. Wire names are exactly these strings.
const (
	Backend       Category = "Backend"
	FrontendUI    Category = "Frontend/UI"
	Database      Category = "Database"
	AI            Category = "AI"
	CyberSecurity Category = "Cyber Security"
	DSA           Category = "DSA"
)

// all lists categories in the order they are reported.
var all = []Category{Backend, FrontendUI, Database, CyberSecurity, AI, DSA} //nolint:gochecknoglobals // fixed catalogue

// courses maps each category to its contributing courses.
var courses = map[Category][]string{ //nolint:gochecknoglobals // fixed catalogue
	Backend:       {"COMP1531", "COMP3151", "COMP3131", "COMP3141", "COMP6771", "COMP9021"},
	FrontendUI:    {"COMP6080", "COMP4511"},
	Database:      {"COMP3311", "COMP9315"},
	CyberSecurity: {"COMP6443", "COMP6447", "COMP6448", "COMP6843", "COMP4337"},
	AI:            {"COMP3411", "COMP6713", "COMP9417", "COMP9418", "COMP9444", "COMP9491", "COMP9517", "COMP9727"},
	DSA:           {"COMP3121", "COMP1927", "COMP2521", "COMP4128", "COMP9020", "COMP9312", "COMP9313"},
}

var catalogued = func() map[string]struct{} { //nolint:gochecknoglobals // derived from courses
	m := make(map[string]struct{})
	for _, cs := range courses {
		for _, c := range cs {
			m[c] = struct{}{}
		}
	}
	return m
}()

// All returns every category in reporting order.
func All() []Category {
	out := make([]Category, len(all))
	copy(out, all)
	return out
}

// Parse returns the category for its wire name.
func Parse(s string) (Category, error) {
	c := Category(s)
	if _, ok := courses[c]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
	}
	return c, nil
}

// Valid reports whether c is one of the six categories.
func (c Category) Valid() bool {
	_, ok := courses[c]
	return ok
}

func (c Category) String() string { return string(c) }

// CoursesFor returns the courses contributing to c, or nil for unknown c.
func CoursesFor(c Category) []string {
	cs := courses[c]
	if cs == nil {
		return nil
	}
	out := make([]string, len(cs))
	copy(out, cs)
	return out
}

// IsCatalogued reports whether course contributes to any category.
func IsCatalogued(course string) bool {
	_, ok := catalogued[course]
	return ok
}

// Catalogue returns every catalogued course, sorted.
func Catalogue() []string {
	out := make([]string, 0, len(catalogued))
	for c := range catalogued {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
