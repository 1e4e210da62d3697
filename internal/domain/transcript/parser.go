// Package transcript extracts course marks from the text of an academic
// transcript.
package transcript

import (
	"bufio"
	"regexp"
	"strconv"
	"strings"

	"github.com/aidenrawles/synergy/internal/domain/model"
	"github.com/aidenrawles/synergy/internal/domain/skill"
)

const coursePrefix = "COMP"

// "COMP 1531 Software Eng Fundamentals  6  85 HD": code, title, units,
// two-digit mark, two-letter grade.
var courseLine = regexp.MustCompile(`^([A-Z]{4}\s\d{4}).*(\d{2})\s[A-Z]{2}$`)

// Line is one course line recognised in a transcript.
type Line struct {
	Course string
	Mark   int
}

// Lines returns every recognised COMP course line in document order.
// Lines that start with COMP but do not match the course layout are
// ignored.
func Lines(text string) []Line {
	var out []Line
	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if !strings.HasPrefix(line, coursePrefix) {
			continue
		}
		m := courseLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		mark, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		out = append(out, Line{Course: strings.Join(strings.Fields(m[1]), ""), Mark: mark})
	}
	return out
}

// Parse returns course -> mark for every COMP line. A course that appears
// more than once keeps its last mark.
func Parse(text string) model.Marks {
	marks := model.Marks{}
	for _, l := range Lines(text) {
		marks[l.Course] = float64(l.Mark)
	}
	return marks
}

// Filter keeps catalogued courses only and fills the ones the transcript
// does not mention with 0.
func Filter(marks model.Marks) model.Marks {
	out := make(model.Marks, len(skill.Catalogue()))
	for _, c := range skill.Catalogue() {
		out[c] = marks[c]
	}
	return out
}
