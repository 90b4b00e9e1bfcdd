package query

import "time"

// DisplayLayout renders times the way Indonesian locale clocks read them.
const DisplayLayout = "2/1/2006, 15.04.05"

// DisplayTime formats t in loc for people.
func DisplayTime(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DisplayLayout)
}
