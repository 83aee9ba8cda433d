// Package calendar enumerates simulated months and samples days inside them.
package calendar

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"
)

// Rand is the slice of math/rand/v2's *Rand the calendar needs.
type Rand interface {
	IntN(n int) int
}

// Range is an inclusive integer range such as a year or month span.
type Range struct {
	Start int
	End   int
}

// Len returns the number of values in the range, zero when End < Start.
func (r Range) Len() int {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start + 1
}

func (r Range) String() string {
	return fmt.Sprintf("[%d, %d]", r.Start, r.End)
}

// Period is one simulated (year, month).
type Period struct {
	Year  int
	Month time.Month
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// Contains reports whether d falls inside the period.
func (p Period) Contains(d civil.Date) bool {
	return d.Year == p.Year && d.Month == p.Month && d.Day >= 1 && d.Day <= DaysIn(p.Year, p.Month)
}

// Periods returns every (year, month) pair, years ascending then months ascending.
func Periods(years, months Range) []Period {
	out := make([]Period, 0, years.Len()*months.Len())
	for y := years.Start; y <= years.End; y++ {
		for m := months.Start; m <= months.End; m++ {
			out = append(out, Period{Year: y, Month: time.Month(m)})
		}
	}
	return out
}

// DaysIn returns the length of the month, computed as the day before the first of the next month.
// December is Dec 31 directly.
func DaysIn(year int, month time.Month) int {
	return lastDay(year, month).Day
}

func lastDay(year int, month time.Month) civil.Date {
	if month == time.December {
		return civil.Date{Year: year, Month: time.December, Day: 31}
	}
	return civil.Date{Year: year, Month: month + 1, Day: 1}.AddDays(-1)
}

// SampleDay draws a day uniformly from the given month.
// month must be within 1..12; callers validate configuration before sampling.
func SampleDay(r Rand, year int, month time.Month) civil.Date {
	if month < time.January || month > time.December {
		panic(fmt.Sprintf("calendar: month %d out of range", month))
	}

	start := civil.Date{Year: year, Month: month, Day: 1}
	length := lastDay(year, month).DaysSince(start) + 1

	return start.AddDays(r.IntN(length))
}
