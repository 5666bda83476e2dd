/*
Copyright © 2025 the TSGen authors.
This file is part of TSGen.

TSGen is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

TSGen is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with TSGen.  If not, see <http://www.gnu.org/licenses/>.
*/

package tsgen

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Calendar identifies one of the calendar systems allowed by the CF
// conventions for time coordinates. Model calendars (no leap days, or twelve
// 30-day months) cannot be represented by time.Time, so dates are handled
// with explicit calendar arithmetic.
type Calendar int

const (
	// CalendarStandard is the mixed Gregorian/Julian calendar, treated here
	// as proleptic Gregorian. Covers "standard", "gregorian", and
	// "proleptic_gregorian".
	CalendarStandard Calendar = iota
	// CalendarNoLeap has 365 days in every year ("noleap", "365_day").
	CalendarNoLeap
	// CalendarAllLeap has 366 days in every year ("all_leap", "366_day").
	CalendarAllLeap
	// Calendar360Day has twelve 30-day months ("360_day").
	Calendar360Day
)

// ParseCalendar maps a CF calendar attribute value to a Calendar. The empty
// string defaults to the standard calendar, as the CF conventions specify.
func ParseCalendar(name string) (Calendar, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "standard", "gregorian", "proleptic_gregorian":
		return CalendarStandard, nil
	case "noleap", "365_day":
		return CalendarNoLeap, nil
	case "all_leap", "366_day":
		return CalendarAllLeap, nil
	case "360_day":
		return Calendar360Day, nil
	}
	return CalendarStandard, fmt.Errorf("tsgen: unsupported calendar %q", name)
}

func (c Calendar) String() string {
	switch c {
	case CalendarStandard:
		return "standard"
	case CalendarNoLeap:
		return "noleap"
	case CalendarAllLeap:
		return "all_leap"
	case Calendar360Day:
		return "360_day"
	}
	return fmt.Sprintf("calendar(%d)", int(c))
}

// CFTime is a calendar-aware timestamp. It is a plain value; the zero value
// is year 0 on the standard calendar.
type CFTime struct {
	Year                 int
	Month, Day           int // 1-based
	Hour, Minute, Second int
	Calendar             Calendar
}

func (t CFTime) String() string {
	return fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d", t.Year, t.Month, t.Day, t.Hour, t.Minute, t.Second)
}

var (
	cumDays365 = [12]int{0, 31, 59, 90, 120, 151, 181, 212, 243, 273, 304, 334}
	cumDays366 = [12]int{0, 31, 60, 91, 121, 152, 182, 213, 244, 274, 305, 335}
)

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// ordinal returns the day number of the date part of t, counted from a fixed
// per-calendar epoch. Only differences between ordinals of the same calendar
// are meaningful.
func (t CFTime) ordinal() int64 {
	y := int64(t.Year)
	switch t.Calendar {
	case Calendar360Day:
		return y*360 + int64(t.Month-1)*30 + int64(t.Day-1)
	case CalendarNoLeap:
		return y*365 + int64(cumDays365[t.Month-1]) + int64(t.Day-1)
	case CalendarAllLeap:
		return y*366 + int64(cumDays366[t.Month-1]) + int64(t.Day-1)
	}
	return civilToDays(t.Year, t.Month, t.Day)
}

// secondsSinceEpoch returns t as seconds from the calendar's day-0 midnight.
func (t CFTime) secondsSinceEpoch() int64 {
	return t.ordinal()*86400 + int64(t.Hour)*3600 + int64(t.Minute)*60 + int64(t.Second)
}

// timeFromOrdinal is the inverse of ordinal plus a seconds-of-day remainder.
func timeFromOrdinal(cal Calendar, day int64, secOfDay int64) CFTime {
	t := CFTime{Calendar: cal}
	switch cal {
	case Calendar360Day:
		y := floorDiv(day, 360)
		rem := int(day - y*360)
		t.Year = int(y)
		t.Month = rem/30 + 1
		t.Day = rem%30 + 1
	case CalendarNoLeap, CalendarAllLeap:
		ylen := int64(365)
		cum := &cumDays365
		if cal == CalendarAllLeap {
			ylen = 366
			cum = &cumDays366
		}
		y := floorDiv(day, ylen)
		rem := int(day - y*ylen)
		t.Year = int(y)
		m := 11
		for m > 0 && cum[m] > rem {
			m--
		}
		t.Month = m + 1
		t.Day = rem - cum[m] + 1
	default:
		t.Year, t.Month, t.Day = daysToCivil(day)
	}
	t.Hour = int(secOfDay / 3600)
	t.Minute = int(secOfDay % 3600 / 60)
	t.Second = int(secOfDay % 60)
	return t
}

// civilToDays converts a proleptic Gregorian date to days since 1970-01-01.
func civilToDays(year, month, day int) int64 {
	y := int64(year)
	if month <= 2 {
		y--
	}
	era := floorDiv(y, 400)
	yoe := y - era*400
	mp := int64((month + 9) % 12)
	doy := (153*mp+2)/5 + int64(day) - 1
	doe := yoe*365 + yoe/4 - yoe/100 + doy
	return era*146097 + doe - 719468
}

// daysToCivil converts days since 1970-01-01 to a proleptic Gregorian date.
func daysToCivil(z int64) (year, month, day int) {
	z += 719468
	era := floorDiv(z, 146097)
	doe := z - era*146097
	yoe := (doe - doe/1460 + doe/36524 - doe/146096) / 365
	y := yoe + era*400
	doy := doe - (365*yoe + yoe/4 - yoe/100)
	mp := (5*doy + 2) / 153
	day = int(doy - (153*mp+2)/5 + 1)
	if mp < 10 {
		month = int(mp + 3)
	} else {
		month = int(mp - 9)
	}
	if month <= 2 {
		y++
	}
	return int(y), month, day
}

// timeEncoding holds a decoded CF "units since epoch" declaration.
type timeEncoding struct {
	unitSeconds float64
	epoch       CFTime
	calendar    Calendar
	units       string // original attribute text, copied into outputs
}

// parseTimeUnits decodes a CF units attribute such as
// "days since 1850-01-01 00:00:00" together with a calendar attribute.
func parseTimeUnits(units, calendar string) (timeEncoding, error) {
	cal, err := ParseCalendar(calendar)
	if err != nil {
		return timeEncoding{}, err
	}
	fields := strings.Fields(units)
	if len(fields) < 3 || strings.ToLower(fields[1]) != "since" {
		return timeEncoding{}, fmt.Errorf("tsgen: cannot parse time units %q", units)
	}
	var unitSec float64
	switch strings.ToLower(strings.TrimSuffix(fields[0], "s")) {
	case "day":
		unitSec = 86400
	case "hour", "hr":
		unitSec = 3600
	case "minute", "min":
		unitSec = 60
	case "second", "sec":
		unitSec = 1
	default:
		return timeEncoding{}, fmt.Errorf("tsgen: unsupported time unit %q in %q", fields[0], units)
	}

	datePart := fields[2]
	timePart := ""
	if i := strings.IndexByte(datePart, 'T'); i >= 0 {
		timePart = datePart[i+1:]
		datePart = datePart[:i]
	} else if len(fields) > 3 {
		timePart = fields[3]
	}

	epoch := CFTime{Calendar: cal, Month: 1, Day: 1}
	dp := strings.Split(datePart, "-")
	if len(dp) < 1 || len(dp) > 3 {
		return timeEncoding{}, fmt.Errorf("tsgen: cannot parse epoch date in %q", units)
	}
	nums := make([]int, len(dp))
	for i, s := range dp {
		n, err := strconv.Atoi(s)
		if err != nil {
			return timeEncoding{}, fmt.Errorf("tsgen: cannot parse epoch date in %q: %v", units, err)
		}
		nums[i] = n
	}
	epoch.Year = nums[0]
	if len(nums) > 1 {
		epoch.Month = nums[1]
	}
	if len(nums) > 2 {
		epoch.Day = nums[2]
	}

	if timePart != "" {
		tp := strings.Split(timePart, ":")
		for i, s := range tp {
			if i > 2 {
				break
			}
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return timeEncoding{}, fmt.Errorf("tsgen: cannot parse epoch time in %q: %v", units, err)
			}
			switch i {
			case 0:
				epoch.Hour = int(v)
			case 1:
				epoch.Minute = int(v)
			case 2:
				epoch.Second = int(math.Round(v))
			}
		}
	}

	return timeEncoding{unitSeconds: unitSec, epoch: epoch, calendar: cal, units: units}, nil
}

// decode converts a raw coordinate value to a calendar timestamp. Values are
// rounded to whole seconds, which absorbs the float noise that fractional-day
// coordinates accumulate.
func (e timeEncoding) decode(value float64) CFTime {
	total := e.epoch.secondsSinceEpoch() + int64(math.Round(value*e.unitSeconds))
	day := floorDiv(total, 86400)
	return timeFromOrdinal(e.calendar, day, total-day*86400)
}

// deltaHours returns the spacing between the first two values in hours, or 0
// when fewer than two values exist.
func (e timeEncoding) deltaHours(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	return (values[1] - values[0]) * e.unitSeconds / 3600
}

// stampResolution selects how much of a timestamp appears in output names.
type stampResolution int

const (
	stampYear stampResolution = iota
	stampMonth
	stampDay
	stampHour
	stampSecond
)

func (t CFTime) stamp(res stampResolution) string {
	switch res {
	case stampYear:
		return fmt.Sprintf("%04d", t.Year)
	case stampMonth:
		return fmt.Sprintf("%04d%02d", t.Year, t.Month)
	case stampDay:
		return fmt.Sprintf("%04d%02d%02d", t.Year, t.Month, t.Day)
	case stampHour:
		return fmt.Sprintf("%04d%02d%02d%02d", t.Year, t.Month, t.Day, t.Hour)
	}
	return fmt.Sprintf("%04d%02d%02d%02d%02d%02d", t.Year, t.Month, t.Day, t.Hour, t.Minute, t.Second)
}

// stampResolutionFor picks the name resolution matching the cadence of the
// data: sub-hourly data needs full timestamps, annual data only years.
func stampResolutionFor(deltaHours float64) stampResolution {
	switch {
	case deltaHours <= 0:
		return stampHour
	case deltaHours < 1:
		return stampSecond
	case deltaHours < 24:
		return stampHour
	case deltaHours < 24*28:
		return stampDay
	case deltaHours < 24*364:
		return stampMonth
	}
	return stampYear
}

// timestampRange builds the start-end label embedded in output file names.
// A lone timestep gets a start stamp only.
func timestampRange(start, end CFTime, deltaHours float64) string {
	res := stampResolutionFor(deltaHours)
	if start == end {
		return start.stamp(res)
	}
	return start.stamp(res) + "-" + end.stamp(res)
}

// timestepLabel names the dominant cadence of a series, e.g. "month_1" for
// monthly data, for use as an output subdirectory. An explicit frequency
// string (from a time_period_freq global attribute) takes precedence.
func timestepLabel(deltaHours float64, freq string) string {
	if freq != "" {
		return freq
	}
	switch {
	case deltaHours >= 24*364:
		return fmt.Sprintf("year_%d", int(math.Ceil(deltaHours/(24*365))))
	case deltaHours >= 24*28:
		return fmt.Sprintf("month_%d", int(math.Ceil(deltaHours/(24*31))))
	case deltaHours >= 24:
		return fmt.Sprintf("day_%d", int(deltaHours/24))
	}
	return fmt.Sprintf("hour_%d", int(deltaHours))
}
