// Package jalali converts between the proleptic Gregorian calendar and the
// Persian (Jalali) calendar and derives the Jalali week numbers used to bucket
// transactions.
//
// Leap years follow the Jalali break-year intercalation table (the 2820-year
// arithmetic approximation is not used), which matches the official calendar
// for years -61..3177.
package jalali

import (
	"fmt"
	"time"

	"github.com/mmdatafocus/txsummary/utils"
)

const (
	MinYear = -61
	MaxYear = 3177
)

// Jalali years at which the 33-year leap cycle is broken.
var breaks = [...]int{
	-61, 9, 38, 199, 426, 686, 756, 818, 1111, 1181, 1210,
	1635, 2060, 2097, 2192, 2262, 2324, 2394, 2456, 3178,
}

var monthNames = [...]string{
	"",
	"فروردین", "اردیبهشت", "خرداد",
	"تیر", "مرداد", "شهریور",
	"مهر", "آبان", "آذر",
	"دی", "بهمن", "اسفند",
}

// Date is a Jalali calendar date.
type Date struct {
	Year  int
	Month int
	Day   int
}

func (d Date) String() string {
	return fmt.Sprintf("%04d/%02d/%02d", d.Year, d.Month, d.Day)
}

// FromGregorian converts a Gregorian date to its Jalali equivalent.
func FromGregorian(year, month, day int) (Date, error) {
	if err := validGregorian(year, month, day); err != nil {
		return Date{}, err
	}
	d, ok := fromJDN(gregorianToJDN(year, month, day))
	if !ok {
		return Date{}, gregorianErr(year, month, day, "year outside supported jalali range")
	}
	return d, nil
}

// FromTime converts the calendar date of t, in t's location.
func FromTime(t time.Time) (Date, error) {
	y, m, d := t.Date()
	return FromGregorian(y, int(m), d)
}

// ToGregorian converts a Jalali date back to the Gregorian calendar.
func ToGregorian(jy, jm, jd int) (year, month, day int, err error) {
	if err := Valid(jy, jm, jd); err != nil {
		return 0, 0, 0, err
	}
	year, month, day = jdnToGregorian(toJDN(jy, jm, jd))
	return year, month, day, nil
}

// IsLeap reports whether jy has 366 days (30 days in Esfand).
func IsLeap(jy int) bool {
	c, ok := cycle(jy)
	return ok && c.leap == 0
}

// MonthLength returns the number of days in month jm of year jy, or 0 when
// the month is out of range.
func MonthLength(jy, jm int) int {
	switch {
	case jm < 1 || jm > 12:
		return 0
	case jm <= 6:
		return 31
	case jm <= 11:
		return 30
	case IsLeap(jy):
		return 30
	default:
		return 29
	}
}

// Valid returns an *utils.InvalidDateError when (jy, jm, jd) is not a Jalali date.
func Valid(jy, jm, jd int) error {
	if jy < MinYear || jy > MaxYear {
		return jalaliErr(jy, jm, jd, "year outside supported range")
	}
	if jm < 1 || jm > 12 {
		return jalaliErr(jy, jm, jd, "month must be between 1 and 12")
	}
	if n := MonthLength(jy, jm); jd < 1 || jd > n {
		return jalaliErr(jy, jm, jd, fmt.Sprintf("day must be between 1 and %d", n))
	}
	return nil
}

// WeekNumber counts sequential 7-day blocks from 1 Farvardin: day 1 of the
// year is always week 1 and the final partial block keeps its own number.
func WeekNumber(jy, jm, jd int) (int, error) {
	if err := Valid(jy, jm, jd); err != nil {
		return 0, err
	}
	return (toJDN(jy, jm, jd)-toJDN(jy, 1, 1))/7 + 1, nil
}

// WeekStart returns the representative date of a Gregorian week-of-year
// bucket: January 1st of year plus (week-1) weeks, at UTC midnight.
func WeekStart(year, week int) (time.Time, error) {
	if week < 0 || week > 53 {
		return time.Time{}, &utils.InvalidDateError{
			Calendar: "gregorian",
			Year:     year,
			Reason:   fmt.Sprintf("week %d must be between 0 and 53", week),
		}
	}
	return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, (week-1)*7), nil
}

// MonthName returns the Persian name of Jalali month jm.
func MonthName(jm int) (string, error) {
	if jm < 1 || jm > 12 {
		return "", &utils.InvalidDateError{
			Calendar: "jalali",
			Month:    jm,
			Reason:   "month must be between 1 and 12",
		}
	}
	return monthNames[jm], nil
}

func validGregorian(year, month, day int) error {
	if month < 1 || month > 12 {
		return gregorianErr(year, month, day, "month must be between 1 and 12")
	}
	n := time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if day < 1 || day > n {
		return gregorianErr(year, month, day, fmt.Sprintf("day must be between 1 and %d", n))
	}
	return nil
}

func gregorianErr(y, m, d int, reason string) error {
	return &utils.InvalidDateError{Calendar: "gregorian", Year: y, Month: m, Day: d, Reason: reason}
}

func jalaliErr(y, m, d int, reason string) error {
	return &utils.InvalidDateError{Calendar: "jalali", Year: y, Month: m, Day: d, Reason: reason}
}

type yearInfo struct {
	leap  int // years since the last leap year, 0 means jy itself is leap
	gy    int // gregorian year of 1 Farvardin
	march int // day in March of 1 Farvardin
}

// cycle locates jy within the break table.
func cycle(jy int) (yearInfo, bool) {
	if jy < breaks[0] || jy >= breaks[len(breaks)-1] {
		return yearInfo{}, false
	}
	gy := jy + 621
	leapJ := -14
	jp := breaks[0]
	jump := 0
	for i := 1; i < len(breaks); i++ {
		jm := breaks[i]
		jump = jm - jp
		if jy < jm {
			break
		}
		leapJ += jump/33*8 + (jump%33)/4
		jp = jm
	}
	n := jy - jp
	leapJ += n/33*8 + (n%33+3)/4
	if jump%33 == 4 && jump-n == 4 {
		leapJ++
	}
	leapG := gy/4 - (gy/100+1)*3/4 - 150
	march := 20 + leapJ - leapG

	if jump-n < 6 {
		n = n - jump + (jump+4)/33*33
	}
	leap := ((n+1)%33 - 1) % 4
	if leap == -1 {
		leap = 4
	}
	return yearInfo{leap: leap, gy: gy, march: march}, true
}

func toJDN(jy, jm, jd int) int {
	c, _ := cycle(jy)
	return gregorianToJDN(c.gy, 3, c.march) + (jm-1)*31 - jm/7*(jm-7) + jd - 1
}

func fromJDN(jdn int) (Date, bool) {
	gy, _, _ := jdnToGregorian(jdn)
	jy := gy - 621
	c, ok := cycle(jy)
	if !ok {
		return Date{}, false
	}
	k := jdn - gregorianToJDN(gy, 3, c.march)
	if k >= 0 {
		if k <= 185 {
			return Date{Year: jy, Month: 1 + k/31, Day: k%31 + 1}, true
		}
		k -= 186
	} else {
		jy--
		if jy < MinYear {
			return Date{}, false
		}
		k += 179
		if c.leap == 1 {
			k++
		}
	}
	return Date{Year: jy, Month: 7 + k/30, Day: k%30 + 1}, true
}

// gregorianToJDN and jdnToGregorian are integer-only Julian Day Number
// conversions valid for the whole supported range.
func gregorianToJDN(gy, gm, gd int) int {
	d := (gy+(gm-8)/6+100100)*1461/4 + (153*((gm+9)%12)+2)/5 + gd - 34840408
	return d - (gy+100100+(gm-8)/6)/100*3/4 + 752
}

func jdnToGregorian(jdn int) (gy, gm, gd int) {
	j := 4*jdn + 139361631
	j += (4*jdn+183187720)/146097*3/4*4 - 3908
	i := (j%1461)/4*5 + 308
	gd = (i%153)/5 + 1
	gm = (i/153)%12 + 1
	gy = j/1461 - 100100 + (8-gm)/6
	return gy, gm, gd
}
