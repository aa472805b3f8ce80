package aggregation

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/nicktill/trafficwatch/pkg/traffic"
)

// HoursPerDay is the denominator of data completeness.
const HoursPerDay = 24

// cameraDay accumulates one camera's hourly stats for one day.
type cameraDay struct {
	cameraID string

	totals map[traffic.VehicleType]map[traffic.Direction]int64

	// per local hour-of-day, per direction
	hourIn  [HoursPerDay]int64
	hourOut [HoursPerDay]int64
	seenIn  bool
	seenOut bool

	confidences []float64
	hours       map[time.Time]struct{}
}

func newCameraDay(cameraID string) *cameraDay {
	totals := make(map[traffic.VehicleType]map[traffic.Direction]int64, len(traffic.VehicleTypes))
	for _, vt := range traffic.VehicleTypes {
		totals[vt] = map[traffic.Direction]int64{traffic.In: 0, traffic.Out: 0}
	}
	return &cameraDay{
		cameraID: cameraID,
		totals:   totals,
		hours:    make(map[time.Time]struct{}),
	}
}

func (c *cameraDay) add(s traffic.HourlyStat, loc *time.Location) {
	if byDir, ok := c.totals[s.VehicleType]; ok {
		byDir[s.Direction] += s.Count
	}

	h := s.Hour.In(loc).Hour()
	switch s.Direction {
	case traffic.In:
		c.hourIn[h] += s.Count
		c.seenIn = true
	case traffic.Out:
		c.hourOut[h] += s.Count
		c.seenOut = true
	}

	if s.AvgConfidence != nil {
		c.confidences = append(c.confidences, *s.AvgConfidence)
	}
	c.hours[s.Hour.UTC().Truncate(time.Hour)] = struct{}{}
}

func (c *cameraDay) summary(date time.Time) traffic.DailySummary {
	sum := traffic.DailySummary{
		Date:          traffic.CalendarDate(date),
		CameraID:      c.cameraID,
		CarInTotal:    c.totals[traffic.Car][traffic.In],
		CarOutTotal:   c.totals[traffic.Car][traffic.Out],
		BusInTotal:    c.totals[traffic.Bus][traffic.In],
		BusOutTotal:   c.totals[traffic.Bus][traffic.Out],
		TruckInTotal:  c.totals[traffic.Truck][traffic.In],
		TruckOutTotal: c.totals[traffic.Truck][traffic.Out],
		HoursWithData: len(c.hours),
	}
	sum.TotalIn = sum.CarInTotal + sum.BusInTotal + sum.TruckInTotal
	sum.TotalOut = sum.CarOutTotal + sum.BusOutTotal + sum.TruckOutTotal

	peakIn, inCount := peakHour(c.hourIn, c.seenIn)
	peakOut, outCount := peakHour(c.hourOut, c.seenOut)
	sum.PeakHourIn = peakIn
	sum.PeakHourOut = peakOut
	sum.PeakHourValue = max(inCount, outCount)

	if len(c.confidences) > 0 {
		mean := stat.Mean(c.confidences, nil)
		sum.AvgConfidence = &mean
	}

	sum.DataCompleteness = Completeness(sum.HoursWithData)
	return sum
}

// peakHour returns the busiest hour and its count. The earliest hour wins
// ties; no data yields (0, 0).
func peakHour(counts [HoursPerDay]int64, seen bool) (int, int64) {
	if !seen {
		return 0, 0
	}
	best := 0
	for h := 1; h < HoursPerDay; h++ {
		if counts[h] > counts[best] {
			best = h
		}
	}
	return best, counts[best]
}

// Completeness is hours/24 as a percentage, rounded to 2 decimals and capped
// at 100.
func Completeness(hours int) float64 {
	pct := math.Round(float64(hours)/HoursPerDay*100*100) / 100
	return math.Min(pct, 100)
}

// Summarize folds one day of hourly stats into a summary per camera, sorted
// by camera id. date is any instant on the day; loc decides hour-of-day.
func Summarize(date time.Time, rows []traffic.HourlyStat, loc *time.Location) []traffic.DailySummary {
	if len(rows) == 0 {
		return nil
	}

	days := make(map[string]*cameraDay)
	for _, r := range rows {
		d, ok := days[r.CameraID]
		if !ok {
			d = newCameraDay(r.CameraID)
			days[r.CameraID] = d
		}
		d.add(r, loc)
	}

	cameras := make([]string, 0, len(days))
	for id := range days {
		cameras = append(cameras, id)
	}
	sort.Strings(cameras)

	start, _ := DayBounds(date, loc)
	out := make([]traffic.DailySummary, 0, len(cameras))
	for _, id := range cameras {
		out = append(out, days[id].summary(start))
	}
	return out
}

// DayBounds returns [00:00, next 00:00) of date's calendar day in loc.
func DayBounds(date time.Time, loc *time.Location) (time.Time, time.Time) {
	y, m, d := date.In(loc).Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}
