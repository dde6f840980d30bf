package dimension

import (
	"context"
	"fmt"
	"log"
	"time"

	"salesetl/internal/schema"
	"salesetl/internal/storage"
)

// Season names the Northern-hemisphere meteorological season of m.
func Season(m time.Month) string {
	switch {
	case m >= time.March && m <= time.May:
		return "Spring"
	case m >= time.June && m <= time.August:
		return "Summer"
	case m >= time.September && m <= time.November:
		return "Fall"
	default:
		return "Winter"
	}
}

// FiscalPeriod returns the fiscal year and quarter on an April-start fiscal
// calendar: April 2024 through March 2025 is FY2024.
func FiscalPeriod(d time.Time) (year, quarter int) {
	m := int(d.Month())
	year = d.Year()
	if m < 4 {
		year--
	}
	quarter = ((m+8)%12)/3 + 1
	return year, quarter
}

// Calendar computes the dim_time attributes of the calendar date of d (UTC).
// Weeks are ISO-8601 week numbers; no holiday calendar is applied.
func Calendar(d time.Time) schema.TimeDimensionRecord {
	d = d.UTC()
	day := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	_, week := day.ISOWeek()
	fy, fq := FiscalPeriod(day)
	wd := day.Weekday()
	return schema.TimeDimensionRecord{
		Date:          day,
		Year:          day.Year(),
		Quarter:       (int(day.Month())-1)/3 + 1,
		Month:         int(day.Month()),
		MonthName:     day.Month().String(),
		Week:          week,
		Day:           day.Day(),
		DayName:       wd.String(),
		IsWeekend:     wd == time.Saturday || wd == time.Sunday,
		IsHoliday:     false,
		Season:        Season(day.Month()),
		FiscalYear:    fy,
		FiscalQuarter: fq,
	}
}

// GetOrCreateTimeDimension returns the dim_time id of the calendar date of
// d, inserting the row when the date is outside the seeded range.
func GetOrCreateTimeDimension(ctx context.Context, tx storage.DimensionWriter, d time.Time) (int64, error) {
	rec, err := tx.TimeDimension(ctx, d)
	if err != nil {
		return 0, fmt.Errorf("lookup dim_time: %w", err)
	}
	if rec != nil {
		return rec.ID, nil
	}
	id, err := tx.InsertTimeDimension(ctx, Calendar(d))
	if err != nil {
		return 0, fmt.Errorf("create dim_time: %w", err)
	}
	return id, nil
}

// SeedTimeDimension inserts every date of [startYear, endYear] that is not
// present yet and returns the number of dates visited.
func SeedTimeDimension(ctx context.Context, tx storage.DimensionWriter, startYear, endYear int) (int, error) {
	if startYear > endYear {
		return 0, fmt.Errorf("seed dim_time: start year %d after end year %d", startYear, endYear)
	}
	start := time.Date(startYear, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(endYear, time.December, 31, 0, 0, 0, 0, time.UTC)

	n := 0
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if _, err := tx.InsertTimeDimension(ctx, Calendar(d)); err != nil {
			return n, fmt.Errorf("seed dim_time %s: %w", d.Format(schema.DateLayout), err)
		}
		n++
	}
	log.Printf("scd: seeded dim_time years=%d-%d dates=%d", startYear, endYear, n)
	return n, nil
}
