/*
Package aggregation compresses a day of hourly stats into one daily summary
per camera.

# What Gets Aggregated

Every camera reports one hourly stat per (hour, vehicle type, direction). A
full day for one camera is therefore up to 24 × 3 × 2 = 144 rows:

	hour   camera  type   dir  count
	00:00  cam_01  car    in   12
	00:00  cam_01  car    out  9
	00:00  cam_01  bus    in   1
	...
	23:00  cam_01  truck  out  0

The aggregator folds those rows into a single DailySummary:

	┌──────────────────────────────────────────────────────────┐
	│ six totals        car/bus/truck × in/out                 │
	│ total_in/out      derived from the six totals            │
	│ peak hour         busiest local hour per direction       │
	│ avg_confidence    mean of the non-null hourly confidences│
	│ completeness      hours with data / 24 × 100             │
	└──────────────────────────────────────────────────────────┘

# Day Boundaries

A day is [00:00, next 00:00) in the configured timezone, so daylight-saving
days are 23 or 25 hours long. Peak hours are reported as local hour-of-day.
A 25-hour day can see 25 distinct hours; completeness is capped at 100.

# Ties and Gaps

The earliest hour wins a peak tie. A direction with no data reports peak
hour 0 with a count of 0. A day with no hourly rows writes no summaries and
is still a success.

# Idempotence

Summaries are upserted by (date, camera). Re-running a day overwrites the
previous result, so a late-arriving hourly stat is picked up by simply
aggregating the day again.
*/
package aggregation
