// Package export provides backup and restore of aggregated traffic data.
//
// # Overview
//
// Daily summaries and hourly stats can be exported as JSON or CSV. JSON
// exports are full backups that Importer can load back; CSV is a flat
// rendition for spreadsheets and notebooks.
//
// # Supported Formats
//
// JSON Format:
//   - One document with a metadata block and the rows of one dataset
//   - Rows keep every stored field, including null confidences
//   - Can be re-imported
//
// CSV Format:
//   - One header row, then one row per summary or hourly stat
//   - Null confidences become empty cells
//   - Export-only
//
// # HTTP API
//
// Export endpoint: GET /v1/export
// Query parameters:
//   - dataset: "daily" or "hourly" (default: daily)
//   - format: "json" or "csv" (default: json)
//   - start, end: RFC3339 or YYYY-MM-DD in the configured timezone
//   - camera_id: camera filter (optional)
//
// Example:
//
//	curl "http://localhost:8080/v1/export?dataset=daily&format=csv&start=2025-11-01" \
//	  -o november.csv
//
// Import endpoint: POST /v1/import
// Content-Type: application/json
//
//	curl -X POST "http://localhost:8080/v1/import" \
//	  -H "Content-Type: application/json" \
//	  -d @backup.json
//
// # Usage Limits
//
//   - Default export window: 7 days
//   - Maximum export window: 366 days
//   - Import batch size: 5,000 rows per upsert
//
// # Import Semantics
//
// Imports upsert with storage.Ignore, so rows already present are left alone
// and counted as skipped. Invalid rows are rejected individually and listed in
// ImportResult.Errors; the rest of the backup is still written.
//
// The JSON document looks like:
//
//	{
//	  "metadata": {
//	    "exported_at": "2025-11-19T03:00:00Z",
//	    "start_time": "2025-11-12T00:00:00Z",
//	    "end_time": "2025-11-19T00:00:00Z",
//	    "dataset": "daily",
//	    "row_count": 1,
//	    "format": "json",
//	    "version": "1.0"
//	  },
//	  "daily_summaries": [
//	    {"date": "2025-11-18T00:00:00Z", "camera_id": "cam-01", "total_in": 812, ...}
//	  ]
//	}
package export
