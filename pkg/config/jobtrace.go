package config

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
)

// JobTraceRow is one row of the --replay-job-trace CSV: jobTypeID,
// startTime, queueTime, jobID.
type JobTraceRow struct {
	JobTypeID int
	StartTime float64
	QueueTime float64
	JobID     string
}

// LoadJobTrace reads the replay-job-trace CSV. The file has no header row;
// every line is a data row.
func LoadJobTrace(path string) ([]JobTraceRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: opening job trace %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 4
	r.TrimLeadingSpace = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("config: parsing job trace %s: %w", path, err)
	}

	rows := make([]JobTraceRow, 0, len(records))
	for i, rec := range records {
		typeID, err := strconv.Atoi(rec[0])
		if err != nil {
			return nil, fmt.Errorf("config: job trace %s line %d: bad jobTypeID %q", path, i+1, rec[0])
		}
		startTime, err := strconv.ParseFloat(rec[1], 64)
		if err != nil {
			return nil, fmt.Errorf("config: job trace %s line %d: bad startTime %q", path, i+1, rec[1])
		}
		queueTime, err := strconv.ParseFloat(rec[2], 64)
		if err != nil {
			return nil, fmt.Errorf("config: job trace %s line %d: bad queueTime %q", path, i+1, rec[2])
		}
		rows = append(rows, JobTraceRow{
			JobTypeID: typeID,
			StartTime: startTime,
			QueueTime: queueTime,
			JobID:     rec[3],
		})
	}
	return rows, nil
}
