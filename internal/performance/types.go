package performance

import (
	"encoding/json"
	"time"
)

// QueryParameters select which performance records are returned
type QueryParameters struct {
	Fields    []string
	StartTime time.Time
	StopTime  time.Time
}

// Result is the decoded body of a performance response
type Result struct {
	Raw      json.RawMessage
	Document any
}

// Records returns the individual records of the result. The appliance answers
// either with a bare array or with an object wrapping it in "data" or "records".
func (r *Result) Records() []map[string]any {
	var items []any
	switch doc := r.Document.(type) {
	case []any:
		items = doc
	case map[string]any:
		for _, key := range []string{"data", "records"} {
			if list, ok := doc[key].([]any); ok {
				items = list
				break
			}
		}
	}

	records := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if rec, ok := item.(map[string]any); ok {
			records = append(records, rec)
		}
	}
	return records
}

// PerformanceRow represents a single performance record for parquet
type PerformanceRow struct {
	Mac       string `parquet:"name=mac, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Name      string `parquet:"name=name, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Type      string `parquet:"name=type, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Mode      string `parquet:"name=mode, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Timestamp string `parquet:"name=timestamp, type=BYTE_ARRAY, convertedtype=UTF8"`
	Record    string `parquet:"name=record, type=BYTE_ARRAY, convertedtype=UTF8"`
}
