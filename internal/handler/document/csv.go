package document

import (
	"encoding/csv"
	"fmt"
	"strings"
)

// RecordsFromCSV converts each CSV data row into one passage text, labeling
// every value with its column header so the passage is self-describing.
func RecordsFromCSV(content string) ([]string, error) {
	reader := csv.NewReader(strings.NewReader(content))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(rows) < 2 {
		return nil, nil
	}

	headers := rows[0]
	records := make([]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		var parts []string
		for i, value := range row {
			value = strings.TrimSpace(value)
			if value == "" {
				continue
			}
			label := fmt.Sprintf("column %d", i+1)
			if i < len(headers) && strings.TrimSpace(headers[i]) != "" {
				label = strings.TrimSpace(headers[i])
			}
			parts = append(parts, label+": "+value)
		}
		if len(parts) > 0 {
			records = append(records, strings.Join(parts, ", "))
		}
	}
	return records, nil
}
