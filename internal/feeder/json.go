package feeder

import (
	"encoding/json"
	"fmt"
	"os"
)

// JSONSource reads records from a JSON file containing an array of objects.
func JSONSource(path string) Source {
	return fileSource("JSON", path, loadJSON)
}

func loadJSON(path string) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open JSON file: %w", err)
	}
	defer file.Close()

	var rawRecords []map[string]interface{}
	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&rawRecords); err != nil {
		return nil, fmt.Errorf("decode JSON: %w", err)
	}

	if len(rawRecords) == 0 {
		return nil, fmt.Errorf("JSON file contains empty array")
	}
	return toRecords(rawRecords)
}

func toRecords(raw []map[string]interface{}) ([]Record, error) {
	records := make([]Record, 0, len(raw))
	for i, rawRecord := range raw {
		record := make(Record, len(rawRecord))
		for key, value := range rawRecord {
			// Convert all values to strings
			record[key] = fmt.Sprintf("%v", value)
		}
		if len(record) == 0 {
			return nil, fmt.Errorf("record %d is empty", i)
		}
		records = append(records, record)
	}
	return records, nil
}
