package feeder

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// YAMLSource reads records from a YAML file containing a sequence of mappings.
func YAMLSource(path string) Source {
	return fileSource("YAML", path, loadYAML)
}

func loadYAML(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open YAML file: %w", err)
	}

	var rawRecords []map[string]interface{}
	if err := yaml.Unmarshal(data, &rawRecords); err != nil {
		return nil, fmt.Errorf("decode YAML: %w", err)
	}

	if len(rawRecords) == 0 {
		return nil, fmt.Errorf("YAML file contains no records")
	}
	return toRecords(rawRecords)
}
