// Package extractor pulls values out of step responses with JSON path or regex
// rules so later steps of the same iteration can use them.
package extractor

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Extractor defines one extraction rule for a response body.
type Extractor struct {
	// JSONPath is a JSON path expression (e.g., "$.user.id", "user.id")
	JSONPath string `mapstructure:"json_path" json:"json_path,omitempty"`

	// Regex is a regex pattern with optional capture group
	Regex string `mapstructure:"regex" json:"regex,omitempty"`

	// Variable is the variable name to store the extracted value
	Variable string `mapstructure:"variable" json:"variable"`

	// OnError, if true, extracts even from error responses (4xx/5xx)
	OnError bool `mapstructure:"on_error" json:"on_error,omitempty"`

	// Required fails the step when the value cannot be extracted.
	Required bool `mapstructure:"required" json:"required,omitempty"`
}

// Validate checks that exactly one rule is set and that a regex compiles.
func (e Extractor) Validate() error {
	if strings.TrimSpace(e.Variable) == "" {
		return errors.New("variable is required")
	}
	switch {
	case e.JSONPath == "" && e.Regex == "":
		return fmt.Errorf("extractor %q: json_path or regex is required", e.Variable)
	case e.JSONPath != "" && e.Regex != "":
		return fmt.Errorf("extractor %q: json_path and regex are mutually exclusive", e.Variable)
	case e.Regex != "":
		if _, err := regexp.Compile(e.Regex); err != nil {
			return fmt.Errorf("extractor %q: invalid regex: %w", e.Variable, err)
		}
	}
	return nil
}

// MissingError reports required variables that could not be extracted.
type MissingError struct {
	Variables []string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("required variables not extracted: %s", strings.Join(e.Variables, ", "))
}

// ErrorKind labels the failure in step error breakdowns.
func (e *MissingError) ErrorKind() string {
	return "Extraction failed"
}

// ExtractAll applies all extractors to the response body and returns extracted key-value pairs.
// Failures are logged at warn level and yield an empty value; a *MissingError is
// returned when any Required extractor found nothing. The logger can be nil.
// failedResponse skips extractors without OnError.
func ExtractAll(body []byte, extractors []Extractor, failedResponse bool, logger *zap.Logger) (map[string]string, error) {
	result := make(map[string]string)

	if len(extractors) == 0 {
		return result, nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var missing []string
	for _, extractor := range extractors {
		if failedResponse && !extractor.OnError {
			continue
		}

		var value string
		var found bool
		log := logger.With(zap.String("variable", extractor.Variable))

		if extractor.JSONPath != "" {
			value, found = findJSONPath(body, extractor.JSONPath, log)
		} else if extractor.Regex != "" {
			value, found = findRegex(body, extractor.Regex, log)
		}

		result[extractor.Variable] = value
		if !found && extractor.Required {
			missing = append(missing, extractor.Variable)
		}
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return result, &MissingError{Variables: missing}
	}
	return result, nil
}
