package feeder

import (
	"context"
	"errors"
	"fmt"
)

// Provider loads the records of a source. It is called at most once per Dataset.
type Provider func(ctx context.Context) ([]Record, error)

// Source describes where the records of a dataset come from.
type Source struct {
	name     string
	records  []Record
	provider Provider
}

// Static is a source over an in-memory list.
func Static(records ...Record) Source {
	return Source{name: "static data", records: records}
}

// FromProvider is a source resolved by calling p once.
func FromProvider(p Provider) Source {
	return Source{name: "data provider", provider: p}
}

func (s Source) String() string {
	if s.name == "" {
		return "data source"
	}
	return s.name
}

func (s Source) resolve(ctx context.Context) ([]Record, error) {
	if s.provider == nil {
		return s.records, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	records, err := s.provider(ctx)
	if err != nil {
		return nil, err
	}
	if records == nil {
		return nil, errors.New("provider returned nil records")
	}
	return records, nil
}

// FileSource picks the file loader by format ("csv", "json" or "yaml").
func FileSource(path, format string) (Source, error) {
	switch format {
	case "csv":
		return CSVSource(path), nil
	case "json":
		return JSONSource(path), nil
	case "yaml", "yml":
		return YAMLSource(path), nil
	default:
		return Source{}, fmt.Errorf("unsupported data format %q", format)
	}
}

func fileSource(kind, path string, load func(path string) ([]Record, error)) Source {
	return Source{
		name: fmt.Sprintf("%s file %s", kind, path),
		provider: func(ctx context.Context) ([]Record, error) {
			return load(path)
		},
	}
}
