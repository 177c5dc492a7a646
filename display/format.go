package display

import (
	"fmt"
	"io"
	"strings"

	"github.com/teranos/tally/errors"
)

// Format is an output format for command results
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat accepts table, json or yaml (case-insensitive)
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", errors.WithHint(
			errors.NewInvalidRequestError("unsupported format: %s", s),
			"supported formats: table, json, yaml")
	}
}

// Write renders v to w. Table output is produced by table, which may be
// nil for values with no tabular form; those fall back to YAML.
func Write(w io.Writer, format Format, v interface{}, table func() (string, error)) error {
	var (
		out []byte
		err error
	)
	switch format {
	case FormatJSON:
		out, err = MarshalJSON(v)
		out = append(out, '\n')
	case FormatYAML:
		out, err = MarshalYAML(v)
	case FormatTable:
		if table == nil {
			out, err = MarshalYAML(v)
			break
		}
		var s string
		s, err = table()
		out = []byte(s)
	default:
		return errors.NewInvalidRequestError("unsupported format: %s", format)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to render %s output", format)
	}
	_, err = fmt.Fprint(w, string(out))
	return err
}
