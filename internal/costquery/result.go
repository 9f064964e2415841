package costquery

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Row is one usage row: the cost plus the grouping values in layout order.
type Row struct {
	Cost float64
	Dims []string
}

// Dim returns the value at position i, or "" when the row is shorter.
func (r Row) Dim(i int) string {
	if i < 0 || i >= len(r.Dims) {
		return ""
	}
	return r.Dims[i]
}

// Column describes one cell of the raw rows as reported by the API.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Result is a decoded query response. Both the properties object and its rows
// may be absent; either case yields zero rows.
type Result struct {
	Properties *struct {
		Columns []Column          `json:"columns"`
		Rows    []json.RawMessage `json:"rows"`
	} `json:"properties"`
}

// Decode parses a raw query response. An empty body decodes to zero rows.
func Decode(body []byte) (Result, error) {
	var res Result
	if len(bytes.TrimSpace(body)) == 0 {
		return res, nil
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return Result{}, fmt.Errorf("costquery: decoding response: %w", err)
	}
	return res, nil
}

// Columns returns the column descriptors, or nil.
func (r Result) Columns() []Column {
	if r.Properties == nil {
		return nil
	}
	return r.Properties.Columns
}

// RawRows returns the undecoded row arrays.
func (r Result) RawRows() []json.RawMessage {
	if r.Properties == nil {
		return nil
	}
	return r.Properties.Rows
}

// Rows decodes every row against layout. The first cell must be numeric; rows
// where it is not are dropped. Grouping cells beyond the layout (the API
// appends a currency column) are ignored, and null cells decode as "".
func (r Result) Rows(layout Layout) []Row {
	raw := r.RawRows()
	rows := make([]Row, 0, len(raw))
	for _, msg := range raw {
		row, ok := decodeRow(msg, len(layout))
		if ok {
			rows = append(rows, row)
		}
	}
	return rows
}

func decodeRow(msg json.RawMessage, dims int) (Row, bool) {
	var cells []any
	if err := json.Unmarshal(msg, &cells); err != nil || len(cells) == 0 {
		return Row{}, false
	}
	cost, ok := cells[0].(float64)
	if !ok {
		return Row{}, false
	}

	row := Row{Cost: cost, Dims: make([]string, dims)}
	for i := 0; i < dims && i+1 < len(cells); i++ {
		row.Dims[i] = cellString(cells[i+1])
	}
	return row, true
}

func cellString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}
