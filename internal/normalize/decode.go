package normalize

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// decodeCSV reads a headered CSV file into raw rows. An empty file yields
// zero rows; a row with a different field count than the header is an error.
func decodeCSV(content []byte) ([]Row, error) {
	reader := csv.NewReader(bytes.NewReader(content))

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	rows := make([]Row, 0)
	for {
		fields, readErr := reader.Read()
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read csv row %d: %w", len(rows)+2, readErr)
		}

		values := make(map[string]any, len(header))
		for i, column := range header {
			values[column] = fields[i]
		}
		rows = append(rows, Row{Columns: header, Values: values})
	}
	return rows, nil
}

// decodeNDJSON reads newline-delimited JSON objects into raw rows. Numbers
// are decoded as json.Number so arbitrary-precision values survive intact.
func decodeNDJSON(content []byte) ([]Row, error) {
	decoder := json.NewDecoder(bytes.NewReader(content))
	decoder.UseNumber()

	rows := make([]Row, 0)
	for {
		var values map[string]any
		if err := decoder.Decode(&values); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("decode json row %d: %w", len(rows)+1, err)
		}

		columns := make([]string, 0, len(values))
		for column := range values {
			columns = append(columns, column)
		}
		rows = append(rows, Row{Columns: columns, Values: values})
	}
	return rows, nil
}
