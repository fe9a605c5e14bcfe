package calls

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// OutputWriter writes outputs as newline-delimited JSON.
type OutputWriter struct {
	enc   *json.Encoder
	count int
}

func NewOutputWriter(w io.Writer) *OutputWriter {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	return &OutputWriter{enc: enc}
}

func (w *OutputWriter) Write(output Output) error {
	if err := w.enc.Encode(output); err != nil {
		return fmt.Errorf("failed to write output for %q: %w", output.CustomID, err)
	}

	w.count++

	return nil
}

func (w *OutputWriter) Count() int {
	return w.count
}

func EncodeOutputs(outputs []Output) ([]byte, error) {
	var buf bytes.Buffer

	writer := NewOutputWriter(&buf)
	for _, output := range outputs {
		if err := writer.Write(output); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// ReadOutputIDs collects the custom ids already present in a previous output
// stream so a resumed run can skip them. Rows without a custom id, such as
// malformed batch result rows, are not collected.
func ReadOutputIDs(r io.Reader) (IDSet, error) {
	ids := NewIDSet()
	reader := bufio.NewReader(r)
	lineNo := 0

	for {
		line, readErr := reader.ReadBytes('\n')
		if len(line) > 0 {
			lineNo++

			trimmed := bytes.TrimSpace(line)
			if len(trimmed) > 0 {
				var row struct {
					CustomID string `json:"custom_id"`
				}

				if err := json.Unmarshal(trimmed, &row); err != nil {
					return nil, fmt.Errorf("%w: output line %d: %w", ErrMalformedRecord, lineNo, err)
				}

				if row.CustomID != "" {
					ids.Add(row.CustomID)
				}
			}
		}

		if errors.Is(readErr, io.EOF) {
			return ids, nil
		}

		if readErr != nil {
			return nil, fmt.Errorf("failed to read outputs: %w", readErr)
		}
	}
}
