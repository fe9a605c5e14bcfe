package providers

import (
	"bytes"
	"iter"
	"path/filepath"
	"strings"
)

func batchFileName(sourceName string) string {
	name := filepath.Base(sourceName)
	if name == "." || name == string(filepath.Separator) || name == "" {
		name = "requests"
	}

	return strings.TrimSuffix(name, filepath.Ext(name)) + ".batch.jsonl"
}

// artifactLines yields the non-blank lines of a result artifact with their
// 1-based line numbers.
func artifactLines(artifact []byte) iter.Seq2[int, []byte] {
	return func(yield func(int, []byte) bool) {
		for i, line := range bytes.Split(artifact, []byte("\n")) {
			trimmed := bytes.TrimSpace(line)
			if len(trimmed) == 0 {
				continue
			}

			if !yield(i+1, trimmed) {
				return
			}
		}
	}
}
