package ingest

import (
	"encoding/json"
	"io"
	"net/http"

	"research-rag/internal/models"
)

// WriteNDJSON writes each event as one JSON line, flushing after every line
// when w supports it. It returns the last event written. On a write error the
// caller should cancel the pipeline's context so the producer stops.
func WriteNDJSON(w io.Writer, events <-chan models.ProgressEvent) (models.ProgressEvent, error) {
	enc := json.NewEncoder(w)
	flusher, _ := w.(http.Flusher)

	var last models.ProgressEvent
	for ev := range events {
		if err := enc.Encode(ev); err != nil {
			return last, err
		}
		if flusher != nil {
			flusher.Flush()
		}
		last = ev
	}
	return last, nil
}
