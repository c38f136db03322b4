package models

// Pipeline steps reported on the progress stream.
const (
	StepDownloading = "downloading"
	StepExtracting  = "extracting"
	StepChunking    = "chunking"
	StepEmbedding   = "embedding"
	StepStoring     = "storing"
	StepSummarizing = "summarizing"
	StepComplete    = "complete"
	StepError       = "error"
)

// ProgressEvent is one line of the ingestion progress stream.
type ProgressEvent struct {
	Step     string `json:"step"`
	Progress int    `json:"progress"`
	Message  string `json:"message"`
}

// Terminal reports whether no further events follow e.
func (e ProgressEvent) Terminal() bool {
	return e.Step == StepComplete || e.Step == StepError
}
