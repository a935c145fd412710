package vp

// ProgressEvent represents a progress update during save, extraction or
// loose-file operations.
type ProgressEvent struct {
	// Stage identifies the current phase of the operation.
	Stage ProgressStage

	// Path is the entry currently being processed, if applicable.
	Path string

	// BytesDone is the number of bytes written so far.
	BytesDone uint64

	// FilesDone is the number of files completed.
	FilesDone int

	// FilesTotal is the total number of files.
	FilesTotal int
}

// ProgressStage identifies the current phase of an operation.
type ProgressStage uint8

// Progress stages.
const (
	// StageSaving indicates files are being written into a rebuilt archive.
	StageSaving ProgressStage = iota

	// StageExtracting indicates files are being extracted.
	StageExtracting

	// StageExporting indicates files are being written to a tar stream.
	StageExporting

	// StageCompressing indicates loose files are being compressed.
	StageCompressing

	// StageDecompressing indicates loose files are being decompressed.
	StageDecompressing
)

// String returns the string representation of the stage.
func (s ProgressStage) String() string {
	switch s {
	case StageSaving:
		return "saving"
	case StageExtracting:
		return "extracting"
	case StageExporting:
		return "exporting"
	case StageCompressing:
		return "compressing"
	case StageDecompressing:
		return "decompressing"
	default:
		return "unknown"
	}
}

// ProgressFunc receives progress updates during operations.
// Implementations must be safe for concurrent calls.
type ProgressFunc func(ProgressEvent)

func report(fn ProgressFunc, ev ProgressEvent) {
	if fn != nil {
		fn(ev)
	}
}
