package vp

// extractConfig holds configuration for extraction.
type extractConfig struct {
	workers       int
	skipExisting  bool
	preserveTimes bool
	progress      ProgressFunc
}

// ExtractOption configures ExtractAll and Node.Extract.
type ExtractOption func(*extractConfig)

// ExtractWithWorkers sets the number of files written concurrently.
// Values below 1 extract serially, which is the default.
func ExtractWithWorkers(n int) ExtractOption {
	return func(cfg *extractConfig) {
		cfg.workers = n
	}
}

// ExtractWithSkipExisting leaves files that already exist in the destination
// untouched. By default, existing files are replaced.
func ExtractWithSkipExisting(skip bool) ExtractOption {
	return func(cfg *extractConfig) {
		cfg.skipExisting = skip
	}
}

// ExtractWithPreserveTimes sets extracted file modification times from the
// index timestamps.
func ExtractWithPreserveTimes(preserve bool) ExtractOption {
	return func(cfg *extractConfig) {
		cfg.preserveTimes = preserve
	}
}

// ExtractWithProgress sets a callback invoked after each file is processed.
// With more than one worker it is called concurrently.
func ExtractWithProgress(fn ProgressFunc) ExtractOption {
	return func(cfg *extractConfig) {
		cfg.progress = fn
	}
}
