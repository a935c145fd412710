package vp

// saveConfig holds configuration for a save.
type saveConfig struct {
	progress ProgressFunc
}

// SaveOption configures Save and SaveAs.
type SaveOption func(*saveConfig)

// SaveWithProgress sets a callback invoked after each file is written.
func SaveWithProgress(fn ProgressFunc) SaveOption {
	return func(cfg *saveConfig) {
		cfg.progress = fn
	}
}
