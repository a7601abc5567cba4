package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked — swapping an LLM
// or ASR provider out from under an in-flight task would leave it holding a
// stale handle, so provider changes are deliberately not tracked here.
type ConfigDiff struct {
	RulesFileChanged    bool
	NewRulesFile        string
	HotwordsFileChanged bool
	NewHotwordsFile     string
	LogLevelChanged     bool
	NewLogLevel         LogLevel
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart: the rules
// file path, the hotwords file path, and the log level.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Compliance.RulesFile != new.Compliance.RulesFile {
		d.RulesFileChanged = true
		d.NewRulesFile = new.Compliance.RulesFile
	}

	if old.Compliance.HotwordsFile != new.Compliance.HotwordsFile {
		d.HotwordsFileChanged = true
		d.NewHotwordsFile = new.Compliance.HotwordsFile
	}

	return d
}
