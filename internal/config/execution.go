package config

// ExecutionConfig configures the tactile interface.
type ExecutionConfig struct {
	// Default timeout per invocation ("" = none)
	DefaultTimeout string `yaml:"default_timeout" json:"default_timeout,omitempty"`

	// Working directory the analysis program starts in ("" = inherit)
	WorkingDirectory string `yaml:"working_directory" json:"working_directory,omitempty"`

	// Environment variables to pass (empty = whole environment)
	AllowedEnvVars []string `yaml:"allowed_env_vars" json:"allowed_env_vars,omitempty"`

	// Cap on captured stdout/stderr per invocation
	MaxOutputBytes int64 `yaml:"max_output_bytes" json:"max_output_bytes,omitempty"`

	// JSON Lines audit of every execution event ("" = off)
	AuditLog string `yaml:"audit_log" json:"audit_log,omitempty"`
}
