package workspace

import "os"

// EnvInjector resolves the environment variables CreateContainer injects
// into a freshly created sandbox, in the style of a credential
// EnvProvider narrowed to the one secret and one feature flag this domain
// actually needs.
type EnvInjector struct {
	forceMockCodex bool
}

// NewEnvInjector builds an EnvInjector. forceMockCodex mirrors the
// FORCE_MOCK_CODEX configuration flag; when it is true the sandbox gets
// FORCE_MOCK_CODEX=1.
func NewEnvInjector(forceMockCodex bool) *EnvInjector {
	return &EnvInjector{forceMockCodex: forceMockCodex}
}

// Build returns the env map for CreateContainer: OPENAI_API_KEY (if
// present in the control plane's own environment), FORCE_MOCK_CODEX (if
// set), and CODEX_THREAD_ID (if the workspace already has one from a
// prior run).
func (e *EnvInjector) Build(existingThreadID *string) map[string]string {
	env := make(map[string]string)

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		env["OPENAI_API_KEY"] = key
	}
	if e.forceMockCodex {
		env["FORCE_MOCK_CODEX"] = "1"
	}
	if existingThreadID != nil && *existingThreadID != "" {
		env["CODEX_THREAD_ID"] = *existingThreadID
	}

	return env
}
