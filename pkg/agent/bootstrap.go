package agent

import "fmt"

// RenderBootstrapPrompt is the single template function every spawning
// path goes through. The token and identity are embedded as plain text
// content only, never as environment variables, so that capturing the
// worker session's buffer is the only way to read them.
func RenderBootstrapPrompt(agentID, token, workingDirectory string, capabilities []string, backgroundMode bool) string {
	mode := "worker"
	if backgroundMode {
		mode = "background worker"
	}
	return fmt.Sprintf(
		"You are agent %q, a %s in this multi-agent session.\n"+
			"Your working directory is %s.\n"+
			"Your authentication token is: %s\n"+
			"Capabilities: %v\n"+
			"Use this token for every tool call against the orchestrator.\n",
		agentID, mode, workingDirectory, token, capabilities,
	)
}
