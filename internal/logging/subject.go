package logging

import "strings"

// FormatSubject builds the component/job/stage subject string used in console output.
func FormatSubject(component, jobID, stage string) string {
	component = strings.TrimSpace(component)
	jobID = strings.TrimSpace(jobID)
	stage = strings.TrimSpace(stage)
	parts := make([]string, 0, 2)
	if component != "" {
		parts = append(parts, component)
	}
	switch {
	case jobID != "" && stage != "":
		parts = append(parts, "job #"+jobID+" ("+stage+")")
	case jobID != "":
		parts = append(parts, "job #"+jobID)
	case stage != "":
		parts = append(parts, stage)
	}
	return strings.Join(parts, " · ")
}
