package publisher

import "strings"

// Fan-in topics followed by user sessions.
const (
	TopicWorkflow      = "relay:workflow:progress"
	TopicAnalysis      = "relay:analysis:progress"
	TopicAI            = "relay:ai:progress"
	TopicNotifications = "relay:notifications"
)

// DefaultTopics lists the fan-in topics in the order user sessions read them.
var DefaultTopics = []string{TopicWorkflow, TopicAnalysis, TopicAI, TopicNotifications}

const (
	workflowPrefix = "workflow:"
	workflowSuffix = ":progress"
	filePrefix     = "file:"
	fileSuffix     = ":analysis"
)

// WorkflowSubject is the subject key of a workflow's progress.
func WorkflowSubject(workflowID string) string { return workflowPrefix + workflowID + workflowSuffix }

// FileSubject is the subject key of a file's analysis progress.
func FileSubject(fileID string) string { return filePrefix + fileID + fileSuffix }

// TopicFor maps a subject key to the fan-in topic its events are mirrored
// to. Fan-in topics map to themselves.
func TopicFor(subject string) string {
	switch {
	case strings.HasPrefix(subject, "relay:"):
		return subject
	case strings.HasPrefix(subject, workflowPrefix):
		return TopicWorkflow
	case strings.HasPrefix(subject, filePrefix):
		return TopicAnalysis
	default:
		return TopicNotifications
	}
}

// owner returns the payload field naming the subject's owner id.
func owner(subject string) (key, value string) {
	switch {
	case strings.HasPrefix(subject, workflowPrefix) && strings.HasSuffix(subject, workflowSuffix):
		return "workflow_id", strings.TrimSuffix(strings.TrimPrefix(subject, workflowPrefix), workflowSuffix)
	case strings.HasPrefix(subject, filePrefix) && strings.HasSuffix(subject, fileSuffix):
		return "file_id", strings.TrimSuffix(strings.TrimPrefix(subject, filePrefix), fileSuffix)
	}
	return "", ""
}
