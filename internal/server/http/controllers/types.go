package controllers

// Common request/response types for HTTP controllers

// progressReq publishes one progress event. The subject is subject_key, or
// derived from workflow_id or file_id.
type progressReq struct {
	SubjectKey string         `json:"subject_key"`
	WorkflowID string         `json:"workflow_id"`
	FileID     string         `json:"file_id"`
	Step       string         `json:"step"`
	Progress   float64        `json:"progress"`
	Message    string         `json:"message"`
	Data       map[string]any `json:"data"`
}

// terminalReq publishes the completed or failed event of a subject.
type terminalReq struct {
	SubjectKey string         `json:"subject_key"`
	WorkflowID string         `json:"workflow_id"`
	FileID     string         `json:"file_id"`
	Success    bool           `json:"success"`
	Result     map[string]any `json:"result"`
	Error      string         `json:"error"`
}

// notificationReq publishes a user notification.
type notificationReq struct {
	UserID  string         `json:"user_id"`
	Title   string         `json:"title"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

// publishResp carries the cursor of an appended event.
type publishResp struct {
	SubjectKey string `json:"subject_key"`
	ID         string `json:"id"`
}

// workflowStatusResp is the answer of the workflow status endpoint.
type workflowStatusResp struct {
	WorkflowID string         `json:"workflow_id"`
	State      string         `json:"state"`
	Source     string         `json:"source"`
	Step       string         `json:"step,omitempty"`
	Progress   *float64       `json:"progress,omitempty"`
	Error      string         `json:"error,omitempty"`
	Result     map[string]any `json:"result,omitempty"`
}
