package schemas

import "time"

// StartRunRequest asks for a repository to be built and deployed.
type StartRunRequest struct {
	RepoURL        string `json:"repo_url" binding:"required"`
	Branch         string `json:"branch"`
	Mode           string `json:"mode" binding:"required"`
	ComposePath    string `json:"compose_path,omitempty"`
	PrimaryService string `json:"primary_service,omitempty"`
}

// StartRunResponse carries the assigned identifier and initial status.
type StartRunResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// RunResponse is the full run record as exposed to callers.
type RunResponse struct {
	ID             string     `json:"id"`
	RepoURL        string     `json:"repo_url"`
	Branch         string     `json:"branch"`
	Mode           string     `json:"mode"`
	ComposePath    string     `json:"compose_path,omitempty"`
	PrimaryService string     `json:"primary_service,omitempty"`
	Status         string     `json:"status"`
	ImageRefs      []string   `json:"image_refs,omitempty"`
	Ports          []int32    `json:"ports,omitempty"`
	PreviewURL     string     `json:"preview_url,omitempty"`
	Namespace      string     `json:"namespace,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}
