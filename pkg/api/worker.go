package api

// Files exchanged with a scorer process. Field names are shared with
// non-Go scorer implementations, so they keep snake_case tags.

const (
	WorkerStatusSuccess = "success"
	WorkerStatusError   = "error"
)

type WorkerTask struct {
	ImageB64     string `json:"image_b64"`
	SystemPrompt string `json:"system_prompt"`
	UserPrompt   string `json:"user_prompt"`
}

type WorkerInput struct {
	Tasks []WorkerTask `json:"tasks"`
}

type WorkerOutput struct {
	Status   string    `json:"status"`
	Scores   []float64 `json:"scores"`
	NumTasks int       `json:"num_tasks"`
	Error    string    `json:"error,omitempty"`
}
