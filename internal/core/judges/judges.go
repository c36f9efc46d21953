package judges

import (
	"editbench/internal/core/types"
	"editbench/internal/core/utils"
	"editbench/pkg/api"
	"fmt"
)

// workerTask converts a score request to the worker process format.
func workerTask(req types.ScoreRequest) (api.WorkerTask, error) {
	if req.EditedImage == nil {
		return api.WorkerTask{}, fmt.Errorf("score request has no edited image")
	}

	encoded, err := utils.EncodeBase64PNG(req.EditedImage)
	if err != nil {
		return api.WorkerTask{}, fmt.Errorf("error encoding edited image: %w", err)
	}

	return api.WorkerTask{
		ImageB64:     encoded,
		SystemPrompt: req.SystemPrompt,
		UserPrompt:   req.UserPrompt,
	}, nil
}

func workerTasks(reqs []types.ScoreRequest) ([]api.WorkerTask, error) {
	tasks := make([]api.WorkerTask, len(reqs))
	for i, req := range reqs {
		task, err := workerTask(req)
		if err != nil {
			return nil, fmt.Errorf("request %d: %w", i, err)
		}
		tasks[i] = task
	}
	return tasks, nil
}
