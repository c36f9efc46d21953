package core

import (
	"editbench/internal/config"
	"editbench/internal/core/editors"
	"editbench/internal/core/judges"
	"editbench/internal/core/types"
	"errors"
	"fmt"
)

// ModelType is the registry key used by the `type` field of a model section.
type ModelType string

const (
	ReferenceEditor ModelType = "reference"
	HTTPEditor      ModelType = "http"
	PluginEditor    ModelType = "plugin"

	ConstantJudge   ModelType = "constant"
	SubprocessJudge ModelType = "subprocess"
	APIJudge        ModelType = "api"
)

var (
	ErrUnknownModelType = errors.New("unknown model type")
	ErrModelLoad        = errors.New("error loading model")
)

type EditorLoader func(params map[string]any) (types.Editor, error)

type JudgeLoader func(params map[string]any) (types.Judge, error)

func NewEditorLoaders() map[ModelType]EditorLoader {
	return map[ModelType]EditorLoader{
		ReferenceEditor: func(_ map[string]any) (types.Editor, error) {
			return editors.NewReferenceEditor(), nil
		},
		HTTPEditor: func(params map[string]any) (types.Editor, error) {
			return editors.NewHTTPEditor(params)
		},
		PluginEditor: func(params map[string]any) (types.Editor, error) {
			return editors.LoadPluginEditor(params)
		},
	}
}

func NewJudgeLoaders() map[ModelType]JudgeLoader {
	return map[ModelType]JudgeLoader{
		ConstantJudge: func(params map[string]any) (types.Judge, error) {
			return judges.NewConstantJudge(params)
		},
		SubprocessJudge: func(params map[string]any) (types.Judge, error) {
			return judges.NewSubprocessJudge(params)
		},
		APIJudge: func(params map[string]any) (types.Judge, error) {
			return judges.NewAPIJudge(params)
		},
	}
}

// Models holds the loaders the pipeline constructs its editor and judge
// from. Tests substitute their own.
type Models struct {
	Editors map[ModelType]EditorLoader
	Judges  map[ModelType]JudgeLoader
}

func DefaultModels() Models {
	return Models{Editors: NewEditorLoaders(), Judges: NewJudgeLoaders()}
}

// Launchers are the operator configured commands for model types that
// start a process.
type Launchers struct {
	ScorerCommand       []string
	EditorPluginCommand []string
}

// ServiceModels is the registry for runs submitted over the API. Launcher
// params are refused and the operator's commands are used instead. The
// plugin editor is only available when an operator command is configured.
func ServiceModels(launchers Launchers) Models {
	models := DefaultModels()

	models.Judges[SubprocessJudge] = func(params map[string]any) (types.Judge, error) {
		if err := config.CheckLauncherParams("reward_model", params); err != nil {
			return nil, err
		}
		return judges.NewSubprocessJudge(withCommand(params, launchers.ScorerCommand))
	}

	if len(launchers.EditorPluginCommand) == 0 {
		delete(models.Editors, PluginEditor)
	} else {
		models.Editors[PluginEditor] = func(params map[string]any) (types.Editor, error) {
			if err := config.CheckLauncherParams("diffusion_model", params); err != nil {
				return nil, err
			}
			return editors.LoadPluginEditor(withCommand(params, launchers.EditorPluginCommand))
		}
	}

	return models
}

func withCommand(params map[string]any, command []string) map[string]any {
	if len(command) == 0 {
		return params
	}
	out := make(map[string]any, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	out["command"] = command
	return out
}

// Check reports an unknown editor or judge type before anything is loaded.
func (m Models) Check(editorType, judgeType string) error {
	if _, ok := m.Editors[ModelType(editorType)]; !ok {
		return fmt.Errorf("%w: editor '%s'", ErrUnknownModelType, editorType)
	}
	if _, ok := m.Judges[ModelType(judgeType)]; !ok {
		return fmt.Errorf("%w: judge '%s'", ErrUnknownModelType, judgeType)
	}
	return nil
}

func (m Models) LoadEditor(modelType string, params map[string]any) (types.Editor, error) {
	loader, ok := m.Editors[ModelType(modelType)]
	if !ok {
		return nil, fmt.Errorf("%w: editor '%s'", ErrUnknownModelType, modelType)
	}

	editor, err := loader(params)
	if err != nil {
		return nil, fmt.Errorf("%w: editor '%s': %w", ErrModelLoad, modelType, err)
	}
	return editor, nil
}

func (m Models) LoadJudge(modelType string, params map[string]any) (types.Judge, error) {
	loader, ok := m.Judges[ModelType(modelType)]
	if !ok {
		return nil, fmt.Errorf("%w: judge '%s'", ErrUnknownModelType, modelType)
	}

	judge, err := loader(params)
	if err != nil {
		return nil, fmt.Errorf("%w: judge '%s': %w", ErrModelLoad, modelType, err)
	}
	return judge, nil
}
