package editors

import (
	"bytes"
	"context"
	"editbench/internal/config"
	"editbench/internal/core/types"
	"editbench/internal/core/utils"
	"editbench/plugin/shared"
	"encoding/json"
	"fmt"
	"image"
	"os/exec"
	"sync"

	"github.com/hashicorp/go-plugin"
)

type PluginEditorParams struct {
	Command []string `yaml:"command"`
}

// PluginEditor runs the editor in a separate process over go-plugin, so a
// crashing model does not take the benchmark down with it.
type PluginEditor struct {
	mu     sync.Mutex
	client *plugin.Client
	editor shared.Editor
}

func LoadPluginEditor(params map[string]any) (*PluginEditor, error) {
	var cfg PluginEditorParams
	if err := config.DecodeParams(params, &cfg); err != nil {
		return nil, err
	}
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("plugin editor requires a command")
	}

	client := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig:  shared.Handshake,
		Plugins:          shared.PluginMap,
		Cmd:              exec.Command(cfg.Command[0], cfg.Command[1:]...),
		AllowedProtocols: []plugin.Protocol{plugin.ProtocolNetRPC},
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("error establishing RPC connection: %w", err)
	}

	raw, err := rpcClient.Dispense(shared.EditorPluginName)
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("error dispensing '%s': %w", shared.EditorPluginName, err)
	}

	editor, ok := raw.(shared.Editor)
	if !ok {
		client.Kill()
		return nil, fmt.Errorf("dispensed interface '%s' is not of expected type shared.Editor (actual type: %T)", shared.EditorPluginName, raw)
	}

	return &PluginEditor{client: client, editor: editor}, nil
}

func (e *PluginEditor) Edit(ctx context.Context, img image.Image, instruction string, opts types.EditOptions) (image.Image, error) {
	out, err := e.BatchEdit(ctx, []image.Image{img}, []string{instruction}, opts)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (e *PluginEditor) BatchEdit(ctx context.Context, imgs []image.Image, instructions []string, opts types.EditOptions) ([]image.Image, error) {
	req, err := newEditRequest(imgs, instructions, opts)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp, err := e.editor.Edit(req)
	if err != nil {
		return nil, fmt.Errorf("plugin edit failed: %w", err)
	}
	if len(resp.Images) != len(imgs) {
		return nil, fmt.Errorf("plugin returned %d images for %d inputs", len(resp.Images), len(imgs))
	}

	out := make([]image.Image, len(resp.Images))
	for i, data := range resp.Images {
		decoded, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("error decoding plugin image %d: %w", i, err)
		}
		out[i] = decoded
	}
	return out, nil
}

func (e *PluginEditor) MoveToAccelerator(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.editor.ToAccelerator()
}

func (e *PluginEditor) MoveToHost(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.editor.ToHost()
}

func (e *PluginEditor) Release() {
	if e.client == nil {
		return
	}
	e.client.Kill()
	e.client = nil
}

func newEditRequest(imgs []image.Image, instructions []string, opts types.EditOptions) (shared.EditRequest, error) {
	if len(imgs) != len(instructions) {
		return shared.EditRequest{}, fmt.Errorf("got %d images and %d instructions", len(imgs), len(instructions))
	}

	req := shared.EditRequest{
		Images:       make([][]byte, len(imgs)),
		Instructions: instructions,
		Seeded:       opts.Seed != nil,
	}
	for i, img := range imgs {
		data, err := utils.EncodePNG(img)
		if err != nil {
			return req, fmt.Errorf("error encoding image %d: %w", i, err)
		}
		req.Images[i] = data
		if seed := opts.SeedFor(i); seed != nil {
			req.Seeds = append(req.Seeds, *seed)
		}
	}

	if len(opts.Params) > 0 {
		params, err := json.Marshal(opts.Params)
		if err != nil {
			return req, fmt.Errorf("error encoding edit params: %w", err)
		}
		req.Params = params
	}
	return req, nil
}

// pluginServer adapts an in-process editor to the plugin protocol.
type pluginServer struct {
	editor types.Editor
}

func (s *pluginServer) Edit(req shared.EditRequest) (shared.EditResponse, error) {
	if len(req.Images) != len(req.Instructions) {
		return shared.EditResponse{}, fmt.Errorf("got %d images and %d instructions", len(req.Images), len(req.Instructions))
	}

	opts := types.EditOptions{}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &opts.Params); err != nil {
			return shared.EditResponse{}, fmt.Errorf("error decoding edit params: %w", err)
		}
	}

	resp := shared.EditResponse{Images: make([][]byte, len(req.Images))}
	for i, data := range req.Images {
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return shared.EditResponse{}, fmt.Errorf("error decoding image %d: %w", i, err)
		}

		itemOpts := opts
		if req.Seeded && i < len(req.Seeds) {
			seed := req.Seeds[i]
			itemOpts.Seed = &seed
		}

		edited, err := s.editor.Edit(context.Background(), img, req.Instructions[i], itemOpts)
		if err != nil {
			return shared.EditResponse{}, fmt.Errorf("error editing image %d: %w", i, err)
		}

		if resp.Images[i], err = utils.EncodePNG(edited); err != nil {
			return shared.EditResponse{}, err
		}
	}
	return resp, nil
}

func (s *pluginServer) ToAccelerator() error {
	if r, ok := s.editor.(types.Resident); ok {
		return r.MoveToAccelerator(context.Background())
	}
	return nil
}

func (s *pluginServer) ToHost() error {
	if r, ok := s.editor.(types.Resident); ok {
		return r.MoveToHost(context.Background())
	}
	return nil
}

// ServePlugin serves editor to a host process. It does not return.
func ServePlugin(editor types.Editor) {
	shared.Serve(&pluginServer{editor: editor})
}

var _ types.BatchEditor = (*PluginEditor)(nil)
var _ types.Resident = (*PluginEditor)(nil)
