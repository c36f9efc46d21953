package shared

import (
	"net/rpc"

	"github.com/hashicorp/go-plugin"
)

const EditorPluginName = "editor"

var Handshake = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "EDITBENCH_PLUGIN",
	MagicCookieValue: "editor",
}

var PluginMap = map[string]plugin.Plugin{
	EditorPluginName: &EditorPlugin{},
}

// EditRequest carries a batch of PNG encoded images. Params is the JSON
// encoding of the editor's free-form edit params.
type EditRequest struct {
	Images       [][]byte
	Instructions []string
	Seeds        []int64
	Seeded       bool
	Params       []byte
}

type EditResponse struct {
	Images [][]byte
}

type Empty struct{}

// Editor is the interface implemented by editor plugin processes.
type Editor interface {
	Edit(req EditRequest) (EditResponse, error)

	ToAccelerator() error

	ToHost() error
}

type EditorPlugin struct {
	Impl Editor
}

func (p *EditorPlugin) Server(*plugin.MuxBroker) (interface{}, error) {
	return &RPCServer{Impl: p.Impl}, nil
}

func (p *EditorPlugin) Client(b *plugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &RPCClient{client: c}, nil
}

// Serve blocks serving impl to the host process.
func Serve(impl Editor) {
	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: Handshake,
		Plugins: map[string]plugin.Plugin{
			EditorPluginName: &EditorPlugin{Impl: impl},
		},
	})
}
