package shared

import (
	"net/rpc"
)

// RPCClient is an implementation of Editor that talks over RPC.
type RPCClient struct{ client *rpc.Client }

func NewRPCClient(client *rpc.Client) *RPCClient {
	return &RPCClient{client: client}
}

func (m *RPCClient) Edit(req EditRequest) (EditResponse, error) {
	var resp EditResponse
	err := m.client.Call("Plugin.Edit", req, &resp)
	return resp, err
}

func (m *RPCClient) ToAccelerator() error {
	return m.client.Call("Plugin.ToAccelerator", Empty{}, &Empty{})
}

func (m *RPCClient) ToHost() error {
	return m.client.Call("Plugin.ToHost", Empty{}, &Empty{})
}

// RPCServer is the server RPCClient talks to, conforming to the
// requirements of net/rpc.
type RPCServer struct {
	Impl Editor
}

func (m *RPCServer) Edit(req EditRequest, resp *EditResponse) error {
	v, err := m.Impl.Edit(req)
	*resp = v
	return err
}

func (m *RPCServer) ToAccelerator(_ Empty, _ *Empty) error {
	return m.Impl.ToAccelerator()
}

func (m *RPCServer) ToHost(_ Empty, _ *Empty) error {
	return m.Impl.ToHost()
}

var _ Editor = (*RPCClient)(nil)
