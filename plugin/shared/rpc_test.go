package shared_test

import (
	"editbench/plugin/shared"
	"errors"
	"net"
	"net/rpc"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoEditor struct {
	moves []string
}

func (e *echoEditor) Edit(req shared.EditRequest) (shared.EditResponse, error) {
	if len(req.Images) == 0 {
		return shared.EditResponse{}, errors.New("no images")
	}
	out := make([][]byte, len(req.Images))
	for i, img := range req.Images {
		out[i] = append([]byte(req.Instructions[i]+":"), img...)
	}
	return shared.EditResponse{Images: out}, nil
}

func (e *echoEditor) ToAccelerator() error {
	e.moves = append(e.moves, "accelerator")
	return nil
}

func (e *echoEditor) ToHost() error {
	e.moves = append(e.moves, "host")
	return nil
}

func connect(t *testing.T, impl shared.Editor) *shared.RPCClient {
	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("Plugin", &shared.RPCServer{Impl: impl}))

	serverConn, clientConn := net.Pipe()
	go server.ServeConn(serverConn)

	client := rpc.NewClient(clientConn)
	t.Cleanup(func() { client.Close() })

	return shared.NewRPCClient(client)
}

func TestEditorRPC(t *testing.T) {
	impl := &echoEditor{}
	client := connect(t, impl)

	resp, err := client.Edit(shared.EditRequest{
		Images:       [][]byte{[]byte("a"), []byte("b")},
		Instructions: []string{"x", "y"},
		Seeds:        []int64{1, 2},
		Seeded:       true,
		Params:       []byte(`{"steps":30}`),
	})
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("x:a"), []byte("y:b")}, resp.Images)

	_, err = client.Edit(shared.EditRequest{})
	assert.ErrorContains(t, err, "no images")

	require.NoError(t, client.ToAccelerator())
	require.NoError(t, client.ToHost())
	assert.Equal(t, []string{"accelerator", "host"}, impl.moves)
}
