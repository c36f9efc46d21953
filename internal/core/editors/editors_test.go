package editors_test

import (
	"context"
	"editbench/internal/core/editors"
	"editbench/internal/core/types"
	"editbench/internal/core/utils"
	"encoding/json"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	// go-plugin sets the handshake cookie in the plugin's environment, so the
	// test binary doubles as the plugin process.
	if os.Getenv("EDITBENCH_PLUGIN") == "editor" {
		editors.ServePlugin(&invertEditor{})
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func solidImage(c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func colorAt(img image.Image) color.RGBA {
	return color.RGBAModel.Convert(img.At(0, 0)).(color.RGBA)
}

type invertEditor struct {
	types.NoResidency
}

func (e *invertEditor) Edit(ctx context.Context, img image.Image, instruction string, opts types.EditOptions) (image.Image, error) {
	c := colorAt(img)
	return solidImage(color.RGBA{R: 255 - c.R, G: 255 - c.G, B: 255 - c.B, A: 255}), nil
}

func (e *invertEditor) Release() {}

func TestReferenceEditor(t *testing.T) {
	editor := editors.NewReferenceEditor()
	src := solidImage(color.RGBA{R: 10, G: 20, B: 30, A: 255})

	out, err := editor.Edit(context.Background(), src, "make it blue", types.EditOptions{})
	require.NoError(t, err)
	assert.Equal(t, colorAt(src), colorAt(out))

	src.SetRGBA(0, 0, color.RGBA{A: 255})
	assert.Equal(t, color.RGBA{R: 10, G: 20, B: 30, A: 255}, colorAt(out))

	batch, err := editor.BatchEdit(context.Background(), []image.Image{src, src}, []string{"a", "b"}, types.EditOptions{})
	require.NoError(t, err)
	assert.Len(t, batch, 2)

	_, err = editor.BatchEdit(context.Background(), []image.Image{src}, []string{"a", "b"}, types.EditOptions{})
	assert.Error(t, err)

	_, err = editor.Edit(context.Background(), nil, "a", types.EditOptions{})
	assert.Error(t, err)
}

func newEditServer(t *testing.T, calls *[]string) *httptest.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/edit", func(w http.ResponseWriter, r *http.Request) {
		*calls = append(*calls, "edit")
		var req struct {
			ImageB64    string `json:"image_b64"`
			Instruction string `json:"instruction"`
			Seed        *int64 `json:"seed"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Instruction == "fail" {
			http.Error(w, "model exploded", http.StatusInternalServerError)
			return
		}
		require.NoError(t, json.NewEncoder(w).Encode(map[string]string{"image_b64": req.ImageB64}))
	})

	mux.HandleFunc("/batch_edit", func(w http.ResponseWriter, r *http.Request) {
		*calls = append(*calls, "batch_edit")
		var req struct {
			ImagesB64    []string `json:"images_b64"`
			Instructions []string `json:"instructions"`
			Seeds        []int64  `json:"seeds"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []int64{7, 8}, req.Seeds)

		out := req.ImagesB64
		if req.Instructions[0] == "short" {
			out = out[:1]
		}
		require.NoError(t, json.NewEncoder(w).Encode(map[string][]string{"images_b64": out}))
	})

	mux.HandleFunc("/to_accelerator", func(w http.ResponseWriter, r *http.Request) {
		*calls = append(*calls, "to_accelerator")
	})
	mux.HandleFunc("/to_host", func(w http.ResponseWriter, r *http.Request) {
		*calls = append(*calls, "to_host")
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestHTTPEditor(t *testing.T) {
	var calls []string
	server := newEditServer(t, &calls)

	editor, err := editors.NewHTTPEditor(map[string]any{"endpoint": server.URL, "timeout_seconds": 5})
	require.NoError(t, err)
	defer editor.Release()

	ctx := context.Background()
	src := solidImage(color.RGBA{R: 200, A: 255})

	out, err := editor.Edit(ctx, src, "warmer", types.EditOptions{})
	require.NoError(t, err)
	assert.Equal(t, colorAt(src), colorAt(out))

	_, err = editor.Edit(ctx, src, "fail", types.EditOptions{})
	assert.ErrorContains(t, err, "500")

	seed := int64(7)
	batch, err := editor.BatchEdit(ctx, []image.Image{src, src}, []string{"a", "b"}, types.EditOptions{Seed: &seed})
	require.NoError(t, err)
	assert.Len(t, batch, 2)

	_, err = editor.BatchEdit(ctx, []image.Image{src, src}, []string{"short", "b"}, types.EditOptions{Seed: &seed})
	assert.ErrorContains(t, err, "returned 1 images")

	require.NoError(t, editor.MoveToHost(ctx))
	require.NoError(t, editor.MoveToAccelerator(ctx))

	assert.Equal(t, []string{"edit", "edit", "batch_edit", "batch_edit", "to_host", "to_accelerator"}, calls)
}

func TestHTTPEditorRequiresEndpoint(t *testing.T) {
	_, err := editors.NewHTTPEditor(nil)
	assert.Error(t, err)
}

func TestPluginEditor(t *testing.T) {
	editor, err := editors.LoadPluginEditor(map[string]any{"command": []any{os.Args[0]}})
	require.NoError(t, err)
	defer editor.Release()

	ctx := context.Background()
	src := solidImage(color.RGBA{R: 200, G: 100, B: 0, A: 255})

	out, err := editor.Edit(ctx, src, "invert", types.EditOptions{})
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 55, G: 155, B: 255, A: 255}, colorAt(out))

	seed := int64(3)
	batch, err := editor.BatchEdit(ctx, []image.Image{src, utils.CloneImage(out)}, []string{"a", "b"}, types.EditOptions{Seed: &seed, Params: map[string]any{"steps": 20}})
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, colorAt(src), colorAt(batch[1]))

	require.NoError(t, editor.MoveToHost(ctx))
	require.NoError(t, editor.MoveToAccelerator(ctx))
}

func TestPluginEditorRequiresCommand(t *testing.T) {
	_, err := editors.LoadPluginEditor(map[string]any{})
	assert.Error(t, err)
}
