package models

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/note2tex/constants"
	"github.com/joseph-ayodele/note2tex/internal/common"
	"github.com/joseph-ayodele/note2tex/internal/entity"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writePage(t *testing.T, w, h int) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h))))
	path := filepath.Join(t.TempDir(), "page.png")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func f32(v float32) *float32 { return &v }

func TestPostprocess(t *testing.T) {
	raw := []rawDetection{
		{BBox: []float64{100, 210, 200, 240}, Cls: "text_line", Conf: f32(0.9)},
		{BBox: []float64{10, 10, 80, 40}, Cls: "math", Conf: f32(0.7)},
		{BBox: []float64{5, 200, 60, 230}, Cls: "formula", Conf: f32(0.4)},
		{BBox: []float64{5, 300, 60, 330}, Cls: "text", Conf: f32(0.2)},
		{BBox: []float64{0, 0, 10, 10}, Cls: "figure", Conf: f32(0.99)},
		{BBox: []float64{20, 20, 20, 30}, Cls: "formula", Conf: f32(0.9)},
	}
	got := postprocess(raw, image.Rect(0, 0, 500, 500), 0, 0.5)
	require.Len(t, got, 3)

	assert.Equal(t, 1, got[0].Index)
	assert.Equal(t, constants.BlockFormula, got[0].Kind)
	assert.Equal(t, entity.BoundingBox{X1: 10, Y1: 10, X2: 80, Y2: 40}, got[0].Box)

	// y1/50 bucket 4 holds both; y1 decides
	assert.Equal(t, 2, got[1].Index)
	assert.Equal(t, 200, got[1].Box.Y1)
	assert.Equal(t, constants.BlockFormula, got[1].Kind)
	assert.Equal(t, 3, got[2].Index)
	assert.Equal(t, constants.BlockText, got[2].Kind)
}

func TestPostprocess_PadClampsToImage(t *testing.T) {
	raw := []rawDetection{{BBox: []float64{0, 0, 100, 20}, Cls: "formula", Conf: f32(0.9)}}
	got := postprocess(raw, image.Rect(0, 0, 105, 100), 0.1, 0.5)
	require.Len(t, got, 1)
	assert.Equal(t, entity.BoundingBox{X1: 0, Y1: 0, X2: 105, Y2: 30}, got[0].Box)
}

func TestHTTPClient_Detect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/detect", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.NotEmpty(t, body["image_b64"])
		assert.EqualValues(t, 1280, body["imgsz"])

		_, _ = w.Write([]byte(`{"detections":[
			{"bbox":[10,50,90,70],"cls":"text","conf":0.8},
			{"bbox":[10,5,60,30],"cls":"formula","conf":0.6}
		]}`))
	}))
	defer srv.Close()

	c, err := NewHTTPClient(Config{BaseURL: srv.URL + "/", APIKey: "secret", DetImgSize: 1280, TextMinConf: 0.5}, srv.Client(), quietLogger())
	require.NoError(t, err)

	dets, err := c.Detect(context.Background(), writePage(t, 200, 100))
	require.NoError(t, err)
	require.Len(t, dets, 2)
	assert.Equal(t, constants.BlockFormula, dets[0].Kind)
	assert.Equal(t, 1, dets[0].Index)
	assert.Equal(t, constants.BlockText, dets[1].Kind)
	assert.InDelta(t, 0.8, dets[1].Confidence, 1e-6)
}

func TestHTTPClient_DetectRejectsMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"detections":[{"bbox":[1,2,3],"cls":"text"}]}`))
	}))
	defer srv.Close()

	c, err := NewHTTPClient(Config{BaseURL: srv.URL}, srv.Client(), quietLogger())
	require.NoError(t, err)

	_, err = c.Detect(context.Background(), writePage(t, 50, 50))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema")
}

func TestHTTPClient_RecognizeFormula(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/recognize/formula", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.EqualValues(t, 4, body["beams"])
		_, _ = w.Write([]byte(`{"latex":"E=mc^2"}`))
	}))
	defer srv.Close()

	c, err := NewHTTPClient(Config{BaseURL: srv.URL, Beams: 4}, srv.Client(), quietLogger())
	require.NoError(t, err)

	got, err := c.RecognizeFormula(context.Background(), Region{Index: 1, PNG: []byte{1, 2, 3}})
	require.NoError(t, err)
	assert.Equal(t, "E=mc^2", got)
}

func TestHTTPClient_RecognizeText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/recognize/text", r.URL.Path)
		_, _ = w.Write([]byte(`{"text":"hello","confidence":0.75}`))
	}))
	defer srv.Close()

	c, err := NewHTTPClient(Config{BaseURL: srv.URL}, srv.Client(), quietLogger())
	require.NoError(t, err)

	text, conf, err := c.RecognizeText(context.Background(), Region{Index: 2, PNG: []byte{1}})
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
	assert.InDelta(t, 0.75, conf, 1e-6)
}

func TestHTTPClient_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c, err := NewHTTPClient(Config{BaseURL: srv.URL}, srv.Client(), quietLogger())
	require.NoError(t, err)

	_, err = c.RecognizeFormula(context.Background(), Region{Index: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "#3")
	assert.Contains(t, err.Error(), "502")
}

func TestNewHTTPClient_RequiresBaseURL(t *testing.T) {
	_, err := NewHTTPClient(Config{}, nil, nil)
	require.Error(t, err)
}

func TestHandles_Validate(t *testing.T) {
	assert.Error(t, Handles{}.Validate())

	c, err := NewHTTPClient(Config{BaseURL: "http://localhost"}, nil, nil)
	require.NoError(t, err)
	assert.NoError(t, c.Handles().Validate())
}

func TestHTTPClient_ForwardsRequestID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "job-42", r.Header.Get("X-Request-ID"))
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"latex":"x"}`))
	}))
	defer srv.Close()

	c, err := NewHTTPClient(Config{BaseURL: srv.URL}, srv.Client(), quietLogger())
	require.NoError(t, err)

	ctx := common.WithProjectID(common.WithRequestID(context.Background(), "job-42"), "p-1")
	got, err := c.RecognizeFormula(ctx, Region{Index: 1, PNG: []byte{1}})
	require.NoError(t, err)
	assert.Equal(t, "x", got)
}
