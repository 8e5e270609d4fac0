package models

import (
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"log/slog"
	"math"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/note2tex/constants"
	"github.com/joseph-ayodele/note2tex/internal/entity"
	"github.com/joseph-ayodele/note2tex/internal/imaging"
)

// Config holds the inference service endpoint and model parameters.
type Config struct {
	BaseURL       string
	APIKey        string
	Timeout       time.Duration
	DetConf       float32
	DetIOU        float32
	DetImgSize    int
	DetPad        float32
	TextMinConf   float32
	Beams         int
	MaxNewTokens  int
	LengthPenalty float32
	BinStrength   float32
	ErodeKernel   int
}

// HTTPClient talks to the inference service. It implements Detector,
// FormulaRecognizer and TextRecognizer.
type HTTPClient struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger

	detectSchema  *jsonschema.Schema
	formulaSchema *jsonschema.Schema
	textSchema    *jsonschema.Schema
}

func NewHTTPClient(cfg Config, httpClient *http.Client, logger *slog.Logger) (*HTTPClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("models: inference base url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	c := &HTTPClient{cfg: cfg, http: httpClient, logger: logger}

	var err error
	if c.detectSchema, err = compileSchema("detect.json", detectResponseSchema); err != nil {
		return nil, err
	}
	if c.formulaSchema, err = compileSchema("formula.json", formulaResponseSchema); err != nil {
		return nil, err
	}
	if c.textSchema, err = compileSchema("text.json", textResponseSchema); err != nil {
		return nil, err
	}
	return c, nil
}

// Handles returns a bundle backed entirely by this client.
func (c *HTTPClient) Handles() Handles {
	return Handles{Detector: c, Formula: c, Text: c}
}

func (c *HTTPClient) endpoint(path string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + path
}

type rawDetection struct {
	BBox []float64 `json:"bbox"`
	Cls  string    `json:"cls"`
	Conf *float32  `json:"conf"`
}

type detectResponse struct {
	Detections []rawDetection `json:"detections"`
}

func (c *HTTPClient) Detect(ctx context.Context, imagePath string) ([]Detection, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("read page: %w", err)
	}
	f, err := os.Open(imagePath)
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	cfg, _, err := image.DecodeConfig(f)
	_ = f.Close()
	if err != nil {
		return nil, fmt.Errorf("decode page header: %w", err)
	}

	body := map[string]any{
		"image_b64": base64.StdEncoding.EncodeToString(data),
		"conf":      c.cfg.DetConf,
		"iou":       c.cfg.DetIOU,
		"imgsz":     c.cfg.DetImgSize,
	}
	var resp detectResponse
	if err := c.call(ctx, "/v1/detect", body, c.detectSchema, &resp); err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}

	dets := postprocess(resp.Detections, image.Rect(0, 0, cfg.Width, cfg.Height), float64(c.cfg.DetPad), c.cfg.TextMinConf)
	c.logger.Debug("models.detect.ok", "raw", len(resp.Detections), "kept", len(dets))
	return dets, nil
}

// postprocess canonicalizes classes, drops text lines under textMinConf, pads
// and clamps boxes, then indexes survivors from 1 in (y1/50, y1, x1) order.
func postprocess(raw []rawDetection, bounds image.Rectangle, pad float64, textMinConf float32) []Detection {
	var out []Detection
	for _, r := range raw {
		kind, ok := constants.CanonicalBlockKind(r.Cls)
		if !ok || len(r.BBox) != 4 {
			continue
		}
		var conf float32
		if r.Conf != nil {
			conf = *r.Conf
		}
		if kind == constants.BlockText && conf < textMinConf {
			continue
		}
		box := entity.BoundingBox{
			X1: int(math.Floor(r.BBox[0])),
			Y1: int(math.Floor(r.BBox[1])),
			X2: int(math.Ceil(r.BBox[2])),
			Y2: int(math.Ceil(r.BBox[3])),
		}
		box = imaging.Pad(box, pad, bounds)
		if !box.Valid() {
			continue
		}
		out = append(out, Detection{Box: box, Kind: kind, Confidence: conf})
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Box, out[j].Box
		if a.Y1/50 != b.Y1/50 {
			return a.Y1/50 < b.Y1/50
		}
		if a.Y1 != b.Y1 {
			return a.Y1 < b.Y1
		}
		return a.X1 < b.X1
	})
	for i := range out {
		out[i].Index = i + 1
	}
	return out
}

type formulaResponse struct {
	Latex string `json:"latex"`
}

func (c *HTTPClient) RecognizeFormula(ctx context.Context, region Region) (string, error) {
	body := map[string]any{
		"image_b64":      base64.StdEncoding.EncodeToString(region.PNG),
		"beams":          c.cfg.Beams,
		"max_new_tokens": c.cfg.MaxNewTokens,
		"length_penalty": c.cfg.LengthPenalty,
		"bin_strength":   c.cfg.BinStrength,
		"erode_kernel":   c.cfg.ErodeKernel,
	}
	var resp formulaResponse
	if err := c.call(ctx, "/v1/recognize/formula", body, c.formulaSchema, &resp); err != nil {
		return "", fmt.Errorf("recognize formula #%d: %w", region.Index, err)
	}
	return resp.Latex, nil
}

type textResponse struct {
	Text       string   `json:"text"`
	Confidence *float32 `json:"confidence"`
}

func (c *HTTPClient) RecognizeText(ctx context.Context, region Region) (string, float32, error) {
	body := map[string]any{
		"image_b64": base64.StdEncoding.EncodeToString(region.PNG),
	}
	var resp textResponse
	if err := c.call(ctx, "/v1/recognize/text", body, c.textSchema, &resp); err != nil {
		return "", 0, fmt.Errorf("recognize text #%d: %w", region.Index, err)
	}
	var conf float32
	if resp.Confidence != nil {
		conf = *resp.Confidence
	}
	return resp.Text, conf, nil
}
