package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"agrimap-backend/internal/shared/storage/object"
	"agrimap-backend/internal/vision"
)

const apiURLFormat = "https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent"

// Client implements vision.Analyzer using the Gemini generateContent API.
type Client struct {
	apiKey     string
	model      string
	store      object.ObjectStore
	httpClient *http.Client
}

// New constructs a Gemini-backed analyzer reading images from the given store.
func New(apiKey, model string, store object.ObjectStore) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	if strings.TrimSpace(model) == "" {
		model = "gemini-1.5-flash"
	}
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	timeout := 120 * time.Second
	if raw := strings.TrimSpace(os.Getenv("GEMINI_TIMEOUT_SECONDS")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			timeout = time.Duration(parsed) * time.Second
		}
	}
	return &Client{
		apiKey: apiKey,
		model:  model,
		store:  store,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

// analysisPayload is the JSON shape the prompt asks the model to produce.
type analysisPayload struct {
	Success     bool                  `json:"success"`
	Zones       []vision.ZoneCandidate `json:"zones"`
	Coordinates *vision.Coordinates   `json:"coordinates,omitempty"`
	Error       string                `json:"error,omitempty"`
}

// Analyze runs the map-image analysis against the Gemini API.
func (c *Client) Analyze(ctx context.Context, req vision.Request, onProgress vision.ProgressFunc) (vision.Result, error) {
	if onProgress == nil {
		onProgress = func(step, status, message string) {}
	}

	onProgress("step1_image", "running", "reading map image")
	imageData, mimeType, err := c.loadImage(ctx, req.ImageKey)
	if err != nil {
		return vision.Result{}, fmt.Errorf("load image %s: %w", req.ImageKey, err)
	}
	onProgress("step1_image", "completed", fmt.Sprintf("image read (%d bytes)", len(imageData)))

	onProgress("step2_gemini", "running", "detecting colored zones and coordinates")
	payload, err := c.generate(ctx, req, imageData, mimeType)
	if err != nil {
		onProgress("step2_gemini", "error", err.Error())
		return vision.Result{}, err
	}
	onProgress("step2_gemini", "completed", fmt.Sprintf("detected %d zones", len(payload.Zones)))

	return vision.Result{
		Success:     payload.Success || payload.Error == "",
		Zones:       payload.Zones,
		Coordinates: payload.Coordinates,
		Error:       payload.Error,
	}, nil
}

func (c *Client) loadImage(ctx context.Context, key string) ([]byte, string, error) {
	body, err := c.store.Open(ctx, key)
	if err != nil {
		return nil, "", err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, "", err
	}

	mimeType := "image/jpeg"
	if strings.HasSuffix(strings.ToLower(key), ".png") {
		mimeType = "image/png"
	}
	return data, mimeType, nil
}

func (c *Client) generate(ctx context.Context, req vision.Request, imageData []byte, mimeType string) (analysisPayload, error) {
	genReq := generateRequest{
		Contents: []content{{
			Parts: []part{
				{Text: buildPrompt(req)},
				{InlineData: &inlineData{
					MimeType: mimeType,
					Data:     base64.StdEncoding.EncodeToString(imageData),
				}},
			},
		}},
	}

	body, err := json.Marshal(genReq)
	if err != nil {
		return analysisPayload{}, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf(apiURLFormat, c.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return analysisPayload{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return analysisPayload{}, fmt.Errorf("gemini request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return analysisPayload{}, fmt.Errorf("read response: %w", err)
	}

	var genResp generateResponse
	if err := json.Unmarshal(respBody, &genResp); err != nil {
		return analysisPayload{}, fmt.Errorf("decode response: %w", err)
	}
	if genResp.Error != nil {
		return analysisPayload{}, fmt.Errorf("gemini error %s: %s", genResp.Error.Status, genResp.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return analysisPayload{}, fmt.Errorf("gemini status %d", resp.StatusCode)
	}
	if len(genResp.Candidates) == 0 || len(genResp.Candidates[0].Content.Parts) == 0 {
		return analysisPayload{}, fmt.Errorf("empty gemini response")
	}

	raw := stripCodeFence(genResp.Candidates[0].Content.Parts[0].Text)
	var payload analysisPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return analysisPayload{}, fmt.Errorf("gemini output invalid: %w", err)
	}
	return payload, nil
}

func buildPrompt(req vision.Request) string {
	var sb strings.Builder
	sb.WriteString("You are analyzing a ")
	if req.MapType == "planning" {
		sb.WriteString("land-use planning map")
	} else {
		sb.WriteString("soil-type map")
	}
	fmt.Fprintf(&sb, " of %s", req.Province)
	if req.District != "" {
		fmt.Fprintf(&sb, ", district %s", req.District)
	}
	sb.WriteString(", Vietnam.\n")
	sb.WriteString("Identify each colored zone and return ONLY a JSON object of the form ")
	sb.WriteString(`{"success":true,"zones":[{"name":"","description":"","zoneCode":"","soilType":"","zoneType":"","fillColor":"#RRGGBB","areaPercent":0,"centerLat":0,"centerLng":0,"boundaryCoordinates":[{"lat":0,"lng":0}]}],"coordinates":{"sw":{"lat":0,"lng":0},"ne":{"lat":0,"lng":0},"center":{"lat":0,"lng":0}}}`)
	sb.WriteString(". Omit fields you cannot determine.\n")
	if len(req.ControlPoints) == 4 {
		sb.WriteString("The image is georeferenced by these control points (pixel -> WGS84):\n")
		for i, cp := range req.ControlPoints {
			fmt.Fprintf(&sb, "point %d: pixel(%.0f,%.0f) = (%.6f,%.6f)\n", i+1, cp.PixelX, cp.PixelY, cp.Lat, cp.Lng)
		}
		sb.WriteString("Use them to compute zone centers, boundaries and the map bounds.\n")
	}
	return sb.String()
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
	}
	return strings.TrimSpace(s)
}
