package detector

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/ayusman/stationeye/internal/session"
)

// detectRequest is the JSON body of POST /api/detect-base64.
type detectRequest struct {
	Image         string   `json:"image"`
	SessionID     string   `json:"sessionId"`
	Classes       []string `json:"classes,omitempty"`
	ConfThreshold float64  `json:"confThreshold,omitempty"`
	Speed         string   `json:"detectionSpeed,omitempty"`
}

// wireDetection accepts both the camelCase name used by the HTTP service
// and the snake_case name printed by the inference script.
type wireDetection struct {
	ClassName  string  `json:"className"`
	ClassSnake string  `json:"class_name"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
}

type wireResponse struct {
	Detections     *[]wireDetection `json:"detections"`
	ProcessedImage string           `json:"processedImage"`
	ProcessingTime *float64         `json:"processingTime"` // milliseconds
	SessionID      string           `json:"sessionId"`
	Error          string           `json:"error"`
}

func newDetectRequest(req Request) detectRequest {
	return detectRequest{
		Image:         dataURL(req.Image),
		SessionID:     req.SessionID.String(),
		Classes:       req.Classes,
		ConfThreshold: req.ConfidenceThreshold,
		Speed:         string(req.Speed),
	}
}

func dataURL(payload []byte) string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(payload)
}

// decodeResponse parses a detection response body.
func decodeResponse(data []byte) (*Result, error) {
	var resp wireResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, errors.Wrapf(ErrProtocol, "decode body: %v", err)
	}

	if resp.Error != "" {
		return nil, errors.Errorf("detection service: %s", resp.Error)
	}
	if resp.Detections == nil {
		return nil, errors.Wrap(ErrProtocol, "response has no detections list")
	}

	res := &Result{
		Detections: make([]Detection, 0, len(*resp.Detections)),
		SessionID:  session.ID(resp.SessionID),
	}

	for i, d := range *resp.Detections {
		name := d.ClassName
		if name == "" {
			name = d.ClassSnake
		}
		if name == "" {
			return nil, errors.Wrapf(ErrProtocol, "detection %d has no class", i)
		}
		if d.Confidence < 0 || d.Confidence > 1 {
			return nil, errors.Wrapf(ErrProtocol, "detection %d confidence %v outside [0,1]", i, d.Confidence)
		}
		res.Detections = append(res.Detections, Detection{
			Class:      name,
			Confidence: d.Confidence,
			Box:        d.Box,
		})
	}

	if resp.ProcessedImage != "" {
		img, err := decodeImagePayload(resp.ProcessedImage)
		if err != nil {
			return nil, err
		}
		res.AnnotatedImage = img
	}

	if resp.ProcessingTime != nil && *resp.ProcessingTime > 0 {
		res.ProcessingTime = time.Duration(*resp.ProcessingTime * float64(time.Millisecond))
	}

	return res, nil
}

// decodeImagePayload accepts raw base64 or a data URL.
func decodeImagePayload(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		i := strings.Index(s, ",")
		if i < 0 {
			return nil, errors.Wrap(ErrProtocol, "processed image data URL has no payload")
		}
		s = s[i+1:]
	}

	img, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.Wrapf(ErrProtocol, "processed image: %v", err)
	}
	return img, nil
}
