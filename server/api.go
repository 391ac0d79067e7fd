package server

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nvr-ai/regionswap/pipeline"
	"github.com/pkg/errors"
)

// ErrInvalidRequest is returned for request bodies the service cannot act on.
var ErrInvalidRequest = errors.New("invalid request")

// ImageRef is one entry of the request's image list.
type ImageRef struct {
	URL string `json:"url"`
}

// ProcessRequest is the body of POST /process_images and of MQTT requests.
type ProcessRequest struct {
	RequestID         string     `json:"requestId,omitempty"`
	CategoryName      string     `json:"categoryname"`
	Images            []ImageRef `json:"images"`
	PolygonRefinement *bool      `json:"polygon_refinement,omitempty"`
}

// ProcessedImage is a successfully processed image.
type ProcessedImage struct {
	Index int    `json:"index"`
	URL   string `json:"url"`
	// Image is the encoded output, base64.
	Image string `json:"image"`
}

// FailedImage is an image dropped from the response.
type FailedImage struct {
	Index int    `json:"index"`
	URL   string `json:"url"`
	Error string `json:"error"`
}

// ProcessResponse is the default response body.
type ProcessResponse struct {
	RequestID string           `json:"requestId,omitempty"`
	Images    []ProcessedImage `json:"images"`
	Failed    []FailedImage    `json:"failed"`
	Error     string           `json:"error,omitempty"`
}

// ParseRequest decodes and validates a request body.
//
// Arguments:
//   - body: The JSON request body.
//
// Returns:
//   - pipeline.Request: The request to process. Entries without a URL are skipped.
//   - error: ErrInvalidRequest wrapped with the reason.
func ParseRequest(body []byte) (pipeline.Request, error) {
	var in ProcessRequest
	if len(body) == 0 {
		return pipeline.Request{}, errors.Wrap(ErrInvalidRequest, "no JSON data provided")
	}
	if err := json.Unmarshal(body, &in); err != nil {
		return pipeline.Request{}, errors.Wrapf(ErrInvalidRequest, "malformed JSON: %v", err)
	}
	if strings.TrimSpace(in.CategoryName) == "" {
		return pipeline.Request{}, errors.Wrap(ErrInvalidRequest, "category name is not provided")
	}

	req := pipeline.Request{
		ID:       in.RequestID,
		Category: in.CategoryName,
		Refine:   in.PolygonRefinement,
	}
	for _, img := range in.Images {
		if u := strings.TrimSpace(img.URL); u != "" {
			req.Images = append(req.Images, u)
		}
	}
	if len(req.Images) == 0 {
		return pipeline.Request{}, errors.Wrap(ErrInvalidRequest, "no image urls provided")
	}
	return req, nil
}

// NewResponse renders a pipeline result, keeping input order in both lists.
func NewResponse(result *pipeline.Result) ProcessResponse {
	resp := ProcessResponse{
		RequestID: result.RequestID,
		Images:    []ProcessedImage{},
		Failed:    []FailedImage{},
	}
	for _, o := range result.Images {
		if o.OK() {
			resp.Images = append(resp.Images, ProcessedImage{
				Index: o.Index,
				URL:   o.Ref,
				Image: base64.StdEncoding.EncodeToString(o.Encoded),
			})
			continue
		}
		msg := "not processed"
		if o.Err != nil {
			msg = o.Err.Error()
		}
		resp.Failed = append(resp.Failed, FailedImage{Index: o.Index, URL: o.Ref, Error: msg})
	}
	return resp
}

// NewLegacyResponse renders the flat processed_image1..N shape, one key per
// successful image in input order.
func NewLegacyResponse(result *pipeline.Result) map[string]string {
	resp := make(map[string]string)
	for i, o := range result.Succeeded() {
		resp[fmt.Sprintf("processed_image%d", i+1)] = base64.StdEncoding.EncodeToString(o.Encoded)
	}
	return resp
}
