package client

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"

	openai "github.com/sashabaranov/go-openai"

	"github.com/storyforge/api/internal/config"
	"github.com/storyforge/api/internal/model"
)

// ImageRequest describes one illustration to generate.
type ImageRequest struct {
	Prompt      string
	AspectRatio string // model.AspectSquare / AspectPortrait / AspectLandscape
	// ReferenceImages conditions the generation on existing character
	// portraits. When present, the first reference drives an image-edit call
	// instead of a plain generation.
	ReferenceImages [][]byte
}

// GeneratedImage is the raster output of one image call.
type GeneratedImage struct {
	Data     []byte
	MimeType string
}

// ImageClient is the image-provider surface the pipeline consumes.
type ImageClient interface {
	Generate(ctx context.Context, req ImageRequest) (*GeneratedImage, error)
	IsConfigured() bool
}

// OpenAIImageClient implements ImageClient over the OpenAI images API.
type OpenAIImageClient struct {
	client     *openai.Client
	model      string
	quality    string
	configured bool
}

// NewOpenAIImageClient creates an image client sharing the chat endpoint's
// credentials.
func NewOpenAIImageClient(openaiCfg *config.OpenAIConfig, imageCfg *config.ImageConfig) *OpenAIImageClient {
	oc := openai.DefaultConfig(openaiCfg.APIKey)
	if openaiCfg.BaseURL != "" {
		oc.BaseURL = openaiCfg.BaseURL
	}

	return &OpenAIImageClient{
		client:     openai.NewClientWithConfig(oc),
		model:      imageCfg.Model,
		quality:    imageCfg.Quality,
		configured: openaiCfg.APIKey != "",
	}
}

// Generate produces one image for the request. Reference-conditioned
// requests go through the edits endpoint with the first reference as base.
func (c *OpenAIImageClient) Generate(ctx context.Context, req ImageRequest) (*GeneratedImage, error) {
	if len(req.ReferenceImages) > 0 {
		return c.generateWithReference(ctx, req)
	}

	resp, err := c.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         req.Prompt,
		Model:          c.model,
		N:              1,
		Quality:        c.quality,
		Size:           sizeForAspect(req.AspectRatio),
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return nil, classifyProviderError(err)
	}

	return decodeImageResponse(resp)
}

func (c *OpenAIImageClient) generateWithReference(ctx context.Context, req ImageRequest) (*GeneratedImage, error) {
	// The edits endpoint takes a file handle, so the reference bytes go
	// through a temp file.
	tmp, err := os.CreateTemp("", "ref-*.png")
	if err != nil {
		return nil, fmt.Errorf("failed to stage reference image: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := tmp.Write(req.ReferenceImages[0]); err != nil {
		return nil, fmt.Errorf("failed to stage reference image: %w", err)
	}
	if _, err := tmp.Seek(0, 0); err != nil {
		return nil, fmt.Errorf("failed to stage reference image: %w", err)
	}

	resp, err := c.client.CreateEditImage(ctx, openai.ImageEditRequest{
		Image:          tmp,
		Prompt:         req.Prompt,
		N:              1,
		Size:           openai.CreateImageSize1024x1024,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return nil, classifyProviderError(err)
	}

	return decodeImageResponse(resp)
}

// IsConfigured returns true if the client has valid configuration.
func (c *OpenAIImageClient) IsConfigured() bool {
	return c.configured
}

func decodeImageResponse(resp openai.ImageResponse) (*GeneratedImage, error) {
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no image data in response")
	}

	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image payload: %w", err)
	}

	return &GeneratedImage{
		Data:     data,
		MimeType: "image/png",
	}, nil
}

func sizeForAspect(aspect string) string {
	switch aspect {
	case model.AspectPortrait:
		return openai.CreateImageSize1024x1792
	case model.AspectLandscape:
		return openai.CreateImageSize1792x1024
	default:
		return openai.CreateImageSize1024x1024
	}
}
