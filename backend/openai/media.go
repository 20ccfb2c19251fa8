package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"

	"github.com/ggoodman/gptproxy-go/completion"
)

const (
	defaultTranscriptionModel = "whisper-1"
	defaultImageResolution    = 1024
)

// TranscriptionRequest carries one audio clip. Audio defaults to WAV framing
// when ContentType is empty.
type TranscriptionRequest struct {
	Audio       []byte
	Filename    string
	ContentType string
	Model       string
	Prompt      string
}

// TranscriptionSegment is one timed span of a verbose transcription.
type TranscriptionSegment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcription is the verbose transcription result.
type Transcription struct {
	Text     string                 `json:"text"`
	Language string                 `json:"language,omitempty"`
	Duration float64                `json:"duration,omitempty"`
	Segments []TranscriptionSegment `json:"segments,omitempty"`
}

// Transcribe posts audio to /audio/transcriptions as a multipart form and
// returns the verbose result.
func (c *Client) Transcribe(ctx context.Context, req *TranscriptionRequest) (*Transcription, error) {
	if req == nil || len(req.Audio) == 0 {
		return nil, errors.New("openai: transcription audio is required")
	}
	c.transcriptions.Add(1)
	model := req.Model
	if model == "" {
		model = defaultTranscriptionModel
	}
	name := req.Filename
	if name == "" {
		name = "audio.wav"
	}
	ctype := req.ContentType
	if ctype == "" {
		ctype = "audio/x-wav"
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	h.Set("Content-Type", ctype)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("openai: encode transcription: %w", err)
	}
	if _, err := part.Write(req.Audio); err != nil {
		return nil, fmt.Errorf("openai: encode transcription: %w", err)
	}
	fields := [][2]string{{"model", model}, {"response_format", "verbose_json"}}
	if req.Prompt != "" {
		fields = append(fields, [2]string{"prompt", c.restrict(req.Prompt)})
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, fmt.Errorf("openai: encode transcription: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("openai: encode transcription: %w", err)
	}

	var out Transcription
	if err := c.send(ctx, http.MethodPost, "/audio/transcriptions", model, &buf, mw.FormDataContentType(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ImageRequest asks for Count square images of Resolution pixels.
type ImageRequest struct {
	Prompt     string
	Resolution int
	Count      int
}

// Image is one generated image, referenced by URL or inlined as base64.
type Image struct {
	URL     string `json:"url,omitempty"`
	B64JSON string `json:"b64_json,omitempty"`
}

type imageRequest struct {
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
	Size   string `json:"size"`
}

type imageResponse struct {
	Data []Image `json:"data"`
}

// Render generates images through /images/generations. Fetching the image
// bytes is left to the caller.
func (c *Client) Render(ctx context.Context, req *ImageRequest) ([]Image, error) {
	if req == nil || req.Prompt == "" {
		return nil, errors.New("openai: image prompt is required")
	}
	c.renders.Add(1)
	res, n := req.Resolution, req.Count
	if res <= 0 {
		res = defaultImageResolution
	}
	if n <= 0 {
		n = 1
	}
	body := imageRequest{Prompt: c.restrict(req.Prompt), N: n, Size: fmt.Sprintf("%dx%d", res, res)}

	var out imageResponse
	if err := c.do(ctx, http.MethodPost, "/images/generations", "", body, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// EditRequest rewrites Input according to Instruction.
type EditRequest struct {
	Model       string  `json:"model"`
	Input       string  `json:"input,omitempty"`
	Instruction string  `json:"instruction"`
	Temperature float64 `json:"temperature,omitempty"`
	N           int     `json:"n,omitempty"`
}

// Edit calls /edits and returns the first choice.
func (c *Client) Edit(ctx context.Context, req *EditRequest) (*completion.Result, error) {
	if req == nil || req.Model == "" || req.Instruction == "" {
		return nil, errors.New("openai: edit requires a model and an instruction")
	}
	c.edits.Add(1)
	body := *req
	body.Input = c.restrict(body.Input)
	body.Instruction = c.restrict(body.Instruction)

	var out completionResponse
	if err := c.do(ctx, http.MethodPost, "/edits", req.Model, body, &out); err != nil {
		return nil, err
	}
	if len(out.Choices) == 0 {
		return nil, errors.New("openai: edit response has no choices")
	}
	c.tokens.Add(int64(out.Usage.TotalTokens))
	return &completion.Result{
		Text:         out.Choices[0].Text,
		Model:        out.Model,
		FinishReason: out.Choices[0].FinishReason,
		Usage:        out.Usage,
	}, nil
}
