package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// FireworksBaseURL is the OpenAI-compatible endpoint of Fireworks AI.
const FireworksBaseURL = "https://api.fireworks.ai/inference/v1"

type OpenAIConfig struct {
	APIKey         string
	BaseURL        string // empty means api.openai.com
	Model          string
	Timeout        time.Duration
	ConcurrentReqs int
}

// OpenAIClient talks to any OpenAI-compatible chat completions API
// (OpenAI itself or Fireworks).
type OpenAIClient struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	slots   slots
}

func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	oaCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oaCfg.BaseURL = cfg.BaseURL
	}

	// Complete bounds the whole call through the context. Streams are bounded
	// by an idle deadline between chunks instead, so long answers can finish.
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.Timeout
	oaCfg.HTTPClient = &http.Client{Transport: transport}

	return &OpenAIClient{
		client:  openai.NewClientWithConfig(oaCfg),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		slots:   newSlots(cfg.ConcurrentReqs),
	}
}

func (c *OpenAIClient) Complete(ctx context.Context, messages []Message, params Params) (string, error) {
	if err := c.slots.acquire(ctx); err != nil {
		return "", requestError(err)
	}
	defer c.slots.release()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, c.request(messages, params, false))
	if err != nil {
		return "", convertOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", formatError(ErrEmptyResponse)
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) Stream(ctx context.Context, messages []Message, params Params) (Stream, error) {
	if err := c.slots.acquire(ctx); err != nil {
		return nil, requestError(err)
	}

	ctx, cancel := context.WithCancel(ctx)
	watch := watchIdle(c.timeout, cancel)
	stream, err := c.client.CreateChatCompletionStream(ctx, c.request(messages, params, true))
	if err != nil {
		watch.stop()
		cancel()
		c.slots.release()
		return nil, watch.wrap(err, convertOpenAIError)
	}

	return &openAIStream{
		stream:  stream,
		watch:   watch,
		cancel:  cancel,
		release: c.slots.release,
	}, nil
}

func (c *OpenAIClient) request(messages []Message, params Params, stream bool) openai.ChatCompletionRequest {
	oaMsgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := m.Role
		if role != openai.ChatMessageRoleSystem && role != openai.ChatMessageRoleUser && role != openai.ChatMessageRoleAssistant {
			// coerce anything unknown to user
			role = openai.ChatMessageRoleUser
		}
		oaMsgs = append(oaMsgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	temperature := params.Temperature
	if temperature == 0 {
		// temperature is omitempty on the wire; a zero would fall back to the server default
		temperature = math.SmallestNonzeroFloat32
	}

	return openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    oaMsgs,
		Temperature: temperature,
		MaxTokens:   params.MaxTokens,
		TopP:        1,
		Stream:      stream,
	}
}

type openAIStream struct {
	stream  *openai.ChatCompletionStream
	watch   *idleWatch
	cancel  context.CancelFunc
	release func()
	once    sync.Once
}

func (s *openAIStream) Recv() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				// malformed chunk, skip it
				s.watch.touch()
				continue
			}
			return "", s.watch.wrap(err, convertOpenAIError)
		}
		s.watch.touch()
		if len(resp.Choices) == 0 {
			continue
		}
		if delta := resp.Choices[0].Delta.Content; delta != "" {
			return delta, nil
		}
	}
}

func (s *openAIStream) Close() error {
	var err error
	s.once.Do(func() {
		s.watch.stop()
		err = s.stream.Close()
		s.cancel()
		s.release()
	})
	return err
}

func convertOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		typ := apiErr.Type
		if typ == "" {
			typ = ErrTypeRequest
		}
		return &APIError{Message: apiErr.Message, Type: typ, Err: err}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &APIError{Message: reqErr.Error(), Type: ErrTypeRequest, Err: err}
	}

	return requestError(err)
}
