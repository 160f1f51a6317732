package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GeminiClient implements Client on top of the Gemini generative API.
type GeminiClient struct {
	client    *genai.Client
	modelName string
	timeout   time.Duration
	slots     slots
}

func NewGeminiClient(ctx context.Context, apiKey, modelName string, timeout time.Duration, concurrentReqs int) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{
		client:    client,
		modelName: modelName,
		timeout:   timeout,
		slots:     newSlots(concurrentReqs),
	}, nil
}

func (c *GeminiClient) Close() error {
	return c.client.Close()
}

func (c *GeminiClient) Complete(ctx context.Context, messages []Message, params Params) (string, error) {
	if err := c.slots.acquire(ctx); err != nil {
		return "", requestError(err)
	}
	defer c.slots.release()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	system, history, last, err := splitMessages(messages)
	if err != nil {
		return "", formatError(err)
	}
	cs := c.model(system, params).StartChat()
	cs.History = history

	resp, err := cs.SendMessage(ctx, genai.Text(last))
	if err != nil {
		return "", convertGeminiError(err)
	}

	for i, cand := range resp.Candidates {
		if cand.FinishReason != genai.FinishReasonStop {
			log.Printf("gemini: candidate %d finished with %s", i, cand.FinishReason)
		}
	}

	if len(resp.Candidates) == 0 {
		return "", formatError(ErrEmptyResponse)
	}
	return extractText(resp), nil
}

func (c *GeminiClient) Stream(ctx context.Context, messages []Message, params Params) (Stream, error) {
	system, history, last, err := splitMessages(messages)
	if err != nil {
		return nil, formatError(err)
	}

	if err := c.slots.acquire(ctx); err != nil {
		return nil, requestError(err)
	}

	ctx, cancel := context.WithCancel(ctx)
	watch := watchIdle(c.timeout, cancel)
	cs := c.model(system, params).StartChat()
	cs.History = history

	stream, err := openGeminiStream(cs.SendMessageStream(ctx, genai.Text(last)), watch, cancel, c.slots.release)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

func (c *GeminiClient) model(system *genai.Content, params Params) *genai.GenerativeModel {
	model := c.client.GenerativeModel(c.modelName)
	model.SetTemperature(params.Temperature)
	model.SetTopP(1)
	if params.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(params.MaxTokens))
	}
	model.SystemInstruction = system
	return model
}

// splitMessages maps messages onto Gemini's chat shape: system messages
// become the system instruction, earlier turns become history and the final
// message is the one sent.
func splitMessages(messages []Message) (*genai.Content, []*genai.Content, string, error) {
	var system []string
	var turns []Message
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		turns = append(turns, m)
	}
	if len(turns) == 0 {
		return nil, nil, "", errors.New("no user message to send")
	}

	var instruction *genai.Content
	if len(system) > 0 {
		instruction = &genai.Content{
			Parts: []genai.Part{genai.Text(strings.Join(system, "\n\n"))},
		}
	}

	history := make([]*genai.Content, 0, len(turns)-1)
	for _, m := range turns[:len(turns)-1] {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(m.Content)},
		})
	}

	return instruction, history, turns[len(turns)-1].Content, nil
}

type responseIterator interface {
	Next() (*genai.GenerateContentResponse, error)
}

type geminiStream struct {
	iter    responseIterator
	watch   *idleWatch
	cancel  context.CancelFunc
	release func()
	once    sync.Once

	pending *genai.GenerateContentResponse
	done    bool
}

// openGeminiStream pulls the first response before returning. The SDK only
// reports a failed request on the first Next, and callers must see that as a
// failure to open the stream.
func openGeminiStream(iter responseIterator, watch *idleWatch, cancel context.CancelFunc, release func()) (*geminiStream, error) {
	s := &geminiStream{iter: iter, watch: watch, cancel: cancel, release: release}

	first, err := iter.Next()
	switch {
	case errors.Is(err, iterator.Done):
		s.done = true
	case err != nil:
		s.Close()
		return nil, watch.wrap(err, convertGeminiError)
	default:
		watch.touch()
		s.pending = first
	}
	return s, nil
}

func (s *geminiStream) Recv() (string, error) {
	for {
		if s.done {
			return "", io.EOF
		}

		resp := s.pending
		s.pending = nil
		if resp == nil {
			var err error
			resp, err = s.iter.Next()
			if errors.Is(err, iterator.Done) {
				s.done = true
				return "", io.EOF
			}
			if err != nil {
				return "", s.watch.wrap(err, convertGeminiError)
			}
			s.watch.touch()
		}

		if text := extractText(resp); text != "" {
			return text, nil
		}
	}
}

func (s *geminiStream) Close() error {
	s.once.Do(func() {
		s.watch.stop()
		s.cancel()
		s.release()
	})
	return nil
}

func extractText(resp *genai.GenerateContentResponse) string {
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					text.WriteString(string(t))
				}
			}
		}
	}
	return text.String()
}

func convertGeminiError(err error) error {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return &APIError{Message: gErr.Message, Type: ErrTypeRequest, Err: err}
	}

	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return &APIError{Message: blocked.Error(), Type: ErrTypeFormat, Err: err}
	}

	return requestError(err)
}
