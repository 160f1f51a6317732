package triage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"infomary-backend/internal/llm"
	"infomary-backend/internal/models"
)

const (
	PathDirect = "direct"
	PathTriage = "triage"

	DefaultTopK             = 1
	DefaultMaxRegenerations = 2
)

// ErrSpeechDisabled is returned by a Speaker that has no credentials.
var ErrSpeechDisabled = errors.New("speech is disabled")

// Sink is the chat UI side of a session.
type Sink interface {
	// Send delivers a message and returns its ID.
	Send(ctx context.Context, msg models.OutboundMessage) (string, error)
	// StreamToken appends a delta to a previously sent message.
	StreamToken(ctx context.Context, messageID, delta string) error
	// Retract removes a previously sent message.
	Retract(ctx context.Context, messageID string) error
}

// Speaker turns delivered text into playable audio and returns its URL.
type Speaker interface {
	Synthesize(ctx context.Context, sessionID, text string) (string, error)
}

type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) []string
}

type RequestClassifier interface {
	Classify(ctx context.Context, message string) models.Category
}

type QuestionGenerator interface {
	Generate(ctx context.Context, history []models.Turn, retrieved string) []string
}

type QuestionValidator interface {
	Validate(ctx context.Context, history []models.Turn, question string) bool
}

type AdviceSynthesizer interface {
	Synthesize(ctx context.Context, history []models.Turn, retrieved string) string
}

type AnswerResponder interface {
	Respond(ctx context.Context, message string, out Sink) (DirectAnswer, error)
}

// Deps are the collaborators of a Controller. Speaker may be nil.
type Deps struct {
	Retriever  Retriever
	Classifier RequestClassifier
	Generator  QuestionGenerator
	Validator  QuestionValidator
	Advisor    AdviceSynthesizer
	Responder  AnswerResponder
	Speaker    Speaker
}

type Options struct {
	TopK int
	// MaxRegenerations caps Generator calls while handling one message.
	MaxRegenerations int
}

// Outcome describes what a single Handle call did.
type Outcome struct {
	Path     string
	Category models.Category
	Anchor   string
	// Question is the follow-up question delivered this turn, if any.
	Question string
	// Reply is the direct answer or advice that closed the round.
	Reply         string
	RoundComplete bool
	// Turns is the length of the conversation history when the round closed.
	Turns          int
	GeneratorCalls int
}

// Controller is the triage dialog state machine. It holds no per-session
// data; all of it lives in the SessionState passed to Handle.
type Controller struct {
	deps             Deps
	topK             int
	maxRegenerations int
}

func NewController(deps Deps, opts Options) *Controller {
	if opts.TopK < 1 {
		opts.TopK = DefaultTopK
	}
	if opts.MaxRegenerations < 1 {
		opts.MaxRegenerations = DefaultMaxRegenerations
	}
	return &Controller{
		deps:             deps,
		topK:             opts.TopK,
		maxRegenerations: opts.MaxRegenerations,
	}
}

// New wires the LLM-backed components around a single inference client.
func New(client llm.Client, retriever Retriever, speaker Speaker, opts Options) *Controller {
	return NewController(Deps{
		Retriever:  retriever,
		Classifier: NewClassifier(client),
		Generator:  NewGenerator(client),
		Validator:  NewValidator(client),
		Advisor:    NewAdvisor(client),
		Responder:  NewResponder(client),
		Speaker:    speaker,
	}, opts)
}

// Handle processes one inbound user message against st. Collaborator failures
// never abort the turn; the returned error is non-nil only when the sink
// fails or ctx is done.
func (c *Controller) Handle(ctx context.Context, st *models.SessionState, message string, out Sink) (Outcome, error) {
	userMessage := strings.ToLower(message)

	// Fetched on every turn, including the direct path which does not use it.
	retrieved := c.deps.Retriever.Retrieve(ctx, userMessage, c.topK)

	if st.ActiveCategory == models.CategoryNone || len(st.QuestionQueue) == 0 {
		st.AnchorMessage = userMessage
		st.ActiveCategory = c.deps.Classifier.Classify(ctx, st.AnchorMessage)
		log.Printf("triage: session %s classified as %q", st.ID, st.ActiveCategory)
	}

	st.ConversationHistory = append(st.ConversationHistory, models.Turn{Speaker: models.SpeakerUser, Text: userMessage})
	st.ChatHistory = append(st.ChatHistory, models.ChatMessage{Role: models.RoleUser, Content: message})

	outcome := Outcome{Category: st.ActiveCategory, Anchor: st.AnchorMessage}
	if st.ActiveCategory.DirectAnswer() {
		return c.answer(ctx, st, userMessage, out, outcome)
	}
	return c.triage(ctx, st, strings.Join(retrieved, " "), out, outcome)
}

func (c *Controller) answer(ctx context.Context, st *models.SessionState, userMessage string, out Sink, o Outcome) (Outcome, error) {
	o.Path = PathDirect

	ans, err := c.deps.Responder.Respond(ctx, userMessage, out)
	if err != nil {
		return o, err
	}

	if !ans.Fallback {
		st.ConversationHistory = append(st.ConversationHistory, models.Turn{Speaker: models.SpeakerAssistant, Text: ans.Text})
		st.ChatHistory = append(st.ChatHistory, models.ChatMessage{Role: models.RoleAssistant, Content: ans.Text})
		if err := c.deliver(ctx, st, out, ans.Text, ans.Placeholder); err != nil {
			return o, err
		}
	}

	o.Reply = ans.Text
	o.RoundComplete = true
	o.Turns = len(st.ConversationHistory)
	st.ResetRound()
	return o, nil
}

func (c *Controller) triage(ctx context.Context, st *models.SessionState, retrieved string, out Sink, o Outcome) (Outcome, error) {
	o.Path = PathTriage

	for {
		if err := ctx.Err(); err != nil {
			return o, err
		}

		if len(st.QuestionQueue) == 0 {
			if o.GeneratorCalls >= c.maxRegenerations {
				log.Printf("triage: session %s exhausted %d question generations", st.ID, o.GeneratorCalls)
				break
			}
			st.QuestionQueue = c.deps.Generator.Generate(ctx, st.ConversationHistory, retrieved)
			o.GeneratorCalls++
			if len(st.QuestionQueue) == 0 {
				break
			}
		}

		question := st.QuestionQueue[0]
		st.QuestionQueue = st.QuestionQueue[1:]

		if !c.deps.Validator.Validate(ctx, st.ConversationHistory, question) {
			continue
		}

		st.ConversationHistory = append(st.ConversationHistory, models.Turn{Speaker: models.SpeakerAssistant, Text: question})
		st.ChatHistory = append(st.ChatHistory, models.ChatMessage{Role: models.RoleAssistant, Content: question})
		if err := c.deliver(ctx, st, out, question, ""); err != nil {
			return o, err
		}
		o.Question = question
		break
	}

	if len(st.QuestionQueue) > 0 {
		return o, nil
	}

	advice := AdviceBanner + c.deps.Advisor.Synthesize(ctx, st.ConversationHistory, retrieved)
	st.ChatHistory = append(st.ChatHistory, models.ChatMessage{Role: models.RoleAssistant, Content: advice})
	if err := c.deliver(ctx, st, out, advice, ""); err != nil {
		return o, err
	}

	o.Reply = advice
	o.RoundComplete = true
	o.Turns = len(st.ConversationHistory)
	st.ResetRound()
	st.QuestionQueue = []string{}
	return o, nil
}

// deliver sends text, retracts the in-flight placeholder if any, then sends
// the spoken version when speech is on. Audio is synthesized before the text
// is sent. A new clip replaces the previous one, so the previous audio
// message is retracted first.
func (c *Controller) deliver(ctx context.Context, st *models.SessionState, out Sink, text, placeholder string) error {
	var audioURL string
	if st.TTSEnabled && c.deps.Speaker != nil {
		url, err := c.deps.Speaker.Synthesize(ctx, st.ID, text)
		switch {
		case errors.Is(err, ErrSpeechDisabled):
		case err != nil:
			log.Printf("triage: speech synthesis failed for session %s: %v", st.ID, err)
		default:
			audioURL = url
		}
	}

	if _, err := out.Send(ctx, models.OutboundMessage{Kind: models.MessageKindText, Content: text}); err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	if placeholder != "" {
		if err := out.Retract(ctx, placeholder); err != nil {
			log.Printf("triage: retract placeholder %s failed: %v", placeholder, err)
		}
	}

	if audioURL != "" {
		if st.AudioMessageID != "" {
			if err := out.Retract(ctx, st.AudioMessageID); err != nil {
				log.Printf("triage: retract audio %s failed: %v", st.AudioMessageID, err)
			}
			st.AudioMessageID = ""
		}
		id, err := out.Send(ctx, models.OutboundMessage{Kind: models.MessageKindAudio, AudioURL: audioURL})
		if err != nil {
			return fmt.Errorf("send audio: %w", err)
		}
		st.AudioMessageID = id
	}
	return nil
}
