package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/OrsiniBr/DoTrust/internal/domain/apperr"
	"github.com/OrsiniBr/DoTrust/internal/domain/moderation"
)

const (
	DefaultModel = "gpt-4o-mini"
	temperature  = 0.3

	systemPrompt = "You are a fair but strict conversation quality moderator. Consider context carefully. Return only valid JSON."
)

var ErrEmptyResponse = errors.New("classifier returned no choices")

// Config holds the OpenAI-compatible endpoint settings.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OpenAIClassifier implements moderation.Classifier over chat completions.
type OpenAIClassifier struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  zerolog.Logger
	now     func() time.Time
}

func New(cfg Config, logger zerolog.Logger) *OpenAIClassifier {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &OpenAIClassifier{
		client:  openai.NewClientWithConfig(oc),
		model:   model,
		timeout: cfg.Timeout,
		logger:  logger.With().Str("component", "classifier").Logger(),
		now:     time.Now,
	}
}

func (c *OpenAIClassifier) Classify(ctx context.Context, req moderation.Request) (*moderation.Verdict, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: BuildPrompt(req)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: temperature,
	})
	if err != nil {
		return nil, apperr.ExternalService("classifier.Classify", err)
	}
	if len(resp.Choices) == 0 {
		return nil, apperr.ExternalService("classifier.Classify", ErrEmptyResponse)
	}

	verdict, err := ParseVerdict(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, apperr.ExternalService("classifier.Classify", err)
	}
	verdict.ContextAware = true
	verdict.ProcessedAt = c.now().UTC()

	c.logger.Debug().
		Str("violation_type", string(verdict.ViolationType)).
		Int("points", verdict.PointsToDeduct).
		Float64("confidence", verdict.Confidence).
		Msg("message classified")
	return verdict, nil
}

// ParseVerdict decodes the model output. Points are always re-derived from the flags.
func ParseVerdict(content string) (*moderation.Verdict, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var v moderation.Verdict
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		return nil, fmt.Errorf("decode verdict: %w", err)
	}
	v.Normalize()
	return &v, nil
}

// BuildPrompt renders the review prompt with the prior messages labelled
// relative to the author.
func BuildPrompt(req moderation.Request) string {
	var history strings.Builder
	for i, line := range req.History {
		if i > 0 {
			history.WriteByte('\n')
		}
		label := "Other User"
		if line.FromAuthor {
			label = "Current User"
		}
		fmt.Fprintf(&history, "[%s]: %s", label, line.Text)
	}
	convo := history.String()
	if convo == "" {
		convo = "(No previous messages)"
	}
	return fmt.Sprintf(promptTemplate, convo, req.Text)
}

const promptTemplate = `You are analyzing a 1-on-1 staking chat where users have staked tokens to have a meaningful conversation.

CONVERSATION HISTORY (chronological):
%s

NEW MESSAGE TO ANALYZE:
[Current User]: %s

ANALYZE FOR:

1. LOW QUALITY (examples that should be penalized -1 point):
   - One-word lazy responses: "ok", "k", "lol", "idk", "cool", "nice", "yeah" when the other person asked a real question or shared something detailed
   - Not engaging meaningfully with the conversation
   - Repeated generic responses
   - Copy-paste or bot-like messages

   NOTE: Short responses are OK if:
   - Following casual small talk
   - Appropriate acknowledgment ("thanks!" after getting help)
   - Natural conversation flow (not every message needs to be long)
   - Answering yes/no questions appropriately

2. TOXIC BEHAVIOR (examples that should be penalized -2 points):
   - Direct insults or name-calling
   - Harassment or bullying
   - Passive-aggressive comments
   - Condescending or dismissive tone
   - Sexual harassment or unwanted advances
   - Threats or intimidation
   - Racist, sexist, or discriminatory language
   - Spam or trolling

CONTEXT MATTERS: Consider the full conversation. Don't penalize short messages if they're appropriate to the flow.

Return JSON only:
{
  "isLowQuality": boolean,
  "isToxic": boolean,
  "toxicityScore": number (0-1),
  "qualityScore": number (0-1),
  "violationType": "low_effort" | "toxic" | "spam" | "none",
  "reasoning": "specific explanation of why this was flagged",
  "confidence": number (0-1),
  "pointsToDeduct": 0 | 1 | 2
}

Be strict but fair. This affects real money stakes.`
