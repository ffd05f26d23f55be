package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"

	apperrors "intraday-trader/internal/errors"
	"intraday-trader/internal/models"
)

// usdToINR converts oracle-call cost metadata to account currency.
const usdToINR = 84.0

// pricing is USD per 1M tokens, input/output.
var pricing = map[string][2]float64{
	"gpt-4o":       {2.50, 10.00},
	"gpt-4o-mini":  {0.15, 0.60},
	"gpt-4.1-mini": {0.10, 0.40},
}

// OpenAIOracle implements Oracle and Selector using the OpenAI API.
type OpenAIOracle struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	now     func() time.Time
}

// NewOpenAIOracle creates a new OpenAI-backed oracle.
func NewOpenAIOracle(apiKey, model string, timeout time.Duration) *OpenAIOracle {
	if timeout == 0 {
		timeout = time.Minute
	}
	return &OpenAIOracle{
		client:  openai.NewClient(apiKey),
		model:   model,
		timeout: timeout,
		now:     time.Now,
	}
}

// Decide sends the context payload to the model and parses its reply
// into a Directive. Any failure maps to a HOLD directive plus the error
// so the caller can record it; ambiguous output is never forwarded.
func (o *OpenAIOracle) Decide(ctx context.Context, req DecisionRequest) (models.Directive, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: decisionSystemPrompt(req.Position != nil)},
			{Role: openai.ChatMessageRoleUser, Content: buildDecisionPrompt(req)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return models.HoldDirective(req.Instrument.Symbol, o.now()),
			apperrors.NewCycleError(models.ErrKindOracle, "decide", req.Instrument.Symbol,
				apperrors.Wrap(err, apperrors.ErrOracleUnavailable.Error()))
	}
	if len(resp.Choices) == 0 {
		return models.HoldDirective(req.Instrument.Symbol, o.now()),
			apperrors.NewCycleError(models.ErrKindOracle, "decide", req.Instrument.Symbol,
				apperrors.Wrap(apperrors.ErrOracleMalformed, "empty completion"))
	}

	usage := models.OracleUsage{
		Model:            o.model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		CostINR:          costINR(o.model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
	}

	directive, err := ParseDirective(resp.Choices[0].Message.Content, req.Instrument.Symbol, o.now())
	directive.Usage = usage
	if err != nil {
		return directive, apperrors.NewCycleError(models.ErrKindOracle, "decide", req.Instrument.Symbol, err)
	}
	return directive, nil
}

// SelectInstrument asks the model to pick the day's candidate from the
// offered technical summaries.
func (o *OpenAIOracle) SelectInstrument(ctx context.Context, candidates []Candidate) (*Selection, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: selectionSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildSelectionPrompt(candidates)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, apperrors.Wrap(err, "instrument selection failed")
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("instrument selection: empty completion")
	}

	var reply struct {
		Symbol     string  `json:"symbol"`
		Confidence float64 `json:"confidence_score"`
		Thought    string  `json:"thought"`
	}
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &reply); err != nil {
		return nil, fmt.Errorf("instrument selection: unparseable reply: %w", err)
	}
	if reply.Symbol == "" {
		return nil, fmt.Errorf("instrument selection: reply names no symbol")
	}

	return &Selection{
		Symbol:     reply.Symbol,
		Confidence: reply.Confidence,
		Reasoning:  reply.Thought,
	}, nil
}

func costINR(model string, promptTokens, completionTokens int) float64 {
	p, ok := pricing[model]
	if !ok {
		return 0
	}
	usd := float64(promptTokens)/1e6*p[0] + float64(completionTokens)/1e6*p[1]
	return usd * usdToINR
}
