package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/PlanPipe/internal/models"
)

// UnderstandAndPlan classifies a free-text message into an intent.
func (c *Client) UnderstandAndPlan(ctx context.Context, text string) (models.Intent, error) {
	raw, err := c.generate(ctx, "UnderstandAndPlan", completionRequest{
		System: withToday(understandPrompt, c.now(), c.loc),
		User:   text,
	})
	if err != nil {
		return models.Intent{}, err
	}
	intent, err := decodeIntent(raw)
	if err != nil {
		slog.Warn("GenAI.UnderstandAndPlan: invalid model output", "error", err)
		return models.Intent{}, err
	}
	slog.Debug("GenAI.UnderstandAndPlan: classified", "action", intent.Action)
	return intent, nil
}

// ModifyPlan applies the user's change request to plan. The result is either a
// plan_complex_task carrying the new plan or a clarification.
func (c *Client) ModifyPlan(ctx context.Context, plan models.Plan, text string) (models.Intent, error) {
	current, err := json.Marshal(plan)
	if err != nil {
		return models.Intent{}, fmt.Errorf("failed to marshal plan: %w", err)
	}
	raw, err := c.generate(ctx, "ModifyPlan", completionRequest{
		System: withToday(modifyPlanPrompt, c.now(), c.loc),
		User:   fmt.Sprintf("Current plan:\n%s\n\nUser reply:\n%s", current, text),
	})
	if err != nil {
		return models.Intent{}, err
	}
	return decodeIntent(raw)
}

// MergePlanWithCorrection fills the missing dates of partial from the user's reply.
func (c *Client) MergePlanWithCorrection(ctx context.Context, partial models.Intent, text string) (models.Intent, error) {
	current, err := json.Marshal(partial.Params.Steps)
	if err != nil {
		return models.Intent{}, fmt.Errorf("failed to marshal plan: %w", err)
	}
	raw, err := c.generate(ctx, "MergePlanWithCorrection", completionRequest{
		System: withToday(mergePlanPrompt, c.now(), c.loc),
		User:   fmt.Sprintf("Partial plan:\n%s\n\nUser reply:\n%s", current, text),
	})
	if err != nil {
		return models.Intent{}, err
	}
	return decodeIntent(raw)
}

// ParseDeletionChoice resolves the user's reply against n numbered candidates.
// Returned indices are zero-based.
func (c *Client) ParseDeletionChoice(ctx context.Context, text string, n int) (models.DeletionChoice, error) {
	raw, err := c.generate(ctx, "ParseDeletionChoice", completionRequest{
		System: fmt.Sprintf(deletionPrompt, n),
		User:   text,
	})
	if err != nil {
		return models.DeletionChoice{}, err
	}
	var choice models.DeletionChoice
	if err := decodeJSON(raw, &choice); err != nil {
		return models.DeletionChoice{}, err
	}
	return choice, nil
}

// AnalyzeImageAndPlan turns an image into an intent: usually a plan, a single
// event or a knowledge note to save.
func (c *Client) AnalyzeImageAndPlan(ctx context.Context, image []byte, mime string) (models.Intent, error) {
	if mime == "" {
		mime = "image/jpeg"
	}
	raw, err := c.generate(ctx, "AnalyzeImageAndPlan", completionRequest{
		System:    withToday(imagePrompt, c.now(), c.loc),
		User:      "請分析這張圖片。",
		Image:     image,
		ImageMIME: mime,
	})
	if err != nil {
		return models.Intent{}, err
	}
	return decodeIntent(raw)
}

// ProcessKnowledge generates study material from a saved note according to goal.
func (c *Client) ProcessKnowledge(ctx context.Context, note models.KnowledgeNote, goal string) (string, error) {
	raw, err := c.generate(ctx, "ProcessKnowledge", completionRequest{
		System: knowledgePrompt,
		User:   fmt.Sprintf("Note:\n%s\n\nRequest:\n%s", note.Content, goal),
	})
	if err != nil {
		return "", err
	}
	var out struct {
		Text string `json:"text"`
	}
	if err := decodeJSON(raw, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.Text) == "" {
		return "", fmt.Errorf("%w: empty text", ErrMalformedOutput)
	}
	return out.Text, nil
}

// GeneratePlanForObjective proposes study sessions for a learning objective.
func (c *Client) GeneratePlanForObjective(ctx context.Context, title string) (models.Plan, error) {
	raw, err := c.generate(ctx, "GeneratePlanForObjective", completionRequest{
		System: withToday(objectivePlanPrompt, c.now(), c.loc),
		User:   title,
	})
	if err != nil {
		return nil, err
	}
	var out struct {
		Steps models.Plan `json:"steps"`
		Plan  models.Plan `json:"plan"`
	}
	if err := decodeJSON(raw, &out); err != nil {
		return nil, err
	}
	steps := out.Steps
	if len(steps) == 0 {
		steps = out.Plan
	}
	var plan models.Plan
	for _, s := range steps {
		if strings.TrimSpace(s.Summary) != "" {
			plan = append(plan, s)
		}
	}
	if len(plan) == 0 {
		return nil, fmt.Errorf("%w: empty plan", ErrMalformedOutput)
	}
	return plan, nil
}
