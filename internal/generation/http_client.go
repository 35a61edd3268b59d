package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/skillify-edu/exam-service/internal/models"
)

// Client calls the question-generation upstream over HTTP. The upstream is
// the AI gateway that turns a topic or source text into MCQ items.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type generateRequest struct {
	Topic        string `json:"topic"`
	Difficulty   string `json:"difficulty"`
	NumQuestions int    `json:"num_questions"`
	SourceText   string `json:"source_text,omitempty"`
}

type generateResponse struct {
	Questions []models.QuizQuestion `json:"questions"`
}

// GenerateQuestions implements services.QuestionGenerator.
func (c *Client) GenerateQuestions(ctx context.Context, topic string, difficulty models.DifficultyLevel, count int, sourceText string) ([]models.QuizQuestion, error) {
	payload, err := json.Marshal(generateRequest{
		Topic:        topic,
		Difficulty:   string(difficulty),
		NumQuestions: count,
		SourceText:   sourceText,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode generation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build generation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("generation upstream unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("generation upstream returned %d: %s", resp.StatusCode, string(body))
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode generation response: %w", err)
	}
	return out.Questions, nil
}
