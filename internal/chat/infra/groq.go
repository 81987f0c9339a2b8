package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	chatdomain "github.com/boddenberg/facturedirect-bot-go/internal/chat/domain"
	"github.com/boddenberg/facturedirect-bot-go/internal/domain"
	"github.com/boddenberg/facturedirect-bot-go/internal/infra/resilience"
)

// tracer é o tracer OpenTelemetry para o módulo chat/infra.
var tracer = otel.Tracer("chat/infra")

// ============================================================
// GroqClassifier — classificador de intenção (LLM)
// ============================================================
//
// Fala com a API compatível com OpenAI da Groq:
//
//	POST {baseURL}/chat/completions
//	{"model": "...", "messages": [...], "response_format": {"type": "json_object"}}
//
// O conteúdo devolvido é texto cru; quem interpreta é o DecodeIntent
// do service. Aqui só garantimos transporte, retry e circuit breaker.

const (
	DefaultGroqBaseURL     = "https://api.groq.com/openai/v1"
	DefaultClassifierModel = "llama-3.3-70b-versatile"
	DefaultWhisperModel    = "whisper-large-v3"
)

// GroqConfig agrupa credenciais e modelos da Groq.
type GroqConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	WhisperModel string
	Temperature  float64
	MaxTokens    int
}

func (c GroqConfig) withDefaults() GroqConfig {
	if c.BaseURL == "" {
		c.BaseURL = DefaultGroqBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Model == "" {
		c.Model = DefaultClassifierModel
	}
	if c.WhisperModel == "" {
		c.WhisperModel = DefaultWhisperModel
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 1000
	}
	return c
}

// GroqClassifier implementa port.Classifier.
type GroqClassifier struct {
	httpClient *http.Client
	cfg        GroqConfig
	cb         *gobreaker.CircuitBreaker
	retry      resilience.Config
}

// NewGroqClassifier cria o classificador. Temperature zero vira 0.1.
func NewGroqClassifier(httpClient *http.Client, cfg GroqConfig, cb *gobreaker.CircuitBreaker, retry resilience.Config) *GroqClassifier {
	cfg = cfg.withDefaults()
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.1
	}
	return &GroqClassifier{httpClient: httpClient, cfg: cfg, cb: cb, retry: retry}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type completionRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type completionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Classify envia o turno para o LLM e devolve o conteúdo cru.
//
// Fluxo:
//  1. Monta as mensagens: system, histórico (mais antigo primeiro), texto atual
//  2. POST /chat/completions com response_format json_object
//  3. Retry com backoff dentro do circuit breaker (4xx não repete)
func (c *GroqClassifier) Classify(ctx context.Context, req *chatdomain.ClassifyRequest) (*chatdomain.ClassifyResponse, error) {
	ctx, span := tracer.Start(ctx, "GroqClassifier.Classify")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", c.cfg.Model),
		attribute.Int("llm.history", len(req.History)),
	)

	body, err := json.Marshal(c.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	out, err := resilience.Call(ctx, c.cb, c.retry, func() (*chatdomain.ClassifyResponse, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return nil, resilience.Permanent(fmt.Errorf("create http request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("http call to groq: %w", err)
		}
		defer resp.Body.Close()

		if err := checkStatus(resp, "groq /chat/completions"); err != nil {
			return nil, err
		}

		var cr completionResponse
		if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
			return nil, resilience.Permanent(fmt.Errorf("decode completion: %w", err))
		}
		if len(cr.Choices) == 0 {
			return nil, resilience.Permanent(errors.New("groq returned no choices"))
		}
		return &chatdomain.ClassifyResponse{
			Content:          cr.Choices[0].Message.Content,
			Model:            cr.Model,
			PromptTokens:     cr.Usage.PromptTokens,
			CompletionTokens: cr.Usage.CompletionTokens,
		}, nil
	})
	if err != nil {
		span.RecordError(err)
		var open *domain.ErrCircuitOpen
		if errors.As(err, &open) {
			return nil, err
		}
		return nil, &domain.ErrExternalService{Service: "groq", Err: err}
	}

	span.SetAttributes(
		attribute.Int("llm.prompt_tokens", out.PromptTokens),
		attribute.Int("llm.completion_tokens", out.CompletionTokens),
	)
	return out, nil
}

func (c *GroqClassifier) buildRequest(req *chatdomain.ClassifyRequest) completionRequest {
	msgs := make([]chatMessage, 0, len(req.History)+2)
	msgs = append(msgs, chatMessage{Role: "system", Content: req.System})
	for _, m := range req.History {
		role := m.Role
		if role != chatdomain.RoleAssistant {
			role = chatdomain.RoleUser
		}
		msgs = append(msgs, chatMessage{Role: role, Content: m.Content})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: req.Text})

	return completionRequest{
		Model:          c.cfg.Model,
		Messages:       msgs,
		Temperature:    c.cfg.Temperature,
		MaxTokens:      c.cfg.MaxTokens,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}
}

// checkStatus transforma respostas não-2xx em erro. 4xx (exceto 429) é
// marcado como permanente: repetir a mesma requisição não adianta.
func checkStatus(resp *http.Response, what string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := fmt.Errorf("%s returned status %d: %s", what, resp.StatusCode, strings.TrimSpace(string(snippet)))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return resilience.Permanent(err)
	}
	return err
}
