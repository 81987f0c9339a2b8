package infra

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"

	"github.com/boddenberg/facturedirect-bot-go/internal/domain"
	"github.com/boddenberg/facturedirect-bot-go/internal/infra/resilience"
)

// WhisperTranscriber implementa port.Transcriber com o endpoint
// /audio/transcriptions da Groq (formato OpenAI), sempre em francês.
type WhisperTranscriber struct {
	httpClient *http.Client
	cfg        GroqConfig
	cb         *gobreaker.CircuitBreaker
	retry      resilience.Config
}

// NewWhisperTranscriber reaproveita a GroqConfig do classificador.
func NewWhisperTranscriber(httpClient *http.Client, cfg GroqConfig, cb *gobreaker.CircuitBreaker, retry resilience.Config) *WhisperTranscriber {
	return &WhisperTranscriber{httpClient: httpClient, cfg: cfg.withDefaults(), cb: cb, retry: retry}
}

// Transcribe envia o áudio como multipart e devolve o texto puro.
func (w *WhisperTranscriber) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	ctx, span := tracer.Start(ctx, "WhisperTranscriber.Transcribe")
	defer span.End()
	span.SetAttributes(attribute.Int("audio.bytes", len(audio)), attribute.String("audio.filename", filename))

	if len(audio) == 0 {
		return "", &domain.ErrValidation{Field: "audio", Message: "empty audio"}
	}

	body, contentType, err := w.buildForm(audio, filename)
	if err != nil {
		return "", err
	}

	text, err := resilience.Call(ctx, w.cb, w.retry, func() (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.BaseURL+"/audio/transcriptions", bytes.NewReader(body))
		if err != nil {
			return "", resilience.Permanent(fmt.Errorf("create http request: %w", err))
		}
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Authorization", "Bearer "+w.cfg.APIKey)

		resp, err := w.httpClient.Do(req)
		if err != nil {
			return "", fmt.Errorf("http call to whisper: %w", err)
		}
		defer resp.Body.Close()

		if err := checkStatus(resp, "groq /audio/transcriptions"); err != nil {
			return "", err
		}
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", fmt.Errorf("read transcription: %w", err)
		}
		return strings.TrimSpace(string(raw)), nil
	})
	if err != nil {
		span.RecordError(err)
		return "", &domain.ErrExternalService{Service: "whisper", Err: err}
	}
	if text == "" {
		return "", &domain.ErrExternalService{Service: "whisper", Err: errors.New("empty transcription")}
	}
	return text, nil
}

func (w *WhisperTranscriber) buildForm(audio []byte, filename string) ([]byte, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, "", fmt.Errorf("write audio: %w", err)
	}
	fields := map[string]string{
		"model":           w.cfg.WhisperModel,
		"language":        "fr",
		"response_format": "text",
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart: %w", err)
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}
