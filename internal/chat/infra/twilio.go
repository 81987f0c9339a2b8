package infra

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/sony/gobreaker"
	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/boddenberg/facturedirect-bot-go/internal/domain"
	"github.com/boddenberg/facturedirect-bot-go/internal/infra/observability"
	"github.com/boddenberg/facturedirect-bot-go/internal/infra/resilience"
)

// ============================================================
// TwilioMessenger — saída WhatsApp
// ============================================================
//
// "to" chega normalizado ("33612345678"); a Twilio quer
// "whatsapp:+33612345678". O remetente (From) já vem no formato
// "whatsapp:+14155238886" da config.
//
// A Twilio recusa corpos acima de 1600 caracteres: textos longos
// (listas, resumos) são quebrados em pedaços, preferindo quebras de linha.

// MaxBodyRunes é o limite da Twilio para o corpo de uma mensagem.
const MaxBodyRunes = 1600

// TwilioConfig são as credenciais da conta.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	From       string
}

// messageAPI é o pedaço do SDK que usamos (*openapi.ApiService implementa).
type messageAPI interface {
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
}

// TwilioMessenger implementa port.Messenger.
type TwilioMessenger struct {
	api    messageAPI
	from   string
	cb     *gobreaker.CircuitBreaker
	retry  resilience.Config
	logger *zap.Logger
}

// NewTwilioMessenger cria o messenger com o REST client oficial.
func NewTwilioMessenger(cfg TwilioConfig, cb *gobreaker.CircuitBreaker, retry resilience.Config, logger *zap.Logger) *TwilioMessenger {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return newTwilioMessenger(client.Api, cfg.From, cb, retry, logger)
}

func newTwilioMessenger(api messageAPI, from string, cb *gobreaker.CircuitBreaker, retry resilience.Config, logger *zap.Logger) *TwilioMessenger {
	return &TwilioMessenger{api: api, from: from, cb: cb, retry: retry, logger: logger}
}

// SendText envia o texto, em vários pedaços se passar do limite.
func (m *TwilioMessenger) SendText(ctx context.Context, to, text string) error {
	ctx, span := tracer.Start(ctx, "TwilioMessenger.SendText")
	defer span.End()

	chunks := SplitBody(text, MaxBodyRunes)
	span.SetAttributes(attribute.Int("whatsapp.chunks", len(chunks)))

	for _, chunk := range chunks {
		params := &openapi.CreateMessageParams{}
		params.SetFrom(m.from)
		params.SetTo(whatsappAddress(to))
		params.SetBody(chunk)
		if err := m.create(ctx, to, params); err != nil {
			span.RecordError(err)
			return err
		}
	}
	return nil
}

// SendDocument envia o PDF como mídia com a legenda no corpo.
// A Twilio baixa o arquivo da URL; filename só entra no log.
func (m *TwilioMessenger) SendDocument(ctx context.Context, to, url, filename, caption string) error {
	ctx, span := tracer.Start(ctx, "TwilioMessenger.SendDocument")
	defer span.End()
	span.SetAttributes(attribute.String("document.filename", filename))

	if caption == "" {
		caption = "Votre document"
	}
	params := &openapi.CreateMessageParams{}
	params.SetFrom(m.from)
	params.SetTo(whatsappAddress(to))
	params.SetBody(caption)
	params.SetMediaUrl([]string{url})

	if err := m.create(ctx, to, params); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

func (m *TwilioMessenger) create(ctx context.Context, to string, params *openapi.CreateMessageParams) error {
	msg, err := resilience.Call(ctx, m.cb, m.retry, func() (*openapi.ApiV2010Message, error) {
		return m.api.CreateMessage(params)
	})
	if err != nil {
		return &domain.ErrExternalService{Service: "twilio", Err: err}
	}
	if msg != nil && msg.Sid != nil {
		m.logger.Debug("whatsapp message queued",
			zap.String("to", observability.MaskPhone(to)),
			zap.String("sid", *msg.Sid),
		)
	}
	return nil
}

func whatsappAddress(phone string) string {
	return "whatsapp:+" + strings.TrimPrefix(phone, "+")
}

// SplitBody quebra text em pedaços de até max runas, cortando de
// preferência numa quebra de linha e, senão, num espaço.
func SplitBody(text string, max int) []string {
	if utf8.RuneCountInString(text) <= max {
		return []string{text}
	}
	var out []string
	runes := []rune(text)
	for len(runes) > max {
		cut := max
		if i := lastIndexRune(runes[:max], '\n'); i > max/2 {
			cut = i
		} else if i := lastIndexRune(runes[:max], ' '); i > max/2 {
			cut = i
		}
		out = append(out, strings.TrimRight(string(runes[:cut]), " \n"))
		runes = runes[cut:]
		for len(runes) > 0 && (runes[0] == '\n' || runes[0] == ' ') {
			runes = runes[1:]
		}
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}

func lastIndexRune(rs []rune, r rune) int {
	for i := len(rs) - 1; i >= 0; i-- {
		if rs[i] == r {
			return i
		}
	}
	return -1
}

// ============================================================
// TwilioMediaFetcher — download de anexos
// ============================================================

// maxMediaBytes cobre notas de voz longas; o WhatsApp limita áudio a 16 MB.
const maxMediaBytes = 16 << 20

// TwilioMediaFetcher implementa port.MediaFetcher com basic auth
// (AccountSID:AuthToken). A Twilio redireciona para o storage dela; o
// http.Client não repassa Authorization para outro host.
type TwilioMediaFetcher struct {
	httpClient *http.Client
	cfg        TwilioConfig
}

// NewTwilioMediaFetcher cria o fetcher.
func NewTwilioMediaFetcher(httpClient *http.Client, cfg TwilioConfig) *TwilioMediaFetcher {
	return &TwilioMediaFetcher{httpClient: httpClient, cfg: cfg}
}

// Fetch baixa a mídia inteira em memória.
func (f *TwilioMediaFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "TwilioMediaFetcher.Fetch")
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create media request: %w", err)
	}
	req.SetBasicAuth(f.cfg.AccountSID, f.cfg.AuthToken)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "twilio-media", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &domain.ErrExternalService{
			Service: "twilio-media",
			Err:     fmt.Errorf("media download returned status %d", resp.StatusCode),
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes+1))
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "twilio-media", Err: err}
	}
	if len(data) > maxMediaBytes {
		return nil, &domain.ErrValidation{Field: "media", Message: "media larger than 16 MB"}
	}
	span.SetAttributes(attribute.Int("media.bytes", len(data)))
	return data, nil
}
