package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	chatdomain "github.com/boddenberg/facturedirect-bot-go/internal/chat/domain"
	"github.com/boddenberg/facturedirect-bot-go/internal/chat/port"
	"github.com/boddenberg/facturedirect-bot-go/internal/infra/observability"
	"github.com/boddenberg/facturedirect-bot-go/internal/infra/resilience"
)

// ============================================================
// Dispatcher — processamento destacado do webhook
// ============================================================
//
// O webhook responde à Twilio antes de qualquer processamento. O turno
// roda numa goroutine própria, com timeout, limitado pelo Bulkhead.
// Turnos do mesmo telefone rodam um de cada vez, na ordem de chegada
// ao lock. A espera pelo lock do telefone acontece antes do Bulkhead:
// mensagens enfileiradas de um usuário não ocupam vaga de outro.
// Turno sem vaga recebe MsgBusy.

// TurnHandler processa um turno de texto. *Bot implementa.
type TurnHandler interface {
	HandleMessage(ctx context.Context, phone, text string)
}

const busyNoticeTimeout = 10 * time.Second

// DispatcherConfig limita o trabalho destacado.
type DispatcherConfig struct {
	MaxConcurrent int
	TurnTimeout   time.Duration
}

// Dispatcher transforma um InboundMessage em turno: transcreve áudio
// e entrega o texto ao TurnHandler.
type Dispatcher struct {
	handler     TurnHandler
	messenger   port.Messenger
	media       port.MediaFetcher
	transcriber port.Transcriber
	bulkhead    *resilience.Bulkhead
	timeout     time.Duration
	metrics     *observability.Metrics
	logger      *zap.Logger

	wg     sync.WaitGroup
	phones phoneLocks
}

// NewDispatcher cria o Dispatcher.
func NewDispatcher(handler TurnHandler, messenger port.Messenger, media port.MediaFetcher,
	transcriber port.Transcriber, cfg DispatcherConfig, metrics *observability.Metrics, logger *zap.Logger) *Dispatcher {
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = 60 * time.Second
	}
	return &Dispatcher{
		handler:     handler,
		messenger:   messenger,
		media:       media,
		transcriber: transcriber,
		bulkhead:    resilience.NewBulkhead(cfg.MaxConcurrent),
		timeout:     cfg.TurnTimeout,
		metrics:     metrics,
		logger:      logger,
		phones:      phoneLocks{locks: make(map[string]*phoneLock)},
	}
}

// Dispatch agenda o processamento e retorna na hora.
//
// Fluxo (na goroutine):
//  1. Espera a vez do telefone, sem vaga do Bulkhead
//  2. Pega uma vaga dentro do timeout do turno; sem vaga → MsgBusy
//  3. Processa o turno
func (d *Dispatcher) Dispatch(msg *chatdomain.InboundMessage) {
	phone := chatdomain.NormalizePhone(msg.From)
	if phone == "" {
		d.logger.Warn("inbound message without sender")
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		unlock := d.phones.lock(phone)
		defer unlock()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if err := d.bulkhead.Acquire(ctx); err != nil {
			d.metrics.IncrTurn("dropped")
			d.logger.Warn("turn dropped, no worker slot",
				zap.String("phone", observability.MaskPhone(phone)),
				zap.Error(err),
			)
			d.notifyBusy(phone)
			return
		}
		defer d.bulkhead.Release()

		d.process(ctx, phone, msg)
	}()
}

// HandleIncomingMessage processa um InboundMessage de forma síncrona,
// serializado com os outros turnos do mesmo telefone.
func (d *Dispatcher) HandleIncomingMessage(ctx context.Context, msg *chatdomain.InboundMessage) {
	phone := chatdomain.NormalizePhone(msg.From)
	if phone == "" {
		d.logger.Warn("inbound message without sender")
		return
	}

	unlock := d.phones.lock(phone)
	defer unlock()

	d.process(ctx, phone, msg)
}

// notifyBusy avisa o usuário de um turno descartado. O ctx do turno já
// expirou, então o aviso tem prazo próprio.
func (d *Dispatcher) notifyBusy(phone string) {
	ctx, cancel := context.WithTimeout(context.Background(), busyNoticeTimeout)
	defer cancel()
	NewOutbox(phone, d.messenger, d.logger, d.metrics).Say(ctx, MsgBusy)
}

// process executa o turno. O chamador já tem o lock do telefone.
//
// Fluxo:
//  1. Áudio → aviso, download, Whisper, eco do texto transcrito
//  2. Texto → Bot.HandleMessage
func (d *Dispatcher) process(ctx context.Context, phone string, msg *chatdomain.InboundMessage) {
	ctx, span := chatTracer.Start(ctx, "Dispatcher.process")
	defer span.End()

	text := strings.TrimSpace(msg.Body)
	if msg.IsVoice() {
		out := NewOutbox(phone, d.messenger, d.logger, d.metrics)
		out.Say(ctx, MsgTranscribing)

		transcript, err := d.transcribe(ctx, msg)
		if err != nil {
			d.metrics.IncrExternalError("transcription")
			d.logger.Error("voice note not transcribed",
				zap.String("phone", observability.MaskPhone(phone)),
				zap.Error(err),
			)
			out.Say(ctx, MsgTranscriptionFailed)
			return
		}
		out.Say(ctx, fmt.Sprintf("✅ Transcrit : \"%s\"", transcript))
		text = transcript
	}

	if text == "" {
		return
	}
	d.handler.HandleMessage(ctx, phone, text)
}

func (d *Dispatcher) transcribe(ctx context.Context, msg *chatdomain.InboundMessage) (string, error) {
	audio, err := d.media.Fetch(ctx, msg.MediaURL)
	if err != nil {
		return "", err
	}
	text, err := d.transcriber.Transcribe(ctx, audio, audioFilename(msg.MediaContentType))
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("empty transcription")
	}
	return text, nil
}

// Shutdown espera os turnos em andamento ou o fim do ctx.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// audioFilename escolhe a extensão que o Whisper usa para detectar o formato.
func audioFilename(contentType string) string {
	switch {
	case strings.Contains(contentType, "mpeg"), strings.Contains(contentType, "mp3"):
		return "audio.mp3"
	case strings.Contains(contentType, "mp4"), strings.Contains(contentType, "m4a"):
		return "audio.m4a"
	case strings.Contains(contentType, "wav"):
		return "audio.wav"
	case strings.Contains(contentType, "webm"):
		return "audio.webm"
	default:
		// WhatsApp manda notas de voz em audio/ogg (opus)
		return "audio.ogg"
	}
}

// phoneLocks é um mutex por telefone, liberado quando ninguém mais espera.
type phoneLocks struct {
	mu    sync.Mutex
	locks map[string]*phoneLock
}

type phoneLock struct {
	mu      sync.Mutex
	waiters int
}

func (p *phoneLocks) lock(phone string) func() {
	p.mu.Lock()
	l, ok := p.locks[phone]
	if !ok {
		l = &phoneLock{}
		p.locks[phone] = l
	}
	l.waiters++
	p.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		p.mu.Lock()
		l.waiters--
		if l.waiters == 0 {
			delete(p.locks, phone)
		}
		p.mu.Unlock()
	}
}
