// Package telegram implements the reminder messaging gateway on top of
// telebot: outgoing reminder text, the /start connection handshake and the
// operator log sink.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"fieldreport/internal/reminder"
	rtsup "fieldreport/internal/runtime/supervisor"
	logx "fieldreport/pkg/logx"
)

var ErrNotInitialized = errors.New("telegram gateway not initialized")

type Config struct {
	Token       string
	PollTimeout time.Duration
	// SendRatePerSec caps outgoing messages; Telegram allows about 30/s per bot.
	SendRatePerSec int
}

// Gateway satisfies reminder.Gateway and logx.Sender.
type Gateway struct {
	cfg     Config
	log     logx.Logger
	handler reminder.HandshakeHandler
	limiter *rate.Limiter

	mu      sync.Mutex
	bot     *tele.Bot
	sup     *rtsup.Supervisor
	polling bool
}

func New(cfg Config, handler reminder.HandshakeHandler, log logx.Logger) *Gateway {
	if log.IsZero() {
		log = logx.Nop()
	}
	rps := cfg.SendRatePerSec
	if rps <= 0 {
		rps = 20
	}
	return &Gateway{
		cfg:     cfg,
		log:     log.With(logx.String("comp", "telegram")),
		handler: handler,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
}

// Init connects the bot (getMe) and, with receive=true, starts long polling
// so /start handshakes reach the handler. Repeated calls reuse the bot.
func (g *Gateway) Init(ctx context.Context, receive bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.bot == nil {
		if strings.TrimSpace(g.cfg.Token) == "" {
			return errors.New("telegram token is empty")
		}
		timeout := g.cfg.PollTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		b, err := tele.NewBot(tele.Settings{
			Token:  g.cfg.Token,
			Poller: &tele.LongPoller{Timeout: timeout},
			OnError: func(err error, c tele.Context) {
				g.log.Warn("telegram handler error", logx.Err(err))
			},
		})
		if err != nil {
			return fmt.Errorf("telegram connect: %w", err)
		}
		g.bot = b
		g.registerHandlers()
		g.log.Info("telegram bot connected", logx.String("username", b.Me.Username))
	}

	if receive && !g.polling {
		sup := rtsup.New(context.Background(), rtsup.WithLogger(g.log))
		bot := g.bot
		sup.Go0("telegram.poll", func(ctx context.Context) {
			go func() {
				<-ctx.Done()
				bot.Stop()
			}()
			g.log.Info("polling started")
			bot.Start()
		})
		g.sup = sup
		g.polling = true
	}
	return nil
}

func (g *Gateway) registerHandlers() {
	g.bot.Handle("/start", func(c tele.Context) error {
		chat := c.Chat()
		if chat == nil || g.handler == nil {
			return nil
		}
		code, err := g.handler.OnIncomingStart(context.Background(), strconv.FormatInt(chat.ID, 10))
		if err != nil {
			g.log.Error("issue connection code failed", logx.Int64("chat_id", chat.ID), logx.Err(err))
			return c.Send("Sorry, a connection code could not be created. Please try again later.")
		}
		return c.Send(fmt.Sprintf("Your connection code is %s\nEnter it together with chat ID %d in the field report app to receive reminders here.", code, chat.ID))
	})

	g.bot.Handle(tele.OnText, func(c tele.Context) error {
		chat := c.Chat()
		if chat == nil || g.handler == nil {
			return nil
		}
		return g.handler.OnIncomingMessage(context.Background(), strconv.FormatInt(chat.ID, 10), c.Text())
	})
}

// Send delivers text to a numeric chat id, split into Telegram-sized chunks.
func (g *Gateway) Send(ctx context.Context, address, text string) error {
	chatID, err := strconv.ParseInt(strings.TrimSpace(address), 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat id %q", address)
	}
	return g.sendChat(ctx, chatID, text)
}

// SendLog implements logx.Sender for the operator log sink.
func (g *Gateway) SendLog(ctx context.Context, chatID int64, text string) error {
	return g.sendChat(ctx, chatID, text)
}

func (g *Gateway) sendChat(ctx context.Context, chatID int64, text string) error {
	g.mu.Lock()
	bot := g.bot
	g.mu.Unlock()
	if bot == nil {
		return ErrNotInitialized
	}

	chat := &tele.Chat{ID: chatID}
	for _, chunk := range splitTelegramText(text, telegramTextLimit) {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
		if _, err := bot.Send(chat, chunk); err != nil {
			return err
		}
	}
	return nil
}

// Stop ends long polling. It never blocks shutdown for more than a short
// grace window because getUpdates may still be waiting.
func (g *Gateway) Stop(ctx context.Context) error {
	g.mu.Lock()
	sup := g.sup
	g.sup = nil
	g.polling = false
	g.mu.Unlock()

	if sup == nil {
		return nil
	}
	sup.Cancel()

	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		g.log.Warn("telegram stop timed out", logx.Err(err))
		return nil
	}
	g.log.Info("polling stopped")
	return nil
}

const telegramTextLimit = 4000

// splitTelegramText splits long messages into chunks Telegram accepts,
// preferring newline boundaries.
func splitTelegramText(s string, limit int) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				// Avoid extremely small chunks.
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
