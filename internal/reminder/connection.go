package reminder

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"fieldreport/internal/eventbus"
	logx "fieldreport/pkg/logx"
)

const (
	DefaultConnectionTTL = 10 * time.Minute
	EventConnected       = "connection.bound"
	codeDigits           = 6
)

// Invalidator drops a cached directory entry after a new binding.
type Invalidator interface {
	Invalidate(ctx context.Context, staffName string) error
}

// Connections runs the messaging handshake: a chat asks for a code, the
// staff member enters it in the web app, and the chat gets bound to the
// staff name. It also serves as the staff Directory.
type Connections struct {
	store ConnectionStore
	ttl   time.Duration
	log   logx.Logger
	now   func() time.Time
	rand  io.Reader
	bus   eventbus.Bus
	inv   Invalidator
}

type ConnectionOption func(*Connections)

func WithConnectionClock(now func() time.Time) ConnectionOption {
	return func(c *Connections) {
		if now != nil {
			c.now = now
		}
	}
}

func WithConnectionEvents(bus eventbus.Bus) ConnectionOption {
	return func(c *Connections) { c.bus = bus }
}

func WithInvalidator(inv Invalidator) ConnectionOption {
	return func(c *Connections) { c.inv = inv }
}

func NewConnections(store ConnectionStore, ttl time.Duration, log logx.Logger, opts ...ConnectionOption) *Connections {
	if ttl <= 0 {
		ttl = DefaultConnectionTTL
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Connections{
		store: store,
		ttl:   ttl,
		log:   log.With(logx.String("comp", "reminder.connections")),
		now:   time.Now,
		rand:  rand.Reader,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// OnIncomingStart issues a fresh code for address, replacing any previous one.
func (c *Connections) OnIncomingStart(ctx context.Context, address string) (string, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", fmt.Errorf("%w: empty address", ErrInvalidInput)
	}
	code, err := c.newCode()
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	now := c.now()
	pc := PendingConnection{ChatID: address, Code: code, CreatedAt: now, ExpiresAt: now.Add(c.ttl)}
	if err := c.store.PutPending(ctx, pc); err != nil {
		return "", fmt.Errorf("store pending connection: %w", err)
	}
	c.log.Info("connection code issued", logx.String("chat_id", address), logx.Time("expires_at", pc.ExpiresAt))
	return code, nil
}

// OnIncomingMessage records chat traffic that is not part of the handshake.
func (c *Connections) OnIncomingMessage(ctx context.Context, address, text string) error {
	c.log.Debug("incoming message ignored", logx.String("chat_id", address), logx.Int("len", len(text)))
	return nil
}

// VerifyConnectionCode consumes the pending row for address when code matches
// and has not expired. An expired row is deleted on the spot.
func (c *Connections) VerifyConnectionCode(ctx context.Context, address, code string) (bool, error) {
	address = strings.TrimSpace(address)
	code = strings.TrimSpace(code)
	pc, ok, err := c.store.GetPending(ctx, address)
	if err != nil {
		return false, fmt.Errorf("load pending connection: %w", err)
	}
	if !ok {
		return false, nil
	}
	if pc.Expired(c.now()) {
		if err := c.store.DeletePending(ctx, address); err != nil {
			return false, fmt.Errorf("delete expired connection: %w", err)
		}
		c.log.Info("connection code expired", logx.String("chat_id", address))
		return false, nil
	}
	if subtle.ConstantTimeCompare([]byte(pc.Code), []byte(code)) != 1 {
		return false, nil
	}
	if err := c.store.DeletePending(ctx, address); err != nil {
		return false, fmt.Errorf("consume connection: %w", err)
	}
	return true, nil
}

// Connect verifies code and binds staffName to address on success.
func (c *Connections) Connect(ctx context.Context, staffName, address, code string) (bool, error) {
	staffName = strings.TrimSpace(staffName)
	if staffName == "" || strings.TrimSpace(address) == "" || strings.TrimSpace(code) == "" {
		return false, fmt.Errorf("%w: staffName, chatId and code are required", ErrInvalidInput)
	}
	ok, err := c.VerifyConnectionCode(ctx, address, code)
	if err != nil || !ok {
		return false, err
	}
	address = strings.TrimSpace(address)
	if err := c.store.BindStaff(ctx, staffName, address); err != nil {
		return false, fmt.Errorf("bind staff: %w", err)
	}
	if c.inv != nil {
		if err := c.inv.Invalidate(ctx, staffName); err != nil {
			c.log.Warn("directory cache invalidate failed", logx.String("staff", staffName), logx.Err(err))
		}
	}
	c.log.Info("staff connected", logx.String("staff", staffName), logx.String("chat_id", address))
	if c.bus != nil {
		c.bus.Publish(eventbus.Event{Type: EventConnected, Data: map[string]string{"staffName": staffName, "chatId": address}})
	}
	return true, nil
}

// Lookup implements Directory over the stored bindings.
func (c *Connections) Lookup(ctx context.Context, staffName string) (string, bool, error) {
	return c.store.LookupStaff(ctx, strings.TrimSpace(staffName))
}

func (c *Connections) CleanupExpired(ctx context.Context) (int64, error) {
	return c.store.DeleteExpiredPending(ctx, c.now())
}

func (c *Connections) newCode() (string, error) {
	max := big.NewInt(1_000_000)
	n, err := rand.Int(c.rand, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}
