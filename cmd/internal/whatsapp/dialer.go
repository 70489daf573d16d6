package whatsapp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"

	"github.com/Whizmburu/Whiz-qr/cmd/internal/pairing"
)

const defaultClientName = "Chrome (Linux)"

// Dialer starts one whatsmeow client per pairing attempt.
type Dialer struct {
	log        *slog.Logger
	clientName string
}

// Option configures a Dialer.
type Option func(*Dialer)

// WithClientName sets the browser label shown on the phone for phone-code pairing.
func WithClientName(name string) Option {
	return func(d *Dialer) {
		if strings.TrimSpace(name) != "" {
			d.clientName = name
		}
	}
}

var osNameOnce sync.Once

// NewDialer constructs a Dialer. deviceName, when set, is the name linked
// devices show on the phone.
func NewDialer(log *slog.Logger, deviceName string, opts ...Option) *Dialer {
	if log == nil {
		log = slog.Default()
	}
	if deviceName != "" {
		osNameOnce.Do(func() { store.DeviceProps.Os = proto.String(deviceName) })
	}
	d := &Dialer{log: log, clientName: defaultClientName}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

var _ pairing.Dialer = (*Dialer)(nil)

// Dial opens the attempt's device store, connects, and forwards pairing
// events to emit until the connection is disconnected.
func (d *Dialer) Dial(ctx context.Context, attemptID, dir string, opts pairing.DialOptions, emit func(pairing.Event)) (pairing.Conn, error) {
	log := d.log.With("attempt_id", attemptID)

	container, db, err := openStore(ctx, dir, log)
	if err != nil {
		return nil, err
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("device: %w", err)
	}

	client := whatsmeow.NewClient(device, newLogger(log, "client"))
	cctx, cancel := context.WithCancel(ctx)
	c := &conn{log: log, client: client, db: db, cancel: cancel}

	client.AddEventHandler(func(evt any) {
		ev, ok := translate(evt, client.Store.ID)
		if !ok {
			return
		}
		if _, linked := ev.(pairing.LinkOpened); linked && !c.markLinked() {
			return
		}
		emit(ev)
	})

	qr, err := client.GetQRChannel(cctx)
	if err != nil {
		c.Disconnect()
		return nil, fmt.Errorf("qr channel: %w", err)
	}
	if err := client.Connect(); err != nil {
		c.Disconnect()
		return nil, fmt.Errorf("connect: %w", err)
	}

	go c.pumpCodes(cctx, qr, opts.PhoneNumber, d.clientName, emit)
	return c, nil
}

type conn struct {
	log    *slog.Logger
	client *whatsmeow.Client
	db     *sql.DB
	cancel context.CancelFunc

	mu     sync.Mutex
	linked bool
	closed bool
}

// markLinked reports whether this is the first link notification.
func (c *conn) markLinked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.linked {
		return false
	}
	c.linked = true
	return true
}

// pumpCodes forwards QR codes, or requests a phone pairing code once the
// first QR arrives when a phone number was given.
func (c *conn) pumpCodes(ctx context.Context, qr <-chan whatsmeow.QRChannelItem, phone, clientName string, emit func(pairing.Event)) {
	requested := false
	for item := range qr {
		switch item.Event {
		case "code":
			if phone == "" {
				emit(pairing.CodeAvailable{Code: item.Code})
				continue
			}
			if requested {
				continue
			}
			requested = true
			code, err := c.client.PairPhone(ctx, phone, true, whatsmeow.PairClientChrome, clientName)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				c.log.Warn("whatsapp.pair_phone.fail", "err", err)
				emit(pairing.LinkClosed{Reason: "pair phone: " + err.Error(), Recoverable: true})
				return
			}
			emit(pairing.CodeAvailable{Code: code})
		case "success":
			return
		default:
			if ctx.Err() != nil {
				return
			}
			emit(qrOutcome(item))
			return
		}
	}
}

// SendText sends a plain conversation message to identity.
func (c *conn) SendText(ctx context.Context, identity, text string) error {
	jid, err := types.ParseJID(identity)
	if err != nil {
		return fmt.Errorf("parse jid: %w", err)
	}
	_, err = c.client.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(text)})
	return err
}

// Disconnect closes the socket and the device store. Safe to call twice.
func (c *conn) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.client.Disconnect()
	if err := c.db.Close(); err != nil {
		c.log.Warn("whatsapp.store.close.fail", "err", err)
	}
}
