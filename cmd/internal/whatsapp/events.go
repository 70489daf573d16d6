package whatsapp

import (
	"fmt"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/Whizmburu/Whiz-qr/cmd/internal/pairing"
)

// translate maps a client event to a pairing event. self is the device JID
// known to the store at the time of the event.
func translate(evt any, self *types.JID) (pairing.Event, bool) {
	switch e := evt.(type) {
	case *events.Connected:
		identity := ""
		if self != nil {
			identity = self.ToNonAD().String()
		}
		return pairing.LinkOpened{Identity: identity}, true
	case *events.LoggedOut:
		return pairing.LinkClosed{Reason: fmt.Sprintf("logged out (%v)", e.Reason), Recoverable: false}, true
	case *events.ClientOutdated:
		return pairing.LinkClosed{Reason: "client outdated", Recoverable: false}, true
	case *events.TemporaryBan:
		return pairing.LinkClosed{Reason: "temporary ban", Recoverable: false}, true
	case *events.StreamReplaced:
		return pairing.LinkClosed{Reason: "stream replaced", Recoverable: true}, true
	case *events.Disconnected:
		return pairing.LinkClosed{Reason: "connection closed", Recoverable: true}, true
	case *events.PairError:
		return pairing.LinkClosed{Reason: fmt.Sprintf("pair error: %v", e.Error), Recoverable: true}, true
	default:
		return nil, false
	}
}

// qrOutcome maps a terminal QR channel item to a close event. Codes and
// success are handled by the caller.
func qrOutcome(item whatsmeow.QRChannelItem) pairing.LinkClosed {
	switch item.Event {
	case "timeout":
		return pairing.LinkClosed{Reason: "qr timeout", Recoverable: true}
	case "error":
		if item.Error != nil {
			return pairing.LinkClosed{Reason: "qr error: " + item.Error.Error(), Recoverable: true}
		}
		return pairing.LinkClosed{Reason: "qr error", Recoverable: true}
	default:
		return pairing.LinkClosed{Reason: "qr " + item.Event, Recoverable: true}
	}
}
