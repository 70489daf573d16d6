package pairing

import (
	"fmt"
	"strings"
)

// ConfirmationMessage is the second message sent to a freshly linked account.
func ConfirmationMessage(brand string) string {
	brand = strings.TrimSpace(brand)
	if brand == "" {
		brand = "WHIZ-MD"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "✅ Pairing successful with %s\n", brand)
	b.WriteString("╔════════════════════════════╗\n")
	b.WriteString("║ 🔗 Repo   : github.com/whizmburu/WHIZ-MD\n")
	b.WriteString("║ 💡 Tip    : Use .menu to explore features\n")
	b.WriteString("║ 💻 Status : Connected & Running\n")
	b.WriteString("╚════════════════════════════╝\n")
	b.WriteString("Keep the session id above private. It grants full access to this account.")
	return b.String()
}
