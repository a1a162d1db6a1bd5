package relay

import (
	"fmt"
	"math/big"

	"github.com/tipdrop/tipdrop/pkg/chain"
)

const (
	anonymousName = "Anonymous"
	noMessageText = "No message"
)

// FormatAmount renders an amount in the token's smallest unit as a display
// value with fixed two-decimal precision, truncating anything smaller.
func FormatAmount(amount *big.Int, decimals int) string {
	if amount == nil {
		return "0.00"
	}

	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole, frac := new(big.Int).DivMod(new(big.Int).Set(amount), unit, new(big.Int))
	cents := new(big.Int).Div(new(big.Int).Mul(frac, big.NewInt(100)), unit)

	return fmt.Sprintf("%s.%02d", whole.String(), cents.Int64())
}

// FormatNotification renders the chat message for one donation. Markdown
// syntax is kept to what every supported gateway renders.
func FormatNotification(ev chain.DonationEvent, decimals int, symbol, dashboardURL string) string {
	name := ev.Name
	if name == "" {
		name = anonymousName
	}
	message := ev.Message
	if message == "" {
		message = noMessageText
	}

	return fmt.Sprintf(
		"🎉 *New donation received!*\n\n"+
			"💰 Amount: %s %s\n"+
			"👤 From: %s\n"+
			"💬 Message: %s\n\n"+
			"[Open dashboard](%s)",
		FormatAmount(ev.Amount, decimals), symbol, name, message, dashboardURL,
	)
}
