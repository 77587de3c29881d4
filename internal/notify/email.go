package notify

import (
	"fmt"
	"log"
	"net/smtp"
	"strings"

	"github.com/example/storefront/internal/cart"
)

// EmailService sends the purchase confirmation mail via SMTP. It is called
// after a confirmed purchase only, and failures are logged, never surfaced
// to the checkout flow.
type EmailService struct {
	host string
	port string
	from string
}

func NewEmailService(host, port, from string) *EmailService {
	return &EmailService{host: host, port: port, from: from}
}

// SendPurchaseConfirmation mails the receipt for a completed purchase.
func (s *EmailService) SendPurchaseConfirmation(to, purchaseID string, total float64, items []cart.LineItem) error {
	subject := fmt.Sprintf("Order confirmation #%s", purchaseID)
	body := buildConfirmationBody(purchaseID, total, items)

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s",
		s.from, to, subject, body)
	addr := fmt.Sprintf("%s:%s", s.host, s.port)
	return smtp.SendMail(addr, nil, s.from, []string{to}, []byte(msg))
}

// TrySendPurchaseConfirmation is the best-effort variant used by checkout.
func (s *EmailService) TrySendPurchaseConfirmation(to, purchaseID string, total float64, items []cart.LineItem) {
	if to == "" {
		return
	}
	if err := s.SendPurchaseConfirmation(to, purchaseID, total, items); err != nil {
		log.Printf("[Notify] Failed to send confirmation for purchase %s: %v", purchaseID, err)
	}
}

func buildConfirmationBody(purchaseID string, total float64, items []cart.LineItem) string {
	var rows strings.Builder
	for _, item := range items {
		name := item.Name
		if name == "" {
			name = item.ProductID
		}
		rows.WriteString(fmt.Sprintf(
			`<tr><td style="padding:8px;border-bottom:1px solid #eee;">%s</td>`+
				`<td style="padding:8px;border-bottom:1px solid #eee;text-align:center;">%d</td>`+
				`<td style="padding:8px;border-bottom:1px solid #eee;text-align:right;">$%.2f</td></tr>`,
			name, item.Quantity, item.EffectivePrice()*float64(item.Quantity),
		))
	}

	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family:sans-serif;color:#333;max-width:600px;margin:0 auto;padding:20px;">
	<h1 style="font-size:20px;">Thank you for your order</h1>
	<p>Order number: <strong style="font-family:monospace;">%s</strong></p>
	<table style="width:100%%;border-collapse:collapse;margin:16px 0;">
		<thead>
			<tr>
				<th style="padding:8px;text-align:left;border-bottom:2px solid #333;">Item</th>
				<th style="padding:8px;text-align:center;border-bottom:2px solid #333;">Qty</th>
				<th style="padding:8px;text-align:right;border-bottom:2px solid #333;">Subtotal</th>
			</tr>
		</thead>
		<tbody>%s</tbody>
	</table>
	<p style="font-size:18px;text-align:right;"><strong>Total: $%.2f</strong></p>
</body>
</html>`, purchaseID, rows.String(), total)
}
