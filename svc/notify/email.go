package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/equilibra/platform/pkg/email"
	"github.com/equilibra/platform/pkg/logger"
	"github.com/equilibra/platform/svc/billing"
)

var purchaseTemplate = template.Must(template.New("purchase").Parse(`<!doctype html>
<html><body>
<p>Olá{{if .Name}}, {{.Name}}{{end}}!</p>
<p>Recebemos o pagamento de <strong>{{.Amount}}</strong> e o plano <strong>{{.Plan}}</strong> já está ativo.</p>
<p>Recursos liberados:</p>
<ul>{{range .Features}}<li>{{.}}</li>{{end}}</ul>
{{if .Coupon}}<p>Cupom aplicado: {{.Coupon}}</p>{{end}}
<p>Referência do pagamento: {{.PaymentID}}</p>
</body></html>`))

// EmailNotifier sends the purchase confirmation email to the buyer.
type EmailNotifier struct {
	sender    email.EmailSender
	directory Directory
	printer   *message.Printer
	logger    *slog.Logger
}

type EmailOption func(*EmailNotifier)

func WithLanguage(tag language.Tag) EmailOption {
	return func(n *EmailNotifier) { n.printer = message.NewPrinter(tag) }
}

func WithLogger(l *slog.Logger) EmailOption {
	return func(n *EmailNotifier) {
		if l != nil {
			n.logger = l
		}
	}
}

func NewEmailNotifier(sender email.EmailSender, dir Directory, opts ...EmailOption) *EmailNotifier {
	n := &EmailNotifier{
		sender:    sender,
		directory: dir,
		printer:   message.NewPrinter(language.BrazilianPortuguese),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *EmailNotifier) NotifyPurchase(ctx context.Context, ev billing.PurchaseEvent) error {
	to, err := n.directory.Recipient(ctx, ev.UserID)
	if errors.Is(err, ErrRecipientNotFound) {
		n.logger.WarnContext(ctx, "no profile for purchase confirmation",
			logger.Component("notify"), logger.UserID(ev.UserID))
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to load recipient: %w", err)
	}

	body, err := n.render(ev, to)
	if err != nil {
		return err
	}

	return n.sender.SendEmail(ctx, email.SendEmailParams{
		SendTo:   to.Email,
		Subject:  fmt.Sprintf("Seu plano %s está ativo", ev.PlanName),
		BodyHTML: body,
		Tag:      "purchase-confirmation",
	})
}

func (n *EmailNotifier) render(ev billing.PurchaseEvent, to *Recipient) (string, error) {
	var buf bytes.Buffer
	err := purchaseTemplate.Execute(&buf, map[string]any{
		"Name":      to.Name,
		"Amount":    n.FormatAmount(ev.AmountMinor, ev.Currency),
		"Plan":      ev.PlanName,
		"Features":  ev.Features,
		"Coupon":    ev.CouponCode,
		"PaymentID": ev.PaymentID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render purchase email: %w", err)
	}
	return buf.String(), nil
}

// FormatAmount renders minor units with the currency symbol for the
// notifier's language.
func (n *EmailNotifier) FormatAmount(minor int64, iso string) string {
	unit, err := currency.ParseISO(iso)
	if err != nil {
		return n.printer.Sprintf("%.2f %s", float64(minor)/100, iso)
	}
	return n.printer.Sprint(currency.Symbol(unit.Amount(float64(minor) / 100)))
}
