package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/softaidev/assistant-ledger/internal/ledger"
	"github.com/softaidev/assistant-ledger/internal/templates"
)

// DownloadLinker signs a time-limited download URL for a stored object.
type DownloadLinker interface {
	PresignDownload(ctx context.Context, key string) (url string, ttl time.Duration, err error)
}

// Purchase is the outcome of a completed checkout.
type Purchase struct {
	Email        string `json:"email"`
	CustomerName string `json:"customer_name"`
	OrderID      string `json:"order_id"`
	AppName      string `json:"app_name"`
	DownloadKey  string `json:"download_key"`
	PurchaseDate string `json:"purchase_date,omitempty"`
	Amount       string `json:"amount,omitempty"`
}

// Validate checks the fields the confirmation cannot do without.
func (p Purchase) Validate() error {
	if err := ledger.ValidateEmail("email", p.Email); err != nil {
		return err
	}
	for _, f := range [...]struct{ name, value string }{
		{"order_id", p.OrderID}, {"app_name", p.AppName}, {"download_key", p.DownloadKey},
	} {
		if strings.TrimSpace(f.value) == "" {
			return &ledger.ValidationError{Field: f.name, Reason: "required"}
		}
	}
	return nil
}

// SendOrderConfirmation signs a download link and emails the order confirmation.
func (d *Dispatcher) SendOrderConfirmation(ctx context.Context, p Purchase) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	if d.links == nil {
		return "", fmt.Errorf("notify: download links not configured")
	}
	url, ttl, err := d.links.PresignDownload(ctx, p.DownloadKey)
	if err != nil {
		d.logger.Error("sign download link failed", "error", err, "order_id", p.OrderID)
		return "", fmt.Errorf("notify: sign download link: %w", err)
	}

	purchaseDate := p.PurchaseDate
	if purchaseDate == "" {
		purchaseDate = d.now().UTC().Format("2006-01-02")
	}
	name := firstNonEmpty(strings.TrimSpace(p.CustomerName), templates.DefaultRecipientName)
	html, err := d.renderer.OrderConfirmation(templates.OrderData{
		CustomerName:  name,
		OrderID:       p.OrderID,
		AppName:       p.AppName,
		PurchaseDate:  purchaseDate,
		Amount:        p.Amount,
		DownloadURL:   url,
		ExpiresInDays: int(ttl.Hours() / 24),
	})
	if err != nil {
		return "", fmt.Errorf("notify: render order confirmation: %w", err)
	}

	body := fmt.Sprintf("Thank you for your order, %s!\n\nYour order #%s has been confirmed.\nProduct: %s\nDownload: %s\n\nThis link will expire in %d days.",
		name, p.OrderID, p.AppName, url, int(ttl.Hours()/24))
	id, err := d.deliver(ctx, outbound{
		to:        strings.TrimSpace(p.Email),
		from:      d.cfg.FromAddress,
		subject:   fmt.Sprintf("Your Order #%s Confirmation", p.OrderID),
		body:      body,
		html:      html,
		emailType: ledger.EmailOutgoing,
	})
	if err != nil {
		return id, err
	}
	if _, err := d.gateway.UpsertCustomer(ctx, ledger.CustomerUpsert{Email: p.Email, Name: p.CustomerName, Source: ledger.SourceEmail, Notes: "order " + p.OrderID}); err != nil {
		d.logger.Error("customer upsert after order failed", "error", err, "order_id", p.OrderID)
		return id, err
	}
	return id, nil
}
