package templates

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
)

// Renderer renders the HTML email bodies. Templates are parsed once with
// strict missing-key semantics.
type Renderer struct {
	set *template.Template
}

const layoutHTML = `<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <div style="background: linear-gradient(90deg, #1a237e 0%, #3949ab 100%); color: white; padding: 20px; text-align: center;">
    <h2>SoftAIDev</h2>
    <p>Software Consulting &amp; Solutions</p>
  </div>
  <div style="padding: 20px; background: #f9f9f9;">
    <div style="background: white; padding: 20px; border-radius: 8px; box-shadow: 0 2px 8px rgba(0,0,0,0.1);">
      {{.Body}}
    </div>
  </div>
  <div style="background: #1a237e; color: white; padding: 15px; text-align: center; font-size: 0.9rem;">
    <p>SoftAIDev - Expert Software Consulting</p>
    <p>customersupport@softaidev.com | 360-972-1924</p>
    <p><a href="https://softaidev.github.io" style="color: #ffd600;">softaidev.github.io</a></p>
  </div>
</div>`

const forwardHTML = `<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <div style="background: #ff9800; color: white; padding: 15px;">
    <h3>Virtual Assistant Email Forward</h3>
    <p><strong>Original Recipient:</strong> {{.OriginalRecipient}}</p>
    <p><strong>Timestamp:</strong> {{.Timestamp}}</p>
  </div>
  <div style="padding: 20px; background: #f9f9f9;">
    <div style="background: white; padding: 20px; border-radius: 8px;">
      <h4>Subject: {{.Subject}}</h4>
      <hr>
      {{.Body}}
    </div>
  </div>
</div>`

const orderHTML = `<h2>Thank you for your order, {{.CustomerName}}!</h2>
<p>Your order #{{.OrderID}} has been confirmed.</p>

<h3>Order Details:</h3>
<p><strong>Product:</strong> {{.AppName}}</p>
<p><strong>Order Number:</strong> {{.OrderID}}</p>
<p><strong>Purchase Date:</strong> {{.PurchaseDate}}</p>
<p><strong>Amount:</strong> {{.Amount}}</p>

<h3>Download Instructions:</h3>
<p>Click the button below to download your purchase. This link will expire in {{.ExpiresInDays}} days.</p>
<a href="{{.DownloadURL}}" style="display: inline-block; padding: 12px 24px; background: #4CAF50; color: white; text-decoration: none; border-radius: 4px; margin: 10px 0;">
  Download {{.AppName}}
</a>

<p>If you have any questions about your order, please reply to this email or contact our support team.</p>

<p>Thank you for your business!</p>
<p>The SoftAIDev Team</p>`

// ForwardData fills the support-inbox forward template.
type ForwardData struct {
	OriginalRecipient string
	Timestamp         string
	Subject           string
	Body              string
}

// OrderData fills the order confirmation template.
type OrderData struct {
	CustomerName  string
	OrderID       string
	AppName       string
	PurchaseDate  string
	Amount        string
	DownloadURL   string
	ExpiresInDays int
}

// NewRenderer parses the built-in email templates.
func NewRenderer() (*Renderer, error) {
	set := template.New("email").Option("missingkey=error")
	for name, text := range map[string]string{
		"layout":  layoutHTML,
		"forward": forwardHTML,
		"order":   orderHTML,
	} {
		if _, err := set.New(name).Parse(text); err != nil {
			return nil, fmt.Errorf("templates: parse %s: %w", name, err)
		}
	}
	return &Renderer{set: set}, nil
}

// MustNewRenderer is NewRenderer for package-level wiring.
func MustNewRenderer() *Renderer {
	r, err := NewRenderer()
	if err != nil {
		panic(err)
	}
	return r
}

// Layout wraps a plain-text body in the branded HTML layout.
func (r *Renderer) Layout(body string) (string, error) {
	return r.execute("layout", map[string]any{"Body": TextToHTML(body)})
}

// Forward renders the copy sent to the support inbox.
func (r *Renderer) Forward(data ForwardData) (string, error) {
	return r.execute("forward", map[string]any{
		"OriginalRecipient": data.OriginalRecipient,
		"Timestamp":         data.Timestamp,
		"Subject":           data.Subject,
		"Body":              TextToHTML(data.Body),
	})
}

// OrderConfirmation renders the purchase confirmation body.
func (r *Renderer) OrderConfirmation(data OrderData) (string, error) {
	if data.DownloadURL == "" {
		return "", fmt.Errorf("templates: download url required")
	}
	return r.execute("order", data)
}

// Render compiles ad-hoc template text with the same strict semantics.
func (r *Renderer) Render(name, tmpl string, data any) (string, error) {
	if tmpl == "" {
		return "", fmt.Errorf("templates: template text required")
	}
	t, err := template.New(name).Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("templates: parse: %w", err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("templates: execute: %w", err)
	}
	return buf.String(), nil
}

func (r *Renderer) execute(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := r.set.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("templates: execute %s: %w", name, err)
	}
	return buf.String(), nil
}

// TextToHTML escapes plain text and turns newlines into <br>.
func TextToHTML(text string) template.HTML {
	escaped := template.HTMLEscapeString(strings.ReplaceAll(text, "\r\n", "\n"))
	return template.HTML(strings.ReplaceAll(escaped, "\n", "<br>"))
}
