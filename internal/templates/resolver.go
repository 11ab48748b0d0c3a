package templates

import "strings"

// Category selects an auto-reply template.
type Category string

const (
	CategoryGeneral   Category = "general"
	CategoryTechnical Category = "technical"
	CategorySales     Category = "sales"
)

// DefaultRecipientName is used when the customer's name is unknown.
const DefaultRecipientName = "Valued Customer"

// ParseCategory maps free text onto a known category, falling back to general.
func ParseCategory(s string) Category {
	switch c := Category(strings.ToLower(strings.TrimSpace(s))); c {
	case CategoryTechnical, CategorySales:
		return c
	default:
		return CategoryGeneral
	}
}

// Template is a resolved auto-reply.
type Template struct {
	Subject string
	Body    string
}

const signature = `Email: customersupport@softaidev.com
Phone: 360-972-1924`

var autoReplies = map[Category]Template{
	CategoryGeneral: {
		Subject: "Re: Thank you for contacting SoftAIDev",
		Body: `Dear {name},

Thank you for reaching out to SoftAIDev. We have received your message and appreciate your interest in our services.

Our team will review your inquiry and respond within 24 hours during business hours (Monday-Friday, 9AM-6PM PST).

For urgent matters, please call us directly at 360-972-1924.

Best regards,
SoftAIDev Customer Support Team
` + signature + `
Website: https://softaidev.github.io`,
	},
	CategoryTechnical: {
		Subject: "Re: Technical Support Request Received",
		Body: `Dear {name},

Thank you for contacting SoftAIDev technical support. We have received your technical inquiry and our specialists are reviewing your request.

We will respond with a solution or next steps within 24 hours during business hours.

If this is an urgent technical issue affecting your business operations, please call us immediately at 360-972-1924.

Best regards,
SoftAIDev Technical Support Team
` + signature,
	},
	CategorySales: {
		Subject: "Re: Sales Inquiry - Let's Discuss Your Project",
		Body: `Dear {name},

Thank you for your interest in SoftAIDev's software development services. We're excited to learn about your project and explore how we can help bring your vision to life.

Our sales team will contact you within 24 hours to discuss:
- Your project requirements and goals
- Timeline and budget considerations
- Our development process and approach
- Next steps for moving forward

For immediate assistance, please call us at 360-972-1924 or schedule a consultation at your convenience.

Best regards,
SoftAIDev Sales Team
` + signature,
	},
}

// Resolve returns the auto-reply for category addressed to recipientName.
// Unknown categories resolve to the general template. Resolve is pure.
func Resolve(category Category, recipientName string) Template {
	t, ok := autoReplies[category]
	if !ok {
		t = autoReplies[CategoryGeneral]
	}
	name := strings.TrimSpace(recipientName)
	if name == "" {
		name = DefaultRecipientName
	}
	return Template{
		Subject: strings.ReplaceAll(t.Subject, "{name}", name),
		Body:    strings.ReplaceAll(t.Body, "{name}", name),
	}
}
