package assistant

import "strings"

type cannedRule struct {
	keywords []string
	reply    string
}

var cannedRules = []cannedRule{
	{[]string{"hello", "hi", "hey"}, "Hello! How can I help you today?"},
	{[]string{"help", "support"}, "I'm here to help! Could you please tell me more about what you need assistance with?"},
	{[]string{"price", "cost", "pricing"}, "Our pricing depends on the specific services you're interested in. Would you like me to provide our standard pricing packages, or do you have a specific service in mind?"},
	{[]string{"contact", "email", "phone"}, "You can reach our team via email at customersupport@softaidev.com or by phone at 360-972-1924. Is there something specific you'd like us to help you with?"},
	{[]string{"thank"}, "You're welcome! Is there anything else I can help you with today?"},
}

const cannedFallback = "Thank you for your message. One of our support representatives will review your question and get back to you shortly. Is there anything else you'd like to know in the meantime?"

// CannedReply picks the first rule with a keyword at the start of a word in
// message. Two-letter keywords must match the whole word.
func CannedReply(message string) string {
	words := strings.FieldsFunc(strings.ToLower(message), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '\'')
	})
	for _, rule := range cannedRules {
		for _, kw := range rule.keywords {
			for _, w := range words {
				if strings.HasPrefix(w, kw) && (len(kw) > 2 || w == kw) {
					return rule.reply
				}
			}
		}
	}
	return cannedFallback
}
