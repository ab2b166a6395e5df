package telemetry

// RedactionToken replaces every PII match in scrubbed strings.
const RedactionToken = "[REDACTED]"

// defaultPIIPatterns is the built-in pattern set. It is a data asset, not
// an algorithm: applied in this order, before any caller-supplied patterns.
//
// Order matters where patterns overlap. Card numbers go before phone
// numbers and SSNs before phone numbers so the longer shape wins on a
// string both would partially match.
var defaultPIIPatterns = []string{
	// email addresses
	`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`,
	// payment card numbers, 13-16 digits with optional separators
	`\b(?:\d[ \-]?){13,16}\b`,
	// US social security numbers
	`\b\d{3}-\d{2}-\d{4}\b`,
	// phone numbers
	`\+?\d{1,3}[ \-.]?\(?\d{2,4}\)?[ \-.]?\d{3,4}[ \-.]?\d{3,4}\b`,
	// IPv4 addresses
	`\b(?:\d{1,3}\.){3}\d{1,3}\b`,
	// bearer tokens
	`(?i)bearer\s+[a-zA-Z0-9\-._~+/]+=*`,
	// AWS access key ids
	`\bAKIA[0-9A-Z]{16}\b`,
	// key=value style secrets
	`(?i)(api[_\-]?key|secret|token|password)\s*[:=]\s*\S+`,
}
