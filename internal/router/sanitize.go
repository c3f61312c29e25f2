package router

import "regexp"

// Filtered replaces every detected injection phrase.
const Filtered = "[FILTERED]"

// injectionPatterns match instruction-override phrases only. Each pattern
// pins the full phrase so ordinary requests that share a verb ("ignore the
// rain", "kill process gracefully") pass untouched.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:ignore|disregard|forget|override)\s+(?:all\s+|any\s+)?(?:of\s+)?(?:the\s+|your\s+|my\s+)?(?:previous|prior|above|earlier|preceding|system)\s+(?:instructions?|prompts?|messages?|rules|directions)\b`),
	regexp.MustCompile(`(?i)\bforget\s+(?:all\s+|everything\s+)?(?:about\s+)?(?:your|the)\s+(?:instructions|rules|guidelines|training)\b`),
	regexp.MustCompile(`(?i)\byou\s+are\s+now\s+(?:in\s+)?(?:developer|god|jailbreak|dan|unrestricted)(?:\s+mode)?\b`),
	regexp.MustCompile(`(?i)\b(?:enter|enable|activate)\s+(?:developer|god|jailbreak|dan)\s+mode\b`),
	regexp.MustCompile(`(?i)\b(?:reveal|print|show|repeat)\s+(?:me\s+)?(?:your|the)\s+(?:system\s+prompt|hidden\s+instructions|initial\s+instructions)\b`),
	regexp.MustCompile(`(?i)\bnew\s+(?:system\s+)?instructions\s*:`),
	regexp.MustCompile(`(?i)\bsystem\s+prompt\s*:`),
	regexp.MustCompile(`(?i)\bact\s+as\s+(?:an?\s+)?(?:unrestricted|unfiltered|jailbroken)\s+(?:ai|assistant|model)\b`),
	regexp.MustCompile(`(?i)\bdo\s+anything\s+now\b`),
	regexp.MustCompile(`(?i)<\|?(?:im_start|im_end|system|endoftext)\|?>`),
}

// Sanitize replaces known prompt-injection phrases with Filtered and keeps
// the rest of the message verbatim.
func Sanitize(message string) string {
	out := message
	for _, re := range injectionPatterns {
		out = re.ReplaceAllLiteralString(out, Filtered)
	}
	return out
}

// Suspicious reports whether Sanitize would change message.
func Suspicious(message string) bool {
	for _, re := range injectionPatterns {
		if re.MatchString(message) {
			return true
		}
	}
	return false
}
