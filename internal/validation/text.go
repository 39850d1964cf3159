package validation

import (
	"regexp"
)

var (
	scriptBlock = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	iframeBlock = regexp.MustCompile(`(?is)<iframe[^>]*>.*?</iframe>`)
)

// SanitizeText truncates text to maxRunes characters and strips script and
// iframe blocks.
func SanitizeText(text string, maxRunes int) string {
	if text == "" {
		return ""
	}

	if maxRunes > 0 {
		n := 0
		for i := range text {
			if n == maxRunes {
				text = text[:i]
				break
			}
			n++
		}
	}

	text = scriptBlock.ReplaceAllString(text, "")
	text = iframeBlock.ReplaceAllString(text, "")

	return text
}
