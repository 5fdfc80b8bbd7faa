// Package transcript holds the transcription-validity filter. The filter is
// deliberately conservative: a false accept pollutes a transcript that is
// later fed verbatim into the summarization prompt, while a false reject
// costs at most one borderline line.
package transcript

import (
	"regexp"
	"strings"
)

const (
	minLength       = 3
	minWords        = 2
	maxFillerRatio  = 0.7
	minVowelRatio   = 0.15
	charRunLimit    = 5
	speakerLabel    = "Speaker"
)

// SpeakerLabel is the single placeholder used absent true diarization.
func SpeakerLabel() string { return speakerLabel }

var noisePatterns = []*regexp.Regexp{
	// Punctuation/whitespace only.
	regexp.MustCompile(`^[\s.,\-_]*$`),
	// Filler words only.
	regexp.MustCompile(`(?i)^(uh|um|hmm|ah|eh|oh)+[\s.,]*$`),
	// No alphanumeric content at all.
	regexp.MustCompile(`^[^a-zA-Z0-9]*$`),
	// Runs of bare common words, a frequent decode artifact for noise input.
	regexp.MustCompile(`(?i)^((you|the|a|and|to|of|in|that|it|is|for|on|with|as|be)[\s.,]*)+$`),
	// Short words repeated three or more times.
	regexp.MustCompile(`^(\w{1,2}\s*){3,}$`),
	// One-off acknowledgement phrases.
	regexp.MustCompile(`(?i)^(thank you|thanks|bye|okay|ok|yes|yeah|no|mm|mhm)[\s.,!]*$`),
	// System-sound artifacts.
	regexp.MustCompile(`(?i)^(music|sound|noise|audio|background|click|pop|beep|ding|notification)[\s.,]*$`),
}

var fillerWords = regexp.MustCompile(`(?i)\b(um|uh|ah|eh|oh|hmm|mm|mhm|like|you know|so|well|actually)\b`)

var vowels = "aeiouAEIOU"

// IsValid reports whether text is worth appending to the transcript.
func IsValid(text string) bool {
	text = strings.TrimSpace(text)
	if len(text) < minLength {
		return false
	}

	for _, pattern := range noisePatterns {
		if pattern.MatchString(text) {
			return false
		}
	}
	if hasCharRun(text, charRunLimit) {
		return false
	}
	if isSingleRepeatedLetter(text) {
		return false
	}

	words := strings.Fields(text)
	if len(words) < minWords {
		return false
	}

	fillerMatches := fillerWords.FindAllString(text, -1)
	if float64(len(fillerMatches))/float64(len(words)) > maxFillerRatio {
		return false
	}

	vowelCount := 0
	for _, r := range text {
		if strings.ContainsRune(vowels, r) {
			vowelCount++
		}
	}
	if float64(vowelCount)/float64(len(text)) < minVowelRatio {
		return false
	}

	return true
}

// hasCharRun reports n or more identical consecutive characters anywhere.
func hasCharRun(s string, n int) bool {
	var prev rune
	run := 0
	for _, r := range s {
		if r == prev {
			run++
			if run >= n {
				return true
			}
		} else {
			prev = r
			run = 1
		}
	}
	return false
}

// isSingleRepeatedLetter matches strings like "aaa." or "b b b" collapsed to
// one distinct letter once separators are stripped.
func isSingleRepeatedLetter(s string) bool {
	var letter rune
	seen := false
	for _, r := range strings.ToLower(s) {
		if strings.ContainsRune(" .,-_\t", r) {
			continue
		}
		if r < 'a' || r > 'z' {
			return false
		}
		if !seen {
			letter = r
			seen = true
			continue
		}
		if r != letter {
			return false
		}
	}
	return seen
}
