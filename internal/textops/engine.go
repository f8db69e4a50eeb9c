// Package textops implements the metered text operations: summaries,
// SEO descriptions, social captions, and keyword extraction. The
// implementations are deterministic heuristics built on sentence
// scoring and word frequency; they return plausible strings so the
// gateway around them can be exercised end to end.
package textops

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Summarization modes.
const (
	ModeExtractive  = "extractive"
	ModeAbstractive = "abstractive"
	ModeHybrid      = "hybrid"
)

// Summary tones.
const (
	ToneProfessional = "professional"
	ToneCasual       = "casual"
	ToneTechnical    = "technical"
)

// Caption tones.
const (
	ToneEngaging    = "engaging"
	TonePromotional = "promotional"
)

// Caption platforms.
const (
	PlatformTwitter   = "twitter"
	PlatformLinkedIn  = "linkedin"
	PlatformFacebook  = "facebook"
	PlatformInstagram = "instagram"
)

// PlatformLimits are the character ceilings captions must fit.
var PlatformLimits = map[string]int{
	PlatformTwitter:   280,
	PlatformLinkedIn:  1300,
	PlatformFacebook:  500,
	PlatformInstagram: 2200,
}

var stopwords = makeStopwords()

func makeStopwords() map[string]bool {
	const list = "the a an and or but if then else when while for nor so yet " +
		"at by from in into of on onto to with about as is are was were be " +
		"been being it its this that these those they them their we our you " +
		"your i he she his her him has have had do does did will would can " +
		"could should shall may might must not no there here what which who " +
		"whom how why where all any both each few more most other some such " +
		"only own same than too very just also over under again further once"
	m := make(map[string]bool, 128)
	for _, w := range strings.Fields(list) {
		m[w] = true
	}
	return m
}

// tokenize lowercases and splits on anything that is not a letter or
// digit.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// splitSentences breaks text on terminal punctuation. Terminators are
// dropped; callers re-join with periods.
func splitSentences(text string) []string {
	parts := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// wordWeights counts content-word frequency, skipping stopwords.
func wordWeights(tokens []string) map[string]int {
	w := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		if !stopwords[tok] {
			w[tok]++
		}
	}
	return w
}

// Summary generates the requested summary. Extractive ranks sentences
// by aggregate content-word frequency and keeps the top scorers in
// their original order within the word budget; abstractive and hybrid
// dress the extractive core with a tone lead-in.
func Summary(text, mode string, maxWords int, tone string) string {
	switch mode {
	case ModeAbstractive:
		return abstractiveSummary(text, maxWords, tone)
	case ModeHybrid:
		return hybridSummary(text, maxWords)
	default:
		return extractiveSummary(text, maxWords)
	}
}

func extractiveSummary(text string, maxWords int) string {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return strings.TrimSpace(text)
	}
	weights := wordWeights(tokenize(text))

	type candidate struct {
		idx   int
		score int
		words int
	}
	ranked := make([]candidate, len(sentences))
	for i, s := range sentences {
		score := 0
		for _, tok := range tokenize(s) {
			score += weights[tok]
		}
		ranked[i] = candidate{idx: i, score: score, words: len(strings.Fields(s))}
	}
	// Stable keeps earlier sentences first on score ties.
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	picked := make([]bool, len(sentences))
	total := 0
	for _, cand := range ranked {
		if total > 0 && total+cand.words > maxWords {
			continue
		}
		picked[cand.idx] = true
		total += cand.words
	}

	var kept []string
	for i, s := range sentences {
		if picked[i] {
			kept = append(kept, s)
		}
	}
	return strings.Join(kept, ". ") + "."
}

var toneLead = map[string]string{
	ToneProfessional: "This article examines",
	ToneCasual:       "Here's the gist:",
	ToneTechnical:    "The text covers",
}

func abstractiveSummary(text string, maxWords int, tone string) string {
	lead, ok := toneLead[tone]
	if !ok {
		lead = toneLead[ToneProfessional]
	}
	core := strings.TrimSuffix(extractiveSummary(text, maxWords), ".")
	out := capWords(lead+" "+lowerFirst(core), maxWords)
	if !strings.HasSuffix(out, "...") {
		out += "."
	}
	return out
}

func hybridSummary(text string, maxWords int) string {
	budget := maxWords - 25
	if budget < 20 {
		budget = 20
	}
	core := extractiveSummary(text, budget)
	top := capWords(lowerFirst(topSentence(text)), 20)
	out := core + " In short, " + top
	if !strings.HasSuffix(out, "...") {
		out += "."
	}
	return out
}

// topSentence returns the highest scoring sentence.
func topSentence(text string) string {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return strings.TrimSpace(text)
	}
	weights := wordWeights(tokenize(text))
	best, bestScore := sentences[0], -1
	for _, s := range sentences {
		score := 0
		for _, tok := range tokenize(s) {
			score += weights[tok]
		}
		if score > bestScore {
			best, bestScore = s, score
		}
	}
	return best
}

// SEODescription builds a meta description from the leading words,
// optionally fronted by the first two keywords, truncated to maxChars.
func SEODescription(text string, maxChars int, keywords []string) string {
	words := strings.Fields(text)
	if len(words) > 24 {
		words = words[:24]
	}
	desc := strings.Join(words, " ")

	if len(keywords) > 0 {
		lead := keywords
		if len(lead) > 2 {
			lead = lead[:2]
		}
		desc = strings.Join(lead, ", ") + ": " + desc
	}
	return ellipsize(desc, maxChars)
}

// SocialCaption builds a caption from the first two sentences, fitted
// under the platform ceiling with room reserved for emojis and
// hashtags.
func SocialCaption(text, platform, tone string, includeEmojis bool, hashtagCount int) string {
	limit := PlatformLimits[platform]
	sentences := splitSentences(text)
	if len(sentences) > 2 {
		sentences = sentences[:2]
	}
	caption := clip(strings.Join(sentences, ". "), limit-50)

	if includeEmojis && (platform == PlatformTwitter || platform == PlatformInstagram) {
		emoji := "🚀"
		if tone == TonePromotional {
			emoji = "🔥"
		}
		caption = emoji + " " + caption
	}
	if hashtagCount > 0 {
		caption += " " + strings.Join(hashtagsFor(text, hashtagCount), " ")
	}
	return ellipsize(caption, limit)
}

var defaultHashtags = []string{"#ContentMarketing", "#AI", "#Productivity", "#Marketing", "#Technology"}

// hashtagsFor derives up to n tags from the text's top keywords, padded
// from the stock list when the text is too thin.
func hashtagsFor(text string, n int) []string {
	words, _ := ExtractKeywords(text, n, false)
	tags := make([]string, 0, n)
	seen := make(map[string]bool, n)
	for _, w := range words {
		tag := "#" + upperFirst(w)
		if !seen[tag] {
			tags = append(tags, tag)
			seen[tag] = true
		}
	}
	for _, tag := range defaultHashtags {
		if len(tags) >= n {
			break
		}
		if !seen[tag] {
			tags = append(tags, tag)
			seen[tag] = true
		}
	}
	if len(tags) > n {
		tags = tags[:n]
	}
	return tags
}

// ExtractKeywords returns the top content words by frequency with
// normalized scores. With includePhrases, adjacent content-word pairs
// seen at least twice compete alongside single words.
func ExtractKeywords(text string, count int, includePhrases bool) ([]string, map[string]float64) {
	tokens := tokenize(text)

	content := func(w string) bool {
		return utf8.RuneCountInString(w) > 4 && !stopwords[w]
	}

	freq := make(map[string]int)
	for _, w := range tokens {
		if content(w) {
			freq[w]++
		}
	}
	if includePhrases {
		phrases := make(map[string]int)
		for i := 0; i+1 < len(tokens); i++ {
			if content(tokens[i]) && content(tokens[i+1]) {
				phrases[tokens[i]+" "+tokens[i+1]]++
			}
		}
		for p, n := range phrases {
			if n >= 2 {
				freq[p] = n
			}
		}
	}

	type kf struct {
		word string
		n    int
	}
	ranked := make([]kf, 0, len(freq))
	for w, n := range freq {
		ranked = append(ranked, kf{w, n})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].n != ranked[j].n {
			return ranked[i].n > ranked[j].n
		}
		return ranked[i].word < ranked[j].word
	})
	if len(ranked) > count {
		ranked = ranked[:count]
	}

	keywords := make([]string, len(ranked))
	scores := make(map[string]float64, len(ranked))
	for i, k := range ranked {
		keywords[i] = k.word
		score := float64(k.n) / 10
		if score > 1 {
			score = 1
		}
		scores[k.word] = score
	}
	return keywords, scores
}

// capWords trims s to at most n words, marking the cut with an
// ellipsis.
func capWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) <= n {
		return s
	}
	return strings.Join(words[:n], " ") + "..."
}

// clip cuts s to at most n runes with no marker.
func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// ellipsize cuts s to at most n runes, marking the cut.
func ellipsize(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToLower(r)) + s[size:]
}

func upperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
