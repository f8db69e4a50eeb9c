package textops

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// All POST payloads require text of at least 10 characters after
// trimming. Optional fields fall back to their documented defaults
// before validation runs, so a zero value and an omitted field behave
// the same except where the zero is meaningful (hashtag count, phrase
// toggle), which use pointers.

// SummarizeRequest is the POST /api/v1/summarize payload.
type SummarizeRequest struct {
	Text      string `json:"text"`
	Mode      string `json:"mode"`
	MaxLength int    `json:"max_length"`
	Tone      string `json:"tone"`
}

func (r *SummarizeRequest) applyDefaults() {
	r.Text = strings.TrimSpace(r.Text)
	if r.Mode == "" {
		r.Mode = ModeExtractive
	}
	if r.MaxLength == 0 {
		r.MaxLength = 150
	}
	if r.Tone == "" {
		r.Tone = ToneProfessional
	}
}

func (r *SummarizeRequest) validate() map[string]string {
	fields := map[string]string{}
	checkText(fields, r.Text)
	if !oneOf(r.Mode, ModeExtractive, ModeAbstractive, ModeHybrid) {
		fields["mode"] = badChoice(r.Mode)
	}
	if r.MaxLength < 50 || r.MaxLength > 500 {
		fields["max_length"] = "Ensure this value is between 50 and 500."
	}
	if !oneOf(r.Tone, ToneProfessional, ToneCasual, ToneTechnical) {
		fields["tone"] = badChoice(r.Tone)
	}
	return fields
}

// CharCount is the metered size of the request.
func (r *SummarizeRequest) CharCount() int64 {
	return int64(utf8.RuneCountInString(r.Text))
}

// SEODescriptionRequest is the POST /api/v1/seo_description payload.
type SEODescriptionRequest struct {
	Text      string   `json:"text"`
	MaxLength int      `json:"max_length"`
	Keywords  []string `json:"include_keywords"`
}

func (r *SEODescriptionRequest) applyDefaults() {
	r.Text = strings.TrimSpace(r.Text)
	if r.MaxLength == 0 {
		r.MaxLength = 155
	}
}

func (r *SEODescriptionRequest) validate() map[string]string {
	fields := map[string]string{}
	checkText(fields, r.Text)
	if r.MaxLength < 120 || r.MaxLength > 160 {
		fields["max_length"] = "Ensure this value is between 120 and 160."
	}
	return fields
}

func (r *SEODescriptionRequest) CharCount() int64 {
	return int64(utf8.RuneCountInString(r.Text))
}

// SocialCaptionRequest is the POST /api/v1/social_caption payload.
// IncludeHashtags is a pointer because an explicit zero means "no
// hashtags" while an omitted field means the default of three.
type SocialCaptionRequest struct {
	Text            string `json:"text"`
	Platform        string `json:"platform"`
	Tone            string `json:"tone"`
	IncludeEmojis   bool   `json:"include_emojis"`
	IncludeHashtags *int   `json:"include_hashtags"`
}

func (r *SocialCaptionRequest) applyDefaults() {
	r.Text = strings.TrimSpace(r.Text)
	if r.Tone == "" {
		r.Tone = ToneEngaging
	}
	if r.IncludeHashtags == nil {
		three := 3
		r.IncludeHashtags = &three
	}
}

func (r *SocialCaptionRequest) validate() map[string]string {
	fields := map[string]string{}
	checkText(fields, r.Text)
	if r.Platform == "" {
		fields["platform"] = "This field is required."
	} else if !oneOf(r.Platform, PlatformTwitter, PlatformLinkedIn, PlatformFacebook, PlatformInstagram) {
		fields["platform"] = badChoice(r.Platform)
	}
	if !oneOf(r.Tone, ToneEngaging, ToneProfessional, ToneCasual, TonePromotional) {
		fields["tone"] = badChoice(r.Tone)
	}
	if n := *r.IncludeHashtags; n < 0 || n > 10 {
		fields["include_hashtags"] = "Ensure this value is between 0 and 10."
	}
	return fields
}

func (r *SocialCaptionRequest) CharCount() int64 {
	return int64(utf8.RuneCountInString(r.Text))
}

// KeywordsRequest is the POST /api/v1/keywords payload. IncludePhrases
// defaults to true, so it is a pointer to keep an explicit false.
type KeywordsRequest struct {
	Text           string `json:"text"`
	Count          int    `json:"count"`
	IncludePhrases *bool  `json:"include_phrases"`
}

func (r *KeywordsRequest) applyDefaults() {
	r.Text = strings.TrimSpace(r.Text)
	if r.Count == 0 {
		r.Count = 10
	}
	if r.IncludePhrases == nil {
		yes := true
		r.IncludePhrases = &yes
	}
}

func (r *KeywordsRequest) validate() map[string]string {
	fields := map[string]string{}
	checkText(fields, r.Text)
	if r.Count < 1 || r.Count > 20 {
		fields["count"] = "Ensure this value is between 1 and 20."
	}
	return fields
}

func (r *KeywordsRequest) CharCount() int64 {
	return int64(utf8.RuneCountInString(r.Text))
}

func checkText(fields map[string]string, text string) {
	switch {
	case text == "":
		fields["text"] = "This field is required."
	case utf8.RuneCountInString(text) < 10:
		fields["text"] = "Ensure this field has at least 10 characters."
	}
}

func oneOf(v string, choices ...string) bool {
	for _, c := range choices {
		if v == c {
			return true
		}
	}
	return false
}

func badChoice(v string) string {
	return fmt.Sprintf("%q is not a valid choice.", v)
}
