// Package fallback produces canned assistant replies when the chat service
// cannot be reached. Replies are chosen by keyword and never fail.
package fallback

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Responder maps user input to a reply. Implementations must be pure.
type Responder interface {
	Respond(input string) string
}

// Category names the kind of canned reply a rule produces.
type Category string

const (
	Welfare   Category = "welfare"
	Weather   Category = "weather"
	Greeting  Category = "greeting"
	Gratitude Category = "gratitude"
	Distress  Category = "distress"
	Generic   Category = "generic"
)

type Rule struct {
	Category Category `yaml:"category"`
	Keywords []string `yaml:"keywords"`
	Reply    string   `yaml:"reply"`
}

// RuleResponder checks rules in order and returns the first whose keyword
// occurs in the input, ignoring case. Default is used when nothing matches.
type RuleResponder struct {
	Rules   []Rule `yaml:"rules"`
	Default string `yaml:"default"`
}

func (r *RuleResponder) Respond(input string) string {
	reply, _ := r.Match(input)
	return reply
}

// Match is Respond plus the category that produced the reply.
func (r *RuleResponder) Match(input string) (string, Category) {
	in := strings.ToLower(input)
	for _, rule := range r.Rules {
		for _, kw := range rule.Keywords {
			if kw != "" && strings.Contains(in, strings.ToLower(kw)) {
				return rule.Reply, rule.Category
			}
		}
	}
	return r.Default, Generic
}

func (r *RuleResponder) validate() error {
	if strings.TrimSpace(r.Default) == "" {
		return errors.New("fallback: default reply is required")
	}
	for i, rule := range r.Rules {
		if len(rule.Keywords) == 0 {
			return fmt.Errorf("fallback: rule %d (%s) has no keywords", i, rule.Category)
		}
		if strings.TrimSpace(rule.Reply) == "" {
			return fmt.Errorf("fallback: rule %d (%s) has no reply", i, rule.Category)
		}
	}
	return nil
}

// Load reads a rule table from a YAML file:
//
//	rules:
//	  - category: weather
//	    keywords: [weather, rain]
//	    reply: "..."
//	default: "..."
func Load(path string) (*RuleResponder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r RuleResponder
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("fallback: parse %s: %w", path, err)
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// ForLocale returns the built-in table for "ko" or "en".
func ForLocale(locale string) (*RuleResponder, error) {
	switch locale {
	case "ko", "":
		return Korean(), nil
	case "en":
		return English(), nil
	}
	return nil, fmt.Errorf("fallback: no built-in rules for locale %q", locale)
}

func Korean() *RuleResponder {
	return &RuleResponder{
		Rules: []Rule{
			{Welfare, []string{"복지", "지원"},
				"복지 정보를 찾아드릴게요. 어떤 복지 혜택이 궁금하신가요? 기초연금, 장기요양, 노인일자리 등 다양한 복지 프로그램이 있어요."},
			{Weather, []string{"날씨"},
				"오늘 날씨를 확인해 드릴게요. 지금 서울은 맑고 기온은 5도예요. 따뜻하게 입고 나가세요!"},
			{Greeting, []string{"안녕", "반가"},
				"안녕하세요! 오늘 하루 어떠셨어요? 궁금한 게 있으시면 편하게 말씀해 주세요."},
			{Gratitude, []string{"고마", "감사"},
				"천만에요! 도움이 되어서 기뻐요. 또 필요한 게 있으시면 언제든 말씀해 주세요."},
			{Distress, []string{"힘들", "외로", "걱정"},
				"그런 마음이 드셨군요. 제가 곁에 있어요. 이야기 나누고 싶으시면 편하게 말씀해 주세요. 어떤 이야기라도 괜찮아요."},
		},
		Default: "네, 말씀 잘 들었어요. 제가 어떻게 도와드리면 좋을까요? 복지 정보가 궁금하시면 '복지'라고 말씀해 주시고, 그냥 이야기를 나누고 싶으시면 편하게 말씀해 주세요.",
	}
}

func English() *RuleResponder {
	return &RuleResponder{
		Rules: []Rule{
			{Welfare, []string{"welfare", "benefit", "support"},
				"I can help you find welfare information. Which benefit are you interested in? There are programs such as the basic pension, long-term care and senior jobs."},
			{Weather, []string{"weather"},
				"Let me check the weather for you. It is clear in Seoul right now and 5 degrees. Please dress warmly!"},
			{Greeting, []string{"hello", "hi ", "nice to meet"},
				"Hello! How was your day? Feel free to ask me anything."},
			{Gratitude, []string{"thank"},
				"You're welcome! I'm glad I could help. Let me know anytime you need something."},
			{Distress, []string{"hard", "lonely", "worried", "worry"},
				"I hear you. I'm right here with you. If you'd like to talk, please tell me anything at all."},
		},
		Default: "I heard you. How can I help? Say \"welfare\" if you'd like benefit information, or just talk to me about anything.",
	}
}
