package fallback

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func replyFor(t *testing.T, r *RuleResponder, c Category) string {
	t.Helper()
	if c == Generic {
		return r.Default
	}
	for _, rule := range r.Rules {
		if rule.Category == c {
			return rule.Reply
		}
	}
	t.Fatalf("no rule for %s", c)
	return ""
}

func TestKorean(t *testing.T) {
	r := Korean()
	tests := []struct {
		input string
		want  Category
	}{
		{"오늘 날씨", Weather},
		{"고마워요", Gratitude},
		{"감사합니다", Gratitude},
		{"복지 혜택 알려줘", Welfare},
		{"정부 지원금", Welfare},
		{"안녕하세요", Greeting},
		{"반가워요", Greeting},
		{"요즘 너무 힘들어", Distress},
		{"외로워요", Distress},
		{"걱정이 많아", Distress},
		{"점심 뭐 먹지", Generic},
		{"", Generic},
		// priority: welfare beats weather, greeting beats gratitude
		{"날씨 좋은 날 복지관 가요", Welfare},
		{"안녕, 고마워", Greeting},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			reply, cat := r.Match(tt.input)
			if cat != tt.want {
				t.Errorf("Match(%q) category = %s, want %s", tt.input, cat, tt.want)
			}
			if reply != replyFor(t, r, tt.want) {
				t.Errorf("Match(%q) reply mismatch: %q", tt.input, reply)
			}
		})
	}
}

func TestKoreanExactStrings(t *testing.T) {
	r := Korean()
	if got := r.Respond("오늘 날씨"); !strings.HasPrefix(got, "오늘 날씨를 확인해 드릴게요.") {
		t.Errorf("weather reply = %q", got)
	}
	if got := r.Respond("고마워요"); !strings.HasPrefix(got, "천만에요!") {
		t.Errorf("gratitude reply = %q", got)
	}
	if got := r.Respond("zzz"); !strings.HasPrefix(got, "네, 말씀 잘 들었어요.") {
		t.Errorf("default reply = %q", got)
	}
}

func TestDeterministic(t *testing.T) {
	r := Korean()
	for _, in := range []string{"오늘 날씨", "고마워요", "무엇이든", "복지"} {
		if a, b := r.Respond(in), r.Respond(in); a != b {
			t.Errorf("Respond(%q) not deterministic: %q vs %q", in, a, b)
		}
	}
}

func TestCaseInsensitive(t *testing.T) {
	r := English()
	if _, cat := r.Match("What's the WEATHER like?"); cat != Weather {
		t.Errorf("category = %s, want weather", cat)
	}
	if _, cat := r.Match("Thank You"); cat != Gratitude {
		t.Errorf("category = %s, want gratitude", cat)
	}
}

func TestForLocale(t *testing.T) {
	if r, err := ForLocale("ko"); err != nil || r.Default != Korean().Default {
		t.Errorf("ko: %v", err)
	}
	if r, err := ForLocale("en"); err != nil || r.Default != English().Default {
		t.Errorf("en: %v", err)
	}
	if _, err := ForLocale("fr"); err == nil {
		t.Error("expected error for fr")
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	content := `
rules:
  - category: weather
    keywords: [Météo, pluie]
    reply: "Il fait beau."
default: "Je vous écoute."
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	r, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := r.Respond("quelle MÉTÉO ?"); got != "Il fait beau." {
		t.Errorf("got %q", got)
	}
	if got := r.Respond("bonjour"); got != "Je vous écoute." {
		t.Errorf("got %q", got)
	}

	var _ Responder = r
}

func TestLoadInvalid(t *testing.T) {
	dir := t.TempDir()
	tests := map[string]string{
		"no default":  "rules: []\n",
		"no keywords": "rules:\n  - category: x\n    reply: y\ndefault: d\n",
		"no reply":    "rules:\n  - category: x\n    keywords: [a]\ndefault: d\n",
		"bad yaml":    "rules: [\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(name, " ", "_")+".yaml")
			os.WriteFile(path, []byte(content), 0644)
			if _, err := Load(path); err == nil {
				t.Error("expected error")
			}
		})
	}
	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
