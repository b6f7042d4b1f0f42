package planner

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/sweetpotato0/esg-rag/config"
	"github.com/sweetpotato0/esg-rag/llm"
	"github.com/sweetpotato0/esg-rag/pkg/logging"
	"github.com/sweetpotato0/esg-rag/prompt"
	"github.com/sweetpotato0/esg-rag/rag/document"
	"github.com/sweetpotato0/esg-rag/session"
)

// scripted answers rewrite prompts with rewrite and expansion prompts with
// expand, recording every prompt it sees.
type scripted struct {
	mu      sync.Mutex
	rewrite func(prompt string) (string, error)
	expand  func(prompt string) (string, error)
	prompts []string
}

func (s *scripted) gen() llm.Generator {
	return llm.GeneratorFunc(func(_ context.Context, p, _ string) (string, error) {
		s.mu.Lock()
		s.prompts = append(s.prompts, p)
		s.mu.Unlock()
		if strings.HasPrefix(p, "你是查詢重寫器") {
			return s.rewrite(p)
		}
		return s.expand(p)
	})
}

func newPlanner(s *scripted) *Planner {
	return New(s.gen(), prompt.Default(), config.Default(), WithLogger(logging.Discard()))
}

func TestIsVague(t *testing.T) {
	p := newPlanner(&scripted{})
	tests := []struct {
		in   string
		want bool
	}{
		{"", true},
		{"   ", true},
		{"？", true},
		{"HELP", true},
		{"Hi", true},
		{"請問可以查什麼資料", true},
		{"你好，我想知道台積電", true},
		{"台積電 2022 溫室氣體排放", false},
		{"high emissions", false},
	}
	for _, tt := range tests {
		if got := p.IsVague(tt.in); got != tt.want {
			t.Errorf("IsVague(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestPlanVagueReturnsGuidance(t *testing.T) {
	s := &scripted{}
	p := newPlanner(s)

	plan, guide := p.Plan(context.Background(), "  可以查什麼？ ", nil, document.ModeAll)
	if plan != nil || guide == nil {
		t.Fatalf("expected guidance request, got plan=%v guide=%v", plan, guide)
	}
	if guide.Mode != document.ModeESG || guide.Input != "可以查什麼？" {
		t.Fatalf("unexpected guidance request %+v", guide)
	}
	if len(s.prompts) != 0 {
		t.Fatalf("guidance branch must not call the generator, saw %d prompts", len(s.prompts))
	}
}

func TestPlanWithoutGuidanceRewrites(t *testing.T) {
	s := &scripted{
		rewrite: func(string) (string, error) { return "ESG 永續", nil },
		expand:  func(string) (string, error) { return "", nil },
	}
	p := newPlanner(s)

	plan, guide := p.Plan(context.Background(), "可以查什麼", nil, document.ModeNews, WithoutGuidance(), WithVariants(0))
	if guide != nil || plan == nil {
		t.Fatalf("expected plan, got guide=%+v", guide)
	}
	if !reflect.DeepEqual(plan.Variants, []string{"ESG 永續"}) {
		t.Fatalf("variants = %v", plan.Variants)
	}
	if len(s.prompts) != 1 {
		t.Fatalf("expansion disabled, expected 1 prompt, saw %d", len(s.prompts))
	}
}

func TestRewritePromptAndCollapse(t *testing.T) {
	s := &scripted{
		rewrite: func(string) (string, error) { return "  台積電   2021 2022\n 用水量 ", nil },
	}
	p := newPlanner(s)

	history := session.History{{User: "台積電排放", Assistant: "100 噸"}}
	got := p.Rewrite(context.Background(), "那 2021-2022 的用水呢", history)
	if got != "台積電 2021 2022 用水量" {
		t.Fatalf("Rewrite = %q", got)
	}

	sent := s.prompts[0]
	for _, want := range []string{
		"使用者：台積電排放\n助理：100 噸",
		`"台積電", "鴻海", "聯發科"`,
		"【使用者當前問題】\n那 2021-2022 的用水呢",
		"（2021 2022 2023 2024）",
	} {
		if !strings.Contains(sent, want) {
			t.Errorf("rewrite prompt missing %q", want)
		}
	}
}

func TestRewriteFallbacks(t *testing.T) {
	s := &scripted{rewrite: func(string) (string, error) { return " \n ", nil }}
	p := newPlanner(s)
	if got := p.Rewrite(context.Background(), "  鴻海 用電  ", nil); got != "鴻海 用電" {
		t.Fatalf("empty reply: Rewrite = %q", got)
	}

	s.rewrite = func(string) (string, error) { return "", errors.New("upstream down") }
	if got := p.Rewrite(context.Background(), " 鴻海 ", nil); got != "鴻海" {
		t.Fatalf("error: Rewrite = %q", got)
	}
}

func TestPlanFailedRewriteIsNotRewritten(t *testing.T) {
	var logs bytes.Buffer
	s := &scripted{
		rewrite: func(string) (string, error) { return "", errors.New("upstream down") },
		expand:  func(string) (string, error) { return "", errors.New("upstream down") },
	}
	p := New(s.gen(), prompt.Default(), config.Default(),
		WithLogger(slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))))

	plan, _ := p.Plan(context.Background(), " 台積電  用水量\n", nil, document.ModeESG)
	if plan == nil {
		t.Fatal("expected plan")
	}
	if plan.Raw != "台積電  用水量" || plan.Query != plan.Raw {
		t.Fatalf("plan = %+v", plan)
	}
	if plan.Rewritten() {
		t.Fatal("literal fallback must not count as a rewrite")
	}
	if strings.Contains(logs.String(), "用水量") {
		t.Fatalf("question text leaked into logs:\n%s", logs.String())
	}
}

func TestExpandCleansAndDedupes(t *testing.T) {
	s := &scripted{expand: func(string) (string, error) {
		return strings.Join([]string{
			"1. 台積電 溫室氣體 排放量",
			"- \"TSMC   GHG emissions\"",
			"• tsmc ghg EMISSIONS",
			"・ x",
			"2) 台積電 範疇一 排放",
			"",
			"台積電 碳排",
			"台積電 溫室氣體",
			"台積電 淨零",
		}, "\n"), nil
	}}
	p := newPlanner(s)

	got := p.Expand(context.Background(), "台積電 溫室氣體", 3)
	want := []string{
		"台積電 溫室氣體",
		"台積電 溫室氣體 排放量",
		"TSMC GHG emissions",
		") 台積電 範疇一 排放",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Expand = %q, want %q", got, want)
	}
	if !strings.Contains(s.prompts[0], "產生 3 個互補或同義的檢索問法") {
		t.Fatalf("expand prompt = %q", s.prompts[0])
	}
}

func TestExpandDegrades(t *testing.T) {
	s := &scripted{expand: func(string) (string, error) { return "", errors.New("boom") }}
	p := newPlanner(s)

	if got := p.Expand(context.Background(), "q", 5); !reflect.DeepEqual(got, []string{"q"}) {
		t.Fatalf("Expand on error = %v", got)
	}
	if got := p.Expand(context.Background(), "q", 0); !reflect.DeepEqual(got, []string{"q"}) {
		t.Fatalf("Expand(0) = %v", got)
	}
	if len(s.prompts) != 1 {
		t.Fatalf("Expand(0) must not call the generator")
	}
}
