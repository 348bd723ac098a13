package fields_test

import (
	"testing"

	"paperflow/internal/fields"
	"paperflow/internal/statestore"
)

func parse(t *testing.T, raw string) statestore.Object {
	t.Helper()
	v, err := statestore.ParseValue([]byte(raw))
	if err != nil {
		t.Fatalf("parse %s: %v", raw, err)
	}
	obj, ok := v.(statestore.Object)
	if !ok {
		t.Fatalf("expected object, got %T", v)
	}
	return obj
}

func TestPickPrefersEarlierAliases(t *testing.T) {
	obj := parse(t, `{"title":"English","标题":"  中文  ","paper_title":"legacy"}`)
	if got := fields.Pick(obj, fields.Title, ""); got != "中文" {
		t.Fatalf("expected Chinese key to win, got %q", got)
	}

	obj = parse(t, `{"标题":"   ","paper_title":"legacy"}`)
	if got := fields.Pick(obj, fields.Title, ""); got != "legacy" {
		t.Fatalf("expected blank value to fall through, got %q", got)
	}

	obj = parse(t, `{"year":2024}`)
	if got := fields.Pick(obj, fields.Year, ""); got != "2024" {
		t.Fatalf("expected numeric year, got %q", got)
	}
}

func TestResolveFillsPlaceholders(t *testing.T) {
	paper := fields.Resolve(parse(t, `{"innovations":["a"," ",3]}`))
	if paper.Title != fields.NotMentioned || paper.Authors != fields.NotMentioned || paper.Abstract != fields.NotMentioned {
		t.Fatalf("expected placeholders, got %+v", paper)
	}
	if paper.Year != "" {
		t.Fatalf("expected empty year, got %q", paper.Year)
	}
	if len(paper.Innovations) != 2 || paper.Innovations[0] != "a" || paper.Innovations[1] != "3" {
		t.Fatalf("unexpected innovations %v", paper.Innovations)
	}
	if paper.Conclusions == nil || len(paper.Conclusions) != 0 {
		t.Fatalf("expected empty non-nil conclusions, got %#v", paper.Conclusions)
	}
}

func TestPickSteps(t *testing.T) {
	obj := parse(t, `{"experimental_steps":[{"step":2,"content":"mix"},{"步骤":"3","内容":""},"stir"]}`)
	steps := fields.PickSteps(obj, fields.Steps)
	if len(steps) != 2 {
		t.Fatalf("expected 2 steps, got %+v", steps)
	}
	if steps[0].Index != "2" || steps[0].Content != "mix" {
		t.Fatalf("unexpected first step %+v", steps[0])
	}
	if steps[1].Index != "" || fields.StepLabel(steps[1], 2) != "2" {
		t.Fatalf("unexpected scalar step %+v", steps[1])
	}
}

func TestSummary(t *testing.T) {
	title, authors, year := fields.Summary(parse(t, `{"paper_title":"T","authors":"A. B."}`))
	if title != "T" || authors != "A. B." || year != "" {
		t.Fatalf("unexpected summary %q %q %q", title, authors, year)
	}
}
