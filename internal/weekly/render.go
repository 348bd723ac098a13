package weekly

import (
	"fmt"
	"strings"

	"paperflow/internal/fields"
)

const (
	nestedIndent = "     "
	placeholder  = "- （待补充）"
)

// Entry is one selected paper as it appears in a report.
type Entry struct {
	fields.Paper
	TaskID string `json:"_job_id"`
	Link   string `json:"_link"`
}

// TaskLink is the UI path of a task.
func TaskLink(id string) string {
	return "/job/" + id + "/"
}

// RenderMarkdown lays out a report without a language model.
func RenderMarkdown(start, end string, papers []Entry, extraWork, problems, nextPlan string) string {
	var b strings.Builder
	line := func(s string) {
		b.WriteString(s)
		b.WriteByte('\n')
	}
	line(fmt.Sprintf("# 周报（%s ~ %s）", start, end))
	line("")
	line(fmt.Sprintf("## 本周阅读文献（%d）", len(papers)))
	line("")
	if len(papers) == 0 {
		line("- 本周未选择文献")
	}
	for i, p := range papers {
		title := fmt.Sprintf("%d. %s", i+1, p.Title)
		if p.Link != "" {
			title = fmt.Sprintf("%d. [%s](%s)", i+1, p.Title, p.Link)
		}
		if meta := joinNonEmpty("，", p.Authors, p.Year); meta != "" {
			title += "（" + meta + "）"
		}
		line(title)
		line("   - 摘要：" + p.Abstract)
		for _, section := range []struct {
			label string
			items []string
		}{
			{"主要结论", p.Conclusions},
			{"创新点", p.Innovations},
			{"实验方法", p.Methods},
			{"不足", p.Limitations},
			{"研究启发", p.Insights},
		} {
			line("   - " + section.label + "：")
			line(nestedIndent + strings.ReplaceAll(bullets(section.items), "\n", "\n"+nestedIndent))
		}
		line("")
	}
	for _, section := range []struct{ heading, body string }{
		{"## 本周完成工作", extraWork},
		{"## 遇到的问题与解决方案", problems},
		{"## 下周计划", nextPlan},
	} {
		line(section.heading)
		line("")
		body := strings.TrimSpace(section.body)
		if body == "" {
			body = placeholder
		}
		line(body)
		line("")
	}
	return strings.TrimSpace(b.String()) + "\n"
}

func bullets(items []string) string {
	if len(items) == 0 {
		return "- " + fields.NotMentioned
	}
	lines := make([]string, len(items))
	for i, item := range items {
		lines[i] = "- " + item
	}
	return strings.Join(lines, "\n")
}

func joinNonEmpty(sep string, values ...string) string {
	kept := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			kept = append(kept, v)
		}
	}
	return strings.Join(kept, sep)
}
