package jobs

import (
	"regexp"
	"strings"
)

// DefaultAnalysisMaxChars bounds the content sent for analysis.
const DefaultAnalysisMaxChars = 25000

const (
	analysisTemperature = 0.2
	imagePlaceholder    = "[[IMAGE]]"
	truncationMarker    = "\n\n[[TRUNCATED]]\n\n"
	maxTailRunes        = 5000
)

var markdownImage = regexp.MustCompile(`!\[[^\]]*]\([^)]+\)`)

// AnalysisSystemPrompt asks for the structured Chinese reading notes stored
// in analysis.json.
const AnalysisSystemPrompt = "你是一个严谨的学术论文阅读助手。请基于用户提供的论文内容，输出结构化中文信息。\n" +
	"要求：\n" +
	"1) 只输出合法 JSON，不要输出其他任何文字。\n" +
	"2) JSON 必须包含以下键：标题、作者、摘要、主要结论、创新点、实验方法、不足、实验详细步骤、表征方法、研究启发、术语解释。\n" +
	"3) 类型约束：\n" +
	"   - 标题: string（若无法确定写“未提及”）\n" +
	"   - 作者: string（若无法确定写“未提及”）\n" +
	"   - 摘要: string（100-200字）\n" +
	"   - 主要结论/创新点/实验方法/不足/表征方法/研究启发: string 数组（3-8条，每条≤80字）\n" +
	"   - 实验详细步骤: 数组，每项为 {\"步骤\": int, \"内容\": string}\n" +
	"   - 术语解释: 数组，每项为 {\"术语\": string, \"解释\": string}（5-15条，每条≤80字）\n" +
	"4) 若文中未提及：数组给空数组[]；字符串字段写“未提及”。\n" +
	"5) 不要捏造具体数值/数据集/参数；不确定请写“文中未明确”。\n"

// AnalysisUserPrompt wraps the normalized paper content.
func AnalysisUserPrompt(content string) string {
	return "论文内容（可能被截断）：\n\n" + content
}

// NormalizeForAnalysis replaces images with a placeholder and, when the
// text exceeds maxChars runes, keeps the head and a tail of
// min(5000, maxChars/3) runes around a truncation marker. maxChars <= 0
// disables truncation.
func NormalizeForAnalysis(markdown string, maxChars int) string {
	text := markdownImage.ReplaceAllString(strings.TrimSpace(markdown), imagePlaceholder)
	runes := []rune(text)
	if maxChars <= 0 || len(runes) <= maxChars {
		return text
	}
	tail := min(maxTailRunes, maxChars/3)
	head := maxChars - tail
	return string(runes[:head]) + truncationMarker + string(runes[len(runes)-tail:])
}
