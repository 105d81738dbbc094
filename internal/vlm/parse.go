package vlm

import (
	"regexp"
	"strconv"
	"strings"
)

// Parsed is the structured view extracted from a Markdown report. Every
// field has a default; the parser never fails.
type Parsed struct {
	Summary         string   `json:"summary"`
	Severity        string   `json:"severity"` // low | medium | high
	Confidence      float64  `json:"confidence"`
	Diseases        []string `json:"diseases"`
	Recommendations []string `json:"recommendations"`
}

var (
	severityWords = []struct{ word, level string }{
		{"高", "high"}, {"中", "medium"}, {"低", "low"},
		{"high", "high"}, {"medium", "medium"}, {"low", "low"},
	}
	percentPattern  = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%`)
	numberedPattern = regexp.MustCompile(`^\s*\d+[.、)]\s*(.+)$`)
	bulletPattern   = regexp.MustCompile(`^\s*[-*•]\s*(.+)$`)

	mdImagePattern   = regexp.MustCompile(`!\[[^\]]*\]\([^)]+\)`)
	htmlImagePattern = regexp.MustCompile(`<img[^>]+>`)
	dataURLPattern   = regexp.MustCompile(`data:image/[^;]+;base64,[A-Za-z0-9+/=]+`)
	blankRunPattern  = regexp.MustCompile(`\n{3,}`)
)

// ParseReport extracts the structured fields from a Markdown diagnosis
// report written against the fixed section template. Missing sections fall
// back to defaults rather than errors.
func ParseReport(markdown string) Parsed {
	sections := splitSections(markdown)

	p := Parsed{Severity: "medium", Confidence: 0.75}

	if body, ok := findSection(sections, "summary", "概要", "总结", "摘要"); ok {
		p.Summary = strings.TrimSpace(body)
	} else if len(sections) > 0 {
		p.Summary = strings.TrimSpace(sections[0].body)
	}

	if body, ok := findSection(sections, "severity", "严重程度"); ok {
		lower := strings.ToLower(body)
		for _, sw := range severityWords {
			if strings.Contains(lower, sw.word) {
				p.Severity = sw.level
				break
			}
		}
		if m := percentPattern.FindStringSubmatch(body); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil && v >= 0 && v <= 100 {
				p.Confidence = v / 100
			}
		}
	}

	if body, ok := findSection(sections, "disease identification", "病害识别", "疾病识别"); ok {
		p.Diseases = splitItems(body)
	}

	if body, ok := findSection(sections, "immediate", "立即", "紧急"); ok {
		p.Recommendations = splitItems(body)
	}

	return p
}

type section struct {
	heading string
	body    string
}

func splitSections(markdown string) []section {
	var out []section
	var cur *section
	for _, line := range strings.Split(markdown, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			heading := strings.ToLower(strings.TrimSpace(strings.TrimLeft(trimmed, "# ")))
			out = append(out, section{heading: heading})
			cur = &out[len(out)-1]
			continue
		}
		if cur != nil {
			cur.body += line + "\n"
		}
	}
	return out
}

func findSection(sections []section, keys ...string) (string, bool) {
	for _, s := range sections {
		for _, key := range keys {
			if strings.Contains(s.heading, key) {
				return s.body, true
			}
		}
	}
	return "", false
}

// splitItems pulls list entries out of a section body: numbered items
// first, bullets second, comma/enumeration split as the last resort.
func splitItems(body string) []string {
	var items []string
	for _, line := range strings.Split(body, "\n") {
		if m := numberedPattern.FindStringSubmatch(line); m != nil {
			items = append(items, strings.TrimSpace(m[1]))
		} else if m := bulletPattern.FindStringSubmatch(line); m != nil {
			items = append(items, strings.TrimSpace(m[1]))
		}
	}
	if len(items) > 0 {
		return items
	}
	for _, piece := range strings.FieldsFunc(body, func(r rune) bool {
		return r == ',' || r == '，' || r == ';' || r == '；'
	}) {
		if t := strings.TrimSpace(piece); t != "" {
			items = append(items, t)
		}
	}
	return items
}

// StripImages removes embedded image references from a report before it
// crosses the control plane: Markdown images, raw <img> tags and inline
// data URLs. Runs of three or more blank lines collapse to one.
func StripImages(markdown string) string {
	out := mdImagePattern.ReplaceAllString(markdown, "")
	out = htmlImagePattern.ReplaceAllString(out, "")
	out = dataURLPattern.ReplaceAllString(out, "")
	out = blankRunPattern.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}
