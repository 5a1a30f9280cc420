package document

import (
	"regexp"
	"strings"

	"github.com/goccy/go-json"
)

// EntryKind 列表字段元素的形态
type EntryKind int

const (
	// EntryEmpty 无法识别或没有名字的元素
	EntryEmpty EntryKind = iota
	// EntryStructured {"name": ..., "job": ...} 形式的对象
	EntryStructured
	// EntryFreeform 直接是字符串的元素
	EntryFreeform
)

// Entry 列表字段中的一个元素
type Entry struct {
	Kind EntryKind
	Name string
	Job  string
}

// Structured 构造对象元素
func Structured(name, job string) Entry {
	return Entry{Kind: EntryStructured, Name: name, Job: job}
}

// Freeform 构造字符串元素
func Freeform(s string) Entry {
	return Entry{Kind: EntryFreeform, Name: s}
}

// Label 元素的展示名，Empty 返回空串
func (e Entry) Label() string {
	if e.Kind == EntryEmpty {
		return ""
	}
	return strings.TrimSpace(e.Name)
}

// Strategy 一种列表字段解析方式，ok=false 表示交给下一个
type Strategy struct {
	Name  string
	Parse func(raw string) (entries []Entry, ok bool)
}

// DocumentStrategies 构建索引时使用：严格 JSON，再尝试单引号修正
var DocumentStrategies = []Strategy{
	{Name: "json", Parse: parseStrictJSON},
	{Name: "quote_fix", Parse: parseQuoteFixed},
}

// LenientStrategies 读取库内已存数据时使用，额外允许正则提取 name
var LenientStrategies = []Strategy{
	{Name: "json", Parse: parseStrictJSON},
	{Name: "quote_fix", Parse: parseQuoteFixed},
	{Name: "regex", Parse: parseRegexNames},
}

// ParseList 依次尝试各策略，返回第一个成功的结果；全部失败返回 nil, false
func ParseList(raw string, strategies []Strategy) ([]Entry, bool) {
	if isBlank(raw) {
		return nil, true
	}
	for _, s := range strategies {
		if entries, ok := s.Parse(raw); ok {
			return entries, true
		}
	}
	return nil, false
}

// Names 将元素列表解析为名字序列，跳过空元素
func Names(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if label := e.Label(); label != "" {
			out = append(out, label)
		}
	}
	return out
}

// Directors 取出 job 为 Director 的名字
// 没有任何元素带 job 时（旧数据只有名字）保留全部名字
func Directors(entries []Entry) []string {
	hasJob := false
	for _, e := range entries {
		if e.Kind == EntryStructured && e.Job != "" {
			hasJob = true
			break
		}
	}
	if !hasJob {
		return Names(entries)
	}

	out := make([]string, 0, 2)
	for _, e := range entries {
		if e.Kind == EntryStructured && e.Job == "Director" {
			if label := e.Label(); label != "" {
				out = append(out, label)
			}
		}
	}
	return out
}

func isBlank(raw string) bool {
	s := strings.TrimSpace(raw)
	switch strings.ToLower(s) {
	case "", "[]", "nan", "null", "none":
		return true
	}
	return false
}

func parseStrictJSON(raw string) ([]Entry, bool) {
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &items); err != nil {
		return nil, false
	}
	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		entries = append(entries, decodeEntry(item))
	}
	return entries, true
}

func parseQuoteFixed(raw string) ([]Entry, bool) {
	fixed := strings.ReplaceAll(raw, "'", `"`)
	fixed = strings.ReplaceAll(fixed, `"}{"`, `"},{"`)
	return parseStrictJSON(fixed)
}

var (
	objectPattern = regexp.MustCompile(`\{[^{}]*`)
	namePattern   = regexp.MustCompile(`['"]name['"]:\s*['"]([^'"]*)['"]`)
	jobPattern    = regexp.MustCompile(`['"]job['"]:\s*['"]([^'"]*)['"]`)
)

func parseRegexNames(raw string) ([]Entry, bool) {
	var entries []Entry
	for _, obj := range objectPattern.FindAllString(raw, -1) {
		m := namePattern.FindStringSubmatch(obj)
		if m == nil {
			continue
		}
		job := ""
		if j := jobPattern.FindStringSubmatch(obj); j != nil {
			job = j[1]
		}
		entries = append(entries, Structured(m[1], job))
	}
	if len(entries) == 0 {
		return nil, false
	}
	return entries, true
}

type structuredItem struct {
	Name *string `json:"name"`
	Job  string  `json:"job"`
}

func decodeEntry(item json.RawMessage) Entry {
	trimmed := strings.TrimSpace(string(item))
	if trimmed == "" {
		return Entry{}
	}
	switch trimmed[0] {
	case '{':
		var s structuredItem
		if err := json.Unmarshal(item, &s); err != nil || s.Name == nil || strings.TrimSpace(*s.Name) == "" {
			return Entry{}
		}
		return Structured(*s.Name, s.Job)
	case '"':
		var s string
		if err := json.Unmarshal(item, &s); err != nil || strings.TrimSpace(s) == "" {
			return Entry{}
		}
		return Freeform(s)
	}
	return Entry{}
}
