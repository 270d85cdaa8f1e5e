package service

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"judgments-backend/models"
)

// stringField maps one canonical field to the source keys it may arrive under,
// in priority order. Scraped court pages use labels, stored rows use machine keys.
type stringField struct {
	keys []string
	set  func(*models.CaseRecord, string)
}

var idKeys = []string{"id", "_id", "ID", "caseId"}

var stringFields = []stringField{
	{idKeys, func(r *models.CaseRecord, v string) { r.ID = v }},
	{[]string{"diaryNumber", "Diary Number", "diary_number", "Diary No.", "diaryNo"}, func(r *models.CaseRecord, v string) { r.DiaryNumber = v }},
	{[]string{"court", "Court", "courtName"}, func(r *models.CaseRecord, v string) { r.Court = v }},
	{[]string{"bench", "Bench", "benchName"}, func(r *models.CaseRecord, v string) { r.Bench = v }},
	{[]string{"caseType", "Case Type", "case_type"}, func(r *models.CaseRecord, v string) { r.CaseType = v }},
	{[]string{"city", "City"}, func(r *models.CaseRecord, v string) { r.City = v }},
	{[]string{"district", "District"}, func(r *models.CaseRecord, v string) { r.District = v }},
	{[]string{"caseNumber", "Case Number", "case_number", "Case No."}, func(r *models.CaseRecord, v string) { r.CaseNumber = v }},
	{[]string{"parties", "Parties", "Petitioner / Respondent", "Petitioner/Respondent", "partyName"}, func(r *models.CaseRecord, v string) { r.Parties = v }},
	{[]string{"advocates", "Advocates", "Petitioner/Respondent Advocate", "Advocate"}, func(r *models.CaseRecord, v string) { r.Advocates = v }},
	{[]string{"judgmentBy", "Judgment By", "judgment_by", "Coram", "Judge"}, func(r *models.CaseRecord, v string) { r.JudgmentBy = v }},
	{[]string{"judgmentDate", "Judgment Date", "judgment_date", "Order Date", "orderDate", "Date"}, func(r *models.CaseRecord, v string) { r.JudgmentDate = v }},
	{[]string{"judgmentType", "Judgment Type", "judgment_type"}, func(r *models.CaseRecord, v string) { r.JudgmentType = v }},
	{[]string{"filePath", "file_path"}, func(r *models.CaseRecord, v string) { r.FilePath = v }},
	{[]string{"serialNumber", "Serial Number", "serial_number", "S.No.", "Sr.No."}, func(r *models.CaseRecord, v string) { r.SerialNumber = v }},
}

var (
	judgmentURLKeys  = []string{"judgmentUrl", "judgmentURL", "Judgment URL", "judgment_url", "Judgment Link", "pdfLink"}
	judgmentLinkKeys = []string{"judgmentLinks", "Judgment Links"}
	judgmentTextKeys = []string{"judgmentText", "Judgment Text", "judgment_text"}
)

// NormalizeCase maps a raw stored or scraped record onto the canonical schema.
// index is the record's position in its batch and only matters when the record has no id.
func NormalizeCase(raw map[string]any, index int) models.CaseRecord {
	var rec models.CaseRecord
	for _, f := range stringFields {
		if v, ok := firstValue(raw, f.keys); ok {
			f.set(&rec, stringValue(v))
		}
	}

	rec.JudgmentURL = judgmentURLs(raw)
	rec.JudgmentText = stringList(raw, judgmentTextKeys)

	if rec.ID == "" {
		rec.ID = fmt.Sprintf("%s-%d", rec.DiaryNumber, index)
	}
	return rec
}

// HasSourceID reports whether raw carries its own id rather than needing a positional one
func HasSourceID(raw map[string]any) bool {
	v, ok := firstValue(raw, idKeys)
	return ok && stringValue(v) != ""
}

// NormalizeCases normalizes a batch, deriving ids from each record's position
func NormalizeCases(raws []map[string]any) []models.CaseRecord {
	out := make([]models.CaseRecord, 0, len(raws))
	for i, raw := range raws {
		out = append(out, NormalizeCase(raw, i))
	}
	return out
}

// FlattenScrapeItems expands items carrying a nested processedResults list into one
// record per judgment. Parent fields fill in whatever the nested record lacks.
func FlattenScrapeItems(items []map[string]any) []map[string]any {
	var out []map[string]any
	for _, item := range items {
		nested, _ := item["processedResults"].([]any)
		if len(nested) == 0 {
			out = append(out, withoutKey(item, "processedResults"))
			continue
		}
		parent := withoutKey(item, "processedResults")
		for _, n := range nested {
			child, ok := n.(map[string]any)
			if !ok {
				continue
			}
			merged := make(map[string]any, len(parent)+len(child))
			for k, v := range parent {
				merged[k] = v
			}
			for k, v := range child {
				merged[k] = v
			}
			out = append(out, merged)
		}
	}
	return out
}

var judgmentDateLayouts = []string{
	"02-01-2006",
	"02/01/2006",
	"02.01.2006",
	"2006-01-02",
	"2006/01/02",
	"02-Jan-2006",
	"2 January 2006",
	"January 2, 2006",
	time.RFC3339,
}

// ParseJudgmentDate understands the date formats court sites publish
func ParseJudgmentDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range judgmentDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// SortNewestFirst orders records by judgment date, newest first. Records without a
// parseable date keep their relative order at the end.
func SortNewestFirst(records []models.CaseRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		ti, okI := ParseJudgmentDate(records[i].JudgmentDate)
		tj, okJ := ParseJudgmentDate(records[j].JudgmentDate)
		if okI != okJ {
			return okI
		}
		return ti.After(tj)
	})
}

func firstValue(raw map[string]any, keys []string) (any, bool) {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, p := range t {
			if s := stringValue(p); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(t)
	}
}

func judgmentURLs(raw map[string]any) []string {
	for _, k := range judgmentURLKeys {
		switch v := raw[k].(type) {
		case []string:
			return compact(v)
		case []any:
			return compact(anyStrings(v))
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return []string{s}
			}
		}
	}

	for _, k := range judgmentLinkKeys {
		links, ok := raw[k].([]any)
		if !ok {
			continue
		}
		urls := make([]string, 0, len(links))
		for _, l := range links {
			if m, ok := l.(map[string]any); ok {
				if u, ok := m["url"].(string); ok {
					urls = append(urls, u)
				}
			}
		}
		return compact(urls)
	}

	return []string{}
}

func stringList(raw map[string]any, keys []string) []string {
	for _, k := range keys {
		switch v := raw[k].(type) {
		case []string:
			return compact(v)
		case []any:
			return compact(anyStrings(v))
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return []string{s}
			}
		}
	}
	return []string{}
}

func anyStrings(values []any) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		switch t := v.(type) {
		case string:
			out = append(out, t)
		case map[string]any:
			if u, ok := t["url"].(string); ok {
				out = append(out, u)
			}
		}
	}
	return out
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func withoutKey(m map[string]any, key string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if k != key {
			out[k] = v
		}
	}
	return out
}
