package service

import (
	"reflect"
	"testing"
)

func TestNormalizeCaseLabels(t *testing.T) {
	raw := map[string]any{
		"Diary Number":  "4521/2022",
		"Case Number":   "W.P.(C) 12/2022",
		"Judgment Type": "ORDER",
		"Judgment Date": "01-02-2022",
		"judgmentLinks": []any{
			map[string]any{"url": "https://court/a.pdf"},
			map[string]any{"title": "no url"},
			map[string]any{"url": "https://court/b.pdf"},
		},
		"Judgment Text": " full text ",
		"S.No.":         float64(3),
	}

	rec := NormalizeCase(raw, 4)
	if rec.ID != "4521/2022-4" {
		t.Fatalf("expected derived id, got %q", rec.ID)
	}
	if rec.CaseNumber != "W.P.(C) 12/2022" || rec.JudgmentType != "ORDER" || rec.SerialNumber != "3" {
		t.Fatalf("labels not mapped: %+v", rec)
	}
	if !reflect.DeepEqual(rec.JudgmentURL, []string{"https://court/a.pdf", "https://court/b.pdf"}) {
		t.Fatalf("unexpected urls %v", rec.JudgmentURL)
	}
	if !reflect.DeepEqual(rec.JudgmentText, []string{"full text"}) {
		t.Fatalf("unexpected text %v", rec.JudgmentText)
	}
}

func TestNormalizeCasePrefersCanonicalKey(t *testing.T) {
	rec := NormalizeCase(map[string]any{
		"id":           "keep-me",
		"judgmentUrl":  "https://court/x.pdf",
		"diaryNumber":  "1/2020",
		"Diary Number": "ignored",
	}, 0)
	if rec.ID != "keep-me" || rec.DiaryNumber != "1/2020" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if !reflect.DeepEqual(rec.JudgmentURL, []string{"https://court/x.pdf"}) {
		t.Fatalf("single url should be wrapped, got %v", rec.JudgmentURL)
	}
}

func TestNormalizeCaseIdempotent(t *testing.T) {
	raws := []map[string]any{
		{"Diary Number": "9/2021", "Parties": "X vs Y", "Judgment Link": "https://court/1.pdf", "Coram": "J. Rao"},
		{"diaryNumber": "9/2021", "judgmentUrl": []any{"https://a", "https://b"}, "judgmentText": []any{"t1", "t2"}},
		{},
	}
	for i, raw := range raws {
		once := NormalizeCase(raw, i)
		twice := NormalizeCase(once.Fields(), i)
		if !reflect.DeepEqual(once, twice) {
			t.Fatalf("case %d not idempotent:\n%+v\n%+v", i, once, twice)
		}
	}
}

func TestFlattenScrapeItems(t *testing.T) {
	items := []map[string]any{
		{
			"Diary Number": "5/2020",
			"Parties":      "P vs Q",
			"processedResults": []any{
				map[string]any{"Judgment Date": "02-03-2020", "Parties": "override"},
				map[string]any{"Judgment Date": "04-05-2020"},
				"not an object",
			},
		},
		{"Diary Number": "6/2020"},
	}

	flat := FlattenScrapeItems(items)
	if len(flat) != 3 {
		t.Fatalf("expected 3 records, got %d", len(flat))
	}
	if flat[0]["Parties"] != "override" || flat[1]["Parties"] != "P vs Q" {
		t.Fatalf("child fields should win over parent fields: %v", flat)
	}
	for _, f := range flat {
		if _, ok := f["processedResults"]; ok {
			t.Fatal("processedResults should not survive flattening")
		}
	}
}

func TestSortNewestFirst(t *testing.T) {
	recs := NormalizeCases([]map[string]any{
		{"judgmentDate": "not a date", "id": "bad"},
		{"judgmentDate": "2021-01-05", "id": "old"},
		{"judgmentDate": "10/03/2023", "id": "new"},
		{"id": "none"},
	})
	SortNewestFirst(recs)

	var ids []string
	for _, r := range recs {
		ids = append(ids, r.ID)
	}
	if !reflect.DeepEqual(ids, []string{"new", "old", "bad", "none"}) {
		t.Fatalf("unexpected order %v", ids)
	}
}

func TestSplitJudgmentTypes(t *testing.T) {
	got := SplitJudgmentTypes(" ORDER, ,JUDGMENT ")
	if !reflect.DeepEqual(got, []string{"ORDER", "JUDGMENT"}) {
		t.Fatalf("unexpected split %v", got)
	}
	if SplitJudgmentTypes("") != nil {
		t.Fatal("expected nil for empty input")
	}
}
