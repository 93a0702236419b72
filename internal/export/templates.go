package export

import (
	"bytes"
	"embed"
	"html/template"
	"sort"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var historyTemplate = template.Must(
	template.New("history.html").Funcs(template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
	}).ParseFS(templateFS, "templates/history.html"),
)

// TemplateData holds data for history template rendering
type TemplateData struct {
	OwnerName   string
	GeneratedAt time.Time
	Total       int
	Given       int
	Received    int
	Months      []Month
}

// Month is one calendar-month bucket, newest first.
type Month struct {
	Label   string
	Entries []Entry
}

// GroupByMonth buckets entries by the calendar month of their date. Buckets
// and the entries inside them are ordered newest first.
func GroupByMonth(entries []Entry) []Month {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.After(sorted[j].Date)
	})

	var months []Month
	for _, entry := range sorted {
		label := entry.Date.Format("January 2006")
		if n := len(months); n > 0 && months[n-1].Label == label {
			months[n-1].Entries = append(months[n-1].Entries, entry)
			continue
		}
		months = append(months, Month{Label: label, Entries: []Entry{entry}})
	}
	return months
}

func buildTemplateData(req Request) TemplateData {
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}
	data := TemplateData{
		OwnerName:   req.OwnerName,
		GeneratedAt: now,
		Total:       len(req.Entries),
		Months:      GroupByMonth(req.Entries),
	}
	for _, entry := range req.Entries {
		switch entry.Role {
		case "giver":
			data.Given++
		case "receiver":
			data.Received++
		}
	}
	return data
}

// RenderHistoryHTML renders the history template with provided data
func RenderHistoryHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := historyTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
