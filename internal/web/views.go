package web

import (
	"html/template"
	"net/http"
	"time"

	"absenbot/internal/ledger"
	"absenbot/internal/query"
)

type recordView struct {
	No        int       `json:"no"`
	Identity  string    `json:"identity"`
	Name      string    `json:"name"`
	Time      string    `json:"time"`
	Timestamp time.Time `json:"timestamp"`
	Method    string    `json:"method"`
	Latitude  *float64  `json:"latitude"`
	Longitude *float64  `json:"longitude"`
	Distance  *int      `json:"distance"`
}

type dayView struct {
	Date    string       `json:"date"`
	Records []recordView `json:"records"`
}

func newDayView(date string, recs []ledger.Record, loc *time.Location) dayView {
	v := dayView{Date: date, Records: make([]recordView, 0, len(recs))}
	for i, r := range recs {
		rv := recordView{
			No:        i + 1,
			Identity:  r.Identity,
			Name:      r.Name(),
			Time:      query.DisplayTime(r.Timestamp, loc),
			Timestamp: r.Timestamp,
			Method:    string(r.Method),
			Distance:  r.DistanceMeters,
		}
		if r.Coordinate != nil {
			lat, lon := r.Coordinate.Latitude, r.Coordinate.Longitude
			rv.Latitude, rv.Longitude = &lat, &lon
		}
		v.Records = append(v.Records, rv)
	}
	return v
}

var pages = template.Must(template.New("pages").Funcs(template.FuncMap{
	"opt": func(v any) any {
		switch p := v.(type) {
		case *float64:
			if p == nil {
				return ""
			}
			return *p
		case *int:
			if p == nil {
				return ""
			}
			return *p
		}
		return v
	},
}).Parse(`
{{define "table"}}<table border="1" cellpadding="6">
<tr><th>No</th><th>Nama</th><th>Waktu</th><th>Metode</th><th>Lat</th><th>Lon</th><th>Jarak(m)</th></tr>
{{range .Records}}<tr><td>{{.No}}</td><td>{{.Name}}</td><td>{{.Time}}</td><td>{{.Method}}</td><td>{{opt .Latitude}}</td><td>{{opt .Longitude}}</td><td>{{opt .Distance}}</td></tr>
{{end}}</table>{{end}}

{{define "index"}}<!doctype html>
<html><head><meta charset="utf-8"><title>Absensi</title></head><body>
<h2>Absensi Bot — Realtime</h2>
<p>Bot & Web berjalan. Akses data di <a href="/today">/today</a> atau <a href="/all">/all</a></p>
{{if .}}<p>Alamat LAN: {{.}}</p>{{end}}
<hr>
<p>Petunjuk singkat:</p>
<ol>
<li>Di chat kirim <b>!lokasi lat,lon</b> ke bot, atau ketik <b>!absen</b></li>
<li>Untuk melihat rekap hari ini buka <a href="/today">/today</a></li>
</ol>
</body></html>{{end}}

{{define "today"}}<!doctype html>
<html><head><meta charset="utf-8"><title>Daftar Hadir {{.Date}}</title></head><body>
<h2>Daftar Hadir — {{.Date}}</h2>
<a href="/">Back</a>
{{template "table" .}}
</body></html>{{end}}

{{define "all"}}<!doctype html>
<html><head><meta charset="utf-8"><title>Semua Rekap</title></head><body>
<h2>Semua Rekap</h2>
<a href="/">Back</a>
{{range .}}<h3>{{.Date}}</h3>
{{template "table" .}}
{{end}}</body></html>{{end}}
`))

func (h *Handler) render(w http.ResponseWriter, r *http.Request, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pages.ExecuteTemplate(w, name, data); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to render page", "page", name, "error", err.Error())
	}
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "index", h.baseURL)
}

func (h *Handler) handleTodayPage(w http.ResponseWriter, r *http.Request) {
	day, ok := h.today(w, r)
	if !ok {
		return
	}
	h.render(w, r, "today", day)
}

func (h *Handler) handleAllPage(w http.ResponseWriter, r *http.Request) {
	days, ok := h.allDays(w, r)
	if !ok {
		return
	}
	h.render(w, r, "all", days)
}
