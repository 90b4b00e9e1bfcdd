package bot

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"absenbot/internal/checkin"
	"absenbot/internal/ledger"
	"absenbot/internal/query"
)

const (
	msgAlreadyRecorded = "⚠️ Kamu sudah tercatat hadir hari ini."
	msgStorageFailed   = "❌ Gagal menyimpan absensi. Silakan coba lagi."
	msgReadFailed      = "❌ Gagal membaca daftar hadir. Silakan coba lagi."
	msgEmptyList       = "📋 Belum ada yang absen hari ini."
	usageLokasi        = "Format lokasi: !lokasi <lat>,<lon> (contoh: !lokasi -8.591758,116.248384)"
)

// FormatOutcome renders the reply sent to the person who checked in.
func FormatOutcome(o checkin.Outcome, loc *time.Location) string {
	switch o.Kind {
	case checkin.Accepted:
		if o.Record != nil && o.Record.DistanceMeters != nil {
			return fmt.Sprintf("✅ Absensi sukses (%s). Jarak %d m.", o.DisplayName, *o.Record.DistanceMeters)
		}
		var at string
		if o.Record != nil {
			at = query.DisplayTime(o.Record.Timestamp, loc)
		}
		return fmt.Sprintf("✅ Terima kasih %s, kehadiranmu dicatat (%s).", o.DisplayName, at)
	case checkin.AlreadyRecorded:
		return msgAlreadyRecorded
	case checkin.Rejected:
		return fmt.Sprintf("❌ Di luar radius (%d m). Absensi dibatalkan.", o.DistanceMeters)
	default:
		return msgStorageFailed
	}
}

// FormatAdmin renders the notice posted to the admin channel.
func FormatAdmin(rec ledger.Record, loc *time.Location) string {
	msg := fmt.Sprintf("📌 %s hadir via %s (%s)", rec.Name(), rec.Method, query.DisplayTime(rec.Timestamp, loc))
	if rec.DistanceMeters != nil {
		msg += fmt.Sprintf(", jarak %d m", *rec.DistanceMeters)
	}
	return msg + "."
}

// FormatList renders the numbered attendance list for a day.
func FormatList(date string, recs []ledger.Record, loc *time.Location) string {
	if len(recs) == 0 {
		return msgEmptyList
	}
	lines := make([]string, 0, len(recs))
	for i, r := range recs {
		line := fmt.Sprintf("%d. %s — %s — %s", i+1, r.Name(), query.DisplayTime(r.Timestamp, loc), r.Method)
		if r.DistanceMeters != nil {
			line += fmt.Sprintf(" — %d m", *r.DistanceMeters)
		}
		lines = append(lines, line)
	}
	return fmt.Sprintf("📋 Daftar hadir %s:\n", date) + strings.Join(lines, "\n")
}

// FormatListTable renders the same list as a fixed-width table.
func FormatListTable(date string, recs []ledger.Record, loc *time.Location) string {
	if len(recs) == 0 {
		return msgEmptyList
	}
	rows := make([][]string, 0, len(recs))
	for i, r := range recs {
		dist := ""
		if r.DistanceMeters != nil {
			dist = strconv.Itoa(*r.DistanceMeters)
		}
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			r.Name(),
			query.DisplayTime(r.Timestamp, loc),
			string(r.Method),
			dist,
		})
	}
	return fmt.Sprintf("📋 Daftar hadir %s\n", date) +
		formatTable([]string{"No", "Nama", "Waktu", "Metode", "Jarak(m)"}, rows)
}
