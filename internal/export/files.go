package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"shopcap/internal/fsutil"
)

func writeJSONRows(rows []Row, path string) error {
	if rows == nil {
		rows = []Row{}
	}
	return fsutil.WriteJSONAtomic(path, rows)
}

// writeCSVRows writes rows with the sorted union of keys as header. An
// empty export produces an empty file.
func writeCSVRows(rows []Row, path string) error {
	if len(rows) == 0 {
		return fsutil.WriteFileAtomic(path, nil)
	}
	keys := sortedKeys(rows)
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(keys); err != nil {
		return err
	}
	for _, r := range rows {
		record := make([]string, len(keys))
		for i, k := range keys {
			record[i] = cell(r[k])
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(path, buf.Bytes())
}

func cell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", x), "0"), ".")
	default:
		return fmt.Sprint(x)
	}
}

// LoadRows reads a previous export, either the JSON list or the CSV form.
func LoadRows(path string) ([]Row, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		var rows []Row
		if err := json.Unmarshal(data, &rows); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return rows, nil
	}
	r := csv.NewReader(bytes.NewReader(data))
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(records) < 1 {
		return nil, nil
	}
	header := records[0]
	rows := make([]Row, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := Row{}
		for i, k := range header {
			if i < len(rec) {
				row[k] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// LatestSearchExport finds the newest search export under dataDir, JSON
// preferred over CSV at equal mtime.
func LatestSearchExport(dataDir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dataDir, "cdp_search_*_export.json"))
	if err != nil {
		return "", err
	}
	csvs, err := filepath.Glob(filepath.Join(dataDir, "cdp_search_*_export.csv"))
	if err != nil {
		return "", err
	}
	matches = append(matches, csvs...)
	if len(matches) == 0 {
		return "", fmt.Errorf("no search export found under %s", dataDir)
	}
	sort.Slice(matches, func(i, j int) bool {
		fi, errI := os.Stat(matches[i])
		fj, errJ := os.Stat(matches[j])
		if errI != nil || errJ != nil {
			return matches[i] > matches[j]
		}
		if !fi.ModTime().Equal(fj.ModTime()) {
			return fi.ModTime().After(fj.ModTime())
		}
		jsonI := strings.EqualFold(filepath.Ext(matches[i]), ".json")
		jsonJ := strings.EqualFold(filepath.Ext(matches[j]), ".json")
		if jsonI != jsonJ {
			return jsonI
		}
		return matches[i] > matches[j]
	})
	return matches[0], nil
}

// keyOf extracts the (shop_id, item_id) join key from a row, tolerating the
// string values a CSV round trip produces.
func keyOf(r Row) (string, bool) {
	shop := cell(r["shop_id"])
	item := cell(r["item_id"])
	if shop == "" || item == "" {
		return "", false
	}
	return shop + ":" + item, true
}
