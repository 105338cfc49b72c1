// Package export normalizes raw capture JSONL into tabular product rows.
// It is a downstream consumer of the capture pipeline: unparsable bodies
// are dropped, never fatal.
package export

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// Row is one normalized record. Rows stay dynamic because CSV headers are
// the sorted union of keys across the export.
type Row = map[string]any

// Exporter turns capture files into JSON+CSV exports.
type Exporter struct {
	dataDir string
	domain  string
	log     zerolog.Logger
}

func New(dataDir, domain string, log zerolog.Logger) *Exporter {
	return &Exporter{dataDir: dataDir, domain: domain, log: log}
}

// decodeBody returns the parsed JSON body of one capture record, or an
// invalid result when the body is missing or unparsable.
func decodeBody(rec gjson.Result) gjson.Result {
	body := rec.Get("body")
	if body.Type != gjson.String {
		return gjson.Result{}
	}
	text := body.String()
	if rec.Get("base64").Bool() {
		raw, err := base64.StdEncoding.DecodeString(text)
		if err != nil {
			return gjson.Result{}
		}
		text = string(raw)
	}
	if !gjson.Valid(text) {
		return gjson.Result{}
	}
	return gjson.Parse(text)
}

func (e *Exporter) eachRecord(jsonlPath string, fn func(rec gjson.Result)) error {
	f, err := os.Open(jsonlPath)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || !gjson.Valid(line) {
			continue
		}
		fn(gjson.Parse(line))
	}
	return sc.Err()
}

// PDPFromJSONL normalizes a PDP capture into rows and writes
// <stem>_export.json/.csv. Returns both paths and the rows.
func (e *Exporter) PDPFromJSONL(jsonlPath string) (string, string, []Row, error) {
	var rows []Row
	err := e.eachRecord(jsonlPath, func(rec gjson.Result) {
		body := decodeBody(rec)
		if !body.Exists() {
			return
		}
		if row := normalizePDP(body, rec.Get("url").String(), rec.Get("status")); row != nil {
			rows = append(rows, row)
		}
	})
	if err != nil {
		return "", "", nil, err
	}
	rows = Dedupe(rows)
	jsonOut, csvOut, err := e.writeExports(jsonlPath, rows)
	return jsonOut, csvOut, rows, err
}

// SearchFromJSONL normalizes a search capture into item rows with
// synthesized product URLs.
func (e *Exporter) SearchFromJSONL(jsonlPath string) (string, string, []Row, error) {
	var rows []Row
	err := e.eachRecord(jsonlPath, func(rec gjson.Result) {
		body := decodeBody(rec)
		if !body.Exists() {
			return
		}
		rows = append(rows, e.normalizeSearch(body)...)
	})
	if err != nil {
		return "", "", nil, err
	}
	rows = Dedupe(rows)
	jsonOut, csvOut, err := e.writeExports(jsonlPath, rows)
	return jsonOut, csvOut, rows, err
}

func (e *Exporter) writeExports(jsonlPath string, rows []Row) (string, string, error) {
	stem := strings.TrimSuffix(filepath.Base(jsonlPath), filepath.Ext(jsonlPath))
	jsonOut := filepath.Join(e.dataDir, stem+"_export.json")
	csvOut := filepath.Join(e.dataDir, stem+"_export.csv")
	if err := writeJSONRows(rows, jsonOut); err != nil {
		return "", "", err
	}
	if err := writeCSVRows(rows, csvOut); err != nil {
		return "", "", err
	}
	e.log.Info().Int("rows", len(rows)).Str("json", jsonOut).Str("csv", csvOut).Msg("export written")
	return jsonOut, csvOut, nil
}

// normalizePDP flattens one PDP API payload. Price resolution order:
// single_value, then price_min/price_max, then the first model's price.
func normalizePDP(body gjson.Result, pageURL string, status gjson.Result) Row {
	item := body.Get("data.item")
	if !item.IsObject() {
		return nil
	}
	row := Row{
		"item_id":       intOrNil(item.Get("item_id")),
		"shop_id":       intOrNil(item.Get("shop_id")),
		"title":         strOrNil(item.Get("title")),
		"currency":      strOrNil(item.Get("currency")),
		"rating_star":   floatOrNil(item.Get("item_rating.rating_star")),
		"shop_location": strOrNil(item.Get("shop_location")),
		"source_url":    pageURL,
		"status":        intOrNil(status),
	}

	priceMin, priceMax := normalizePrice(item)
	row["price_min"] = priceMin
	row["price_max"] = priceMax

	var names []string
	item.Get("categories").ForEach(func(_, c gjson.Result) bool {
		if n := c.Get("display_name").String(); n != "" {
			names = append(names, n)
		}
		return true
	})
	if len(names) > 0 {
		row["category_path"] = strings.Join(names, " > ")
	} else {
		row["category_path"] = nil
	}

	images := item.Get("product_images.images")
	if images.IsArray() && len(images.Array()) > 0 {
		row["first_image"] = images.Array()[0].String()
	} else {
		row["first_image"] = nil
	}
	return row
}

func normalizePrice(item gjson.Result) (any, any) {
	if single := item.Get("product_price.price.single_value"); single.Type == gjson.Number {
		v := single.Int()
		return v, v
	}
	pmin := item.Get("price_min")
	pmax := item.Get("price_max")
	if pmin.Type == gjson.Number || pmax.Type == gjson.Number {
		return intOrNil(pmin), intOrNil(pmax)
	}
	if mp := item.Get("models.0.price"); mp.Type == gjson.Number {
		v := mp.Int()
		return v, v
	}
	return nil, nil
}

// normalizeSearch flattens a search_items payload into one row per item,
// synthesizing the PDP URL from shop and item ids.
func (e *Exporter) normalizeSearch(body gjson.Result) []Row {
	var rows []Row
	body.Get("items").ForEach(func(_, entry gjson.Result) bool {
		it := entry.Get("item_basic")
		if !it.IsObject() {
			it = entry
		}
		itemID := it.Get("itemid")
		shopID := it.Get("shopid")
		row := Row{
			"item_id":       intOrNil(itemID),
			"shop_id":       intOrNil(shopID),
			"title":         strOrNil(it.Get("name")),
			"currency":      strOrNil(it.Get("currency")),
			"price_min":     intOrNil(it.Get("price_min")),
			"price_max":     intOrNil(it.Get("price_max")),
			"sold":          intOrNil(it.Get("historical_sold")),
			"shop_location": strOrNil(it.Get("shop_location")),
		}
		if itemID.Type == gjson.Number && shopID.Type == gjson.Number {
			row["url"] = fmt.Sprintf("https://%s/product/%d/%d", e.domain, shopID.Int(), itemID.Int())
		} else {
			row["url"] = nil
		}
		rows = append(rows, row)
		return true
	})
	return rows
}

// Dedupe drops later rows sharing a (shop_id, item_id) key; rows without a
// full key are kept.
func Dedupe(rows []Row) []Row {
	seen := map[[2]int64]bool{}
	out := rows[:0]
	for _, r := range rows {
		shop, okS := asInt64(r["shop_id"])
		item, okI := asInt64(r["item_id"])
		if !okS || !okI {
			out = append(out, r)
			continue
		}
		k := [2]int64{shop, item}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, r)
	}
	return out
}

// URLs extracts the non-empty url field of each row, preserving order.
func URLs(rows []Row) []string {
	var out []string
	for _, r := range rows {
		if u, ok := r["url"].(string); ok && u != "" {
			out = append(out, u)
		}
	}
	return out
}

func intOrNil(v gjson.Result) any {
	if v.Type == gjson.Number {
		return v.Int()
	}
	return nil
}

func floatOrNil(v gjson.Result) any {
	if v.Type == gjson.Number {
		return v.Float()
	}
	return nil
}

func strOrNil(v gjson.Result) any {
	if v.Type == gjson.String {
		return v.String()
	}
	return nil
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}

func sortedKeys(rows []Row) []string {
	set := map[string]bool{}
	for _, r := range rows {
		for k := range r {
			set[k] = true
		}
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
