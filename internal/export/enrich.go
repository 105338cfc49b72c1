package export

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tidwall/sjson"
)

// Enrich merges PDP fields onto search rows by (shop_id, item_id),
// prefixing merged keys with "pdp_". Search rows without a PDP match pass
// through untouched. The merged export is written next to the input as
// <stem>_enriched.json/.csv.
func (e *Exporter) Enrich(searchRows, pdpRows []Row, inputPath string) (string, string, []Row, error) {
	byKey := make(map[string]Row, len(pdpRows))
	for _, r := range pdpRows {
		if k, ok := keyOf(r); ok {
			byKey[k] = r
		}
	}

	merged := make([]Row, 0, len(searchRows))
	for _, r := range searchRows {
		k, ok := keyOf(r)
		pdp, found := byKey[k]
		if !ok || !found {
			merged = append(merged, r)
			continue
		}
		row, err := mergeRow(r, pdp)
		if err != nil {
			e.log.Warn().Err(err).Msg("row merge failed, keeping original")
			merged = append(merged, r)
			continue
		}
		merged = append(merged, row)
	}

	stem := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	jsonOut := filepath.Join(e.dataDir, stem+"_enriched.json")
	csvOut := filepath.Join(e.dataDir, stem+"_enriched.csv")
	if err := writeJSONRows(merged, jsonOut); err != nil {
		return "", "", nil, err
	}
	if err := writeCSVRows(merged, csvOut); err != nil {
		return "", "", nil, err
	}
	return jsonOut, csvOut, merged, nil
}

// mergeRow applies pdp_<key> fields onto the search row through its JSON
// form, so value types survive exactly as they would serialize.
func mergeRow(search, pdp Row) (Row, error) {
	doc, err := json.Marshal(search)
	if err != nil {
		return nil, err
	}
	for k, v := range pdp {
		if k == "shop_id" || k == "item_id" {
			continue
		}
		doc, err = sjson.SetBytes(doc, "pdp_"+k, v)
		if err != nil {
			return nil, fmt.Errorf("set pdp_%s: %w", k, err)
		}
	}
	var out Row
	if err := json.Unmarshal(doc, &out); err != nil {
		return nil, err
	}
	return out, nil
}
