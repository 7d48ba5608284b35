package sources

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"docloader/internal/domain"
)

// ── Container decoding ──────────────────────────────────────
// JSON layout shared by the file, http and s3 resolvers:
//
//	{"name": "1ABC", "categories": [
//	  {"name": "entity", "attributes": ["id", "type"], "rows": [["1", "polymer"]]}]}
//
// Cells may be strings, numbers, booleans or null (read as "?").

type containerJSON struct {
	Name       string            `json:"name"`
	Props      map[string]string `json:"props"`
	Categories []struct {
		Name       string   `json:"name"`
		Attributes []string `json:"attributes"`
		Rows       [][]any  `json:"rows"`
	} `json:"categories"`
}

// splitFragment separates "path#data.path" into its parts.
func splitFragment(ref string) (string, string) {
	if i := strings.LastIndex(ref, "#"); i >= 0 {
		return ref[:i], ref[i+1:]
	}
	return ref, ""
}

// decodeContainer reads one container, optionally nested under a
// dot-separated dataPath.
func decodeContainer(r io.Reader, dataPath string) (*domain.Container, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read container: %w", err)
	}
	if dataPath != "" {
		var raw any
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
		for _, part := range strings.Split(dataPath, ".") {
			m, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("invalid data path: %q not found", part)
			}
			if raw, ok = m[part]; !ok {
				return nil, fmt.Errorf("invalid data path: %q not found", part)
			}
		}
		if data, err = json.Marshal(raw); err != nil {
			return nil, err
		}
	}

	var cj containerJSON
	if err := json.Unmarshal(data, &cj); err != nil {
		return nil, fmt.Errorf("parse container: %w", err)
	}
	if cj.Name == "" {
		return nil, fmt.Errorf("parse container: missing name")
	}
	c := domain.NewContainer(cj.Name)
	for k, v := range cj.Props {
		c.SetProp(k, v)
	}
	for _, cat := range cj.Categories {
		out := domain.NewCategory(cat.Name, cat.Attributes...)
		for i, row := range cat.Rows {
			if len(row) != len(cat.Attributes) {
				return nil, fmt.Errorf("category %s row %d: %d values for %d attributes", cat.Name, i, len(row), len(cat.Attributes))
			}
			vals := make([]string, len(row))
			for j, cell := range row {
				vals[j] = cellString(cell)
			}
			out.Rows = append(out.Rows, vals)
		}
		c.Append(out)
	}
	return c, nil
}

func cellString(v any) string {
	switch x := v.(type) {
	case nil:
		return "?"
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		b, _ := json.Marshal(x)
		return string(b)
	}
}
