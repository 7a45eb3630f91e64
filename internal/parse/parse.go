// Package parse maps raw marketplace API payloads to typed records. The
// wire format is duck-typed JSON; every accessor tolerates missing fields
// and returns zero values instead of failing.
package parse

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// SearchItem is one row of the search result page's basic list.
type SearchItem struct {
	ListingID string
	Title     string
	Price     string
	Link      string
	Area      string
	SellerNick string
	PicURL    string
}

// payload wraps a decoded mtop response body.
type payload struct {
	Ret  []string       `json:"ret"`
	Data map[string]any `json:"data"`
}

func decode(raw []byte) (*payload, error) {
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode api payload: %w", err)
	}
	return &p, nil
}

// RetContains reports whether the payload's ret field mentions marker. Used
// for the FAIL_SYS_USER_VALIDATE risk check; malformed payloads report false.
func RetContains(raw []byte, marker string) bool {
	var p struct {
		Ret []string `json:"ret"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return strings.Contains(string(raw), marker)
	}
	for _, r := range p.Ret {
		if strings.Contains(r, marker) {
			return true
		}
	}
	return false
}

// navigation helpers over duck-typed maps

func digMap(m map[string]any, path ...string) map[string]any {
	cur := m
	for _, key := range path {
		next, ok := cur[key].(map[string]any)
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

func digSlice(m map[string]any, path ...string) []any {
	if len(path) == 0 {
		return nil
	}
	parent := m
	if len(path) > 1 {
		parent = digMap(m, path[:len(path)-1]...)
	}
	if parent == nil {
		return nil
	}
	s, _ := parent[path[len(path)-1]].([]any)
	return s
}

func str(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

func num(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case string:
		// counts sometimes arrive as "1.2万"
		s := strings.TrimSpace(v)
		if strings.HasSuffix(s, "万") {
			if f, err := strconv.ParseFloat(strings.TrimSuffix(s, "万"), 64); err == nil {
				return int(f * 10000)
			}
		}
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return 0
}

// ParseSearch extracts the basic listing list from a search API payload.
func ParseSearch(raw []byte) ([]SearchItem, error) {
	p, err := decode(raw)
	if err != nil {
		return nil, err
	}
	rows := digSlice(p.Data, "resultList")
	items := make([]SearchItem, 0, len(rows))
	for _, row := range rows {
		rm, ok := row.(map[string]any)
		if !ok {
			continue
		}
		main := digMap(rm, "data", "item", "main")
		if main == nil {
			continue
		}
		ex := digMap(main, "exContent")
		if ex == nil {
			continue
		}
		item := SearchItem{
			Title:      str(ex, "title"),
			Area:       str(ex, "area"),
			SellerNick: str(ex, "userNickName"),
			PicURL:     normalizeImageURL(str(ex, "picUrl")),
			Price:      flattenPrice(ex["price"]),
		}
		if args := digMap(main, "clickParam", "args"); args != nil {
			item.ListingID = str(args, "id")
			if item.ListingID == "" {
				item.ListingID = str(args, "item_id")
			}
		}
		if item.ListingID == "" {
			item.ListingID = str(ex, "itemId")
		}
		if item.ListingID != "" {
			item.Link = "https://www.goofish.com/item?id=" + item.ListingID
		}
		if item.ListingID == "" && item.Title == "" {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// flattenPrice joins the price part list the search feed uses, e.g.
// [{text:"¥"},{text:"1850"}] becomes "¥1850".
func flattenPrice(v any) string {
	switch pv := v.(type) {
	case string:
		return pv
	case []any:
		var b strings.Builder
		for _, part := range pv {
			if pm, ok := part.(map[string]any); ok {
				b.WriteString(str(pm, "text"))
			}
		}
		return b.String()
	default:
		return ""
	}
}

func normalizeImageURL(u string) string {
	if strings.HasPrefix(u, "//") {
		return "https:" + u
	}
	return u
}
