package parse

import (
	"fmt"
	"strings"
)

// Detail is the typed projection of the listing detail payload's item_do and
// seller_do sections.
type Detail struct {
	ListingID    string
	Title        string
	Desc         string
	Price        string
	PublishTime  string
	ViewCount    int
	WantCount    int
	ImageURLs    []string
	MainImage    string
	SellerNick   string
	SellerID     string
	ZhimaCredit  string
	RegisterDays int
}

// ParseDetail extracts listing and seller fields from a detail API payload.
func ParseDetail(raw []byte) (*Detail, error) {
	p, err := decode(raw)
	if err != nil {
		return nil, err
	}
	itemDO := digMap(p.Data, "itemDO")
	sellerDO := digMap(p.Data, "sellerDO")
	if itemDO == nil && sellerDO == nil {
		return nil, fmt.Errorf("detail payload has neither itemDO nor sellerDO")
	}
	d := &Detail{}
	if itemDO != nil {
		d.ListingID = str(itemDO, "itemId")
		d.Title = str(itemDO, "title")
		d.Desc = str(itemDO, "desc")
		d.Price = str(itemDO, "soldPrice")
		if d.Price == "" {
			d.Price = str(itemDO, "price")
		}
		d.PublishTime = str(itemDO, "publishTime")
		if d.PublishTime == "" {
			d.PublishTime = str(itemDO, "gmtCreate")
		}
		d.ViewCount = num(itemDO, "browseCnt")
		d.WantCount = num(itemDO, "wantCnt")
		for _, img := range digSlice(itemDO, "imageInfos") {
			im, ok := img.(map[string]any)
			if !ok {
				continue
			}
			if u := normalizeImageURL(str(im, "url")); u != "" {
				d.ImageURLs = append(d.ImageURLs, u)
				if im["major"] == true && d.MainImage == "" {
					d.MainImage = u
				}
			}
		}
		if d.MainImage == "" && len(d.ImageURLs) > 0 {
			d.MainImage = d.ImageURLs[0]
		}
	}
	if sellerDO != nil {
		d.SellerNick = str(sellerDO, "nick")
		d.SellerID = str(sellerDO, "sellerId")
		d.ZhimaCredit = str(sellerDO, "zhimaLevelInfo")
		if d.ZhimaCredit == "" {
			if z := digMap(sellerDO, "zhimaLevelInfo"); z != nil {
				d.ZhimaCredit = str(z, "levelName")
			}
		}
		d.RegisterDays = num(sellerDO, "userRegDay")
	}
	return d, nil
}

// RegisterDurationLabel rounds a raw registration-day count into the
// human-readable label stored on records.
func RegisterDurationLabel(days int) string {
	switch {
	case days <= 0:
		return "未知"
	case days < 30:
		return fmt.Sprintf("%d天", days)
	case days < 365:
		return fmt.Sprintf("%d个月", days/30)
	default:
		years := float64(days) / 365.0
		label := fmt.Sprintf("%.1f", years)
		label = strings.TrimSuffix(label, ".0")
		return label + "年"
	}
}
