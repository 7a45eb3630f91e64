package parse

import (
	"github.com/tigerliu/idlewatch/internal/domain"
)

// SellerHead is the typed projection of the seller page head summary feed.
type SellerHead struct {
	Nickname     string
	CreditLevel  string
	PositiveRate string
	OnSaleCount  int
	SoldCount    int
}

// ParseSellerHead extracts the seller page head summary.
func ParseSellerHead(raw []byte) (*SellerHead, error) {
	p, err := decode(raw)
	if err != nil {
		return nil, err
	}
	head := &SellerHead{}
	if base := digMap(p.Data, "module", "base"); base != nil {
		head.Nickname = str(base, "displayName")
		if head.Nickname == "" {
			head.Nickname = str(base, "nick")
		}
		if ylz := digMap(base, "ylzTags"); ylz != nil {
			head.CreditLevel = str(ylz, "text")
		}
	}
	if tabs := digMap(p.Data, "module", "tabs"); tabs != nil {
		if item := digMap(tabs, "item"); item != nil {
			head.OnSaleCount = num(item, "number")
		}
		if rate := digMap(tabs, "rate"); rate != nil {
			head.SoldCount = num(rate, "number")
		}
	}
	if social := digMap(p.Data, "module", "social"); social != nil {
		head.PositiveRate = str(social, "goodRatePercentage")
	}
	return head, nil
}

// ParseSellerItems extracts title-only rows from one page of the seller's
// items feed. nextPage reports whether another scroll batch is expected.
func ParseSellerItems(raw []byte) (items []domain.SellerListing, nextPage bool, err error) {
	p, err := decode(raw)
	if err != nil {
		return nil, false, err
	}
	for _, row := range digSlice(p.Data, "cardList") {
		rm, ok := row.(map[string]any)
		if !ok {
			continue
		}
		cardData := digMap(rm, "cardData")
		if cardData == nil {
			continue
		}
		title := str(cardData, "title")
		if title == "" {
			continue
		}
		items = append(items, domain.SellerListing{Title: title})
	}
	nextPage = p.Data != nil && p.Data["nextPage"] == true
	return items, nextPage, nil
}

// ParseSellerRatings extracts one page of the seller's rating feed.
func ParseSellerRatings(raw []byte) (ratings []domain.SellerRating, nextPage bool, err error) {
	p, err := decode(raw)
	if err != nil {
		return nil, false, err
	}
	for _, row := range digSlice(p.Data, "cardList") {
		rm, ok := row.(map[string]any)
		if !ok {
			continue
		}
		cardData := digMap(rm, "cardData")
		if cardData == nil {
			continue
		}
		rating := domain.SellerRating{
			Content: str(cardData, "feedback"),
			Role:    str(cardData, "rateType"),
		}
		switch num(cardData, "rate") {
		case 1:
			rating.Rate = "好评"
		case 0:
			rating.Rate = "中评"
		case -1:
			rating.Rate = "差评"
		default:
			rating.Rate = str(cardData, "rate")
		}
		ratings = append(ratings, rating)
	}
	nextPage = p.Data != nil && p.Data["nextPage"] == true
	return ratings, nextPage, nil
}

// ComputeReputation aggregates the rating list into counters.
func ComputeReputation(ratings []domain.SellerRating) domain.ReputationStats {
	stats := domain.ReputationStats{Total: len(ratings)}
	for _, r := range ratings {
		switch r.Rate {
		case "好评":
			stats.Positive++
		case "差评":
			stats.Negative++
		default:
			stats.Neutral++
		}
	}
	return stats
}
