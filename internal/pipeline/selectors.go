package pipeline

// Marketplace entry points and the XHR endpoints intercepted by URL
// substring. The site renders through mtop, so all structured data comes
// from these responses rather than the DOM.
const (
	homeURL         = "https://www.goofish.com"
	searchURLFormat = "https://www.goofish.com/search?q=%s"
	sellerURLFormat = "https://www.goofish.com/personal?userId=%s"

	apiSearch        = "mtop.taobao.idlemtopsearch.pc.search"
	apiDetail        = "mtop.taobao.idle.pc.detail"
	apiSellerHead    = "mtop.idle.web.user.page.head"
	apiSellerItems   = "mtop.idle.web.xyh.item.list"
	apiSellerRatings = "mtop.idle.web.trade.rate.list"
)

// Anti-automation DOM markers. Either one appearing after the search
// navigation is an unconditional run abort.
const (
	selBaxiaDialog      = "div.baxia-dialog-mask"
	selMiddlewareWidget = "#J_MIDDLEWARE_FRAME_WIDGET"
)

// Filter affordances.
const (
	selNewPublishTab = `[class*="search-filter"]`
	selPriceMin      = `input[placeholder="¥ 最低价"]`
	selPriceMax      = `input[placeholder="¥ 最高价"]`
	selNextPage      = `[class*="search-pagination-arrow-right"]`
	selNextDisabled  = `[class*="search-pagination-arrow-right"][class*="disabled"]`
	selRatingsTab    = `[class*="rate-tab"]`
)

// Text labels clicked through the filter bar, in their on-page wording.
const (
	labelNewest           = "最新"
	labelPersonalOnly     = "个人闲置"
	labelFreeShipping     = "包邮"
	labelInspection       = "验货宝"
	labelAccountAssurance = "验号担保"
	labelSuperShop        = "超级好店"
	labelBrandNew         = "全新"
	labelStrictSelected   = "严选"
	labelResale           = "转卖"
	labelRegionMenu       = "所在地"
	labelRegionConfirm    = "确定"
	labelRatings          = "信用及评价"
)

// validNewPublishBuckets are the accepted publish-window labels. Anything
// else falls back to the newest sort.
var validNewPublishBuckets = map[string]bool{
	"1天内":  true,
	"3天内":  true,
	"7天内":  true,
	"14天内": true,
}
