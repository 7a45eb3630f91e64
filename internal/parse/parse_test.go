package parse

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tigerliu/idlewatch/internal/domain"
)

const searchPayload = `{
  "ret": ["SUCCESS::调用成功"],
  "data": {
    "resultList": [
      {"data": {"item": {"main": {
         "exContent": {
            "title": "索尼 a7m4 单机身",
            "area": "上海",
            "userNickName": "老王",
            "picUrl": "//img.alicdn.com/pic1.jpg",
            "price": [{"text": "¥"}, {"text": "12500"}]
         },
         "clickParam": {"args": {"id": "111"}}
      }}}},
      {"data": {"item": {"main": {
         "exContent": {"title": "无ID条目"}
      }}}},
      {"data": {"bad": "shape"}}
    ]
  }
}`

func TestParseSearch(t *testing.T) {
	items, err := ParseSearch([]byte(searchPayload))
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "111", items[0].ListingID)
	require.Equal(t, "索尼 a7m4 单机身", items[0].Title)
	require.Equal(t, "¥12500", items[0].Price)
	require.Equal(t, "https://img.alicdn.com/pic1.jpg", items[0].PicURL)
	require.Equal(t, "https://www.goofish.com/item?id=111", items[0].Link)
	require.Empty(t, items[1].ListingID, "rows without id survive with empty key")
}

func TestParseSearchMalformed(t *testing.T) {
	_, err := ParseSearch([]byte("not json"))
	require.Error(t, err)

	items, err := ParseSearch([]byte(`{"ret":["SUCCESS"],"data":{}}`))
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestRetContains(t *testing.T) {
	require.True(t, RetContains([]byte(`{"ret":["FAIL_SYS_USER_VALIDATE::被挤爆啦"]}`), "FAIL_SYS_USER_VALIDATE"))
	require.False(t, RetContains([]byte(`{"ret":["SUCCESS::调用成功"]}`), "FAIL_SYS_USER_VALIDATE"))
	require.True(t, RetContains([]byte(`garbage FAIL_SYS_USER_VALIDATE garbage`), "FAIL_SYS_USER_VALIDATE"))
}

const detailPayload = `{
  "ret": ["SUCCESS::调用成功"],
  "data": {
    "itemDO": {
      "itemId": 111,
      "title": "索尼 a7m4",
      "soldPrice": "12500",
      "publishTime": "2026-04-28 10:00",
      "browseCnt": "1.2万",
      "wantCnt": 56,
      "imageInfos": [
        {"url": "//img.alicdn.com/a.jpg", "major": true},
        {"url": "//img.alicdn.com/b.jpg"}
      ]
    },
    "sellerDO": {
      "nick": "老王",
      "sellerId": 9001,
      "userRegDay": 1100,
      "zhimaLevelInfo": {"levelName": "芝麻信用极好"}
    }
  }
}`

func TestParseDetail(t *testing.T) {
	d, err := ParseDetail([]byte(detailPayload))
	require.NoError(t, err)
	require.Equal(t, "111", d.ListingID)
	require.Equal(t, "12500", d.Price)
	require.Equal(t, 12000, d.ViewCount)
	require.Equal(t, 56, d.WantCount)
	require.Equal(t, []string{"https://img.alicdn.com/a.jpg", "https://img.alicdn.com/b.jpg"}, d.ImageURLs)
	require.Equal(t, "https://img.alicdn.com/a.jpg", d.MainImage)
	require.Equal(t, "老王", d.SellerNick)
	require.Equal(t, "芝麻信用极好", d.ZhimaCredit)
	require.Equal(t, 1100, d.RegisterDays)
}

func TestParseDetailEmpty(t *testing.T) {
	_, err := ParseDetail([]byte(`{"ret":["SUCCESS"],"data":{}}`))
	require.Error(t, err)
}

func TestRegisterDurationLabel(t *testing.T) {
	require.Equal(t, "未知", RegisterDurationLabel(0))
	require.Equal(t, "15天", RegisterDurationLabel(15))
	require.Equal(t, "3个月", RegisterDurationLabel(100))
	require.Equal(t, "3年", RegisterDurationLabel(1095))
	require.Equal(t, "1.5年", RegisterDurationLabel(548))
}

const sellerHeadPayload = `{
  "ret": ["SUCCESS::调用成功"],
  "data": {"module": {
    "base": {"displayName": "老王", "ylzTags": {"text": "信用优秀"}},
    "tabs": {"item": {"number": 12}, "rate": {"number": 88}},
    "social": {"goodRatePercentage": "98.5%"}
  }}
}`

func TestParseSellerHead(t *testing.T) {
	head, err := ParseSellerHead([]byte(sellerHeadPayload))
	require.NoError(t, err)
	require.Equal(t, "老王", head.Nickname)
	require.Equal(t, "信用优秀", head.CreditLevel)
	require.Equal(t, "98.5%", head.PositiveRate)
	require.Equal(t, 12, head.OnSaleCount)
	require.Equal(t, 88, head.SoldCount)
}

func TestParseSellerItems(t *testing.T) {
	payload := `{"ret":["SUCCESS"],"data":{"cardList":[
	  {"cardData":{"title":"旧镜头"}},
	  {"cardData":{"title":"三脚架"}},
	  {"cardData":{}}
	],"nextPage":true}}`
	items, more, err := ParseSellerItems([]byte(payload))
	require.NoError(t, err)
	require.True(t, more)
	require.Equal(t, []domain.SellerListing{{Title: "旧镜头"}, {Title: "三脚架"}}, items)
}

func TestParseSellerRatingsAndReputation(t *testing.T) {
	payload := `{"ret":["SUCCESS"],"data":{"cardList":[
	  {"cardData":{"rate":1,"feedback":"好卖家"}},
	  {"cardData":{"rate":-1,"feedback":"描述不符"}},
	  {"cardData":{"rate":0}}
	],"nextPage":false}}`
	ratings, more, err := ParseSellerRatings([]byte(payload))
	require.NoError(t, err)
	require.False(t, more)
	require.Len(t, ratings, 3)
	require.Equal(t, "好评", ratings[0].Rate)
	require.Equal(t, "差评", ratings[1].Rate)

	stats := ComputeReputation(ratings)
	require.Equal(t, 3, stats.Total)
	require.Equal(t, 1, stats.Positive)
	require.Equal(t, 1, stats.Neutral)
	require.Equal(t, 1, stats.Negative)
}
