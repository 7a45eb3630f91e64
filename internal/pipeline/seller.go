package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tigerliu/idlewatch/internal/domain"
	"github.com/tigerliu/idlewatch/internal/parse"
)

const (
	sellerHeadTimeout = 10 * time.Second
	// per-batch quiet period while scrolling a paginated feed
	feedQuietPeriod = 8 * time.Second
	feedScrollStep  = 1200
)

// harvestSeller opens the seller's personal page and collects the three
// profile feeds. Every part is best effort; a partially filled profile is
// returned rather than an error since listing processing must go on.
func (w *Worker) harvestSeller(ctx context.Context, sess domain.BrowserSession, sellerID string) domain.SellerInfo {
	var info domain.SellerInfo
	if sellerID == "" {
		return info
	}
	log := w.logger.With(zap.String("seller_id", sellerID))

	headBodies, cancelHead := sess.Subscribe(apiSellerHead)
	defer cancelHead()
	itemBodies, cancelItems := sess.Subscribe(apiSellerItems)
	defer cancelItems()
	rateBodies, cancelRates := sess.Subscribe(apiSellerRatings)
	defer cancelRates()

	if err := sess.Navigate(ctx, fmt.Sprintf(sellerURLFormat, sellerID)); err != nil {
		log.Warn("seller page navigation failed", zap.Error(err))
		return info
	}

	if body, err := waitBody(ctx, headBodies, sellerHeadTimeout); err != nil {
		log.Warn("seller head feed missing", zap.Error(err))
	} else if head, err := parse.ParseSellerHead(body); err != nil {
		log.Warn("seller head unparsable", zap.Error(err))
	} else {
		info.Nickname = head.Nickname
		info.CreditLevel = head.CreditLevel
		info.PositiveRate = head.PositiveRate
		info.OnSaleCount = head.OnSaleCount
		info.SoldCount = head.SoldCount
	}

	info.RecentListings = w.collectListings(ctx, sess, itemBodies, log)

	// the ratings feed only loads once its tab is active
	if clicked, err := clickText(ctx, sess, labelRatings); err != nil || !clicked {
		if err := sess.Click(ctx, selRatingsTab); err != nil {
			log.Warn("ratings tab not clickable", zap.Error(err))
		}
	}
	info.Ratings = w.collectRatings(ctx, sess, rateBodies, log)
	info.Reputation = parse.ComputeReputation(info.Ratings)

	return info
}

// collectListings scrolls the items feed until the server reports no more
// pages or a batch fails to arrive within the quiet period.
func (w *Worker) collectListings(ctx context.Context, sess domain.BrowserSession, bodies <-chan []byte, log *zap.Logger) []domain.SellerListing {
	var all []domain.SellerListing
	w.scrollFeed(ctx, sess, bodies, func(body []byte) bool {
		items, nextPage, err := parse.ParseSellerItems(body)
		if err != nil {
			log.Warn("seller items unparsable", zap.Error(err))
			return false
		}
		all = append(all, items...)
		return nextPage
	})
	return all
}

func (w *Worker) collectRatings(ctx context.Context, sess domain.BrowserSession, bodies <-chan []byte, log *zap.Logger) []domain.SellerRating {
	var all []domain.SellerRating
	w.scrollFeed(ctx, sess, bodies, func(body []byte) bool {
		ratings, nextPage, err := parse.ParseSellerRatings(body)
		if err != nil {
			log.Warn("seller ratings unparsable", zap.Error(err))
			return false
		}
		all = append(all, ratings...)
		return nextPage
	})
	return all
}

// scrollFeed drives the scroll-to-load protocol: consume a batch, and while
// the handler reports more pages, scroll and wait for the next batch. The
// quiet period bounds each wait.
func (w *Worker) scrollFeed(ctx context.Context, sess domain.BrowserSession, bodies <-chan []byte, handle func([]byte) bool) {
	for {
		body, err := waitBody(ctx, bodies, feedQuietPeriod)
		if err != nil {
			return
		}
		if !handle(body) {
			return
		}
		if w.stopped.Load() || ctx.Err() != nil {
			return
		}
		if err := sess.ScrollBy(ctx, feedScrollStep); err != nil {
			return
		}
	}
}
