package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tigerliu/idlewatch/internal/domain"
	"github.com/tigerliu/idlewatch/internal/taskcfg"
)

const filterWaitTimeout = 20 * time.Second

// applyFilters walks the task's filter settings in the fixed on-page order.
// Each successful click swaps in the fresh search response; a missing
// affordance or a timeout skips that filter and keeps going. The returned
// body is the last response observed (nil when no filter applied).
func (w *Worker) applyFilters(ctx context.Context, task domain.Task, sess domain.BrowserSession, bodies <-chan []byte) ([]byte, error) {
	var latest []byte

	bucket := task.NewPublishOption
	if !validNewPublishBuckets[bucket] {
		bucket = labelNewest
	}
	steps := []struct {
		label string
		on    bool
	}{
		{bucket, true},
		{labelPersonalOnly, task.PersonalOnly},
		{labelFreeShipping, task.FreeShipping},
		{labelInspection, task.InspectionService},
		{labelAccountAssurance, task.AccountAssurance},
		{labelSuperShop, task.SuperShop},
		{labelBrandNew, task.BrandNew},
		{labelStrictSelected, task.StrictSelected},
		{labelResale, task.Resale},
	}
	for _, step := range steps {
		if !step.on {
			continue
		}
		if err := w.checkStop(ctx); err != nil {
			return latest, err
		}
		body, err := w.applyTextFilter(ctx, sess, bodies, step.label)
		if err != nil {
			w.logger.Warn("filter skipped", zap.String("filter", step.label), zap.Error(err))
			continue
		}
		latest = body
	}

	if task.Region != "" {
		body, err := w.applyRegionFilter(ctx, sess, bodies, task.Region)
		if err != nil {
			w.logger.Warn("region filter skipped", zap.String("region", task.Region), zap.Error(err))
		} else if body != nil {
			latest = body
		}
	}

	if task.MinPrice != "" || task.MaxPrice != "" {
		body, err := w.applyPriceFilter(ctx, sess, bodies, task.MinPrice, task.MaxPrice)
		if err != nil {
			w.logger.Warn("price filter skipped", zap.Error(err))
		} else if body != nil {
			latest = body
		}
	}

	return latest, nil
}

func (w *Worker) applyTextFilter(ctx context.Context, sess domain.BrowserSession, bodies <-chan []byte, label string) ([]byte, error) {
	drain(bodies)
	clicked, err := clickText(ctx, sess, label)
	if err != nil {
		return nil, err
	}
	if !clicked {
		return nil, fmt.Errorf("filter %q not on page", label)
	}
	return waitBody(ctx, bodies, filterWaitTimeout)
}

// applyRegionFilter opens the region popover and clicks the parts of the
// normalized region path, then confirms.
func (w *Worker) applyRegionFilter(ctx context.Context, sess domain.BrowserSession, bodies <-chan []byte, region string) ([]byte, error) {
	path := taskcfg.RegionClickPath(region)
	if len(path) == 0 {
		return nil, nil
	}
	if clicked, err := clickText(ctx, sess, labelRegionMenu); err != nil || !clicked {
		return nil, fmt.Errorf("region menu not on page")
	}
	for _, part := range path {
		if clicked, err := clickText(ctx, sess, part); err != nil || !clicked {
			return nil, fmt.Errorf("region option %q not on page", part)
		}
	}
	drain(bodies)
	if clicked, err := clickText(ctx, sess, labelRegionConfirm); err != nil || !clicked {
		return nil, fmt.Errorf("region confirm not on page")
	}
	return waitBody(ctx, bodies, filterWaitTimeout)
}

// applyPriceFilter fills the range inputs and commits with Tab.
func (w *Worker) applyPriceFilter(ctx context.Context, sess domain.BrowserSession, bodies <-chan []byte, minPrice, maxPrice string) ([]byte, error) {
	if minPrice != "" {
		if err := sess.Fill(ctx, selPriceMin, minPrice); err != nil {
			return nil, fmt.Errorf("min price input: %w", err)
		}
	}
	if maxPrice != "" {
		if err := sess.Fill(ctx, selPriceMax, maxPrice); err != nil {
			return nil, fmt.Errorf("max price input: %w", err)
		}
	}
	drain(bodies)
	if err := sess.PressKey(ctx, "Tab"); err != nil {
		return nil, fmt.Errorf("commit price range: %w", err)
	}
	return waitBody(ctx, bodies, filterWaitTimeout)
}

// clickText clicks the first leaf element whose text equals label. The
// filter bar renders leaf spans, so matching on childless nodes avoids
// hitting a container.
func clickText(ctx context.Context, sess domain.BrowserSession, label string) (bool, error) {
	expr := fmt.Sprintf(`(() => {
  const nodes = document.querySelectorAll('div,span,a,li,button');
  for (const n of nodes) {
    if (n.childElementCount === 0 && n.textContent.trim() === %q) { n.click(); return true; }
  }
  return false;
})()`, label)
	var clicked bool
	if err := sess.Evaluate(ctx, expr, &clicked); err != nil {
		return false, fmt.Errorf("click %q: %w", label, err)
	}
	return clicked, nil
}
