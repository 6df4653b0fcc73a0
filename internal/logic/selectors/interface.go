package selectors

import (
	"context"
	"iter"

	"github.com/patrickwarner/adselect/internal/logic"
	"github.com/patrickwarner/adselect/internal/models"
)

// Selector defines a pluggable interface for ad selection.
type Selector interface {
	ChooseAd(ctx context.Context, req models.AdRequest) (*models.AdEntry, error)
	ChooseAdWithTrace(ctx context.Context, req models.AdRequest, trace *logic.SelectionTrace) (*models.AdEntry, error)
	ChooseAds(ctx context.Context, req models.AdRequest) (iter.Seq[models.AdEntry], error)
}

var _ Selector = (*AdSelector)(nil)
