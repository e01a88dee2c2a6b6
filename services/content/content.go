package content

import (
	"context"
	"time"

	"wekapay-settlement/pkg/errutil"
	"wekapay-settlement/pkg/repository"

	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("content.resolver",
	fx.Provide(NewResolver),
)

const StatusPublished = "published"

// Content is owned by the content service; settlement only reads the fields
// it needs to price a purchase and route the credit.
type Content struct {
	ID        string    `gorm:"column:id;primaryKey"`
	CreatorID string    `gorm:"column:creator_id;index"`
	Price     int64     `gorm:"column:price"`
	Status    string    `gorm:"column:status"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (Content) TableName() string {
	return "contents"
}

type Resolver struct {
	contents repository.Repository[Content]
}

func NewResolver(db *gorm.DB) *Resolver {
	return &Resolver{
		contents: repository.ProvideStore[Content](db),
	}
}

// Resolve returns the purchasable content item, rejecting unknown or
// unpublished IDs before any charge is attempted.
func (r *Resolver) Resolve(ctx context.Context, contentID string) (*Content, error) {
	item, err := r.contents.FindOne(ctx, &Content{ID: contentID})
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, errutil.NotFound("content not found", nil)
	}
	if item.Status != StatusPublished {
		return nil, errutil.UnprocessableEntity("content is not purchasable", nil)
	}
	return item, nil
}
