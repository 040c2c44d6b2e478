package catalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHotelSearchParamsValidate(t *testing.T) {
	in := time.Now().AddDate(0, 0, 7)
	out := in.AddDate(0, 0, 2)

	assert.NoError(t, HotelSearchParams{DestinationID: "d1", CheckIn: in, CheckOut: out}.Validate())

	// Missing dates fail before any provider call.
	assert.ErrorIs(t, HotelSearchParams{DestinationID: "d1"}.Validate(), ErrMissingDates)
	assert.ErrorIs(t, HotelSearchParams{DestinationID: "d1", CheckIn: in}.Validate(), ErrMissingDates)

	// Inverted and same-day ranges are invalid.
	assert.ErrorIs(t, HotelSearchParams{DestinationID: "d1", CheckIn: out, CheckOut: in}.Validate(), ErrInvalidDates)
	assert.ErrorIs(t, HotelSearchParams{DestinationID: "d1", CheckIn: in, CheckOut: in}.Validate(), ErrInvalidDates)

	// Past stays are invalid.
	pastIn := time.Now().AddDate(0, 0, -10)
	pastOut := pastIn.AddDate(0, 0, 2)
	assert.ErrorIs(t, HotelSearchParams{DestinationID: "d1", CheckIn: pastIn, CheckOut: pastOut}.Validate(), ErrInvalidDates)
}

func TestTaoNormalize(t *testing.T) {
	p := &TaoProvider{}

	item := p.normalize(taoItem{
		NumIID:         "12345",
		Title:          "Silk scarf",
		PicURL:         "https://img.example.com/1.jpg",
		Price:          "99.00",
		PromotionPrice: "79.50",
		SellerNick:     "silkshop",
		Score:          "4.8",
		Area:           "Guangzhou",
	})

	assert.Equal(t, "tao", item.Source)
	assert.Equal(t, "12345", item.ExternalID)
	assert.Equal(t, 79.5, item.Price, "promotion price wins over list price")
	assert.Equal(t, "CNY", item.Currency)
	assert.Equal(t, 4.8, item.Rating)
	assert.Equal(t, "silkshop", item.Extra["seller"])
}

func TestTaoNormalizeWithoutPromotion(t *testing.T) {
	p := &TaoProvider{}

	item := p.normalize(taoItem{NumIID: "9", Title: "Tea set", Price: "120.00"})

	assert.Equal(t, 120.0, item.Price)
	assert.Empty(t, item.Extra)
}
