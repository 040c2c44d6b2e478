package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Destination is a resolved booking destination.
type Destination struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Country string `json:"country,omitempty"`
	Type    string `json:"type,omitempty"`
}

// HotelSearchParams carries an availability query. Date ranges are
// mandatory; the provider is never called with an invalid range.
type HotelSearchParams struct {
	DestinationID string
	CheckIn       time.Time
	CheckOut      time.Time
	Adults        int
	Rooms         int
}

var (
	ErrMissingDates = errors.New("check-in and check-out dates are required")
	ErrInvalidDates = errors.New("check-out must be after check-in and not in the past")
)

// Validate fails fast so invalid availability queries never reach the wire.
func (p HotelSearchParams) Validate() error {
	if p.CheckIn.IsZero() || p.CheckOut.IsZero() {
		return ErrMissingDates
	}
	if !p.CheckOut.After(p.CheckIn) {
		return ErrInvalidDates
	}
	if p.CheckOut.Before(time.Now().Truncate(24 * time.Hour)) {
		return ErrInvalidDates
	}
	return nil
}

// BookingProvider is the availability provider contract.
type BookingProvider interface {
	SearchDestination(ctx context.Context, query string) ([]Destination, error)
	SearchHotels(ctx context.Context, params HotelSearchParams) (*SearchResult, error)
	GetItemDetails(ctx context.Context, id string) (*Item, error)
}

// BookingClient is an HTTP implementation of BookingProvider.
type BookingClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewBookingClient(baseURL, apiKey string, timeout time.Duration) *BookingClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &BookingClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *BookingClient) SearchDestination(ctx context.Context, query string) ([]Destination, error) {
	if query == "" {
		return nil, errors.New("destination query is required")
	}

	q := url.Values{}
	q.Set("query", query)

	var out []Destination
	if err := c.get(ctx, "/destinations/search", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BookingClient) SearchHotels(ctx context.Context, params HotelSearchParams) (*SearchResult, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if params.Adults <= 0 {
		params.Adults = 2
	}
	if params.Rooms <= 0 {
		params.Rooms = 1
	}

	q := url.Values{}
	q.Set("dest_id", params.DestinationID)
	q.Set("checkin", params.CheckIn.Format("2006-01-02"))
	q.Set("checkout", params.CheckOut.Format("2006-01-02"))
	q.Set("adults", strconv.Itoa(params.Adults))
	q.Set("rooms", strconv.Itoa(params.Rooms))

	var raw struct {
		Hotels []struct {
			HotelID     json.Number `json:"hotel_id"`
			Name        string      `json:"hotel_name"`
			ReviewScore float64     `json:"review_score"`
			GrossPrice  float64     `json:"gross_price"`
			Currency    string      `json:"currency"`
			PhotoURL    string      `json:"main_photo_url"`
			PageURL     string      `json:"url"`
		} `json:"hotels"`
		Total int `json:"count"`
	}
	if err := c.get(ctx, "/hotels/search", q, &raw); err != nil {
		return nil, err
	}

	result := &SearchResult{TotalCount: raw.Total, Page: 1, PageSize: len(raw.Hotels)}
	for _, h := range raw.Hotels {
		result.Items = append(result.Items, Item{
			Source:     "booking",
			ExternalID: h.HotelID.String(),
			Title:      h.Name,
			Price:      h.GrossPrice,
			Currency:   h.Currency,
			Rating:     h.ReviewScore,
			ImageURL:   h.PhotoURL,
			DetailURL:  h.PageURL,
		})
	}
	return result, nil
}

func (c *BookingClient) GetItemDetails(ctx context.Context, id string) (*Item, error) {
	q := url.Values{}
	q.Set("hotel_id", id)

	var raw struct {
		HotelID     json.Number `json:"hotel_id"`
		Name        string      `json:"hotel_name"`
		ReviewScore float64     `json:"review_score"`
		Currency    string      `json:"currency"`
		PhotoURL    string      `json:"main_photo_url"`
		PageURL     string      `json:"url"`
	}
	if err := c.get(ctx, "/hotels/details", q, &raw); err != nil {
		return nil, err
	}
	if raw.Name == "" {
		return nil, nil
	}

	return &Item{
		Source:     "booking",
		ExternalID: raw.HotelID.String(),
		Title:      raw.Name,
		Currency:   raw.Currency,
		Rating:     raw.ReviewScore,
		ImageURL:   raw.PhotoURL,
		DetailURL:  raw.PageURL,
	}, nil
}

func (c *BookingClient) get(ctx context.Context, path string, q url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("booking provider returned %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
