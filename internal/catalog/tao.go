package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// TaoProvider adapts a Taobao-style item search API to the Provider
// contract. All raw wire fields are mapped here; nothing upstream touches
// them.
type TaoProvider struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewTaoProvider(baseURL, apiKey string, timeout time.Duration) *TaoProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TaoProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

func (p *TaoProvider) Name() string { return "tao" }

// taoItem is the provider's raw item shape.
type taoItem struct {
	NumIID         json.Number `json:"num_iid"`
	Title          string      `json:"title"`
	PicURL         string      `json:"pic_url"`
	Price          string      `json:"price"`
	PromotionPrice string      `json:"promotion_price"`
	DetailURL      string      `json:"detail_url"`
	SellerNick     string      `json:"nick"`
	Score          string      `json:"score"`
	Area           string      `json:"area"`
}

type taoSearchResponse struct {
	Items struct {
		Item     []taoItem `json:"item"`
		Total    int       `json:"total_results"`
		Page     int       `json:"page"`
		PageSize int       `json:"page_size"`
	} `json:"items"`
	Error string `json:"error"`
}

func (p *TaoProvider) SearchByKeyword(ctx context.Context, keyword string, opts SearchOpts) (*SearchResult, error) {
	q := url.Values{}
	q.Set("q", keyword)
	return p.doSearch(ctx, "item_search", q, opts)
}

func (p *TaoProvider) SearchByImage(ctx context.Context, imageURL string, opts SearchOpts) (*SearchResult, error) {
	q := url.Values{}
	q.Set("imgid", imageURL)
	return p.doSearch(ctx, "item_search_img", q, opts)
}

func (p *TaoProvider) doSearch(ctx context.Context, endpoint string, q url.Values, opts SearchOpts) (*SearchResult, error) {
	page := opts.Page
	if page <= 0 {
		page = 1
	}
	size := opts.PageSize
	if size <= 0 {
		size = 20
	}
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(size))
	q.Set("key", p.apiKey)
	if opts.MinPrice > 0 || opts.MaxPrice > 0 {
		q.Set("start_price", strconv.FormatFloat(opts.MinPrice, 'f', 2, 64))
		q.Set("end_price", strconv.FormatFloat(opts.MaxPrice, 'f', 2, 64))
	}
	if opts.Sort != "" {
		q.Set("sort", opts.Sort)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/"+endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tao search returned %d", resp.StatusCode)
	}

	var raw taoSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("tao search decode failed: %w", err)
	}
	if raw.Error != "" {
		return nil, fmt.Errorf("tao search error: %s", raw.Error)
	}

	result := &SearchResult{
		TotalCount: raw.Items.Total,
		Page:       raw.Items.Page,
		PageSize:   raw.Items.PageSize,
	}
	if result.Page == 0 {
		result.Page = page
	}
	if result.PageSize == 0 {
		result.PageSize = size
	}
	for _, it := range raw.Items.Item {
		result.Items = append(result.Items, p.normalize(it))
	}
	return result, nil
}

// normalize maps the raw provider shape into the canonical item; the
// promotion price wins over the list price when present.
func (p *TaoProvider) normalize(it taoItem) Item {
	price, _ := strconv.ParseFloat(it.Price, 64)
	if promo, err := strconv.ParseFloat(it.PromotionPrice, 64); err == nil && promo > 0 {
		price = promo
	}
	rating, _ := strconv.ParseFloat(it.Score, 64)

	extra := map[string]string{}
	if it.SellerNick != "" {
		extra["seller"] = it.SellerNick
	}
	if it.Area != "" {
		extra["area"] = it.Area
	}

	return Item{
		Source:     p.Name(),
		ExternalID: it.NumIID.String(),
		Title:      it.Title,
		Price:      price,
		Currency:   "CNY",
		Rating:     rating,
		ImageURL:   it.PicURL,
		DetailURL:  it.DetailURL,
		Extra:      extra,
	}
}

func (p *TaoProvider) GetItemDetail(ctx context.Context, externalID string) (*Item, error) {
	q := url.Values{}
	q.Set("num_iid", externalID)
	q.Set("key", p.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/item_get?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tao detail returned %d", resp.StatusCode)
	}

	var raw struct {
		Item  *taoItem `json:"item"`
		Error string   `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("tao detail decode failed: %w", err)
	}
	if raw.Error != "" {
		return nil, fmt.Errorf("tao detail error: %s", raw.Error)
	}
	if raw.Item == nil {
		return nil, nil
	}

	item := p.normalize(*raw.Item)
	return &item, nil
}
