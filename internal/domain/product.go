package domain

// Media is a product image reference.
type Media struct {
	Link string `json:"link"`
}

// Seller is an outbound merchant link.
type Seller struct {
	Link string `json:"link"`
}

// SellersResults groups the merchants offering a product.
type SellersResults struct {
	OnlineSellers []Seller `json:"online_sellers"`
}

// Product is a curated recommendation returned by the backend.
type Product struct {
	Title          string         `json:"title"`
	Rating         float64        `json:"rating"`
	Prices         []float64      `json:"prices"`
	Media          []Media        `json:"media"`
	SellersResults SellersResults `json:"sellers_results"`
}

// PriceRange returns the lowest and highest price. ok is false when no prices are known.
func (p Product) PriceRange() (lo, hi float64, ok bool) {
	if len(p.Prices) == 0 {
		return 0, 0, false
	}
	lo, hi = p.Prices[0], p.Prices[0]
	for _, v := range p.Prices[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi, true
}

// PrimaryImage returns the first media link, or "" when there is none.
func (p Product) PrimaryImage() string {
	for _, m := range p.Media {
		if m.Link != "" {
			return m.Link
		}
	}
	return ""
}

// SellerLinks returns the non-empty outbound seller links in backend order.
func (p Product) SellerLinks() []string {
	links := make([]string, 0, len(p.SellersResults.OnlineSellers))
	for _, s := range p.SellersResults.OnlineSellers {
		if s.Link != "" {
			links = append(links, s.Link)
		}
	}
	return links
}
