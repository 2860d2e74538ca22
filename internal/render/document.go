package render

import "github.com/ashureev/togethr/internal/domain"

// Card is the display form of one product.
type Card struct {
	Title       string   `json:"title"`
	Rating      string   `json:"rating"`
	PriceRange  string   `json:"price_range"`
	Image       string   `json:"image,omitempty"`
	SellerLinks []string `json:"seller_links"`
}

// DocMessage is the display form of one transcript entry.
type DocMessage struct {
	Sender domain.Sender      `json:"sender"`
	Kind   domain.ContentKind `json:"kind"`
	Lines  []Line             `json:"lines,omitempty"`
	Cards  []Card             `json:"cards,omitempty"`
}

// Document converts a transcript into its display form. User text is shown
// verbatim; only assistant text is parsed for markup.
func Document(messages []domain.Message) []DocMessage {
	doc := make([]DocMessage, 0, len(messages))
	for _, m := range messages {
		doc = append(doc, DocumentMessage(m))
	}
	return doc
}

// DocumentMessage converts a single message.
func DocumentMessage(m domain.Message) DocMessage {
	d := DocMessage{Sender: m.Sender, Kind: m.Content.Kind}
	switch {
	case m.IsProducts():
		d.Cards = Cards(m.Content.Products)
	case m.Sender == domain.SenderAI:
		d.Lines = ParseText(m.Content.Text)
	default:
		d.Lines = []Line{{{Text: m.Content.Text}}}
	}
	return d
}

// Cards builds the card set for a product collection.
func Cards(products []domain.Product) []Card {
	cards := make([]Card, 0, len(products))
	for _, p := range products {
		cards = append(cards, Card{
			Title:       p.Title,
			Rating:      FormatRating(p.Rating),
			PriceRange:  FormatPriceRange(p),
			Image:       p.PrimaryImage(),
			SellerLinks: p.SellerLinks(),
		})
	}
	return cards
}
