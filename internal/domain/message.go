package domain

// Sender identifies who authored a transcript entry.
type Sender string

const (
	// SenderUser marks entries typed by the shopper.
	SenderUser Sender = "user"
	// SenderAI marks entries produced by the assistant.
	SenderAI Sender = "AI"
)

// ContentKind tags the variant carried by Content.
type ContentKind string

const (
	ContentText     ContentKind = "text"
	ContentProducts ContentKind = "products"
)

// Content is either plain text or a product collection, never both.
type Content struct {
	Kind     ContentKind `json:"kind"`
	Text     string      `json:"text,omitempty"`
	Products []Product   `json:"products,omitempty"`
}

// Message is a single transcript entry. Messages are appended, never mutated.
type Message struct {
	Sender  Sender  `json:"sender"`
	Content Content `json:"content"`
}

// UserText builds a user-authored text message.
func UserText(text string) Message {
	return Message{Sender: SenderUser, Content: Content{Kind: ContentText, Text: text}}
}

// AIText builds an assistant text message.
func AIText(text string) Message {
	return Message{Sender: SenderAI, Content: Content{Kind: ContentText, Text: text}}
}

// AIProducts builds an assistant product-collection message.
func AIProducts(products []Product) Message {
	if products == nil {
		products = []Product{}
	}
	return Message{Sender: SenderAI, Content: Content{Kind: ContentProducts, Products: products}}
}

// IsProducts reports whether the message carries a product collection.
func (m Message) IsProducts() bool {
	return m.Content.Kind == ContentProducts
}
