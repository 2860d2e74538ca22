package domain

// Suggestions are the preset searches offered on the landing page.
var Suggestions = []string{
	"bluetooth earbuds for running",
	"phones with great camera",
	"massager for neck pain",
	"air purifier to combat pollution",
	"ergonomic chair for home office",
	"bicycle for city rides",
}
