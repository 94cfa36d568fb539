package db

import "go.hackfix.me/harvest/db/models"

var defaultCategories = []string{"vegetable", "fruit", "protein", "pantry"}

var defaultProducts = []*models.Product{
	{
		Name: "Heirloom Tomatoes", Category: "vegetable", Price: 4.00, Stock: 25, IsActive: true,
		ImageURL: "https://images.unsplash.com/photo-1592924357228-91a4daadcfea?auto=format&fit=crop&q=80&w=300",
		Tags:     []string{"local", "seasonal"},
	},
	{
		Name: "Honeycrisp Apples", Category: "fruit", Price: 3.50, Stock: 30, IsActive: true,
		ImageURL: "https://images.unsplash.com/photo-1568702846914-96b305d2aaeb?auto=format&fit=crop&q=80&w=300",
		Tags:     []string{"fruit", "sweet", "seasonal"},
	},
	{
		Name: "Farm Fresh Eggs (Dozen)", Category: "protein", Price: 6.00, Stock: 20, IsActive: true,
		ImageURL: "https://images.unsplash.com/photo-1559229873-383d75ba200f?auto=format&fit=crop&q=80&w=300",
		Tags:     []string{"local", "free-range"},
	},
	{
		Name: "Sourdough Bread", Category: "pantry", Price: 7.00, Stock: 15, IsActive: true,
		ImageURL: "https://images.unsplash.com/photo-1613396874083-2d5fbe59ae79?auto=format&fit=crop&q=80&w=300",
		Tags:     []string{"bakery", "fresh"},
	},
	{
		Name: "Rainbow Carrots", Category: "vegetable", Price: 3.00, Stock: 40, IsActive: true,
		ImageURL: "https://images.unsplash.com/photo-1580716685595-98bd80bf3c01?auto=format&fit=crop&q=80&w=300",
		Tags:     []string{"organic", "root"},
	},
	{
		Name: "Organic Kale", Category: "vegetable", Price: 2.50, Stock: 35, IsActive: true,
		ImageURL: "https://images.unsplash.com/photo-1524179091875-bf99a9a6af57?auto=format&fit=crop&q=80&w=300",
		Tags:     []string{"organic", "green"},
	},
	{
		Name: "Local Honey (16oz)", Category: "pantry", Price: 12.00, Stock: 10, IsActive: true,
		ImageURL: "https://images.unsplash.com/photo-1629240830845-e4a550a6bbde?auto=format&fit=crop&q=80&w=300",
		Tags:     []string{"local", "sweet"},
	},
}

// The products of a box are indexes into defaultProducts.
var defaultBoxTemplates = []struct {
	template models.BoxTemplate
	products []int
}{
	{
		template: models.BoxTemplate{
			Name:        "Family Harvest Box",
			Description: "A generous selection of seasonal vegetables and staples perfect for family meals throughout the week.",
			BasePrice:   38.00,
			ImageURL:    "https://images.unsplash.com/photo-1690067698023-54d7ba7a1619?auto=format&fit=crop&q=80&w=600",
			IsActive:    true,
		},
		products: []int{0, 1, 2, 4, 5},
	},
	{
		template: models.BoxTemplate{
			Name:        "Couple's Box",
			Description: "Perfectly sized for two people. Fresh produce and pantry items without the excess.",
			BasePrice:   26.00,
			ImageURL:    "https://images.unsplash.com/photo-1607237896259-191316556483?auto=format&fit=crop&q=80&w=600",
			IsActive:    true,
		},
		products: []int{0, 4, 5},
	},
	{
		template: models.BoxTemplate{
			Name:        "Viroqua Summer Box",
			Description: "Seasonal vegetables grown around Viroqua. Contents reflect what is thriving locally.",
			BasePrice:   32.00,
			ImageURL:    "https://images.unsplash.com/photo-1749997462936-c5d69337059f?auto=format&fit=crop&q=80&w=600",
			IsActive:    true,
		},
		products: []int{0, 1, 4, 6},
	},
	{
		template: models.BoxTemplate{
			Name:        "Ridge & Valley Artisan Box",
			Description: "Emphasizing independent makers and value-added foods alongside seasonal produce.",
			BasePrice:   55.00,
			ImageURL:    "https://images.unsplash.com/photo-1658581754423-087ed5459550?auto=format&fit=crop&q=80&w=600",
			IsActive:    true,
		},
		products: []int{2, 3, 5, 6},
	},
}
