package matcher

// curatedKeywords maps common merchant names and statement phrases to
// system-category tags. Order matters: a later entry for the same
// keyword wins over an earlier one.
var curatedKeywords = []struct {
	tag      string
	keywords []string
}{
	{"dining_restaurant", []string{
		"restaurant", "café", "cafe", "diner", "grill", "steakhouse",
		"pizzeria", "sushi", "bistro", "eatery",
	}},
	{"dining_takeout", []string{
		"doordash", "ubereats", "grubhub", "seamless", "postmates",
		"delivery", "takeout", "take-out", "to-go",
	}},
	{"dining_cafe", []string{
		"starbucks", "tim hortons", "coffee", "espresso", "latte",
	}},

	{"shopping_grocery", []string{
		"grocery", "supermarket", "market", "food", "walmart", "costco",
		"safeway", "kroger", "publix", "aldi", "trader joe", "whole foods",
	}},
	{"shopping_clothes", []string{
		"clothing", "apparel", "fashion", "shoes", "footwear", "nike", "adidas",
		"h&m", "zara", "gap", "old navy", "nordstrom", "macy",
	}},

	{"transport_fuel", []string{
		"gas", "fuel", "petrol", "shell", "exxon", "mobil", "chevron", "bp",
	}},
	{"transport_parking", []string{
		"parking", "garage", "lot", "meter",
	}},
	{"transport_public", []string{
		"transit", "subway", "metro", "bus", "train", "rail", "fare", "ticket",
	}},
	{"transport_taxi", []string{
		"uber", "lyft", "taxi", "cab", "ride",
	}},

	{"housing_rent", []string{
		"rent", "lease", "apartment", "housing",
	}},
	{"housing_mortgage", []string{
		"mortgage", "loan payment", "home loan",
	}},
	{"housing_utilities", []string{
		"utility", "electric", "water", "gas", "hydro", "power", "energy",
		"internet", "cable", "phone", "telecom",
	}},

	{"income_salary", []string{
		"salary", "payroll", "direct deposit", "income", "wage", "pay", "earnings",
	}},
	{"income_investment", []string{
		"dividend", "interest", "investment", "return", "capital gain",
	}},
}
