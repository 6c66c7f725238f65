package core

import "strings"

// systemCategoryTags is the seeded catalogue. Second-level tags use the
// CATEGORY_SUBCATEGORY convention, which also gives the matcher its
// keyword fragments.
var systemCategoryTags = []string{
	"income",
	"income_salary",
	"income_bonus",
	"income_investment",
	"income_refund",
	"income_other",

	"transport",
	"transport_fuel",
	"transport_parking",
	"transport_public",
	"transport_taxi",
	"transport_maintenance",

	"dining",
	"dining_restaurant",
	"dining_takeout",
	"dining_cafe",

	"shopping",
	"shopping_grocery",
	"shopping_clothes",
	"shopping_digital",
	"shopping_furniture",

	"housing",
	"housing_rent",
	"housing_mortgage",
	"housing_utilities",
	"housing_property",

	"entertainment",
	"entertainment_movie",
	"entertainment_game",
	"entertainment_sports",

	"healthcare",
	"healthcare_medical",
	"healthcare_insurance",

	"education",
	"education_tuition",
	"education_books",
	"education_course",

	"transfer",
	"transfer_in",
	"transfer_out",

	"other",
}

// SystemCategoryID returns the fixed id of a seeded category tag.
func SystemCategoryID(tag string) string {
	return "system_" + tag
}

// SystemCategories returns the immutable seeded category forest.
// Sub-tags hang off the category named by everything before their last
// underscore.
func SystemCategories() []Category {
	out := make([]Category, 0, len(systemCategoryTags))
	for _, tag := range systemCategoryTags {
		parentID := ""
		if i := strings.LastIndex(tag, "_"); i > 0 {
			parent := tag[:i]
			for _, t := range systemCategoryTags {
				if t == parent {
					parentID = SystemCategoryID(parent)
					break
				}
			}
		}
		out = append(out, Category{
			ID:             SystemCategoryID(tag),
			Name:           displayName(tag),
			ParentID:       parentID,
			IsSystem:       true,
			SystemCategory: tag,
		})
	}
	return out
}

func displayName(tag string) string {
	parts := strings.Split(tag, "_")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}
