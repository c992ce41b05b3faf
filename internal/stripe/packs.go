// packs.go - credit pack definitions sold through Stripe Checkout.
// Prices are in cents. Pack slugs are stable identifiers stored in
// checkout metadata so the webhook can credit the right amount.
package stripe

// Pack describes a purchasable credit bundle.
type Pack struct {
	Slug      string `json:"slug"`
	Name      string `json:"name"`
	Credits   int64  `json:"credits"`
	PriceCents int64 `json:"price_cents"`
}

// Packs is the fixed credit pack lineup. Order matters: cheapest first,
// rendered top-to-bottom in the purchase dialog.
var Packs = []Pack{
	{Slug: "starter", Name: "Starter", Credits: 20, PriceCents: 499},
	{Slug: "binge", Name: "Binge", Credits: 60, PriceCents: 1199},
	{Slug: "marathon", Name: "Marathon", Credits: 150, PriceCents: 2499},
}

// PackBySlug returns the pack with the given slug.
func PackBySlug(slug string) (*Pack, bool) {
	for i := range Packs {
		if Packs[i].Slug == slug {
			return &Packs[i], true
		}
	}
	return nil, false
}
