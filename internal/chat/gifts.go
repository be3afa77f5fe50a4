package chat

// Gift is one entry of the fixed gift catalog. Effect is the advertised
// relationship impact fed to the tracker.
type Gift struct {
	ID     string
	Label  string
	Effect int
}

var giftCatalog = map[string]Gift{
	"flower":    {ID: "flower", Label: "цветок", Effect: 5},
	"chocolate": {ID: "chocolate", Label: "шоколад", Effect: 7},
	"teddy":     {ID: "teddy", Label: "плюшевый мишка", Effect: 8},
	"perfume":   {ID: "perfume", Label: "духи", Effect: 10},
	"jewelry":   {ID: "jewelry", Label: "украшение", Effect: 15},
	"vip_gift":  {ID: "vip_gift", Label: "VIP-подарок", Effect: 20},
}

// GiftByID resolves a catalog gift.
func GiftByID(id string) (Gift, bool) {
	gift, ok := giftCatalog[id]
	return gift, ok
}

// Gifts lists the catalog (unordered).
func Gifts() []Gift {
	out := make([]Gift, 0, len(giftCatalog))
	for _, g := range giftCatalog {
		out = append(out, g)
	}
	return out
}
