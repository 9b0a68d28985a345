package domain

const (
	MinLevel = 1
	MaxLevel = 30
)

// Tier — отображаемое имя и цвет уровня сложности.
type Tier struct {
	Name  string
	Color string
}

var tiers = [MaxLevel + 1]Tier{
	{Name: "Unrated", Color: "#2d2d2d"},
	{Name: "Bronze V", Color: "#ad5600"},
	{Name: "Bronze IV", Color: "#ad5600"},
	{Name: "Bronze III", Color: "#ad5600"},
	{Name: "Bronze II", Color: "#ad5600"},
	{Name: "Bronze I", Color: "#ad5600"},
	{Name: "Silver V", Color: "#435f7a"},
	{Name: "Silver IV", Color: "#435f7a"},
	{Name: "Silver III", Color: "#435f7a"},
	{Name: "Silver II", Color: "#435f7a"},
	{Name: "Silver I", Color: "#435f7a"},
	{Name: "Gold V", Color: "#ec9a00"},
	{Name: "Gold IV", Color: "#ec9a00"},
	{Name: "Gold III", Color: "#ec9a00"},
	{Name: "Gold II", Color: "#ec9a00"},
	{Name: "Gold I", Color: "#ec9a00"},
	{Name: "Platinum V", Color: "#27e2a4"},
	{Name: "Platinum IV", Color: "#27e2a4"},
	{Name: "Platinum III", Color: "#27e2a4"},
	{Name: "Platinum II", Color: "#27e2a4"},
	{Name: "Platinum I", Color: "#27e2a4"},
	{Name: "Diamond V", Color: "#00b4fc"},
	{Name: "Diamond IV", Color: "#00b4fc"},
	{Name: "Diamond III", Color: "#00b4fc"},
	{Name: "Diamond II", Color: "#00b4fc"},
	{Name: "Diamond I", Color: "#00b4fc"},
	{Name: "Ruby V", Color: "#ff0062"},
	{Name: "Ruby IV", Color: "#ff0062"},
	{Name: "Ruby III", Color: "#ff0062"},
	{Name: "Ruby II", Color: "#ff0062"},
	{Name: "Ruby I", Color: "#ff0062"},
}

// TierForLevel возвращает тир уровня; вне диапазона — Unrated.
func TierForLevel(level int) Tier {
	if level < 0 || level > MaxLevel {
		return tiers[0]
	}
	return tiers[level]
}
