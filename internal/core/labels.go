package core

// Preset is a quick-record button on the record page.
type Preset struct {
	Label    string   `json:"label"`
	Amount   Won      `json:"amount"`
	Category Category `json:"category"`
	Icon     string   `json:"icon"`
}

var categoryIcons = map[Category]string{
	CategoryFood:          "🍔",
	CategoryTransport:     "🚗",
	CategoryShopping:      "🛍️",
	CategoryEntertainment: "🎬",
	CategoryOther:         "💡",
}

var periodLabels = map[Period]string{
	Daily:   "일일",
	Weekly:  "주간",
	Monthly: "월간",
}

var presets = []Preset{
	{Label: "커피", Amount: 4500, Category: CategoryFood, Icon: "☕"},
	{Label: "택시", Amount: 12000, Category: CategoryTransport, Icon: "🚕"},
	{Label: "배달", Amount: 18000, Category: CategoryFood, Icon: "🍕"},
	{Label: "간식", Amount: 2500, Category: CategoryFood, Icon: "🍿"},
	{Label: "영화", Amount: 15000, Category: CategoryEntertainment, Icon: "🎬"},
	{Label: "쇼핑", Amount: 30000, Category: CategoryShopping, Icon: "🛍️"},
}

// Icon returns the display icon of a category, falling back to the "other" icon.
func (c Category) Icon() string {
	if icon, ok := categoryIcons[c]; ok {
		return icon
	}
	return categoryIcons[CategoryOther]
}

// Label returns the Korean label of a period.
func (p Period) Label() string {
	if l, ok := periodLabels[p]; ok {
		return l
	}
	return string(p)
}

// Presets returns the quick-record presets.
func Presets() []Preset {
	return append([]Preset(nil), presets...)
}

// DisplayIcon is the challenge's own icon or one derived from its rule.
func (c Challenge) DisplayIcon() string {
	if c.Icon != "" {
		return c.Icon
	}
	switch c.Rule() {
	case RuleStreak:
		return "🔥"
	case RuleTotalAmount:
		return "🎯"
	}
	return c.Category.Icon()
}

// Label returns the page title of a record kind.
func (k RecordKind) Label() string {
	if k == Expense {
		return "소비기록"
	}
	return "절약기록"
}
