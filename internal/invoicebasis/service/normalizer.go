package service

import (
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/bygglogg/internal/config"
	"github.com/smallbiznis/bygglogg/internal/invoicebasis/domain"
)

const (
	diaryPlaceholder   = "Ingen dagboksanteckning"
	materialLineSuffix = "-material"
	materialLinePrefix = "Material – "
)

// Source table names recorded on line source references.
const (
	sourceTimeEntries  = "time_entries"
	sourceMaterials    = "materials"
	sourceExpenses     = "expenses"
	sourceMileage      = "mileage_entries"
	sourceChangeOrders = "change_orders"
	sourceDiary        = "diary_entries"
)

var sixty = decimal.NewFromInt(60)

// Normalizer turns approved source rows into invoice basis lines using the
// per-type defaults table. A row with missing or unusable numbers is skipped
// on its own.
type Normalizer struct {
	cfg config.InvoiceBasisConfig
}

func NewNormalizer(cfg config.InvoiceBasisConfig) *Normalizer {
	return &Normalizer{cfg: cfg}
}

// Normalize emits lines in source order: time, material, expense, mileage,
// ÄTA, diary.
func (n *Normalizer) Normalize(src domain.SourceData) ([]domain.Line, []domain.DiarySummary) {
	lines := make([]domain.Line, 0, len(src.TimeEntries)+len(src.Materials)+len(src.Expenses)+len(src.Mileage)+2*len(src.ChangeOrders)+len(src.Diary))
	dims := projectDimensions(src.Project)

	for _, e := range src.TimeEntries {
		if line, ok := n.timeLine(e, src.HourlyRates, dims); ok {
			lines = append(lines, line)
		}
	}
	for _, m := range src.Materials {
		if line, ok := n.materialLine(m, dims); ok {
			lines = append(lines, line)
		}
	}
	for _, e := range src.Expenses {
		if line, ok := n.expenseLine(e, dims); ok {
			lines = append(lines, line)
		}
	}
	for _, m := range src.Mileage {
		if line, ok := n.mileageLine(m, dims); ok {
			lines = append(lines, line)
		}
	}
	for _, c := range src.ChangeOrders {
		lines = append(lines, n.changeOrderLines(c, dims)...)
	}

	diary := make([]domain.DiarySummary, 0, len(src.Diary))
	for _, d := range src.Diary {
		line, summary := n.diaryLine(d, dims)
		lines = append(lines, line)
		diary = append(diary, summary)
	}
	return lines, diary
}

func (n *Normalizer) baseLine(lineType domain.LineType, defaultsKey, id, table string, dims map[string]string) domain.Line {
	def, _ := n.cfg.Defaults(defaultsKey)
	return domain.Line{
		ID:              id,
		Type:            lineType,
		Source:          domain.SourceRef{Table: table, ID: id},
		ArticleCode:     def.ArticleCode,
		Unit:            def.Unit,
		Quantity:        decimal.Zero,
		UnitPrice:       decimal.Zero,
		DiscountPercent: decimal.Zero,
		VATRate:         decimal.NewFromFloat(def.VATRate),
		VATCode:         def.VATCode,
		Account:         def.Account,
		Dimensions:      copyDimensions(dims),
	}
}

func (n *Normalizer) description(s string) string {
	return SanitizeText(s, n.cfg.Limits.Description)
}

func (n *Normalizer) timeLine(e domain.TimeEntry, rates map[snowflake.ID]decimal.Decimal, dims map[string]string) (domain.Line, bool) {
	if e.Minutes == nil || *e.Minutes <= 0 {
		return domain.Line{}, false
	}
	hours := decimal.NewFromInt(*e.Minutes).Div(sixty)
	if !hours.IsPositive() {
		return domain.Line{}, false
	}

	id := e.ID.String()
	line := n.baseLine(domain.LineTypeTime, config.LineTypeTime, id, sourceTimeEntries, dims)
	line.Quantity = hours
	if rate, ok := rates[e.UserID]; ok {
		line.UnitPrice = rate
	}

	phase := derefString(e.PhaseName)
	desc := derefString(e.Description)
	if desc == "" {
		desc = "Arbete " + e.StartAt.UTC().Format(domain.DateLayout)
		if phase != "" {
			desc += " (" + phase + ")"
		}
	}
	line.Description = n.description(desc)
	if phase != "" {
		line.Dimensions["phase"] = phase
	}
	return line, true
}

func (n *Normalizer) materialLine(m domain.Material, dims map[string]string) (domain.Line, bool) {
	if !m.Quantity.Valid || !m.UnitPrice.Valid {
		return domain.Line{}, false
	}

	id := m.ID.String()
	line := n.baseLine(domain.LineTypeMaterial, config.LineTypeMaterial, id, sourceMaterials, dims)
	line.Quantity = m.Quantity.Decimal
	line.UnitPrice = m.UnitPrice.Decimal
	if unit := derefString(m.Unit); unit != "" {
		line.Unit = unit
	}
	desc := derefString(m.Name)
	if desc == "" {
		desc = "Material"
	}
	line.Description = n.description(desc)
	line.Attachments = attachments(m.AttachmentURL)
	return line, true
}

func (n *Normalizer) expenseLine(e domain.Expense, dims map[string]string) (domain.Line, bool) {
	if !e.Amount.Valid {
		return domain.Line{}, false
	}

	id := e.ID.String()
	line := n.baseLine(domain.LineTypeExpense, config.LineTypeExpense, id, sourceExpenses, dims)
	line.Quantity = decimal.NewFromInt(1)
	line.UnitPrice = e.Amount.Decimal
	if e.VAT != nil && !*e.VAT {
		line.VATRate = decimal.Zero
	}

	desc := derefString(e.Description)
	if desc == "" {
		desc = derefString(e.Category)
	}
	if desc == "" {
		desc = "Utlägg " + domain.FormatDate(e.Date)
	}
	line.Description = n.description(desc)
	line.Attachments = attachments(e.ReceiptURL)
	return line, true
}

func (n *Normalizer) mileageLine(m domain.MileageEntry, dims map[string]string) (domain.Line, bool) {
	if !m.Km.Valid || !m.RatePerKm.Valid {
		return domain.Line{}, false
	}

	id := m.ID.String()
	line := n.baseLine(domain.LineTypeMileage, config.LineTypeMileage, id, sourceMileage, dims)
	line.Quantity = m.Km.Decimal
	line.UnitPrice = m.RatePerKm.Decimal
	line.Description = n.description("Milersättning " + domain.FormatDate(m.Date))
	return line, true
}

// changeOrderLines yields the labor line and, when the order bundles
// materials, a second line whose id is the order id plus "-material".
func (n *Normalizer) changeOrderLines(c domain.ChangeOrder, dims map[string]string) []domain.Line {
	id := c.ID.String()
	desc := changeOrderDescription(c)
	out := make([]domain.Line, 0, 2)

	labor := n.baseLine(domain.LineTypeATA, config.LineTypeATA, id, sourceChangeOrders, dims)
	labor.Description = n.description(desc)
	labor.Attachments = attachments(c.AttachmentURL)
	if c.IsFixed() {
		labor.Quantity = decimal.NewFromInt(1)
		labor.Unit = "st"
		labor.UnitPrice = nullOrZero(c.FixedAmount)
	} else {
		labor.Quantity = nullOrZero(c.Quantity)
		labor.UnitPrice = nullOrZero(c.UnitPrice)
		if unit := derefString(c.Unit); unit != "" {
			labor.Unit = unit
		}
	}
	if labor.Quantity.IsPositive() && labor.UnitPrice.IsPositive() {
		out = append(out, labor)
	}

	if amount := nullOrZero(c.MaterialsAmount); amount.IsPositive() {
		material := n.baseLine(domain.LineTypeATA, config.LineTypeMaterial, id+materialLineSuffix, sourceChangeOrders, dims)
		material.Source.ID = id
		material.Quantity = decimal.NewFromInt(1)
		material.Unit = "st"
		material.UnitPrice = amount
		material.Description = n.description(materialLinePrefix + desc)
		out = append(out, material)
	}
	return out
}

func changeOrderDescription(c domain.ChangeOrder) string {
	number := derefString(c.Number)
	title := derefString(c.Title)
	switch {
	case number != "" && title != "":
		return "ÄTA " + number + " " + title
	case title != "":
		return "ÄTA " + title
	case number != "":
		return "ÄTA " + number
	}
	if desc := derefString(c.Description); desc != "" {
		return "ÄTA " + desc
	}
	return "ÄTA"
}

// diaryLine is narrative only: quantity, price and VAT stay zero whatever the
// defaults table says.
func (n *Normalizer) diaryLine(d domain.DiaryEntry, dims map[string]string) (domain.Line, domain.DiarySummary) {
	id := d.ID.String()
	date := domain.FormatDate(d.Date)

	line := n.baseLine(domain.LineTypeDiary, config.LineTypeDiary, id, sourceDiary, dims)
	line.VATRate = decimal.Zero

	// Every narrative field carries a label, so the labeled summary is empty
	// exactly when the raw text is.
	raw := SanitizeText(strings.Join(diaryRawParts(d), " "), n.cfg.Limits.DiaryRaw)
	summary := SanitizeText(strings.Join(diaryLabeledParts(d), " | "), n.cfg.Limits.DiarySummary)
	if summary == "" {
		summary = diaryPlaceholder
	}

	line.Description = n.description("Dagbok " + date + ": " + summary)
	return line, domain.DiarySummary{
		Date:    date,
		RawText: raw,
		Summary: summary,
		LineID:  id,
	}
}

func diaryLabeledParts(d domain.DiaryEntry) []string {
	parts := make([]string, 0, 7)
	add := func(label, value string) {
		if value = strings.TrimSpace(value); value != "" {
			parts = append(parts, label+": "+value)
		}
	}
	add("Utfört arbete", derefString(d.WorkPerformed))
	add("Hinder", derefString(d.Obstacles))
	add("Leveranser", derefString(d.Deliveries))
	add("Besökare", derefString(d.Visitors))
	if d.CrewCount != nil {
		add("Antal personer", strconv.Itoa(*d.CrewCount))
	}
	add("Väder", weather(d))
	add("Signerad", derefString(d.SignatureName))
	return parts
}

func diaryRawParts(d domain.DiaryEntry) []string {
	parts := make([]string, 0, 7)
	for _, v := range []*string{d.WorkPerformed, d.Obstacles, d.Deliveries, d.Visitors} {
		if s := derefString(v); s != "" {
			parts = append(parts, s)
		}
	}
	if d.CrewCount != nil {
		parts = append(parts, strconv.Itoa(*d.CrewCount))
	}
	if w := weather(d); w != "" {
		parts = append(parts, w)
	}
	if s := derefString(d.SignatureName); s != "" {
		parts = append(parts, s)
	}
	return parts
}

func weather(d domain.DiaryEntry) string {
	w := derefString(d.Weather)
	if !d.TemperatureC.Valid {
		return w
	}
	temp := d.TemperatureC.Decimal.String() + " °C"
	if w == "" {
		return temp
	}
	return w + ", " + temp
}

func projectDimensions(p domain.Project) map[string]string {
	dims := map[string]string{}
	if code := derefString(p.Code); code != "" {
		dims["project"] = code
	}
	if cc := derefString(p.CostCenter); cc != "" {
		dims["cost_center"] = cc
	}
	return dims
}

func copyDimensions(dims map[string]string) map[string]string {
	out := make(map[string]string, len(dims)+1)
	for k, v := range dims {
		out[k] = v
	}
	return out
}

func attachments(url *string) []string {
	if u := derefString(url); u != "" {
		return []string{u}
	}
	return nil
}

func nullOrZero(d decimal.NullDecimal) decimal.Decimal {
	if !d.Valid {
		return decimal.Zero
	}
	return d.Decimal
}
