package pipeline

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultLocale is the vocabulary used when none is configured.
const DefaultLocale = "id"

// defaultExpenseKeywords mark a line as an expense in every built-in locale.
var defaultExpenseKeywords = []string{
	"expense", "cost", "payment", "buy", "purchase",
	"biaya", "bayar", "beli", "keluar",
}

// CategorySpec maps a category name to the keywords that select it.
type CategorySpec struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

// PlaceholderSpec describes one illustrative transaction emitted when the
// fallback extractor finds nothing. Amount is a decimal string.
type PlaceholderSpec struct {
	Description string `yaml:"description"`
	Amount      string `yaml:"amount"`
	Category    string `yaml:"category"`
}

// VocabularySpec is the serializable form of a Vocabulary, as loaded from a
// YAML file.
type VocabularySpec struct {
	Locale              string          `yaml:"locale"`
	ExpenseKeywords     []string        `yaml:"expense_keywords"`
	Categories          []CategorySpec  `yaml:"categories"`
	DefaultCategory     string          `yaml:"default_category"`
	PlaceholderIncome   PlaceholderSpec `yaml:"placeholder_income"`
	PlaceholderExpense  PlaceholderSpec `yaml:"placeholder_expense"`
	FallbackInsights    []string        `yaml:"fallback_insights"`
	PlaceholderInsights []string        `yaml:"placeholder_insights"`
	DefaultInsight      string          `yaml:"default_insight"`
}

// Placeholder is a parsed PlaceholderSpec.
type Placeholder struct {
	Description string
	Amount      decimal.Decimal
	Category    string
}

// Vocabulary holds the keyword tables used by the fallback extractor and
// the validator. It cannot be modified after construction; accessors return
// copies.
type Vocabulary struct {
	locale             string
	expenseKeywords    []string
	expensePattern     *regexp.Regexp
	categories         []CategorySpec
	defaultCategory    string
	placeholderIncome  Placeholder
	placeholderExpense Placeholder
	fallbackInsights   []string
	placeholderInsight []string
	defaultInsight     string
}

// NewVocabulary validates spec and builds a Vocabulary from it.
func NewVocabulary(spec VocabularySpec) (*Vocabulary, error) {
	if len(spec.ExpenseKeywords) == 0 {
		return nil, fmt.Errorf("NewVocabulary: no expense keywords")
	}

	quoted := make([]string, 0, len(spec.ExpenseKeywords))
	for _, kw := range spec.ExpenseKeywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			return nil, fmt.Errorf("NewVocabulary: empty expense keyword")
		}
		quoted = append(quoted, regexp.QuoteMeta(kw))
	}
	pattern, err := regexp.Compile(`(?i)(?:` + strings.Join(quoted, "|") + `)`)
	if err != nil {
		return nil, fmt.Errorf("NewVocabulary: compile expense keywords: %w", err)
	}

	categories := make([]CategorySpec, 0, len(spec.Categories))
	for _, c := range spec.Categories {
		if strings.TrimSpace(c.Name) == "" {
			return nil, fmt.Errorf("NewVocabulary: category with empty name")
		}
		keywords := make([]string, 0, len(c.Keywords))
		for _, kw := range c.Keywords {
			if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
				keywords = append(keywords, kw)
			}
		}
		categories = append(categories, CategorySpec{Name: c.Name, Keywords: keywords})
	}

	income, err := parsePlaceholder(spec.PlaceholderIncome, true)
	if err != nil {
		return nil, fmt.Errorf("NewVocabulary: placeholder_income: %w", err)
	}
	expense, err := parsePlaceholder(spec.PlaceholderExpense, false)
	if err != nil {
		return nil, fmt.Errorf("NewVocabulary: placeholder_expense: %w", err)
	}

	defaultCategory := spec.DefaultCategory
	if defaultCategory == "" {
		defaultCategory = DefaultCategory
	}
	defaultInsight := spec.DefaultInsight
	if strings.TrimSpace(defaultInsight) == "" {
		return nil, fmt.Errorf("NewVocabulary: default_insight is empty")
	}

	return &Vocabulary{
		locale:             spec.Locale,
		expenseKeywords:    append([]string(nil), spec.ExpenseKeywords...),
		expensePattern:     pattern,
		categories:         categories,
		defaultCategory:    defaultCategory,
		placeholderIncome:  income,
		placeholderExpense: expense,
		fallbackInsights:   append([]string(nil), spec.FallbackInsights...),
		placeholderInsight: append([]string(nil), spec.PlaceholderInsights...),
		defaultInsight:     defaultInsight,
	}, nil
}

func parsePlaceholder(spec PlaceholderSpec, income bool) (Placeholder, error) {
	if spec.Description == "" {
		return Placeholder{}, fmt.Errorf("description is empty")
	}
	amount, err := decimal.NewFromString(spec.Amount)
	if err != nil {
		return Placeholder{}, fmt.Errorf("amount %q: %w", spec.Amount, err)
	}
	amount = amount.Abs()
	if !income {
		amount = amount.Neg()
	}
	return Placeholder{Description: spec.Description, Amount: amount, Category: spec.Category}, nil
}

// MustVocabulary is like NewVocabulary but panics on an invalid spec.
func MustVocabulary(spec VocabularySpec) *Vocabulary {
	v, err := NewVocabulary(spec)
	if err != nil {
		panic(err)
	}
	return v
}

func (v *Vocabulary) Locale() string { return v.locale }

func (v *Vocabulary) DefaultCategory() string { return v.defaultCategory }

func (v *Vocabulary) DefaultInsight() string { return v.defaultInsight }

func (v *Vocabulary) ExpenseKeywords() []string {
	return append([]string(nil), v.expenseKeywords...)
}

func (v *Vocabulary) Categories() []CategorySpec {
	out := make([]CategorySpec, len(v.categories))
	for i, c := range v.categories {
		out[i] = CategorySpec{Name: c.Name, Keywords: append([]string(nil), c.Keywords...)}
	}
	return out
}

func (v *Vocabulary) CategoryNames() []string {
	names := make([]string, 0, len(v.categories))
	for _, c := range v.categories {
		names = append(names, c.Name)
	}
	return names
}

func (v *Vocabulary) Placeholders() (income, expense Placeholder) {
	return v.placeholderIncome, v.placeholderExpense
}

// IsExpense reports whether line contains an expense keyword.
func (v *Vocabulary) IsExpense(line string) bool {
	return v.expensePattern.MatchString(line)
}

// Categorize returns the first category with a keyword contained in line,
// or the default category.
func (v *Vocabulary) Categorize(line string) string {
	lower := strings.ToLower(line)
	for _, c := range v.categories {
		for _, kw := range c.Keywords {
			if strings.Contains(lower, kw) {
				return c.Name
			}
		}
	}
	return v.defaultCategory
}

// FallbackInsights returns the insights for a fallback result with count
// extracted transactions.
func (v *Vocabulary) FallbackInsights(count int) []string {
	return expandInsights(v.fallbackInsights, count, v.defaultInsight)
}

// PlaceholderInsights returns the insights for a result made of placeholders.
func (v *Vocabulary) PlaceholderInsights() []string {
	return expandInsights(v.placeholderInsight, 0, v.defaultInsight)
}

func expandInsights(templates []string, count int, fallback string) []string {
	out := make([]string, 0, len(templates))
	for _, t := range templates {
		out = append(out, strings.ReplaceAll(t, "{count}", fmt.Sprint(count)))
	}
	if len(out) == 0 {
		out = append(out, fallback)
	}
	return out
}

// BuiltinVocabulary returns the built-in vocabulary for locale ("id" or "en").
func BuiltinVocabulary(locale string) (*Vocabulary, error) {
	spec, err := BuiltinVocabularySpec(locale)
	if err != nil {
		return nil, err
	}
	return NewVocabulary(spec)
}

// BuiltinVocabularySpec returns a copy of the built-in spec for locale, for
// callers that override parts of it.
func BuiltinVocabularySpec(locale string) (VocabularySpec, error) {
	spec, ok := builtinVocabularies[locale]
	if !ok {
		return VocabularySpec{}, fmt.Errorf("BuiltinVocabulary: unknown locale %q", locale)
	}
	spec.ExpenseKeywords = append([]string(nil), spec.ExpenseKeywords...)
	categories := make([]CategorySpec, len(spec.Categories))
	for i, c := range spec.Categories {
		categories[i] = CategorySpec{Name: c.Name, Keywords: append([]string(nil), c.Keywords...)}
	}
	spec.Categories = categories
	spec.FallbackInsights = append([]string(nil), spec.FallbackInsights...)
	spec.PlaceholderInsights = append([]string(nil), spec.PlaceholderInsights...)
	return spec, nil
}

var builtinVocabularies = map[string]VocabularySpec{
	"id": {
		Locale:          "id",
		ExpenseKeywords: defaultExpenseKeywords,
		Categories: []CategorySpec{
			{Name: "Penjualan", Keywords: []string{"penjualan", "jual", "pendapatan", "omzet", "sales", "invoice"}},
			{Name: "Pemasaran", Keywords: []string{"pemasaran", "iklan", "promosi", "marketing", "ads"}},
			{Name: "Operasional", Keywords: []string{"operasional", "sewa", "listrik", "internet", "transport", "bahan"}},
			{Name: "SDM", Keywords: []string{"gaji", "karyawan", "upah", "sdm", "payroll"}},
		},
		DefaultCategory: DefaultCategory,
		PlaceholderIncome: PlaceholderSpec{
			Description: "Contoh pemasukan (tidak ada transaksi yang terdeteksi)",
			Amount:      "1000000",
			Category:    "Penjualan",
		},
		PlaceholderExpense: PlaceholderSpec{
			Description: "Contoh pengeluaran (tidak ada transaksi yang terdeteksi)",
			Amount:      "500000",
			Category:    "Operasional",
		},
		FallbackInsights: []string{
			"Analisis otomatis menemukan {count} transaksi menggunakan pencocokan pola.",
			"Tanggal transaksi tidak dapat dibaca dan diisi dengan tanggal contoh.",
			"Periksa kembali jumlah dan kategori sebelum menggunakan hasil ini.",
		},
		PlaceholderInsights: []string{
			"Tidak ada transaksi yang dapat dikenali dari dokumen ini.",
			"Transaksi yang ditampilkan hanya contoh ilustrasi.",
			"Unggah dokumen yang lebih jelas atau masukkan transaksi secara manual.",
		},
		DefaultInsight: "Analisis selesai. Tinjau transaksi untuk memastikan keakuratannya.",
	},
	"en": {
		Locale:          "en",
		ExpenseKeywords: defaultExpenseKeywords,
		Categories: []CategorySpec{
			{Name: "Sales", Keywords: []string{"sales", "sale", "sold", "revenue", "invoice"}},
			{Name: "Marketing", Keywords: []string{"marketing", "advert", "promotion", "campaign", "ads"}},
			{Name: "Operational", Keywords: []string{"operational", "rent", "electricity", "utilities", "internet", "transport", "supplies"}},
			{Name: "HR", Keywords: []string{"salary", "salaries", "payroll", "wage", "staff", "employee"}},
		},
		DefaultCategory: DefaultCategory,
		PlaceholderIncome: PlaceholderSpec{
			Description: "Example income (no transactions detected)",
			Amount:      "1000000",
			Category:    "Sales",
		},
		PlaceholderExpense: PlaceholderSpec{
			Description: "Example expense (no transactions detected)",
			Amount:      "500000",
			Category:    "Operational",
		},
		FallbackInsights: []string{
			"Automatic analysis found {count} transactions using pattern matching.",
			"Transaction dates could not be read and were set to a placeholder date.",
			"Review amounts and categories before relying on this result.",
		},
		PlaceholderInsights: []string{
			"No transactions could be recognized in this document.",
			"The transactions shown are illustrative examples only.",
			"Upload a clearer document or enter the transactions manually.",
		},
		DefaultInsight: "Analysis complete. Review the transactions for accuracy.",
	},
}
