package source

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/checkout-engine/internal/domain/catalog"
	"github.com/xenking/checkout-engine/internal/domain/pricing"
)

// LineType classifies an order-source line.
type LineType string

const (
	TypeProduct  LineType = "product"
	TypeShipping LineType = "shipping"
	TypePayment  LineType = "payment"
	TypeDiscount LineType = "discount"
	TypeRounding LineType = "rounding"
	TypeOther    LineType = "other"
)

// Provenance records which party or module created a line.
type Provenance string

const (
	ProvenanceCustomer       Provenance = "customer"
	ProvenanceSeller         Provenance = "seller"
	ProvenanceAdmin          Provenance = "admin"
	ProvenanceDiscountModule Provenance = "discount_module"
)

// OnParentChange describes how a child line reacts when its parent line
// changes.
type OnParentChange string

const (
	ParentInherit OnParentChange = "inherit"
	ParentSkip    OnParentChange = "skip"
	ParentDelete  OnParentChange = "delete"
)

// TaxRecord is one tax applied to a line, attached by the tax calculator.
// Values are bare decimals in the owning source's currency.
type TaxRecord struct {
	TaxID     string
	Name      string
	Rate      decimal.Decimal
	BaseValue decimal.Decimal
	TaxValue  decimal.Decimal
}

// Line is a single priced entry inside an order source. It owns its price
// fields, parent/child linkage, provenance tag, and a free-form Extra
// payload for collaborator-specific data.
//
// A line is logically deleted by setting its quantity to zero; the owning
// aggregate purges zero-quantity lines in a separate compaction step.
type Line struct {
	ID                  string
	ParentID            string
	Type                LineType
	Product             *catalog.Product
	Supplier            *catalog.Supplier
	ShopID              string
	Quantity            decimal.Decimal
	BaseUnitPrice       pricing.Amount
	DiscountAmount      pricing.Amount
	SKU                 string
	Text                string
	TaxClassID          string
	RequireVerification bool
	Provenance          Provenance
	OnParentChange      OnParentChange
	Extra               map[string]any
	Taxes               []TaxRecord
}

// LineSpec carries the fields for constructing a Line. Zero-value amounts
// (no currency tag) default to a zero amount tagged like BaseUnitPrice.
type LineSpec struct {
	ID                  string
	ParentID            string
	Type                LineType
	Product             *catalog.Product
	Supplier            *catalog.Supplier
	ShopID              string
	Quantity            decimal.Decimal
	BaseUnitPrice       pricing.Amount
	DiscountAmount      pricing.Amount
	SKU                 string
	Text                string
	TaxClassID          string
	RequireVerification bool
	Provenance          Provenance
	OnParentChange      OnParentChange
	Extra               map[string]any
}

// NewLine validates a LineSpec and builds a Line from it. The discount
// amount must share the base price's currency and tax mode; an explicit tax
// class must agree with the product's.
func NewLine(spec LineSpec) (*Line, error) {
	l := &Line{
		ID:                  spec.ID,
		ParentID:            spec.ParentID,
		Type:                spec.Type,
		Product:             spec.Product,
		Supplier:            spec.Supplier,
		ShopID:              spec.ShopID,
		BaseUnitPrice:       spec.BaseUnitPrice,
		DiscountAmount:      spec.DiscountAmount,
		SKU:                 spec.SKU,
		Text:                spec.Text,
		TaxClassID:          spec.TaxClassID,
		RequireVerification: spec.RequireVerification,
		Provenance:          spec.Provenance,
		OnParentChange:      spec.OnParentChange,
		Extra:               spec.Extra,
	}
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	if l.Type == "" {
		l.Type = TypeOther
	}
	if l.Provenance == "" {
		l.Provenance = ProvenanceCustomer
	}
	if l.OnParentChange == "" {
		l.OnParentChange = ParentInherit
	}
	if l.DiscountAmount.Currency() == "" {
		l.DiscountAmount = pricing.Zero(l.BaseUnitPrice.Currency(), l.BaseUnitPrice.TaxMode())
	}
	if l.Extra == nil {
		l.Extra = map[string]any{}
	}
	l.SetQuantity(spec.Quantity)
	if err := l.validate(); err != nil {
		return nil, err
	}
	return l, nil
}

// validate enforces the line invariants: price/discount unit agreement,
// tax-class consistency with the product, and product-derived defaults.
func (l *Line) validate() error {
	if l.BaseUnitPrice.Currency() != l.DiscountAmount.Currency() ||
		l.BaseUnitPrice.TaxMode() != l.DiscountAmount.TaxMode() {
		return &pricing.UnitMismatchError{
			Op:    "discount",
			Left:  l.BaseUnitPrice,
			Right: l.DiscountAmount,
		}
	}
	if l.Product != nil {
		if l.TaxClassID == "" {
			l.TaxClassID = l.Product.TaxClassID
		} else if l.TaxClassID != l.Product.TaxClassID {
			return &TaxClassConflictError{
				ProductID:       l.Product.ID,
				ProductTaxClass: l.Product.TaxClassID,
				LineTaxClass:    l.TaxClassID,
			}
		}
		if l.SKU == "" {
			l.SKU = l.Product.SKU
		}
		if l.Text == "" {
			l.Text = l.Product.Name
		}
	}
	return nil
}

// SetQuantity assigns the quantity, clamping negative values to zero and
// truncating to a whole number when the product's sales unit disallows
// fractions.
func (l *Line) SetQuantity(q decimal.Decimal) {
	if q.IsNegative() {
		q = decimal.Zero
	}
	if l.Product != nil && !l.Product.Unit.AllowFractions() {
		q = q.Truncate(0)
	}
	l.Quantity = q
}

// Update applies a set of field changes by record key, routing known fixed
// schema fields to the struct and everything else into the Extra payload,
// then re-runs validation. Identity fields (line id, type, object
// references) cannot be changed through Update.
func (l *Line) Update(changes map[string]any) error {
	for key, value := range changes {
		switch key {
		case keyLineID, keyType, keyProductID, keySupplierID, keyShopID:
			return &UnknownRecordFieldError{Field: key, Value: value}
		case keyParentLineID:
			s, ok := value.(string)
			if !ok {
				return &UnknownRecordFieldError{Field: key, Value: value}
			}
			l.ParentID = s
		case keyQuantity:
			q, err := toDecimal(value)
			if err != nil {
				return &UnknownRecordFieldError{Field: key, Value: value}
			}
			l.SetQuantity(q)
		case keyBaseUnitPrice:
			amount, err := toAmount(value, l.BaseUnitPrice)
			if err != nil {
				return &UnknownRecordFieldError{Field: key, Value: value}
			}
			l.BaseUnitPrice = amount
		case keyDiscountAmount:
			amount, err := toAmount(value, l.DiscountAmount)
			if err != nil {
				return &UnknownRecordFieldError{Field: key, Value: value}
			}
			l.DiscountAmount = amount
		case keySKU:
			s, ok := value.(string)
			if !ok {
				return &UnknownRecordFieldError{Field: key, Value: value}
			}
			l.SKU = s
		case keyText:
			s, ok := value.(string)
			if !ok {
				return &UnknownRecordFieldError{Field: key, Value: value}
			}
			l.Text = s
		case keyTaxClassID:
			s, ok := value.(string)
			if !ok {
				return &UnknownRecordFieldError{Field: key, Value: value}
			}
			l.TaxClassID = s
		case keyRequireVerification:
			b, ok := value.(bool)
			if !ok {
				return &UnknownRecordFieldError{Field: key, Value: value}
			}
			l.RequireVerification = b
		case keyProvenance:
			s, ok := value.(string)
			if !ok {
				return &UnknownRecordFieldError{Field: key, Value: value}
			}
			l.Provenance = Provenance(s)
		case keyOnParentChange:
			s, ok := value.(string)
			if !ok {
				return &UnknownRecordFieldError{Field: key, Value: value}
			}
			l.OnParentChange = OnParentChange(s)
		default:
			l.Extra[key] = value
		}
	}
	return l.validate()
}

// IsProductLine reports whether the line carries a product.
func (l *Line) IsProductLine() bool {
	return l.Type == TypeProduct && l.Product != nil
}

// Total returns the line total: base unit price times quantity, minus the
// line discount. The unit invariant between price and discount is enforced
// at construction, so the subtraction cannot mismatch.
func (l *Line) Total() pricing.Amount {
	total, err := l.BaseUnitPrice.Mul(l.Quantity).Sub(l.DiscountAmount)
	if err != nil {
		panic(err)
	}
	return total
}

// DiscountedUnitPrice returns the per-unit price net of the line discount.
// For a zero quantity it falls back to the base unit price.
func (l *Line) DiscountedUnitPrice() pricing.Amount {
	if l.Quantity.IsZero() {
		return l.BaseUnitPrice
	}
	return l.Total().Div(l.Quantity)
}

// TaxSum returns the total tax attached to the line as a bare decimal.
// It is only meaningful after tax calculation.
func (l *Line) TaxSum() decimal.Decimal {
	sum := decimal.Zero
	for _, t := range l.Taxes {
		sum = sum.Add(t.TaxValue)
	}
	return sum
}

func toDecimal(value any) (decimal.Decimal, error) {
	switch v := value.(type) {
	case decimal.Decimal:
		return v, nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case string:
		return decimal.NewFromString(v)
	default:
		return decimal.Decimal{}, &UnknownRecordFieldError{Field: "decimal", Value: value}
	}
}

// toAmount coerces an update value into a tagged amount. Bare decimals keep
// the tags of the value being replaced.
func toAmount(value any, template pricing.Amount) (pricing.Amount, error) {
	switch v := value.(type) {
	case pricing.Amount:
		return v, nil
	case decimal.Decimal:
		return template.WithValue(v), nil
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return pricing.Amount{}, err
		}
		return template.WithValue(d), nil
	default:
		return pricing.Amount{}, &UnknownRecordFieldError{Field: "amount", Value: value}
	}
}
