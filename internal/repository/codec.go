package repository

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/checkout-engine/internal/domain/basket"
	"github.com/xenking/checkout-engine/internal/domain/source"
)

// JSON codec for stored basket records. Decimal values are encoded as JSON
// numbers and decoded back into decimal.Decimal without a float round trip.

func encodeBasketRecord(rec *basket.Record) []byte {
	var e jx.Encoder
	e.ObjStart()

	e.FieldStart("codes")
	e.ArrStart()
	for _, c := range rec.Codes {
		e.Str(c)
	}
	e.ArrEnd()

	e.FieldStart("lines")
	e.ArrStart()
	for _, l := range rec.Lines {
		encodeAnyMap(&e, l)
	}
	e.ArrEnd()

	e.FieldStart("customer_id")
	e.Str(rec.CustomerID)
	e.FieldStart("orderer_id")
	e.Str(rec.OrdererID)
	e.FieldStart("shipping_method_id")
	e.Str(rec.ShippingMethodID)
	e.FieldStart("payment_method_id")
	e.Str(rec.PaymentMethodID)
	e.FieldStart("customer_comment")
	e.Str(rec.CustomerComment)
	e.FieldStart("shared_billing_address_id")
	e.Str(rec.SharedBillingAddressID)
	e.FieldStart("shared_shipping_address_id")
	e.Str(rec.SharedShippingAddressID)

	if rec.BillingAddress != nil {
		e.FieldStart("billing_address")
		encodeAddress(&e, rec.BillingAddress)
	}
	if rec.ShippingAddress != nil {
		e.FieldStart("shipping_address")
		encodeAddress(&e, rec.ShippingAddress)
	}

	e.FieldStart("shipping_data")
	encodeAnyMap(&e, rec.ShippingData)
	e.FieldStart("payment_data")
	encodeAnyMap(&e, rec.PaymentData)
	e.FieldStart("extra_data")
	encodeAnyMap(&e, rec.ExtraData)

	e.ObjEnd()
	return e.Bytes()
}

func encodeAddress(e *jx.Encoder, a *source.Address) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(a.ID)
	e.FieldStart("name")
	e.Str(a.Name)
	e.FieldStart("street")
	e.Str(a.Street)
	e.FieldStart("city")
	e.Str(a.City)
	e.FieldStart("postal_code")
	e.Str(a.PostalCode)
	e.FieldStart("country")
	e.Str(a.Country)
	e.ObjEnd()
}

func encodeAnyMap(e *jx.Encoder, m map[string]any) {
	e.ObjStart()
	for k, v := range m {
		e.FieldStart(k)
		encodeAny(e, v)
	}
	e.ObjEnd()
}

func encodeAny(e *jx.Encoder, v any) {
	switch val := v.(type) {
	case nil:
		e.Null()
	case string:
		e.Str(val)
	case bool:
		e.Bool(val)
	case int:
		e.Int(val)
	case int64:
		e.Int64(val)
	case float64:
		e.Float64(val)
	case decimal.Decimal:
		e.Num(jx.Num(val.String()))
	case map[string]any:
		encodeAnyMap(e, val)
	case []any:
		e.ArrStart()
		for _, item := range val {
			encodeAny(e, item)
		}
		e.ArrEnd()
	default:
		// Unknown payload types degrade to their string form rather than
		// failing the whole save.
		e.Str(fmt.Sprintf("%v", val))
	}
}

func decodeBasketRecord(data []byte) (*basket.Record, error) {
	d := jx.DecodeBytes(data)
	rec := &basket.Record{}

	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "codes":
			return d.Arr(func(d *jx.Decoder) error {
				c, err := d.Str()
				if err != nil {
					return err
				}
				rec.Codes = append(rec.Codes, c)
				return nil
			})
		case "lines":
			return d.Arr(func(d *jx.Decoder) error {
				m, err := decodeAnyMap(d)
				if err != nil {
					return err
				}
				rec.Lines = append(rec.Lines, m)
				return nil
			})
		case "customer_id":
			return decodeStr(d, &rec.CustomerID)
		case "orderer_id":
			return decodeStr(d, &rec.OrdererID)
		case "shipping_method_id":
			return decodeStr(d, &rec.ShippingMethodID)
		case "payment_method_id":
			return decodeStr(d, &rec.PaymentMethodID)
		case "customer_comment":
			return decodeStr(d, &rec.CustomerComment)
		case "shared_billing_address_id":
			return decodeStr(d, &rec.SharedBillingAddressID)
		case "shared_shipping_address_id":
			return decodeStr(d, &rec.SharedShippingAddressID)
		case "billing_address":
			a, err := decodeAddress(d)
			rec.BillingAddress = a
			return err
		case "shipping_address":
			a, err := decodeAddress(d)
			rec.ShippingAddress = a
			return err
		case "shipping_data":
			m, err := decodeAnyMap(d)
			rec.ShippingData = m
			return err
		case "payment_data":
			m, err := decodeAnyMap(d)
			rec.PaymentData = m
			return err
		case "extra_data":
			m, err := decodeAnyMap(d)
			rec.ExtraData = m
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode basket record")
	}
	return rec, nil
}

// encodeMapJSON and friends serve the JSONB columns on orders.

func encodeMapJSON(m map[string]any) []byte {
	if m == nil {
		return nil
	}
	var e jx.Encoder
	encodeAnyMap(&e, m)
	return e.Bytes()
}

func decodeMapJSON(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	return decodeAnyMap(jx.DecodeBytes(data))
}

func encodeAddressJSON(a *source.Address) []byte {
	if a == nil {
		return nil
	}
	var e jx.Encoder
	encodeAddress(&e, a)
	return e.Bytes()
}

func decodeAddressJSON(data []byte) (*source.Address, error) {
	if len(data) == 0 {
		return nil, nil
	}
	return decodeAddress(jx.DecodeBytes(data))
}

func decodeStr(d *jx.Decoder, dst *string) error {
	s, err := d.Str()
	if err != nil {
		return err
	}
	*dst = s
	return nil
}

func decodeAddress(d *jx.Decoder) (*source.Address, error) {
	a := &source.Address{}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "id":
			return decodeStr(d, &a.ID)
		case "name":
			return decodeStr(d, &a.Name)
		case "street":
			return decodeStr(d, &a.Street)
		case "city":
			return decodeStr(d, &a.City)
		case "postal_code":
			return decodeStr(d, &a.PostalCode)
		case "country":
			return decodeStr(d, &a.Country)
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func decodeAnyMap(d *jx.Decoder) (map[string]any, error) {
	m := map[string]any{}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		v, err := decodeAny(d)
		if err != nil {
			return err
		}
		m[key] = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func decodeAny(d *jx.Decoder) (any, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return nil, err
		}
		return decimal.NewFromString(n.String())
	case jx.Bool:
		return d.Bool()
	case jx.Null:
		return nil, d.Null()
	case jx.Object:
		return decodeAnyMap(d)
	case jx.Array:
		var arr []any
		err := d.Arr(func(d *jx.Decoder) error {
			v, err := decodeAny(d)
			if err != nil {
				return err
			}
			arr = append(arr, v)
			return nil
		})
		return arr, err
	default:
		return nil, d.Skip()
	}
}
