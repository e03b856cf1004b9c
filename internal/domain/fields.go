package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"
)

// Имена полей заказа верхнего уровня. Совпадают с JSON-ключами Order.
const (
	FieldID                = "id"
	FieldVersion           = "version"
	FieldClientName        = "client_name"
	FieldClientPhone       = "client_phone"
	FieldOrderType         = "order_type"
	FieldTableNumber       = "table_number"
	FieldNotes             = "notes"
	FieldScheduledAt       = "scheduled_at"
	FieldDeliveryAddress   = "delivery_address"
	FieldDeliveryAddressID = "delivery_address_id"
	FieldDeliveryFee       = "delivery_fee_minor"
	FieldDiscount          = "discount_minor"
	FieldItems             = "items"
	FieldPayment           = "payment"
	FieldStatus            = "status"
	FieldTotal             = "total_minor"
	FieldCreatedBy         = "created_by"
	FieldCreatedAt         = "created_at"
	FieldUpdatedAt         = "updated_at"
	FieldFinalizedAt       = "finalized_at"
)

// OrderPatch: набор записываемых полей, отправляемый в хранилище.
type OrderPatch map[string]any

// Keys возвращает ключи патча в порядке схемы.
func (p OrderPatch) Keys() []string {
	keys := make([]string, 0, len(p))
	for _, spec := range fieldSpecs {
		if _, ok := p[spec.name]; ok {
			keys = append(keys, spec.name)
		}
	}
	return keys
}

type fieldSpec struct {
	name string
	get  func(o *Order) any
	// set == nil означает поле только для чтения.
	set func(o *Order, v any) error
}

var fieldSpecs = []fieldSpec{
	{name: FieldID, get: func(o *Order) any { return o.ID }},
	{name: FieldVersion, get: func(o *Order) any { return o.Version }},
	{
		name: FieldClientName,
		get:  func(o *Order) any { return o.ClientName },
		set: func(o *Order, v any) (err error) {
			o.ClientName, err = asString(FieldClientName, v)
			return err
		},
	},
	{
		name: FieldClientPhone,
		get:  func(o *Order) any { return o.ClientPhone },
		set: func(o *Order, v any) (err error) {
			o.ClientPhone, err = asString(FieldClientPhone, v)
			return err
		},
	},
	{
		name: FieldOrderType,
		get:  func(o *Order) any { return o.Type },
		set: func(o *Order, v any) error {
			if t, ok := v.(OrderType); ok {
				v = string(t)
			}
			s, err := asString(FieldOrderType, v)
			if err != nil {
				return err
			}
			if !OrderType(s).Valid() {
				return &ValidationError{Field: FieldOrderType, Message: fmt.Sprintf("unknown order type %q", s)}
			}
			o.Type = OrderType(s)
			return nil
		},
	},
	{
		name: FieldTableNumber,
		get:  func(o *Order) any { return o.TableNumber },
		set: func(o *Order, v any) (err error) {
			o.TableNumber, err = asString(FieldTableNumber, v)
			return err
		},
	},
	{
		name: FieldNotes,
		get:  func(o *Order) any { return o.Notes },
		set: func(o *Order, v any) (err error) {
			o.Notes, err = asString(FieldNotes, v)
			return err
		},
	},
	{
		name: FieldScheduledAt,
		get: func(o *Order) any {
			if o.ScheduledAt == nil {
				return nil
			}
			return o.ScheduledAt.UTC()
		},
		set: func(o *Order, v any) (err error) {
			o.ScheduledAt, err = asTimePtr(FieldScheduledAt, v)
			return err
		},
	},
	{
		name: FieldDeliveryAddress,
		get:  func(o *Order) any { return o.DeliveryAddress },
		set: func(o *Order, v any) (err error) {
			o.DeliveryAddress, err = asString(FieldDeliveryAddress, v)
			return err
		},
	},
	{
		name: FieldDeliveryAddressID,
		get:  func(o *Order) any { return o.DeliveryAddressID },
		set: func(o *Order, v any) (err error) {
			o.DeliveryAddressID, err = asString(FieldDeliveryAddressID, v)
			return err
		},
	},
	{
		name: FieldDeliveryFee,
		get:  func(o *Order) any { return o.DeliveryFeeMinor },
		set: func(o *Order, v any) (err error) {
			o.DeliveryFeeMinor, err = asInt64(FieldDeliveryFee, v)
			return err
		},
	},
	{
		name: FieldDiscount,
		get:  func(o *Order) any { return o.DiscountMinor },
		set: func(o *Order, v any) (err error) {
			o.DiscountMinor, err = asInt64(FieldDiscount, v)
			return err
		},
	},
	{
		name: FieldItems,
		get:  func(o *Order) any { return cloneItems(o.Items) },
		set: func(o *Order, v any) error {
			var items []LineItem
			switch typed := v.(type) {
			case []LineItem:
				items = cloneItems(typed)
			case nil:
				items = []LineItem{}
			default:
				if err := reshape(FieldItems, v, &items); err != nil {
					return err
				}
				items = cloneItems(items)
			}
			o.Items = items
			return nil
		},
	},
	{
		name: FieldPayment,
		get:  func(o *Order) any { return o.Payment },
		set: func(o *Order, v any) error {
			switch typed := v.(type) {
			case PaymentDetails:
				o.Payment = typed
				return nil
			case *PaymentDetails:
				if typed == nil {
					o.Payment = PaymentDetails{}
					return nil
				}
				o.Payment = *typed
				return nil
			}
			var details PaymentDetails
			if err := reshape(FieldPayment, v, &details); err != nil {
				return err
			}
			o.Payment = details
			return nil
		},
	},
	{name: FieldStatus, get: func(o *Order) any { return o.Status }},
	{name: FieldTotal, get: func(o *Order) any { return o.TotalMinor }},
	{
		name: FieldCreatedBy,
		get: func(o *Order) any {
			if o.CreatedBy == nil {
				return nil
			}
			return *o.CreatedBy
		},
	},
	{name: FieldCreatedAt, get: func(o *Order) any { return o.CreatedAt.UTC() }},
	{name: FieldUpdatedAt, get: func(o *Order) any { return o.UpdatedAt.UTC() }},
	{
		name: FieldFinalizedAt,
		get: func(o *Order) any {
			if o.FinalizedAt == nil {
				return nil
			}
			return o.FinalizedAt.UTC()
		},
	},
}

var fieldIndex = func() map[string]int {
	idx := make(map[string]int, len(fieldSpecs))
	for i, spec := range fieldSpecs {
		idx[spec.name] = i
	}
	return idx
}()

// Fields возвращает имена всех полей верхнего уровня в порядке схемы.
func Fields() []string {
	out := make([]string, 0, len(fieldSpecs))
	for _, spec := range fieldSpecs {
		out = append(out, spec.name)
	}
	return out
}

// WritableFields возвращает поля, которые клиент может отправлять на запись.
func WritableFields() []string {
	out := make([]string, 0, len(fieldSpecs))
	for _, spec := range fieldSpecs {
		if spec.set != nil {
			out = append(out, spec.name)
		}
	}
	return out
}

// IsKnownField сообщает, описано ли поле в схеме.
func IsKnownField(name string) bool {
	_, ok := fieldIndex[name]
	return ok
}

// IsWritableField сообщает, можно ли менять поле через патч.
func IsWritableField(name string) bool {
	i, ok := fieldIndex[name]
	return ok && fieldSpecs[i].set != nil
}

// CheckWritable возвращает ErrUnknownField или ErrFieldReadOnly для недопустимого поля.
func CheckWritable(name string) error {
	i, ok := fieldIndex[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownField, name)
	}
	if fieldSpecs[i].set == nil {
		return fmt.Errorf("%w: %s", ErrFieldReadOnly, name)
	}
	return nil
}

// GetField возвращает нормализованное значение поля, пригодное для сравнения.
func GetField(o *Order, name string) (any, error) {
	i, ok := fieldIndex[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownField, name)
	}
	return fieldSpecs[i].get(o), nil
}

// SetField записывает значение в поле заказа с приведением типа.
// При ошибке заказ не меняется.
func SetField(o *Order, name string, value any) error {
	if err := CheckWritable(name); err != nil {
		return err
	}
	next := o.Clone()
	if err := fieldSpecs[fieldIndex[name]].set(&next, value); err != nil {
		return err
	}
	*o = next
	return nil
}

// FieldEqual сравнивает поле двух заказов структурно.
func FieldEqual(a, b *Order, name string) bool {
	i, ok := fieldIndex[name]
	if !ok {
		return true
	}
	return reflect.DeepEqual(fieldSpecs[i].get(a), fieldSpecs[i].get(b))
}

// BuildPatch собирает все записываемые поля заказа.
// Идентичность, версия, статус и производные поля в патч не попадают.
func BuildPatch(o Order) OrderPatch {
	patch := make(OrderPatch, len(fieldSpecs))
	for _, spec := range fieldSpecs {
		if spec.set == nil {
			continue
		}
		patch[spec.name] = spec.get(&o)
	}
	return patch
}

// ApplyPatch применяет патч к заказу целиком или не применяет вовсе.
func ApplyPatch(o *Order, patch OrderPatch) error {
	next := o.Clone()
	var errs ValidationErrors
	for _, name := range sortedPatchKeys(patch) {
		if err := CheckWritable(name); err != nil {
			return err
		}
		if err := fieldSpecs[fieldIndex[name]].set(&next, patch[name]); err != nil {
			if fe := FieldErrors(err); len(fe) > 0 {
				errs = append(errs, fe...)
				continue
			}
			return err
		}
	}
	if len(errs) > 0 {
		return errs
	}
	*o = next
	return nil
}

func sortedPatchKeys(patch OrderPatch) []string {
	keys := patch.Keys()
	if len(keys) == len(patch) {
		return keys
	}
	// неизвестные ключи идут в конец, чтобы CheckWritable их отверг
	for name := range patch {
		if !IsKnownField(name) {
			keys = append(keys, name)
		}
	}
	return keys
}

func asString(field string, v any) (string, error) {
	switch typed := v.(type) {
	case string:
		return typed, nil
	case nil:
		return "", nil
	case fmt.Stringer:
		return typed.String(), nil
	}
	return "", &ValidationError{Field: field, Message: fmt.Sprintf("expected string, got %T", v)}
}

func asInt64(field string, v any) (int64, error) {
	switch typed := v.(type) {
	case int:
		return int64(typed), nil
	case int32:
		return int64(typed), nil
	case int64:
		return typed, nil
	case float64:
		if typed != math.Trunc(typed) || math.Abs(typed) >= float64(math.MaxInt64) {
			return 0, &ValidationError{Field: field, Message: "expected integer amount"}
		}
		return int64(typed), nil
	case json.Number:
		n, err := typed.Int64()
		if err != nil {
			return 0, &ValidationError{Field: field, Message: "expected integer amount"}
		}
		return n, nil
	case string:
		n, err := strconv.ParseInt(typed, 10, 64)
		if err != nil {
			return 0, &ValidationError{Field: field, Message: "expected integer amount"}
		}
		return n, nil
	}
	return 0, &ValidationError{Field: field, Message: fmt.Sprintf("expected integer, got %T", v)}
}

func asTimePtr(field string, v any) (*time.Time, error) {
	switch typed := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		at := typed.UTC()
		return &at, nil
	case *time.Time:
		if typed == nil {
			return nil, nil
		}
		at := typed.UTC()
		return &at, nil
	case string:
		if typed == "" {
			return nil, nil
		}
		parsed, err := time.Parse(time.RFC3339, typed)
		if err != nil {
			return nil, &ValidationError{Field: field, Message: "expected RFC3339 timestamp"}
		}
		at := parsed.UTC()
		return &at, nil
	}
	return nil, &ValidationError{Field: field, Message: fmt.Sprintf("expected timestamp, got %T", v)}
}

// reshape приводит значение из JSON-формы (map/[]any) к типизированной структуре.
func reshape(field string, v any, dst any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return &ValidationError{Field: field, Message: "value is not serializable"}
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return &ValidationError{Field: field, Message: fmt.Sprintf("invalid value: %v", err)}
	}
	return nil
}
