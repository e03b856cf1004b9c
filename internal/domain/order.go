package domain

import "time"

// OrderStatus описывает жизненный цикл заказа в ресторане.
type OrderStatus string

const (
	// OrderStatusPending: заказ принят и может редактироваться.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusDelivered: заказ передан клиенту (выдан или доставлен).
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusProcessed: заказ полностью обработан (оплачен и закрыт).
	OrderStatusProcessed OrderStatus = "processed"
	// OrderStatusCanceled: заказ отменён.
	OrderStatusCanceled OrderStatus = "canceled"
)

// IsFinal сообщает, что статус больше не допускает переходов.
func (s OrderStatus) IsFinal() bool {
	return s == OrderStatusProcessed || s == OrderStatusCanceled
}

// OrderType: способ исполнения заказа.
type OrderType string

const (
	OrderTypeOnSite   OrderType = "on_site"
	OrderTypeTakeaway OrderType = "takeaway"
	OrderTypeDelivery OrderType = "delivery"
)

// Valid проверяет, что тип заказа известен.
func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeOnSite, OrderTypeTakeaway, OrderTypeDelivery:
		return true
	}
	return false
}

// LineItem представляет одну позицию заказа.
type LineItem struct {
	// ID позиции внутри заказа.
	ID string `json:"id" yaml:"id"`
	// ProductID: идентичность товара; по нему позиции объединяются.
	ProductID string `json:"product_id" yaml:"product_id"`
	// Name: название товара на момент добавления.
	Name string `json:"name" yaml:"name"`
	// Qty: количество единиц товара.
	Qty int32 `json:"qty" yaml:"qty"`
	// PriceMinor: цена за единицу в минимальных денежных единицах.
	PriceMinor int64 `json:"price_minor" yaml:"price_minor"`
	// TotalMinor: производная сумма позиции: Qty * PriceMinor.
	TotalMinor int64 `json:"total_minor" yaml:"total_minor"`
}

// Recalculate пересчитывает сумму позиции.
func (i *LineItem) Recalculate() {
	i.TotalMinor = int64(i.Qty) * i.PriceMinor
}

// Product: товар из меню, который добавляется в заказ.
type Product struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	PriceMinor int64  `json:"price_minor"`
}

// PaymentDetails хранит суммы частичной оплаты по каналам.
type PaymentDetails struct {
	CashMinor        int64  `json:"cash_minor" yaml:"cash_minor"`
	MobileMoneyMinor int64  `json:"mobile_money_minor" yaml:"mobile_money_minor"`
	CardMinor        int64  `json:"card_minor" yaml:"card_minor"`
	CreditMinor      int64  `json:"credit_minor" yaml:"credit_minor"`
	Reference        string `json:"reference,omitempty" yaml:"reference"`
}

// PaidMinor возвращает сумму, уже внесённую по всем каналам, кроме кредита.
func (p PaymentDetails) PaidMinor() int64 {
	return p.CashMinor + p.MobileMoneyMinor + p.CardMinor
}

// PaymentPatch: частичное обновление PaymentDetails.
// Nil-поля означают «оставить как есть».
type PaymentPatch struct {
	CashMinor        *int64  `json:"cash_minor,omitempty"`
	MobileMoneyMinor *int64  `json:"mobile_money_minor,omitempty"`
	CardMinor        *int64  `json:"card_minor,omitempty"`
	CreditMinor      *int64  `json:"credit_minor,omitempty"`
	Reference        *string `json:"reference,omitempty"`
}

// Empty сообщает, что патч ничего не меняет.
func (p PaymentPatch) Empty() bool {
	return p.CashMinor == nil && p.MobileMoneyMinor == nil && p.CardMinor == nil &&
		p.CreditMinor == nil && p.Reference == nil
}

// Apply возвращает копию details с применёнными полями патча.
func (p PaymentPatch) Apply(details PaymentDetails) PaymentDetails {
	if p.CashMinor != nil {
		details.CashMinor = *p.CashMinor
	}
	if p.MobileMoneyMinor != nil {
		details.MobileMoneyMinor = *p.MobileMoneyMinor
	}
	if p.CardMinor != nil {
		details.CardMinor = *p.CardMinor
	}
	if p.CreditMinor != nil {
		details.CreditMinor = *p.CreditMinor
	}
	if p.Reference != nil {
		details.Reference = *p.Reference
	}
	return details
}

// Address: адрес доставки клиента.
type Address struct {
	ID       string `json:"id" yaml:"id"`
	Label    string `json:"label,omitempty" yaml:"label"`
	Street   string `json:"street,omitempty" yaml:"street"`
	District string `json:"district,omitempty" yaml:"district"`
	City     string `json:"city,omitempty" yaml:"city"`
	Landmark string `json:"landmark,omitempty" yaml:"landmark"`
}

// DisplayString собирает денормализованную строку адреса для заказа.
func (a Address) DisplayString() string {
	out := ""
	for _, part := range []string{a.Label, a.Street, a.District, a.City} {
		if part == "" {
			continue
		}
		if out != "" {
			out += ", "
		}
		out += part
	}
	if a.Landmark != "" {
		if out != "" {
			out += " "
		}
		out += "(" + a.Landmark + ")"
	}
	return out
}

// UserRef: раскрытая сервером ссылка на пользователя, создавшего заказ.
type UserRef struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
	Role string `json:"role,omitempty" yaml:"role"`
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID      string `json:"id" yaml:"id"`
	Version int64  `json:"version" yaml:"version"`

	ClientName        string     `json:"client_name" yaml:"client_name"`
	ClientPhone       string     `json:"client_phone" yaml:"client_phone"`
	Type              OrderType  `json:"order_type" yaml:"order_type"`
	TableNumber       string     `json:"table_number" yaml:"table_number"`
	Notes             string     `json:"notes" yaml:"notes"`
	ScheduledAt       *time.Time `json:"scheduled_at,omitempty" yaml:"scheduled_at"`
	DeliveryAddress   string     `json:"delivery_address" yaml:"delivery_address"`
	DeliveryAddressID string     `json:"delivery_address_id" yaml:"delivery_address_id"`
	DeliveryFeeMinor  int64      `json:"delivery_fee_minor" yaml:"delivery_fee_minor"`
	DiscountMinor     int64      `json:"discount_minor" yaml:"discount_minor"`

	Items   []LineItem     `json:"items" yaml:"items"`
	Payment PaymentDetails `json:"payment" yaml:"payment"`

	// Поля ниже ведёт сервер; сессия их не отправляет.
	Status      OrderStatus `json:"status" yaml:"status"`
	TotalMinor  int64       `json:"total_minor" yaml:"total_minor"`
	CreatedBy   *UserRef    `json:"created_by,omitempty" yaml:"created_by"`
	CreatedAt   time.Time   `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at" yaml:"updated_at"`
	FinalizedAt *time.Time  `json:"finalized_at,omitempty" yaml:"finalized_at"`
}

// Clone возвращает полностью независимую копию заказа.
func (o Order) Clone() Order {
	out := o
	out.Items = cloneItems(o.Items)
	if o.ScheduledAt != nil {
		at := *o.ScheduledAt
		out.ScheduledAt = &at
	}
	if o.CreatedBy != nil {
		user := *o.CreatedBy
		out.CreatedBy = &user
	}
	if o.FinalizedAt != nil {
		at := *o.FinalizedAt
		out.FinalizedAt = &at
	}
	return out
}

// ItemsTotalMinor возвращает сумму всех позиций.
func (o *Order) ItemsTotalMinor() int64 {
	var sum int64
	for _, item := range o.Items {
		sum += item.TotalMinor
	}
	return sum
}

// Recalculate пересчитывает производные суммы позиций и заказа.
func (o *Order) Recalculate() {
	for i := range o.Items {
		o.Items[i].Recalculate()
	}
	total := o.ItemsTotalMinor() + o.DeliveryFeeMinor - o.DiscountMinor
	if total < 0 {
		total = 0
	}
	o.TotalMinor = total
}

// IndexOfProduct возвращает индекс позиции с данным товаром или -1.
func (o *Order) IndexOfProduct(productID string) int {
	for i, item := range o.Items {
		if item.ProductID == productID {
			return i
		}
	}
	return -1
}

// ValidateInvariants проверяет базовые инварианты заказа перед записью.
func (o *Order) ValidateInvariants() ValidationErrors {
	var errs ValidationErrors

	if o.ClientName == "" {
		errs = append(errs, &ValidationError{Field: FieldClientName, Message: "client name is required"})
	}
	if !o.Type.Valid() {
		errs = append(errs, &ValidationError{Field: FieldOrderType, Message: "unknown order type"})
	}
	if o.Type == OrderTypeDelivery && o.DeliveryAddressID == "" {
		errs = append(errs, &ValidationError{Field: FieldDeliveryAddress, Message: "delivery order requires an address"})
	}
	if len(o.Items) == 0 {
		errs = append(errs, &ValidationError{Field: FieldItems, Message: "order must contain at least one item"})
	}
	for _, item := range o.Items {
		if item.Qty <= 0 {
			errs = append(errs, &ValidationError{Field: FieldItems, Message: "item qty must be greater than zero"})
			break
		}
		if item.PriceMinor < 0 {
			errs = append(errs, &ValidationError{Field: FieldItems, Message: "item price must be non-negative"})
			break
		}
	}
	if o.DeliveryFeeMinor < 0 {
		errs = append(errs, &ValidationError{Field: FieldDeliveryFee, Message: "delivery fee must be non-negative"})
	}
	if o.DiscountMinor < 0 {
		errs = append(errs, &ValidationError{Field: FieldDiscount, Message: "discount must be non-negative"})
	}
	p := o.Payment
	if p.CashMinor < 0 || p.MobileMoneyMinor < 0 || p.CardMinor < 0 || p.CreditMinor < 0 {
		errs = append(errs, &ValidationError{Field: FieldPayment, Message: "payment amounts must be non-negative"})
	}

	return errs
}

func cloneItems(items []LineItem) []LineItem {
	out := make([]LineItem, len(items))
	copy(out, items)
	return out
}
