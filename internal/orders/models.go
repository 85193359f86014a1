package orders

import (
	"github.com/shopspring/decimal"
	"time"
)

type Product struct {
	ID          string
	Name        string
	Description string
	Price       decimal.Decimal
	Stock       int
	Version     int64 // naik setiap kali stok berubah
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type CartItem struct {
	ID        string
	UserID    string
	ProductID string
	Quantity  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Order struct {
	ID          string
	UserID      string
	TotalAmount decimal.Decimal
	Status      Status // lihat status.go
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OrderItem.Price is the unit price at checkout time, never the live catalog price.
type OrderItem struct {
	ID        string
	OrderID   string
	ProductID string
	Quantity  int
	Price     decimal.Decimal
}

func (it OrderItem) Subtotal() decimal.Decimal {
	return it.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

type Payment struct {
	ID               string
	OrderID          string
	Amount           decimal.Decimal
	Status           PaymentStatus
	GatewayChargeRef string // id charge dari gateway, terisi setelah sukses
	GatewayOrderRef  string // intent ref, dipakai untuk lookup saat webhook
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ProductPatch carries optional fields for a partial product update.
type ProductPatch struct {
	Name        *string
	Description *string
	Price       *decimal.Decimal
	Stock       *int
}
