package orders

type Status string

const (
	StatusCreated   Status = "CREATED"
	StatusPaid      Status = "PAID"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

var validNext = map[Status]map[Status]bool{
	StatusCreated:   {StatusPaid: true, StatusFailed: true, StatusCancelled: true},
	StatusFailed:    {StatusCancelled: true},
	StatusPaid:      {},
	StatusCancelled: {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// Terminal: tidak ada transisi keluar lagi.
func (s Status) Terminal() bool {
	next, ok := validNext[s]
	return ok && len(next) == 0
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentSuccess PaymentStatus = "SUCCESS"
	PaymentFailed  PaymentStatus = "FAILED"
)

// Outcome is the normalized gateway verdict handed to the reconciler.
type Outcome string

const (
	OutcomeCaptured   Outcome = "captured"
	OutcomeAuthorized Outcome = "authorized"
	OutcomeFailed     Outcome = "failed"
)

func (o Outcome) Succeeded() bool { return o == OutcomeCaptured || o == OutcomeAuthorized }

func (o Outcome) Valid() bool { return o.Succeeded() || o == OutcomeFailed }
