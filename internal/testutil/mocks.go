package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	domainErrors "github.com/oakmart/payments/internal/domain/errors"
	"github.com/oakmart/payments/internal/domain/order"
	"github.com/oakmart/payments/internal/domain/outbox"
	"github.com/oakmart/payments/internal/domain/payment"
	"github.com/oakmart/payments/internal/domain/webhook"
)

// --- Transaction Repository Mock ---

// MockTransactionRepository is an in-memory payment.TransactionRepository.
type MockTransactionRepository struct {
	mu           sync.Mutex
	transactions map[uuid.UUID]*payment.Transaction

	CreateFunc    func(ctx context.Context, t *payment.Transaction) error
	GetByIDFunc   func(ctx context.Context, id uuid.UUID) (*payment.Transaction, error)
	LockFunc      func(ctx context.Context, id uuid.UUID) (*payment.Transaction, error)
	UpdateFunc    func(ctx context.Context, t *payment.Transaction) error
	ListFunc      func(ctx context.Context, f payment.ListFilter) ([]*payment.Transaction, error)
	ListStuckFunc func(ctx context.Context, cutoff time.Time, limit int) ([]*payment.Transaction, error)
}

func NewMockTransactionRepository() *MockTransactionRepository {
	return &MockTransactionRepository{
		transactions: make(map[uuid.UUID]*payment.Transaction),
	}
}

// Add pre-populates the mock with a transaction.
func (m *MockTransactionRepository) Add(t *payment.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions[t.ID] = t
}

func (m *MockTransactionRepository) Create(ctx context.Context, t *payment.Transaction) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, t)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions[t.ID] = t
	return nil
}

func (m *MockTransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*payment.Transaction, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transactions[id]
	if !ok {
		return nil, domainErrors.ErrTransactionNotFound
	}
	return t, nil
}

func (m *MockTransactionRepository) GetByProviderTransactionID(ctx context.Context, provider, providerTxID string) (*payment.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.transactions {
		if t.Provider == provider && t.ProviderTransactionID != nil && *t.ProviderTransactionID == providerTxID {
			return t, nil
		}
	}
	return nil, domainErrors.ErrTransactionNotFound
}

func (m *MockTransactionRepository) Lock(ctx context.Context, id uuid.UUID) (*payment.Transaction, error) {
	if m.LockFunc != nil {
		return m.LockFunc(ctx, id)
	}
	return m.GetByID(ctx, id)
}

func (m *MockTransactionRepository) Update(ctx context.Context, t *payment.Transaction) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, t)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions[t.ID] = t
	return nil
}

func (m *MockTransactionRepository) List(ctx context.Context, f payment.ListFilter) ([]*payment.Transaction, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, f)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]*payment.Transaction, 0, len(m.transactions))
	for _, t := range m.transactions {
		if f.OrderID != nil && t.OrderID != *f.OrderID {
			continue
		}
		if f.Status != nil && t.Status != *f.Status {
			continue
		}
		if f.Provider != nil && t.Provider != *f.Provider {
			continue
		}
		result = append(result, t)
	}
	return result, nil
}

func (m *MockTransactionRepository) ListStuck(ctx context.Context, cutoff time.Time, limit int) ([]*payment.Transaction, error) {
	if m.ListStuckFunc != nil {
		return m.ListStuckFunc(ctx, cutoff, limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*payment.Transaction
	for _, t := range m.transactions {
		if t.IsTerminal() || t.ExpiresAt == nil || t.ExpiresAt.After(cutoff) {
			continue
		}
		result = append(result, t)
		if len(result) == limit {
			break
		}
	}
	return result, nil
}

// Get returns the stored transaction (test helper, no context needed).
func (m *MockTransactionRepository) Get(id uuid.UUID) *payment.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transactions[id]
}

// --- Refund Repository Mock ---

// MockRefundRepository is an in-memory payment.RefundRepository.
type MockRefundRepository struct {
	mu      sync.Mutex
	refunds map[uuid.UUID]*payment.Refund

	CreateFunc      func(ctx context.Context, r *payment.Refund) error
	UpdateFunc      func(ctx context.Context, r *payment.Refund) error
	SumReservedFunc func(ctx context.Context, transactionID uuid.UUID) (int64, error)
	ListStuckFunc   func(ctx context.Context, cutoff time.Time, limit int) ([]*payment.Refund, error)
}

func NewMockRefundRepository() *MockRefundRepository {
	return &MockRefundRepository{refunds: make(map[uuid.UUID]*payment.Refund)}
}

// Add pre-populates the mock with a refund.
func (m *MockRefundRepository) Add(r *payment.Refund) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refunds[r.ID] = r
}

func (m *MockRefundRepository) Create(ctx context.Context, r *payment.Refund) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, r)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refunds[r.ID] = r
	return nil
}

func (m *MockRefundRepository) GetByID(ctx context.Context, id uuid.UUID) (*payment.Refund, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.refunds[id]
	if !ok {
		return nil, domainErrors.ErrRefundNotFound
	}
	return r, nil
}

func (m *MockRefundRepository) GetByProviderRefundID(ctx context.Context, provider, providerRefundID string) (*payment.Refund, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.refunds {
		if r.ProviderRefundID != nil && *r.ProviderRefundID == providerRefundID {
			return r, nil
		}
	}
	return nil, domainErrors.ErrRefundNotFound
}

func (m *MockRefundRepository) ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]*payment.Refund, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*payment.Refund
	for _, r := range m.refunds {
		if r.TransactionID == transactionID {
			result = append(result, r)
		}
	}
	return result, nil
}

func (m *MockRefundRepository) SumReserved(ctx context.Context, transactionID uuid.UUID) (int64, error) {
	if m.SumReservedFunc != nil {
		return m.SumReservedFunc(ctx, transactionID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum int64
	for _, r := range m.refunds {
		if r.TransactionID == transactionID && r.Status != payment.RefundFailed {
			sum += r.Amount.Value
		}
	}
	return sum, nil
}

func (m *MockRefundRepository) SumCompleted(ctx context.Context, transactionID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum int64
	for _, r := range m.refunds {
		if r.TransactionID == transactionID && r.Status == payment.RefundCompleted {
			sum += r.Amount.Value
		}
	}
	return sum, nil
}

func (m *MockRefundRepository) ListStuck(ctx context.Context, cutoff time.Time, limit int) ([]*payment.Refund, error) {
	if m.ListStuckFunc != nil {
		return m.ListStuckFunc(ctx, cutoff, limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*payment.Refund
	for _, r := range m.refunds {
		if r.IsTerminal() || !r.UpdatedAt.Before(cutoff) {
			continue
		}
		result = append(result, r)
		if len(result) == limit {
			break
		}
	}
	return result, nil
}

func (m *MockRefundRepository) Update(ctx context.Context, r *payment.Refund) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, r)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refunds[r.ID] = r
	return nil
}

// --- Method Repository Mock ---

// MockMethodRepository is an in-memory payment.MethodRepository.
type MockMethodRepository struct {
	mu      sync.Mutex
	methods map[string]*payment.Method
}

func NewMockMethodRepository() *MockMethodRepository {
	return &MockMethodRepository{methods: make(map[string]*payment.Method)}
}

// Add pre-populates the mock with a method.
func (m *MockMethodRepository) Add(method *payment.Method) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.methods[method.Code] = method
}

func (m *MockMethodRepository) GetByCode(ctx context.Context, code string) (*payment.Method, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	method, ok := m.methods[code]
	if !ok {
		return nil, domainErrors.ErrMethodNotFound
	}
	return method, nil
}

func (m *MockMethodRepository) GetByID(ctx context.Context, id uuid.UUID) (*payment.Method, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, method := range m.methods {
		if method.ID == id {
			return method, nil
		}
	}
	return nil, domainErrors.ErrMethodNotFound
}

func (m *MockMethodRepository) ListActive(ctx context.Context) ([]*payment.Method, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*payment.Method
	for _, method := range m.methods {
		if method.Active {
			result = append(result, method)
		}
	}
	return result, nil
}

// --- Webhook Repository Mock ---

// MockWebhookRepository is an in-memory webhook.Repository. Insert enforces
// the dedup key the way the unique constraint does in Postgres.
type MockWebhookRepository struct {
	mu      sync.Mutex
	events  map[uuid.UUID]*webhook.Event
	byDedup map[string]*webhook.Event

	InsertFunc func(ctx context.Context, e *webhook.Event) error
	UpdateFunc func(ctx context.Context, e *webhook.Event) error
}

func NewMockWebhookRepository() *MockWebhookRepository {
	return &MockWebhookRepository{
		events:  make(map[uuid.UUID]*webhook.Event),
		byDedup: make(map[string]*webhook.Event),
	}
}

func (m *MockWebhookRepository) Insert(ctx context.Context, e *webhook.Event) error {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, e)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byDedup[e.DedupKey]; ok {
		return domainErrors.ErrDuplicateWebhook
	}
	m.events[e.ID] = e
	m.byDedup[e.DedupKey] = e
	return nil
}

func (m *MockWebhookRepository) GetByDedupKey(ctx context.Context, key string) (*webhook.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byDedup[key]
	if !ok {
		return nil, domainErrors.ErrWebhookNotFound
	}
	return e, nil
}

func (m *MockWebhookRepository) Update(ctx context.Context, e *webhook.Event) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, e)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[e.ID] = e
	return nil
}

func (m *MockWebhookRepository) ListUnprocessed(ctx context.Context, limit int) ([]*webhook.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*webhook.Event
	for _, e := range m.events {
		if !e.Processed {
			result = append(result, e)
		}
		if len(result) == limit {
			break
		}
	}
	return result, nil
}

func (m *MockWebhookRepository) GetByID(ctx context.Context, id uuid.UUID) (*webhook.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return nil, domainErrors.ErrWebhookNotFound
	}
	return e, nil
}

// --- Order Service Mock ---

// MockOrderService is an in-memory order.Service.
type MockOrderService struct {
	mu     sync.Mutex
	orders map[string]*order.Order

	// StatusCalls counts SetPaymentStatus invocations per order.
	StatusCalls map[string]int

	GetOrderFunc         func(ctx context.Context, orderID string) (*order.Order, error)
	SetPaymentStatusFunc func(ctx context.Context, orderID string, status order.PaymentStatus) error
}

func NewMockOrderService() *MockOrderService {
	return &MockOrderService{
		orders:      make(map[string]*order.Order),
		StatusCalls: make(map[string]int),
	}
}

// Add pre-populates the mock with an order.
func (m *MockOrderService) Add(o *order.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o
}

func (m *MockOrderService) GetOrder(ctx context.Context, orderID string) (*order.Order, error) {
	if m.GetOrderFunc != nil {
		return m.GetOrderFunc(ctx, orderID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, domainErrors.ErrOrderNotFound
	}
	return o, nil
}

func (m *MockOrderService) SetPaymentStatus(ctx context.Context, orderID string, status order.PaymentStatus) error {
	if m.SetPaymentStatusFunc != nil {
		return m.SetPaymentStatusFunc(ctx, orderID, status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return domainErrors.ErrOrderNotFound
	}
	o.PaymentStatus = status
	m.StatusCalls[orderID]++
	return nil
}

// Get returns the stored order (test helper, no context needed).
func (m *MockOrderService) Get(orderID string) *order.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders[orderID]
}

// --- Outbox Repository Mock ---

// MockOutboxRepository is an in-memory outbox.Repository.
type MockOutboxRepository struct {
	mu      sync.Mutex
	entries []*outbox.Entry

	InsertFunc func(ctx context.Context, entry *outbox.Entry) error
}

func NewMockOutboxRepository() *MockOutboxRepository {
	return &MockOutboxRepository{}
}

func (m *MockOutboxRepository) Insert(ctx context.Context, entry *outbox.Entry) error {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, entry)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *MockOutboxRepository) GetPending(ctx context.Context, limit int) ([]*outbox.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*outbox.Entry
	for _, e := range m.entries {
		if e.Status == outbox.StatusPending {
			result = append(result, e)
		}
		if len(result) == limit {
			break
		}
	}
	return result, nil
}

func (m *MockOutboxRepository) MarkPublished(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.ID == id {
			e.Status = outbox.StatusPublished
			now := time.Now()
			e.PublishedAt = &now
		}
	}
	return nil
}

func (m *MockOutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.ID == id {
			e.RetryCount++
			if e.RetryCount >= e.MaxRetries {
				e.Status = outbox.StatusFailed
			}
		}
	}
	return nil
}

// Entries returns a snapshot of all inserted entries (test helper).
func (m *MockOutboxRepository) Entries() []*outbox.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*outbox.Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// --- Transaction Manager Mock ---

// MockTransactionManager runs the callback directly; there is no real
// database transaction in unit tests.
type MockTransactionManager struct {
	WithTransactionFunc func(ctx context.Context, fn func(ctx context.Context) error) error
}

func NewMockTransactionManager() *MockTransactionManager {
	return &MockTransactionManager{}
}

func (m *MockTransactionManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.WithTransactionFunc != nil {
		return m.WithTransactionFunc(ctx, fn)
	}
	return fn(ctx)
}
