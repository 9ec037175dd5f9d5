// Package memory provides an in-process repository.Store for tests and local
// runs without Postgres. Transactions snapshot the whole state and restore it
// when fn returns an error; nested transactions behave like savepoints.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"storefront-service/models"
	"storefront-service/repository"
)

// Operation names accepted by Fail and Calls.
const (
	OpRecordEvent       = "events.record"
	OpPurgeEvents       = "events.purge"
	OpFindOrder         = "orders.find_by_id"
	OpFindPending       = "orders.find_pending_by_email"
	OpCreateOrder       = "orders.create"
	OpApplyPayment      = "orders.apply_payment"
	OpReplaceItems      = "orders.replace_items"
	OpAppendHistory     = "orders.append_history"
	OpSetFulfillmentID  = "orders.set_fulfillment_id"
	OpUpdateStatus      = "orders.update_status"
	OpFindAwaiting      = "orders.find_awaiting_fulfillment"
	OpRecoverBySession  = "carts.recover_by_session"
	OpRecoverByEmail    = "carts.recover_by_email"
	OpFindReminderCarts = "carts.find_reminder_candidates"
	OpMarkReminded      = "carts.mark_reminded"
)

type state struct {
	events  map[string]models.ProcessedEvent
	orders  map[uint]models.Order
	items   []models.OrderItem
	history []models.OrderStatusHistory
	carts   []models.AbandonedCart

	nextOrder, nextItem, nextHistory, nextCart uint
}

func (s *state) clone() *state {
	c := *s
	c.events = make(map[string]models.ProcessedEvent, len(s.events))
	for k, v := range s.events {
		c.events[k] = v
	}
	c.orders = make(map[uint]models.Order, len(s.orders))
	for k, v := range s.orders {
		c.orders[k] = v
	}
	c.items = append([]models.OrderItem(nil), s.items...)
	c.history = append([]models.OrderStatusHistory(nil), s.history...)
	c.carts = append([]models.AbandonedCart(nil), s.carts...)
	return &c
}

type shared struct {
	mu       sync.Mutex
	txMu     sync.Mutex
	st       *state
	failures map[string]error
	calls    map[string]int
}

// Store is the in-memory repository.Store.
type Store struct {
	sh   *shared
	inTx bool
}

func NewStore() *Store {
	return &Store{sh: &shared{
		st: &state{
			events:      map[string]models.ProcessedEvent{},
			orders:      map[uint]models.Order{},
			nextOrder:   1,
			nextItem:    1,
			nextHistory: 1,
			nextCart:    1,
		},
		failures: map[string]error{},
		calls:    map[string]int{},
	}}
}

// Fail makes every subsequent call of op return err. A nil err clears it.
func (s *Store) Fail(op string, err error) {
	s.sh.mu.Lock()
	defer s.sh.mu.Unlock()
	if err == nil {
		delete(s.sh.failures, op)
		return
	}
	s.sh.failures[op] = err
}

// Calls reports how many times op was invoked, failed calls included.
func (s *Store) Calls(op string) int {
	s.sh.mu.Lock()
	defer s.sh.mu.Unlock()
	return s.sh.calls[op]
}

// enter locks the state and records the call. The caller must unlock.
func (s *Store) enter(op string) error {
	s.sh.mu.Lock()
	s.sh.calls[op]++
	return s.sh.failures[op]
}

func (s *Store) Events() repository.EventRepository        { return &eventRepo{s} }
func (s *Store) Orders() repository.OrderRepository        { return &orderRepo{s} }
func (s *Store) Carts() repository.AbandonedCartRepository { return &cartRepo{s} }

func (s *Store) Transaction(ctx context.Context, fn func(tx repository.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.inTx {
		s.sh.txMu.Lock()
		defer s.sh.txMu.Unlock()
	}

	s.sh.mu.Lock()
	snapshot := s.sh.st.clone()
	s.sh.mu.Unlock()

	if err := fn(&Store{sh: s.sh, inTx: true}); err != nil {
		s.sh.mu.Lock()
		s.sh.st = snapshot
		s.sh.mu.Unlock()
		return err
	}
	return nil
}

// SeedOrder stores o as is, assigning an id and timestamps when missing.
func (s *Store) SeedOrder(o models.Order) models.Order {
	s.sh.mu.Lock()
	defer s.sh.mu.Unlock()
	st := s.sh.st
	if o.ID == 0 {
		o.ID = st.nextOrder
	}
	if o.ID >= st.nextOrder {
		st.nextOrder = o.ID + 1
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = o.CreatedAt
	}
	if o.Status == "" {
		o.Status = models.StatusPending
	}
	items := o.Items
	o.Items = nil
	st.orders[o.ID] = o
	for _, it := range items {
		it.OrderID = o.ID
		it.ID = st.nextItem
		st.nextItem++
		st.items = append(st.items, it)
	}
	return o
}

func (s *Store) SeedCart(c models.AbandonedCart) models.AbandonedCart {
	s.sh.mu.Lock()
	defer s.sh.mu.Unlock()
	st := s.sh.st
	c.ID = st.nextCart
	st.nextCart++
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	st.carts = append(st.carts, c)
	return c
}

func (s *Store) SeedEvent(e models.ProcessedEvent) {
	s.sh.mu.Lock()
	defer s.sh.mu.Unlock()
	s.sh.st.events[e.EventID] = e
}

// Order returns a copy of the stored order with its items attached.
func (s *Store) Order(id uint) (models.Order, bool) {
	s.sh.mu.Lock()
	defer s.sh.mu.Unlock()
	o, ok := s.sh.st.orders[id]
	if ok {
		o.Items = s.sh.st.itemsOf(id)
	}
	return o, ok
}

// AllOrders returns every order sorted by id.
func (s *Store) AllOrders() []models.Order {
	s.sh.mu.Lock()
	defer s.sh.mu.Unlock()
	out := make([]models.Order, 0, len(s.sh.st.orders))
	for _, o := range s.sh.st.orders {
		o.Items = s.sh.st.itemsOf(o.ID)
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) Items(orderID uint) []models.OrderItem {
	s.sh.mu.Lock()
	defer s.sh.mu.Unlock()
	return s.sh.st.itemsOf(orderID)
}

func (s *Store) History(orderID uint) []models.OrderStatusHistory {
	s.sh.mu.Lock()
	defer s.sh.mu.Unlock()
	var out []models.OrderStatusHistory
	for _, h := range s.sh.st.history {
		if h.OrderID == orderID {
			out = append(out, h)
		}
	}
	return out
}

func (s *Store) Cart(id uint) (models.AbandonedCart, bool) {
	s.sh.mu.Lock()
	defer s.sh.mu.Unlock()
	for _, c := range s.sh.st.carts {
		if c.ID == id {
			return c, true
		}
	}
	return models.AbandonedCart{}, false
}

func (s *Store) HasEvent(id string) bool {
	s.sh.mu.Lock()
	defer s.sh.mu.Unlock()
	_, ok := s.sh.st.events[id]
	return ok
}

func (st *state) itemsOf(orderID uint) []models.OrderItem {
	var out []models.OrderItem
	for _, it := range st.items {
		if it.OrderID == orderID {
			out = append(out, it)
		}
	}
	return out
}

type eventRepo struct{ s *Store }

func (r *eventRepo) Record(_ context.Context, e *models.ProcessedEvent) (bool, error) {
	defer r.s.sh.mu.Unlock()
	if err := r.s.enter(OpRecordEvent); err != nil {
		return false, err
	}
	st := r.s.sh.st
	if _, ok := st.events[e.EventID]; ok {
		return false, nil
	}
	st.events[e.EventID] = *e
	return true, nil
}

func (r *eventRepo) PurgeBefore(_ context.Context, cutoff time.Time) (int64, error) {
	defer r.s.sh.mu.Unlock()
	if err := r.s.enter(OpPurgeEvents); err != nil {
		return 0, err
	}
	var n int64
	for id, e := range r.s.sh.st.events {
		if e.ReceivedAt.Before(cutoff) {
			delete(r.s.sh.st.events, id)
			n++
		}
	}
	return n, nil
}

type orderRepo struct{ s *Store }

func (r *orderRepo) FindByID(_ context.Context, id uint) (*models.Order, error) {
	defer r.s.sh.mu.Unlock()
	if err := r.s.enter(OpFindOrder); err != nil {
		return nil, err
	}
	o, ok := r.s.sh.st.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &o, nil
}

func (r *orderRepo) FindLatestPendingByEmail(_ context.Context, email string) (*models.Order, error) {
	defer r.s.sh.mu.Unlock()
	if err := r.s.enter(OpFindPending); err != nil {
		return nil, err
	}
	email = strings.ToLower(email)
	var found *models.Order
	for _, o := range r.s.sh.st.orders {
		if o.Status != models.StatusPending || strings.ToLower(o.CustomerEmail) != email {
			continue
		}
		if found == nil || o.CreatedAt.After(found.CreatedAt) ||
			(o.CreatedAt.Equal(found.CreatedAt) && o.ID > found.ID) {
			o := o
			found = &o
		}
	}
	if found == nil {
		return nil, repository.ErrNotFound
	}
	return found, nil
}

func (r *orderRepo) Create(_ context.Context, o *models.Order) error {
	defer r.s.sh.mu.Unlock()
	if err := r.s.enter(OpCreateOrder); err != nil {
		return err
	}
	st := r.s.sh.st
	o.ID = st.nextOrder
	st.nextOrder++
	now := time.Now()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	stored := *o
	stored.Items = nil
	st.orders[o.ID] = stored
	return nil
}

func (r *orderRepo) ApplyPayment(_ context.Context, id uint, u repository.PaymentUpdate) error {
	defer r.s.sh.mu.Unlock()
	if err := r.s.enter(OpApplyPayment); err != nil {
		return err
	}
	o, ok := r.s.sh.st.orders[id]
	if !ok {
		return repository.ErrNotFound
	}
	o.Status = u.Status
	o.Total = u.Total
	o.ShippingCost = u.ShippingCost
	paidAt := u.PaidAt
	o.PaidAt = &paidAt
	if u.CustomerEmail != "" {
		o.CustomerEmail = u.CustomerEmail
	}
	if u.CheckoutSessionID != "" {
		sid := u.CheckoutSessionID
		o.CheckoutSessionID = &sid
	}
	if len(u.ShippingAddress) > 0 {
		o.ShippingAddress = u.ShippingAddress
	}
	o.UpdatedAt = time.Now()
	r.s.sh.st.orders[id] = o
	return nil
}

func (r *orderRepo) ReplaceItems(_ context.Context, orderID uint, items []models.OrderItem) error {
	defer r.s.sh.mu.Unlock()
	if err := r.s.enter(OpReplaceItems); err != nil {
		return err
	}
	st := r.s.sh.st
	kept := st.items[:0:0]
	for _, it := range st.items {
		if it.OrderID != orderID {
			kept = append(kept, it)
		}
	}
	for i := range items {
		items[i].OrderID = orderID
		items[i].ID = st.nextItem
		st.nextItem++
		if items[i].CreatedAt.IsZero() {
			items[i].CreatedAt = time.Now()
		}
		kept = append(kept, items[i])
	}
	st.items = kept
	return nil
}

func (r *orderRepo) AppendHistory(_ context.Context, h *models.OrderStatusHistory) error {
	defer r.s.sh.mu.Unlock()
	if err := r.s.enter(OpAppendHistory); err != nil {
		return err
	}
	st := r.s.sh.st
	h.ID = st.nextHistory
	st.nextHistory++
	st.history = append(st.history, *h)
	return nil
}

func (r *orderRepo) SetFulfillmentOrderID(_ context.Context, id uint, fulfillmentOrderID string) error {
	defer r.s.sh.mu.Unlock()
	if err := r.s.enter(OpSetFulfillmentID); err != nil {
		return err
	}
	o, ok := r.s.sh.st.orders[id]
	if !ok {
		return repository.ErrNotFound
	}
	o.FulfillmentOrderID = &fulfillmentOrderID
	r.s.sh.st.orders[id] = o
	return nil
}

func (r *orderRepo) UpdateStatus(_ context.Context, id uint, status models.OrderStatus) error {
	defer r.s.sh.mu.Unlock()
	if err := r.s.enter(OpUpdateStatus); err != nil {
		return err
	}
	o, ok := r.s.sh.st.orders[id]
	if !ok {
		return repository.ErrNotFound
	}
	o.Status = status
	o.UpdatedAt = time.Now()
	r.s.sh.st.orders[id] = o
	return nil
}

func (r *orderRepo) FindAwaitingFulfillment(_ context.Context, statuses []models.OrderStatus, afterID uint, limit int) ([]models.Order, error) {
	defer r.s.sh.mu.Unlock()
	if err := r.s.enter(OpFindAwaiting); err != nil {
		return nil, err
	}
	wanted := make(map[models.OrderStatus]bool, len(statuses))
	for _, st := range statuses {
		wanted[st] = true
	}
	var out []models.Order
	for _, o := range r.s.sh.st.orders {
		if o.ID > afterID && o.FulfillmentOrderID != nil && *o.FulfillmentOrderID != "" && wanted[o.Status] {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type cartRepo struct{ s *Store }

func (r *cartRepo) MarkRecoveredBySession(_ context.Context, sessionID string, at time.Time) (bool, error) {
	defer r.s.sh.mu.Unlock()
	if err := r.s.enter(OpRecoverBySession); err != nil {
		return false, err
	}
	return r.markNewest(func(c models.AbandonedCart) bool {
		return c.CheckoutSessionID != nil && *c.CheckoutSessionID == sessionID
	}, at), nil
}

func (r *cartRepo) MarkRecoveredByEmail(_ context.Context, email string, since, at time.Time) (bool, error) {
	defer r.s.sh.mu.Unlock()
	if err := r.s.enter(OpRecoverByEmail); err != nil {
		return false, err
	}
	email = strings.ToLower(email)
	return r.markNewest(func(c models.AbandonedCart) bool {
		return strings.ToLower(c.CustomerEmail) == email && !c.CreatedAt.Before(since)
	}, at), nil
}

func (r *cartRepo) markNewest(match func(models.AbandonedCart) bool, at time.Time) bool {
	carts := r.s.sh.st.carts
	idx := -1
	for i, c := range carts {
		if c.IsRecovered || !match(c) {
			continue
		}
		if idx < 0 || c.CreatedAt.After(carts[idx].CreatedAt) {
			idx = i
		}
	}
	if idx < 0 {
		return false
	}
	carts[idx].IsRecovered = true
	recoveredAt := at
	carts[idx].RecoveredAt = &recoveredAt
	return true
}

func (r *cartRepo) FindReminderCandidates(_ context.Context, idleBefore, createdAfter time.Time, limit int) ([]models.AbandonedCart, error) {
	defer r.s.sh.mu.Unlock()
	if err := r.s.enter(OpFindReminderCarts); err != nil {
		return nil, err
	}
	var out []models.AbandonedCart
	for _, c := range r.s.sh.st.carts {
		if c.IsRecovered || c.ReminderSentAt != nil {
			continue
		}
		if c.CreatedAt.Before(idleBefore) && !c.CreatedAt.Before(createdAfter) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *cartRepo) MarkReminded(_ context.Context, id uint, at time.Time) error {
	defer r.s.sh.mu.Unlock()
	if err := r.s.enter(OpMarkReminded); err != nil {
		return err
	}
	for i, c := range r.s.sh.st.carts {
		if c.ID == id && c.ReminderSentAt == nil {
			sent := at
			r.s.sh.st.carts[i].ReminderSentAt = &sent
		}
	}
	return nil
}
