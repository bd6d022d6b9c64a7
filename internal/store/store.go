// Package store implements the record store: an in-memory database of
// products, bids, users, and chat messages mirrored to a single JSON
// document on disk.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dylanjitt/auctions/internal/model"
)

// ErrNotFound is returned when a record id does not exist.
var ErrNotFound = errors.New("not found")

// ErrExists is returned when a create collides with an existing id.
var ErrExists = errors.New("already exists")

// document is the on-disk shape of the store, one JSON object holding every
// collection.
type document struct {
	Products     []model.Product     `json:"products"`
	Bids         []model.Bid         `json:"bids"`
	Users        []model.User        `json:"users"`
	ChatMessages []model.ChatMessage `json:"chatMessages"`
}

// Store guards the collections with a RWMutex; writes mark the store dirty
// and nudge the background persister.
type Store struct {
	path          string
	flushInterval time.Duration

	mu       sync.RWMutex
	products map[string]model.Product
	bids     map[string]model.Bid
	users    map[string]model.User
	messages map[string]model.ChatMessage

	dirty  atomic.Bool
	notify chan struct{}
}

// Open loads the JSON document at path if it exists and returns a ready
// store. A missing file starts the store empty.
func Open(path string, flushInterval time.Duration) (*Store, error) {
	s := &Store{
		path:          path,
		flushInterval: flushInterval,
		products:      make(map[string]model.Product),
		bids:          make(map[string]model.Bid),
		users:         make(map[string]model.User),
		messages:      make(map[string]model.ChatMessage),
		notify:        make(chan struct{}, 1),
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for _, p := range doc.Products {
		s.products[p.ID] = p
	}
	for _, b := range doc.Bids {
		s.bids[b.ID] = b
	}
	for _, u := range doc.Users {
		s.users[u.ID] = u
	}
	for _, m := range doc.ChatMessages {
		s.messages[m.ID] = m
	}
	return s, nil
}

func (s *Store) markDirty() {
	s.dirty.Store(true)
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// ListProducts returns every product, ordered by id.
func (s *Store) ListProducts() []model.Product {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetProduct looks up one product by id.
func (s *Store) GetProduct(id string) (model.Product, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	return p, ok
}

// CreateProduct inserts p; a duplicate id returns ErrExists.
func (s *Store) CreateProduct(p model.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[p.ID]; ok {
		return fmt.Errorf("product %s: %w", p.ID, ErrExists)
	}
	s.products[p.ID] = p
	s.markDirty()
	return nil
}

// UpdateProduct applies a partial update and returns the new state.
func (s *Store) UpdateProduct(id string, patch model.ProductPatch) (model.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return model.Product{}, fmt.Errorf("product %s: %w", id, ErrNotFound)
	}
	if patch.Title != nil {
		p.Title = *patch.Title
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	if patch.ImageURL != nil {
		p.ImageURL = *patch.ImageURL
	}
	if patch.BasePrice != nil {
		p.BasePrice = *patch.BasePrice
	}
	if patch.StartTime != nil {
		p.StartTime = *patch.StartTime
	}
	if patch.DurationSec != nil {
		p.DurationSec = *patch.DurationSec
	}
	s.products[id] = p
	s.markDirty()
	return p, nil
}

// DeleteProduct removes one product by id.
func (s *Store) DeleteProduct(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[id]; !ok {
		return fmt.Errorf("product %s: %w", id, ErrNotFound)
	}
	delete(s.products, id)
	s.markDirty()
	return nil
}

// CreateBid inserts an already-identified bid.
func (s *Store) CreateBid(b model.Bid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bids[b.ID]; ok {
		return fmt.Errorf("bid %s: %w", b.ID, ErrExists)
	}
	s.bids[b.ID] = b
	s.markDirty()
	return nil
}

// BidsByProduct returns the product's bids, newest first.
func (s *Store) BidsByProduct(productID string) []model.Bid {
	return s.listBids(func(b model.Bid) bool { return b.ProductID == productID })
}

// BidsByUser returns the user's bids, newest first.
func (s *Store) BidsByUser(userID string) []model.Bid {
	return s.listBids(func(b model.Bid) bool { return b.UserID == userID })
}

// ListBids returns every bid, newest first.
func (s *Store) ListBids() []model.Bid {
	return s.listBids(func(model.Bid) bool { return true })
}

func (s *Store) listBids(keep func(model.Bid) bool) []model.Bid {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Bid, 0)
	for _, b := range s.bids {
		if keep(b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp > out[j].Timestamp
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// CreateChatMessage inserts an already-identified chat message.
func (s *Store) CreateChatMessage(m model.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[m.ID]; ok {
		return fmt.Errorf("chat message %s: %w", m.ID, ErrExists)
	}
	s.messages[m.ID] = m
	s.markDirty()
	return nil
}

// MessagesByProduct returns the product's chat history, oldest first.
func (s *Store) MessagesByProduct(productID string) []model.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ChatMessage, 0)
	for _, m := range s.messages {
		if m.ProductID == productID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ListUsers returns every user, ordered by username.
func (s *Store) ListUsers() []model.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// GetUser looks up one user by id.
func (s *Store) GetUser(id string) (model.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	return u, ok
}

// CreateUser inserts u; a duplicate id returns ErrExists.
func (s *Store) CreateUser(u model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; ok {
		return fmt.Errorf("user %s: %w", u.ID, ErrExists)
	}
	s.users[u.ID] = u
	s.markDirty()
	return nil
}

// UpdateUser replaces the non-empty mutable fields of an existing user.
func (s *Store) UpdateUser(id string, u model.User) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.users[id]
	if !ok {
		return model.User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	if u.Username != "" {
		cur.Username = u.Username
	}
	if u.Email != "" {
		cur.Email = u.Email
	}
	if u.Role != "" {
		cur.Role = u.Role
	}
	s.users[id] = cur
	s.markDirty()
	return cur, nil
}

// DeleteUser removes one user by id.
func (s *Store) DeleteUser(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	delete(s.users, id)
	s.markDirty()
	return nil
}

// Counts reports collection sizes for the metrics endpoint.
func (s *Store) Counts() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]int{
		"products":      len(s.products),
		"bids":          len(s.bids),
		"users":         len(s.users),
		"chat_messages": len(s.messages),
	}
}

func (s *Store) snapshot() document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc := document{
		Products:     make([]model.Product, 0, len(s.products)),
		Bids:         make([]model.Bid, 0, len(s.bids)),
		Users:        make([]model.User, 0, len(s.users)),
		ChatMessages: make([]model.ChatMessage, 0, len(s.messages)),
	}
	for _, p := range s.products {
		doc.Products = append(doc.Products, p)
	}
	for _, b := range s.bids {
		doc.Bids = append(doc.Bids, b)
	}
	for _, u := range s.users {
		doc.Users = append(doc.Users, u)
	}
	for _, m := range s.messages {
		doc.ChatMessages = append(doc.ChatMessages, m)
	}
	sort.Slice(doc.Products, func(i, j int) bool { return doc.Products[i].ID < doc.Products[j].ID })
	sort.Slice(doc.Bids, func(i, j int) bool { return doc.Bids[i].ID < doc.Bids[j].ID })
	sort.Slice(doc.Users, func(i, j int) bool { return doc.Users[i].ID < doc.Users[j].ID })
	sort.Slice(doc.ChatMessages, func(i, j int) bool { return doc.ChatMessages[i].ID < doc.ChatMessages[j].ID })
	return doc
}
