package notification

import (
	"context"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

type Page struct {
	Items   []Notification `json:"items"`
	Total   int            `json:"total"`
	Page    int            `json:"page"`
	PerPage int            `json:"perPage"`
}

type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

func (s *Service) List(ctx context.Context, userID int64, unreadOnly bool, page, perPage int) (Page, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}

	items, total, err := s.store.List(ctx, userID, unreadOnly, perPage, (page-1)*perPage)
	if err != nil {
		return Page{}, err
	}
	if items == nil {
		items = []Notification{}
	}
	return Page{Items: items, Total: total, Page: page, PerPage: perPage}, nil
}

func (s *Service) MarkRead(ctx context.Context, id, userID int64) error {
	return s.store.MarkRead(ctx, id, userID)
}

func (s *Service) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	return s.store.MarkAllRead(ctx, userID)
}
