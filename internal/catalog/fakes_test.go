package catalog

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/joao-fontenele/threadline/internal/domain"
	"github.com/joao-fontenele/threadline/internal/imagehost"
)

var errBoom = errors.New("boom")

type memStore struct {
	mu         sync.Mutex
	products   map[uuid.UUID]*domain.Product
	referenced map[uuid.UUID]bool
	archived   map[uuid.UUID]bool

	createErr     error
	hardDeleteErr error
}

func newMemStore() *memStore {
	return &memStore{
		products:   map[uuid.UUID]*domain.Product{},
		referenced: map[uuid.UUID]bool{},
		archived:   map[uuid.UUID]bool{},
	}
}

func (m *memStore) put(p *domain.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = p
}

func (m *memStore) List(_ context.Context, f Filter) ([]domain.Product, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Product
	for _, p := range m.products {
		if !f.IncludeInactive && (!p.IsActive || p.IsDraft) {
			continue
		}
		if f.Category != "" && p.Category != f.Category {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, int64(len(out)), nil
}

func (m *memStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.products[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (m *memStore) GetBySlug(_ context.Context, slug string) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.products {
		if p.Slug == slug {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) Categories(context.Context) ([]string, error) {
	return []string{"tees"}, nil
}

func (m *memStore) SlugTaken(_ context.Context, slug string, except uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.products {
		if p.Slug == slug && id != except {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) Create(_ context.Context, p *domain.Product) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.put(p)
	return nil
}

func (m *memStore) Update(_ context.Context, p *domain.Product) ([]domain.Image, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.products[p.ID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	kept := map[string]bool{}
	for _, img := range p.Images {
		kept[img.PublicID] = true
	}
	var removed []domain.Image
	for _, img := range old.Images {
		if !kept[img.PublicID] {
			removed = append(removed, img)
		}
	}
	m.products[p.ID] = p
	return removed, nil
}

func (m *memStore) IsReferenced(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.referenced[id], nil
}

func (m *memStore) Archive(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.products[id]
	p.IsActive = false
	p.IsDraft = true
	m.archived[id] = true
	return nil
}

func (m *memStore) HardDelete(_ context.Context, id uuid.UUID) ([]domain.Image, error) {
	if m.hardDeleteErr != nil {
		return nil, m.hardDeleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.products[id]
	delete(m.products, id)
	return p.Images, nil
}

type fakeHost struct {
	mu        sync.Mutex
	deleted   []string
	deleteErr error
}

func (f *fakeHost) Upload(_ context.Context, filename string, file io.Reader) (imagehost.Uploaded, error) {
	if _, err := io.ReadAll(file); err != nil {
		return imagehost.Uploaded{}, err
	}
	return imagehost.Uploaded{URL: "https://img.example.com/" + filename, PublicID: "products/" + filename}, nil
}

func (f *fakeHost) DeleteAll(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ids...)
	return f.deleteErr
}

func (f *fakeHost) deletedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.deleted...)
	sort.Strings(out)
	return out
}
