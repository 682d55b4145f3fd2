// Package mocks provides testify mocks of the collaborators the ingest
// service depends on.
package mocks

import (
	"context"

	"github.com/hbomb79/Tempo/internal/download"
	"github.com/hbomb79/Tempo/internal/extract"
	"github.com/hbomb79/Tempo/internal/media"
	"github.com/hbomb79/Tempo/internal/source"
	"github.com/hbomb79/Tempo/internal/storage"
	"github.com/stretchr/testify/mock"
)

type (
	MockExtractor   struct{ mock.Mock }
	MockCoordinator struct{ mock.Mock }
	MockDataStore   struct{ mock.Mock }

	// T is the subset of testing.T the constructors require.
	T interface {
		mock.TestingT
		Cleanup(func())
	}
)

func NewMockExtractor(t T) *MockExtractor {
	m := &MockExtractor{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockExtractor) Usable(platform media.Platform) error {
	return m.Called(platform).Error(0)
}

func (m *MockExtractor) Extract(ctx context.Context, classification source.Classification) (*extract.Extraction, error) {
	args := m.Called(ctx, classification)
	extraction, _ := args.Get(0).(*extract.Extraction)
	return extraction, args.Error(1)
}

func NewMockCoordinator(t T) *MockCoordinator {
	m := &MockCoordinator{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockCoordinator) Usable(dest storage.Destination) error {
	return m.Called(dest).Error(0)
}

func (m *MockCoordinator) Process(ctx context.Context, tracks []*media.Track, opts download.Options) (*download.Batch, error) {
	args := m.Called(ctx, tracks, opts)
	if fn, ok := args.Get(0).(func([]*media.Track, download.Options) *download.Batch); ok {
		return fn(tracks, opts), args.Error(1)
	}

	batch, _ := args.Get(0).(*download.Batch)
	return batch, args.Error(1)
}

func NewMockDataStore(t T) *MockDataStore {
	m := &MockDataStore{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockDataStore) SaveIngestion(playlist *media.Playlist, tracks []*media.Track) error {
	return m.Called(playlist, tracks).Error(0)
}
