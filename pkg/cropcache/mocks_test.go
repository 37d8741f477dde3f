package cropcache

import (
	"github.com/stretchr/testify/mock"
)

// MockBackend is a testify mock of Backend.
type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) Insert(e Entry) error {
	return m.Called(e).Error(0)
}

func (m *MockBackend) Update(e Entry) error {
	return m.Called(e).Error(0)
}

func (m *MockBackend) Delete(id string) error {
	return m.Called(id).Error(0)
}

func (m *MockBackend) FindByKey(cacheKey string) (Entry, error) {
	args := m.Called(cacheKey)
	return args.Get(0).(Entry), args.Error(1)
}

func (m *MockBackend) FindByImage(imageURL string) ([]Entry, error) {
	args := m.Called(imageURL)
	return args.Get(0).([]Entry), args.Error(1)
}

func (m *MockBackend) List() ([]Entry, error) {
	args := m.Called()
	return args.Get(0).([]Entry), args.Error(1)
}

func (m *MockBackend) Close() error {
	return m.Called().Error(0)
}
