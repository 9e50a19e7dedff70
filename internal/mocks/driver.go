package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/Harvey-AU/huntsman/internal/driver"
)

// MockPageDriver is a mock implementation of the PageDriver interface
type MockPageDriver struct {
	mock.Mock
}

// Navigate mocks loading a page
func (m *MockPageDriver) Navigate(ctx context.Context, url string, wait driver.WaitStrategy, timeout time.Duration) (*driver.Navigation, error) {
	args := m.Called(ctx, url, wait, timeout)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*driver.Navigation), args.Error(1)
}

// Title mocks reading the loaded page's title
func (m *MockPageDriver) Title(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

// Anchors mocks collecting the loaded page's anchor hrefs
func (m *MockPageDriver) Anchors(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}
