// Package modeltest provides test doubles for the model package.
package modeltest

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/mash-protocol/opcsim-go/pkg/model"
)

// MockContext is a testify mock of model.Context. Calls are recorded in
// order, so teardown sequencing can be asserted with CallNames.
type MockContext struct{ mock.Mock }

var _ model.Context = (*MockContext)(nil)

func (m *MockContext) ConfigureDefaults() error { return m.Called().Error(0) }

func (m *MockContext) AddNamespace(uri string) (uint16, error) {
	ret := m.Called(uri)
	return ret.Get(0).(uint16), ret.Error(1)
}

func (m *MockContext) PublishObject(attrs model.ObjectAttributes) error {
	return m.Called(attrs).Error(0)
}

func (m *MockContext) PublishVariable(attrs model.VariableAttributes) error {
	return m.Called(attrs).Error(0)
}

func (m *MockContext) WriteValue(id model.NodeID, value model.Variant) error {
	return m.Called(id, value).Error(0)
}

func (m *MockContext) ReadValue(id model.NodeID) (model.Variant, error) {
	ret := m.Called(id)
	return ret.Get(0).(model.Variant), ret.Error(1)
}

func (m *MockContext) DeleteNode(id model.NodeID) error { return m.Called(id).Error(0) }

func (m *MockContext) StartService(ctx context.Context) error { return m.Called(ctx).Error(0) }

func (m *MockContext) IterateOnce(waitIndefinitely bool) int {
	return m.Called(waitIndefinitely).Int(0)
}

func (m *MockContext) StopService() { m.Called() }
func (m *MockContext) Destroy()     { m.Called() }

// AllowAll registers permissive expectations for every method. Register
// specific expectations before calling AllowAll; testify matches the
// earliest registered expectation first.
func (m *MockContext) AllowAll() *MockContext {
	m.On("ConfigureDefaults").Return(nil).Maybe()
	m.On("AddNamespace", mock.Anything).Return(uint16(1), nil).Maybe()
	m.On("PublishObject", mock.Anything).Return(nil).Maybe()
	m.On("PublishVariable", mock.Anything).Return(nil).Maybe()
	m.On("WriteValue", mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("ReadValue", mock.Anything).Return(model.Variant{}, model.ErrNodeNotFound).Maybe()
	m.On("DeleteNode", mock.Anything).Return(nil).Maybe()
	m.On("StartService", mock.Anything).Return(nil).Maybe()
	m.On("IterateOnce", mock.Anything).Return(0).Maybe()
	m.On("StopService").Return().Maybe()
	m.On("Destroy").Return().Maybe()
	return m
}

// CallNames returns the names of the invoked methods in call order.
func (m *MockContext) CallNames() []string {
	names := make([]string, 0, len(m.Calls))
	for _, c := range m.Calls {
		names = append(names, c.Method)
	}
	return names
}

// CallCount returns how many times the named method was invoked.
func (m *MockContext) CallCount(method string) int {
	n := 0
	for _, c := range m.Calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// PublishedIDs returns the node ids passed to PublishObject and
// PublishVariable, in call order.
func (m *MockContext) PublishedIDs() []model.NodeID {
	var ids []model.NodeID
	for _, c := range m.Calls {
		switch a := c.Arguments.Get(0).(type) {
		case model.ObjectAttributes:
			ids = append(ids, a.ID)
		case model.VariableAttributes:
			ids = append(ids, a.ID)
		}
	}
	return ids
}

// DeletedIDs returns the node ids passed to DeleteNode, in call order.
func (m *MockContext) DeletedIDs() []model.NodeID {
	var ids []model.NodeID
	for _, c := range m.Calls {
		if c.Method == "DeleteNode" {
			ids = append(ids, c.Arguments.Get(0).(model.NodeID))
		}
	}
	return ids
}
