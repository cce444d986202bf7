package transporter

import (
	"context"
	"net/http"
	"net/url"

	"github.com/stretchr/testify/mock"

	"github.com/seanericksonpl12/AsyncSockets/wire"
)

type MockTransporter struct {
	mock.Mock
}

func (m *MockTransporter) Done() <-chan struct{} {
	args := m.Called()
	return args.Get(0).(chan struct{})
}

func (m *MockTransporter) Err() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockTransporter) Inbound() <-chan *wire.Inbound {
	args := m.Called()
	return args.Get(0).(chan *wire.Inbound)
}

func (m *MockTransporter) BetterPath() <-chan struct{} {
	args := m.Called()
	return args.Get(0).(chan struct{})
}

func (m *MockTransporter) Dial(connUrl *url.URL, headers http.Header, ctx context.Context) (err error) {
	args := m.Called()
	return args.Error(0)
}

func (m *MockTransporter) Send(opcode wire.Opcode, payload []byte) error {
	args := m.Called(opcode, payload)
	return args.Error(0)
}

func (m *MockTransporter) Close(reason error) {
	m.Called()
}
