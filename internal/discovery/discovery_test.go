package discovery

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeServer struct{ shutdowns int }

func (s *fakeServer) Shutdown() { s.shutdowns++ }

type registration struct {
	instance, service, domain string
	port                      int
	txt                       []string
}

func withFakeRegister(a *Advertiser, err error) (*fakeServer, *[]registration) {
	srv := &fakeServer{}
	var regs []registration
	a.register = func(instance, service, domain string, port int, txt []string) (server, error) {
		regs = append(regs, registration{instance, service, domain, port, txt})
		if err != nil {
			return nil, err
		}
		return srv, nil
	}
	return srv, &regs
}

func TestInstanceName(t *testing.T) {
	cases := []struct {
		cfg  Config
		want string
	}{
		{cfg: Config{Name: "Desk Phone"}, want: "Desk Phone (Callnode)"},
		{cfg: Config{DeviceName: "Callnode Device"}, want: "Callnode Device"},
		{cfg: Config{Name: "lab callnode", DeviceName: "ignored"}, want: "lab callnode"},
	}
	for _, tc := range cases {
		t.Run(tc.want, func(t *testing.T) {
			assert.Equal(t, tc.want, New(tc.cfg, nil).InstanceName())
		})
	}
	assert.Contains(t, New(Config{}, nil).InstanceName(), "(Callnode)")
}

func TestTXT(t *testing.T) {
	a := New(Config{DeviceID: "device_ab12cd34", DeviceName: "Callnode  Device", AppVersion: "2.0.0", ServerURL: "https://ivr.wxon.in"}, nil)
	txt := a.TXT()
	assert.Contains(t, txt, "role=callnode")
	assert.Contains(t, txt, "deviceId=device_ab12cd34")
	assert.Contains(t, txt, "displayName=Callnode Device")
	assert.Contains(t, txt, "version=2.0.0")
	assert.Contains(t, txt, "server=https://ivr.wxon.in")
}

func TestAdvertiseAndWithdraw(t *testing.T) {
	a := New(Config{DeviceID: "device_1", Port: 8765}, nil)
	srv, regs := withFakeRegister(a, nil)

	require.NoError(t, a.Advertise())
	require.NoError(t, a.Advertise())
	require.Len(t, *regs, 1)
	reg := (*regs)[0]
	assert.Equal(t, DefaultService, reg.service)
	assert.Equal(t, DefaultDomain, reg.domain)
	assert.Equal(t, 8765, reg.port)

	a.Withdraw()
	a.Withdraw()
	assert.Equal(t, 1, srv.shutdowns)

	require.NoError(t, a.Advertise())
	assert.Len(t, *regs, 2)
}

func TestAdvertiseEphemeralPort(t *testing.T) {
	a := New(Config{}, nil)
	_, regs := withFakeRegister(a, nil)
	require.NoError(t, a.Advertise())
	defer a.Withdraw()
	require.Len(t, *regs, 1)
	assert.Greater(t, (*regs)[0].port, 0)
	assert.NotNil(t, a.listener)
}

func TestAdvertiseFailureReleasesListener(t *testing.T) {
	a := New(Config{}, nil)
	withFakeRegister(a, errors.New("no multicast"))
	err := a.Advertise()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no multicast")
	assert.Nil(t, a.listener)
	assert.Nil(t, a.server)
}
