package registry

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/na4wx/nexdigi/internal/callsign"
	"github.com/na4wx/nexdigi/internal/coordinator"
	"github.com/na4wx/nexdigi/internal/wire"
)

type fakeSender struct {
	raw  []wire.Packet
	data []dataCall
}

type dataCall struct {
	destination callsign.Callsign
	payload     []byte
	opts        coordinator.SendOptions
}

func (f *fakeSender) SendRaw(p wire.Packet) (wire.MessageID, error) {
	if p.MessageID.IsZero() {
		p.MessageID = wire.NewMessageID()
	}
	f.raw = append(f.raw, p)
	return p.MessageID, nil
}

func (f *fakeSender) SendData(destination callsign.Callsign, payload []byte, opts coordinator.SendOptions) (wire.MessageID, error) {
	f.data = append(f.data, dataCall{destination: destination, payload: payload, opts: opts})
	return wire.NewMessageID(), nil
}

func TestRegisterUserPersistsAndBroadcasts(t *testing.T) {
	fs := afero.NewMemMapFs()
	send := &fakeSender{}
	r, err := New(callsign.MustParse("NA4WX"), fs, "/var/lib/nexdigi/registry.json", send, zerolog.Nop())
	require.NoError(t, err)

	user := callsign.MustParse("W1ABC")
	home := callsign.MustParse("NA4WX")
	require.NoError(t, r.RegisterUser(user, home, []string{"bbs"}))

	got, ok := r.GetUserHomeNode(user)
	require.True(t, ok)
	require.Equal(t, home, got)

	require.Len(t, send.raw, 1)
	require.Equal(t, wire.TypeRegistryUpdate, send.raw[0].Type)

	exists, err := afero.Exists(fs, "/var/lib/nexdigi/registry.json")
	require.NoError(t, err)
	require.True(t, exists)
}

func TestNewLoadsExistingFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	send := &fakeSender{}

	seed := `[{"callsign":"W1ABC","homeNode":"NA4WX","timestamp":"2026-01-01T00:00:00Z","services":["bbs"]}]`
	require.NoError(t, afero.WriteFile(fs, "/registry.json", []byte(seed), 0o644))

	r, err := New(callsign.MustParse("NA4WX"), fs, "/registry.json", send, zerolog.Nop())
	require.NoError(t, err)

	home, ok := r.GetUserHomeNode(callsign.MustParse("W1ABC"))
	require.True(t, ok)
	require.Equal(t, callsign.MustParse("NA4WX"), home)
}

func TestHandleRegistryUpdateIgnoresStaleEntry(t *testing.T) {
	fs := afero.NewMemMapFs()
	send := &fakeSender{}
	r, err := New(callsign.MustParse("NA4WX"), fs, "/registry.json", send, zerolog.Nop())
	require.NoError(t, err)

	user := callsign.MustParse("W1ABC")
	recent := time.Now()
	require.NoError(t, r.RegisterUser(user, callsign.MustParse("NA4WX"), nil))

	stalePacket := wire.New(wire.TypeRegistryUpdate, callsign.MustParse("HUB"), callsign.MustParse("NA4WX"))
	stalePacket.Payload = []byte(`{"fromNode":"HUB","timestamp":"2020-01-01T00:00:00Z","users":[{"callsign":"W1ABC","homeNode":"K2XYZ","timestamp":"2020-01-01T00:00:00Z","services":[]}]}`)
	require.NoError(t, r.HandleRegistryUpdate(stalePacket))

	home, ok := r.GetUserHomeNode(user)
	require.True(t, ok)
	require.Equal(t, callsign.MustParse("NA4WX"), home, "stale registry_update must not overwrite a newer local record")
	_ = recent
}

func TestForwarderUsesRegistryAndSender(t *testing.T) {
	fs := afero.NewMemMapFs()
	send := &fakeSender{}
	r, err := New(callsign.MustParse("NA4WX"), fs, "/registry.json", send, zerolog.Nop())
	require.NoError(t, err)

	user := callsign.MustParse("W1ABC")
	require.NoError(t, r.RegisterUser(user, callsign.MustParse("K2XYZ"), []string{"winlink"}))

	fwd := NewForwarder(r, send)
	home, ok := fwd.GetUserHomeNode(user)
	require.True(t, ok)
	require.Equal(t, callsign.MustParse("K2XYZ"), home)

	_, err = fwd.SendData(home, []byte("mail for W1ABC"), true)
	require.NoError(t, err)
	require.Len(t, send.data, 1)
	require.True(t, send.data[0].opts.RequireAck)
}
