package restriction

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sobhihamadi/TakwaFortress-sub000/internal/domain"
)

type call struct {
	action string
	layer  string
	cmd    Command
}

type recordingDriver struct {
	calls []call
	fail  map[string]error
}

func (d *recordingDriver) Apply(_ context.Context, layer string, cmd Command) error {
	d.calls = append(d.calls, call{"apply", layer, cmd})
	return d.fail[layer]
}

func (d *recordingDriver) Remove(_ context.Context, layer string, cmd Command) error {
	d.calls = append(d.calls, call{"remove", layer, cmd})
	return d.fail[layer]
}

func testParams() Params {
	return Params{
		DeviceID:       "dev-1",
		SelfPackage:    domain.SelfPackage,
		Hidden:         []string{"com.tiktok"},
		Suspended:      []string{"com.android.chrome"},
		Browsers:       []string{"com.android.chrome", "org.mozilla.firefox"},
		ManagedBrowser: domain.ManagedBrowser,
		DNSHost:        "family.adguard-dns.com",
	}
}

func TestNewSet_LayerCommands(t *testing.T) {
	d := &recordingDriver{}
	set := NewSet(d)
	ctx := context.Background()
	p := testParams()

	require.NoError(t, set.UninstallBlock.Apply(ctx, p))
	require.NoError(t, set.HideApps.Apply(ctx, p))
	require.NoError(t, set.SuspendApps.Apply(ctx, p))
	require.NoError(t, set.AutoTime.Apply(ctx, p))
	require.NoError(t, set.DeviceRestrictions.Apply(ctx, p))

	require.Len(t, d.calls, 5)
	assert.Equal(t, []string{domain.SelfPackage}, d.calls[0].cmd.Packages)
	assert.Equal(t, []string{"com.tiktok"}, d.calls[1].cmd.Packages)
	assert.Equal(t, []string{"com.android.chrome"}, d.calls[2].cmd.Packages)
	assert.Empty(t, d.calls[3].cmd.Packages)
	assert.Contains(t, d.calls[4].cmd.Restrictions, "no_factory_reset")
	assert.Contains(t, d.calls[4].cmd.Restrictions, "no_safe_boot")
	for _, c := range d.calls {
		assert.Equal(t, "dev-1", c.cmd.DeviceID)
	}
}

func TestComposite_ApplyRunsEverySubLayer(t *testing.T) {
	d := &recordingDriver{fail: map[string]error{
		FilterDNS:        errors.New("private dns rejected"),
		FilterSuspension: errors.New("package not found"),
	}}
	set := NewSet(d)

	err := set.ContentFilter.Apply(context.Background(), testParams())
	require.Error(t, err)

	var layerErrs domain.LayerErrors
	require.ErrorAs(t, err, &layerErrs)
	assert.Equal(t, []string{FilterDNS, FilterSuspension}, layerErrs.Layers())

	var names []string
	for _, c := range d.calls {
		names = append(names, c.layer)
	}
	assert.Equal(t, []string{FilterDNS, FilterBrowser, FilterSuspension}, names)
	assert.Equal(t, "family.adguard-dns.com", d.calls[0].cmd.DNSHost)
	assert.Equal(t, domain.ManagedBrowser, d.calls[1].cmd.ManagedBrowser)
}

func TestComposite_RemoveSuccess(t *testing.T) {
	d := &recordingDriver{}
	set := NewSet(d)

	require.NoError(t, set.ContentFilter.Remove(context.Background(), testParams()))
	assert.Len(t, d.calls, 3)
	for _, c := range d.calls {
		assert.Equal(t, "remove", c.action)
	}
}

func TestFlatten(t *testing.T) {
	assert.Nil(t, Flatten(AutoTime, nil))

	plain := Flatten(AutoTime, errors.New("denied"))
	assert.Equal(t, []string{AutoTime}, plain.Layers())

	nested := domain.LayerErrors{{Layer: FilterDNS, Err: errors.New("x")}}
	assert.Equal(t, []string{FilterDNS}, Flatten(ContentFilter, nested).Layers())
}
