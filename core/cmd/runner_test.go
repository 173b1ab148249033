package cmd

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreconfig "github.com/m3rciful/pizzabot/core/config"
	coretelegram "github.com/m3rciful/pizzabot/core/telegram"
)

type carrier struct{ cfg *coreconfig.Config }

func (c carrier) CoreConfig() *coreconfig.Config { return c.cfg }

type fakeApp struct {
	runErr error
	ran    bool
	closed bool
}

func (a *fakeApp) Run(context.Context) error { a.ran = true; return a.runErr }
func (a *fakeApp) Close() error            { a.closed = true; return nil }

func TestRunLifecycle(t *testing.T) {
	app := &fakeApp{runErr: context.Canceled}
	err := Run(Options{
		ConfigEnvVar:      "PIZZABOT_TEST_CONFIG",
		DefaultConfigPath: "config.yaml",
		LoadConfig: func(path string) (ConfigCarrier, error) {
			assert.Equal(t, "config.yaml", path)
			return carrier{cfg: &coreconfig.Config{}}, nil
		},
		Bootstrap:      func(context.Context, ConfigCarrier) (App, error) { return app, nil },
		ShutdownLogger: func() error { return nil },
	})
	require.NoError(t, err)
	assert.True(t, app.ran)
	assert.True(t, app.closed)
}

func TestRunPropagatesErrors(t *testing.T) {
	err := Run(Options{})
	assert.Error(t, err)

	err = Run(Options{
		DefaultConfigPath: "config.yaml",
		LoadConfig:        func(string) (ConfigCarrier, error) { return carrier{}, nil },
		Bootstrap:         func(context.Context, ConfigCarrier) (App, error) { return &fakeApp{}, nil },
	})
	assert.ErrorContains(t, err, "missing core configuration")

	boom := errors.New("boom")
	err = Run(Options{
		DefaultConfigPath: "config.yaml",
		LoadConfig:        func(string) (ConfigCarrier, error) { return carrier{cfg: &coreconfig.Config{}}, nil },
		Bootstrap:         func(context.Context, ConfigCarrier) (App, error) { return &fakeApp{runErr: boom}, nil },
		ShutdownLogger:    func() error { return nil },
	})
	assert.ErrorIs(t, err, boom)
}

func TestTelegramAppClosesInReverse(t *testing.T) {
	var order []int
	app := &TelegramApp{
		Runner: func(context.Context, coretelegram.RunOptions) error { return nil },
		Closers: []func() error{
			func() error { order = append(order, 1); return nil },
			nil,
			func() error { order = append(order, 3); return errors.New("x") },
		},
	}
	require.NoError(t, app.Run(context.Background()))
	assert.Error(t, app.Close())
	assert.Equal(t, []int{3, 1}, order)
}
